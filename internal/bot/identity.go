package bot

import (
	"fmt"
	"strings"

	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/store"
)

// Identity step layout: step 0 awaits the customer code, step 1 awaits the
// confirmation, step 2 is finished.

// IdentityDialog links a contact to a customer directory record: ask for a
// customer code, look it up, confirm the match, then hand the conversation
// to a human.
type IdentityDialog struct {
	directory store.CustomerDirectory
}

// identityData is the dialog payload.
type identityData struct {
	ContactID     uint   `json:"contact_id"`
	CandidateID   string `json:"candidate_id"`
	CandidateName string `json:"candidate_name"`
}

// NewIdentityDialog creates an IdentityDialog.
func NewIdentityDialog(directory store.CustomerDirectory) (*IdentityDialog, error) {
	if directory == nil {
		return nil, fmt.Errorf("bot: identity: directory is required")
	}
	return &IdentityDialog{directory: directory}, nil
}

func (d *IdentityDialog) Kind() Kind { return KindIdentity }

// ShouldActivate is always false: identity linking is started explicitly by
// an operator or a tenant flow, never inferred from an inbound message.
func (d *IdentityDialog) ShouldActivate(ctx StartContext) bool { return false }

func (d *IdentityDialog) TerminalStep(step int) bool { return step >= 2 }

// Start records the contact and asks for the customer code.
func (d *IdentityDialog) Start(sess *Session, ctx StartContext) (string, error) {
	sess.Step = 0
	if err := sess.EncodeData(&identityData{ContactID: ctx.ContactID}); err != nil {
		return "", err
	}
	return "Please tell me your customer code so I can find your registration.", nil
}

// RecoverContext rebuilds the start inputs from the recorded contact so a
// manual reset restarts the flow for the same person.
func (d *IdentityDialog) RecoverContext(sess *Session) StartContext {
	var data identityData
	_ = sess.DecodeData(&data)
	return StartContext{TenantID: sess.TenantID, ContactID: data.ContactID}
}

// Advance drives the lookup-then-confirm flow.
func (d *IdentityDialog) Advance(sess *Session, input string) (Action, error) {
	var data identityData
	if err := sess.DecodeData(&data); err != nil {
		return Action{}, err
	}

	switch sess.Step {
	case 0:
		code := strings.TrimSpace(input)
		if code == "" {
			return Action{Reply: "I didn't catch that. What is your customer code?"}, nil
		}
		id, name, ok, err := d.directory.LookupCustomer(sess.TenantID, code)
		if err != nil {
			return Action{}, fmt.Errorf("lookup customer: %w", err)
		}
		if !ok {
			return Action{Reply: fmt.Sprintf("I couldn't find a registration for %q. Please check the code and try again.", code)}, nil
		}

		data.CandidateID = id
		data.CandidateName = name
		sess.Step = 1
		if err := sess.EncodeData(&data); err != nil {
			return Action{}, err
		}
		return Action{
			Advanced: true,
			Reply:    fmt.Sprintf("I found %s. Is that you? (yes/no)", name),
		}, nil

	case 1:
		switch strings.ToLower(strings.TrimSpace(input)) {
		case "yes", "y", "sim", "s":
			if err := d.directory.LinkContact(data.ContactID, data.CandidateID); err != nil {
				return Action{}, fmt.Errorf("link contact: %w", err)
			}
			sess.Step = 2
			return Action{
				Advanced: true,
				Terminal: true,
				Handoff:  true,
				Reply:    "Thanks! Your registration is linked. Connecting you to an attendant.",
			}, nil
		case "no", "n", "nao", "não":
			// Back to the code step; the candidate is discarded.
			data.CandidateID = ""
			data.CandidateName = ""
			sess.Step = 0
			if err := sess.EncodeData(&data); err != nil {
				return Action{}, err
			}
			return Action{Advanced: true, Reply: "No problem. What is your customer code?"}, nil
		default:
			return Action{Reply: "Please answer yes or no."}, nil
		}
	}
	return Action{}, fmt.Errorf("bot: identity: unexpected step %d", sess.Step)
}
