package bot

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"time"
)

// Kind tags a dialog variant. Sessions carry the tag so the engine can
// dispatch (kind, step) to the right handler after a restart.
type Kind int

const (
	KindMenu     Kind = 1 // choose-destination menu
	KindSurvey   Kind = 2 // satisfaction survey
	KindIdentity Kind = 3 // customer identity linking
)

// ErrNoSession is returned by Advance when no session exists for the key.
var ErrNoSession = errors.New("bot: no session for conversation")

// Action is a dialog's reaction to one input.
type Action struct {
	Reply             string // message to send back (empty = nothing)
	Advanced          bool   // state moved forward; persist beyond LastActivityAt
	Terminal          bool   // dialog finished; destroy the session
	CloseConversation bool
	CloseReason       string
	Handoff           bool   // hand the conversation to the routing pipeline
	Sector            string // sector chosen by the menu dialog
}

// Outcome reports the result of an Advance to the coordinator.
type Outcome struct {
	Terminal bool
	Handoff  bool
	Sector   string
}

// StartContext carries the inputs a dialog may need to initialize.
type StartContext struct {
	TenantID  string
	ContactID uint
	Sectors   []string // reachable sectors (menu dialog options)
}

// Dialog is one automated dialog variant. Implementations differ only in
// these methods; the engine owns no knowledge of concrete dialog types.
type Dialog interface {
	Kind() Kind

	// ShouldActivate reports whether this dialog wants to drive a fresh
	// bot-owned conversation in the given context.
	ShouldActivate(ctx StartContext) bool

	// Start initializes a fresh session and returns the opening prompt.
	Start(sess *Session, ctx StartContext) (string, error)

	// Advance processes one input for the session's current step. Invalid
	// input must re-prompt without advancing and without mutating state
	// beyond LastActivityAt.
	Advance(sess *Session, input string) (Action, error)

	// TerminalStep reports whether step is a terminal step for this dialog.
	TerminalStep(step int) bool
}

// Actions is the engine's outward surface: prompt delivery and the side
// effects terminal steps and escalations trigger. The distribution
// coordinator implements it; prompt delivery goes through the work queue,
// never directly to a provider.
type Actions interface {
	SendPrompt(tenantID, conversationKey, text string) error
	CloseConversation(conversationKey, reason string) error
	Escalate(tenantID, conversationKey, reason string) error
}

// Engine runs dialogs against the session store.
type Engine struct {
	store    *Store
	actions  Actions
	registry map[Kind]Dialog
	timeout  time.Duration // default session inactivity timeout
}

// EngineOpts holds parameters for creating an Engine.
type EngineOpts struct {
	Store          *Store
	Actions        Actions
	Dialogs        []Dialog
	SessionTimeout time.Duration // default per-session inactivity timeout
}

// NewEngine creates an Engine with the given dialogs registered.
func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("bot: engine: store is required")
	}
	if opts.Actions == nil {
		return nil, fmt.Errorf("bot: engine: actions are required")
	}
	if len(opts.Dialogs) == 0 {
		return nil, fmt.Errorf("bot: engine: at least one dialog is required")
	}
	timeout := opts.SessionTimeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	registry := make(map[Kind]Dialog, len(opts.Dialogs))
	for _, d := range opts.Dialogs {
		if _, dup := registry[d.Kind()]; dup {
			return nil, fmt.Errorf("bot: engine: duplicate dialog kind %d", d.Kind())
		}
		registry[d.Kind()] = d
	}
	return &Engine{
		store:    opts.Store,
		actions:  opts.Actions,
		registry: registry,
		timeout:  timeout,
	}, nil
}

// PickDialog returns the first registered dialog (by kind order) that wants
// to drive a conversation in the given context, or nil.
func (e *Engine) PickDialog(ctx StartContext) Dialog {
	kinds := make([]int, 0, len(e.registry))
	for k := range e.registry {
		kinds = append(kinds, int(k))
	}
	sort.Ints(kinds)
	for _, k := range kinds {
		if d := e.registry[Kind(k)]; d.ShouldActivate(ctx) {
			return d
		}
	}
	return nil
}

// HasSession reports whether an active session exists for the key.
func (e *Engine) HasSession(conversationKey string) bool {
	return e.store.Get(conversationKey) != nil
}

// Start creates (or overwrites) a session at the dialog's initial step,
// persists it and emits the opening prompt.
func (e *Engine) Start(conversationKey string, kind Kind, ctx StartContext) error {
	dialog, ok := e.registry[kind]
	if !ok {
		return fmt.Errorf("bot: start %s: unknown dialog kind %d", conversationKey, kind)
	}

	sess := &Session{
		ConversationKey: conversationKey,
		TenantID:        ctx.TenantID,
		Kind:            kind,
		Step:            0,
		Timeout:         e.timeout,
		LastActivityAt:  time.Now(),
	}
	prompt, err := dialog.Start(sess, ctx)
	if err != nil {
		return fmt.Errorf("bot: start %s kind=%d: %w", conversationKey, kind, err)
	}
	e.store.Put(sess)

	if prompt != "" {
		if err := e.actions.SendPrompt(ctx.TenantID, conversationKey, prompt); err != nil {
			return fmt.Errorf("bot: start %s: send prompt: %w", conversationKey, err)
		}
	}
	log.Printf("bot: session started [key=%s kind=%d]", conversationKey, kind)
	return nil
}

// Advance feeds one inbound message to the session's dialog. A message for
// a session already at a terminal step is a no-op: the session must already
// be gone, and a late duplicate must not resurrect or double-close it.
func (e *Engine) Advance(conversationKey, input string) (Outcome, error) {
	sess := e.store.Get(conversationKey)
	if sess == nil {
		return Outcome{}, ErrNoSession
	}

	dialog, ok := e.registry[sess.Kind]
	if !ok {
		e.store.Delete(conversationKey)
		return Outcome{}, fmt.Errorf("bot: advance %s: unknown dialog kind %d", conversationKey, sess.Kind)
	}

	if dialog.TerminalStep(sess.Step) {
		log.Printf("bot: dropping message for finished session [key=%s]", conversationKey)
		return Outcome{Terminal: true}, nil
	}

	sess.LastActivityAt = time.Now()

	action, err := dialog.Advance(sess, input)
	if err != nil {
		// Persist only the activity refresh; the dialog state is untouched.
		e.store.Put(sess)
		return Outcome{}, fmt.Errorf("bot: advance %s: %w", conversationKey, err)
	}

	if action.Terminal {
		e.store.Delete(conversationKey)
	} else {
		e.store.Put(sess)
	}

	if action.Reply != "" {
		if err := e.actions.SendPrompt(sess.TenantID, conversationKey, action.Reply); err != nil {
			log.Printf("bot: send reply [key=%s]: %v", conversationKey, err)
		}
	}
	if action.CloseConversation {
		if err := e.actions.CloseConversation(conversationKey, action.CloseReason); err != nil {
			log.Printf("bot: close conversation [key=%s]: %v", conversationKey, err)
		}
	}

	return Outcome{Terminal: action.Terminal, Handoff: action.Handoff, Sector: action.Sector}, nil
}

// ContextRecoverer is implemented by dialogs whose start inputs live in the
// session payload, letting Reset restart them without outside help.
type ContextRecoverer interface {
	RecoverContext(sess *Session) StartContext
}

// Reset forces the session back to its dialog's initial step and re-emits
// the opening prompt. Manual override for human operators.
func (e *Engine) Reset(conversationKey string) error {
	sess := e.store.Get(conversationKey)
	if sess == nil {
		return ErrNoSession
	}
	ctx := StartContext{TenantID: sess.TenantID}
	if dialog, ok := e.registry[sess.Kind]; ok {
		if r, ok := dialog.(ContextRecoverer); ok {
			ctx = r.RecoverContext(sess)
		}
	}
	return e.Start(conversationKey, sess.Kind, ctx)
}

// SweepIdle escalates and destroys every non-terminal session idle for at
// least its timeout. Returns the keys escalated. A session whose owning
// conversation no longer exists is dropped silently by the Actions
// implementation; errors never stop the sweep.
func (e *Engine) SweepIdle(now time.Time) []string {
	var escalated []string
	for _, sess := range e.store.All() {
		dialog, ok := e.registry[sess.Kind]
		if !ok || dialog.TerminalStep(sess.Step) {
			e.store.Delete(sess.ConversationKey)
			continue
		}
		if now.Sub(sess.LastActivityAt) < sess.Timeout {
			continue
		}

		// Delete first so a slow escalation can never fire twice for one key.
		e.store.Delete(sess.ConversationKey)
		if err := e.actions.Escalate(sess.TenantID, sess.ConversationKey, "bot session timed out"); err != nil {
			log.Printf("bot: escalate idle session [key=%s]: %v", sess.ConversationKey, err)
		}
		escalated = append(escalated, sess.ConversationKey)
	}
	return escalated
}
