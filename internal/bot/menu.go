package bot

import (
	"fmt"
	"strconv"
	"strings"
)

// Menu step layout: step 0 awaits the choice, step 1 is finished.

// MenuDialog asks a contact which sector their conversation should reach
// when the tenant has more than one. The choice is handed back to the
// coordinator, which runs the chosen sector's assignment chain.
type MenuDialog struct{}

// menuData is the dialog payload.
type menuData struct {
	Options []string `json:"options"`
}

// NewMenuDialog creates a MenuDialog.
func NewMenuDialog() *MenuDialog { return &MenuDialog{} }

func (d *MenuDialog) Kind() Kind { return KindMenu }

// ShouldActivate fires when the contact can reach more than one sector.
func (d *MenuDialog) ShouldActivate(ctx StartContext) bool {
	return len(ctx.Sectors) > 1
}

func (d *MenuDialog) TerminalStep(step int) bool { return step >= 1 }

// Start records the sector options and returns the numbered menu.
func (d *MenuDialog) Start(sess *Session, ctx StartContext) (string, error) {
	if len(ctx.Sectors) == 0 {
		return "", fmt.Errorf("bot: menu: no sectors to offer")
	}
	sess.Step = 0
	if err := sess.EncodeData(&menuData{Options: ctx.Sectors}); err != nil {
		return "", err
	}
	return formatMenu(ctx.Sectors), nil
}

// RecoverContext rebuilds the start inputs from the recorded options so a
// manual reset can re-render the menu.
func (d *MenuDialog) RecoverContext(sess *Session) StartContext {
	var data menuData
	_ = sess.DecodeData(&data)
	return StartContext{TenantID: sess.TenantID, Sectors: data.Options}
}

// Advance parses a 1-based option number. Anything else re-prompts.
func (d *MenuDialog) Advance(sess *Session, input string) (Action, error) {
	var data menuData
	if err := sess.DecodeData(&data); err != nil {
		return Action{}, err
	}

	choice, err := strconv.Atoi(strings.TrimSpace(input))
	if err != nil || choice < 1 || choice > len(data.Options) {
		return Action{Reply: "Please reply with the number of one of the options.\n" + formatMenu(data.Options)}, nil
	}

	sess.Step = 1
	return Action{
		Advanced: true,
		Terminal: true,
		Handoff:  true,
		Sector:   data.Options[choice-1],
	}, nil
}

// formatMenu renders the numbered sector list.
func formatMenu(options []string) string {
	var b strings.Builder
	b.WriteString("Which department do you need? Reply with a number:\n")
	for i, opt := range options {
		fmt.Fprintf(&b, "%d. %s\n", i+1, opt)
	}
	return strings.TrimRight(b.String(), "\n")
}
