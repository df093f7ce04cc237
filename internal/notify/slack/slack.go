// Package slack implements the notify.Broadcaster for Slack.
package slack

import (
	"context"
	"fmt"

	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/notify"
	slackapi "github.com/slack-go/slack"
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slackapi.MsgOption) (string, string, error)
}

// Broadcaster posts events to a Slack channel.
type Broadcaster struct {
	client         slackClient
	defaultChannel string
}

// Opts holds parameters for creating a Slack Broadcaster.
type Opts struct {
	Token          string
	DefaultChannel string
	// For testing: inject a mock client instead of the real Slack API.
	Client slackClient
}

// New creates a Slack Broadcaster.
func New(opts Opts) (*Broadcaster, error) {
	client := opts.Client
	if client == nil {
		if opts.Token == "" {
			return nil, fmt.Errorf("slack: token is required")
		}
		client = slackapi.New(opts.Token)
	}
	if opts.DefaultChannel == "" && opts.Client == nil {
		return nil, fmt.Errorf("slack: default channel is required")
	}
	return &Broadcaster{client: client, defaultChannel: opts.DefaultChannel}, nil
}

// Broadcast posts the event as an attachment-styled message.
func (b *Broadcaster) Broadcast(ctx context.Context, ev notify.Event) error {
	channel := ev.Room
	if channel == "" {
		channel = b.defaultChannel
	}

	attachment := slackapi.Attachment{
		Title: ev.Title,
		Text:  ev.Body,
		Color: colorFor(ev.Kind),
		Fields: []slackapi.AttachmentField{
			{Title: "Tenant", Value: ev.TenantID, Short: true},
			{Title: "Kind", Value: ev.Kind, Short: true},
		},
	}
	_, _, err := b.client.PostMessageContext(ctx, channel,
		slackapi.MsgOptionAttachments(attachment))
	if err != nil {
		return fmt.Errorf("slack: post to %s: %w", channel, err)
	}
	return nil
}

func colorFor(kind string) string {
	switch kind {
	case "escalation", "work_failed":
		return "#d00000"
	case "new_conversation":
		return "#36a64f"
	default:
		return "#439fe0"
	}
}
