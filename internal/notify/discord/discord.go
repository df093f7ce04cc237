// Package discord implements the notify.Broadcaster for Discord.
package discord

import (
	"context"
	"fmt"

	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/notify"
	"github.com/bwmarrin/discordgo"
)

// discordSession abstracts the discordgo methods we use, enabling test mocks.
type discordSession interface {
	ChannelMessageSendEmbed(channelID string, embed *discordgo.MessageEmbed, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// Broadcaster posts events to a Discord channel.
type Broadcaster struct {
	session        discordSession
	defaultChannel string
}

// Opts holds parameters for creating a Discord Broadcaster.
type Opts struct {
	Token          string
	DefaultChannel string
	// For testing: inject a mock session instead of a real gateway session.
	Session discordSession
}

// New creates a Discord Broadcaster.
func New(opts Opts) (*Broadcaster, error) {
	session := opts.Session
	if session == nil {
		if opts.Token == "" {
			return nil, fmt.Errorf("discord: token is required")
		}
		dg, err := discordgo.New("Bot " + opts.Token)
		if err != nil {
			return nil, fmt.Errorf("discord: create session: %w", err)
		}
		session = dg
	}
	return &Broadcaster{session: session, defaultChannel: opts.DefaultChannel}, nil
}

// Broadcast posts the event as an embed.
func (b *Broadcaster) Broadcast(ctx context.Context, ev notify.Event) error {
	channel := ev.Room
	if channel == "" {
		channel = b.defaultChannel
	}
	if channel == "" {
		return fmt.Errorf("discord: no channel for event %s", ev.Kind)
	}

	embed := &discordgo.MessageEmbed{
		Title:       ev.Title,
		Description: ev.Body,
		Color:       colorFor(ev.Kind),
		Footer:      &discordgo.MessageEmbedFooter{Text: ev.TenantID},
	}
	if _, err := b.session.ChannelMessageSendEmbed(channel, embed); err != nil {
		return fmt.Errorf("discord: send to %s: %w", channel, err)
	}
	return nil
}

func colorFor(kind string) int {
	switch kind {
	case "escalation", "work_failed":
		return 0xd00000
	case "new_conversation":
		return 0x36a64f
	default:
		return 0x439fe0
	}
}
