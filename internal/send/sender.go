// Package send defines the outbound message capability the worker pool
// executes against. Each messaging provider (cloud API, browser automation)
// implements Sender without leaking provider types upward; the core only
// ever sees this interface.
package send

import (
	"context"
	"time"
)

// Message is a rendered outbound message, ready for a provider.
type Message struct {
	Text     string
	Template string // optional provider template identifier
}

// SentRef identifies a delivered message on the provider side.
type SentRef struct {
	ProviderID string
	SentAt     time.Time
}

// Sender delivers one message to the conversation's channel. Invoked only
// from inside worker pool executions; implementations may block on network
// I/O but must respect ctx.
type Sender interface {
	Send(ctx context.Context, conversationKey string, msg Message) (SentRef, error)
}
