package send

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockSender implements Sender for testing. It records sent messages and
// can be primed to fail a number of times per key.
type MockSender struct {
	mu       sync.Mutex
	sent     []SentMessage
	failures map[string]int // key -> remaining failures
	permFail map[string]bool
	counter  int
}

// SentMessage is one recorded delivery.
type SentMessage struct {
	ConversationKey string
	Message         Message
}

// NewMockSender creates a MockSender.
func NewMockSender() *MockSender {
	return &MockSender{
		failures: make(map[string]int),
		permFail: make(map[string]bool),
	}
}

// FailNext makes the next n sends for key return a transient error.
func (m *MockSender) FailNext(key string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[key] = n
}

// FailAlways makes every send for key return an error.
func (m *MockSender) FailAlways(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.permFail[key] = true
}

// Send records the message, honoring primed failures.
func (m *MockSender) Send(ctx context.Context, conversationKey string, msg Message) (SentRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.permFail[conversationKey] {
		return SentRef{}, fmt.Errorf("mock sender: send to %s failed", conversationKey)
	}
	if n := m.failures[conversationKey]; n > 0 {
		m.failures[conversationKey] = n - 1
		return SentRef{}, fmt.Errorf("mock sender: transient failure for %s", conversationKey)
	}

	m.counter++
	m.sent = append(m.sent, SentMessage{ConversationKey: conversationKey, Message: msg})
	return SentRef{ProviderID: fmt.Sprintf("mock-%d", m.counter), SentAt: time.Now()}, nil
}

// Sent returns a copy of all recorded deliveries.
func (m *MockSender) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]SentMessage, len(m.sent))
	copy(cp, m.sent)
	return cp
}

// SentTo returns the texts delivered to one conversation key, in order.
func (m *MockSender) SentTo(key string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var texts []string
	for _, s := range m.sent {
		if s.ConversationKey == key {
			texts = append(texts, s.Message.Text)
		}
	}
	return texts
}
