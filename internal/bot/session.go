// Package bot drives multi-turn automated dialogs (destination menu,
// satisfaction survey, identity linking) with persisted per-conversation
// state, inactivity timeouts and safe hand-off to humans.
package bot

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/models"
	"gorm.io/gorm"
)

// Session is the in-memory automation state for one conversation.
type Session struct {
	ConversationKey string
	TenantID        string
	Kind            Kind
	Step            int
	Data            string // dialog-specific payload, JSON
	Timeout         time.Duration
	LastActivityAt  time.Time
}

// DecodeData unmarshals the dialog payload into v.
func (s *Session) DecodeData(v interface{}) error {
	if s.Data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s.Data), v); err != nil {
		return fmt.Errorf("bot: decode session %s data: %w", s.ConversationKey, err)
	}
	return nil
}

// EncodeData marshals v into the dialog payload.
func (s *Session) EncodeData(v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("bot: encode session %s data: %w", s.ConversationKey, err)
	}
	s.Data = string(raw)
	return nil
}

// Store is a write-behind cache over the bot_session_records table. Reads
// hit memory; mutations schedule a coalesced flush. A crash loses at most
// the last debounce window of state, which can only make a dialog re-ask
// its latest unacknowledged answer.
type Store struct {
	db       *gorm.DB
	debounce time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	dirty    map[string]bool
	deleted  map[string]bool
	timer    *time.Timer
	loaded   bool
}

// DefaultFlushDebounce coalesces session writes.
const DefaultFlushDebounce = 2 * time.Second

// StoreOpts holds parameters for creating a Store.
type StoreOpts struct {
	DB            *gorm.DB
	FlushDebounce time.Duration // defaults to DefaultFlushDebounce
}

// NewStore creates a Store. Call Load before serving traffic.
func NewStore(opts StoreOpts) (*Store, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("bot: store: db is required")
	}
	debounce := opts.FlushDebounce
	if debounce <= 0 {
		debounce = DefaultFlushDebounce
	}
	return &Store{
		db:       opts.DB,
		debounce: debounce,
		sessions: make(map[string]*Session),
		dirty:    make(map[string]bool),
		deleted:  make(map[string]bool),
	}, nil
}

// Load reads the full persisted session set into memory. It must run once,
// before any message is processed by this engine instance.
func (s *Store) Load() error {
	var records []models.BotSessionRecord
	if err := s.db.Find(&records).Error; err != nil {
		return fmt.Errorf("bot: load sessions: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range records {
		s.sessions[r.ConversationKey] = &Session{
			ConversationKey: r.ConversationKey,
			TenantID:        r.TenantID,
			Kind:            Kind(r.Kind),
			Step:            r.Step,
			Data:            r.Data,
			Timeout:         time.Duration(r.TimeoutMs) * time.Millisecond,
			LastActivityAt:  r.LastActivityAt,
		}
	}
	s.loaded = true
	log.Printf("bot: loaded %d sessions", len(records))
	return nil
}

// Get returns a copy of the session for key, or nil.
func (s *Store) Get(key string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[key]
	if !ok {
		return nil
	}
	cp := *sess
	return &cp
}

// Put stores the session in memory and schedules a flush.
func (s *Store) Put(sess *Session) {
	cp := *sess
	s.mu.Lock()
	s.sessions[cp.ConversationKey] = &cp
	s.dirty[cp.ConversationKey] = true
	delete(s.deleted, cp.ConversationKey)
	s.scheduleFlushLocked()
	s.mu.Unlock()
}

// Delete removes the session from memory and schedules removal of its row.
func (s *Store) Delete(key string) {
	s.mu.Lock()
	delete(s.sessions, key)
	delete(s.dirty, key)
	s.deleted[key] = true
	s.scheduleFlushLocked()
	s.mu.Unlock()
}

// All returns copies of every live session.
func (s *Store) All() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	return out
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// scheduleFlushLocked arms the debounce timer if it is not already pending.
// Caller holds s.mu.
func (s *Store) scheduleFlushLocked() {
	if s.timer != nil {
		return
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		if err := s.Flush(); err != nil {
			log.Printf("bot: flush error: %v", err)
		}
	})
}

// Flush writes all dirty sessions and deletes tombstoned rows immediately.
// Keys whose write fails stay marked for the next flush. Safe to call at
// shutdown.
func (s *Store) Flush() error {
	s.mu.Lock()
	s.timer = nil
	var toSave []models.BotSessionRecord
	for key := range s.dirty {
		sess, ok := s.sessions[key]
		if !ok {
			continue
		}
		toSave = append(toSave, models.BotSessionRecord{
			ConversationKey: sess.ConversationKey,
			TenantID:        sess.TenantID,
			Kind:            int(sess.Kind),
			Step:            sess.Step,
			Data:            sess.Data,
			TimeoutMs:       sess.Timeout.Milliseconds(),
			LastActivityAt:  sess.LastActivityAt,
		})
	}
	var toDelete []string
	for key := range s.deleted {
		toDelete = append(toDelete, key)
	}
	s.dirty = make(map[string]bool)
	s.deleted = make(map[string]bool)
	s.mu.Unlock()

	var failedSaves, failedDeletes []string
	var firstErr error
	for i := range toSave {
		if err := s.db.Save(&toSave[i]).Error; err != nil {
			failedSaves = append(failedSaves, toSave[i].ConversationKey)
			if firstErr == nil {
				firstErr = fmt.Errorf("bot: flush session %s: %w", toSave[i].ConversationKey, err)
			}
		}
	}
	if len(toDelete) > 0 {
		if err := s.db.Where("conversation_key IN ?", toDelete).
			Delete(&models.BotSessionRecord{}).Error; err != nil {
			failedDeletes = toDelete
			if firstErr == nil {
				firstErr = fmt.Errorf("bot: flush deletions: %w", err)
			}
		}
	}
	if firstErr != nil {
		// Put the failed keys back and re-arm the debounce so a transient
		// write error only delays persistence, never loses it.
		s.mu.Lock()
		for _, key := range failedSaves {
			if _, live := s.sessions[key]; live {
				s.dirty[key] = true
			}
		}
		for _, key := range failedDeletes {
			// A session recreated since the tombstone was taken wins.
			if _, live := s.sessions[key]; !live {
				s.deleted[key] = true
			}
		}
		s.scheduleFlushLocked()
		s.mu.Unlock()
	}
	return firstErr
}
