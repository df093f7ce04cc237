// Package queue implements the durable per-conversation work queue. Items
// are FIFO within a conversation key, with at most one item per key in
// flight system-wide. All claiming, retrying and crash recovery is expressed
// as conditional updates against the work_items table, so any number of
// worker processes can share one database without extra coordination.
package queue

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultLeaseDuration bounds how long a crashed worker can hold a key
// before another worker reclaims the item.
const DefaultLeaseDuration = 60 * time.Second

// ErrCancelled is delivered to waiters of items removed by Cancel.
var ErrCancelled = errors.New("queue: item cancelled")

// PermanentError marks a handler failure as non-retryable. Wrapping an error
// in it sends the item straight to failed without consuming further retry
// budget (malformed payload, conversation deleted, and similar).
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as non-retryable.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}

// Queue is the durable work queue and lease manager.
type Queue struct {
	db      *gorm.DB
	owner   string
	lease   time.Duration
	seq     atomic.Int64
	mu      sync.Mutex
	waiters map[string][]chan error
}

// Opts holds parameters for creating a Queue.
type Opts struct {
	DB            *gorm.DB
	Owner         string        // worker identity recorded on leases
	LeaseDuration time.Duration // defaults to DefaultLeaseDuration
}

// New creates a Queue. The per-key sequence counter is seeded from the
// highest persisted sequence so ordering survives restarts.
func New(opts Opts) (*Queue, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("queue: db is required")
	}
	if opts.Owner == "" {
		return nil, fmt.Errorf("queue: owner is required")
	}
	lease := opts.LeaseDuration
	if lease <= 0 {
		lease = DefaultLeaseDuration
	}
	q := &Queue{
		db:      opts.DB,
		owner:   opts.Owner,
		lease:   lease,
		waiters: make(map[string][]chan error),
	}
	var maxSeq int64
	if err := opts.DB.Model(&models.WorkItem{}).
		Select("COALESCE(MAX(seq), 0)").Scan(&maxSeq).Error; err != nil {
		return nil, fmt.Errorf("queue: seed sequence: %w", err)
	}
	q.seq.Store(maxSeq)
	return q, nil
}

// EnqueueOpts holds optional parameters for Enqueue.
type EnqueueOpts struct {
	TenantID   string
	Priority   int
	MaxRetries int
	NotBefore  *time.Time
}

// Enqueue durably persists a pending item and returns its id. The item is
// committed before Enqueue returns; an accepted item is never lost.
func (q *Queue) Enqueue(conversationKey, payload string, opts EnqueueOpts) (string, error) {
	if conversationKey == "" {
		return "", fmt.Errorf("queue: conversation key is required")
	}
	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	item := models.WorkItem{
		ID:              uuid.NewString(),
		TenantID:        opts.TenantID,
		ConversationKey: conversationKey,
		Payload:         payload,
		Status:          models.StatusPending,
		Priority:        opts.Priority,
		MaxRetries:      maxRetries,
		Seq:             q.seq.Add(1),
		NotBefore:       opts.NotBefore,
	}
	if err := q.db.Create(&item).Error; err != nil {
		return "", fmt.Errorf("queue: enqueue for %s: %w", conversationKey, err)
	}
	return item.ID, nil
}

// AcquireNext atomically claims the next runnable pending item whose
// conversation key has no live lease and is not in excludedKeys. The claimed
// item moves to processing with a fresh lease. Returns an error wrapping
// gorm.ErrRecordNotFound when nothing is claimable.
//
// Key selection is (priority DESC, seq ASC); within one key the seq ordering
// makes drain order strict creation order, because a key never has more than
// one item processing at a time.
func (q *Queue) AcquireNext(excludedKeys []string) (*models.WorkItem, error) {
	var claimed models.WorkItem

	err := q.db.Transaction(func(tx *gorm.DB) error {
		now := time.Now()

		// Subquery: keys that already hold a live lease.
		leasedSub := tx.Model(&models.WorkItem{}).
			Select("conversation_key").
			Where("status = ?", models.StatusProcessing)

		query := tx.Where("status = ?", models.StatusPending).
			Where("not_before IS NULL OR not_before <= ?", now).
			Where("conversation_key NOT IN (?)", leasedSub)
		if len(excludedKeys) > 0 {
			query = query.Where("conversation_key NOT IN ?", excludedKeys)
		}

		// SKIP LOCKED needs a row-locking engine; sqlite serializes the
		// whole transaction and has no FOR UPDATE grammar.
		if tx.Dialector.Name() == "mysql" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		result := query.
			Order("priority DESC, seq ASC").
			Limit(1).
			Find(&claimed)
		if result.Error != nil {
			return fmt.Errorf("find pending item: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("no claimable items: %w", gorm.ErrRecordNotFound)
		}

		// The leased-keys subquery is a snapshot read: a concurrent worker
		// may be promoting another item for this key right now, invisible
		// until it commits. Re-check with a blocking locking read so the
		// check waits that transaction out and sees its outcome. sqlite
		// serializes writers, so the plain read is already authoritative.
		recheck := tx.Model(&models.WorkItem{}).
			Where("conversation_key = ? AND status = ?", claimed.ConversationKey, models.StatusProcessing)
		if tx.Dialector.Name() == "mysql" {
			recheck = recheck.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var inFlight int64
		if err := recheck.Count(&inFlight).Error; err != nil {
			return fmt.Errorf("recheck key %s: %w", claimed.ConversationKey, err)
		}
		if inFlight > 0 {
			return fmt.Errorf("key %s already in flight: %w", claimed.ConversationKey, gorm.ErrRecordNotFound)
		}

		expires := now.Add(q.lease)
		update := tx.Model(&models.WorkItem{}).
			Where("id = ? AND status = ?", claimed.ID, models.StatusPending).
			Updates(map[string]interface{}{
				"status":                models.StatusProcessing,
				"locked_by":             q.owner,
				"processing_started_at": now,
				"lease_expires_at":      expires,
			})
		if update.Error != nil {
			return fmt.Errorf("lease item %s: %w", claimed.ID, update.Error)
		}
		if update.RowsAffected == 0 {
			// Another worker won the race between select and update.
			return fmt.Errorf("item %s claimed concurrently: %w", claimed.ID, gorm.ErrRecordNotFound)
		}

		claimed.Status = models.StatusProcessing
		claimed.LockedBy = q.owner
		claimed.ProcessingStartedAt = &now
		claimed.LeaseExpiresAt = &expires
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("queue: acquire: %w", err)
	}
	return &claimed, nil
}

// Complete removes a finished item and resolves its waiters.
func (q *Queue) Complete(itemID string) error {
	result := q.db.Where("id = ? AND status = ?", itemID, models.StatusProcessing).
		Delete(&models.WorkItem{})
	if result.Error != nil {
		return fmt.Errorf("queue: complete %s: %w", itemID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("queue: complete %s: not processing", itemID)
	}
	q.notifyWaiters(itemID, nil)
	return nil
}

// Fail records a handler failure. Retryable failures below the retry budget
// return the item to pending with its lease cleared; permanent failures and
// exhausted budgets land it in failed, retained for diagnostics until the
// purge sweep.
func (q *Queue) Fail(itemID string, handlerErr error) error {
	var terminal bool
	err := q.db.Transaction(func(tx *gorm.DB) error {
		var item models.WorkItem
		if err := tx.Where("id = ? AND status = ?", itemID, models.StatusProcessing).
			First(&item).Error; err != nil {
			return fmt.Errorf("load item: %w", err)
		}

		msg := ""
		if handlerErr != nil {
			msg = handlerErr.Error()
		}

		if IsPermanent(handlerErr) || item.RetryCount >= item.MaxRetries {
			terminal = true
			return tx.Model(&item).Updates(map[string]interface{}{
				"status":                models.StatusFailed,
				"last_error":            msg,
				"locked_by":             "",
				"lease_expires_at":      nil,
				"processing_started_at": nil,
			}).Error
		}

		// Back off before the retry becomes runnable again.
		backoff := time.Now().Add(time.Duration(item.RetryCount+1) * 2 * time.Second)
		return tx.Model(&item).Updates(map[string]interface{}{
			"status":                models.StatusPending,
			"retry_count":           item.RetryCount + 1,
			"last_error":            msg,
			"locked_by":             "",
			"lease_expires_at":      nil,
			"processing_started_at": nil,
			"not_before":            backoff,
		}).Error
	})
	if err != nil {
		return fmt.Errorf("queue: fail %s: %w", itemID, err)
	}
	if terminal {
		q.notifyWaiters(itemID, handlerErr)
	}
	return nil
}

// ReclaimExpiredLeases resets processing items whose lease has lapsed back
// to pending. This is the crash-recovery path; it runs before each
// scheduling round and on a periodic sweep. Returns the number reclaimed.
func (q *Queue) ReclaimExpiredLeases() (int64, error) {
	result := q.db.Model(&models.WorkItem{}).
		Where("status = ? AND lease_expires_at < ?", models.StatusProcessing, time.Now()).
		Updates(map[string]interface{}{
			"status":                models.StatusPending,
			"locked_by":             "",
			"lease_expires_at":      nil,
			"processing_started_at": nil,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("queue: reclaim leases: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		log.Printf("queue: reclaimed %d expired leases", result.RowsAffected)
	}
	return result.RowsAffected, nil
}

// Cancel marks all pending items for a conversation key cancelled and
// rejects their waiters. An item already processing runs to completion;
// cancellation is not preemptive.
func (q *Queue) Cancel(conversationKey string) error {
	var ids []string
	err := q.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.WorkItem{}).
			Where("conversation_key = ? AND status = ?", conversationKey, models.StatusPending).
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("list pending: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		return tx.Model(&models.WorkItem{}).
			Where("id IN ?", ids).
			Update("status", models.StatusCancelled).Error
	})
	if err != nil {
		return fmt.Errorf("queue: cancel %s: %w", conversationKey, err)
	}
	for _, id := range ids {
		q.notifyWaiters(id, ErrCancelled)
	}
	return nil
}

// Wait returns a channel that resolves when the item reaches a terminal
// state: nil on completion, the handler error on terminal failure,
// ErrCancelled on cancellation. Items already terminal resolve immediately.
func (q *Queue) Wait(itemID string) <-chan error {
	ch := make(chan error, 1)

	var item models.WorkItem
	err := q.db.Select("id, status, last_error").Where("id = ?", itemID).First(&item).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		// Completed items are deleted; treat missing as done.
		ch <- nil
		return ch
	case err != nil:
		ch <- fmt.Errorf("queue: wait %s: %w", itemID, err)
		return ch
	}

	switch item.Status {
	case models.StatusFailed:
		ch <- errors.New(item.LastError)
		return ch
	case models.StatusCancelled:
		ch <- ErrCancelled
		return ch
	}

	q.mu.Lock()
	q.waiters[itemID] = append(q.waiters[itemID], ch)
	q.mu.Unlock()
	return ch
}

// notifyWaiters resolves and clears all waiters for an item.
func (q *Queue) notifyWaiters(itemID string, err error) {
	q.mu.Lock()
	chans := q.waiters[itemID]
	delete(q.waiters, itemID)
	q.mu.Unlock()
	for _, ch := range chans {
		ch <- err
	}
}

// PurgeTerminal deletes failed and cancelled items older than the retention
// window. Failed rows are kept around only for operator diagnostics.
func (q *Queue) PurgeTerminal(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention)
	result := q.db.Where("status IN ? AND updated_at < ?",
		[]string{models.StatusFailed, models.StatusCancelled}, cutoff).
		Delete(&models.WorkItem{})
	if result.Error != nil {
		return 0, fmt.Errorf("queue: purge terminal: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// CountByStatus returns item counts grouped by status.
func (q *Queue) CountByStatus() (map[string]int64, error) {
	type row struct {
		Status string
		N      int64
	}
	var rows []row
	if err := q.db.Model(&models.WorkItem{}).
		Select("status, COUNT(*) AS n").
		Group("status").
		Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("queue: count by status: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}
