package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/Infotec-Solution-Provider/whatsapp-service-sub000/internal/models"
	"gorm.io/gorm"
)

// DefaultPollInterval is the pause between worker scheduling rounds.
const DefaultPollInterval = 500 * time.Millisecond

// sendSpacingBase and sendSpacingJitter space out consecutive sends on the
// same conversation to avoid bursty provider-side rate limiting. This is a
// scheduling hint only; it is not persisted and a restart forgets it.
const (
	sendSpacingBase   = 1 * time.Second
	sendSpacingJitter = 2 * time.Second
)

// Handler executes one claimed work item. Returning an error wrapped with
// Permanent marks the item non-retryable; any other error consumes one retry.
type Handler func(ctx context.Context, item *models.WorkItem) error

// Pool polls the queue and executes claimed items concurrently, bounded to
// at most MaxKeys distinct conversation keys in flight at once. One
// conversation's failure never blocks another's.
type Pool struct {
	queue         *Queue
	handler       Handler
	maxKeys       int
	poll          time.Duration
	spacingBase   time.Duration
	spacingJitter time.Duration

	mu       sync.Mutex
	started  bool
	cancel   context.CancelFunc
	loopDone chan struct{}
	inflight map[string]bool      // conversation keys currently executing
	lastDone map[string]time.Time // key -> completion time, for send spacing
	spacing  map[string]time.Duration

	wg sync.WaitGroup
}

// PoolOpts holds parameters for creating a Pool.
type PoolOpts struct {
	Queue        *Queue
	Handler      Handler
	MaxKeys      int           // max concurrent distinct conversation keys
	PollInterval time.Duration // defaults to DefaultPollInterval

	// SendSpacing and SendSpacingJitter override the pause enforced between
	// consecutive executions on one conversation key. Zero means the
	// defaults (sendSpacingBase, sendSpacingJitter).
	SendSpacing       time.Duration
	SendSpacingJitter time.Duration
}

// NewPool creates a worker Pool.
func NewPool(opts PoolOpts) (*Pool, error) {
	if opts.Queue == nil {
		return nil, fmt.Errorf("worker: queue is required")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("worker: handler is required")
	}
	maxKeys := opts.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 8
	}
	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	spacingBase := opts.SendSpacing
	if spacingBase <= 0 {
		spacingBase = sendSpacingBase
	}
	spacingJitter := opts.SendSpacingJitter
	if spacingJitter <= 0 {
		spacingJitter = sendSpacingJitter
	}
	return &Pool{
		queue:         opts.Queue,
		handler:       opts.Handler,
		maxKeys:       maxKeys,
		poll:          poll,
		spacingBase:   spacingBase,
		spacingJitter: spacingJitter,
		inflight:      make(map[string]bool),
		lastDone:      make(map[string]time.Time),
		spacing:       make(map[string]time.Duration),
	}, nil
}

// Start begins the polling loop. A second Start while running is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	loopCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.loopDone = make(chan struct{})
	p.mu.Unlock()

	go p.run(loopCtx)
}

// Stop halts the poll loop and waits for in-flight executions to finish.
// No new executions start after Stop returns.
func (p *Pool) Stop() {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return
	}
	p.started = false
	cancel := p.cancel
	done := p.loopDone
	p.mu.Unlock()

	cancel()
	<-done
	p.wg.Wait()
}

// run is the scheduling loop: each round reclaims expired leases, then
// claims up to the free key slots and executes each claim concurrently.
func (p *Pool) run(ctx context.Context) {
	defer close(p.loopDone)
	ticker := time.NewTicker(p.poll)
	defer ticker.Stop()

	for {
		p.pollOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// pollOnce runs a single scheduling round.
func (p *Pool) pollOnce(ctx context.Context) {
	if _, err := p.queue.ReclaimExpiredLeases(); err != nil {
		log.Printf("worker: reclaim error: %v", err)
	}

	for {
		excluded, free := p.excludedKeys()
		if free <= 0 {
			return
		}

		item, err := p.queue.AcquireNext(excluded)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				log.Printf("worker: acquire error: %v", err)
			}
			return
		}

		p.mu.Lock()
		p.inflight[item.ConversationKey] = true
		p.mu.Unlock()

		p.wg.Add(1)
		go p.execute(ctx, item)
	}
}

// excludedKeys returns the keys the next acquisition must skip (in flight,
// or completed too recently for the send-spacing hint) and how many key
// slots remain free.
func (p *Pool) excludedKeys() ([]string, int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var excluded []string
	for key := range p.inflight {
		excluded = append(excluded, key)
	}
	for key, done := range p.lastDone {
		if now.Sub(done) < p.spacing[key] {
			if !p.inflight[key] {
				excluded = append(excluded, key)
			}
		} else {
			delete(p.lastDone, key)
			delete(p.spacing, key)
		}
	}
	return excluded, p.maxKeys - len(p.inflight)
}

// execute runs the handler for one claimed item, isolating panics and
// funneling failures into the retry/terminal decision.
func (p *Pool) execute(ctx context.Context, item *models.WorkItem) {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		delete(p.inflight, item.ConversationKey)
		p.lastDone[item.ConversationKey] = time.Now()
		p.spacing[item.ConversationKey] = p.spacingBase +
			time.Duration(rand.Int63n(int64(p.spacingJitter)))
		p.mu.Unlock()
	}()

	execCtx, cancel := context.WithTimeout(ctx, p.queue.lease)
	defer cancel()

	err := p.safeHandle(execCtx, item)
	if err == nil {
		if cerr := p.queue.Complete(item.ID); cerr != nil {
			log.Printf("worker: complete %s: %v", item.ID, cerr)
		}
		return
	}

	log.Printf("worker: item %s failed [key=%s attempt=%d]: %v",
		item.ID, item.ConversationKey, item.RetryCount+1, err)
	if ferr := p.queue.Fail(item.ID, err); ferr != nil {
		log.Printf("worker: record failure %s: %v", item.ID, ferr)
	}
}

// safeHandle invokes the handler, converting panics into permanent errors.
func (p *Pool) safeHandle(ctx context.Context, item *models.WorkItem) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("handler panic: %v", r))
		}
	}()
	return p.handler(ctx, item)
}

// InFlight returns the number of conversation keys currently executing.
func (p *Pool) InFlight() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.inflight)
}
