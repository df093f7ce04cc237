package bot

import (
	"context"
	"fmt"
	"log"
	"time"
)

// DefaultWatchdogInterval is the sweep cadence for idle sessions.
const DefaultWatchdogInterval = 60 * time.Second

// Watchdog periodically sweeps the engine for idle sessions, escalating and
// destroying each one exactly once. It must keep running whatever a single
// session's escalation does, including when the owning conversation has
// already been deleted externally.
type Watchdog struct {
	engine   *Engine
	interval time.Duration
}

// WatchdogOpts holds parameters for creating a Watchdog.
type WatchdogOpts struct {
	Engine   *Engine
	Interval time.Duration // defaults to DefaultWatchdogInterval
}

// NewWatchdog creates a Watchdog.
func NewWatchdog(opts WatchdogOpts) (*Watchdog, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("bot: watchdog: engine is required")
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultWatchdogInterval
	}
	return &Watchdog{engine: opts.Engine, interval: interval}, nil
}

// Run sweeps on the configured interval until ctx is cancelled.
func (w *Watchdog) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep()
		}
	}
}

// Sweep runs one idle-session pass.
func (w *Watchdog) Sweep() {
	escalated := w.engine.SweepIdle(time.Now())
	if len(escalated) > 0 {
		log.Printf("bot: watchdog escalated %d idle sessions", len(escalated))
	}
}
