/*
scheduler.go - Automated expiry sweep scheduler

PURPOSE:
  Periodically moves leads past their claim deadline to expired so they stop
  showing up as open. Claims never depend on the sweep having run: the
  engine checks the deadline itself.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Sweeps once immediately on start
  - A failed sweep is logged and retried at the next tick; the sweep is
    idempotent so overlapping or repeated runs are harmless

CONFIGURATION:
  - CheckInterval: How often to sweep (default: 1 hour, [sweeper] interval)
  - Enabled: Whether the scheduler runs at all ([sweeper] enabled)

USAGE:
  scheduler := NewExpiryScheduler(engine)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go:            TriggerSweep endpoint (manual sweep)
  - marketplace/expiry.go:  SweepExpired
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"
)

// Sweeper is the engine surface the scheduler drives.
type Sweeper interface {
	SweepExpired(ctx context.Context) (int, error)
}

// ExpiryScheduler runs the expiry sweep on a ticker.
type ExpiryScheduler struct {
	Sweeper       Sweeper
	CheckInterval time.Duration
	Enabled       bool

	ticker  *time.Ticker
	stop    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	lastRun time.Time
}

// NewExpiryScheduler creates a new scheduler.
func NewExpiryScheduler(sweeper Sweeper) *ExpiryScheduler {
	return &ExpiryScheduler{
		Sweeper:       sweeper,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
	}
}

// Start begins the scheduler.
func (es *ExpiryScheduler) Start() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.Enabled {
		log.Println("[Sweeper] Disabled, not starting")
		return
	}
	if es.ticker != nil {
		return
	}
	if es.CheckInterval <= 0 {
		es.CheckInterval = time.Hour
	}

	es.ticker = time.NewTicker(es.CheckInterval)
	es.stop = make(chan struct{})
	es.wg.Add(1)

	go es.run(es.ticker, es.stop)

	log.Printf("[Sweeper] Started with check interval: %v", es.CheckInterval)
}

// Stop stops the scheduler and waits for an in-flight sweep.
func (es *ExpiryScheduler) Stop() {
	es.mu.Lock()
	ticker, stop := es.ticker, es.stop
	es.ticker = nil
	es.mu.Unlock()

	if ticker == nil {
		return
	}
	ticker.Stop()
	close(stop)
	// RunNow takes es.mu, so wait without holding it.
	es.wg.Wait()
	log.Println("[Sweeper] Stopped")
}

func (es *ExpiryScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer es.wg.Done()

	// Run immediately on start
	es.RunNow(context.Background())

	for {
		select {
		case <-ticker.C:
			es.RunNow(context.Background())
		case <-stop:
			return
		}
	}
}

// RunNow sweeps immediately and returns the number of leads expired.
func (es *ExpiryScheduler) RunNow(ctx context.Context) (int, error) {
	n, err := es.Sweeper.SweepExpired(ctx)
	if err != nil {
		log.Printf("[Sweeper] Sweep failed, retrying next tick: %v", err)
		return 0, err
	}

	es.mu.Lock()
	es.lastRun = time.Now()
	es.mu.Unlock()
	return n, nil
}

// LastRun returns when the last successful sweep finished.
func (es *ExpiryScheduler) LastRun() time.Time {
	es.mu.Lock()
	defer es.mu.Unlock()
	return es.lastRun
}
