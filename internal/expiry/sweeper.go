package expiry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Repairer rewrites cached items whose status has fallen behind their expiry
// date and reports how many it repaired.
type Repairer interface {
	RepairExpired(ctx context.Context) int
}

// Sweeper periodically runs a Repairer so expired items converge even when
// nothing reads them.
type Sweeper struct {
	mu       sync.RWMutex
	repairer Repairer
	interval time.Duration
	logger   *slog.Logger
	cancel   context.CancelFunc
	done     chan struct{}
}

func NewSweeper(repairer Repairer, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		repairer: repairer,
		interval: interval,
		logger:   logger.With("component", "expiry_sweeper"),
	}
}

// Start begins the sweep loop. The first sweep runs immediately.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.sweep(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// Stop halts the loop and waits for an in-progress sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	if n := s.repairer.RepairExpired(ctx); n > 0 {
		s.logger.Info("repaired expired items", "count", n)
	}
}
