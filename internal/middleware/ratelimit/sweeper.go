package ratelimit

import (
	"sync"
	"time"

	"github.com/openmemory/memgate/internal/logging"
	"go.uber.org/zap"
)

// Sweeper periodically deletes expired windows from a Store, bounding
// memory regardless of traffic shape.
type Sweeper struct {
	store    Store
	interval time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

// NewSweeper creates a sweeper for store. It does not start until Start
// is called.
func NewSweeper(store Store, interval time.Duration) *Sweeper {
	return &Sweeper{
		store:    store,
		interval: interval,
		done:     make(chan struct{}),
	}
}

// Start launches the background sweep loop.
func (s *Sweeper) Start() {
	go s.run()
}

// Stop terminates the sweep loop. Safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
	})
}

func (s *Sweeper) run() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if removed := s.store.Sweep(time.Now()); removed > 0 {
				logging.Debug("Swept expired rate-limit windows", zap.Int("removed", removed))
			}
		}
	}
}
