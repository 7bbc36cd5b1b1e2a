package audit

import (
	"context"
	"errors"
	"time"

	"github.com/holdfast-net/holdfast/internal/logging"
)

// Scheduler runs AuditAll at a caller-chosen cadence. The engine itself
// imposes no cadence; constructing a scheduler without an explicit interval
// is an error.
type Scheduler struct {
	engine   *Engine
	interval time.Duration
}

// NewScheduler builds a scheduler auditing every interval.
func NewScheduler(engine *Engine, interval time.Duration) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("audit: scheduler requires an explicit interval")
	}
	return &Scheduler{engine: engine, interval: interval}, nil
}

// Run audits all chunks on each tick until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	logging.Info("audit scheduler started", logging.Duration("interval", s.interval))
	for {
		select {
		case <-ticker.C:
			results := s.engine.AuditAll(ctx)
			healthy := 0
			for _, r := range results {
				if r.Healthy {
					healthy++
				}
			}
			logging.Info("audit sweep complete",
				logging.Int("audited", len(results)),
				logging.Int("healthy", healthy))
		case <-ctx.Done():
			logging.Info("audit scheduler stopped")
			return
		}
	}
}
