// Package maintenance runs the retention purge off the request path.
package maintenance

import (
	"context"
	"time"

	"hipaa-training/internal/observability"
)

const DefaultInterval = time.Hour

type Scheduler struct {
	purger   Purger
	logger   *observability.Logger
	interval time.Duration
}

func NewScheduler(purger Purger, logger *observability.Logger, interval time.Duration) *Scheduler {
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{purger: purger, logger: logger, interval: interval}
}

// Run purges once at start and then every interval until ctx is cancelled.
// Purge errors are logged and do not stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	result, err := s.purger.PurgeExpired(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Error("retention_purge_failed", map[string]any{"error": err.Error(), "trigger": "schedule"})
		observability.CaptureError("maintenance", err)
		return
	}
	logResult(s.logger, "schedule", result)
}
