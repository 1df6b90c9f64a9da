package retention

import (
	"context"
	"math/rand"
	"time"

	"github.com/verity-sec/verity/pkg/obs"
)

// Scheduler runs the purge on a jittered interval until the context is
// canceled. Jitter keeps replicas that started together from scanning
// in lockstep.
type Scheduler struct {
	Purger   *Purger
	Interval time.Duration
	Jitter   time.Duration
	Logger   obs.Logger
}

// Run blocks until ctx is canceled. The first purge fires after one
// (jittered) interval, not immediately, so startup is not penalized.
func (s *Scheduler) Run(ctx context.Context) error {
	logger := s.Logger
	if logger == nil {
		logger = obs.NewNoopLogger()
	}

	for {
		delay := s.Interval
		if s.Jitter > 0 {
			delay += time.Duration(rand.Int63n(int64(s.Jitter)))
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		stats, err := s.Purger.Run(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logger.Error(ctx, "retention purge failed", map[string]any{"error": err.Error()})
			continue
		}
		if stats.Scanned > 0 {
			logger.Info(ctx, "retention purge completed", map[string]any{
				"scanned":  stats.Scanned,
				"redacted": stats.Redacted,
				"held":     stats.Held,
			})
		}
	}
}
