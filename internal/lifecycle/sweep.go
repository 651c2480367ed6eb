package lifecycle

import (
	"context"
	"log/slog"
	"time"
)

// Sweeper drives the engine's time-based transitions on a fixed interval.
// Safe to run in multiple replicas: conditional writes make concurrent
// sweeps converge instead of conflict.
type Sweeper struct {
	engine    *Engine
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

func NewSweeper(engine *Engine, logger *slog.Logger, interval time.Duration, batchSize int) *Sweeper {
	return &Sweeper{
		engine:    engine,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run sweeps until the context is cancelled. Sweep errors are logged and the
// loop continues; the next tick retries from a fresh scan.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			advanced, err := s.engine.SweepOnce(ctx, s.batchSize)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				s.logger.Error("sweep pass failed", "advanced", advanced, "error", err)
				continue
			}
			if advanced > 0 {
				s.logger.Info("sweep pass advanced actions", "advanced", advanced)
			}
		}
	}
}
