package jobs

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/victorivanov/rolesync/internal/cascade"
	"github.com/victorivanov/rolesync/internal/presence"
)

const (
	RepairSweep  = "repair-sweep"
	PresenceTick = "presence-tick"
)

// Sweep adapts a repair sweep to a Job.
func Sweep(s *cascade.Sweeper) Job {
	return func(ctx context.Context) error {
		_, err := s.Sweep(ctx)
		return err
	}
}

// Tick re-observes every tracked user so recency decay gets published.
func Tick(t *presence.Tracker) Job {
	return func(ctx context.Context) error {
		if changed := t.Tick(ctx); changed > 0 {
			log.Debug().Int("changed", changed).Msg("presence tick")
		}
		return ctx.Err()
	}
}
