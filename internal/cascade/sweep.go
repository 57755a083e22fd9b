package cascade

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/victorivanov/rolesync/internal/database"
)

const sweepLockName = "cascade:repair"

// Locker is a cluster-wide mutex. The Redis client implements it.
type Locker interface {
	AcquireLock(ctx context.Context, name, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, token string) error
}

// Sweeper periodically recomputes every server, converging members whose
// earlier recompute failed or was never triggered.
type Sweeper struct {
	ctrl    *Controller
	servers database.ServerRepository
	locker  Locker
	lockTTL time.Duration
}

// NewSweeper builds a Sweeper. locker may be nil for a single instance.
func NewSweeper(ctrl *Controller, servers database.ServerRepository, locker Locker, lockTTL time.Duration) *Sweeper {
	if lockTTL <= 0 {
		lockTTL = 10 * time.Minute
	}
	return &Sweeper{ctrl: ctrl, servers: servers, locker: locker, lockTTL: lockTTL}
}

// SweepReport totals one sweep.
type SweepReport struct {
	Servers int
	Failed  int
	Skipped bool
	Result
}

// Sweep runs RecomputeAll on every server. A server that fails is logged
// and counted; the sweep carries on. If another instance holds the sweep
// lock the sweep is skipped.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepReport, error) {
	report := &SweepReport{Result: Result{RunID: uuid.NewString(), Trigger: TriggerRecomputeAll}}

	if s.locker != nil {
		token := report.RunID
		ok, err := s.locker.AcquireLock(ctx, sweepLockName, token, s.lockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			report.Skipped = true
			log.Debug().Msg("repair sweep already running elsewhere")
			return report, nil
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.Background(), sweepLockName, token); err != nil {
				log.Warn().Err(err).Msg("releasing repair sweep lock")
			}
		}()
	}

	servers, err := s.servers.List(ctx)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	for _, server := range servers {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Servers++
		res, err := s.ctrl.RecomputeAll(ctx, server.ID)
		if err != nil {
			report.Failed++
			log.Error().Err(err).Str("server", server.ID).Msg("repair sweep failed for server")
		}
		if res != nil {
			report.merge(res)
		}
	}
	report.Duration = time.Since(start)

	log.Info().
		Str("run", report.RunID).
		Int("servers", report.Servers).
		Int("failed", report.Failed).
		Int("updated", report.Updated).
		Int("warnings", len(report.Warnings)).
		Dur("took", report.Duration).
		Msg("repair sweep finished")
	return report, nil
}
