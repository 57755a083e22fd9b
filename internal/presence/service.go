package presence

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/victorivanov/rolesync/internal/redis"
)

// ErrInvalidState is returned for an override naming an unknown state.
var ErrInvalidState = errors.New("invalid presence state")

// Service classifies a user's presence from every configured source and
// writes gateway-side presence through Redis.
type Service struct {
	classifier *Classifier
	sources    []Source
	redis      *redis.Client
}

// NewService builds a Service. client may be nil when only read-side
// sources are used; writes then fail.
func NewService(classifier *Classifier, client *redis.Client, sources ...Source) *Service {
	return &Service{classifier: classifier, sources: sources, redis: client}
}

// Classifier returns the classifier the service uses.
func (s *Service) Classifier() *Classifier { return s.classifier }

// Signals gathers every source's signals. A failing source is logged and
// skipped.
func (s *Service) Signals(ctx context.Context, uid string) []Signal {
	var out []Signal
	for _, src := range s.sources {
		sigs, err := src.Signals(ctx, uid)
		if err != nil {
			sourceErrors.WithLabelValues(src.Name()).Inc()
			log.Warn().Err(err).Str("uid", uid).Str("source", src.Name()).Msg("presence source failed")
			continue
		}
		out = append(out, sigs...)
	}
	return out
}

// Status classifies uid. It never fails; with no usable signal the user is
// offline.
func (s *Service) Status(ctx context.Context, uid string) State {
	st := s.classifier.Classify(s.Signals(ctx, uid))
	classifications.WithLabelValues(string(st)).Inc()
	return st
}

// SetOverride pins uid to state until expiry. An expiry in the past clears
// any override.
func (s *Service) SetOverride(ctx context.Context, uid string, state State, expiry time.Time) error {
	if _, ok := ParseState(string(state)); !ok {
		return ErrInvalidState
	}
	if s.redis == nil {
		return errors.New("presence writes need redis")
	}
	if !s.classifier.Now().Before(expiry) {
		return s.redis.ClearOverride(ctx, uid)
	}
	return s.redis.SetOverride(ctx, uid, string(state), expiry)
}

// ClearOverride drops a manual state.
func (s *Service) ClearOverride(ctx context.Context, uid string) error {
	if s.redis == nil {
		return errors.New("presence writes need redis")
	}
	return s.redis.ClearOverride(ctx, uid)
}

// Heartbeat records that uid's client is connected and reports status.
// An empty status means plain online.
func (s *Service) Heartbeat(ctx context.Context, uid, status string) error {
	if s.redis == nil {
		return errors.New("presence writes need redis")
	}
	if status == "" {
		status = string(Online)
	}
	return s.redis.SetPresence(ctx, uid, status, s.classifier.Now())
}

// Disconnect drops the heartbeat status, leaving last-seen for recency.
func (s *Service) Disconnect(ctx context.Context, uid string) error {
	if s.redis == nil {
		return errors.New("presence writes need redis")
	}
	return s.redis.DeletePresence(ctx, uid)
}
