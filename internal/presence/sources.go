package presence

import (
	"context"

	"github.com/victorivanov/rolesync/internal/database"
	"github.com/victorivanov/rolesync/internal/redis"
)

// Source supplies presence signals for a user.
type Source interface {
	Name() string
	Signals(ctx context.Context, uid string) ([]Signal, error)
}

// GatewaySource reads heartbeat status, last-seen and the manual override
// kept in Redis.
type GatewaySource struct {
	redis *redis.Client
}

func NewGatewaySource(client *redis.Client) *GatewaySource {
	return &GatewaySource{redis: client}
}

func (s *GatewaySource) Name() string { return "gateway" }

func (s *GatewaySource) Signals(ctx context.Context, uid string) ([]Signal, error) {
	hb, err := s.redis.GetHeartbeat(ctx, uid)
	if err != nil {
		return nil, err
	}
	sig := Signal{Source: s.Name(), LastSeen: hb.LastSeen}
	if hb.Status != "" {
		status := hb.Status
		sig.Status = &status
	}
	if hb.OverrideState != "" {
		state := hb.OverrideState
		sig.ManualState = &state
		sig.ManualExpiry = hb.OverrideExpiry
	}
	return []Signal{sig}, nil
}

// ProfileSource reads the presence fields of the users/{uid} document.
type ProfileSource struct {
	profiles database.ProfileRepository
}

func NewProfileSource(profiles database.ProfileRepository) *ProfileSource {
	return &ProfileSource{profiles: profiles}
}

func (s *ProfileSource) Name() string { return "profile" }

func (s *ProfileSource) Signals(ctx context.Context, uid string) ([]Signal, error) {
	p, err := s.profiles.GetByUID(ctx, uid)
	if err != nil || p == nil {
		return nil, err
	}
	return []Signal{{
		Source:     s.Name(),
		Online:     p.Online,
		Away:       p.Away,
		Status:     p.Status,
		LastActive: p.LastActive,
		LastSeen:   p.LastSeen,
		UpdatedAt:  p.UpdatedAt,
	}}, nil
}
