package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorivanov/rolesync/internal/database"
	"github.com/victorivanov/rolesync/internal/docstore/memstore"
	"github.com/victorivanov/rolesync/internal/models"
	"github.com/victorivanov/rolesync/internal/redis"
)

type serviceEnv struct {
	svc      *Service
	mr       *miniredis.Miniredis
	store    *memstore.Store
	profiles database.ProfileRepository
	now      time.Time
}

// newServiceEnv wires a Service to miniredis and an in-memory profile store.
// The classifier clock is pinned to wall time at setup, since Redis TTLs
// run on wall time.
func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = client.Close() })

	store := memstore.New()
	profiles := database.NewProfileRepository(store)
	now := time.Now().UTC().Truncate(time.Millisecond)
	classifier := NewClassifier(DefaultConfig()).WithClock(func() time.Time { return now })

	svc := NewService(classifier, client, NewGatewaySource(client), NewProfileSource(profiles))
	return &serviceEnv{svc: svc, mr: mr, store: store, profiles: profiles, now: now}
}

func TestService_NoSignalsIsOffline(t *testing.T) {
	env := newServiceEnv(t)
	assert.Equal(t, Offline, env.svc.Status(context.Background(), "ghost"))
}

func TestService_HeartbeatStatus(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	require.NoError(t, env.svc.Heartbeat(ctx, "u1", "dnd"))
	assert.Equal(t, Busy, env.svc.Status(ctx, "u1"))

	require.NoError(t, env.svc.Heartbeat(ctx, "u1", ""))
	assert.Equal(t, Online, env.svc.Status(ctx, "u1"))

	// without a status, the last-seen stamp still counts as recent activity
	require.NoError(t, env.svc.Disconnect(ctx, "u1"))
	assert.Equal(t, Online, env.svc.Status(ctx, "u1"))
}

func TestService_ProfileFlags(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	away := true
	require.NoError(t, env.profiles.Upsert(ctx, &models.Profile{UID: "u1", Away: &away}))
	assert.Equal(t, Idle, env.svc.Status(ctx, "u1"))

	online := true
	require.NoError(t, env.profiles.Upsert(ctx, &models.Profile{UID: "u1", Online: &online}))
	assert.Equal(t, Online, env.svc.Status(ctx, "u1"))
}

func TestService_ProfileRecency(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()

	require.NoError(t, env.profiles.Touch(ctx, "u1", env.now.Add(-45*time.Minute)))
	assert.Equal(t, Idle, env.svc.Status(ctx, "u1"))

	require.NoError(t, env.profiles.Touch(ctx, "u2", env.now.Add(-3*time.Hour)))
	assert.Equal(t, Offline, env.svc.Status(ctx, "u2"))
}

func TestService_OverrideWins(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	online := true
	require.NoError(t, env.profiles.Upsert(ctx, &models.Profile{UID: "u1", Online: &online}))

	require.NoError(t, env.svc.SetOverride(ctx, "u1", Busy, env.now.Add(time.Hour)))
	assert.Equal(t, Busy, env.svc.Status(ctx, "u1"))

	require.NoError(t, env.svc.ClearOverride(ctx, "u1"))
	assert.Equal(t, Online, env.svc.Status(ctx, "u1"))

	require.NoError(t, env.svc.SetOverride(ctx, "u1", Idle, env.now.Add(-time.Minute)))
	assert.Equal(t, Online, env.svc.Status(ctx, "u1"), "expired override is ignored")

	err := env.svc.SetOverride(ctx, "u1", State("away"), env.now.Add(time.Hour))
	assert.ErrorIs(t, err, ErrInvalidState)
}

type failingSource struct{}

func (failingSource) Name() string { return "broken" }
func (failingSource) Signals(context.Context, string) ([]Signal, error) {
	return nil, errors.New("unavailable")
}

func TestService_FailingSourceIsSkipped(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	require.NoError(t, env.svc.Heartbeat(ctx, "u1", "idle"))

	svc := NewService(env.svc.Classifier(), nil, failingSource{}, env.svc.sources[0])
	assert.Equal(t, Idle, svc.Status(ctx, "u1"))

	assert.Error(t, svc.Heartbeat(ctx, "u1", "online"), "no redis for writes")
}

func TestService_RedisDown(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	away := true
	require.NoError(t, env.profiles.Upsert(ctx, &models.Profile{UID: "u1", Away: &away}))

	env.mr.SetError("LOADING redis is loading the dataset")
	assert.Equal(t, Idle, env.svc.Status(ctx, "u1"), "profile still classifies")
}
