package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/victorivanov/rolesync/internal/database"
	"github.com/victorivanov/rolesync/internal/gateway"
)

func TestTracker_PublishesOnChangeOnly(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	rec := &gateway.Recorder{}
	tr := NewTracker(env.svc, rec)

	st, published := tr.Observe(ctx, "u1")
	assert.Equal(t, Offline, st)
	assert.True(t, published, "first observation publishes")

	_, published = tr.Observe(ctx, "u1")
	assert.False(t, published)

	require.NoError(t, env.svc.Heartbeat(ctx, "u1", "online"))
	st, published = tr.Observe(ctx, "u1")
	assert.Equal(t, Online, st)
	assert.True(t, published)

	updates := rec.Named(gateway.EventPresenceUpdate)
	require.Len(t, updates, 2)
	assert.Equal(t, "u1", updates[1].Target)
	assert.True(t, updates[1].ToUser)
	assert.Equal(t, gateway.PresenceUpdateData{UID: "u1", Status: "online"}, updates[1].Data)
}

func TestTracker_Tick(t *testing.T) {
	env := newServiceEnv(t)
	ctx := context.Background()
	tr := NewTracker(env.svc, gateway.Noop{})

	tr.Observe(ctx, "u1")
	tr.Observe(ctx, "u2")
	assert.Equal(t, 0, tr.Tick(ctx))

	require.NoError(t, env.svc.Heartbeat(ctx, "u2", "dnd"))
	assert.Equal(t, 1, tr.Tick(ctx))

	tr.Forget("u1")
	assert.Equal(t, []string{"u2"}, tr.Tracked())
}

func TestTracker_Run(t *testing.T) {
	env := newServiceEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &gateway.Recorder{}
	tr := NewTracker(env.svc, rec)

	done := make(chan error, 1)
	go func() { done <- tr.Run(ctx, env.store, database.UsersCollection) }()

	// the subscription registers asynchronously; keep writing until seen
	require.Eventually(t, func() bool {
		_ = env.profiles.SetStatus(ctx, "u1", "dnd", env.now)
		return len(rec.Named(gateway.EventPresenceUpdate)) > 0
	}, time.Second, 10*time.Millisecond)

	got := rec.Named(gateway.EventPresenceUpdate)[0]
	assert.Equal(t, gateway.PresenceUpdateData{UID: "u1", Status: "busy"}, got.Data)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("tracker did not stop")
	}
}
