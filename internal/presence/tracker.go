package presence

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/victorivanov/rolesync/internal/docstore"
	"github.com/victorivanov/rolesync/internal/gateway"
)

// Tracker remembers the last published state per user and publishes
// PRESENCE_UPDATE only when it changes.
type Tracker struct {
	service    *Service
	dispatcher gateway.Dispatcher

	mu   sync.Mutex
	last map[string]State
}

func NewTracker(service *Service, dispatcher gateway.Dispatcher) *Tracker {
	return &Tracker{service: service, dispatcher: dispatcher, last: make(map[string]State)}
}

// Observe classifies uid and publishes if the state differs from the last
// one published. The first observation of a user always publishes.
func (t *Tracker) Observe(ctx context.Context, uid string) (State, bool) {
	st := t.service.Status(ctx, uid)

	t.mu.Lock()
	prev, seen := t.last[uid]
	t.last[uid] = st
	t.mu.Unlock()

	if seen && prev == st {
		return st, false
	}
	updatesPublished.Inc()
	t.dispatcher.DispatchToUser(uid, gateway.EventPresenceUpdate, gateway.PresenceUpdateData{UID: uid, Status: string(st)})
	return st, true
}

// Forget stops tracking uid.
func (t *Tracker) Forget(uid string) {
	t.mu.Lock()
	delete(t.last, uid)
	t.mu.Unlock()
}

// Tracked returns the users currently tracked.
func (t *Tracker) Tracked() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.last))
	for uid := range t.last {
		out = append(out, uid)
	}
	return out
}

// Tick re-observes every tracked user, catching recency decay that no
// document change announces. It returns how many states changed.
func (t *Tracker) Tick(ctx context.Context) int {
	changed := 0
	for _, uid := range t.Tracked() {
		if ctx.Err() != nil {
			break
		}
		if _, ok := t.Observe(ctx, uid); ok {
			changed++
		}
	}
	return changed
}

// Run observes users as their profile documents change, until ctx is done.
func (t *Tracker) Run(ctx context.Context, store docstore.Store, collection string) error {
	events, err := store.Subscribe(ctx, collection)
	if err != nil {
		return err
	}
	log.Info().Str("collection", collection).Msg("presence tracker started")
	for ev := range events {
		uid := docstore.Base(ev.Path)
		if ev.Type == docstore.ChangeDelete {
			t.Forget(uid)
			continue
		}
		t.Observe(ctx, uid)
	}
	return ctx.Err()
}
