package gateway

import "sync"

// Dispatcher is the interface used by services to notify clients of
// permission, role and presence changes. Delivery is best effort.
type Dispatcher interface {
	DispatchToServer(serverID, event string, data any)
	DispatchToUser(uid, event string, data any)
}

// Noop drops every event. It is used when no broker is configured.
type Noop struct{}

func (Noop) DispatchToServer(string, string, any) {}
func (Noop) DispatchToUser(string, string, any) {}

// Dispatched is one event captured by a Recorder.
type Dispatched struct {
	Target string // server id or uid
	ToUser bool
	Event  string
	Data   any
}

// Recorder keeps every dispatched event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Dispatched
}

func (r *Recorder) DispatchToServer(serverID, event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Dispatched{Target: serverID, Event: event, Data: data})
}

func (r *Recorder) DispatchToUser(uid, event string, data any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Dispatched{Target: uid, ToUser: true, Event: event, Data: data})
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Dispatched {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Dispatched(nil), r.events...)
}

// Named returns the recorded events with the given name.
func (r *Recorder) Named(event string) []Dispatched {
	var out []Dispatched
	for _, d := range r.Events() {
		if d.Event == event {
			out = append(out, d)
		}
	}
	return out
}

// Reset forgets every recorded event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
