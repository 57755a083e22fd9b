// Package memstore is an in-process docstore.Store. It backs the test
// suites and the "memory" store driver.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/victorivanov/rolesync/internal/docstore"
)

type subscriber struct {
	collection string
	ch         chan docstore.ChangeEvent
}

// Store keeps documents in a map guarded by one mutex, so every write and
// batch is atomic.
type Store struct {
	mu   sync.RWMutex
	docs map[string]docstore.Document

	subMu sync.Mutex
	subs  map[*subscriber]struct{}
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		docs: make(map[string]docstore.Document),
		subs: make(map[*subscriber]struct{}),
	}
}

var _ docstore.Store = (*Store)(nil)

func (s *Store) Read(_ context.Context, path string) (docstore.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[path]
	if !ok {
		return nil, docstore.ErrNotFound
	}
	return clone(doc), nil
}

func (s *Store) Write(_ context.Context, path string, update docstore.Document) error {
	s.mu.Lock()
	doc := docstore.Apply(s.docs[path], update)
	s.docs[path] = doc
	s.mu.Unlock()

	s.publish(docstore.ChangeEvent{Type: docstore.ChangeUpsert, Path: path, Data: clone(doc)})
	return nil
}

func (s *Store) BatchWrite(_ context.Context, mutations []docstore.Mutation) error {
	events := make([]docstore.ChangeEvent, 0, len(mutations))

	s.mu.Lock()
	for _, m := range mutations {
		if m.Delete {
			delete(s.docs, m.Path)
			events = append(events, docstore.ChangeEvent{Type: docstore.ChangeDelete, Path: m.Path})
			continue
		}
		current, ok := s.docs[m.Path]
		if !ok && m.MustExist {
			continue
		}
		doc := docstore.Apply(current, m.Update)
		s.docs[m.Path] = doc
		events = append(events, docstore.ChangeEvent{Type: docstore.ChangeUpsert, Path: m.Path, Data: clone(doc)})
	}
	s.mu.Unlock()

	for _, ev := range events {
		s.publish(ev)
	}
	return nil
}

func (s *Store) Delete(_ context.Context, path string) error {
	s.mu.Lock()
	_, existed := s.docs[path]
	delete(s.docs, path)
	s.mu.Unlock()

	if existed {
		s.publish(docstore.ChangeEvent{Type: docstore.ChangeDelete, Path: path})
	}
	return nil
}

func (s *Store) List(_ context.Context, collection string, filters ...docstore.Filter) ([]docstore.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []docstore.Snapshot
	for path, doc := range s.docs {
		if docstore.Parent(path) != collection || !docstore.Matches(doc, filters) {
			continue
		}
		out = append(out, docstore.Snapshot{Path: path, Data: clone(doc)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Subscribe registers a buffered subscriber. A subscriber that falls more
// than docstore.SubscriberBuffer events behind loses events, counted in
// docstore.DroppedEvents; consumers treat the feed as a hint and re-read
// state.
func (s *Store) Subscribe(ctx context.Context, collection string) (<-chan docstore.ChangeEvent, error) {
	sub := &subscriber{collection: collection, ch: make(chan docstore.ChangeEvent, docstore.SubscriberBuffer)}

	s.subMu.Lock()
	s.subs[sub] = struct{}{}
	s.subMu.Unlock()

	go func() {
		<-ctx.Done()
		s.subMu.Lock()
		delete(s.subs, sub)
		close(sub.ch)
		s.subMu.Unlock()
	}()

	return sub.ch, nil
}

func (s *Store) Close() error { return nil }

func (s *Store) publish(ev docstore.ChangeEvent) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for sub := range s.subs {
		if !docstore.Watches(sub.collection, ev.Path) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			docstore.Dropped("memory", ev.Path)
		}
	}
}

func clone(doc docstore.Document) docstore.Document {
	if doc == nil {
		return nil
	}
	out := make(docstore.Document, len(doc))
	for k, v := range doc {
		switch t := v.(type) {
		case []any:
			cp := make([]any, len(t))
			copy(cp, t)
			out[k] = cp
		case []string:
			cp := make([]string, len(t))
			copy(cp, t)
			out[k] = cp
		case map[string]bool:
			cp := make(map[string]bool, len(t))
			for mk, mv := range t {
				cp[mk] = mv
			}
			out[k] = cp
		case map[string]any:
			cp := make(map[string]any, len(t))
			for mk, mv := range t {
				cp[mk] = mv
			}
			out[k] = cp
		default:
			out[k] = v
		}
	}
	return out
}
