// Package pgstore implements docstore.Store on a PostgreSQL JSONB table.
// Change feeds use LISTEN/NOTIFY; the schema lives in migrations/.
package pgstore

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/victorivanov/rolesync/internal/docstore"
)

const (
	notifyChannel  = "document_changes"
	reconnectDelay = 2 * time.Second
)

// NewPool opens a pgx pool.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parsing database url")
	}
	config.MaxConns = 20
	config.MinConns = 2
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to postgres")
	}
	return pool, nil
}

type subscriber struct {
	collection string
	ch         chan docstore.ChangeEvent
}

// Store is a docstore.Store over the documents table.
type Store struct {
	pool *pgxpool.Pool

	mu         sync.Mutex
	subs       map[*subscriber]struct{}
	listening  bool
	stopListen context.CancelFunc
	listenerWG sync.WaitGroup
}

// New wraps an open pool. The pool is closed by Close.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, subs: make(map[*subscriber]struct{})}
}

var _ docstore.Store = (*Store)(nil)

func (s *Store) Read(ctx context.Context, path string) (docstore.Document, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM documents WHERE path = $1`, path).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, docstore.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	return unmarshal(raw)
}

func (s *Store) Write(ctx context.Context, path string, update docstore.Document) error {
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		return upsert(ctx, tx, path, update, false)
	})
	return errors.Wrapf(err, "writing %s", path)
}

func (s *Store) BatchWrite(ctx context.Context, mutations []docstore.Mutation) error {
	if len(mutations) == 0 {
		return nil
	}
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, m := range mutations {
			if m.Delete {
				if _, err := tx.Exec(ctx, `DELETE FROM documents WHERE path = $1`, m.Path); err != nil {
					return errors.Wrapf(err, "deleting %s", m.Path)
				}
				continue
			}
			if err := upsert(ctx, tx, m.Path, m.Update, m.MustExist); err != nil {
				return err
			}
		}
		return nil
	})
	return errors.Wrapf(err, "batch of %d", len(mutations))
}

func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE path = $1`, path)
	return errors.Wrapf(err, "deleting %s", path)
}

func (s *Store) List(ctx context.Context, collection string, filters ...docstore.Filter) ([]docstore.Snapshot, error) {
	query := `SELECT path, data FROM documents WHERE collection = $1`
	args := []any{collection}

	if contains := containment(filters); contains != nil {
		raw, err := json.Marshal(contains)
		if err != nil {
			return nil, errors.Wrap(err, "encoding filter")
		}
		query += ` AND data @> $2::jsonb`
		args = append(args, string(raw))
	}
	query += ` ORDER BY path`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", collection)
	}
	defer rows.Close()

	var out []docstore.Snapshot
	for rows.Next() {
		var (
			path string
			raw  []byte
		)
		if err := rows.Scan(&path, &raw); err != nil {
			return nil, errors.Wrapf(err, "scanning %s", collection)
		}
		doc, err := unmarshal(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, docstore.Snapshot{Path: path, Data: doc})
	}
	return out, errors.Wrapf(rows.Err(), "listing %s", collection)
}

// Subscribe registers a subscriber on the shared LISTEN connection, starting
// it on first use.
func (s *Store) Subscribe(ctx context.Context, collection string) (<-chan docstore.ChangeEvent, error) {
	sub := &subscriber{collection: collection, ch: make(chan docstore.ChangeEvent, docstore.SubscriberBuffer)}

	s.mu.Lock()
	s.subs[sub] = struct{}{}
	if !s.listening {
		listenCtx, cancel := context.WithCancel(context.Background())
		s.stopListen = cancel
		s.listening = true
		s.listenerWG.Add(1)
		go s.listen(listenCtx)
	}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		if _, ok := s.subs[sub]; ok {
			delete(s.subs, sub)
			close(sub.ch)
		}
		s.mu.Unlock()
	}()

	return sub.ch, nil
}

// Close stops the listener, closes every subscription and the pool.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.stopListen != nil {
		s.stopListen()
	}
	s.mu.Unlock()
	s.listenerWG.Wait()

	s.mu.Lock()
	for sub := range s.subs {
		delete(s.subs, sub)
		close(sub.ch)
	}
	s.mu.Unlock()

	s.pool.Close()
	return nil
}

func (s *Store) listen(ctx context.Context) {
	defer s.listenerWG.Done()

	for ctx.Err() == nil {
		if err := s.listenOnce(ctx); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Msg("document change listener dropped, reconnecting")
			select {
			case <-ctx.Done():
			case <-time.After(reconnectDelay):
			}
		}
	}
}

func (s *Store) listenOnce(ctx context.Context) error {
	pooled, err := s.pool.Acquire(ctx)
	if err != nil {
		return errors.Wrap(err, "acquiring listen connection")
	}
	// A LISTENing connection must not go back to the pool.
	conn := pooled.Hijack()
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		return errors.Wrap(err, "listen")
	}

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return errors.Wrap(err, "waiting for notification")
		}
		var payload struct {
			Op   string `json:"op"`
			Path string `json:"path"`
		}
		if err := json.Unmarshal([]byte(n.Payload), &payload); err != nil {
			log.Warn().Err(err).Str("payload", n.Payload).Msg("malformed document change payload")
			continue
		}
		s.dispatch(ctx, payload.Op, payload.Path)
	}
}

func (s *Store) dispatch(ctx context.Context, op, path string) {
	s.mu.Lock()
	interested := false
	for sub := range s.subs {
		if docstore.Watches(sub.collection, path) {
			interested = true
			break
		}
	}
	s.mu.Unlock()
	if !interested {
		return
	}

	ev := docstore.ChangeEvent{Type: docstore.ChangeDelete, Path: path}
	if op != "delete" {
		doc, err := s.Read(ctx, path)
		switch {
		case errors.Is(err, docstore.ErrNotFound):
			// deleted again before we got to it; its delete notification follows
			return
		case err != nil:
			log.Warn().Err(err).Str("path", path).Msg("reading changed document")
			return
		}
		ev = docstore.ChangeEvent{Type: docstore.ChangeUpsert, Path: path, Data: doc}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		if !docstore.Watches(sub.collection, path) {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			docstore.Dropped("postgres", path)
		}
	}
}

// upsert merges update into the row at path under a row lock. With
// mustExist a missing row is left missing.
func upsert(ctx context.Context, tx pgx.Tx, path string, update docstore.Document, mustExist bool) error {
	var current docstore.Document
	var raw []byte
	err := tx.QueryRow(ctx, `SELECT data FROM documents WHERE path = $1 FOR UPDATE`, path).Scan(&raw)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		if mustExist {
			return nil
		}
	case err != nil:
		return errors.Wrapf(err, "locking %s", path)
	default:
		if current, err = unmarshal(raw); err != nil {
			return err
		}
	}

	merged, err := json.Marshal(docstore.Apply(current, update))
	if err != nil {
		return errors.Wrapf(err, "encoding %s", path)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO documents (path, collection, data, updated_at)
		 VALUES ($1, $2, $3::jsonb, now())
		 ON CONFLICT (path) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		path, docstore.Parent(path), string(merged),
	)
	return errors.Wrapf(err, "upserting %s", path)
}

// containment turns array filters into a JSONB containment document:
// {"roleIds": ["r1"]} matches any document whose roleIds holds "r1".
func containment(filters []docstore.Filter) map[string]any {
	var out map[string]any
	for _, f := range filters {
		if f.ArrayContains == nil {
			continue
		}
		if out == nil {
			out = make(map[string]any)
		}
		if existing, ok := out[f.Field].([]any); ok {
			out[f.Field] = append(existing, f.ArrayContains)
			continue
		}
		out[f.Field] = []any{f.ArrayContains}
	}
	return out
}

func unmarshal(raw []byte) (docstore.Document, error) {
	doc := docstore.Document{}
	if len(raw) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrap(err, "decoding document")
	}
	return doc, nil
}
