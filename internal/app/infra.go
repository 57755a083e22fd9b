// Package app opens the backing services named by the configuration.
package app

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/victorivanov/rolesync/internal/cascade"
	"github.com/victorivanov/rolesync/internal/config"
	"github.com/victorivanov/rolesync/internal/docstore"
	"github.com/victorivanov/rolesync/internal/docstore/memstore"
	"github.com/victorivanov/rolesync/internal/docstore/mongostore"
	"github.com/victorivanov/rolesync/internal/docstore/pgstore"
	"github.com/victorivanov/rolesync/internal/gateway"
	"github.com/victorivanov/rolesync/internal/redis"
)

// Infra is every external connection the process holds. Redis and NATS
// are nil when not configured.
type Infra struct {
	Store      docstore.Store
	Redis      *redis.Client
	NATS       *gateway.NATSDispatcher
	Dispatcher gateway.Dispatcher
}

// OpenStore connects the configured document store.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (docstore.Store, error) {
	switch cfg.Driver {
	case "memory":
		log.Warn().Msg("using the in-memory document store; data is lost on exit")
		return memstore.New(), nil
	case "postgres":
		pool, err := pgstore.NewPool(ctx, cfg.PostgresURL)
		if err != nil {
			return nil, err
		}
		return pgstore.New(pool), nil
	case "mongo":
		return mongostore.Connect(ctx, mongostore.Config{URI: cfg.MongoURI, Database: cfg.MongoDatabase})
	}
	return nil, errors.Errorf("unknown store driver %q", cfg.Driver)
}

// Open connects everything cfg names. On error whatever was already opened
// is closed.
func Open(ctx context.Context, cfg *config.Config) (*Infra, error) {
	infra := &Infra{Dispatcher: gateway.Noop{}}

	store, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, errors.Wrap(err, "opening document store")
	}
	infra.Store = store

	if cfg.Redis.URL != "" {
		infra.Redis, err = redis.NewClient(cfg.Redis.URL)
		if err != nil {
			infra.Close()
			return nil, err
		}
	} else {
		log.Warn().Msg("redis not configured; rate limiting, presence writes and the sweep lock are off")
	}

	if cfg.NATS.URL != "" {
		infra.NATS, err = gateway.ConnectNATS(gateway.NATSConfig{URL: cfg.NATS.URL, Name: cfg.NATS.Name})
		if err != nil {
			infra.Close()
			return nil, err
		}
		infra.Dispatcher = infra.NATS
	}
	return infra, nil
}

// Locker returns the sweep lock, or nil without Redis.
func (i *Infra) Locker() cascade.Locker {
	if i.Redis == nil {
		return nil
	}
	return i.Redis
}

// StorePing probes the store with a read of a document that never exists.
func (i *Infra) StorePing(ctx context.Context) error {
	_, err := i.Store.Read(ctx, "health/probe")
	if err == nil || errors.Is(err, docstore.ErrNotFound) {
		return nil
	}
	return err
}

func (i *Infra) Close() {
	if i.NATS != nil {
		if err := i.NATS.Close(); err != nil {
			log.Warn().Err(err).Msg("closing nats")
		}
	}
	if i.Redis != nil {
		if err := i.Redis.Close(); err != nil {
			log.Warn().Err(err).Msg("closing redis")
		}
	}
	if i.Store != nil {
		if err := i.Store.Close(); err != nil {
			log.Warn().Err(err).Msg("closing document store")
		}
	}
}
