package store

import (
	"context"
	"fmt"

	"github.com/sentialytic/reapears/pkg/config"
	"github.com/sentialytic/reapears/pkg/db"
)

// Open connects the configured backend and creates its schema.
func Open(ctx context.Context, cfg config.StoreConfig) (MessageStore, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		return NewMemoryStore(), nil

	case config.DriverPostgres:
		pool, err := db.OpenPostgres(ctx, cfg.Postgres.ResolveDSN())
		if err != nil {
			return nil, err
		}
		s := NewPostgresStore(pool)
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
		return s, nil

	case config.DriverScylla:
		session, err := db.NewScyllaSession(cfg.Scylla.Hosts, cfg.Scylla.Keyspace,
			db.WithConsistency(cfg.Scylla.Consistency), db.WithTimeout(cfg.Scylla.Timeout))
		if err != nil {
			return nil, err
		}
		s := NewScyllaStore(session)
		if err := s.Migrate(ctx); err != nil {
			session.Close()
			return nil, err
		}
		return s, nil

	default:
		return nil, fmt.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
