package server

import (
	"context"
	"fmt"

	"github.com/dmvault/dmvault/internal/config"
	"github.com/dmvault/dmvault/internal/domain/encounter"
	"github.com/dmvault/dmvault/internal/platform/db"
	"github.com/dmvault/dmvault/migrations"
)

// Store is the encounter repository selected by STORE_DRIVER together with
// its health probe.
type Store struct {
	Repo  encounter.Repository
	Probe db.Probe
	close func()
}

func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStore connects to the configured backend. SQLite databases are
// migrated on open; Postgres expects `migrate up` to have been run.
func OpenStore(ctx context.Context, cfg *config.Config) (*Store, error) {
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pool, err := db.NewPool(ctx, db.PoolConfig{
			URL:      cfg.DatabaseURL,
			MaxConns: cfg.DBMaxConns,
			MinConns: cfg.DBMinConns,
		})
		if err != nil {
			return nil, err
		}
		return &Store{
			Repo:  encounter.NewRepo(pool),
			Probe: db.PostgresProbe(pool),
			close: pool.Close,
		}, nil
	case config.StoreSQLite:
		sqlDB, err := db.OpenSQLite(ctx, cfg.SQLitePath, migrations.SQLite())
		if err != nil {
			return nil, err
		}
		return &Store{
			Repo:  encounter.NewSQLiteRepo(sqlDB),
			Probe: db.SQLiteProbe(sqlDB),
			close: func() { sqlDB.Close() },
		}, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}
