package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geo-events/internal/config"
	"github.com/sells-group/geo-events/internal/db"
	"github.com/sells-group/geo-events/internal/geospatial"
	"github.com/sells-group/geo-events/internal/search"
)

// catalog is an open store together with the backend handle maintenance
// commands need. Exactly one of pool and sqlite is set. Optional interfaces
// such as geospatial.RunRecorder are only visible on the embedded Store.
type catalog struct {
	geospatial.Store
	pool   *pgxpool.Pool
	sqlite *geospatial.SQLiteStore
}

// Close releases the backend.
func (c *catalog) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
	if c.sqlite != nil {
		if err := c.sqlite.Close(); err != nil {
			zap.L().Warn("close sqlite", zap.Error(err))
		}
	}
}

// migrate brings the schema up to date.
func (c *catalog) migrate(ctx context.Context) error {
	if c.sqlite != nil {
		return c.sqlite.Migrate(ctx)
	}
	// The migration lock pins one connection for the whole run.
	if c.pool.Config().MaxConns < 2 {
		return eris.New("migrate: store.max_conns must be at least 2 for postgres")
	}
	return geospatial.Migrate(ctx, c.pool)
}

// openCatalog opens the configured backend. SQLite files are created and
// migrated on open; Postgres schemas are applied by the migrate command.
func openCatalog(ctx context.Context, sc config.StoreConfig) (*catalog, error) {
	switch sc.Driver {
	case "sqlite":
		s, err := geospatial.NewSQLiteStore(sc.SQLitePath, int(sc.MaxConns))
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			_ = s.Close()
			return nil, err
		}
		return &catalog{Store: s, sqlite: s}, nil
	case "postgres":
		pool, err := db.NewPool(ctx, sc.DatabaseURL, db.PoolConfig{
			MaxConns: sc.MaxConns,
			MinConns: sc.MinConns,
		})
		if err != nil {
			return nil, err
		}
		return &catalog{Store: geospatial.NewPostgresStore(pool), pool: pool}, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", sc.Driver)
	}
}

// newCalendar resolves "today" in the configured time zone.
func newCalendar(sc search.Config) (search.Calendar, error) {
	return search.NewCalendar(clockwork.NewRealClock(), sc.Timezone)
}
