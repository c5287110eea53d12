package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-pipeline/internal/config"
	"github.com/sells-group/signal-pipeline/internal/store"
)

// openStore opens the configured backend without migrating it.
func openStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "sqlite":
		dsn := c.Store.DatabaseURL
		if dsn == "" {
			dsn = "signal.db"
		}
		return store.NewSQLite(dsn, c.Pipeline.LockTimeout())
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &store.PoolConfig{
			MaxConns:    c.Store.MaxConns,
			LockTimeout: c.Pipeline.LockTimeout(),
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// initStore opens and migrates the configured store. Callers close it.
func initStore(ctx context.Context) (store.Store, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}
