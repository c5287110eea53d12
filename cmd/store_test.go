package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-pipeline/internal/config"
)

func TestOpenStore_SQLite(t *testing.T) {
	c := &config.Config{}
	c.Store.Driver = "sqlite"
	c.Store.DatabaseURL = filepath.Join(t.TempDir(), "signal.db")
	c.Pipeline.LockTimeoutMins = 5

	st, err := openStore(context.Background(), c)
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck

	require.NoError(t, st.Migrate(context.Background()))
	assert.NoError(t, st.Ping(context.Background()))
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	c := &config.Config{}
	c.Store.Driver = "mysql"

	_, err := openStore(context.Background(), c)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}
