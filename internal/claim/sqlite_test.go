package claim

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/sells-group/signal-pipeline/internal/db"
)

const testSchema = `
CREATE TABLE processing_records (
	id               TEXT PRIMARY KEY,
	workspace_id     TEXT NOT NULL,
	processing_stage TEXT NOT NULL DEFAULT 'pending',
	retry_count      INTEGER NOT NULL DEFAULT 0,
	lock_token       TEXT,
	locked_at        TEXT,
	created_at       TEXT NOT NULL
);`

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "claim.db")+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	_, err = sqlDB.Exec(testSchema)
	require.NoError(t, err)
	return sqlDB
}

func seed(t *testing.T, sqlDB *sql.DB, n int, stage string) []string {
	t.Helper()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		ids[i] = fmt.Sprintf("rec-%02d", i)
		_, err := sqlDB.Exec(
			`INSERT INTO processing_records (id, workspace_id, processing_stage, created_at) VALUES (?, 'ws1', ?, ?)`,
			ids[i], stage, db.FormatTime(base.Add(time.Duration(i)*time.Second)),
		)
		require.NoError(t, err)
	}
	return ids
}

func TestSQLiteAcquire_SequentialCallersSplitBatch(t *testing.T) {
	sqlDB := openTestDB(t)
	seed(t, sqlDB, 15, "pending")
	m := NewSQLite(sqlDB, Options{})
	ctx := context.Background()

	first, err := m.Acquire(ctx, Request{Where: sq.Eq{"processing_stage": "pending"}, Limit: 10})
	require.NoError(t, err)
	second, err := m.Acquire(ctx, Request{Where: sq.Eq{"processing_stage": "pending"}, Limit: 10})
	require.NoError(t, err)

	assert.Len(t, first.IDs, 10)
	assert.Len(t, second.IDs, 5)
	assert.NotEqual(t, first.Token, second.Token)
	assert.Empty(t, intersect(first.IDs, second.IDs))

	// Oldest first.
	assert.Equal(t, "rec-00", first.IDs[0])
	assert.Equal(t, "rec-10", second.IDs[0])
}

func TestSQLiteAcquire_ConcurrentClaimsAreDisjoint(t *testing.T) {
	sqlDB := openTestDB(t)
	seed(t, sqlDB, 40, "pending")
	m := NewSQLite(sqlDB, Options{})
	ctx := context.Background()

	const workers = 6
	results := make([]Claim, workers)
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = m.Acquire(ctx, Request{Limit: 10})
		}(i)
	}
	wg.Wait()

	seen := map[string]string{}
	total := 0
	for i, c := range results {
		require.NoError(t, errs[i])
		for _, id := range c.IDs {
			prev, dup := seen[id]
			assert.False(t, dup, "row %s claimed by %s and %s", id, prev, c.Token)
			seen[id] = c.Token
		}
		total += len(c.IDs)
	}
	assert.Equal(t, 40, total)
}

func TestSQLiteAcquire_ReclaimsStaleLocks(t *testing.T) {
	sqlDB := openTestDB(t)
	seed(t, sqlDB, 2, "pending")
	ctx := context.Background()

	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	_, err := sqlDB.Exec(`UPDATE processing_records SET lock_token = 'dead-worker', locked_at = ? WHERE id = 'rec-00'`,
		db.FormatTime(now.Add(-31*time.Minute)))
	require.NoError(t, err)
	_, err = sqlDB.Exec(`UPDATE processing_records SET lock_token = 'live-worker', locked_at = ? WHERE id = 'rec-01'`,
		db.FormatTime(now.Add(-5*time.Minute)))
	require.NoError(t, err)

	m := NewSQLite(sqlDB, Options{Now: func() time.Time { return now }})
	c, err := m.Acquire(ctx, Request{Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-00"}, c.IDs)
	assert.Equal(t, int64(1), c.Reclaimed)

	// The stale worker's release must now fail loudly.
	err = m.Release(ctx, "rec-00", "dead-worker")
	assert.True(t, errors.Is(err, ErrTokenMismatch))
}

func TestSQLiteAcquire_RespectsPredicate(t *testing.T) {
	sqlDB := openTestDB(t)
	seed(t, sqlDB, 3, "pending")
	_, err := sqlDB.Exec(`UPDATE processing_records SET retry_count = 3 WHERE id = 'rec-01'`)
	require.NoError(t, err)

	m := NewSQLite(sqlDB, Options{})
	c, err := m.Acquire(context.Background(), Request{
		Where: sq.And{sq.Eq{"processing_stage": "pending"}, sq.Lt{"retry_count": 3}},
		Limit: 10,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"rec-00", "rec-02"}, c.IDs)
}

func TestSQLiteAcquire_SkipsRowThatLeftPredicate(t *testing.T) {
	sqlDB := openTestDB(t)
	seed(t, sqlDB, 3, "pending")
	// Another worker finishes rec-01 between the candidate SELECT and the
	// per-row lock.
	_, err := sqlDB.Exec(`
CREATE TRIGGER finish_elsewhere AFTER UPDATE OF lock_token ON processing_records
WHEN NEW.id = 'rec-00' AND NEW.lock_token IS NOT NULL
BEGIN
	UPDATE processing_records SET processing_stage = 'scored' WHERE id = 'rec-01';
END;`)
	require.NoError(t, err)

	m := NewSQLite(sqlDB, Options{})
	c, err := m.Acquire(context.Background(), Request{Where: sq.Eq{"processing_stage": "pending"}, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, []string{"rec-00", "rec-02"}, c.IDs)

	var stage string
	var token sql.NullString
	require.NoError(t, sqlDB.QueryRow(`SELECT processing_stage, lock_token FROM processing_records WHERE id = 'rec-01'`).Scan(&stage, &token))
	assert.Equal(t, "scored", stage)
	assert.False(t, token.Valid)
}

func TestSQLiteRelease(t *testing.T) {
	sqlDB := openTestDB(t)
	seed(t, sqlDB, 1, "pending")
	m := NewSQLite(sqlDB, Options{})
	ctx := context.Background()

	c, err := m.Acquire(ctx, Request{Limit: 1})
	require.NoError(t, err)
	require.Len(t, c.IDs, 1)

	require.NoError(t, m.Release(ctx, c.IDs[0], c.Token))
	// Second release is a silent no-op.
	require.NoError(t, m.Release(ctx, c.IDs[0], c.Token))
	// Unknown rows are silent as well.
	require.NoError(t, m.Release(ctx, "missing", c.Token))

	again, err := m.Acquire(ctx, Request{Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, c.IDs, again.IDs)
}

func TestSQLiteReleaseAll_OnlyOwnToken(t *testing.T) {
	sqlDB := openTestDB(t)
	seed(t, sqlDB, 4, "pending")
	m := NewSQLite(sqlDB, Options{})
	ctx := context.Background()

	a, err := m.Acquire(ctx, Request{Limit: 2})
	require.NoError(t, err)
	b, err := m.Acquire(ctx, Request{Limit: 2})
	require.NoError(t, err)

	n, err := m.ReleaseAll(ctx, append(append([]string{}, a.IDs...), b.IDs...), a.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	var locked int
	require.NoError(t, sqlDB.QueryRow(`SELECT COUNT(*) FROM processing_records WHERE lock_token IS NOT NULL`).Scan(&locked))
	assert.Equal(t, 2, locked)
}

func TestSQLiteAcquire_InvalidLimit(t *testing.T) {
	m := NewSQLite(openTestDB(t), Options{})
	_, err := m.Acquire(context.Background(), Request{Limit: -1})
	require.Error(t, err)
}

func intersect(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, id := range a {
		set[id] = true
	}
	var out []string
	for _, id := range b {
		if set[id] {
			out = append(out, id)
		}
	}
	return out
}
