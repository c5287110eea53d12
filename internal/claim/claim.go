// Package claim hands out exclusive, time-bounded ownership of pipeline rows
// to concurrent workers. The shared store is the only coordination medium:
// a claim is a lock token written by a conditional update.
package claim

import (
	"context"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

const (
	// DefaultTable holds the claimable rows.
	DefaultTable = "processing_records"
	// DefaultLockTimeout is how long a claim lives before it is considered
	// abandoned and reclaimed by the next Acquire.
	DefaultLockTimeout = 30 * time.Minute
)

// ErrTokenMismatch means a caller tried to release a row that is locked by
// someone else. Correct claim discipline makes this unreachable, so callers
// must surface it rather than swallow it.
var ErrTokenMismatch = eris.New("claim: lock token mismatch")

// Request describes which rows to claim.
type Request struct {
	// Where is the eligibility predicate. The manager adds the
	// "lock_token IS NULL" condition itself.
	Where sq.Sqlizer
	// OrderBy defaults to oldest first.
	OrderBy []string
	// Limit is the batch size and must be positive.
	Limit int
}

// Claim is the result of one Acquire call. All IDs share one token.
type Claim struct {
	Token     string
	IDs       []string
	Reclaimed int64
}

// Empty reports whether nothing was claimed.
func (c Claim) Empty() bool {
	return len(c.IDs) == 0
}

// Manager claims and releases rows.
type Manager interface {
	// Acquire clears stale locks, then claims up to req.Limit unlocked rows
	// matching req.Where. Concurrent callers never receive overlapping IDs.
	Acquire(ctx context.Context, req Request) (Claim, error)
	// Release clears the lock on id if it is still held with token. A row
	// that is already unlocked or gone is not an error; a row locked by a
	// different token returns ErrTokenMismatch.
	Release(ctx context.Context, id, token string) error
	// ReleaseAll clears every lock in ids still held with token and returns
	// how many were released. Rows held by other tokens are left alone.
	ReleaseAll(ctx context.Context, ids []string, token string) (int64, error)
}

// Options tunes a Manager.
type Options struct {
	Table       string
	LockTimeout time.Duration
	Now         func() time.Time
	NewToken    func() string
}

func (o Options) withDefaults() Options {
	if o.Table == "" {
		o.Table = DefaultTable
	}
	if o.LockTimeout <= 0 {
		o.LockTimeout = DefaultLockTimeout
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	if o.NewToken == nil {
		o.NewToken = func() string { return uuid.New().String() }
	}
	return o
}

func (r Request) validate() error {
	if r.Limit <= 0 {
		return eris.Errorf("claim: limit must be positive, got %d", r.Limit)
	}
	return nil
}

func (r Request) order() []string {
	if len(r.OrderBy) == 0 {
		return []string{"created_at", "id"}
	}
	return r.OrderBy
}

// candidates builds the eligibility SELECT shared by both managers.
func (r Request) candidates(table string, limit int) sq.SelectBuilder {
	q := sq.Select("id").From(table).Where(sq.Eq{"lock_token": nil})
	if r.Where != nil {
		q = q.Where(r.Where)
	}
	return q.OrderBy(r.order()...).Limit(uint64(limit))
}
