package claim

import (
	"context"
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-pipeline/internal/db"
)

// maxCASRounds bounds the select/compare-and-swap loop when other workers
// keep winning the same candidates.
const maxCASRounds = 8

// SQLiteManager claims rows with a compare-and-swap loop: select candidates,
// then lock each one with an UPDATE that only matches while lock_token is
// still NULL and the row still satisfies the request predicate. SQLite has no SKIP LOCKED, so losing a race is detected per
// row from the affected count.
type SQLiteManager struct {
	db   *sql.DB
	opts Options
}

// NewSQLite creates a SQLiteManager.
func NewSQLite(sqlDB *sql.DB, opts Options) *SQLiteManager {
	return &SQLiteManager{db: sqlDB, opts: opts.withDefaults()}
}

// Acquire implements Manager.
func (m *SQLiteManager) Acquire(ctx context.Context, req Request) (Claim, error) {
	if err := req.validate(); err != nil {
		return Claim{}, err
	}

	now := m.opts.Now()
	claim := Claim{Token: m.opts.NewToken()}

	reclaimed, err := m.reclaim(ctx, now)
	if err != nil {
		return Claim{}, err
	}
	claim.Reclaimed = reclaimed

	lockedAt := db.FormatTime(now)
	for round := 0; round < maxCASRounds && len(claim.IDs) < req.Limit; round++ {
		candidates, err := m.candidates(ctx, req, req.Limit-len(claim.IDs))
		if err != nil {
			return Claim{}, err
		}
		if len(candidates) == 0 {
			break
		}

		for _, id := range candidates {
			query, args, err := m.lockOne(req, id, claim.Token, lockedAt)
			if err != nil {
				return Claim{}, err
			}
			res, err := m.db.ExecContext(ctx, query, args...)
			if err != nil {
				// Release what we hold so the rows are not stranded until
				// the stale timeout.
				if _, relErr := m.ReleaseAll(ctx, claim.IDs, claim.Token); relErr != nil {
					zap.L().Warn("claim: release after failed acquire", zap.Error(relErr))
				}
				return Claim{}, eris.Wrapf(err, "claim: lock %s", id)
			}
			if n, _ := res.RowsAffected(); n == 1 {
				claim.IDs = append(claim.IDs, id)
			}
		}
	}

	return claim, nil
}

// lockOne builds the compare-and-swap for one candidate. The predicate is
// repeated so a row that left the eligible set after the candidate SELECT
// is not locked.
func (m *SQLiteManager) lockOne(req Request, id, token, lockedAt string) (string, []any, error) {
	u := sq.Update(m.opts.Table).
		Set("lock_token", token).
		Set("locked_at", lockedAt).
		Where(sq.Eq{"id": id, "lock_token": nil})
	if req.Where != nil {
		u = u.Where(req.Where)
	}
	query, args, err := u.ToSql()
	if err != nil {
		return "", nil, eris.Wrapf(err, "claim: build lock %s", id)
	}
	return query, args, nil
}

func (m *SQLiteManager) candidates(ctx context.Context, req Request, limit int) ([]string, error) {
	query, args, err := req.candidates(m.opts.Table, limit).PlaceholderFormat(sq.Question).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "claim: build candidate query")
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "claim: select candidates")
	}
	defer rows.Close() //nolint:errcheck

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "claim: scan candidate")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "claim: iterate candidates")
}

func (m *SQLiteManager) reclaim(ctx context.Context, now time.Time) (int64, error) {
	res, err := m.db.ExecContext(ctx,
		"UPDATE "+m.opts.Table+" SET lock_token = NULL, locked_at = NULL WHERE lock_token IS NOT NULL AND locked_at < ?",
		db.FormatTime(now.Add(-m.opts.LockTimeout)),
	)
	if err != nil {
		return 0, eris.Wrap(err, "claim: reclaim stale locks")
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		zap.L().Warn("claim: reclaimed stale locks",
			zap.String("table", m.opts.Table),
			zap.Int64("count", n),
		)
	}
	return n, nil
}

// Release implements Manager.
func (m *SQLiteManager) Release(ctx context.Context, id, token string) error {
	res, err := m.db.ExecContext(ctx,
		"UPDATE "+m.opts.Table+" SET lock_token = NULL, locked_at = NULL WHERE id = ? AND lock_token = ?",
		id, token,
	)
	if err != nil {
		return eris.Wrapf(err, "claim: release %s", id)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var holder sql.NullString
	err = m.db.QueryRowContext(ctx, "SELECT lock_token FROM "+m.opts.Table+" WHERE id = ?", id).Scan(&holder)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "claim: inspect lock %s", id)
	}
	if holder.Valid && holder.String != token {
		zap.L().Error("claim: release with mismatched token",
			zap.String("id", id),
			zap.String("token", token),
			zap.String("holder", holder.String),
		)
		return eris.Wrapf(ErrTokenMismatch, "claim: release %s", id)
	}
	return nil
}

// ReleaseAll implements Manager.
func (m *SQLiteManager) ReleaseAll(ctx context.Context, ids []string, token string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	query, args, err := sq.Update(m.opts.Table).
		Set("lock_token", nil).
		Set("locked_at", nil).
		Where(sq.Eq{"id": ids, "lock_token": token}).
		ToSql()
	if err != nil {
		return 0, eris.Wrap(err, "claim: build release all")
	}
	res, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrap(err, "claim: release all")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
