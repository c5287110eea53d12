package claim

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-pipeline/internal/db"
)

// PostgresManager claims rows with a single UPDATE over a
// FOR UPDATE SKIP LOCKED subquery, so concurrent workers skip each other's
// candidates instead of blocking on them.
type PostgresManager struct {
	pool db.Pool
	opts Options
}

// NewPostgres creates a PostgresManager.
func NewPostgres(pool db.Pool, opts Options) *PostgresManager {
	return &PostgresManager{pool: pool, opts: opts.withDefaults()}
}

// Acquire implements Manager.
func (m *PostgresManager) Acquire(ctx context.Context, req Request) (Claim, error) {
	if err := req.validate(); err != nil {
		return Claim{}, err
	}

	now := m.opts.Now()
	token := m.opts.NewToken()

	tx, err := m.pool.Begin(ctx)
	if err != nil {
		return Claim{}, eris.Wrap(err, "claim: begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	reclaimed, err := m.reclaim(ctx, tx, now)
	if err != nil {
		return Claim{}, err
	}

	subSQL, subArgs, err := req.candidates(m.opts.Table, req.Limit).
		Suffix("FOR UPDATE SKIP LOCKED").
		ToSql()
	if err != nil {
		return Claim{}, eris.Wrap(err, "claim: build candidate query")
	}

	query, args, err := sq.Update(m.opts.Table).
		Set("lock_token", token).
		Set("locked_at", now).
		Where(sq.Expr("id IN ("+subSQL+")", subArgs...)).
		Suffix("RETURNING id").
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return Claim{}, eris.Wrap(err, "claim: build claim update")
	}

	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return Claim{}, eris.Wrap(err, "claim: claim rows")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return Claim{}, eris.Wrap(err, "claim: scan claimed ids")
	}

	if err := tx.Commit(ctx); err != nil {
		return Claim{}, eris.Wrap(err, "claim: commit claim")
	}

	return Claim{Token: token, IDs: ids, Reclaimed: reclaimed}, nil
}

// reclaim clears locks older than the lock timeout so crashed workers'
// rows become claimable again.
func (m *PostgresManager) reclaim(ctx context.Context, tx pgx.Tx, now time.Time) (int64, error) {
	tag, err := tx.Exec(ctx,
		"UPDATE "+m.opts.Table+" SET lock_token = NULL, locked_at = NULL WHERE lock_token IS NOT NULL AND locked_at < $1",
		now.Add(-m.opts.LockTimeout),
	)
	if err != nil {
		return 0, eris.Wrap(err, "claim: reclaim stale locks")
	}
	if n := tag.RowsAffected(); n > 0 {
		zap.L().Warn("claim: reclaimed stale locks",
			zap.String("table", m.opts.Table),
			zap.Int64("count", n),
		)
	}
	return tag.RowsAffected(), nil
}

// Release implements Manager.
func (m *PostgresManager) Release(ctx context.Context, id, token string) error {
	tag, err := m.pool.Exec(ctx,
		"UPDATE "+m.opts.Table+" SET lock_token = NULL, locked_at = NULL WHERE id = $1 AND lock_token = $2",
		id, token,
	)
	if err != nil {
		return eris.Wrapf(err, "claim: release %s", id)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var holder *string
	err = m.pool.QueryRow(ctx, "SELECT lock_token FROM "+m.opts.Table+" WHERE id = $1", id).Scan(&holder)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "claim: inspect lock %s", id)
	}
	if holder != nil && *holder != token {
		zap.L().Error("claim: release with mismatched token",
			zap.String("id", id),
			zap.String("token", token),
			zap.String("holder", *holder),
		)
		return eris.Wrapf(ErrTokenMismatch, "claim: release %s", id)
	}
	return nil
}

// ReleaseAll implements Manager.
func (m *PostgresManager) ReleaseAll(ctx context.Context, ids []string, token string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := m.pool.Exec(ctx,
		"UPDATE "+m.opts.Table+" SET lock_token = NULL, locked_at = NULL WHERE id = ANY($1) AND lock_token = $2",
		ids, token,
	)
	if err != nil {
		return 0, eris.Wrap(err, "claim: release all")
	}
	return tag.RowsAffected(), nil
}
