package store

import (
	"context"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-pipeline/internal/claim"
	"github.com/sells-group/signal-pipeline/internal/db"
	"github.com/sells-group/signal-pipeline/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	claims  *claim.PostgresManager
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns    int32         `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32         `yaml:"min_conns" mapstructure:"min_conns"`
	LockTimeout time.Duration `yaml:"lock_timeout" mapstructure:"lock_timeout"`
}

const (
	upsertFeatureSQL = `INSERT INTO feature_requests (id, workspace_id, feature_key, title, product_area, mention_count, max_confidence, first_seen_at, last_seen_at)
VALUES ($1, $2, $3, $4, $5, 1, $6, $7, $7)
ON CONFLICT (id) DO UPDATE SET
	mention_count = feature_requests.mention_count + 1,
	max_confidence = GREATEST(feature_requests.max_confidence, EXCLUDED.max_confidence),
	first_seen_at = LEAST(feature_requests.first_seen_at, EXCLUDED.first_seen_at),
	last_seen_at = GREATEST(feature_requests.last_seen_at, EXCLUDED.last_seen_at),
	product_area = COALESCE(NULLIF(feature_requests.product_area, ''), EXCLUDED.product_area)`
	getActorRoleSQL      = `SELECT role FROM actor_roles WHERE workspace_id = $1 AND email = $2`
	setActorRoleSQL      = `INSERT INTO actor_roles (workspace_id, email, role) VALUES ($1, $2, $3) ON CONFLICT (workspace_id, email) DO UPDATE SET role = EXCLUDED.role`
	markFeatureSyncedSQL = `UPDATE feature_requests SET notion_page_id = $1, synced_at = $2 WHERE id = $3`
	deleteChunksSQL      = `DELETE FROM record_chunks WHERE record_id = $1`
)

// preparedStatements lists queries to prepare on each new connection for
// the hot paths of batch commits and actor lookups.
var preparedStatements = map[string]string{
	"upsert_feature":      upsertFeatureSQL,
	"get_actor_role":      getActorRoleSQL,
	"set_actor_role":      setActorRoleSQL,
	"mark_feature_synced": markFeatureSyncedSQL,
	"delete_chunks":       deleteChunksSQL,
}

var pgsq = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	var lockTimeout time.Duration
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
		lockTimeout = poolCfg.LockTimeout
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	s := newPostgresStore(pool, claim.Options{LockTimeout: lockTimeout})
	s.closeFn = pool.Close
	return s, nil
}

func newPostgresStore(pool db.Pool, opts claim.Options) *PostgresStore {
	return &PostgresStore{
		pool:   pool,
		claims: claim.NewPostgres(pool, opts),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

// Claims returns the row claim manager sharing this pool.
func (s *PostgresStore) Claims() claim.Manager {
	return s.claims
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// InsertSources bulk loads connector output. Existing ids are left as is.
func (s *PostgresStore) InsertSources(ctx context.Context, sources []model.SourceRecord) (int64, error) {
	rows := make([][]any, 0, len(sources))
	now := s.now()
	for _, src := range sources {
		if src.CreatedAt.IsZero() {
			src.CreatedAt = now
		}
		vals, err := sourceValues(src, pgTime)
		if err != nil {
			return 0, err
		}
		rows = append(rows, vals)
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        sourcesTable,
		Columns:      sourceColumns,
		ConflictKeys: []string{"id"},
		DoNothing:    true,
	}, rows)
	return n, eris.Wrap(err, "postgres: insert sources")
}

func (s *PostgresStore) UnnormalizedSources(ctx context.Context, filter SourceFilter) ([]model.SourceRecord, error) {
	query, args, err := unnormalizedQuery(pgsq, filter).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build unnormalized query")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: select unnormalized sources")
	}
	defer rows.Close()

	var out []model.SourceRecord
	for rows.Next() {
		src, err := scanSourcePG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan source")
		}
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate sources")
}

// CreateRecords materializes processing records and skip markers in one
// transaction. Sources that already have a record are ignored, so the count
// returned is the number of records actually created.
func (s *PostgresStore) CreateRecords(ctx context.Context, records []model.ProcessingRecord, skips []Skip) (int64, error) {
	if len(records) == 0 && len(skips) == 0 {
		return 0, nil
	}
	now := s.now()

	recRows := make([][]any, 0, len(records))
	for _, r := range records {
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = now
		}
		vals, err := recordInsertValues(r, pgTime)
		if err != nil {
			return 0, err
		}
		recRows = append(recRows, vals)
	}
	skipRows := make([][]any, 0, len(skips))
	for _, k := range skips {
		skipRows = append(skipRows, skipValues(k, now, pgTime))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin create records")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	created, err := db.BulkUpsertTx(ctx, tx, db.UpsertConfig{
		Table:        recordsTable,
		Columns:      recordInsertColumns,
		ConflictKeys: []string{"source_ref"},
		DoNothing:    true,
	}, recRows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: create records")
	}
	if _, err := db.BulkUpsertTx(ctx, tx, db.UpsertConfig{
		Table:        skipsTable,
		Columns:      skipColumns,
		ConflictKeys: []string{"source_ref"},
		DoNothing:    true,
	}, skipRows); err != nil {
		return 0, eris.Wrap(err, "postgres: record skips")
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit create records")
	}
	return created, nil
}

func (s *PostgresStore) LoadRecords(ctx context.Context, ids []string) ([]model.ProcessingRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := pgsq.Select(recordColumns...).
		From(recordsTable).
		Where("id = ANY(?)", ids).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build load records")
	}
	return s.queryRecords(ctx, query, args...)
}

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*model.ProcessingRecord, error) {
	query, args, err := pgsq.Select(recordColumns...).From(recordsTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build get record")
	}
	rec, err := scanRecordPG(s.pool.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "postgres: record %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get record %s", id)
	}
	return &rec, nil
}

func (s *PostgresStore) queryRecords(ctx context.Context, query string, args ...any) ([]model.ProcessingRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query records")
	}
	defer rows.Close()

	var out []model.ProcessingRecord
	for rows.Next() {
		rec, err := scanRecordPG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate records")
}

func (s *PostgresStore) ListChunks(ctx context.Context, recordID string) ([]model.Chunk, error) {
	query, args, err := pgsq.Select(chunkColumns...).
		From(chunksTable).
		Where(sq.Eq{"record_id": recordID}).
		OrderBy("chunk_index").
		ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build list chunks")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list chunks %s", recordID)
	}
	defer rows.Close()

	var out []model.Chunk
	for rows.Next() {
		c, err := scanChunkPG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan chunk")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate chunks")
}

// CommitBatch applies every mutation of a claimed batch atomically. Each
// record update is guarded by the batch token; if any row is no longer held
// the transaction is rolled back and ErrLockLost returned.
func (s *PostgresStore) CommitBatch(ctx context.Context, token string, mutations []Mutation) error {
	if len(mutations) == 0 {
		return nil
	}
	now := s.now()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin batch")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, m := range mutations {
		if err := s.applyMutation(ctx, tx, token, m, now); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit batch")
}

func (s *PostgresStore) applyMutation(ctx context.Context, tx pgx.Tx, token string, m Mutation, now time.Time) error {
	u, err := mutationUpdate(pgsq, m, token, now)
	if err != nil {
		return err
	}
	query, args, err := u.ToSql()
	if err != nil {
		return eris.Wrapf(err, "postgres: build update %s", m.RecordID)
	}
	tag, err := tx.Exec(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "postgres: update record %s", m.RecordID)
	}
	if tag.RowsAffected() == 0 {
		zap.L().Warn("postgres: lock lost during batch commit",
			zap.String("record_id", m.RecordID),
			zap.String("token", token),
		)
		return eris.Wrapf(ErrLockLost, "record %s", m.RecordID)
	}

	if !m.Failed && len(m.Chunks) > 0 {
		if _, err := tx.Exec(ctx, deleteChunksSQL, m.RecordID); err != nil {
			return eris.Wrapf(err, "postgres: clear chunks %s", m.RecordID)
		}
		rows := make([][]any, 0, len(m.Chunks))
		for _, c := range m.Chunks {
			vals, err := chunkValues(c, now, pgTime)
			if err != nil {
				return err
			}
			rows = append(rows, vals)
		}
		if _, err := db.CopyFrom(ctx, tx, chunksTable, chunkColumns, rows); err != nil {
			return eris.Wrapf(err, "postgres: insert chunks %s", m.RecordID)
		}
	}

	for _, r := range m.ChunkResults {
		query, args, err := chunkResultUpdate(pgsq, m.RecordID, r, now).ToSql()
		if err != nil {
			return eris.Wrap(err, "postgres: build chunk result")
		}
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return eris.Wrapf(err, "postgres: update chunk %s", r.ChunkID)
		}
	}

	if !m.Failed && m.Feature != nil {
		f := m.Feature
		if _, err := tx.Exec(ctx, upsertFeatureSQL,
			f.ID, f.WorkspaceID, f.Key, f.Title, nullable(f.ProductArea), f.Confidence, f.SeenAt.UTC(),
		); err != nil {
			return eris.Wrapf(err, "postgres: upsert feature %s", f.ID)
		}
	}
	return nil
}

func (s *PostgresStore) Workspaces(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT workspace_id FROM source_records UNION SELECT workspace_id FROM processing_records ORDER BY 1`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list workspaces")
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	return ids, eris.Wrap(err, "postgres: scan workspaces")
}

func (s *PostgresStore) StageCounts(ctx context.Context, filter StageCountFilter) ([]model.StageCount, error) {
	stale := filter.StaleBefore
	if stale.IsZero() {
		stale = s.now().Add(-claim.DefaultLockTimeout)
	}
	query, args, err := stageCountsQuery(pgsq, filter, stale).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build stage counts")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stage counts")
	}
	defer rows.Close()

	var out []model.StageCount
	for rows.Next() {
		var (
			c     model.StageCount
			stage string
		)
		if err := rows.Scan(&c.WorkspaceID, &stage, &c.Total, &c.DeadLetter, &c.Locked, &c.StaleLocked); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage count")
		}
		c.Stage = model.Stage(stage)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate stage counts")
}

func (s *PostgresStore) DeadLetters(ctx context.Context, filter DeadLetterFilter) ([]model.ProcessingRecord, error) {
	query, args, err := deadLettersQuery(pgsq, filter).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build dead letters")
	}
	return s.queryRecords(ctx, query, args...)
}

// Requeue resets retry state on dead-lettered records that are not locked.
func (s *PostgresStore) Requeue(ctx context.Context, filter RequeueFilter) (int64, error) {
	query, args, err := requeueUpdate(pgsq, filter, s.now()).ToSql()
	if err != nil {
		return 0, eris.Wrap(err, "postgres: build requeue")
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: requeue")
	}
	return tag.RowsAffected(), nil
}

// ResetWorkspace removes every derived row for a workspace so its sources
// are normalized again from scratch.
func (s *PostgresStore) ResetWorkspace(ctx context.Context, workspaceID string) (ResetResult, error) {
	var res ResetResult
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, eris.Wrap(err, "postgres: begin reset")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, step := range []struct {
		table string
		n     *int64
	}{
		{chunksTable, &res.Chunks},
		{recordsTable, &res.Records},
		{skipsTable, &res.Skips},
		{featuresTable, &res.Features},
	} {
		query, args, err := pgsq.Delete(step.table).Where(sq.Eq{"workspace_id": workspaceID}).ToSql()
		if err != nil {
			return res, eris.Wrapf(err, "postgres: build reset %s", step.table)
		}
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return res, eris.Wrapf(err, "postgres: reset %s", step.table)
		}
		*step.n = tag.RowsAffected()
	}

	if err := tx.Commit(ctx); err != nil {
		return ResetResult{}, eris.Wrap(err, "postgres: commit reset")
	}
	return res, nil
}

func (s *PostgresStore) ListFeatureRequests(ctx context.Context, workspaceID string) ([]model.FeatureRequest, error) {
	query, args, err := featuresQuery(pgsq, workspaceID).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "postgres: build feature requests")
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list feature requests")
	}
	defer rows.Close()

	var out []model.FeatureRequest
	for rows.Next() {
		f, err := scanFeaturePG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan feature request")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate feature requests")
}

func (s *PostgresStore) MarkFeatureSynced(ctx context.Context, id, pageID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, markFeatureSyncedSQL, pageID, at.UTC(), id)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark feature synced %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: feature %s", id)
	}
	return nil
}

// ActorRole returns the stored role, or "" when the actor is unknown.
func (s *PostgresStore) ActorRole(ctx context.Context, workspaceID, email string) (string, error) {
	var role string
	err := s.pool.QueryRow(ctx, getActorRoleSQL, workspaceID, email).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	return role, eris.Wrap(err, "postgres: get actor role")
}

func (s *PostgresStore) SetActorRole(ctx context.Context, workspaceID, email, role string) error {
	_, err := s.pool.Exec(ctx, setActorRoleSQL, workspaceID, email, role)
	return eris.Wrap(err, "postgres: set actor role")
}
