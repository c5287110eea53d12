package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/sells-group/signal-pipeline/internal/claim"
	"github.com/sells-group/signal-pipeline/internal/db"
	"github.com/sells-group/signal-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It holds a single
// connection so that claims and batch commits serialize.
type SQLiteStore struct {
	db     *sql.DB
	claims *claim.SQLiteManager
	now    func() time.Time
}

const sqlitePragmas = "_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"

const sqliteUpsertFeatureSQL = `INSERT INTO feature_requests (id, workspace_id, feature_key, title, product_area, mention_count, max_confidence, first_seen_at, last_seen_at)
VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	mention_count = mention_count + 1,
	max_confidence = max(max_confidence, excluded.max_confidence),
	first_seen_at = min(first_seen_at, excluded.first_seen_at),
	last_seen_at = max(last_seen_at, excluded.last_seen_at),
	product_area = COALESCE(NULLIF(product_area, ''), excluded.product_area)`

// NewSQLite opens a SQLite database at the given path with WAL mode, a busy
// timeout and foreign keys enabled on every connection.
func NewSQLite(dsn string, lockTimeout time.Duration) (*SQLiteStore, error) {
	if !strings.Contains(dsn, "_pragma=") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + sqlitePragmas
	}
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	sqlDB.SetMaxOpenConns(1)
	return &SQLiteStore{
		db:     sqlDB,
		claims: claim.NewSQLite(sqlDB, claim.Options{LockTimeout: lockTimeout}),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// DB returns the underlying handle.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// Claims returns the row claim manager sharing this database.
func (s *SQLiteStore) Claims() claim.Manager {
	return s.claims
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) InsertSources(ctx context.Context, sources []model.SourceRecord) (int64, error) {
	if len(sources) == 0 {
		return 0, nil
	}
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin insert sources")
	}
	defer func() { _ = tx.Rollback() }()

	var n int64
	for _, src := range sources {
		if src.CreatedAt.IsZero() {
			src.CreatedAt = now
		}
		vals, err := sourceValues(src, sqliteTime)
		if err != nil {
			return 0, err
		}
		query, args, err := sq.Insert(sourcesTable).
			Columns(sourceColumns...).
			Values(vals...).
			Suffix("ON CONFLICT(id) DO NOTHING").
			ToSql()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: build insert source")
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert source %s", src.ID)
		}
		affected, _ := res.RowsAffected()
		n += affected
	}
	return n, eris.Wrap(tx.Commit(), "sqlite: commit insert sources")
}

func (s *SQLiteStore) UnnormalizedSources(ctx context.Context, filter SourceFilter) ([]model.SourceRecord, error) {
	query, args, err := unnormalizedQuery(sq.StatementBuilder, filter).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build unnormalized query")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: select unnormalized sources")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.SourceRecord
	for rows.Next() {
		src, err := scanSourceSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source")
		}
		out = append(out, src)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate sources")
}

func (s *SQLiteStore) CreateRecords(ctx context.Context, records []model.ProcessingRecord, skips []Skip) (int64, error) {
	if len(records) == 0 && len(skips) == 0 {
		return 0, nil
	}
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin create records")
	}
	defer func() { _ = tx.Rollback() }()

	var created int64
	for _, r := range records {
		if r.CreatedAt.IsZero() {
			r.CreatedAt = now
		}
		if r.UpdatedAt.IsZero() {
			r.UpdatedAt = now
		}
		vals, err := recordInsertValues(r, sqliteTime)
		if err != nil {
			return 0, err
		}
		query, args, err := sq.Insert(recordsTable).
			Columns(recordInsertColumns...).
			Values(vals...).
			Suffix("ON CONFLICT(source_ref) DO NOTHING").
			ToSql()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: build insert record")
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert record %s", r.ID)
		}
		n, _ := res.RowsAffected()
		created += n
	}

	for _, k := range skips {
		query, args, err := sq.Insert(skipsTable).
			Columns(skipColumns...).
			Values(skipValues(k, now, sqliteTime)...).
			Suffix("ON CONFLICT(source_ref) DO NOTHING").
			ToSql()
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: build insert skip")
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, eris.Wrapf(err, "sqlite: insert skip %s", k.SourceRef)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit create records")
	}
	return created, nil
}

func (s *SQLiteStore) LoadRecords(ctx context.Context, ids []string) ([]model.ProcessingRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query, args, err := sq.Select(recordColumns...).
		From(recordsTable).
		Where(sq.Eq{"id": ids}).
		OrderBy("created_at", "id").
		ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build load records")
	}
	return s.queryRecords(ctx, query, args...)
}

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*model.ProcessingRecord, error) {
	query, args, err := sq.Select(recordColumns...).From(recordsTable).Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build get record")
	}
	rec, err := scanRecordSQLite(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: record %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get record %s", id)
	}
	return &rec, nil
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...any) ([]model.ProcessingRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query records")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.ProcessingRecord
	for rows.Next() {
		rec, err := scanRecordSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		out = append(out, rec)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate records")
}

func (s *SQLiteStore) ListChunks(ctx context.Context, recordID string) ([]model.Chunk, error) {
	query, args, err := sq.Select(chunkColumns...).
		From(chunksTable).
		Where(sq.Eq{"record_id": recordID}).
		OrderBy("chunk_index").
		ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build list chunks")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list chunks %s", recordID)
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Chunk
	for rows.Next() {
		c, err := scanChunkSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan chunk")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate chunks")
}

// CommitBatch applies every mutation of a claimed batch atomically; see
// PostgresStore.CommitBatch.
func (s *SQLiteStore) CommitBatch(ctx context.Context, token string, mutations []Mutation) error {
	if len(mutations) == 0 {
		return nil
	}
	now := s.now()
	stamp := db.FormatTime(now)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin batch")
	}
	defer func() { _ = tx.Rollback() }()

	for _, m := range mutations {
		if err := s.applyMutation(ctx, tx, token, m, now, stamp); err != nil {
			return err
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit batch")
}

func (s *SQLiteStore) applyMutation(ctx context.Context, tx *sql.Tx, token string, m Mutation, now time.Time, stamp string) error {
	u, err := mutationUpdate(sq.StatementBuilder, m, token, stamp)
	if err != nil {
		return err
	}
	query, args, err := u.ToSql()
	if err != nil {
		return eris.Wrapf(err, "sqlite: build update %s", m.RecordID)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update record %s", m.RecordID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		zap.L().Warn("sqlite: lock lost during batch commit",
			zap.String("record_id", m.RecordID),
			zap.String("token", token),
		)
		return eris.Wrapf(ErrLockLost, "record %s", m.RecordID)
	}

	if !m.Failed && len(m.Chunks) > 0 {
		if _, err := tx.ExecContext(ctx, `DELETE FROM record_chunks WHERE record_id = ?`, m.RecordID); err != nil {
			return eris.Wrapf(err, "sqlite: clear chunks %s", m.RecordID)
		}
		ins := sq.Insert(chunksTable).Columns(chunkColumns...)
		for _, c := range m.Chunks {
			vals, err := chunkValues(c, now, sqliteTime)
			if err != nil {
				return err
			}
			ins = ins.Values(vals...)
		}
		query, args, err := ins.ToSql()
		if err != nil {
			return eris.Wrap(err, "sqlite: build insert chunks")
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return eris.Wrapf(err, "sqlite: insert chunks %s", m.RecordID)
		}
	}

	for _, r := range m.ChunkResults {
		query, args, err := chunkResultUpdate(sq.StatementBuilder, m.RecordID, r, stamp).ToSql()
		if err != nil {
			return eris.Wrap(err, "sqlite: build chunk result")
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return eris.Wrapf(err, "sqlite: update chunk %s", r.ChunkID)
		}
	}

	if !m.Failed && m.Feature != nil {
		f := m.Feature
		seen := db.FormatTime(f.SeenAt)
		if _, err := tx.ExecContext(ctx, sqliteUpsertFeatureSQL,
			f.ID, f.WorkspaceID, f.Key, f.Title, nullable(f.ProductArea), f.Confidence, seen, seen,
		); err != nil {
			return eris.Wrapf(err, "sqlite: upsert feature %s", f.ID)
		}
	}
	return nil
}

func (s *SQLiteStore) Workspaces(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT workspace_id FROM source_records UNION SELECT workspace_id FROM processing_records ORDER BY 1`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list workspaces")
	}
	defer rows.Close() //nolint:errcheck

	var out []string
	for rows.Next() {
		var ws string
		if err := rows.Scan(&ws); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan workspace")
		}
		out = append(out, ws)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate workspaces")
}

func (s *SQLiteStore) StageCounts(ctx context.Context, filter StageCountFilter) ([]model.StageCount, error) {
	stale := filter.StaleBefore
	if stale.IsZero() {
		stale = s.now().Add(-claim.DefaultLockTimeout)
	}
	query, args, err := stageCountsQuery(sq.StatementBuilder, filter, db.FormatTime(stale)).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build stage counts")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stage counts")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.StageCount
	for rows.Next() {
		var (
			c     model.StageCount
			stage string
		)
		if err := rows.Scan(&c.WorkspaceID, &stage, &c.Total, &c.DeadLetter, &c.Locked, &c.StaleLocked); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage count")
		}
		c.Stage = model.Stage(stage)
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate stage counts")
}

func (s *SQLiteStore) DeadLetters(ctx context.Context, filter DeadLetterFilter) ([]model.ProcessingRecord, error) {
	query, args, err := deadLettersQuery(sq.StatementBuilder, filter).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build dead letters")
	}
	return s.queryRecords(ctx, query, args...)
}

func (s *SQLiteStore) Requeue(ctx context.Context, filter RequeueFilter) (int64, error) {
	query, args, err := requeueUpdate(sq.StatementBuilder, filter, db.FormatTime(s.now())).ToSql()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: build requeue")
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: requeue")
	}
	n, err := res.RowsAffected()
	return n, eris.Wrap(err, "sqlite: requeue rows affected")
}

func (s *SQLiteStore) ResetWorkspace(ctx context.Context, workspaceID string) (ResetResult, error) {
	var res ResetResult
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, eris.Wrap(err, "sqlite: begin reset")
	}
	defer func() { _ = tx.Rollback() }()

	for _, step := range []struct {
		table string
		n     *int64
	}{
		{chunksTable, &res.Chunks},
		{recordsTable, &res.Records},
		{skipsTable, &res.Skips},
		{featuresTable, &res.Features},
	} {
		query, args, err := sq.Delete(step.table).Where(sq.Eq{"workspace_id": workspaceID}).ToSql()
		if err != nil {
			return res, eris.Wrapf(err, "sqlite: build reset %s", step.table)
		}
		r, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return res, eris.Wrapf(err, "sqlite: reset %s", step.table)
		}
		*step.n, _ = r.RowsAffected()
	}

	if err := tx.Commit(); err != nil {
		return ResetResult{}, eris.Wrap(err, "sqlite: commit reset")
	}
	return res, nil
}

func (s *SQLiteStore) ListFeatureRequests(ctx context.Context, workspaceID string) ([]model.FeatureRequest, error) {
	query, args, err := featuresQuery(sq.StatementBuilder, workspaceID).ToSql()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: build feature requests")
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list feature requests")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.FeatureRequest
	for rows.Next() {
		f, err := scanFeatureSQLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan feature request")
		}
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate feature requests")
}

func (s *SQLiteStore) MarkFeatureSynced(ctx context.Context, id, pageID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE feature_requests SET notion_page_id = ?, synced_at = ? WHERE id = ?`,
		pageID, db.FormatTime(at), id)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark feature synced %s", id)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: feature %s", id)
	}
	return nil
}

func (s *SQLiteStore) ActorRole(ctx context.Context, workspaceID, email string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM actor_roles WHERE workspace_id = ? AND email = ?`, workspaceID, email,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return role, eris.Wrap(err, "sqlite: get actor role")
}

func (s *SQLiteStore) SetActorRole(ctx context.Context, workspaceID, email, role string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO actor_roles (workspace_id, email, role) VALUES (?, ?, ?)
		ON CONFLICT(workspace_id, email) DO UPDATE SET role = excluded.role`,
		workspaceID, email, role)
	return eris.Wrap(err, "sqlite: set actor role")
}
