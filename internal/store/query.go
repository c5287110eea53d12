package store

import (
	"encoding/json"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-pipeline/internal/db"
	"github.com/sells-group/signal-pipeline/internal/model"
)

const (
	sourcesTable  = "source_records"
	recordsTable  = "processing_records"
	chunksTable   = "record_chunks"
	skipsTable    = "normalization_skips"
	featuresTable = "feature_requests"
	actorsTable   = "actor_roles"
)

var sourceColumns = []string{
	"id", "workspace_id", "source_type", "raw_text", "actor", "actor_email", "title",
	"channel", "occurred_at", "metadata", "processed", "created_at",
}

var recordColumns = []string{
	"id", "workspace_id", "source_ref", "source_type", "text", "text_length",
	"actor", "actor_email", "title", "channel", "occurred_at", "metadata", "removed_elements",
	"processing_stage", "scored_at", "chunked_at", "classified_at", "extracted_at",
	"lock_token", "locked_at",
	"signal_score", "signal_reasons", "skip_ai_processing",
	"is_feature_relevant", "classification_score", "classification_confidence",
	"insights", "feature_request_id",
	"retry_count", "processing_error", "created_at", "updated_at",
}

// recordInsertColumns are written when normalization creates a record.
var recordInsertColumns = []string{
	"id", "workspace_id", "source_ref", "source_type", "text", "text_length",
	"actor", "actor_email", "title", "channel", "occurred_at", "metadata", "removed_elements",
	"processing_stage", "created_at", "updated_at",
}

var chunkColumns = []string{
	"id", "record_id", "workspace_id", "chunk_index", "text", "token_estimate",
	"start_offset", "end_offset", "speakers", "start_seconds", "end_seconds", "strategy",
	"classified_at", "is_feature_relevant", "classification_score", "classification_confidence",
	"created_at",
}

var featureColumns = []string{
	"id", "workspace_id", "feature_key", "title", "product_area", "mention_count",
	"max_confidence", "first_seen_at", "last_seen_at", "notion_page_id", "synced_at",
}

// unnormalizedQuery is the normalization anti-join: sources with neither a
// processing record nor a recorded skip.
func unnormalizedQuery(sb sq.StatementBuilderType, f SourceFilter) sq.SelectBuilder {
	cols := make([]string, len(sourceColumns))
	for i, c := range sourceColumns {
		cols[i] = "s." + c
	}
	q := sb.Select(cols...).
		From(sourcesTable + " s").
		Where("NOT EXISTS (SELECT 1 FROM " + recordsTable + " p WHERE p.source_ref = s.id)").
		Where("NOT EXISTS (SELECT 1 FROM " + skipsTable + " k WHERE k.source_ref = s.id)").
		OrderBy("s.created_at", "s.id")
	if f.WorkspaceID != "" {
		q = q.Where(sq.Eq{"s.workspace_id": f.WorkspaceID})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	return q
}

// mutationUpdate builds the token-guarded UPDATE for one mutation, also
// guarded on the source stage when the mutation names one.
func mutationUpdate(sb sq.StatementBuilderType, m Mutation, token string, now any) (sq.UpdateBuilder, error) {
	u := sb.Update(recordsTable).
		Set("lock_token", nil).
		Set("locked_at", nil).
		Set("updated_at", now).
		Where(sq.Eq{"id": m.RecordID, "lock_token": token})
	if m.From != "" {
		u = u.Where(sq.Eq{"processing_stage": string(m.From)})
	}

	if m.Failed {
		return u.
			Set("retry_count", sq.Expr("retry_count + 1")).
			Set("processing_error", m.Error).
			Set("error_kind", m.ErrorKind), nil
	}

	if !m.To.Valid() {
		return u, eris.Errorf("store: mutation for %s has invalid stage %q", m.RecordID, m.To)
	}
	u = u.Set("processing_stage", string(m.To)).
		Set("processing_error", nil).
		Set("error_kind", nil)
	if col := m.Stamp.TimestampColumn(); col != "" {
		u = u.Set(col, sq.Expr("COALESCE("+col+", ?)", now))
	}

	cols, err := m.Outcome.columns()
	if err != nil {
		return u, err
	}
	return u.SetMap(cols), nil
}

// chunkResultUpdate records a chunk's Tier-1 verdict once.
func chunkResultUpdate(sb sq.StatementBuilderType, recordID string, r ChunkResult, now any) sq.UpdateBuilder {
	return sb.Update(chunksTable).
		Set("classified_at", sq.Expr("COALESCE(classified_at, ?)", now)).
		Set("is_feature_relevant", r.Relevant).
		Set("classification_score", r.Score).
		Set("classification_confidence", r.Confidence).
		Where(sq.Eq{"id": r.ChunkID, "record_id": recordID})
}

func stageCountsQuery(sb sq.StatementBuilderType, f StageCountFilter, staleBefore any) sq.SelectBuilder {
	q := sb.Select(
		"workspace_id",
		"processing_stage",
		"COUNT(*)",
	).
		Column(sq.Expr("SUM(CASE WHEN retry_count >= ? THEN 1 ELSE 0 END)", f.MaxRetries)).
		Column("SUM(CASE WHEN lock_token IS NOT NULL THEN 1 ELSE 0 END)").
		Column(sq.Expr("SUM(CASE WHEN lock_token IS NOT NULL AND locked_at < ? THEN 1 ELSE 0 END)", staleBefore)).
		From(recordsTable).
		GroupBy("workspace_id", "processing_stage").
		OrderBy("workspace_id", "processing_stage")
	if f.WorkspaceID != "" {
		q = q.Where(sq.Eq{"workspace_id": f.WorkspaceID})
	}
	return q
}

func deadLettersQuery(sb sq.StatementBuilderType, f DeadLetterFilter) sq.SelectBuilder {
	q := sb.Select(recordColumns...).
		From(recordsTable).
		Where(sq.GtOrEq{"retry_count": f.MaxRetries}).
		OrderBy("updated_at DESC", "id")
	if f.WorkspaceID != "" {
		q = q.Where(sq.Eq{"workspace_id": f.WorkspaceID})
	}
	if f.ErrorKind != "" {
		q = q.Where(sq.Eq{"error_kind": f.ErrorKind})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	return q
}

func requeueUpdate(sb sq.StatementBuilderType, f RequeueFilter, now any) sq.UpdateBuilder {
	u := sb.Update(recordsTable).
		Set("retry_count", 0).
		Set("processing_error", nil).
		Set("error_kind", nil).
		Set("updated_at", now).
		Where(sq.GtOrEq{"retry_count": f.MaxRetries}).
		Where(sq.Eq{"lock_token": nil})
	if f.WorkspaceID != "" {
		u = u.Where(sq.Eq{"workspace_id": f.WorkspaceID})
	}
	if len(f.IDs) > 0 {
		u = u.Where(sq.Eq{"id": f.IDs})
	}
	return u
}

func featuresQuery(sb sq.StatementBuilderType, workspaceID string) sq.SelectBuilder {
	q := sb.Select(featureColumns...).
		From(featuresTable).
		OrderBy("mention_count DESC", "title")
	if workspaceID != "" {
		q = q.Where(sq.Eq{"workspace_id": workspaceID})
	}
	return q
}

func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", eris.Wrap(err, "store: marshal json")
	}
	return string(b), nil
}

func decodeJSON(raw []byte, dst any, what string) error {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return eris.Wrapf(json.Unmarshal(raw, dst), "store: decode %s", what)
}

func nullable(s string) any {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return s
}

// timeArg renders a timestamp for the target driver: time.Time for pgx,
// fixed-width TEXT for SQLite.
type timeArg func(t *time.Time) any

func pgTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func sqliteTime(t *time.Time) any { return db.FormatTimePtr(t) }

func sourceValues(s model.SourceRecord, ts timeArg) ([]any, error) {
	meta, err := marshalJSON(s.Metadata)
	if err != nil {
		return nil, err
	}
	created := s.CreatedAt
	return []any{
		s.ID, s.WorkspaceID, string(s.SourceType), s.RawText, nullable(s.Actor), nullable(s.ActorEmail),
		nullable(s.Title), nullable(s.Channel), ts(s.OccurredAt), meta, s.Processed, ts(&created),
	}, nil
}

func recordInsertValues(r model.ProcessingRecord, ts timeArg) ([]any, error) {
	meta, err := marshalJSON(r.Metadata)
	if err != nil {
		return nil, err
	}
	var removed any
	if len(r.Removed) > 0 {
		if removed, err = marshalJSON(r.Removed); err != nil {
			return nil, err
		}
	}
	stage := r.Stage
	if stage == "" {
		stage = model.StagePending
	}
	created, updated := r.CreatedAt, r.UpdatedAt
	return []any{
		r.ID, r.WorkspaceID, r.SourceRef, string(r.SourceType), r.Text, r.TextLength,
		nullable(r.Actor), nullable(r.ActorEmail), nullable(r.Title), nullable(r.Channel),
		ts(r.OccurredAt), meta, removed,
		string(stage), ts(&created), ts(&updated),
	}, nil
}

func skipValues(k Skip, now time.Time, ts timeArg) []any {
	return []any{k.SourceRef, k.WorkspaceID, k.Reason, k.TextLength, ts(&now)}
}

var skipColumns = []string{"source_ref", "workspace_id", "reason", "text_length", "created_at"}

func chunkValues(c model.Chunk, now time.Time, ts timeArg) ([]any, error) {
	var speakers any
	if len(c.Speakers) > 0 {
		s, err := marshalJSON(c.Speakers)
		if err != nil {
			return nil, err
		}
		speakers = s
	}
	created := c.CreatedAt
	if created.IsZero() {
		created = now
	}
	return []any{
		c.ID, c.RecordID, c.WorkspaceID, c.Index, c.Text, c.TokenEstimate,
		c.StartOffset, c.EndOffset, speakers, c.StartSeconds, c.EndSeconds, c.Strategy,
		ts(c.ClassifiedAt), c.IsFeatureRelevant, c.ClassificationScore, c.ClassificationConfidence,
		ts(&created),
	}, nil
}
