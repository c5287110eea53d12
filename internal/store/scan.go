package store

import (
	"database/sql"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-pipeline/internal/db"
	"github.com/sells-group/signal-pipeline/internal/model"
)

// scanner is satisfied by pgx.Row, pgx.Rows, *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// recordRow is the driver-neutral form of a processing_records row. Each
// backend fills it with its own column types and then calls record().
type recordRow struct {
	id, workspaceID, sourceRef, sourceType, text string
	textLength                                   int
	actor, actorEmail, title, channel            *string
	occurredAt                                   *time.Time
	metadata, removed                            []byte
	stage                                        string
	scoredAt, chunkedAt, classifiedAt            *time.Time
	extractedAt                                  *time.Time
	lockToken                                    *string
	lockedAt                                     *time.Time
	signalScore                                  *float64
	signalReasons                                []byte
	skipAI                                       bool
	relevant                                     *bool
	classScore, classConfidence                  *float64
	insights                                     []byte
	featureID                                    *string
	retryCount                                   int
	processingError                              *string
	createdAt, updatedAt                         time.Time
}

func (r *recordRow) record() (model.ProcessingRecord, error) {
	rec := model.ProcessingRecord{
		ID:                       r.id,
		WorkspaceID:              r.workspaceID,
		SourceRef:                r.sourceRef,
		SourceType:               model.SourceType(r.sourceType),
		Text:                     r.text,
		TextLength:               r.textLength,
		Actor:                    deref(r.actor),
		ActorEmail:               deref(r.actorEmail),
		Title:                    deref(r.title),
		Channel:                  deref(r.channel),
		OccurredAt:               r.occurredAt,
		Stage:                    model.Stage(r.stage),
		ScoredAt:                 r.scoredAt,
		ChunkedAt:                r.chunkedAt,
		ClassifiedAt:             r.classifiedAt,
		ExtractedAt:              r.extractedAt,
		LockToken:                r.lockToken,
		LockedAt:                 r.lockedAt,
		SignalScore:              r.signalScore,
		SkipAIProcessing:         r.skipAI,
		IsFeatureRelevant:        r.relevant,
		ClassificationScore:      r.classScore,
		ClassificationConfidence: r.classConfidence,
		FeatureRequestID:         r.featureID,
		RetryCount:               r.retryCount,
		ProcessingError:          r.processingError,
		CreatedAt:                r.createdAt,
		UpdatedAt:                r.updatedAt,
	}
	if err := decodeJSON(r.metadata, &rec.Metadata, "metadata"); err != nil {
		return rec, err
	}
	if err := decodeJSON(r.removed, &rec.Removed, "removed elements"); err != nil {
		return rec, err
	}
	if err := decodeJSON(r.signalReasons, &rec.SignalReasons, "signal reasons"); err != nil {
		return rec, err
	}
	if len(r.insights) > 0 && string(r.insights) != "null" {
		var ins model.Insights
		if err := decodeJSON(r.insights, &ins, "insights"); err != nil {
			return rec, err
		}
		rec.Insights = &ins
	}
	return rec, nil
}

// pgDest returns scan targets in recordColumns order for pgx.
func (r *recordRow) pgDest() []any {
	return []any{
		&r.id, &r.workspaceID, &r.sourceRef, &r.sourceType, &r.text, &r.textLength,
		&r.actor, &r.actorEmail, &r.title, &r.channel, &r.occurredAt, &r.metadata, &r.removed,
		&r.stage, &r.scoredAt, &r.chunkedAt, &r.classifiedAt, &r.extractedAt,
		&r.lockToken, &r.lockedAt,
		&r.signalScore, &r.signalReasons, &r.skipAI,
		&r.relevant, &r.classScore, &r.classConfidence,
		&r.insights, &r.featureID,
		&r.retryCount, &r.processingError, &r.createdAt, &r.updatedAt,
	}
}

// sqliteTimes holds the TEXT timestamp columns until they are parsed.
type sqliteTimes struct {
	occurredAt, scoredAt, chunkedAt, classifiedAt, extractedAt, lockedAt sql.NullString
	createdAt, updatedAt                                               string
}

// sqliteDest returns scan targets in recordColumns order for database/sql.
func (r *recordRow) sqliteDest(t *sqliteTimes) []any {
	return []any{
		&r.id, &r.workspaceID, &r.sourceRef, &r.sourceType, &r.text, &r.textLength,
		&r.actor, &r.actorEmail, &r.title, &r.channel, &t.occurredAt, &r.metadata, &r.removed,
		&r.stage, &t.scoredAt, &t.chunkedAt, &t.classifiedAt, &t.extractedAt,
		&r.lockToken, &t.lockedAt,
		&r.signalScore, &r.signalReasons, &r.skipAI,
		&r.relevant, &r.classScore, &r.classConfidence,
		&r.insights, &r.featureID,
		&r.retryCount, &r.processingError, &t.createdAt, &t.updatedAt,
	}
}

func (r *recordRow) applyTimes(t *sqliteTimes) error {
	var err error
	for _, p := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{t.occurredAt, &r.occurredAt},
		{t.scoredAt, &r.scoredAt},
		{t.chunkedAt, &r.chunkedAt},
		{t.classifiedAt, &r.classifiedAt},
		{t.extractedAt, &r.extractedAt},
		{t.lockedAt, &r.lockedAt},
	} {
		if *p.dst, err = db.ParseNullTime(p.src); err != nil {
			return err
		}
	}
	if r.createdAt, err = db.ParseTime(t.createdAt); err != nil {
		return err
	}
	r.updatedAt, err = db.ParseTime(t.updatedAt)
	return err
}

func scanRecordPG(sc scanner) (model.ProcessingRecord, error) {
	var r recordRow
	if err := sc.Scan(r.pgDest()...); err != nil {
		return model.ProcessingRecord{}, err
	}
	return r.record()
}

func scanRecordSQLite(sc scanner) (model.ProcessingRecord, error) {
	var (
		r recordRow
		t sqliteTimes
	)
	if err := sc.Scan(r.sqliteDest(&t)...); err != nil {
		return model.ProcessingRecord{}, err
	}
	if err := r.applyTimes(&t); err != nil {
		return model.ProcessingRecord{}, eris.Wrapf(err, "store: record %s", r.id)
	}
	return r.record()
}

// sourceRow mirrors recordRow for source_records.
type sourceRow struct {
	id, workspaceID, sourceType, rawText string
	actor, actorEmail, title, channel    *string
	occurredAt                           *time.Time
	metadata                             []byte
	processed                            bool
	createdAt                            time.Time
}

func (r *sourceRow) source() (model.SourceRecord, error) {
	src := model.SourceRecord{
		ID:          r.id,
		WorkspaceID: r.workspaceID,
		SourceType:  model.ParseSourceType(r.sourceType),
		RawText:     r.rawText,
		Actor:       deref(r.actor),
		ActorEmail:  deref(r.actorEmail),
		Title:       deref(r.title),
		Channel:     deref(r.channel),
		OccurredAt:  r.occurredAt,
		Processed:   r.processed,
		CreatedAt:   r.createdAt,
	}
	return src, decodeJSON(r.metadata, &src.Metadata, "source metadata")
}

func scanSourcePG(sc scanner) (model.SourceRecord, error) {
	var r sourceRow
	err := sc.Scan(&r.id, &r.workspaceID, &r.sourceType, &r.rawText, &r.actor, &r.actorEmail,
		&r.title, &r.channel, &r.occurredAt, &r.metadata, &r.processed, &r.createdAt)
	if err != nil {
		return model.SourceRecord{}, err
	}
	return r.source()
}

func scanSourceSQLite(sc scanner) (model.SourceRecord, error) {
	var (
		r         sourceRow
		occurred  sql.NullString
		createdAt string
	)
	err := sc.Scan(&r.id, &r.workspaceID, &r.sourceType, &r.rawText, &r.actor, &r.actorEmail,
		&r.title, &r.channel, &occurred, &r.metadata, &r.processed, &createdAt)
	if err != nil {
		return model.SourceRecord{}, err
	}
	if r.occurredAt, err = db.ParseNullTime(occurred); err != nil {
		return model.SourceRecord{}, err
	}
	if r.createdAt, err = db.ParseTime(createdAt); err != nil {
		return model.SourceRecord{}, err
	}
	return r.source()
}

type chunkRow struct {
	c            model.Chunk
	speakers     []byte
	classifiedAt sql.NullString
	createdAt    string
}

func scanChunkPG(sc scanner) (model.Chunk, error) {
	var (
		c        model.Chunk
		speakers []byte
	)
	err := sc.Scan(&c.ID, &c.RecordID, &c.WorkspaceID, &c.Index, &c.Text, &c.TokenEstimate,
		&c.StartOffset, &c.EndOffset, &speakers, &c.StartSeconds, &c.EndSeconds, &c.Strategy,
		&c.ClassifiedAt, &c.IsFeatureRelevant, &c.ClassificationScore, &c.ClassificationConfidence,
		&c.CreatedAt)
	if err != nil {
		return c, err
	}
	return c, decodeJSON(speakers, &c.Speakers, "chunk speakers")
}

func scanChunkSQLite(sc scanner) (model.Chunk, error) {
	var r chunkRow
	c := &r.c
	err := sc.Scan(&c.ID, &c.RecordID, &c.WorkspaceID, &c.Index, &c.Text, &c.TokenEstimate,
		&c.StartOffset, &c.EndOffset, &r.speakers, &c.StartSeconds, &c.EndSeconds, &c.Strategy,
		&r.classifiedAt, &c.IsFeatureRelevant, &c.ClassificationScore, &c.ClassificationConfidence,
		&r.createdAt)
	if err != nil {
		return r.c, err
	}
	if c.ClassifiedAt, err = db.ParseNullTime(r.classifiedAt); err != nil {
		return r.c, err
	}
	if c.CreatedAt, err = db.ParseTime(r.createdAt); err != nil {
		return r.c, err
	}
	return r.c, decodeJSON(r.speakers, &c.Speakers, "chunk speakers")
}

func scanFeaturePG(sc scanner) (model.FeatureRequest, error) {
	var (
		f           model.FeatureRequest
		productArea *string
	)
	err := sc.Scan(&f.ID, &f.WorkspaceID, &f.FeatureKey, &f.Title, &productArea, &f.MentionCount,
		&f.MaxConfidence, &f.FirstSeenAt, &f.LastSeenAt, &f.NotionPageID, &f.SyncedAt)
	f.ProductArea = deref(productArea)
	return f, err
}

func scanFeatureSQLite(sc scanner) (model.FeatureRequest, error) {
	var (
		f                     model.FeatureRequest
		productArea           *string
		firstSeen, lastSeen   string
		synced                sql.NullString
	)
	err := sc.Scan(&f.ID, &f.WorkspaceID, &f.FeatureKey, &f.Title, &productArea, &f.MentionCount,
		&f.MaxConfidence, &firstSeen, &lastSeen, &f.NotionPageID, &synced)
	if err != nil {
		return f, err
	}
	f.ProductArea = deref(productArea)
	if f.FirstSeenAt, err = db.ParseTime(firstSeen); err != nil {
		return f, err
	}
	if f.LastSeenAt, err = db.ParseTime(lastSeen); err != nil {
		return f, err
	}
	f.SyncedAt, err = db.ParseNullTime(synced)
	return f, err
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
