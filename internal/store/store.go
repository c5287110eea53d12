// Package store persists source records, processing records, chunks and
// feature requests. Postgres and SQLite implement the same Store; each also
// exposes the matching claim.Manager over the same connection.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-pipeline/internal/claim"
	"github.com/sells-group/signal-pipeline/internal/model"
)

var (
	// ErrLockLost means a batch commit found a row no longer held with the
	// batch's token, usually because the claim went stale and was
	// reclaimed. The whole batch is rolled back.
	ErrLockLost = eris.New("store: lock lost")
	// ErrNotFound is returned by single-row lookups.
	ErrNotFound = eris.New("store: not found")
)

// SourceFilter selects source records that have not been normalized.
type SourceFilter struct {
	WorkspaceID string
	Limit       int
}

// Skip records a source whose cleaned text was too short to materialize.
type Skip struct {
	SourceRef   string
	WorkspaceID string
	Reason      string
	TextLength  int
}

// StageCountFilter scopes telemetry.
type StageCountFilter struct {
	WorkspaceID string
	MaxRetries  int
	StaleBefore time.Time
}

// DeadLetterFilter selects records that exhausted their retries.
type DeadLetterFilter struct {
	WorkspaceID string
	MaxRetries  int
	ErrorKind   string
	Limit       int
}

// RequeueFilter selects dead-lettered records to make claimable again.
// Empty IDs means every dead letter in scope.
type RequeueFilter struct {
	WorkspaceID string
	IDs         []string
	MaxRetries  int
}

// ResetResult counts the rows removed by ResetWorkspace.
type ResetResult struct {
	Records  int64 `json:"records"`
	Chunks   int64 `json:"chunks"`
	Skips    int64 `json:"skips"`
	Features int64 `json:"features"`
}

// Outcome carries the stage-specific columns written on success. Nil fields
// are left untouched.
type Outcome struct {
	SignalScore              *float64
	SignalReasons            []string
	SkipAIProcessing         *bool
	IsFeatureRelevant        *bool
	ClassificationScore      *float64
	ClassificationConfidence *float64
	Insights                 *model.Insights
	FeatureRequestID         *string
}

// columns maps the set fields onto record columns.
func (o Outcome) columns() (map[string]any, error) {
	cols := map[string]any{}
	if o.SignalScore != nil {
		cols["signal_score"] = *o.SignalScore
	}
	if o.SignalReasons != nil {
		b, err := json.Marshal(o.SignalReasons)
		if err != nil {
			return nil, eris.Wrap(err, "store: marshal signal reasons")
		}
		cols["signal_reasons"] = string(b)
	}
	if o.SkipAIProcessing != nil {
		cols["skip_ai_processing"] = *o.SkipAIProcessing
	}
	if o.IsFeatureRelevant != nil {
		cols["is_feature_relevant"] = *o.IsFeatureRelevant
	}
	if o.ClassificationScore != nil {
		cols["classification_score"] = *o.ClassificationScore
	}
	if o.ClassificationConfidence != nil {
		cols["classification_confidence"] = *o.ClassificationConfidence
	}
	if o.Insights != nil {
		b, err := json.Marshal(o.Insights)
		if err != nil {
			return nil, eris.Wrap(err, "store: marshal insights")
		}
		cols["insights"] = string(b)
	}
	if o.FeatureRequestID != nil {
		cols["feature_request_id"] = *o.FeatureRequestID
	}
	return cols, nil
}

// ChunkResult is the Tier-1 verdict for one chunk.
type ChunkResult struct {
	ChunkID    string
	Relevant   bool
	Score      float64
	Confidence float64
}

// FeatureMention rolls one extracted record into its feature request.
type FeatureMention struct {
	ID          string
	WorkspaceID string
	Key         string
	Title       string
	ProductArea string
	Confidence  float64
	SeenAt      time.Time
}

// Mutation is the end state of one claimed record within a batch.
type Mutation struct {
	RecordID string
	// From, when set, is the stage the row must still be in for the
	// update to apply. A row that moved on is treated as a lost lock.
	From model.Stage

	// Failed rows keep their stage, get retry_count+1 and the error text.
	Failed    bool
	Error     string
	ErrorKind string

	// To is the stage reached on success; Stamp names the stage whose
	// timestamp marker is set (it differs from To when Tier-1 drops a
	// record straight to completed).
	To    model.Stage
	Stamp model.Stage

	Outcome      Outcome
	Chunks       []model.Chunk
	ChunkResults []ChunkResult
	Feature      *FeatureMention
}

// Store defines the persistence interface for the pipeline.
type Store interface {
	// Sources
	InsertSources(ctx context.Context, sources []model.SourceRecord) (int64, error)
	UnnormalizedSources(ctx context.Context, filter SourceFilter) ([]model.SourceRecord, error)
	CreateRecords(ctx context.Context, records []model.ProcessingRecord, skips []Skip) (int64, error)

	// Processing records
	Claims() claim.Manager
	LoadRecords(ctx context.Context, ids []string) ([]model.ProcessingRecord, error)
	GetRecord(ctx context.Context, id string) (*model.ProcessingRecord, error)
	ListChunks(ctx context.Context, recordID string) ([]model.Chunk, error)
	CommitBatch(ctx context.Context, token string, mutations []Mutation) error

	// Operations
	Workspaces(ctx context.Context) ([]string, error)
	StageCounts(ctx context.Context, filter StageCountFilter) ([]model.StageCount, error)
	DeadLetters(ctx context.Context, filter DeadLetterFilter) ([]model.ProcessingRecord, error)
	Requeue(ctx context.Context, filter RequeueFilter) (int64, error)
	ResetWorkspace(ctx context.Context, workspaceID string) (ResetResult, error)

	// Feature requests
	ListFeatureRequests(ctx context.Context, workspaceID string) ([]model.FeatureRequest, error)
	MarkFeatureSynced(ctx context.Context, id, pageID string, at time.Time) error

	// Actor roles
	ActorRole(ctx context.Context, workspaceID, email string) (string, error)
	SetActorRole(ctx context.Context, workspaceID, email, role string) error

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
