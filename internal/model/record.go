package model

import "time"

// ProcessingRecord is the canonical unit moving through the pipeline. There
// is exactly one per normalized SourceRecord.
type ProcessingRecord struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	SourceRef   string     `json:"source_ref"`
	SourceType  SourceType `json:"source_type"`

	Text       string         `json:"text"`
	TextLength int            `json:"text_length"`
	Actor      string         `json:"actor,omitempty"`
	ActorEmail string         `json:"actor_email,omitempty"`
	Title      string         `json:"title,omitempty"`
	Channel    string         `json:"channel,omitempty"`
	OccurredAt *time.Time     `json:"occurred_at,omitempty"`
	Metadata   SourceMetadata `json:"metadata"`
	Removed    map[string]int `json:"removed_elements,omitempty"`

	Stage        Stage      `json:"processing_stage"`
	ScoredAt     *time.Time `json:"scored_at,omitempty"`
	ChunkedAt    *time.Time `json:"chunked_at,omitempty"`
	ClassifiedAt *time.Time `json:"classified_at,omitempty"`
	ExtractedAt  *time.Time `json:"extracted_at,omitempty"`

	LockToken *string    `json:"lock_token,omitempty"`
	LockedAt  *time.Time `json:"locked_at,omitempty"`

	SignalScore      *float64 `json:"signal_score,omitempty"`
	SignalReasons    []string `json:"signal_reasons,omitempty"`
	SkipAIProcessing bool     `json:"skip_ai_processing"`

	IsFeatureRelevant        *bool    `json:"is_feature_relevant,omitempty"`
	ClassificationScore      *float64 `json:"classification_score,omitempty"`
	ClassificationConfidence *float64 `json:"classification_confidence,omitempty"`

	Insights         *Insights `json:"insights,omitempty"`
	FeatureRequestID *string   `json:"feature_request_id,omitempty"`

	RetryCount      int     `json:"retry_count"`
	ProcessingError *string `json:"processing_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StampedAt returns the idempotency marker for stage s.
func (r *ProcessingRecord) StampedAt(s Stage) *time.Time {
	switch s {
	case StageScored:
		return r.ScoredAt
	case StageChunked:
		return r.ChunkedAt
	case StageClassified:
		return r.ClassifiedAt
	case StageExtracted:
		return r.ExtractedAt
	default:
		return nil
	}
}

// StampsConsistent reports whether every set stage timestamp has all earlier
// stage timestamps set as well.
func (r *ProcessingRecord) StampsConsistent() bool {
	seenGap := false
	for _, s := range []Stage{StageScored, StageChunked, StageClassified, StageExtracted} {
		if r.StampedAt(s) == nil {
			seenGap = true
			continue
		}
		if seenGap {
			return false
		}
	}
	return true
}

// DeadLettered reports whether the record has exhausted its retries.
func (r *ProcessingRecord) DeadLettered(maxRetries int) bool {
	return r.RetryCount >= maxRetries
}

// Locked reports whether the record currently carries a claim.
func (r *ProcessingRecord) Locked() bool {
	return r.LockToken != nil
}

// Chunk is a bounded sub-unit of a ProcessingRecord's text. Chunks are only
// created by the chunking step and are deleted with their parent.
type Chunk struct {
	ID            string   `json:"id"`
	RecordID      string   `json:"record_id"`
	WorkspaceID   string   `json:"workspace_id"`
	Index         int      `json:"chunk_index"`
	Text          string   `json:"text"`
	TokenEstimate int      `json:"token_estimate"`
	StartOffset   int      `json:"start_offset"`
	EndOffset     int      `json:"end_offset"`
	Speakers      []string `json:"speakers,omitempty"`
	StartSeconds  *float64 `json:"start_seconds,omitempty"`
	EndSeconds    *float64 `json:"end_seconds,omitempty"`
	Strategy      string   `json:"strategy"`

	ClassifiedAt             *time.Time `json:"classified_at,omitempty"`
	IsFeatureRelevant        *bool      `json:"is_feature_relevant,omitempty"`
	ClassificationScore      *float64   `json:"classification_score,omitempty"`
	ClassificationConfidence *float64   `json:"classification_confidence,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Classified reports whether the chunk has been through the Tier-1 gate.
func (c *Chunk) Classified() bool {
	return c.ClassifiedAt != nil
}
