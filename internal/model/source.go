package model

import (
	"strings"
	"time"
)

// SourceType identifies the kind of customer interaction a record came from.
type SourceType string

const (
	SourceEmail      SourceType = "email"
	SourceChat       SourceType = "chat"
	SourceTranscript SourceType = "transcript"
	SourceOther      SourceType = "other"
)

// ParseSourceType maps connector names and aliases onto a SourceType.
// Unknown values map to SourceOther.
func ParseSourceType(s string) SourceType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "email", "gmail", "outlook":
		return SourceEmail
	case "chat", "slack", "teams", "intercom":
		return SourceChat
	case "transcript", "call", "gong", "fathom", "zoom":
		return SourceTranscript
	default:
		return SourceOther
	}
}

// SourceRecord is a raw interaction produced by a connector. The pipeline
// only ever reads these.
type SourceRecord struct {
	ID          string         `json:"id"`
	WorkspaceID string         `json:"workspace_id"`
	SourceType  SourceType     `json:"source_type"`
	RawText     string         `json:"raw_text"`
	Actor       string         `json:"actor,omitempty"`
	ActorEmail  string         `json:"actor_email,omitempty"`
	Title       string         `json:"title,omitempty"`
	Channel     string         `json:"channel,omitempty"`
	OccurredAt  *time.Time     `json:"occurred_at,omitempty"`
	Metadata    SourceMetadata `json:"metadata"`
	Processed   bool           `json:"processed"`
	CreatedAt   time.Time      `json:"created_at"`
}

// SourceMetadata carries connector-provided context used by the scorer and
// chunker.
type SourceMetadata struct {
	ThreadLength    int     `json:"thread_length,omitempty"`
	Reactions       int     `json:"reactions,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Participants    int     `json:"participants,omitempty"`
}
