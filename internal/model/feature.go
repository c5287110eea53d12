package model

import (
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// featureNamespace seeds deterministic feature request ids.
var featureNamespace = uuid.MustParse("6f1c7f1e-3b0b-4f43-9a55-2a7b8e5c9d10")

// FeatureRequest is the Tier-3 roll-up of extracted insights sharing a
// feature key within a workspace.
type FeatureRequest struct {
	ID            string     `json:"id"`
	WorkspaceID   string     `json:"workspace_id"`
	FeatureKey    string     `json:"feature_key"`
	Title         string     `json:"title"`
	ProductArea   string     `json:"product_area,omitempty"`
	MentionCount  int        `json:"mention_count"`
	MaxConfidence float64    `json:"max_confidence"`
	FirstSeenAt   time.Time  `json:"first_seen_at"`
	LastSeenAt    time.Time  `json:"last_seen_at"`
	NotionPageID  *string    `json:"notion_page_id,omitempty"`
	SyncedAt      *time.Time `json:"synced_at,omitempty"`
}

var featureStopWords = map[string]bool{
	"a": true, "an": true, "the": true, "to": true, "for": true, "of": true,
	"and": true, "in": true, "on": true, "with": true, "support": true, "ability": true,
}

// FeatureKey folds a title into a stable grouping key: lower case,
// punctuation dropped, stop words removed.
func FeatureKey(title string) string {
	fields := strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	kept := fields[:0]
	for _, f := range fields {
		if !featureStopWords[f] {
			kept = append(kept, f)
		}
	}
	if len(kept) == 0 {
		return strings.Join(fields, "-")
	}
	return strings.Join(kept, "-")
}

// FeatureID derives the deterministic id for a workspace's feature key.
func FeatureID(workspaceID, key string) string {
	return uuid.NewSHA1(featureNamespace, []byte(workspaceID+"/"+key)).String()
}

// StageCount is one row of stage telemetry.
type StageCount struct {
	WorkspaceID string `json:"workspace_id"`
	Stage       Stage  `json:"stage"`
	Total       int    `json:"total"`
	DeadLetter  int    `json:"dead_lettered"`
	Locked      int    `json:"locked"`
	StaleLocked int    `json:"stale_locked"`
}
