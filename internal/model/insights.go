package model

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// Urgency is the extractor's assessment of how pressing a request is.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyMedium Urgency = "medium"
	UrgencyHigh   Urgency = "high"
)

// Valid reports whether u is one of the known urgency levels.
func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLow, UrgencyMedium, UrgencyHigh:
		return true
	}
	return false
}

// Insights is the fixed-schema output of Tier-2 extraction.
type Insights struct {
	FeatureTitle        string   `json:"feature_title"`
	Summary             string   `json:"summary"`
	RequestedCapability string   `json:"requested_capability"`
	PainPoints          []string `json:"pain_points"`
	ProductArea         string   `json:"product_area"`
	Urgency             Urgency  `json:"urgency"`
}

// Validate checks the required fields of an Insights value.
func (i Insights) Validate() error {
	var missing []string
	if strings.TrimSpace(i.FeatureTitle) == "" {
		missing = append(missing, "feature_title")
	}
	if strings.TrimSpace(i.Summary) == "" {
		missing = append(missing, "summary")
	}
	if strings.TrimSpace(i.RequestedCapability) == "" {
		missing = append(missing, "requested_capability")
	}
	if len(missing) > 0 {
		return eris.Errorf("model: insights missing fields: %s", strings.Join(missing, ", "))
	}
	if !i.Urgency.Valid() {
		return eris.Errorf("model: insights urgency %q not one of low, medium, high", i.Urgency)
	}
	return nil
}

// InsightsResult is either a successful Insights value or the reason
// extraction failed. Exactly one side is populated.
type InsightsResult struct {
	insights *Insights
	reason   string
}

// InsightsOk wraps a validated Insights value.
func InsightsOk(i Insights) InsightsResult {
	return InsightsResult{insights: &i}
}

// InsightsErr builds a failed result. An empty reason is replaced with a
// generic one so Err results are never mistaken for Ok.
func InsightsErr(reason string) InsightsResult {
	if reason == "" {
		reason = "extraction failed"
	}
	return InsightsResult{reason: reason}
}

// InsightsFromJSON decodes and validates a raw extractor payload.
func InsightsFromJSON(raw []byte) InsightsResult {
	var i Insights
	if err := json.Unmarshal(raw, &i); err != nil {
		return InsightsErr("malformed insights json: " + err.Error())
	}
	i.Urgency = Urgency(strings.ToLower(strings.TrimSpace(string(i.Urgency))))
	if err := i.Validate(); err != nil {
		return InsightsErr(err.Error())
	}
	return InsightsOk(i)
}

// Ok reports whether the result holds insights.
func (r InsightsResult) Ok() bool {
	return r.insights != nil
}

// Get returns the insights and true, or the zero value and false.
func (r InsightsResult) Get() (Insights, bool) {
	if r.insights == nil {
		return Insights{}, false
	}
	return *r.insights, true
}

// Reason returns the failure reason for an Err result.
func (r InsightsResult) Reason() string {
	return r.reason
}

// Err converts an Err result into an error, nil for Ok.
func (r InsightsResult) Err() error {
	if r.insights != nil {
		return nil
	}
	return eris.New("model: " + r.reason)
}
