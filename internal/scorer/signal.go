package scorer

import (
	"math"
	"strings"

	"github.com/sells-group/signal-pipeline/internal/model"
)

// Input is everything the scorer looks at.
type Input struct {
	Text       string
	SourceType model.SourceType
	ActorRole  model.ActorRole
	Metadata   model.SourceMetadata
}

// Result is a relevance estimate in [0,1]. ShouldSkip is advisory; the
// pipeline records it but only the Tier-1 gate drops records.
type Result struct {
	Score      float64  `json:"score"`
	ShouldSkip bool     `json:"should_skip"`
	Reasons    []string `json:"reasons"`
}

const (
	maxPositive    = 0.6
	maxNegative    = 0.5
	shortTextWords = 12
)

// Scorer is a pure, deterministic signal scorer.
type Scorer struct {
	cfg Config
}

// New validates cfg and returns a Scorer.
func New(cfg Config) (*Scorer, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return &Scorer{cfg: cfg}, nil
}

// Score computes the signal estimate for in.
func (s *Scorer) Score(in Input) Result {
	text := strings.ToLower(in.Text)
	var reasons []string

	pos := 0.0
	for _, t := range matchTerms(s.cfg.Lexicon.Positive, text) {
		pos += t.Weight
		reasons = appendReason(reasons, "+"+t.Reason)
	}
	neg := 0.0
	for _, t := range matchTerms(s.cfg.Lexicon.Negative, text) {
		neg += t.Weight
		reasons = appendReason(reasons, "-"+t.Reason)
	}

	score := s.cfg.BaseScore + math.Min(pos, maxPositive) - math.Min(neg, maxNegative)

	adj, adjReasons := adjustments(in, text)
	score += adj
	for _, r := range adjReasons {
		reasons = appendReason(reasons, r)
	}

	score = clamp(score)
	return Result{
		Score:      score,
		ShouldSkip: score < s.cfg.SkipThreshold,
		Reasons:    reasons,
	}
}

// adjustments applies actor, source and metadata specific nudges.
func adjustments(in Input, text string) (float64, []string) {
	var (
		adj     float64
		reasons []string
	)
	add := func(delta float64, reason string) {
		adj += delta
		reasons = append(reasons, reason)
	}

	if strings.Contains(text, "?") {
		add(0.05, "+question")
	}
	if words := len(strings.Fields(text)); words > 0 && words < shortTextWords {
		add(-0.1, "-short_text")
	}

	switch in.ActorRole {
	case model.RoleCustomer:
		add(0.1, "+customer")
	case model.RoleInternal:
		add(-0.1, "-internal")
	}

	md := in.Metadata
	switch in.SourceType {
	case model.SourceChat:
		if md.ThreadLength >= 5 {
			add(0.05, "+active_thread")
		}
		if md.Reactions >= 3 {
			add(0.05, "+reactions")
		}
	case model.SourceEmail:
		if md.ThreadLength >= 3 {
			add(0.05, "+long_thread")
		}
	case model.SourceTranscript:
		switch {
		case md.DurationSeconds >= 600:
			add(0.05, "+long_call")
		case md.DurationSeconds > 0 && md.DurationSeconds < 60:
			add(-0.1, "-short_call")
		}
		if md.Participants > 2 {
			add(0.05, "+multi_party")
		}
	}
	return adj, reasons
}

// matchTerms returns the terms whose phrase appears in text, which must
// already be lower case.
func matchTerms(terms []Term, text string) []Term {
	if text == "" {
		return nil
	}
	var matched []Term
	for _, t := range terms {
		if strings.Contains(text, strings.ToLower(t.Phrase)) {
			matched = append(matched, t)
		}
	}
	return matched
}

func appendReason(reasons []string, r string) []string {
	for _, have := range reasons {
		if have == r {
			return reasons
		}
	}
	return append(reasons, r)
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
