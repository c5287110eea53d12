// Package scorer implements the heuristic signal pre-filter that estimates,
// before any AI call, how likely a record is to carry feature-request
// language.
package scorer

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/signal-pipeline/internal/config"
)

// Term is one lexicon phrase. Matching is a case-insensitive substring test,
// so a stem such as "frustrat" covers its inflections.
type Term struct {
	Phrase string  `yaml:"phrase"`
	Weight float64 `yaml:"weight"`
	Reason string  `yaml:"reason"`
}

// Lexicon holds the weighted signal phrases.
type Lexicon struct {
	Positive []Term `yaml:"positive"`
	Negative []Term `yaml:"negative"`
}

// Config configures a Scorer.
type Config struct {
	BaseScore     float64
	SkipThreshold float64
	Lexicon       Lexicon
}

// DefaultLexicon returns the built-in phrase list.
func DefaultLexicon() Lexicon {
	return Lexicon{
		Positive: []Term{
			{Phrase: "feature request", Weight: 0.25, Reason: "feature_request"},
			{Phrase: "would be great if", Weight: 0.2, Reason: "wish"},
			{Phrase: "would be nice", Weight: 0.2, Reason: "wish"},
			{Phrase: "can you add", Weight: 0.2, Reason: "ask"},
			{Phrase: "could you add", Weight: 0.2, Reason: "ask"},
			{Phrase: "is there a way", Weight: 0.15, Reason: "ask"},
			{Phrase: "we need", Weight: 0.15, Reason: "need"},
			{Phrase: "i wish", Weight: 0.15, Reason: "wish"},
			{Phrase: "doesn't support", Weight: 0.2, Reason: "gap"},
			{Phrase: "does not support", Weight: 0.2, Reason: "gap"},
			{Phrase: "missing", Weight: 0.1, Reason: "gap"},
			{Phrase: "workaround", Weight: 0.15, Reason: "pain_point"},
			{Phrase: "frustrat", Weight: 0.15, Reason: "pain_point"},
			{Phrase: "manually", Weight: 0.1, Reason: "pain_point"},
			{Phrase: "integrat", Weight: 0.1, Reason: "integration"},
			{Phrase: "roadmap", Weight: 0.1, Reason: "roadmap"},
		},
		Negative: []Term{
			{Phrase: "invoice", Weight: 0.15, Reason: "billing"},
			{Phrase: "pricing", Weight: 0.1, Reason: "billing"},
			{Phrase: "refund", Weight: 0.15, Reason: "billing"},
			{Phrase: "password reset", Weight: 0.2, Reason: "support"},
			{Phrase: "out of office", Weight: 0.3, Reason: "auto_reply"},
			{Phrase: "unsubscribe", Weight: 0.3, Reason: "marketing"},
			{Phrase: "lunch", Weight: 0.2, Reason: "chit_chat"},
			{Phrase: "happy friday", Weight: 0.2, Reason: "chit_chat"},
		},
	}
}

// ConfigFrom builds a Config from application settings, loading the lexicon
// override when one is configured.
func ConfigFrom(c config.ScorerConfig) (Config, error) {
	cfg := Config{
		BaseScore:     c.BaseScore,
		SkipThreshold: c.SkipThreshold,
		Lexicon:       DefaultLexicon(),
	}
	if c.LexiconPath != "" {
		lex, err := LoadLexicon(c.LexiconPath)
		if err != nil {
			return cfg, err
		}
		cfg.Lexicon = lex
	}
	return cfg, ValidateConfig(cfg)
}

// LoadLexicon reads a YAML lexicon file.
func LoadLexicon(path string) (Lexicon, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Lexicon{}, eris.Wrapf(err, "scorer: read lexicon %s", path)
	}
	var lex Lexicon
	if err := yaml.Unmarshal(raw, &lex); err != nil {
		return Lexicon{}, eris.Wrapf(err, "scorer: parse lexicon %s", path)
	}
	return lex, nil
}

// ValidateConfig checks that a Config is internally consistent.
func ValidateConfig(c Config) error {
	var errs []string

	if c.BaseScore < 0 || c.BaseScore > 1 {
		errs = append(errs, "base_score must be between 0 and 1")
	}
	if c.SkipThreshold < 0 || c.SkipThreshold > 1 {
		errs = append(errs, "skip_threshold must be between 0 and 1")
	}
	if len(c.Lexicon.Positive) == 0 {
		errs = append(errs, "lexicon needs at least one positive term")
	}

	check := func(kind string, terms []Term) {
		for i, t := range terms {
			if strings.TrimSpace(t.Phrase) == "" {
				errs = append(errs, fmt.Sprintf("%s[%d]: phrase is empty", kind, i))
			}
			if t.Weight <= 0 || t.Weight > 1 {
				errs = append(errs, fmt.Sprintf("%s[%d] %q: weight must be in (0, 1]", kind, i, t.Phrase))
			}
		}
	}
	check("positive", c.Lexicon.Positive)
	check("negative", c.Lexicon.Negative)

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
