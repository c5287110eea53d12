// Package chunker splits long record text into bounded, traceable units for
// per-chunk classification.
package chunker

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-pipeline/internal/config"
	"github.com/sells-group/signal-pipeline/internal/model"
)

// Strategy names recorded on each chunk.
const (
	StrategySingle     = "single"
	StrategyEmail      = "email"
	StrategyChat       = "chat"
	StrategyTranscript = "transcript"
	StrategyParagraph  = "paragraph"
	StrategySentence   = "sentence"
	StrategyWindow     = "window"
)

// strategyRank orders fallbacks from coarse to fine. A chunk reports the
// finest strategy any of its units needed.
var strategyRank = map[string]int{
	StrategyParagraph: 1,
	StrategySentence:  2,
	StrategyWindow:    3,
}

// Config bounds chunk sizes. Token counts are EstimateTokens values.
type Config struct {
	TargetTokens      int
	MinTokens         int
	MaxTokens         int
	ChatMinMessages   int
	ChatMaxMessages   int
	TranscriptMinSecs float64
	TranscriptMaxSecs float64
}

// DefaultConfig returns the standard sizing.
func DefaultConfig() Config {
	return Config{
		TargetTokens:      400,
		MinTokens:         150,
		MaxTokens:         600,
		ChatMinMessages:   3,
		ChatMaxMessages:   5,
		TranscriptMinSecs: 30,
		TranscriptMaxSecs: 60,
	}
}

// ConfigFrom converts application settings.
func ConfigFrom(c config.ChunkerConfig) Config {
	return Config{
		TargetTokens:      c.TargetTokens,
		MinTokens:         c.MinTokens,
		MaxTokens:         c.MaxTokens,
		ChatMinMessages:   c.ChatMinMessages,
		ChatMaxMessages:   c.ChatMaxMessages,
		TranscriptMinSecs: float64(c.TranscriptMinSecs),
		TranscriptMaxSecs: float64(c.TranscriptMaxSecs),
	}
}

// Validate checks the size bounds are consistent.
func (c Config) Validate() error {
	switch {
	case c.MinTokens <= 0:
		return eris.New("chunker: min tokens must be > 0")
	case c.MinTokens > c.TargetTokens || c.TargetTokens > c.MaxTokens:
		return eris.Errorf("chunker: need min <= target <= max, got %d/%d/%d", c.MinTokens, c.TargetTokens, c.MaxTokens)
	case c.ChatMinMessages < 1 || c.ChatMinMessages > c.ChatMaxMessages:
		return eris.Errorf("chunker: invalid chat group bounds %d-%d", c.ChatMinMessages, c.ChatMaxMessages)
	case c.TranscriptMinSecs <= 0 || c.TranscriptMinSecs > c.TranscriptMaxSecs:
		return eris.Errorf("chunker: invalid transcript window %.0f-%.0fs", c.TranscriptMinSecs, c.TranscriptMaxSecs)
	}
	return nil
}

// Piece is one chunk of the input. Offsets are byte offsets into the text
// passed to Split, so text[StartOffset:EndOffset] == Text.
type Piece struct {
	Index         int
	Text          string
	TokenEstimate int
	StartOffset   int
	EndOffset     int
	Speakers      []string
	StartSeconds  *float64
	EndSeconds    *float64
	Strategy      string
}

// EstimateTokens approximates a token count at four characters per token.
func EstimateTokens(s string) int {
	return (utf8.RuneCountInString(s) + 3) / 4
}

// Chunker is a pure, deterministic splitter.
type Chunker struct {
	cfg Config
}

// New validates cfg and returns a Chunker.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{cfg: cfg}, nil
}

// Config returns the sizing in use.
func (c *Chunker) Config() Config {
	return c.cfg
}

// unit is an indivisible-for-now span of the text plus the metadata it
// carries into a chunk.
type unit struct {
	start, end int
	speakers   []string
	startSec   *float64
	endSec     *float64
	strategy   string
}

// Split cuts text into chunks along the natural boundaries of sourceType.
// Text below the minimum size comes back as a single chunk unchanged.
func (c *Chunker) Split(text string, sourceType model.SourceType, md model.SourceMetadata) []Piece {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if EstimateTokens(text) < c.cfg.MinTokens {
		return []Piece{{
			Text:          text,
			TokenEstimate: EstimateTokens(text),
			EndOffset:     len(text),
			Strategy:      StrategySingle,
		}}
	}

	var (
		units []unit
		base  string
	)
	switch sourceType {
	case model.SourceEmail:
		units, base = emailUnits(text), StrategyEmail
	case model.SourceChat:
		units, base = c.chatUnits(text), StrategyChat
	case model.SourceTranscript:
		units, base = c.transcriptUnits(text, md), StrategyTranscript
	default:
		units, base = paragraphUnits(text, 0, len(text)), StrategyParagraph
	}

	var bounded []unit
	for _, u := range units {
		bounded = append(bounded, subdivide(text, u, c.cfg.MaxTokens)...)
	}

	groups := c.pack(text, bounded)
	groups = c.mergeTail(text, groups)

	pieces := make([]Piece, 0, len(groups))
	for i, g := range groups {
		pieces = append(pieces, buildPiece(text, g, base, i))
	}
	return pieces
}

// pack greedily fills chunks up to the target without crossing the
// maximum. A unit that would overflow a chunk still below the minimum is
// split so the chunk can be filled.
func (c *Chunker) pack(text string, units []unit) [][]unit {
	var (
		out   [][]unit
		cur   []unit
		queue = units
	)
	emit := func() {
		if len(cur) > 0 {
			out = append(out, cur)
			cur = nil
		}
	}

	for len(queue) > 0 {
		u := queue[0]
		queue = queue[1:]

		if len(cur) > 0 && spanTokens(text, cur[0].start, u.end) > c.cfg.MaxTokens {
			curTok := spanTokens(text, cur[0].start, cur[len(cur)-1].end)
			if curTok < c.cfg.MinTokens {
				budget := c.cfg.TargetTokens - curTok
				parts := subdivide(text, u, budget)
				taken := 0
				for taken < len(parts) && spanTokens(text, cur[0].start, parts[taken].end) <= c.cfg.MaxTokens {
					taken++
				}
				if taken > 0 && taken < len(parts) {
					cur = append(cur, parts[:taken]...)
					emit()
					queue = append(append([]unit{}, parts[taken:]...), queue...)
					continue
				}
			}
			emit()
		}

		cur = append(cur, u)
		if spanTokens(text, cur[0].start, u.end) >= c.cfg.TargetTokens {
			emit()
		}
	}
	emit()
	return out
}

// mergeTail folds an undersized last chunk into its predecessor when the
// result still fits.
func (c *Chunker) mergeTail(text string, groups [][]unit) [][]unit {
	if len(groups) < 2 {
		return groups
	}
	last := groups[len(groups)-1]
	prev := groups[len(groups)-2]
	if spanTokens(text, last[0].start, last[len(last)-1].end) >= c.cfg.MinTokens {
		return groups
	}
	if spanTokens(text, prev[0].start, last[len(last)-1].end) > c.cfg.MaxTokens {
		return groups
	}
	merged := append(append([]unit{}, prev...), last...)
	return append(groups[:len(groups)-2], merged)
}

func buildPiece(text string, g []unit, base string, index int) Piece {
	first, last := g[0], g[len(g)-1]
	p := Piece{
		Index:         index,
		Text:          text[first.start:last.end],
		StartOffset:   first.start,
		EndOffset:     last.end,
		StartSeconds:  first.startSec,
		EndSeconds:    last.endSec,
		Strategy:      base,
		TokenEstimate: spanTokens(text, first.start, last.end),
	}
	rank := 0
	seen := map[string]bool{}
	for _, u := range g {
		if r := strategyRank[u.strategy]; r > rank && u.strategy != base {
			rank = r
			p.Strategy = u.strategy
		}
		for _, s := range u.speakers {
			if !seen[s] {
				seen[s] = true
				p.Speakers = append(p.Speakers, s)
			}
		}
	}
	return p
}

func spanTokens(text string, start, end int) int {
	return EstimateTokens(text[start:end])
}

var (
	paragraphSepRe = regexp.MustCompile(`\n[ \t]*\n`)
	sentenceEndRe  = regexp.MustCompile(`[.!?]+["')\]]*(\s+)`)
	lineSepRe      = regexp.MustCompile(`\n`)
)

// segments cuts text[start:end] at the given separator ranges and trims
// whitespace from each resulting span. Empty spans are dropped.
func segments(text string, start, end int, seps [][]int) []unit {
	var out []unit
	pos := start
	add := func(s, e int) {
		s, e = trim(text, s, e)
		if s < e {
			out = append(out, unit{start: s, end: e})
		}
	}
	for _, sep := range seps {
		add(pos, sep[0])
		pos = sep[1]
	}
	add(pos, end)
	return out
}

func trim(text string, s, e int) (int, int) {
	for s < e {
		r, size := utf8.DecodeRuneInString(text[s:e])
		if !unicode.IsSpace(r) {
			break
		}
		s += size
	}
	for e > s {
		r, size := utf8.DecodeLastRuneInString(text[s:e])
		if !unicode.IsSpace(r) {
			break
		}
		e -= size
	}
	return s, e
}

// matchSeps returns separator ranges of re within text[start:end] as
// absolute offsets. When re has a capture group the group is the separator.
func matchSeps(re *regexp.Regexp, text string, start, end int) [][]int {
	var out [][]int
	for _, m := range re.FindAllStringSubmatchIndex(text[start:end], -1) {
		a, b := m[0], m[1]
		if len(m) >= 4 && m[2] >= 0 {
			a, b = m[2], m[3]
		}
		out = append(out, []int{start + a, start + b})
	}
	return out
}

func paragraphUnits(text string, start, end int) []unit {
	return segments(text, start, end, matchSeps(paragraphSepRe, text, start, end))
}

// subdivide breaks u into parts no larger than limit tokens, falling back
// from paragraphs to sentences to fixed word windows.
func subdivide(text string, u unit, limit int) []unit {
	if limit <= 0 || spanTokens(text, u.start, u.end) <= limit {
		return []unit{u}
	}
	for _, level := range []struct {
		re       *regexp.Regexp
		strategy string
	}{
		{paragraphSepRe, StrategyParagraph},
		{sentenceEndRe, StrategySentence},
	} {
		parts := segments(text, u.start, u.end, matchSeps(level.re, text, u.start, u.end))
		if len(parts) < 2 {
			continue
		}
		var out []unit
		for _, p := range parts {
			p = inherit(u, p, level.strategy)
			out = append(out, subdivide(text, p, limit)...)
		}
		return out
	}
	return windows(text, u, limit)
}

// windows splits at word boundaries, or mid-word when a single word is
// longer than the limit.
func windows(text string, u unit, limit int) []unit {
	maxBytes := limit * 4
	var out []unit
	s := u.start
	for s < u.end {
		e := s
		for e < u.end {
			next := nextWordEnd(text, e, u.end)
			if spanTokens(text, s, next) > limit {
				break
			}
			e = next
		}
		if e == s {
			e = s + maxBytes
			if e > u.end {
				e = u.end
			}
			for e > s && e < len(text) && !utf8.RuneStart(text[e]) {
				e--
			}
			if e == s {
				e = u.end
			}
		}
		ps, pe := trim(text, s, e)
		if ps < pe {
			out = append(out, inherit(u, unit{start: ps, end: pe}, StrategyWindow))
		}
		s = e
	}
	return out
}

// nextWordEnd returns the end of the word following pos, including any
// leading whitespace.
func nextWordEnd(text string, pos, end int) int {
	i := pos
	for i < end {
		r, size := utf8.DecodeRuneInString(text[i:end])
		if !unicode.IsSpace(r) {
			break
		}
		i += size
	}
	for i < end {
		r, size := utf8.DecodeRuneInString(text[i:end])
		if unicode.IsSpace(r) {
			break
		}
		i += size
	}
	return i
}

// inherit copies u's metadata onto a sub-span, interpolating seconds by
// byte offset when u has both bounds.
func inherit(u, part unit, strategy string) unit {
	part.speakers = u.speakers
	part.strategy = strategy
	if r := strategyRank[u.strategy]; r > strategyRank[strategy] {
		part.strategy = u.strategy
	}
	if u.startSec != nil && u.endSec != nil && u.end > u.start {
		span := float64(u.end - u.start)
		dur := *u.endSec - *u.startSec
		s := *u.startSec + dur*float64(part.start-u.start)/span
		e := *u.startSec + dur*float64(part.end-u.start)/span
		part.startSec, part.endSec = &s, &e
	} else {
		part.startSec, part.endSec = u.startSec, u.endSec
	}
	return part
}
