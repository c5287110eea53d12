// Package normalize cleans raw interaction text before it enters the
// pipeline. Clean is pure and deterministic.
package normalize

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/signal-pipeline/internal/model"
)

// Keys of Result.Removed.
const (
	RemovedHTMLTags        = "html_tags"
	RemovedQuotedLines     = "quoted_lines"
	RemovedReplyHeaders    = "reply_headers"
	RemovedSignatures      = "signatures"
	RemovedMentions        = "mentions"
	RemovedEmoji           = "emoji_codes"
	RemovedChannelLinks    = "channel_links"
	RemovedTimestamps      = "timestamps"
	RemovedSpeakerPrefixes = "speaker_prefixes"
)

// Result is the cleaned text and a count of what was stripped, keyed by the
// Removed* constants. Zero counts are omitted.
type Result struct {
	Text    string
	Removed map[string]int
}

func (r *Result) add(key string, n int) {
	if n <= 0 {
		return
	}
	if r.Removed == nil {
		r.Removed = map[string]int{}
	}
	r.Removed[key] += n
}

// Clean applies generic cleanup followed by the rules for sourceType.
func Clean(text string, sourceType model.SourceType) Result {
	var res Result

	text = norm.NFKC.String(text)
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	if looksLikeHTML(text) {
		var n int
		text, n = stripHTML(text)
		res.add(RemovedHTMLTags, n)
	}

	switch sourceType {
	case model.SourceEmail:
		text = cleanEmail(text, &res)
	case model.SourceChat:
		text = cleanChat(text, &res)
	case model.SourceTranscript:
		text = cleanTranscript(text, &res)
	}

	res.Text = collapseWhitespace(text)
	return res
}

var (
	tagRe      = regexp.MustCompile(`(?s)<!--.*?-->|</?[a-zA-Z][a-zA-Z0-9]*(?:\s[^>]*)?/?>`)
	spaceRunRe = regexp.MustCompile(`[ \t\f\v\x{00a0}]+`)
	blankRunRe = regexp.MustCompile(`\n{3,}`)
	blockTags  = "p, div, br, li, tr, h1, h2, h3, h4, h5, h6, blockquote"
)

func looksLikeHTML(s string) bool {
	return tagRe.MatchString(s)
}

// stripHTML renders markup to text, keeping a line break after block
// elements. It returns the number of tags removed.
func stripHTML(s string) (string, int) {
	tags := len(tagRe.FindAllStringIndex(s, -1))
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return tagRe.ReplaceAllString(s, " "), tags
	}
	doc.Find("script, style, head").Remove()
	doc.Find(blockTags).Each(func(_ int, sel *goquery.Selection) {
		sel.AppendHtml("\n")
	})
	return doc.Text(), tags
}

func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(spaceRunRe.ReplaceAllString(l, " "))
	}
	out := strings.Join(lines, "\n")
	out = blankRunRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// Email

var (
	replyHeaderRe = regexp.MustCompile(`(?i)^\s*(on\s.+\swrote:|-{2,}\s*original message\s*-{2,}|-{2,}\s*forwarded message\s*-{2,}|from:\s.+@.+)\s*$`)
	signatureRe   = regexp.MustCompile(`(?i)^\s*(--\s*|sent from my \w+.*|get outlook for \w+.*)$`)
)

// cleanEmail drops quoted reply lines, everything after the first reply
// header and everything after a signature delimiter.
func cleanEmail(s string, res *Result) string {
	lines := strings.Split(s, "\n")
	kept := make([]string, 0, len(lines))
	for i, l := range lines {
		if replyHeaderRe.MatchString(l) {
			res.add(RemovedReplyHeaders, 1)
			res.add(RemovedQuotedLines, countQuoted(lines[i+1:]))
			break
		}
		if signatureRe.MatchString(l) {
			res.add(RemovedSignatures, 1)
			break
		}
		if strings.HasPrefix(strings.TrimSpace(l), ">") {
			res.add(RemovedQuotedLines, 1)
			continue
		}
		kept = append(kept, l)
	}
	return strings.Join(kept, "\n")
}

func countQuoted(lines []string) int {
	n := 0
	for _, l := range lines {
		if strings.HasPrefix(strings.TrimSpace(l), ">") {
			n++
		}
	}
	return n
}

// Chat

var (
	channelLinkRe = regexp.MustCompile(`<#[A-Z0-9]+(\|[^>]*)?>`)
	userMentionRe = regexp.MustCompile(`<@[A-Z0-9]+(\|[^>]*)?>|(^|\s)@[\w.\-]+`)
	emojiCodeRe   = regexp.MustCompile(`:[a-z0-9_+\-]*[a-z][a-z0-9_+\-]*:`)
)

func cleanChat(s string, res *Result) string {
	s = replaceCounting(s, channelLinkRe, " ", RemovedChannelLinks, res)
	s = replaceCounting(s, userMentionRe, " ", RemovedMentions, res)
	s = replaceCounting(s, emojiCodeRe, "", RemovedEmoji, res)
	return s
}

func replaceCounting(s string, re *regexp.Regexp, repl, key string, res *Result) string {
	res.add(key, len(re.FindAllStringIndex(s, -1)))
	return re.ReplaceAllString(s, repl)
}

// Transcript

var (
	timestampRe = regexp.MustCompile(`^\s*[\[(]?(\d{1,2}:\d{2}(?::\d{2})?)(?:[.,]\d+)?[\])]?\s*`)
	speakerRe   = regexp.MustCompile(`^([\p{L}][\p{L}\p{N} .'\-]{0,40}?):\s+`)
)

// cleanTranscript canonicalizes "[hh:mm:ss] Speaker: text" turns. Timestamps
// repeated inside a turn are dropped and consecutive lines from the same
// speaker are merged into one turn.
func cleanTranscript(s string, res *Result) string {
	var (
		turns       []string
		lastSpeaker string
		lastStamp   string
	)
	for _, line := range strings.Split(s, "\n") {
		stamp := ""
		for {
			m := timestampRe.FindStringSubmatch(line)
			if m == nil || m[0] == "" {
				break
			}
			if stamp == "" {
				stamp = canonicalStamp(m[1])
			} else {
				res.add(RemovedTimestamps, 1)
			}
			line = line[len(m[0]):]
		}

		speaker := ""
		if m := speakerRe.FindStringSubmatch(line); m != nil {
			speaker = strings.TrimSpace(m[1])
			line = line[len(m[0]):]
			for {
				dup := speakerRe.FindStringSubmatch(line)
				if dup == nil || !strings.EqualFold(strings.TrimSpace(dup[1]), speaker) {
					break
				}
				res.add(RemovedSpeakerPrefixes, 1)
				line = line[len(dup[0]):]
			}
		}
		line = strings.TrimSpace(line)
		if line == "" {
			if stamp != "" {
				res.add(RemovedTimestamps, 1)
			}
			continue
		}

		if len(turns) > 0 && (speaker == "" || strings.EqualFold(speaker, lastSpeaker)) {
			if speaker != "" {
				res.add(RemovedSpeakerPrefixes, 1)
			}
			if stamp != "" {
				res.add(RemovedTimestamps, 1)
			}
			turns[len(turns)-1] += " " + line
			continue
		}
		if stamp != "" && stamp == lastStamp {
			res.add(RemovedTimestamps, 1)
			stamp = ""
		}

		var b strings.Builder
		if stamp != "" {
			b.WriteString("[" + stamp + "] ")
			lastStamp = stamp
		}
		if speaker != "" {
			b.WriteString(speaker + ": ")
		}
		b.WriteString(line)
		turns = append(turns, b.String())
		lastSpeaker = speaker
	}
	return strings.Join(turns, "\n")
}

// canonicalStamp renders m:ss, mm:ss or h:mm:ss as hh:mm:ss.
func canonicalStamp(s string) string {
	parts := strings.Split(s, ":")
	vals := make([]int, 3)
	for i, p := range parts {
		vals[3-len(parts)+i], _ = strconv.Atoi(p)
	}
	return fmt.Sprintf("%02d:%02d:%02d", vals[0], vals[1], vals[2])
}
