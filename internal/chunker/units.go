package chunker

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/signal-pipeline/internal/model"
)

// wordsPerSecond approximates conversational speech when a transcript has
// no timestamps.
const wordsPerSecond = 2.5

var (
	messageSepRe = regexp.MustCompile(`(?im)^[ \t]*(?:-{2,}\s*(?:forwarded|original) message\s*-{2,}|on .+ wrote:|from:\s.+@.+)[ \t]*$`)
	turnStampRe  = regexp.MustCompile(`^\[(\d{1,2}):(\d{2}):(\d{2})\]\s*`)
	turnSpeakRe  = regexp.MustCompile(`^([^:\n]{1,40}):\s`)
)

// emailUnits splits an email thread into messages. Each separator line
// opens the message it introduces.
func emailUnits(text string) []unit {
	var cuts [][]int
	for _, m := range messageSepRe.FindAllStringIndex(text, -1) {
		cuts = append(cuts, []int{m[0], m[0]})
	}
	if len(cuts) == 0 {
		return paragraphUnits(text, 0, len(text))
	}
	return segments(text, 0, len(text), cuts)
}

// chatUnits groups consecutive messages, one per line, into evenly sized
// runs of ChatMinMessages..ChatMaxMessages.
func (c *Chunker) chatUnits(text string) []unit {
	msgs := segments(text, 0, len(text), matchSeps(lineSepRe, text, 0, len(text)))
	n := len(msgs)
	if n == 0 {
		return nil
	}
	groups := (n + c.cfg.ChatMaxMessages - 1) / c.cfg.ChatMaxMessages
	var out []unit
	i := 0
	for g := 0; g < groups; g++ {
		size := n / groups
		if g < n%groups {
			size++
		}
		run := msgs[i : i+size]
		u := unit{start: run[0].start, end: run[len(run)-1].end}
		for _, m := range run {
			if sp := speakerOf(text[m.start:m.end]); sp != "" {
				u.speakers = appendUnique(u.speakers, sp)
			}
		}
		out = append(out, u)
		i += size
	}
	return out
}

type turn struct {
	unit
	stamp   float64
	stamped bool
	words   int
}

// transcriptUnits parses speaker turns and groups them into windows of
// TranscriptMinSecs..TranscriptMaxSecs. Turn times come from "[hh:mm:ss]"
// prefixes, otherwise from a speaking-rate estimate scaled to the recorded
// duration.
func (c *Chunker) transcriptUnits(text string, md model.SourceMetadata) []unit {
	lines := segments(text, 0, len(text), matchSeps(lineSepRe, text, 0, len(text)))
	if len(lines) == 0 {
		return nil
	}

	turns := make([]turn, 0, len(lines))
	anyStamp := false
	for _, l := range lines {
		t := turn{unit: l}
		body := text[l.start:l.end]
		if m := turnStampRe.FindStringSubmatch(body); m != nil {
			h, _ := strconv.Atoi(m[1])
			mi, _ := strconv.Atoi(m[2])
			s, _ := strconv.Atoi(m[3])
			t.stamp = float64(h*3600 + mi*60 + s)
			t.stamped = true
			anyStamp = true
			body = body[len(m[0]):]
		}
		if m := turnSpeakRe.FindStringSubmatch(body); m != nil {
			t.speakers = []string{strings.TrimSpace(m[1])}
		}
		t.words = len(strings.Fields(body))
		turns = append(turns, t)
	}

	if anyStamp {
		c.timeFromStamps(turns, md)
	} else {
		timeFromWords(turns, md)
	}

	var (
		out []unit
		cur []turn
	)
	flush := func() {
		if len(cur) == 0 {
			return
		}
		u := unit{start: cur[0].start, end: cur[len(cur)-1].end}
		s, e := *cur[0].startSec, *cur[len(cur)-1].endSec
		u.startSec, u.endSec = &s, &e
		for _, t := range cur {
			for _, sp := range t.speakers {
				u.speakers = appendUnique(u.speakers, sp)
			}
		}
		out = append(out, u)
		cur = nil
	}
	for _, t := range turns {
		if len(cur) > 0 {
			dur := *cur[len(cur)-1].endSec - *cur[0].startSec
			if *t.endSec-*cur[0].startSec > c.cfg.TranscriptMaxSecs && dur >= c.cfg.TranscriptMinSecs {
				flush()
			}
		}
		cur = append(cur, t)
		if *cur[len(cur)-1].endSec-*cur[0].startSec >= c.cfg.TranscriptMaxSecs {
			flush()
		}
	}
	flush()
	return out
}

// timeFromStamps carries the last seen stamp forward to unstamped turns and
// ends each turn where the next begins.
func (c *Chunker) timeFromStamps(turns []turn, md model.SourceMetadata) {
	last := 0.0
	for i := range turns {
		if turns[i].stamped {
			last = turns[i].stamp
		}
		turns[i].stamp = last
	}
	for i := range turns {
		start := turns[i].stamp
		var end float64
		if i+1 < len(turns) {
			end = math.Max(start, turns[i+1].stamp)
		} else {
			end = start + float64(turns[i].words)/wordsPerSecond
			if md.DurationSeconds > end {
				end = md.DurationSeconds
			}
		}
		turns[i].startSec, turns[i].endSec = ptr(start), ptr(end)
	}
}

func timeFromWords(turns []turn, md model.SourceMetadata) {
	total := 0
	for _, t := range turns {
		total += t.words
	}
	scale := 1 / wordsPerSecond
	if md.DurationSeconds > 0 && total > 0 {
		scale = md.DurationSeconds / float64(total)
	}
	elapsed := 0
	for i := range turns {
		start := float64(elapsed) * scale
		elapsed += turns[i].words
		turns[i].startSec, turns[i].endSec = ptr(start), ptr(float64(elapsed)*scale)
	}
}

// speakerOf returns the "Name:" prefix of a chat line, if any.
func speakerOf(line string) string {
	if m := turnSpeakRe.FindStringSubmatch(line); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func ptr(f float64) *float64 {
	return &f
}
