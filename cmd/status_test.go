package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/signal-pipeline/internal/model"
)

func TestFormatStageCounts(t *testing.T) {
	var buf bytes.Buffer
	formatStageCounts(&buf, []model.StageCount{
		{WorkspaceID: "ws1", Stage: model.StagePending, Total: 12, Locked: 2},
		{WorkspaceID: "ws1", Stage: model.StageCompleted, Total: 40},
	})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 3)
	assert.Contains(t, lines[0], "WORKSPACE")
	assert.Equal(t, []string{"ws1", "pending", "12", "0", "2", "0"}, strings.Fields(lines[1]))
	assert.Equal(t, []string{"ws1", "completed", "40", "0", "0", "0"}, strings.Fields(lines[2]))
}

func TestFormatDeadLetters(t *testing.T) {
	msg := strings.Repeat("x", 120)
	var buf bytes.Buffer
	formatDeadLetters(&buf, []model.ProcessingRecord{
		{ID: "rec-1", WorkspaceID: "ws1", Stage: model.StageChunked, RetryCount: 3, ProcessingError: &msg},
		{ID: "rec-2", WorkspaceID: "ws1", Stage: model.StagePending, RetryCount: 3},
	})

	out := buf.String()
	assert.Contains(t, out, "rec-1")
	assert.Contains(t, out, "rec-2")
	assert.NotContains(t, out, msg)
	assert.Contains(t, out, "…")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abcd…", truncate("abcdefgh", 5))
}
