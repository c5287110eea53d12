package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/store"
)

// mockCounter implements StageCounter for testing.
type mockCounter struct {
	counts []model.StageCount
	err    error
	last   store.StageCountFilter
}

func (m *mockCounter) StageCounts(_ context.Context, filter store.StageCountFilter) ([]model.StageCount, error) {
	m.last = filter
	if m.err != nil {
		return nil, m.err
	}
	var out []model.StageCount
	for _, c := range m.counts {
		if filter.WorkspaceID != "" && c.WorkspaceID != filter.WorkspaceID {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func sampleCounts() []model.StageCount {
	return []model.StageCount{
		{WorkspaceID: "ws1", Stage: model.StagePending, Total: 10, DeadLetter: 2, Locked: 3, StaleLocked: 1},
		{WorkspaceID: "ws1", Stage: model.StageChunked, Total: 4, Locked: 4},
		{WorkspaceID: "ws1", Stage: model.StageCompleted, Total: 40},
		{WorkspaceID: "ws2", Stage: model.StageClassified, Total: 5, DeadLetter: 1},
		{WorkspaceID: "ws2", Stage: model.StageCompleted, Total: 7},
	}
}

func TestCollector_Collect(t *testing.T) {
	st := &mockCounter{counts: sampleCounts()}
	c := NewCollector(st, 3, 30*time.Minute)
	fixed := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return fixed }

	snap, err := c.Collect(context.Background(), "")
	require.NoError(t, err)

	assert.Len(t, snap.Stages, 5)
	assert.Equal(t, 47, snap.Completed)
	assert.Equal(t, 16, snap.Backlog)
	assert.Equal(t, 3, snap.DeadLettered)
	assert.Equal(t, 7, snap.Locked)
	assert.Equal(t, 1, snap.StaleLocked)
	assert.Equal(t, 47, snap.ByStage[model.StageCompleted])
	assert.Equal(t, fixed, snap.CollectedAt)

	assert.Equal(t, 3, st.last.MaxRetries)
	assert.Equal(t, fixed.Add(-30*time.Minute), st.last.StaleBefore)
}

func TestCollector_CollectWorkspace(t *testing.T) {
	st := &mockCounter{counts: sampleCounts()}
	c := NewCollector(st, 3, 0)

	snap, err := c.Collect(context.Background(), "ws2")
	require.NoError(t, err)
	assert.Equal(t, 7, snap.Completed)
	assert.Equal(t, 4, snap.Backlog)
	assert.Equal(t, 1, snap.DeadLettered)
	assert.True(t, st.last.StaleBefore.IsZero())
}

func TestCollector_StoreError(t *testing.T) {
	c := NewCollector(&mockCounter{err: errors.New("db down")}, 3, time.Minute)

	_, err := c.Collect(context.Background(), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}
