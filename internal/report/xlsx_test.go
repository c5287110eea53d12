package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/signal-pipeline/internal/model"
)

func TestWriteXLSX(t *testing.T) {
	page := "notion-page-1"
	seen := time.Date(2026, 2, 10, 8, 0, 0, 0, time.UTC)
	features := []model.FeatureRequest{
		{WorkspaceID: "ws1", Title: "Dark mode", FeatureKey: "dark-mode", MentionCount: 1,
			MaxConfidence: 0.7, FirstSeenAt: seen, LastSeenAt: seen},
		{WorkspaceID: "ws1", Title: "Bulk invoice export", FeatureKey: "bulk-invoice-export", ProductArea: "billing",
			MentionCount: 4, MaxConfidence: 0.92, FirstSeenAt: seen, LastSeenAt: seen.Add(48 * time.Hour), NotionPageID: &page},
	}
	stages := []model.StageCount{
		{WorkspaceID: "ws1", Stage: model.StagePending, Total: 12, DeadLetter: 2, Locked: 1},
		{WorkspaceID: "ws1", Stage: model.StageCompleted, Total: 30},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, features, stages))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	require.Len(t, f.Sheets, 2)

	fs := f.Sheet[FeatureSheet]
	require.NotNil(t, fs)
	require.Len(t, fs.Rows, 3)
	assert.Equal(t, "Title", fs.Rows[0].Cells[1].String())
	assert.Equal(t, "Bulk invoice export", fs.Rows[1].Cells[1].String(), "most mentioned first")
	assert.Equal(t, "4", fs.Rows[1].Cells[4].String())
	assert.Equal(t, "notion-page-1", fs.Rows[1].Cells[8].String())
	assert.Equal(t, "Dark mode", fs.Rows[2].Cells[1].String())

	ss := f.Sheet[StageSheet]
	require.NotNil(t, ss)
	require.Len(t, ss.Rows, 3)
	assert.Equal(t, "pending", ss.Rows[1].Cells[1].String())
	assert.Equal(t, "2", ss.Rows[1].Cells[3].String())
}

func TestWriteXLSX_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, nil, nil))

	f, err := xlsx.OpenBinary(buf.Bytes())
	require.NoError(t, err)
	assert.Len(t, f.Sheet[FeatureSheet].Rows, 1)
}
