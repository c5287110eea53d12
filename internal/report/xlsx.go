// Package report renders feature requests and stage telemetry as an xlsx
// workbook.
package report

import (
	"io"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/signal-pipeline/internal/model"
)

// Sheet names.
const (
	FeatureSheet = "Feature Requests"
	StageSheet   = "Stages"
)

var featureHeader = []string{
	"Workspace", "Title", "Feature Key", "Product Area", "Mentions",
	"Max Confidence", "First Seen", "Last Seen", "Notion Page",
}

var stageHeader = []string{"Workspace", "Stage", "Total", "Dead Lettered", "Locked", "Stale Locked"}

// WriteXLSX writes features, most mentioned first, and stage counts to w.
func WriteXLSX(w io.Writer, features []model.FeatureRequest, stages []model.StageCount) error {
	f := xlsx.NewFile()

	fs, err := f.AddSheet(FeatureSheet)
	if err != nil {
		return eris.Wrap(err, "report: add feature sheet")
	}
	addHeader(fs, featureHeader)

	sorted := append([]model.FeatureRequest(nil), features...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].MentionCount != sorted[j].MentionCount {
			return sorted[i].MentionCount > sorted[j].MentionCount
		}
		return sorted[i].LastSeenAt.After(sorted[j].LastSeenAt)
	})
	for _, fr := range sorted {
		row := fs.AddRow()
		row.AddCell().SetString(fr.WorkspaceID)
		row.AddCell().SetString(fr.Title)
		row.AddCell().SetString(fr.FeatureKey)
		row.AddCell().SetString(fr.ProductArea)
		row.AddCell().SetInt(fr.MentionCount)
		row.AddCell().SetFloatWithFormat(fr.MaxConfidence, "0.00")
		row.AddCell().SetDateTime(fr.FirstSeenAt)
		row.AddCell().SetDateTime(fr.LastSeenAt)
		page := ""
		if fr.NotionPageID != nil {
			page = *fr.NotionPageID
		}
		row.AddCell().SetString(page)
	}

	ss, err := f.AddSheet(StageSheet)
	if err != nil {
		return eris.Wrap(err, "report: add stage sheet")
	}
	addHeader(ss, stageHeader)
	for _, sc := range stages {
		row := ss.AddRow()
		row.AddCell().SetString(sc.WorkspaceID)
		row.AddCell().SetString(string(sc.Stage))
		row.AddCell().SetInt(sc.Total)
		row.AddCell().SetInt(sc.DeadLetter)
		row.AddCell().SetInt(sc.Locked)
		row.AddCell().SetInt(sc.StaleLocked)
	}

	return eris.Wrap(f.Write(w), "report: write workbook")
}

func addHeader(s *xlsx.Sheet, cols []string) {
	row := s.AddRow()
	for _, c := range cols {
		row.AddCell().SetString(c)
	}
}
