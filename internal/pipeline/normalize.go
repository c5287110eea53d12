package pipeline

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/normalize"
	"github.com/sells-group/signal-pipeline/internal/store"
)

// Normalize materializes processing records from source records that have
// none yet. Eligibility is an anti-join, not a claim: creation has no row to
// lock, and the unique source_ref makes a racing duplicate a no-op.
func (p *Pipeline) Normalize(ctx context.Context, workspaceID string) (Result, error) {
	start := time.Now()
	res := Result{Step: model.StepNormalize, WorkspaceID: workspaceID}
	log := zap.L().With(zap.String("stage", string(model.StepNormalize)), zap.String("workspace_id", workspaceID))

	sources, err := p.deps.Store.UnnormalizedSources(ctx, store.SourceFilter{
		WorkspaceID: workspaceID,
		Limit:       p.proc.opts.BatchSize,
	})
	if err != nil {
		return res, eris.Wrap(err, "pipeline: normalize load sources")
	}
	if len(sources) == 0 {
		return res, nil
	}
	res.Claimed = len(sources)

	records, skips := p.normalizeSources(sources)
	created, err := p.deps.Store.CreateRecords(ctx, records, skips)
	if err != nil {
		return res, eris.Wrap(err, "pipeline: normalize create records")
	}
	res.Advanced = int(created)
	res.Skipped = len(skips)
	res.Duration = time.Since(start)

	log.Info("pipeline: stage batch complete",
		zap.Int("sources", len(sources)),
		zap.Int64("created", created),
		zap.Int("too_short", len(skips)),
		zap.Duration("duration", res.Duration),
	)
	return res, nil
}

// normalizeSources cleans each source and splits them into records to
// create and sources too short to keep.
func (p *Pipeline) normalizeSources(sources []model.SourceRecord) ([]model.ProcessingRecord, []store.Skip) {
	var (
		records []model.ProcessingRecord
		skips   []store.Skip
	)
	for _, src := range sources {
		cleaned := normalize.Clean(src.RawText, src.SourceType)
		length := utf8.RuneCountInString(cleaned.Text)
		if minLen := p.cfg.MinLength.For(string(src.SourceType)); length < minLen {
			skips = append(skips, store.Skip{
				SourceRef:   src.ID,
				WorkspaceID: src.WorkspaceID,
				Reason:      fmt.Sprintf("cleaned text %d chars, minimum %d", length, minLen),
				TextLength:  length,
			})
			continue
		}
		records = append(records, model.ProcessingRecord{
			ID:          uuid.New().String(),
			WorkspaceID: src.WorkspaceID,
			SourceRef:   src.ID,
			SourceType:  src.SourceType,
			Text:        cleaned.Text,
			TextLength:  length,
			Actor:       src.Actor,
			ActorEmail:  src.ActorEmail,
			Title:       src.Title,
			Channel:     src.Channel,
			OccurredAt:  src.OccurredAt,
			Metadata:    src.Metadata,
			Removed:     cleaned.Removed,
			Stage:       model.StagePending,
		})
	}
	return records, skips
}
