package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/sells-group/signal-pipeline/internal/chunker"
	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/store"
)

// chunkDefinition splits long records into chunk rows. Short records and
// single-chunk results advance with no chunks, and Tier-1 classifies the
// record text directly.
func (p *Pipeline) chunkDefinition() Definition {
	return Definition{
		Step: model.StepChunk,
		From: model.StageScored,
		To:   model.StageChunked,
		ShouldSkip: func(rec *model.ProcessingRecord) bool {
			return chunker.EstimateTokens(rec.Text) < p.deps.Chunker.Config().MinTokens
		},
		Process: func(_ context.Context, rec *model.ProcessingRecord) (store.Mutation, error) {
			pieces := p.deps.Chunker.Split(rec.Text, rec.SourceType, rec.Metadata)
			if len(pieces) <= 1 {
				return store.Mutation{}, nil
			}
			chunks := make([]model.Chunk, len(pieces))
			for i, pc := range pieces {
				chunks[i] = model.Chunk{
					ID:            uuid.New().String(),
					RecordID:      rec.ID,
					WorkspaceID:   rec.WorkspaceID,
					Index:         pc.Index,
					Text:          pc.Text,
					TokenEstimate: pc.TokenEstimate,
					StartOffset:   pc.StartOffset,
					EndOffset:     pc.EndOffset,
					Speakers:      pc.Speakers,
					StartSeconds:  pc.StartSeconds,
					EndSeconds:    pc.EndSeconds,
					Strategy:      pc.Strategy,
				}
			}
			return store.Mutation{Chunks: chunks}, nil
		},
	}
}
