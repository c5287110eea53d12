package pipeline

import (
	"context"

	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/scorer"
	"github.com/sells-group/signal-pipeline/internal/store"
)

// scoreDefinition runs the signal scorer. The skip flag it stores is
// advisory: every scored record still goes on to chunking and Tier-1.
func (p *Pipeline) scoreDefinition() Definition {
	return Definition{
		Step: model.StepScore,
		From: model.StagePending,
		To:   model.StageScored,
		Process: func(ctx context.Context, rec *model.ProcessingRecord) (store.Mutation, error) {
			r := p.deps.Scorer.Score(scorer.Input{
				Text:       rec.Text,
				SourceType: rec.SourceType,
				ActorRole:  p.resolveRole(ctx, rec),
				Metadata:   rec.Metadata,
			})
			reasons := r.Reasons
			if reasons == nil {
				reasons = []string{}
			}
			return store.Mutation{Outcome: store.Outcome{
				SignalScore:      &r.Score,
				SignalReasons:    reasons,
				SkipAIProcessing: &r.ShouldSkip,
			}}, nil
		},
	}
}
