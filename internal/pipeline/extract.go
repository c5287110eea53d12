package pipeline

import (
	"context"
	"strings"

	sq "github.com/Masterminds/squirrel"
	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-pipeline/internal/insight"
	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/store"
)

// extractDefinition is Tier-2: relevant records get structured insights.
func (p *Pipeline) extractDefinition() Definition {
	return Definition{
		Step:        model.StepExtract,
		From:        model.StageClassified,
		To:          model.StageExtracted,
		Where:       sq.Eq{"is_feature_relevant": true},
		Concurrency: p.oracleCon,
		Process: func(ctx context.Context, rec *model.ProcessingRecord) (store.Mutation, error) {
			text, err := p.relevantText(ctx, rec)
			if err != nil {
				return store.Mutation{}, err
			}
			res, err := p.deps.Extractor.Extract(ctx, insight.Input{
				Text:       text,
				SourceType: rec.SourceType,
				ActorRole:  p.resolveRole(ctx, rec),
				Title:      rec.Title,
			})
			if err != nil {
				return store.Mutation{}, err
			}
			ins, ok := res.Get()
			if !ok {
				return store.Mutation{}, res.Err()
			}
			return store.Mutation{Outcome: store.Outcome{Insights: &ins}}, nil
		},
	}
}

// relevantText is the record text, narrowed to its relevant chunks when it
// was chunked.
func (p *Pipeline) relevantText(ctx context.Context, rec *model.ProcessingRecord) (string, error) {
	chunks, err := p.deps.Store.ListChunks(ctx, rec.ID)
	if err != nil {
		return "", eris.Wrap(err, "pipeline: extract list chunks")
	}
	var parts []string
	for _, ch := range chunks {
		if ch.IsFeatureRelevant != nil && *ch.IsFeatureRelevant {
			parts = append(parts, ch.Text)
		}
	}
	if len(parts) == 0 {
		return rec.Text, nil
	}
	return strings.Join(parts, "\n\n"), nil
}
