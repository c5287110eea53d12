package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/store"
)

// aggregateDefinition is Tier-3: each extracted record is counted once into
// its workspace's feature request, in the same commit that completes it.
func (p *Pipeline) aggregateDefinition() Definition {
	return Definition{
		Step: model.StepAggregate,
		From: model.StageExtracted,
		To:   model.StageCompleted,
		Process: func(_ context.Context, rec *model.ProcessingRecord) (store.Mutation, error) {
			if rec.Insights == nil {
				return store.Mutation{}, eris.New("pipeline: aggregate record has no insights")
			}
			mention := FeatureMentionFor(rec)
			return store.Mutation{
				Outcome: store.Outcome{FeatureRequestID: &mention.ID},
				Feature: &mention,
			}, nil
		},
	}
}

// FeatureMentionFor derives the feature request a record rolls into.
func FeatureMentionFor(rec *model.ProcessingRecord) store.FeatureMention {
	key := model.FeatureKey(rec.Insights.FeatureTitle)
	seen := rec.CreatedAt
	if rec.OccurredAt != nil {
		seen = *rec.OccurredAt
	}
	if seen.IsZero() {
		seen = time.Now().UTC()
	}
	conf := 0.0
	if rec.ClassificationConfidence != nil {
		conf = *rec.ClassificationConfidence
	}
	return store.FeatureMention{
		ID:          model.FeatureID(rec.WorkspaceID, key),
		WorkspaceID: rec.WorkspaceID,
		Key:         key,
		Title:       rec.Insights.FeatureTitle,
		ProductArea: rec.Insights.ProductArea,
		Confidence:  conf,
		SeenAt:      seen,
	}
}
