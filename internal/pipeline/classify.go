package pipeline

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/store"
)

// classifyDefinition is the Tier-1 gate, the only place records leave the
// pipeline early. score >= threshold moves a record on to extraction;
// anything lower completes it as not relevant.
func (p *Pipeline) classifyDefinition() Definition {
	return Definition{
		Step:        model.StepClassify,
		From:        model.StageChunked,
		To:          model.StageClassified,
		Concurrency: p.oracleCon,
		Process:     p.classifyRecord,
	}
}

// Relevant applies the Tier-1 threshold. The boundary is inclusive.
func Relevant(score, threshold float64) bool {
	return score >= threshold
}

func (p *Pipeline) classifyRecord(ctx context.Context, rec *model.ProcessingRecord) (store.Mutation, error) {
	role := p.resolveRole(ctx, rec)

	chunks, err := p.deps.Store.ListChunks(ctx, rec.ID)
	if err != nil {
		return store.Mutation{}, eris.Wrap(err, "pipeline: classify list chunks")
	}

	if len(chunks) == 0 {
		c, err := p.deps.Oracle.Classify(ctx, rec.Text, rec.SourceType, role)
		if err != nil {
			return store.Mutation{}, err
		}
		return gateMutation(Relevant(c.Score, p.cfg.ClassifyThreshold), c.Score, c.Confidence), nil
	}

	// Chunks classified by an earlier failed attempt keep their verdicts;
	// only the rest go to the oracle.
	var results []store.ChunkResult
	for i := range chunks {
		ch := &chunks[i]
		if ch.Classified() {
			continue
		}
		c, err := p.deps.Oracle.Classify(ctx, ch.Text, rec.SourceType, role)
		if err != nil {
			return store.Mutation{ChunkResults: results}, eris.Wrapf(err, "chunk %d", ch.Index)
		}
		relevant := Relevant(c.Score, p.cfg.ClassifyThreshold)
		results = append(results, store.ChunkResult{
			ChunkID:    ch.ID,
			Relevant:   relevant,
			Score:      c.Score,
			Confidence: c.Confidence,
		})
		ch.IsFeatureRelevant, ch.ClassificationScore, ch.ClassificationConfidence = &relevant, &c.Score, &c.Confidence
	}

	relevant, score, confidence := RollUpChunks(chunks)
	m := gateMutation(relevant, score, confidence)
	m.ChunkResults = results
	return m, nil
}

// RollUpChunks combines chunk verdicts into the parent's: relevant if any
// chunk is, with the highest confidence among relevant chunks. When none is
// relevant the highest confidence overall is kept. score is the highest
// chunk score.
func RollUpChunks(chunks []model.Chunk) (relevant bool, score, confidence float64) {
	var anyConf float64
	for _, ch := range chunks {
		if ch.ClassificationScore != nil && *ch.ClassificationScore > score {
			score = *ch.ClassificationScore
		}
		conf := 0.0
		if ch.ClassificationConfidence != nil {
			conf = *ch.ClassificationConfidence
		}
		anyConf = max(anyConf, conf)
		if ch.IsFeatureRelevant != nil && *ch.IsFeatureRelevant {
			if !relevant || conf > confidence {
				confidence = conf
			}
			relevant = true
		}
	}
	if !relevant {
		confidence = anyConf
	}
	return relevant, score, confidence
}

func gateMutation(relevant bool, score, confidence float64) store.Mutation {
	to := model.StageClassified
	if !relevant {
		to = model.StageCompleted
	}
	return store.Mutation{
		To:    to,
		Stamp: model.StageClassified,
		Outcome: store.Outcome{
			IsFeatureRelevant:        &relevant,
			ClassificationScore:      &score,
			ClassificationConfidence: &confidence,
		},
	}
}
