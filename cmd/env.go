package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-pipeline/internal/actors"
	"github.com/sells-group/signal-pipeline/internal/chunker"
	"github.com/sells-group/signal-pipeline/internal/config"
	"github.com/sells-group/signal-pipeline/internal/insight"
	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/oracle"
	"github.com/sells-group/signal-pipeline/internal/pipeline"
	"github.com/sells-group/signal-pipeline/internal/resilience"
	"github.com/sells-group/signal-pipeline/internal/scorer"
	"github.com/sells-group/signal-pipeline/internal/store"
	"github.com/sells-group/signal-pipeline/pkg/anthropic"
)

// pipelineEnv holds the store and the pipeline built on it for the
// stage, worker and serve commands.
type pipelineEnv struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Breakers *resilience.ServiceBreakers
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// initPipeline validates cfg for mode, opens the store and builds every
// stage dependency. Callers should defer env.Close().
func initPipeline(ctx context.Context, mode string) (*pipelineEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	breakers := resilience.NewServiceBreakers(
		resilience.FromCircuitSettings(cfg.Oracle.FailureThreshold, cfg.Oracle.ResetTimeoutSecs))
	deps, err := buildDeps(cfg, st, breakers)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return &pipelineEnv{Store: st, Pipeline: pipeline.New(deps, cfg.Pipeline), Breakers: breakers}, nil
}

// buildDeps wires every stage collaborator. The oracle and the extractor
// register their circuit breakers in breakers as "oracle" and "extract".
func buildDeps(c *config.Config, st store.Store, breakers *resilience.ServiceBreakers) (pipeline.Deps, error) {
	scCfg, err := scorer.ConfigFrom(c.Scorer)
	if err != nil {
		return pipeline.Deps{}, err
	}
	sc, err := scorer.New(scCfg)
	if err != nil {
		return pipeline.Deps{}, eris.Wrap(err, "build scorer")
	}

	ch, err := chunker.New(chunker.ConfigFrom(c.Chunker))
	if err != nil {
		return pipeline.Deps{}, eris.Wrap(err, "build chunker")
	}

	cache, err := actors.NewLRU[string, model.ActorRole](max(1, c.Actors.CacheSize))
	if err != nil {
		return pipeline.Deps{}, eris.Wrap(err, "build actor cache")
	}

	orc, err := oracle.New(c, breakers)
	if err != nil {
		return pipeline.Deps{}, err
	}

	if c.Anthropic.Key == "" {
		return pipeline.Deps{}, eris.New("anthropic.key is required for extraction")
	}
	ext := insight.NewAnthropic(
		anthropic.NewClient(c.Anthropic.Key, ""),
		c.Anthropic.SonnetModel,
		oracle.GuardFrom(c, c.Anthropic.RequestsPerSecond, breakers, "extract"),
	)

	return pipeline.Deps{
		Store:     st,
		Actors:    actors.NewDirectory(st, cache, c.Actors.InternalDomains),
		Scorer:    sc,
		Chunker:   ch,
		Oracle:    orc,
		Extractor: ext,
	}, nil
}
