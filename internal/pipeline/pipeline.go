package pipeline

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-pipeline/internal/actors"
	"github.com/sells-group/signal-pipeline/internal/chunker"
	"github.com/sells-group/signal-pipeline/internal/config"
	"github.com/sells-group/signal-pipeline/internal/insight"
	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/oracle"
	"github.com/sells-group/signal-pipeline/internal/scorer"
	"github.com/sells-group/signal-pipeline/internal/store"
)

// Deps are the collaborators the stages need.
type Deps struct {
	Store     store.Store
	Actors    *actors.Directory
	Scorer    *scorer.Scorer
	Chunker   *chunker.Chunker
	Oracle    oracle.Classifier
	Extractor insight.Extractor
}

// Pipeline exposes one entry point per step.
type Pipeline struct {
	deps      Deps
	cfg       config.PipelineConfig
	proc      *Processor
	oracleCon int
}

// New wires a Pipeline.
func New(deps Deps, cfg config.PipelineConfig) *Pipeline {
	return &Pipeline{
		deps: deps,
		cfg:  cfg,
		proc: NewProcessor(deps.Store, Options{
			BatchSize:  cfg.BatchSize,
			MaxRetries: cfg.MaxRetries,
		}),
		oracleCon: 4,
	}
}

// Processor exposes the shared claim loop.
func (p *Pipeline) Processor() *Processor {
	return p.proc
}

// Run invokes one step for a workspace, or for all workspaces when
// workspaceID is empty.
func (p *Pipeline) Run(ctx context.Context, step model.Step, workspaceID string) (Result, error) {
	if step == model.StepNormalize {
		return p.Normalize(ctx, workspaceID)
	}
	def, err := p.Definition(step)
	if err != nil {
		return Result{Step: step, WorkspaceID: workspaceID}, err
	}
	return p.proc.Run(ctx, def, workspaceID)
}

// Definition returns the claim-based definition for step.
func (p *Pipeline) Definition(step model.Step) (Definition, error) {
	switch step {
	case model.StepScore:
		return p.scoreDefinition(), nil
	case model.StepChunk:
		return p.chunkDefinition(), nil
	case model.StepClassify:
		return p.classifyDefinition(), nil
	case model.StepExtract:
		return p.extractDefinition(), nil
	case model.StepAggregate:
		return p.aggregateDefinition(), nil
	default:
		return Definition{}, eris.Errorf("pipeline: step %q has no claim definition", step)
	}
}

// resolveRole looks up the record's actor. Lookup failures degrade to
// unknown rather than failing the row.
func (p *Pipeline) resolveRole(ctx context.Context, rec *model.ProcessingRecord) model.ActorRole {
	if p.deps.Actors == nil {
		return model.RoleUnknown
	}
	role, err := p.deps.Actors.Resolve(ctx, rec.WorkspaceID, rec.ActorEmail)
	if err != nil {
		return model.RoleUnknown
	}
	return role
}
