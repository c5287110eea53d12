package orchestrator

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/pipeline"
)

// Dispatcher turns a StageAdvanced message into the next step's run and
// announces that run in turn when it made progress.
type Dispatcher struct {
	runner Runner
	pub    Publisher
	now    func() time.Time
}

// NewDispatcher returns a Dispatcher. pub may be nil, in which case runs
// are never chained.
func NewDispatcher(runner Runner, pub Publisher) *Dispatcher {
	return &Dispatcher{runner: runner, pub: pub, now: time.Now}
}

// SetPublisher replaces the publisher. Transports that need the Dispatcher
// to exist before they do wire themselves in with it.
func (d *Dispatcher) SetPublisher(pub Publisher) {
	d.pub = pub
}

// Handle runs the step after msg.Step. Nothing happens after the last step.
func (d *Dispatcher) Handle(ctx context.Context, msg StageAdvanced) (pipeline.Result, error) {
	next, ok := msg.NextStep()
	if !ok {
		return pipeline.Result{Step: msg.Step, WorkspaceID: msg.WorkspaceID}, nil
	}
	return d.Trigger(ctx, next, msg.WorkspaceID)
}

// Trigger runs step once and, if it advanced anything, publishes a
// StageAdvanced for it. A failed publish is logged, not returned: the batch
// is already committed and the sweep will pick up the follow-on work.
func (d *Dispatcher) Trigger(ctx context.Context, step model.Step, workspaceID string) (pipeline.Result, error) {
	res, err := d.runner.Run(ctx, step, workspaceID)
	if err != nil {
		return res, eris.Wrapf(err, "orchestrator: run %s", step)
	}
	if !res.Triggers() || d.pub == nil {
		return res, nil
	}
	msg := StageAdvanced{WorkspaceID: workspaceID, Step: step, At: d.now().UTC()}
	if err := d.pub.Publish(ctx, msg); err != nil {
		zap.L().Warn("orchestrator: publish stage advanced",
			zap.String("stage", string(step)),
			zap.String("workspace_id", workspaceID),
			zap.Error(err),
		)
	}
	return res, nil
}

// Consume is Handle shaped as a HandlerFunc.
func (d *Dispatcher) Consume(ctx context.Context, msg StageAdvanced) error {
	_, err := d.Handle(ctx, msg)
	return err
}

// Run is Trigger; it lets a Dispatcher stand in for a Runner so sweeps
// chain their progress too.
func (d *Dispatcher) Run(ctx context.Context, step model.Step, workspaceID string) (pipeline.Result, error) {
	return d.Trigger(ctx, step, workspaceID)
}
