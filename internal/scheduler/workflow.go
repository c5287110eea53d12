// Package scheduler carries StageAdvanced messages over Temporal. Each
// message starts a StageWorkflow whose single activity runs the next
// pipeline step; Temporal owns retries and durability.
package scheduler

import (
	"context"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/orchestrator"
)

// Registered names.
const (
	WorkflowName = "StageWorkflow"
	ActivityName = "RunStage"
)

// StageInput is the StageWorkflow argument.
type StageInput struct {
	Message         orchestrator.StageAdvanced `json:"message"`
	MaxAttempts     int32                      `json:"max_attempts"`
	ActivityTimeout time.Duration              `json:"activity_timeout"`
}

// StageOutcome summarizes the step the activity ran.
type StageOutcome struct {
	Step     model.Step `json:"step"`
	Claimed  int        `json:"claimed"`
	Advanced int        `json:"advanced"`
	Skipped  int        `json:"skipped"`
	Failed   int        `json:"failed"`
}

// StageWorkflow runs one step for one workspace.
func StageWorkflow(ctx workflow.Context, in StageInput) (StageOutcome, error) {
	timeout := in.ActivityTimeout
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}
	attempts := in.MaxAttempts
	if attempts <= 0 {
		attempts = 5
	}
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: timeout,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    time.Minute,
			MaximumAttempts:    attempts,
		},
	})

	var out StageOutcome
	err := workflow.ExecuteActivity(ctx, ActivityName, in.Message).Get(ctx, &out)
	if err != nil {
		return StageOutcome{}, err
	}
	workflow.GetLogger(ctx).Info("stage workflow complete",
		"workspace_id", in.Message.WorkspaceID,
		"stage", string(out.Step),
		"advanced", out.Advanced,
	)
	return out, nil
}

// Activities hosts the activity implementations.
type Activities struct {
	dispatcher *orchestrator.Dispatcher
}

// NewActivities returns Activities running steps through d.
func NewActivities(d *orchestrator.Dispatcher) *Activities {
	return &Activities{dispatcher: d}
}

// RunStage runs the step after msg.Step. A returned error makes Temporal
// retry the activity; row-level failures are already on the rows.
func (a *Activities) RunStage(ctx context.Context, msg orchestrator.StageAdvanced) (StageOutcome, error) {
	res, err := a.dispatcher.Handle(ctx, msg)
	if err != nil {
		return StageOutcome{}, err
	}
	return StageOutcome{
		Step:     res.Step,
		Claimed:  res.Claimed,
		Advanced: res.Advanced,
		Skipped:  res.Skipped,
		Failed:   res.Failed,
	}, nil
}
