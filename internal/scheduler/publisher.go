package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/sells-group/signal-pipeline/internal/config"
	"github.com/sells-group/signal-pipeline/internal/orchestrator"
)

// WorkflowStarter is the part of client.Client the publisher uses.
type WorkflowStarter interface {
	ExecuteWorkflow(ctx context.Context, options client.StartWorkflowOptions, workflow interface{}, args ...interface{}) (client.WorkflowRun, error)
}

// Publisher starts a StageWorkflow per message. Workflow ids are keyed by
// workspace and step, so a trigger for a step that already has a workflow
// in flight joins it instead of starting another.
type Publisher struct {
	starter         WorkflowStarter
	taskQueue       string
	maxAttempts     int32
	activityTimeout time.Duration
}

// NewPublisher returns a Publisher configured from cfg.
func NewPublisher(starter WorkflowStarter, cfg config.TemporalConfig) *Publisher {
	return &Publisher{
		starter:         starter,
		taskQueue:       cfg.TaskQueue,
		maxAttempts:     int32(cfg.MaxAttempts),
		activityTimeout: time.Duration(cfg.ActivityTimeoutSecs) * time.Second,
	}
}

// WorkflowID names the workflow that runs step for a workspace.
func WorkflowID(workspaceID, step string) string {
	return fmt.Sprintf("signal-stage-%s-%s", workspaceID, step)
}

// Publish starts the workflow for the step after msg.Step.
func (p *Publisher) Publish(ctx context.Context, msg orchestrator.StageAdvanced) error {
	next, ok := msg.NextStep()
	if !ok {
		return nil
	}
	id := WorkflowID(msg.WorkspaceID, string(next))
	run, err := p.starter.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:                       id,
		TaskQueue:                p.taskQueue,
		WorkflowIDReusePolicy:    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
		WorkflowIDConflictPolicy: enumspb.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}, WorkflowName, StageInput{
		Message:         msg,
		MaxAttempts:     p.maxAttempts,
		ActivityTimeout: p.activityTimeout,
	})
	if err != nil {
		var started *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &started) {
			zap.L().Debug("scheduler: stage workflow already running", zap.String("workflow_id", id))
			return nil
		}
		return eris.Wrapf(err, "scheduler: start workflow %s", id)
	}
	zap.L().Debug("scheduler: stage workflow started",
		zap.String("workflow_id", id),
		zap.String("run_id", run.GetRunID()),
	)
	return nil
}
