package scheduler

import (
	"github.com/rotisserie/eris"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
	"go.uber.org/zap"

	"github.com/sells-group/signal-pipeline/internal/config"
)

// Dial connects to the Temporal frontend.
func Dial(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    zapLogger{zap.S().Named("temporal")},
	})
	if err != nil {
		return nil, eris.Wrapf(err, "scheduler: dial temporal %s", cfg.HostPort)
	}
	return c, nil
}

// NewWorker returns a worker on taskQueue with the stage workflow and
// activity registered. concurrency caps concurrent activities.
func NewWorker(c client.Client, taskQueue string, concurrency int, acts *Activities) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize: max(1, concurrency),
	})
	Register(w, acts)
	return w
}

// Registry is implemented by worker.Worker and the test environment.
type Registry interface {
	RegisterWorkflowWithOptions(w interface{}, options workflow.RegisterOptions)
	RegisterActivityWithOptions(a interface{}, options activity.RegisterOptions)
}

// Register adds the stage workflow and activity to r.
func Register(r Registry, acts *Activities) {
	r.RegisterWorkflowWithOptions(StageWorkflow, workflow.RegisterOptions{Name: WorkflowName})
	r.RegisterActivityWithOptions(acts.RunStage, activity.RegisterOptions{Name: ActivityName})
}

// zapLogger adapts a sugared zap logger to Temporal's key-value logger.
type zapLogger struct {
	s *zap.SugaredLogger
}

func (l zapLogger) Debug(msg string, keyvals ...interface{}) { l.s.Debugw(msg, keyvals...) }
func (l zapLogger) Info(msg string, keyvals ...interface{})  { l.s.Infow(msg, keyvals...) }
func (l zapLogger) Warn(msg string, keyvals ...interface{})  { l.s.Warnw(msg, keyvals...) }
func (l zapLogger) Error(msg string, keyvals ...interface{}) { l.s.Errorw(msg, keyvals...) }
