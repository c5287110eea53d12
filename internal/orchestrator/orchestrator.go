// Package orchestrator chains pipeline steps. A StageAdvanced message says
// a step moved records forward; the Dispatcher runs the step after it.
// Messages travel over a Publisher, either the in-process MemoryQueue or a
// Temporal workflow (see internal/scheduler). A periodic Sweep runs every
// step for every workspace so a lost message only delays work.
package orchestrator

import (
	"context"
	"time"

	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/pipeline"
)

// StageAdvanced announces that Step advanced at least one record in a
// workspace. A Step of "" asks for the first step.
type StageAdvanced struct {
	WorkspaceID string     `json:"workspace_id"`
	Step        model.Step `json:"step"`
	At          time.Time  `json:"at"`
}

// NextStep returns the step a message asks for; false after the last step.
func (m StageAdvanced) NextStep() (model.Step, bool) {
	if m.Step == "" {
		return model.StepNormalize, true
	}
	return m.Step.Next()
}

// Publisher delivers StageAdvanced messages.
type Publisher interface {
	Publish(ctx context.Context, msg StageAdvanced) error
}

// Runner runs one batch of a step.
type Runner interface {
	Run(ctx context.Context, step model.Step, workspaceID string) (pipeline.Result, error)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, msg StageAdvanced) error

// Publish calls f.
func (f PublisherFunc) Publish(ctx context.Context, msg StageAdvanced) error {
	return f(ctx, msg)
}
