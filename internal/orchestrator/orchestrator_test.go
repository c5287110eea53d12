package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/pipeline"
	"github.com/sells-group/signal-pipeline/internal/resilience"
)

type call struct {
	step model.Step
	ws   string
}

// fakeRunner advances the steps listed in progress and fails those in fail.
type fakeRunner struct {
	mu       sync.Mutex
	calls    []call
	progress map[model.Step]bool
	fail     map[model.Step]int
}

func (f *fakeRunner) Run(_ context.Context, step model.Step, ws string) (pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{step, ws})
	if f.fail[step] > 0 {
		f.fail[step]--
		return pipeline.Result{}, errors.New("commit: database is locked")
	}
	res := pipeline.Result{Step: step, WorkspaceID: ws}
	if f.progress[step] {
		res.Claimed, res.Advanced = 1, 1
	}
	return res, nil
}

func (f *fakeRunner) Calls() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

type recorder struct {
	mu   sync.Mutex
	msgs []StageAdvanced
}

func (r *recorder) Publish(_ context.Context, msg StageAdvanced) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msg)
	return nil
}

func fastRetry() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = 2 * time.Millisecond
	return cfg
}

func TestDispatcher_HandleRunsNextStep(t *testing.T) {
	runner := &fakeRunner{progress: map[model.Step]bool{model.StepChunk: true}}
	rec := &recorder{}
	d := NewDispatcher(runner, rec)

	res, err := d.Handle(context.Background(), StageAdvanced{WorkspaceID: "ws1", Step: model.StepScore})
	require.NoError(t, err)
	assert.Equal(t, model.StepChunk, res.Step)
	assert.Equal(t, []call{{model.StepChunk, "ws1"}}, runner.Calls())
	require.Len(t, rec.msgs, 1)
	assert.Equal(t, model.StepChunk, rec.msgs[0].Step)
	assert.Equal(t, "ws1", rec.msgs[0].WorkspaceID)
	assert.False(t, rec.msgs[0].At.IsZero())
}

func TestDispatcher_NoProgressNoPublish(t *testing.T) {
	runner := &fakeRunner{}
	rec := &recorder{}
	d := NewDispatcher(runner, rec)

	_, err := d.Handle(context.Background(), StageAdvanced{WorkspaceID: "ws1", Step: model.StepChunk})
	require.NoError(t, err)
	assert.Len(t, runner.Calls(), 1)
	assert.Empty(t, rec.msgs)
}

// skipRunner reports every eligible row as skipped.
type skipRunner struct{}

func (skipRunner) Run(_ context.Context, step model.Step, ws string) (pipeline.Result, error) {
	return pipeline.Result{Step: step, WorkspaceID: ws, Claimed: 3, Skipped: 3}, nil
}

func TestDispatcher_SkipsOnlyTriggerPastNormalize(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(skipRunner{}, rec)
	ctx := context.Background()

	// Too-short sources create no record, so score has nothing to do.
	_, err := d.Trigger(ctx, model.StepNormalize, "ws1")
	require.NoError(t, err)
	assert.Empty(t, rec.msgs)

	// A skipped chunk step still advances its records to chunked.
	_, err = d.Trigger(ctx, model.StepChunk, "ws1")
	require.NoError(t, err)
	require.Len(t, rec.msgs, 1)
	assert.Equal(t, model.StepChunk, rec.msgs[0].Step)
}

func TestDispatcher_EmptyStepStartsAtNormalize(t *testing.T) {
	runner := &fakeRunner{}
	d := NewDispatcher(runner, nil)

	_, err := d.Handle(context.Background(), StageAdvanced{WorkspaceID: "ws1"})
	require.NoError(t, err)
	assert.Equal(t, []call{{model.StepNormalize, "ws1"}}, runner.Calls())
}

func TestDispatcher_LastStepStops(t *testing.T) {
	runner := &fakeRunner{}
	d := NewDispatcher(runner, &recorder{})

	_, err := d.Handle(context.Background(), StageAdvanced{WorkspaceID: "ws1", Step: model.StepAggregate})
	require.NoError(t, err)
	assert.Empty(t, runner.Calls())
}

func TestDispatcher_RunErrorNotPublished(t *testing.T) {
	runner := &fakeRunner{fail: map[model.Step]int{model.StepClassify: 1}, progress: map[model.Step]bool{model.StepClassify: true}}
	rec := &recorder{}
	d := NewDispatcher(runner, rec)

	_, err := d.Trigger(context.Background(), model.StepClassify, "ws1")
	require.Error(t, err)
	assert.Empty(t, rec.msgs)
}

func TestMemoryQueue_DropsWhenFull(t *testing.T) {
	q, err := NewMemoryQueue(2, 1, fastRetry())
	require.NoError(t, err)
	defer q.Close(time.Second) //nolint:errcheck

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Publish(ctx, StageAdvanced{WorkspaceID: "ws1", Step: model.StepScore}))
	}
	assert.Equal(t, 2, q.Len())
	assert.Equal(t, int64(3), q.Dropped())
}

func TestMemoryQueue_PublishAfterClose(t *testing.T) {
	q, err := NewMemoryQueue(2, 1, fastRetry())
	require.NoError(t, err)
	require.NoError(t, q.Close(time.Second))

	err = q.Publish(context.Background(), StageAdvanced{WorkspaceID: "ws1"})
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestMemoryQueue_ChainsThroughDispatcher(t *testing.T) {
	runner := &fakeRunner{
		progress: map[model.Step]bool{
			model.StepNormalize: true, model.StepScore: true, model.StepChunk: true,
			model.StepClassify: true, model.StepExtract: true, model.StepAggregate: true,
		},
		// A transient commit failure is retried by the queue.
		fail: map[model.Step]int{model.StepChunk: 1},
	}
	q, err := NewMemoryQueue(16, 2, fastRetry())
	require.NoError(t, err)
	d := NewDispatcher(runner, q)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Run(ctx, d.Consume) }()

	require.NoError(t, q.Publish(ctx, StageAdvanced{WorkspaceID: "ws1"}))

	require.Eventually(t, func() bool {
		calls := runner.Calls()
		return len(calls) > 0 && calls[len(calls)-1].step == model.StepAggregate
	}, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	require.NoError(t, q.Close(time.Second))

	var steps []model.Step
	for _, c := range runner.Calls() {
		steps = append(steps, c.step)
	}
	assert.Equal(t, []model.Step{
		model.StepNormalize, model.StepScore, model.StepChunk, model.StepChunk,
		model.StepClassify, model.StepExtract, model.StepAggregate,
	}, steps)
}

type staticLister []string

func (l staticLister) Workspaces(context.Context) ([]string, error) { return l, nil }

func TestSweeper_VisitsEveryStepAndWorkspace(t *testing.T) {
	runner := &fakeRunner{fail: map[model.Step]int{model.StepExtract: 1}}
	s := NewSweeper(staticLister{"ws1", "ws2"}, runner, 2)

	results, err := s.Sweep(context.Background())
	require.Error(t, err)
	assert.Len(t, results, 2*len(model.Steps())-1)

	perWS := map[string][]model.Step{}
	for _, c := range runner.Calls() {
		perWS[c.ws] = append(perWS[c.ws], c.step)
	}
	keys := make([]string, 0, len(perWS))
	for k := range perWS {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	assert.Equal(t, []string{"ws1", "ws2"}, keys)
	for _, steps := range perWS {
		assert.Equal(t, model.Steps(), steps, "steps run in order within a workspace")
	}
}

func TestSweeper_NoWorkspaces(t *testing.T) {
	runner := &fakeRunner{}
	s := NewSweeper(staticLister(nil), runner, 1)

	results, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Empty(t, runner.Calls())
}
