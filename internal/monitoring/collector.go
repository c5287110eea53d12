package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	Stages []model.StageCount `json:"stages"`

	// Totals across workspaces.
	ByStage      map[model.Stage]int `json:"by_stage"`
	Backlog      int                 `json:"backlog"`
	Completed    int                 `json:"completed"`
	DeadLettered int                 `json:"dead_lettered"`
	Locked       int                 `json:"locked"`
	StaleLocked  int                 `json:"stale_locked"`

	CollectedAt time.Time `json:"collected_at"`
}

// StageCounter is the store query the collector needs.
type StageCounter interface {
	StageCounts(ctx context.Context, filter store.StageCountFilter) ([]model.StageCount, error)
}

// Collector gathers stage telemetry from the store.
type Collector struct {
	store       StageCounter
	maxRetries  int
	lockTimeout time.Duration
	now         func() time.Time
}

// NewCollector creates a collector. Records at maxRetries count as dead
// letters; locks older than lockTimeout count as stale.
func NewCollector(st StageCounter, maxRetries int, lockTimeout time.Duration) *Collector {
	return &Collector{store: st, maxRetries: maxRetries, lockTimeout: lockTimeout, now: time.Now}
}

// Collect gathers a snapshot, optionally for a single workspace.
func (c *Collector) Collect(ctx context.Context, workspaceID string) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	filter := store.StageCountFilter{WorkspaceID: workspaceID, MaxRetries: c.maxRetries}
	if c.lockTimeout > 0 {
		filter.StaleBefore = now.Add(-c.lockTimeout)
	}
	counts, err := c.store.StageCounts(ctx, filter)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: stage counts")
	}

	snap := &MetricsSnapshot{
		Stages:      counts,
		ByStage:     make(map[model.Stage]int, len(model.Stages())),
		CollectedAt: now,
	}
	for _, sc := range counts {
		snap.ByStage[sc.Stage] += sc.Total
		snap.DeadLettered += sc.DeadLetter
		snap.Locked += sc.Locked
		snap.StaleLocked += sc.StaleLocked
		if sc.Stage.Terminal() {
			snap.Completed += sc.Total
		} else {
			snap.Backlog += sc.Total - sc.DeadLetter
		}
	}
	return snap, nil
}
