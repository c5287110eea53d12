package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/pipeline"
)

// WorkspaceLister lists workspaces with sources or records.
type WorkspaceLister interface {
	Workspaces(ctx context.Context) ([]string, error)
}

// Sweeper runs every step for every workspace.
type Sweeper struct {
	lister      WorkspaceLister
	runner      Runner
	concurrency int
}

// NewSweeper returns a Sweeper running up to concurrency workspaces at a
// time.
func NewSweeper(lister WorkspaceLister, runner Runner, concurrency int) *Sweeper {
	return &Sweeper{lister: lister, runner: runner, concurrency: max(1, concurrency)}
}

// Sweep runs one batch of each step, in order, per workspace. Step errors
// are logged and the workspace moves on to its next step; the first error
// is returned after every workspace has been visited.
func (s *Sweeper) Sweep(ctx context.Context) ([]pipeline.Result, error) {
	workspaces, err := s.lister.Workspaces(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "orchestrator: sweep list workspaces")
	}

	var (
		mu       sync.Mutex
		results  []pipeline.Result
		firstErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, ws := range workspaces {
		g.Go(func() error {
			for _, step := range model.Steps() {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				res, err := s.runner.Run(gctx, step, ws)
				mu.Lock()
				if err != nil {
					if firstErr == nil {
						firstErr = eris.Wrapf(err, "orchestrator: sweep %s %s", ws, step)
					}
					zap.L().Warn("orchestrator: sweep step failed",
						zap.String("workspace_id", ws),
						zap.String("stage", string(step)),
						zap.Error(err),
					)
				} else {
					results = append(results, res)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, eris.Wrap(err, "orchestrator: sweep")
	}
	return results, firstErr
}

// Loop sweeps immediately and then every interval until ctx is done.
func (s *Sweeper) Loop(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		results, err := s.Sweep(ctx)
		if err != nil && ctx.Err() == nil {
			zap.L().Error("orchestrator: sweep failed", zap.Error(err))
		}
		advanced := 0
		for _, r := range results {
			advanced += r.Advanced + r.Skipped
		}
		zap.L().Debug("orchestrator: sweep complete",
			zap.Int("runs", len(results)),
			zap.Int("advanced", advanced),
		)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
