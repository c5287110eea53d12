package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/signal-pipeline/internal/monitoring"
	"github.com/sells-group/signal-pipeline/internal/orchestrator"
	"github.com/sells-group/signal-pipeline/internal/resilience"
	"github.com/sells-group/signal-pipeline/internal/scheduler"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process stage triggers and sweep for pending work",
	Long:  "Consumes StageAdvanced messages over the configured transport (memory or temporal), periodically sweeps every step for every workspace, and runs the health checker.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "worker")
		if err != nil {
			return err
		}
		defer env.Close()

		dispatcher := orchestrator.NewDispatcher(env.Pipeline, nil)
		sweeper := orchestrator.NewSweeper(env.Store, dispatcher, cfg.Worker.Concurrency)
		interval := time.Duration(cfg.Worker.SweepIntervalSecs) * time.Second

		g, gctx := errgroup.WithContext(ctx)
		switch cfg.Worker.Transport {
		case "temporal":
			c, err := scheduler.Dial(cfg.Temporal)
			if err != nil {
				return err
			}
			defer c.Close()
			dispatcher.SetPublisher(scheduler.NewPublisher(c, cfg.Temporal))
			w := scheduler.NewWorker(c, cfg.Temporal.TaskQueue, cfg.Worker.Concurrency, scheduler.NewActivities(dispatcher))
			if err := w.Start(); err != nil {
				return err
			}
			defer w.Stop()
		default:
			queue, err := orchestrator.NewMemoryQueue(cfg.Worker.QueueSize, cfg.Worker.Concurrency, resilience.FromRetrySettings(
				cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs,
				cfg.Retry.Multiplier, cfg.Retry.JitterFraction,
			))
			if err != nil {
				return err
			}
			dispatcher.SetPublisher(queue)
			g.Go(func() error { return queue.Run(gctx, dispatcher.Consume) })
			defer queue.Close(30 * time.Second) //nolint:errcheck
		}

		g.Go(func() error {
			sweeper.Loop(gctx, interval)
			return nil
		})

		collector := monitoring.NewCollector(env.Store, cfg.Pipeline.MaxRetries, cfg.Pipeline.LockTimeout())
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		g.Go(func() error {
			checker.Run(gctx)
			return nil
		})

		zap.L().Info("worker started",
			zap.String("transport", cfg.Worker.Transport),
			zap.Int("concurrency", cfg.Worker.Concurrency),
			zap.Duration("sweep_interval", interval),
		)
		err = g.Wait()
		zap.L().Info("worker stopped")
		if err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	},
}

// sweepOnce runs a single sweep; used by the trigger endpoint when no step
// is named.
func sweepOnce(ctx context.Context, s *orchestrator.Sweeper) (int, error) {
	results, err := s.Sweep(ctx)
	advanced := 0
	for _, r := range results {
		advanced += r.Advanced + r.Skipped
	}
	return advanced, err
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
