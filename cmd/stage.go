package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/pipeline"
)

var stageCmd = &cobra.Command{
	Use:   "stage",
	Short: "Run pipeline steps by hand",
}

var stageRunCmd = &cobra.Command{
	Use:       "run <step>",
	Short:     "Run one step (normalize, score, chunk, classify, extract, aggregate)",
	Args:      cobra.ExactArgs(1),
	ValidArgs: stepNames(),
	RunE: func(cmd *cobra.Command, args []string) error {
		step, ok := model.ParseStep(args[0])
		if !ok {
			return eris.Errorf("unknown step %q", args[0])
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx, "pipeline")
		if err != nil {
			return err
		}
		defer env.Close()

		workspace, _ := cmd.Flags().GetString("workspace")
		drain, _ := cmd.Flags().GetBool("drain")
		return runStep(ctx, env.Pipeline, step, workspace, drain, os.Stdout)
	},
}

// runStep runs one batch, or batches until nothing progresses when drain
// is set, and prints a line per batch.
func runStep(ctx context.Context, p interface {
	Run(context.Context, model.Step, string) (pipeline.Result, error)
}, step model.Step, workspace string, drain bool, w io.Writer) error {
	for {
		res, err := p.Run(ctx, step, workspace)
		if err != nil {
			return eris.Wrapf(err, "stage run %s", step)
		}
		fmt.Fprintf(w, "%s: claimed=%d advanced=%d skipped=%d failed=%d dead_lettered=%d reclaimed=%d (%s)\n",
			step, res.Claimed, res.Advanced, res.Skipped, res.Failed, res.DeadLettered, res.Reclaimed, res.Duration)
		if !drain || !res.Progressed() {
			return nil
		}
	}
}

func stepNames() []string {
	var out []string
	for _, s := range model.Steps() {
		out = append(out, string(s))
	}
	return out
}

func init() {
	stageRunCmd.Flags().String("workspace", "", "limit to one workspace (default all)")
	stageRunCmd.Flags().Bool("drain", false, "repeat until a batch makes no progress")
	stageCmd.AddCommand(stageRunCmd)
	rootCmd.AddCommand(stageCmd)
}
