package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/signal-pipeline/internal/report"
	"github.com/sells-group/signal-pipeline/internal/store"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write feature requests and stage counts to an xlsx workbook",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		workspace, _ := cmd.Flags().GetString("workspace")
		out, _ := cmd.Flags().GetString("out")

		features, err := st.ListFeatureRequests(ctx, workspace)
		if err != nil {
			return eris.Wrap(err, "export: list feature requests")
		}
		counts, err := st.StageCounts(ctx, store.StageCountFilter{WorkspaceID: workspace, MaxRetries: cfg.Pipeline.MaxRetries})
		if err != nil {
			return eris.Wrap(err, "export: stage counts")
		}

		f, err := os.Create(out)
		if err != nil {
			return eris.Wrapf(err, "export: create %s", out)
		}
		if err := report.WriteXLSX(f, features, counts); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrapf(err, "export: close %s", out)
		}
		fmt.Fprintf(os.Stdout, "wrote %d feature request(s) to %s\n", len(features), out)
		return nil
	},
}

func init() {
	exportCmd.Flags().String("workspace", "", "limit to one workspace")
	exportCmd.Flags().String("out", "feature-requests.xlsx", "output file")
	rootCmd.AddCommand(exportCmd)
}
