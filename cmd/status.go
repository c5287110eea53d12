package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show record counts per workspace and stage",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		workspace, _ := cmd.Flags().GetString("workspace")
		asJSON, _ := cmd.Flags().GetBool("json")

		counts, err := st.StageCounts(ctx, store.StageCountFilter{
			WorkspaceID: workspace,
			MaxRetries:  cfg.Pipeline.MaxRetries,
		})
		if err != nil {
			return eris.Wrap(err, "status")
		}
		if asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(counts)
		}
		if len(counts) == 0 {
			fmt.Fprintln(os.Stderr, "No records found.")
			return nil
		}
		formatStageCounts(os.Stdout, counts)
		return nil
	},
}

func formatStageCounts(w io.Writer, counts []model.StageCount) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "WORKSPACE\tSTAGE\tTOTAL\tDEAD\tLOCKED\tSTALE")
	for _, c := range counts {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%d\t%d\t%d\n",
			c.WorkspaceID, c.Stage, c.Total, c.DeadLetter, c.Locked, c.StaleLocked)
	}
	_ = tw.Flush()
}

func init() {
	statusCmd.Flags().String("workspace", "", "limit to one workspace")
	statusCmd.Flags().Bool("json", false, "print JSON")
	rootCmd.AddCommand(statusCmd)
}
