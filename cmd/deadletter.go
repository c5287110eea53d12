package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/signal-pipeline/internal/model"
	"github.com/sells-group/signal-pipeline/internal/store"
)

var deadLetterCmd = &cobra.Command{
	Use:   "deadletter",
	Short: "Inspect and requeue records that exhausted their retries",
}

var deadLetterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List dead-lettered records",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		workspace, _ := cmd.Flags().GetString("workspace")
		kind, _ := cmd.Flags().GetString("kind")
		limit, _ := cmd.Flags().GetInt("limit")

		recs, err := st.DeadLetters(ctx, store.DeadLetterFilter{
			WorkspaceID: workspace,
			MaxRetries:  cfg.Pipeline.MaxRetries,
			ErrorKind:   kind,
			Limit:       limit,
		})
		if err != nil {
			return eris.Wrap(err, "deadletter list")
		}
		if len(recs) == 0 {
			fmt.Fprintln(os.Stderr, "No dead letters.")
			return nil
		}
		formatDeadLetters(os.Stdout, recs)
		return nil
	},
}

var deadLetterRequeueCmd = &cobra.Command{
	Use:   "requeue [record-id...]",
	Short: "Reset retries so dead letters are claimed again",
	Long:  "Resets retry_count and the error on the given records, or on every dead letter in scope when no ids are given.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		workspace, _ := cmd.Flags().GetString("workspace")
		n, err := st.Requeue(ctx, store.RequeueFilter{
			WorkspaceID: workspace,
			IDs:         args,
			MaxRetries:  cfg.Pipeline.MaxRetries,
		})
		if err != nil {
			return eris.Wrap(err, "deadletter requeue")
		}
		fmt.Fprintf(os.Stdout, "requeued %d record(s)\n", n)
		return nil
	},
}

func formatDeadLetters(w io.Writer, recs []model.ProcessingRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tWORKSPACE\tSTAGE\tRETRIES\tERROR")
	for _, r := range recs {
		msg := ""
		if r.ProcessingError != nil {
			msg = truncate(*r.ProcessingError, 80)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", r.ID, r.WorkspaceID, r.Stage, r.RetryCount, msg)
	}
	_ = tw.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func init() {
	deadLetterListCmd.Flags().String("workspace", "", "limit to one workspace")
	deadLetterListCmd.Flags().String("kind", "", "filter by error kind (transient, permanent)")
	deadLetterListCmd.Flags().Int("limit", 100, "maximum rows")
	deadLetterRequeueCmd.Flags().String("workspace", "", "limit to one workspace")
	deadLetterCmd.AddCommand(deadLetterListCmd, deadLetterRequeueCmd)
	rootCmd.AddCommand(deadLetterCmd)
}
