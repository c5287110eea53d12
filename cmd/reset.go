package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset <workspace>",
	Short: "Delete a workspace's records, chunks, skips and feature requests",
	Long:  "Source records are kept, so the next normalize run rebuilds the workspace from scratch.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if yes, _ := cmd.Flags().GetBool("yes"); !yes {
			return eris.New("reset deletes pipeline state; pass --yes to confirm")
		}
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		res, err := st.ResetWorkspace(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "reset")
		}
		fmt.Fprintf(os.Stdout, "reset %s: %d records, %d chunks, %d skips, %d feature requests\n",
			args[0], res.Records, res.Chunks, res.Skips, res.Features)
		return nil
	},
}

func init() {
	resetCmd.Flags().Bool("yes", false, "confirm deletion")
	rootCmd.AddCommand(resetCmd)
}
