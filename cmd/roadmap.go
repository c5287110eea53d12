package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sells-group/signal-pipeline/internal/roadmap"
	"github.com/sells-group/signal-pipeline/pkg/notion"
)

var roadmapCmd = &cobra.Command{
	Use:   "roadmap",
	Short: "Roadmap integrations",
}

var roadmapSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Create or update a Notion page per feature request",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := cfg.Validate("roadmap"); err != nil {
			return err
		}
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		workspace, _ := cmd.Flags().GetString("workspace")
		syncer := roadmap.NewSyncer(notion.NewClient(cfg.Notion.Token), st, cfg.Notion.RoadmapDB)
		res, err := syncer.Sync(ctx, workspace)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "roadmap sync: %d created, %d updated, %d failed\n", res.Created, res.Updated, res.Failed)
		return nil
	},
}

func init() {
	roadmapSyncCmd.Flags().String("workspace", "", "limit to one workspace")
	roadmapCmd.AddCommand(roadmapSyncCmd)
	rootCmd.AddCommand(roadmapCmd)
}
