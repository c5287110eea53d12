package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/signal-pipeline/internal/actors"
	"github.com/sells-group/signal-pipeline/internal/model"
)

var actorsCmd = &cobra.Command{
	Use:   "actors",
	Short: "Manage explicit actor role assignments",
}

var actorsAssignCmd = &cobra.Command{
	Use:   "assign <workspace> <email> <customer|internal>",
	Short: "Pin the role of an address, overriding the domain fallback",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := parseAssignableRole(args[2])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		dir := actors.NewDirectory(st, nil, cfg.Actors.InternalDomains)
		if err := dir.Assign(ctx, args[0], args[1], role); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "%s is %s in %s\n", args[1], role, args[0])
		return nil
	},
}

// parseAssignableRole accepts only concrete roles; "unknown" is what the
// directory falls back to and is never stored.
func parseAssignableRole(s string) (model.ActorRole, error) {
	role := model.ParseActorRole(s)
	if role == model.RoleUnknown {
		return "", eris.Errorf("role must be customer or internal, got %q", s)
	}
	return role, nil
}

func init() {
	actorsCmd.AddCommand(actorsAssignCmd)
	rootCmd.AddCommand(actorsCmd)
}
