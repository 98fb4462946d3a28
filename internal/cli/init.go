package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/crumb/internal/store"
)

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create or migrate the database",
		Long: `Create the SQLite database named by --db, or migrate an existing one
to the current schema version. Safe to run repeatedly.

Example:
  crumb init --db ./crumb.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := store.Open(rootOpts.Database)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to initialize database", err)
			}
			if err := st.Close(); err != nil {
				return WrapExitError(ExitCommandError, "failed to close database", err)
			}
			return formatter(cmd, rootOpts).Success(fmt.Sprintf("database ready at %s", rootOpts.Database))
		},
	}
}
