package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewStockCommand creates the stock command group.
func NewStockCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stock",
		Short: "Inspect inventory state",
	}

	cmd.AddCommand(newStockLowCommand(rootOpts))

	return cmd
}

func newStockLowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "low",
		Short:         "List tracked ingredients below their low-stock threshold",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, rootOpts, "")
			if err != nil {
				return err
			}
			defer eng.Close()

			rows, err := eng.Ledger().LowStock(cmdContext(cmd))
			if err != nil {
				return domainError(cmd, rootOpts, err)
			}

			f := formatter(cmd, rootOpts)
			if rootOpts.Format == "json" {
				views := make([]ingredientView, len(rows))
				for i, row := range rows {
					views[i] = viewIngredient(row)
				}
				return f.Success(views)
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no ingredients below threshold")
				return nil
			}
			for _, row := range rows {
				threshold := "-"
				if row.LowStockThreshold != nil {
					threshold = row.LowStockThreshold.String()
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %s %s (threshold %s)\n",
					row.ID, row.Name, row.QuantityOnHand.String(), row.UsageUnit, threshold)
			}
			return nil
		},
	}
}
