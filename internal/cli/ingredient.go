package cli

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/roach88/crumb/internal/ledger"
	"github.com/roach88/crumb/internal/store"
)

// IngredientOptions holds flags shared by the ingredient subcommands.
type IngredientOptions struct {
	*RootOptions
	Name      string
	Unit      string
	Cost      string
	Density   string
	Tracked   bool
	Stock     string
	Threshold string

	PurchaseCost string
	PurchaseQty  string
	PurchaseUnit string

	Delta  string
	Reason string
}

// NewIngredientCommand creates the ingredient command group.
func NewIngredientCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &IngredientOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "ingredient",
		Short: "Manage the ingredient cost and stock ledger",
	}

	cmd.AddCommand(newIngredientAddCommand(opts))
	cmd.AddCommand(newIngredientSetCostCommand(opts))
	cmd.AddCommand(newIngredientDeriveCostCommand(opts))
	cmd.AddCommand(newIngredientAdjustStockCommand(opts))
	cmd.AddCommand(newIngredientShowCommand(opts))

	return cmd
}

// ingredientView is the CLI projection of an ingredient row.
type ingredientView struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	UsageUnit      string `json:"usage_unit"`
	CostPerUnit    string `json:"cost_per_unit"`
	Density        string `json:"density,omitempty"`
	Tracked        bool   `json:"tracked"`
	QuantityOnHand string `json:"quantity_on_hand"`
	Threshold      string `json:"low_stock_threshold,omitempty"`
	BelowThreshold bool   `json:"below_threshold"`
	Revision       int64  `json:"revision"`
}

func viewIngredient(row store.IngredientRow) ingredientView {
	v := ingredientView{
		ID:             row.ID,
		Name:           row.Name,
		UsageUnit:      row.UsageUnit,
		CostPerUnit:    row.CostPerUnit.String(),
		Tracked:        row.Tracked,
		QuantityOnHand: row.QuantityOnHand.String(),
		BelowThreshold: row.BelowThreshold,
		Revision:       row.Revision,
	}
	if row.Density != nil {
		v.Density = row.Density.String()
	}
	if row.LowStockThreshold != nil {
		v.Threshold = row.LowStockThreshold.String()
	}
	return v
}

func (v ingredientView) String() string {
	s := fmt.Sprintf("%s  %s  %s %s/unit  stock %s %s  rev %d",
		v.ID, v.Name, v.CostPerUnit, v.UsageUnit, v.QuantityOnHand, v.UsageUnit, v.Revision)
	if v.BelowThreshold {
		s += "  LOW"
	}
	return s
}

func newIngredientAddCommand(opts *IngredientOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add an ingredient to the ledger",
		Long: `Add an ingredient with its usage unit and cost per usage unit.

Example:
  crumb ingredient add --name flour --unit g --cost 0.002 --track --stock 5000 --threshold 500`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			in := ledger.IngredientCreate{
				Name:      opts.Name,
				UsageUnit: opts.Unit,
				Tracked:   opts.Tracked,
			}

			var err error
			if in.Cost, err = decimal.NewFromString(opts.Cost); err != nil {
				return WrapExitError(ExitCommandError, "invalid --cost", err)
			}
			if in.Density, err = optionalDecimal(opts.Density, "--density"); err != nil {
				return err
			}
			if in.LowStockThreshold, err = optionalDecimal(opts.Threshold, "--threshold"); err != nil {
				return err
			}
			if opts.Stock != "" {
				if in.InitialStock, err = decimal.NewFromString(opts.Stock); err != nil {
					return WrapExitError(ExitCommandError, "invalid --stock", err)
				}
			}

			eng, err := openEngine(cmd, opts.RootOptions, "")
			if err != nil {
				return err
			}
			defer eng.Close()

			row, err := eng.Ledger().Create(cmdContext(cmd), in)
			if err != nil {
				return domainError(cmd, opts.RootOptions, err)
			}
			return formatter(cmd, opts.RootOptions).Success(viewIngredient(row))
		},
	}

	cmd.Flags().StringVar(&opts.Name, "name", "", "ingredient name (required)")
	cmd.Flags().StringVar(&opts.Unit, "unit", "", "usage unit symbol, e.g. g, ml, pcs (required)")
	cmd.Flags().StringVar(&opts.Cost, "cost", "0", "cost per usage unit")
	cmd.Flags().StringVar(&opts.Density, "density", "", "density in g/ml for cross-dimension conversion")
	cmd.Flags().BoolVar(&opts.Tracked, "track", false, "track stock for this ingredient")
	cmd.Flags().StringVar(&opts.Stock, "stock", "", "initial stock in usage units (tracked only)")
	cmd.Flags().StringVar(&opts.Threshold, "threshold", "", "low-stock threshold in usage units")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("unit")

	return cmd
}

func newIngredientSetCostCommand(opts *IngredientOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-cost <ingredient-id>",
		Short: "Set the cost per usage unit",
		Long: `Set the ingredient's cost per usage unit directly. Recipes referencing
the ingredient have their cached costs invalidated.

Example:
  crumb ingredient set-cost ing-1 --cost 0.0025`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cost, err := decimal.NewFromString(opts.Cost)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --cost", err)
			}

			eng, err := openEngine(cmd, opts.RootOptions, "")
			if err != nil {
				return err
			}
			defer eng.Close()

			revision, err := eng.Ledger().SetCost(cmdContext(cmd), args[0], cost)
			if err != nil {
				return domainError(cmd, opts.RootOptions, err)
			}
			return formatter(cmd, opts.RootOptions).Success(map[string]any{
				"ingredient_id": args[0],
				"cost":          cost.String(),
				"revision":      revision,
			})
		},
	}

	cmd.Flags().StringVar(&opts.Cost, "cost", "", "cost per usage unit (required)")
	_ = cmd.MarkFlagRequired("cost")

	return cmd
}

func newIngredientDeriveCostCommand(opts *IngredientOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "derive-cost <ingredient-id>",
		Short: "Derive cost per usage unit from a purchase",
		Long: `Derive the ingredient's cost per usage unit from a purchase: the amount
bought, its unit, and what it cost. The purchase quantity is converted to
usage units (through density when crossing mass/volume).

Example:
  crumb ingredient derive-cost ing-1 --purchase-cost 2.00 --purchase-qty 1 --purchase-unit kg`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			pcost, err := decimal.NewFromString(opts.PurchaseCost)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --purchase-cost", err)
			}
			pqty, err := decimal.NewFromString(opts.PurchaseQty)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --purchase-qty", err)
			}

			eng, err := openEngine(cmd, opts.RootOptions, "")
			if err != nil {
				return err
			}
			defer eng.Close()

			cost, revision, err := eng.Ledger().DeriveCost(cmdContext(cmd), args[0], pcost, pqty, opts.PurchaseUnit)
			if err != nil {
				return domainError(cmd, opts.RootOptions, err)
			}
			return formatter(cmd, opts.RootOptions).Success(map[string]any{
				"ingredient_id": args[0],
				"cost":          cost.String(),
				"revision":      revision,
			})
		},
	}

	cmd.Flags().StringVar(&opts.PurchaseCost, "purchase-cost", "", "total cost of the purchase (required)")
	cmd.Flags().StringVar(&opts.PurchaseQty, "purchase-qty", "", "purchased quantity (required)")
	cmd.Flags().StringVar(&opts.PurchaseUnit, "purchase-unit", "", "unit of the purchased quantity (required)")
	_ = cmd.MarkFlagRequired("purchase-cost")
	_ = cmd.MarkFlagRequired("purchase-qty")
	_ = cmd.MarkFlagRequired("purchase-unit")

	return cmd
}

func newIngredientAdjustStockCommand(opts *IngredientOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "adjust-stock <ingredient-id>",
		Short: "Apply a signed stock adjustment",
		Long: `Apply a signed delta (in usage units) to the ingredient's stock.
Untracked ingredients are a no-op. Stock may go negative; the CLI reports
the overdraft but never clamps.

Example:
  crumb ingredient adjust-stock ing-1 --delta -250 --reason manual`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := decimal.NewFromString(opts.Delta)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --delta", err)
			}

			eng, err := openEngine(cmd, opts.RootOptions, "")
			if err != nil {
				return err
			}
			defer eng.Close()

			result, err := eng.Ledger().AdjustStock(cmdContext(cmd), args[0], delta, opts.Reason)
			if err != nil {
				return domainError(cmd, opts.RootOptions, err)
			}
			return formatter(cmd, opts.RootOptions).Success(map[string]any{
				"ingredient_id": result.IngredientID,
				"tracked":       result.Tracked,
				"quantity":      result.NewQuantity.String(),
				"overdraft":     result.Overdraft,
				"crossed_low":   result.CrossedLow,
			})
		},
	}

	cmd.Flags().StringVar(&opts.Delta, "delta", "", "signed stock delta in usage units (required)")
	cmd.Flags().StringVar(&opts.Reason, "reason", ledger.ReasonManual, "movement reason for the audit trail")
	_ = cmd.MarkFlagRequired("delta")

	return cmd
}

func newIngredientShowCommand(opts *IngredientOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show [ingredient-id]",
		Short:         "Show one ingredient, or list all",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, opts.RootOptions, "")
			if err != nil {
				return err
			}
			defer eng.Close()

			f := formatter(cmd, opts.RootOptions)
			if len(args) == 1 {
				row, err := eng.Ledger().Get(cmdContext(cmd), args[0])
				if err != nil {
					return domainError(cmd, opts.RootOptions, err)
				}
				return f.Success(viewIngredient(row))
			}

			rows, err := eng.Ledger().List(cmdContext(cmd))
			if err != nil {
				return domainError(cmd, opts.RootOptions, err)
			}
			views := make([]ingredientView, len(rows))
			for i, row := range rows {
				views[i] = viewIngredient(row)
			}
			if opts.Format == "json" {
				return f.Success(views)
			}
			for _, v := range views {
				fmt.Fprintln(cmd.OutOrStdout(), v)
			}
			return nil
		},
	}
}

// optionalDecimal parses an optional decimal flag, nil when unset.
func optionalDecimal(s, flag string) (*decimal.Decimal, error) {
	if s == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid "+flag, err)
	}
	return &d, nil
}

// domainError reports a domain failure through the formatter and returns
// an ExitError carrying the failure exit code.
func domainError(cmd *cobra.Command, opts *RootOptions, err error) error {
	code := ErrorCode(err)
	_ = formatter(cmd, opts).Error(code, err.Error(), nil)
	return WrapExitError(ExitFailure, code, err)
}
