package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/crumb/internal/pricing"
)

// PriceOptions holds flags for the price command.
type PriceOptions struct {
	*RootOptions
	Config string
}

// priceView is the CLI projection of a quote, rounded for display.
type priceView struct {
	RecipeID       string `json:"recipe_id"`
	MaterialCost   string `json:"material_cost"`
	LaborCost      string `json:"labor_cost"`
	OverheadShare  string `json:"overhead_share"`
	SuggestedTotal string `json:"suggested_total"`
	PerServing     string `json:"per_serving,omitempty"`
}

func (v priceView) String() string {
	s := fmt.Sprintf("recipe %s: material %s + labor %s + overhead %s = %s",
		v.RecipeID, v.MaterialCost, v.LaborCost, v.OverheadShare, v.SuggestedTotal)
	if v.PerServing != "" {
		s += fmt.Sprintf(" (%s per serving)", v.PerServing)
	}
	return s
}

// NewPriceCommand creates the price command.
func NewPriceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PriceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "price <recipe-id>",
		Short: "Suggest a price for one order of a recipe",
		Long: `Compute a suggested price: material cost plus labor at the configured
hourly rate plus the allocated overhead share. Amounts are rounded only
here, at the display boundary.

Example:
  crumb price rec-1 --config pricing.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, opts.RootOptions, opts.Config)
			if err != nil {
				return err
			}
			defer eng.Close()

			ctx := cmdContext(cmd)
			breakdown, quote, err := eng.PriceRecipe(ctx, args[0])
			if err != nil {
				return domainError(cmd, opts.RootOptions, err)
			}
			rounded := quote.Rounded()

			view := priceView{
				RecipeID:       breakdown.RecipeID,
				MaterialCost:   rounded.MaterialCost.String(),
				LaborCost:      rounded.LaborCost.String(),
				OverheadShare:  rounded.OverheadShare.String(),
				SuggestedTotal: rounded.SuggestedTotal.String(),
			}

			rec, err := eng.Recipes().Get(ctx, args[0])
			if err != nil {
				return domainError(cmd, opts.RootOptions, err)
			}
			if rec.YieldCount > 0 {
				perServing, err := pricing.PerServing(quote.SuggestedTotal, rec.YieldCount)
				if err != nil {
					return domainError(cmd, opts.RootOptions, err)
				}
				view.PerServing = pricing.DisplayPerServing(perServing).String()
			}

			return formatter(cmd, opts.RootOptions).Success(view)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "path to pricing config YAML (defaults apply when unset)")

	return cmd
}
