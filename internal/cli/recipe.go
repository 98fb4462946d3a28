package cli

import (
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/crumb/internal/recipe"
)

// RecipeOptions holds flags for the recipe subcommands.
type RecipeOptions struct {
	*RootOptions
	File      string
	Batch     int
	Recompute bool
}

// NewRecipeCommand creates the recipe command group.
func NewRecipeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RecipeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "recipe",
		Short: "Manage recipes and their computed costs",
	}

	cmd.AddCommand(newRecipeAddCommand(opts))
	cmd.AddCommand(newRecipeCostCommand(opts))
	cmd.AddCommand(newRecipeSweepCommand(opts))

	return cmd
}

// recipeFile is the YAML shape of a recipe definition.
type recipeFile struct {
	Name         string   `yaml:"name"`
	Yield        int      `yaml:"yield"`
	LaborMinutes int      `yaml:"labor_minutes"`
	Steps        []string `yaml:"steps"`
	Ingredients  []struct {
		Ingredient string `yaml:"ingredient"`
		Quantity   string `yaml:"quantity"`
		Unit       string `yaml:"unit"`
	} `yaml:"ingredients"`
}

func loadRecipeFile(path string) (recipe.RecipeCreate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return recipe.RecipeCreate{}, fmt.Errorf("read recipe file: %w", err)
	}

	var rf recipeFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return recipe.RecipeCreate{}, fmt.Errorf("parse recipe file: %w", err)
	}

	in := recipe.RecipeCreate{
		Name:         rf.Name,
		Yield:        rf.Yield,
		LaborMinutes: rf.LaborMinutes,
		Steps:        rf.Steps,
	}
	for i, line := range rf.Ingredients {
		qty, err := decimal.NewFromString(line.Quantity)
		if err != nil {
			return recipe.RecipeCreate{}, fmt.Errorf("recipe line %d: invalid quantity %q", i, line.Quantity)
		}
		in.Lines = append(in.Lines, recipe.Line{
			IngredientID: line.Ingredient,
			Quantity:     qty,
			Unit:         line.Unit,
		})
	}
	return in, nil
}

// breakdownView is the CLI projection of a cost breakdown.
type breakdownView struct {
	RecipeID string     `json:"recipe_id"`
	Total    string     `json:"total"`
	Lines    []lineView `json:"lines"`
}

type lineView struct {
	Ingredient string `json:"ingredient"`
	Quantity   string `json:"quantity"`
	Unit       string `json:"unit"`
	Cost       string `json:"cost"`
}

func viewBreakdown(b recipe.CostBreakdown) breakdownView {
	v := breakdownView{
		RecipeID: b.RecipeID,
		Total:    b.Total.String(),
	}
	for _, line := range b.Lines {
		v.Lines = append(v.Lines, lineView{
			Ingredient: line.Ingredient,
			Quantity:   line.Quantity.String(),
			Unit:       line.Unit,
			Cost:       line.LineCost.String(),
		})
	}
	return v
}

func (v breakdownView) String() string {
	s := fmt.Sprintf("recipe %s: total %s", v.RecipeID, v.Total)
	for _, line := range v.Lines {
		s += fmt.Sprintf("\n  %s %s %s -> %s", line.Quantity, line.Unit, line.Ingredient, line.Cost)
	}
	return s
}

func newRecipeAddCommand(opts *RecipeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a recipe from a YAML definition",
		Long: `Add a recipe from a YAML file and compute its initial cost.

The file carries the name, yield, labor minutes, preparation steps, and
ingredient lines:

  name: chocolate cake
  yield: 8
  labor_minutes: 45
  steps:
    - mix dry ingredients
    - bake 35 minutes
  ingredients:
    - ingredient: ing-flour
      quantity: "500"
      unit: g
    - ingredient: ing-chocolate
      quantity: "200"
      unit: g

Example:
  crumb recipe add --file cake.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			in, err := loadRecipeFile(opts.File)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to load recipe", err)
			}

			eng, err := openEngine(cmd, opts.RootOptions, "")
			if err != nil {
				return err
			}
			defer eng.Close()

			row, breakdown, err := eng.Recipes().Create(cmdContext(cmd), in)
			if err != nil {
				return domainError(cmd, opts.RootOptions, err)
			}
			view := viewBreakdown(breakdown)
			view.RecipeID = row.ID
			return formatter(cmd, opts.RootOptions).Success(view)
		},
	}

	cmd.Flags().StringVar(&opts.File, "file", "", "path to recipe YAML (required)")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func newRecipeCostCommand(opts *RecipeOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cost <recipe-id>",
		Short: "Show a recipe's material cost breakdown",
		Long: `Show the recipe's material cost. A stale cached cost is recomputed
against the current ledger before display. --batch scales the breakdown
to a batch of that many servings.

Example:
  crumb recipe cost rec-1 --batch 24`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, opts.RootOptions, "")
			if err != nil {
				return err
			}
			defer eng.Close()

			ctx := cmdContext(cmd)
			var breakdown recipe.CostBreakdown
			if opts.Recompute {
				breakdown, err = eng.Recipes().ComputeCost(ctx, args[0])
			} else {
				breakdown, err = eng.Recipes().Cost(ctx, args[0])
			}
			if err != nil {
				return domainError(cmd, opts.RootOptions, err)
			}

			if opts.Batch > 0 {
				rec, err := eng.Recipes().Get(ctx, args[0])
				if err != nil {
					return domainError(cmd, opts.RootOptions, err)
				}
				breakdown, err = recipe.Scale(breakdown, rec.YieldCount, opts.Batch)
				if err != nil {
					return domainError(cmd, opts.RootOptions, err)
				}
			}
			return formatter(cmd, opts.RootOptions).Success(viewBreakdown(breakdown))
		},
	}

	cmd.Flags().IntVar(&opts.Batch, "batch", 0, "scale the breakdown to this many servings")
	cmd.Flags().BoolVar(&opts.Recompute, "recompute", false, "force recomputation even when the cache is fresh")

	return cmd
}

func newRecipeSweepCommand(opts *RecipeOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Recompute every stale recipe cost",
		Long: `Recompute the cached cost of every recipe flagged stale by ingredient
cost changes. Lazy recomputation on read converges to the same totals;
sweep just settles them eagerly.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := openEngine(cmd, opts.RootOptions, "")
			if err != nil {
				return err
			}
			defer eng.Close()

			n, err := eng.Recipes().Sweep(cmdContext(cmd))
			if err != nil {
				return domainError(cmd, opts.RootOptions, err)
			}
			return formatter(cmd, opts.RootOptions).Success(map[string]any{"recomputed": n})
		},
	}
}
