package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/crumb/internal/orderflow"
)

// OrderOptions holds flags for the order subcommands.
type OrderOptions struct {
	*RootOptions
	OrderID string
	From    string
	To      string
	Items   string
}

// NewOrderCommand creates the order command group.
func NewOrderCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &OrderOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "order",
		Short: "Drive order status transitions through the inventory coordinator",
	}

	cmd.AddCommand(newOrderTransitionCommand(opts))

	return cmd
}

// orderItem is the JSON shape of one line item on the --items flag.
type orderItem struct {
	Recipe   string `json:"recipe,omitempty"`
	Name     string `json:"name,omitempty"`
	Quantity int    `json:"quantity"`
}

func newOrderTransitionCommand(opts *OrderOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transition",
		Short: "Apply an order status transition",
		Long: `Apply the inventory side effects of an order status transition.
Reaching the deduction status deducts ingredient stock exactly once;
reaching Cancelled afterwards restocks exactly once. Other transitions
are no-ops. Insufficiency is advisory - the deduction commits and the
overdrawn ingredients are reported.

Items are JSON: recipe-linked entries carry "recipe", custom items just
a "name" (custom items never touch stock).

Example:
  crumb order transition --order ord-7 --from quoted --to confirmed \
    --items '[{"recipe":"rec-1","quantity":2},{"name":"gift note","quantity":1}]'`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := orderflow.ParseStatus(opts.From)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --from", err)
			}
			to, err := orderflow.ParseStatus(opts.To)
			if err != nil {
				return WrapExitError(ExitCommandError, "invalid --to", err)
			}

			var items []orderItem
			if err := json.Unmarshal([]byte(opts.Items), &items); err != nil {
				return WrapExitError(ExitCommandError, "invalid --items JSON", err)
			}
			order := orderflow.Order{ID: opts.OrderID}
			for _, item := range items {
				order.Items = append(order.Items, orderflow.LineItem{
					RecipeID: item.Recipe,
					Name:     item.Name,
					Quantity: item.Quantity,
				})
			}

			eng, err := openEngine(cmd, opts.RootOptions, "")
			if err != nil {
				return err
			}
			defer eng.Close()

			result, err := eng.Orders().OnStatusTransition(cmdContext(cmd), order, from, to)
			if err != nil && !orderflow.IsInsufficientStock(err) {
				return domainError(cmd, opts.RootOptions, err)
			}

			payload := map[string]any{
				"order_id":  opts.OrderID,
				"committed": result.Committed,
			}
			if len(result.OverdraftIngredients) > 0 {
				payload["overdraft_ingredients"] = result.OverdraftIngredients
			}
			if len(result.LowStockSignals) > 0 {
				payload["low_stock"] = result.LowStockSignals
			}

			f := formatter(cmd, opts.RootOptions)
			if err != nil {
				// Advisory: the deduction committed, stock went negative.
				payload["warning"] = ErrorCode(err)
				f.VerboseLog("insufficient stock: %v", err)
			}
			if opts.Format == "json" {
				return f.Success(payload)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "order %s %s -> %s: committed=%v\n",
				opts.OrderID, from, to, result.Committed)
			for _, id := range result.OverdraftIngredients {
				fmt.Fprintf(cmd.OutOrStdout(), "  overdraft: %s\n", id)
			}
			for _, id := range result.LowStockSignals {
				fmt.Fprintf(cmd.OutOrStdout(), "  low stock: %s\n", id)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.OrderID, "order", "", "order id (required)")
	cmd.Flags().StringVar(&opts.From, "from", "", "current status (required)")
	cmd.Flags().StringVar(&opts.To, "to", "", "target status (required)")
	cmd.Flags().StringVar(&opts.Items, "items", "[]", "order line items as JSON")
	_ = cmd.MarkFlagRequired("order")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}
