package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/crumb/internal/engine"
	"github.com/roach88/crumb/internal/pricing"
)

// cmdContext returns the command's context, falling back to Background
// when cobra was not given one (direct Execute in tests).
func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// openEngine opens the database named by the global --db flag and
// assembles an engine over it, optionally with a pricing config loaded
// from a YAML file.
func openEngine(cmd *cobra.Command, opts *RootOptions, configPath string) (*engine.Engine, error) {
	var engineOpts []engine.Option
	if configPath != "" {
		cfg, err := pricing.LoadConfig(configPath)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load pricing config", err)
		}
		engineOpts = append(engineOpts, engine.WithPricingConfig(cfg))
	}

	eng, err := engine.Open(cmdContext(cmd), opts.Database, engineOpts...)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	return eng, nil
}

// formatter builds the output formatter for a command.
func formatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}
