package app

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/ledgermap/ledgermap/pkg/logging"
)

// Execute runs the ledgermap CLI application with the given arguments.
func (a *App) Execute(ctx context.Context, args []string) error {
	rootCmd := a.createRootCommand()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

// createRootCommand creates the root cobra command with all subcommands.
func (a *App) createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:     "ledgermap",
		Short:   "Dual-source business record reconciliation",
		Version: a.version,
		Long: `Ledgermap reconciles two exports of the same business records, a flat
CSV export and a nested JSON API sync, into one canonical view.

Field mappings between the raw source columns and the canonical schema are
discovered automatically, and every reconciled record carries a provenance
tag explaining which source produced it and why.`,
		PersistentPreRunE: a.setupCommand,
		SilenceUsage:      true,
		SilenceErrors:     true,
	}

	rootCmd.PersistentFlags().StringVar(&a.config.ConfigFile, "config", "", "config file (default is $HOME/.ledgermap.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&a.config.Verbose, "verbose", "v", false, "verbose output (shortcut for --log-level=debug)")
	rootCmd.PersistentFlags().BoolVarP(&a.config.Quiet, "quiet", "q", false, "minimal output (shortcut for --log-level=warn)")
	rootCmd.PersistentFlags().BoolVar(&a.config.NoColor, "no-color", false, "disable colored output")
	rootCmd.PersistentFlags().StringVarP(&a.config.Format, "format", "o", "", "output format: text, json")
	rootCmd.PersistentFlags().StringVar(&a.config.LogLevel, "log-level", "", "log level: trace, debug, info, warn, error (overrides -v/-q)")
	rootCmd.PersistentFlags().StringVar(&a.config.StorePath, "store", "", "SQLite database path for mappings and runs")
	rootCmd.PersistentFlags().StringVar(&a.config.Strategy, "strategy", "", "overlap strategy: freshness, prefer-csv, prefer-json")

	rootCmd.SetVersionTemplate("ledgermap {{.Version}}\n")

	a.registerCommands(rootCmd)

	return rootCmd
}

// setupCommand runs before any command.
func (a *App) setupCommand(cmd *cobra.Command, _ []string) error {
	verbose := mustGetBool(cmd, "verbose")
	quiet := mustGetBool(cmd, "quiet")
	noColor := mustGetBool(cmd, "no-color")
	format := mustGetString(cmd, "format")
	logLevel := mustGetString(cmd, "log-level")
	store := mustGetString(cmd, "store")
	strategy := mustGetString(cmd, "strategy")

	a.config.UpdateFromFlags(verbose, quiet, noColor, format, logLevel, store, strategy)

	logger := NewLogger(a.config)
	a.logger = &logger
	logging.SetDefault(logger)

	return nil
}

// registerCommands registers all subcommands with the root command.
func (a *App) registerCommands(rootCmd *cobra.Command) {
	rootCmd.AddCommand(a.NewMappingsCommand())
	rootCmd.AddCommand(a.NewReconcileCommand())
	rootCmd.AddCommand(a.NewEntitiesCommand())
	rootCmd.AddCommand(a.NewVersionCommand())
}

// ExitOnError prints an error to stderr and exits with status 1. Meant for
// top-level error handling in main.go.
func ExitOnError(err error) {
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
}

// mustGetBool retrieves a boolean flag value or panics if the flag doesn't
// exist. Only for flags defined in this package.
func mustGetBool(cmd *cobra.Command, name string) bool {
	val, err := cmd.Flags().GetBool(name)
	if err != nil {
		panic("programming error: failed to get flag " + name + ": " + err.Error())
	}
	return val
}

// mustGetString retrieves a string flag value or panics if the flag doesn't
// exist. Only for flags defined in this package.
func mustGetString(cmd *cobra.Command, name string) string {
	val, err := cmd.Flags().GetString(name)
	if err != nil {
		panic("programming error: failed to get flag " + name + ": " + err.Error())
	}
	return val
}
