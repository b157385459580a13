package cli

import (
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/fhirql/fhirql/internal/executor"
)

// LoadOptions holds flags for the load command.
type LoadOptions struct {
	*RootOptions
}

// NewLoadCommand creates the load command.
func NewLoadCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LoadOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "load <ndjson-file>",
		Short: "Load NDJSON resources into the database",
		Long: `Load newline-delimited JSON resources into the configured database.
Each record goes into the table named after its resourceType; tables are
created on first sight and existing ids are overwritten.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(opts, args[0], cmd)
		},
	}

	return cmd
}

func runLoad(opts *LoadOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := resolveConfig(opts.RootOptions)
	if err != nil {
		return fail(formatter, ExitCommandError, "CONFIG", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fail(formatter, ExitCommandError, "IO", err)
	}
	defer f.Close()

	ex, err := executor.Open(cfg.Engine, cfg.DSN)
	if err != nil {
		return fail(formatter, ExitCommandError, "ENGINE", err)
	}
	defer ex.Close()

	slog.Info("loading resources", "path", path, "engine", cfg.Engine)
	stats, err := ex.LoadNDJSON(cmd.Context(), f)
	if err != nil {
		return fail(formatter, ExitFailure, "LOAD", err)
	}
	slog.Info("resources loaded", "resources", stats.Resources, "tables", len(stats.Tables))

	if opts.Format == "json" {
		return formatter.Success(stats)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Loaded %d resource(s) into %d table(s)\n", stats.Resources, len(stats.Tables))
	tables := make([]string, 0, len(stats.Tables))
	for table := range stats.Tables {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		formatter.VerboseLog("  %s: %d", table, stats.Tables[table])
	}
	return nil
}
