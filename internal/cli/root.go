// Package cli implements the fhirql command tree: translate a path
// expression to SQL, load NDJSON resources, and run expressions against a
// configured engine.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/fhirql/fhirql/internal/ast"
	"github.com/fhirql/fhirql/internal/config"
	"github.com/fhirql/fhirql/internal/fhirpath"
	"github.com/fhirql/fhirql/internal/schema"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"
	Config  string // YAML config path
	Engine  string // overrides config engine
	DSN     string // overrides config dsn
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the fhirql CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fhirql",
		Short: "FHIRPath-to-SQL query engine",
		Long:  "Translates FHIRPath expressions into CTE-based SQL and runs them against JSON resource tables in DuckDB, Postgres or SQLite.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			// Configure logging based on verbose flag
			logLevel := slog.LevelInfo
			if opts.Verbose {
				logLevel = slog.LevelDebug
			}
			handler := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{
				Level: logLevel,
			})
			slog.SetDefault(slog.New(handler))
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Config, "config", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.Engine, "engine", "", "execution engine (duckdb|postgres|sqlite)")
	cmd.PersistentFlags().StringVar(&opts.DSN, "dsn", "", "database connection string")

	cmd.AddCommand(NewTranslateCommand(opts))
	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewLoadCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// newFormatter builds the formatter every command writes through. Verbose
// output goes to stderr so JSON on stdout stays parseable.
func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// resolveConfig loads the YAML config and applies flag overrides.
func resolveConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return cfg, err
	}
	if opts.Engine != "" {
		cfg.Engine = opts.Engine
	}
	if opts.DSN != "" {
		cfg.DSN = opts.DSN
	}
	return cfg, nil
}

// loadRegistry builds the type registry: embedded defaults, optionally
// extended by the configured schema directory.
func loadRegistry(cfg config.Config) (*schema.Registry, error) {
	if cfg.SchemaDir != "" {
		return schema.LoadDir(cfg.SchemaDir)
	}
	return schema.Load()
}

// rootResource infers the resource type an expression is anchored at from
// its leading identifier, used when --resource is not given.
func rootResource(expression string, reg *schema.Registry) (string, error) {
	raw, err := fhirpath.Parse(expression)
	if err != nil {
		return "", err
	}
	node, err := ast.Normalize(raw)
	if err != nil {
		return "", err
	}
	for node.Target != nil {
		node = node.Target
	}
	if node.Kind == ast.KindIdentifier && reg.HasType(node.Name) {
		return node.Name, nil
	}
	return "", fmt.Errorf("cannot infer resource type from %q: pass --resource", expression)
}
