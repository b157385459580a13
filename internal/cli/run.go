package cli

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fhirql/fhirql/internal/executor"
)

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Resource string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <expression>",
		Short: "Translate an expression and execute it",
		Long: `Translate a FHIRPath expression and execute the resulting SQL against
the configured database, printing one row per result. Load resources
first with "fhirql load".`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Resource, "resource", "r", "", "resource type the expression is evaluated against")

	return cmd
}

func runRun(opts *RunOptions, expression string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	cfg, err := resolveConfig(opts.RootOptions)
	if err != nil {
		return fail(formatter, ExitCommandError, "CONFIG", err)
	}

	slog.Info("translating expression", "expression", expression, "engine", cfg.Engine)
	stmt, out, err := translate(opts.RootOptions, opts.Resource, expression)
	if err != nil {
		return fail(formatter, ExitFailure, errorCode(err), err)
	}
	slog.Debug("expression translated", "resource", out.Resource, "sql_bytes", len(stmt.SQL))
	formatter.VerboseLog("translated %q for %s on %s", expression, out.Resource, out.Engine)

	ex, err := executor.Open(cfg.Engine, cfg.DSN)
	if err != nil {
		return fail(formatter, ExitCommandError, "ENGINE", err)
	}
	defer ex.Close()

	res, err := ex.Run(cmd.Context(), stmt)
	if err != nil {
		return fail(formatter, ExitFailure, "ENGINE", err)
	}
	slog.Info("statement executed", "run_id", res.RunID, "rows", len(res.Rows))
	formatter.VerboseLog("run %s returned %d row(s)", res.RunID, len(res.Rows))

	if opts.Format == "json" {
		return formatter.Success(res)
	}

	w := cmd.OutOrStdout()
	names := make([]string, len(res.Columns))
	for i, c := range res.Columns {
		names[i] = c.Name
	}
	fmt.Fprintln(w, strings.Join(names, "\t"))
	for _, row := range res.Rows {
		cells := make([]string, len(row))
		for i, v := range row {
			if v == nil {
				cells[i] = "NULL"
				continue
			}
			cells[i] = fmt.Sprintf("%v", v)
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	return nil
}
