package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fhirql/fhirql/internal/cte"
	"github.com/fhirql/fhirql/internal/dialect"
	"github.com/fhirql/fhirql/internal/translator"
)

// TranslateOptions holds flags for the translate command.
type TranslateOptions struct {
	*RootOptions
	Resource string
}

// TranslationOutput is the JSON payload of a translated expression.
type TranslationOutput struct {
	Expression string       `json:"expression"`
	Resource   string       `json:"resource"`
	Engine     string       `json:"engine"`
	SQL        string       `json:"sql"`
	Columns    []cte.Column `json:"columns"`
}

// NewTranslateCommand creates the translate command.
func NewTranslateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TranslateOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "translate <expression>",
		Short: "Translate a FHIRPath expression to SQL",
		Long: `Translate a FHIRPath expression into a CTE-based SQL statement for the
configured engine and print it without executing anything.

The resource type defaults to the expression's leading identifier
(Patient.name.family is anchored at Patient); pass --resource when the
expression does not start with one.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTranslate(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Resource, "resource", "r", "", "resource type the expression is evaluated against")

	return cmd
}

func runTranslate(opts *TranslateOptions, expression string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd)

	stmt, out, err := translate(opts.RootOptions, opts.Resource, expression)
	if err != nil {
		return fail(formatter, ExitFailure, errorCode(err), err)
	}

	formatter.VerboseLog("translated %q for %s on %s", expression, out.Resource, out.Engine)

	if opts.Format == "json" {
		return formatter.Success(out)
	}
	fmt.Fprintln(cmd.OutOrStdout(), stmt.SQL)
	return nil
}

// translate runs the full pipeline shared by translate and run: config,
// registry, dialect, translation, CTE assembly.
func translate(opts *RootOptions, resource, expression string) (*cte.Statement, *TranslationOutput, error) {
	cfg, err := resolveConfig(opts)
	if err != nil {
		return nil, nil, err
	}
	reg, err := loadRegistry(cfg)
	if err != nil {
		return nil, nil, err
	}
	d, err := dialect.ForEngine(cfg.Engine)
	if err != nil {
		return nil, nil, err
	}

	if resource == "" {
		resource, err = rootResource(expression, reg)
		if err != nil {
			return nil, nil, err
		}
	}

	frags, err := translator.New(d, reg).Translate(expression, resource)
	if err != nil {
		return nil, nil, err
	}
	stmt, err := cte.Assemble(frags)
	if err != nil {
		return nil, nil, err
	}

	out := &TranslationOutput{
		Expression: expression,
		Resource:   resource,
		Engine:     cfg.Engine,
		SQL:        stmt.SQL,
		Columns:    stmt.Columns,
	}
	return stmt, out, nil
}
