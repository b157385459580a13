package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/fhirql/fhirql/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		// Commands report their own failures through the formatter and
		// return a silent ExitError; only bare errors (flag parsing,
		// format validation) still need printing here.
		var exitErr *cli.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCommandError)
	}
}
