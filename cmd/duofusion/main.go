// Command duofusion records synchronized optical and thermal frame pairs.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/duofusion/internal/cli"
)

func main() {
	err := cli.NewRootCommand().Execute()
	if err == nil {
		return
	}

	// Commands report their own failures and return an ExitError; anything
	// else is a usage problem caught by cobra.
	var exitErr *cli.ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.Code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(cli.ExitCommandError)
}
