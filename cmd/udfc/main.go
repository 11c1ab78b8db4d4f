// Command udfc compiles PL/pgSQL user-defined functions into plain SQL.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/udfc/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "udfc: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
