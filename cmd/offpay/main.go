// Command offpay is the offline payment wallet and ledger server.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/offpay/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
