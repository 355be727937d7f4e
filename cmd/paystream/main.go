// Command paystream runs the payment stream ledger from the command line.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/paystream/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "paystream:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
