// Command encsql runs SQL queries over homomorphically encrypted tables.
package main

import (
	"fmt"
	"os"

	"github.com/mahmudsudo/encrypted-sql/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
