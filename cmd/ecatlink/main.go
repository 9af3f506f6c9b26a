package main

import (
	"fmt"
	"os"

	"github.com/distributed/ecatlink/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "ecatlink:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
