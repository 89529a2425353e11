package main

import (
	"fmt"
	"os"

	"github.com/hivemail/hivemail/internal/cli"
)

func main() {
	if err := cli.App().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
