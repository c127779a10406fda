// Package main is the argus command.
package main

import (
	"fmt"
	"os"

	"github.com/coastalimages/argus/cli"
)

func main() {
	app := cli.NewApp(os.Stdout, os.Stderr)
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
