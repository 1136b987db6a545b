package main

import (
	"context"
	"fmt"
	"os"

	"hipaa-training/internal/cli"
)

func main() {
	if err := cli.NewRootCommand(os.Stdout).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
