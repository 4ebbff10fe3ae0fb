package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitrijs2005/meterkeeper/internal/cli"
)

var buildVersion = "N/A"

func main() {
	if buildVersion != "N/A" {
		cli.Version = buildVersion
	}

	cmd := cli.NewRootCommand()
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
