package main

import (
	"fmt"
	"runtime"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

// Set with -ldflags "-X main.version=... -X main.commit=... -X main.buildDate=..."
var (
	version   = "v0.0.0-dev"
	commit    = "unknown"
	buildDate = "1970-01-01T00:00:00Z"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			table := uitable.New()
			table.RightAlign(0)
			table.Separator = " "
			table.AddRow("version:", version)
			table.AddRow("commit:", commit)
			table.AddRow("buildDate:", buildDate)
			table.AddRow("goVersion:", runtime.Version())
			table.AddRow("platform:", fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH))
			_, err := fmt.Fprintln(cmd.OutOrStdout(), table)
			return err
		},
	}
}
