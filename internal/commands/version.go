package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/dvloznov/momoney/internal/buildinfo"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("momoney %s\n", buildinfo.Version)
			fmt.Printf("  commit: %s\n", buildinfo.Commit)
			fmt.Printf("  built:  %s\n", buildinfo.Date)
			fmt.Printf("  go:     %s\n", runtime.Version())
		},
	}
}
