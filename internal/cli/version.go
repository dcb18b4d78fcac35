package cli

import (
	"fmt"

	"github.com/pscheid92/splitpulse/internal/platform/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "splitpulse %s\n", version.Get())
		},
	}
}
