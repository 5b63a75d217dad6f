package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nedpals/davi-nfc-bridge/buildinfo"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), buildinfo.BuildInfo())
		},
	}
}
