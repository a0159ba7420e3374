package cmd

import (
	"fmt"

	"github.com/anoixa/image-proxy/config"
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "image-proxy %s\n", config.VersionString())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
