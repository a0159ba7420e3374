package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd 不带子命令时直接启动服务
var rootCmd = &cobra.Command{
	Use:   "image-proxy",
	Short: "Image proxy that rehosts remote images on a CDN",
	Long: `image-proxy answers POST /upload with a hosted URL for a remote image.
Unknown images are returned as-is while a background flow fetches,
compresses and uploads them, so the next request gets the hosted copy.`,
	Run: func(cmd *cobra.Command, args []string) {
		serveCmd.Run(cmd, args)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "config file path (eg: /etc/image-proxy/config.yaml)")
	flags.String("log-level", "", "override log_level (debug, info, warn, error)")

	for key, flag := range map[string]string{
		"config_file_path": "config",
		"log_level":        "log-level",
	} {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			fmt.Fprintf(os.Stderr, "failed to bind flag --%s: %v\n", flag, err)
		}
	}
}
