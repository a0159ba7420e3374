package cmd

import (
	"context"
	"fmt"

	"github.com/anoixa/image-proxy/cache"
	"github.com/anoixa/image-proxy/internal/app"
	"github.com/spf13/cobra"
)

// cacheCmd 缓存管理命令
var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Cache management commands",
	Long:  "Inspect and warm the source URL to hosted URL cache.",
}

// cacheGetCmd 查询缓存
var cacheGetCmd = &cobra.Command{
	Use:          "get <image-url>",
	Short:        "Print the hosted URL cached for an image URL",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log := loadConfig()

		c, err := cache.NewFromConfig(cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		hosted, ok := c.Get(cmd.Context(), args[0])
		if !ok {
			return fmt.Errorf("not cached: %s", args[0])
		}
		fmt.Fprintln(cmd.OutOrStdout(), hosted)
		return nil
	},
}

// cacheWarmCmd 同步执行上传流程并写入缓存
var cacheWarmCmd = &cobra.Command{
	Use:          "warm <image-url>...",
	Short:        "Fetch, compress and upload images now, then cache the hosted URLs",
	Args:         cobra.MinimumNArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log := loadConfig()

		container, err := app.NewContainer(cfg, log)
		if err != nil {
			return err
		}
		defer func() { _ = container.Close(context.Background()) }()

		failed := 0
		for _, src := range args {
			hosted, err := container.Proxy().Process(cmd.Context(), src)
			if err != nil {
				failed++
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", src, err)
				continue
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", src, hosted)
		}

		if failed > 0 {
			return fmt.Errorf("%d of %d images failed", failed, len(args))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cacheCmd)
	cacheCmd.AddCommand(cacheGetCmd)
	cacheCmd.AddCommand(cacheWarmCmd)
}
