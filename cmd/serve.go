package cmd

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/anoixa/image-proxy/api/core"
	"github.com/anoixa/image-proxy/config"
	"github.com/anoixa/image-proxy/internal/app"
	"github.com/anoixa/image-proxy/utils/logger"
	"github.com/spf13/cobra"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start API server",
	Run: func(cmd *cobra.Command, args []string) {
		RunServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// loadConfig 加载配置并初始化全局日志
func loadConfig() (*config.Config, *slog.Logger) {
	config.InitConfig()
	cfg := config.Get()
	return cfg, logger.Init(cfg.LogLevel, cfg.LogFormat)
}

func RunServer() {
	cfg, log := loadConfig()
	log.Info("starting image proxy", "version", config.VersionString())

	container, err := app.NewContainer(cfg, log)
	if err != nil {
		log.Error("failed to initialize container", "error", err)
		os.Exit(1)
	}

	server, cleanup := core.StartServer(&core.ServerDependencies{
		Config:   cfg,
		Logger:   log,
		Proxy:    container.Proxy(),
		Cache:    container.Cache(),
		Uploader: container.Uploader(),
		Pool:     container.Pool(),
	})

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server started", "addr", cfg.Addr())
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 处理退出signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		log.Info("shutting down server", "signal", sig.String())
	case err := <-serverErr:
		log.Error("server failed", "error", err)
		exitCode = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()

	// 先停止接收请求, 再等待后台上传流程结束
	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
		exitCode = 1
	}
	cleanup()

	if err := container.Close(ctx); err != nil {
		log.Error("error closing container", "error", err)
		exitCode = 1
	}

	log.Info("server exited")
	os.Exit(exitCode)
}
