package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/chaos-io/cutout/cli"
	"github.com/chaos-io/cutout/config"
	"github.com/chaos-io/cutout/util"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
)

func main() {
	// 加载配置
	configPath := os.Getenv("CUTOUT_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg := config.New(configPath)

	// 初始化日志
	if err := util.InitLogger(cfg.Log.Mode); err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer util.Sync()

	util.Logger.Debug("starting cutout",
		zap.String("version", Version),
		zap.String("git_commit", GitCommit),
		zap.String("config", configPath))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCmd(cfg).ExecuteContext(ctx); err != nil {
		util.Logger.Error("command failed", zap.Error(err))
		util.Sync()
		os.Exit(1)
	}
}
