// cmd/server/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/sumanurawat/storyboarder/internal/app"
	"github.com/sumanurawat/storyboarder/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// 等待中断信号以进行优雅关闭
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("init app: %v", err)
	}

	runErr := application.Run(ctx)
	if runErr != nil {
		application.Logger.WithError(runErr).Error("server exited")
	}
	if err := application.Close(); err != nil {
		log.Printf("cleanup failed: %v", err)
	}
	if runErr != nil {
		os.Exit(1)
	}
}
