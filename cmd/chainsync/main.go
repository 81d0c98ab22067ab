package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-chainsync/config"
	"github.com/saiset-co/sai-chainsync/sai"
	"github.com/saiset-co/sai-chainsync/service"
)

func main() {
	mainCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := service.NewService(mainCtx, config.PathFromEnv())
	if err != nil {
		fmt.Printf("Failed to create service: %v\n", err)
		os.Exit(1)
	}

	if err := svc.Start(); err != nil {
		sai.Logger().Error("Failed to start service", zap.Error(err))
		os.Exit(1)
	}
}
