package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sentinelr/devicesync/cmd/companion/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.NewCompanionCommand(ctx).Execute(); err != nil {
		stop()
		os.Exit(1)
	}
}
