package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/campusride/bustrack/cmd/bustrackctl/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.NewRootCommand(ctx).Execute(); err != nil {
		os.Exit(1)
	}
}
