package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/yungbote/vidscribe-backend/internal/app"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer a.Close()

	a.Start(ctx)

	if err := a.Run(ctx); err != nil {
		a.Log.Error("server exited", "error", err)
	}
}
