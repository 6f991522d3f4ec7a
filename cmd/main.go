package main

import (
	"context"
	stdlog "log"

	"inventorysvc/internal/app"

	"github.com/joho/godotenv"
)

func main() {
	if err := run(); err != nil {
		stdlog.Fatalf("Application failed: %v", err)
	}
}

func run() error {
	// Missing .env is fine; the environment may already be populated.
	_ = godotenv.Load()

	ctx := context.Background()

	application, err := app.NewApplication(ctx)
	if err != nil {
		return err
	}
	defer application.Shutdown()

	return application.Run()
}
