package main

import (
	"context"
	"fmt"
	"os"

	server "github.com/avolkovs/termvault/internal/server"
	"github.com/avolkovs/termvault/internal/server/config"
)

func main() {
	ctx := context.Background()

	cfg := config.LoadConfig()

	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init error: %v\n", err)
		os.Exit(1)
	}

	app.Run(ctx)
}
