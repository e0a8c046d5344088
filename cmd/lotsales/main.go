package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/lotsales/lotsales/cmd/lotsales/cli"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := cli.NewRootCommand(serve).ExecuteContext(ctx)
	if err == nil {
		return
	}
	var exitErr cli.ExitError
	if errors.As(err, &exitErr) {
		stop()
		os.Exit(exitErr.Code)
	}
	fmt.Fprintln(os.Stderr, "lotsales:", err)
	stop()
	os.Exit(1)
}
