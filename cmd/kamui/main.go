// Package main is the entry point for the Kamui CLI.
// Kamui CLI provides command-line access to the Kamui Platform,
// a PaaS service for deploying and managing applications.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/kamui-project/kamui-session/internal/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
