package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/iahmadwaqar/ticket-scout-sub002/cmd"
)

func main() {
	// Cancel on the signals the provisioning harness sends, so every loop and
	// browser attachment unwinds before the process exits.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
