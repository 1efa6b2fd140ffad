// Command dsync syncs scheduler workflows into the local catalog.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCmdRoot().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
