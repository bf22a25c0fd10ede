package main

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// NotifyShutdown installs the interrupt handler for a run. The first SIGINT,
// SIGTERM, or SIGHUP cancels the returned context so the engine stops at the
// next syscall boundary and teardown can run. A second signal exits
// immediately without teardown.
func NotifyShutdown(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, unix.SIGINT, unix.SIGTERM, unix.SIGHUP)

	go func() {
		defer signal.Stop(sigChan)

		select {
		case sig := <-sigChan:
			Logger(parent).Info("Received shutdown signal, stopping at next safe point", "signal", sig)
			cancel()
		case <-ctx.Done():
			return
		}

		sig := <-sigChan
		Logger(parent).Error("Received second signal, exiting immediately", "signal", sig)
		os.Exit(1)
	}()

	return ctx, cancel
}
