package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
)

// forceExit ends the process when a second interrupt arrives. Replaced in
// tests.
var forceExit = func() { os.Exit(1) }

// shutdownContext returns a context canceled by the first SIGINT or SIGTERM.
// A scheduled backup or sign-in in progress observes the cancellation and
// unwinds; a second signal exits immediately. The returned stop func releases
// the signal handler and must be called once the caller is done.
func shutdownContext(parent context.Context, logger *slog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	done := make(chan struct{})

	go func() {
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			logger.Info("shutting down", slog.String("signal", sig.String()))
			cancel()
		case <-done:
			return
		}

		select {
		case sig := <-sigCh:
			logger.Warn("second signal, exiting now", slog.String("signal", sig.String()))
			forceExit()
		case <-done:
		}
	}()

	stopped := false

	return ctx, func() {
		if !stopped {
			stopped = true
			close(done)
		}

		cancel()
	}
}
