package main

import (
	"context"
	"log/slog"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// Signal tests share the process signal mask, so they do not run in parallel.

func TestShutdownContext_FirstSignalCancelsSecondExits(t *testing.T) {
	exited := make(chan struct{})
	oldExit := forceExit
	forceExit = func() { close(exited) }

	t.Cleanup(func() { forceExit = oldExit })

	ctx, stop := shutdownContext(context.Background(), quietLogger())
	defer stop()

	if err := syscall.Kill(os.Getpid(), syscall.SIGINT); err != nil {
		t.Fatalf("sending SIGINT: %v", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled after SIGINT")
	}

	if err := syscall.Kill(os.Getpid(), syscall.SIGTERM); err != nil {
		t.Fatalf("sending SIGTERM: %v", err)
	}

	select {
	case <-exited:
	case <-time.After(2 * time.Second):
		t.Fatal("second signal did not force an exit")
	}
}

func TestShutdownContext_ParentCancelPropagates(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())

	ctx, stop := shutdownContext(parent, quietLogger())
	defer stop()

	cancel()

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled after parent cancel")
	}
}

func TestShutdownContext_StopIsIdempotent(t *testing.T) {
	ctx, stop := shutdownContext(context.Background(), quietLogger())

	stop()
	stop()

	assert.Error(t, ctx.Err())
}
