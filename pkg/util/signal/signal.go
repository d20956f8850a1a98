// Package signal turns SIGINT and SIGTERM into a stop channel.
package signal

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

var onlyOneSignalHandler = make(chan struct{})

var shutdownSignals = []os.Signal{os.Interrupt, syscall.SIGTERM}

// SetupSignalHandler returns a channel closed on the first SIGINT or
// SIGTERM. A second signal exits the process with status 1. It panics when
// called twice.
func SetupSignalHandler() <-chan struct{} {
	close(onlyOneSignalHandler)

	stop := make(chan struct{})
	c := make(chan os.Signal, 2)
	signal.Notify(c, shutdownSignals...)
	go func() {
		<-c
		close(stop)
		<-c
		os.Exit(1)
	}()
	return stop
}

// SetupSignalContext is SetupSignalHandler as a context.
func SetupSignalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	stop := SetupSignalHandler()
	go func() {
		<-stop
		cancel()
	}()
	return ctx
}
