//go:build unix

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// progressSignals delivers SIGUSR1, which asks the runner for a progress line.
func progressSignals() chan os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	return ch
}
