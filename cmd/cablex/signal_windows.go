//go:build windows

package main

import (
	"os"
	"os/signal"
)

// notifySignals registers the signals that stop the graph server.
// Windows has no SIGTERM.
func notifySignals(ch chan<- os.Signal) {
	signal.Notify(ch, os.Interrupt)
}
