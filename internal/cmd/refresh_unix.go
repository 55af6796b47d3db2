//go:build unix

package cmd

import (
	"context"
	"os"
	"os/signal"

	"golang.org/x/sys/unix"
)

// watchRefreshSignal calls fn for every SIGUSR1 until ctx is cancelled. It is how
// a front end tells the daemon that it was brought forward.
func watchRefreshSignal(ctx context.Context, fn func()) error {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGUSR1)
	defer signal.Stop(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ch:
			fn()
		}
	}
}
