//go:build !unix

package cmd

import "context"

func watchRefreshSignal(ctx context.Context, _ func()) error {
	<-ctx.Done()
	return nil
}
