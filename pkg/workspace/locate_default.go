//go:build !darwin

package workspace

import "context"

// defaultLocator finds nothing: bundles only exist on macOS.
func defaultLocator(Runner) Locator {
	return func(context.Context, string) (string, bool) { return "", false }
}
