//go:build darwin

package workspace

import (
	"context"
	"fmt"
)

// defaultLocator asks Spotlight for the bundle, preferring /Applications.
func defaultLocator(run Runner) Locator {
	return func(ctx context.Context, bundleID string) (string, bool) {
		query := fmt.Sprintf("kMDItemCFBundleIdentifier == '%s'", bundleID)
		out, err := run(ctx, "mdfind", query)
		if err != nil {
			return "", false
		}
		return pickBundlePath(out)
	}
}
