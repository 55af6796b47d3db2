package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/offlinefirst/keyhole/pkg/automation"
	"github.com/offlinefirst/keyhole/pkg/workspace"
)

// newTargetLocator is swapped in tests.
var newTargetLocator = func(ctx context.Context, targets []string) workspace.Locator {
	monitor := workspace.NewMonitor(ctx, workspace.Options{BundleIDs: targets})
	return func(_ context.Context, id string) (string, bool) { return monitor.InstalledPath(id) }
}

func newTargetsCommand(rc *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "targets",
		Short: "List supported players in selection order and where they are installed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := rc.ensureAppContext()
			if err != nil {
				return err
			}
			locate := newTargetLocator(cmd.Context(), app.Config.Targets)
			return printTargets(cmd.Context(), cmd.OutOrStdout(), app.Config.Targets, locate)
		},
	}
}

func printTargets(ctx context.Context, w io.Writer, targets []string, locate workspace.Locator) error {
	for i, id := range targets {
		def, ok := automation.Lookup(id)
		if !ok {
			return fmt.Errorf("%w: %s", automation.ErrUnknownTarget, id)
		}
		path, installed := locate(ctx, id)
		if !installed {
			path = "not installed"
		}
		fmt.Fprintf(w, "%d. %-8s %-34s %s\n", i+1, def.Name, def.BundleID, path)
	}
	return nil
}
