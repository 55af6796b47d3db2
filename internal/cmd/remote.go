package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/offlinefirst/keyhole/pkg/control"
	"github.com/offlinefirst/keyhole/pkg/routing"
)

// controlClient is the subset of *control.Client the remote commands use.
type controlClient interface {
	Send(ctx context.Context, command string) (control.CommandResponse, error)
	Status(ctx context.Context) (routing.Status, error)
	UpdateSettings(ctx context.Context, req control.SettingsRequest) (routing.Status, error)
	ContinueOnboarding(ctx context.Context) (routing.OnboardingResult, error)
	Follow(ctx context.Context, fn func(routing.Status)) error
}

// dialControl is swapped in tests.
var dialControl = func(addr string) (controlClient, error) {
	c, err := control.NewClient(addr)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (rc *RootCommand) client() (controlClient, error) {
	app, err := rc.ensureAppContext()
	if err != nil {
		return nil, err
	}
	return dialControl(app.Config.Control.Listen)
}

func newStatusCommand(rc *RootCommand) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's routing status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := rc.client()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if follow {
				err := c.Follow(cmd.Context(), func(s routing.Status) {
					printStatus(out, s)
					fmt.Fprintln(out)
				})
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			}
			status, err := c.Status(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(out, status)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Stream status changes until interrupted")
	return cmd
}

func newSendCommand(rc *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:       "send <playpause|next-track|back-track>",
		Short:     "Simulate a media key press and release",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{control.CommandPlayPause, control.CommandNextTrack, control.CommandBackTrack},
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := control.KeyForCommand(args[0]); err != nil {
				return err
			}
			c, err := rc.client()
			if err != nil {
				return err
			}
			resp, err := c.Send(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", resp.Command, resp.Result)
			return nil
		},
	}
}

func newSetCommand(rc *RootCommand) *cobra.Command {
	var (
		enabled   bool
		policy    string
		preferred string
		logLevel  string
	)
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change persisted settings on the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var req control.SettingsRequest
			flags := cmd.Flags()
			if flags.Changed("enabled") {
				req.Enabled = &enabled
			}
			if flags.Changed("policy") {
				p := routing.Policy(strings.TrimSpace(policy))
				req.Policy = &p
			}
			if flags.Changed("preferred") {
				req.PreferredTarget = &preferred
			}
			if flags.Changed("daemon-log-level") {
				req.LogLevel = &logLevel
			}
			if req.Enabled == nil && req.Policy == nil && req.PreferredTarget == nil && req.LogLevel == nil {
				return errors.New("nothing to change; pass at least one of --enabled, --policy, --preferred, --daemon-log-level")
			}

			c, err := rc.client()
			if err != nil {
				return err
			}
			status, err := c.UpdateSettings(cmd.Context(), req)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.BoolVar(&enabled, "enabled", true, "Intercept media keys")
	flags.StringVar(&policy, "policy", "", "What to do when the chosen player is not running (swallow, propagate, launch)")
	flags.StringVar(&preferred, "preferred", "", "Bundle identifier of the preferred player")
	// The global --log-level only affects this CLI process.
	flags.StringVar(&logLevel, "daemon-log-level", "", "Change the running daemon's log level")
	return cmd
}

func newOnboardCommand(rc *RootCommand) *cobra.Command {
	return &cobra.Command{
		Use:   "onboard",
		Short: "Finish first-run setup once permissions are in place",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := rc.client()
			if err != nil {
				return err
			}
			res, err := c.ContinueOnboarding(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !res.Ready {
				fmt.Fprintln(out, "Not ready: grant accessibility and allow automation for at least one player, then retry.")
				fmt.Fprintln(out, "Run 'keyhole doctor' to see what is missing.")
				return nil
			}
			fmt.Fprintf(out, "Ready. Preferred player: %s", res.PreferredTarget)
			if res.AutoSelected {
				fmt.Fprint(out, " (selected automatically)")
			}
			fmt.Fprintln(out)
			return nil
		},
	}
}

func printStatus(w io.Writer, s routing.Status) {
	fmt.Fprintf(w, "enabled: %t\n", s.Enabled)
	fmt.Fprintf(w, "interceptor: %s\n", s.Interceptor)
	fmt.Fprintf(w, "accessibility: %t\n", s.Accessibility)
	fmt.Fprintf(w, "policy: %s\n", s.Policy)
	fmt.Fprintf(w, "preferred: %s", s.PreferredTarget)
	if s.PreferredTargetExplicit {
		fmt.Fprint(w, " (explicit)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "onboarding_completed: %t\n", s.OnboardingCompleted)
	fmt.Fprintf(w, "permission_problem: %t\n", s.PermissionProblem)
	fmt.Fprintln(w, "targets:")
	for _, t := range s.Targets {
		if !t.Installed {
			fmt.Fprintf(w, "  - %s (%s): not installed\n", t.Name, t.BundleID)
			continue
		}
		fmt.Fprintf(w, "  - %s (%s): %s\n", t.Name, t.BundleID, t.State)
	}
}
