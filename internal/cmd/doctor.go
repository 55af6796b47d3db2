package cmd

import (
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/offlinefirst/keyhole/pkg/automation"
	"github.com/offlinefirst/keyhole/pkg/permissions"
	"github.com/offlinefirst/keyhole/pkg/workspace"
)

// doctorCheck is one line of doctor output.
type doctorCheck struct {
	Name     string
	Status   string
	Message  string
	Guidance string
}

// doctorOptions are the seams doctor probes through.
type doctorOptions struct {
	Targets  []string
	Prober   permissions.Prober
	Lookup   permissions.LookupEnvFunc
	Locator  workspace.Locator
	LookPath func(string) (string, error)
}

var newDoctorOptions = func(targets []string) doctorOptions {
	return doctorOptions{
		Targets:  targets,
		Prober:   permissions.New(nil),
		LookPath: exec.LookPath,
	}
}

func newDoctorCommand(rc *RootCommand) *cobra.Command {
	var openSettings bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Report accessibility and automation permissions for every player",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := rc.ensureAppContext()
			if err != nil {
				return err
			}
			checks := runDoctor(cmd.Context(), newDoctorOptions(app.Config.Targets))
			printDoctor(cmd.OutOrStdout(), checks)

			if openSettings {
				app.Logger.Info("opening accessibility settings")
				return workspace.OpenAccessibilitySettings(cmd.Context(), workspace.ExecRunner)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&openSettings, "open-settings", false, "Open the Accessibility pane of System Settings afterwards")
	return cmd
}

func runDoctor(ctx context.Context, opts doctorOptions) []doctorCheck {
	var checks []doctorCheck

	lookPath := opts.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	if path, err := lookPath("osascript"); err == nil {
		checks = append(checks, doctorCheck{Name: "osascript", Status: "available", Message: path})
	} else {
		checks = append(checks, doctorCheck{
			Name:     "osascript",
			Status:   "missing",
			Message:  "commands cannot be dispatched to players",
			Guidance: "osascript ships with macOS; keyhole only dispatches on macOS hosts",
		})
	}

	ax := permissions.ProbeAccessibility(opts.Prober, opts.Lookup)
	checks = append(checks, doctorCheck{Name: "accessibility", Status: ax.StatusString(), Message: ax.Message, Guidance: ax.Guidance})

	locate := opts.Locator
	if locate == nil {
		locate = newTargetLocator(ctx, opts.Targets)
	}
	for _, id := range opts.Targets {
		name := id
		if def, ok := automation.Lookup(id); ok {
			name = def.Name
		}
		if _, installed := locate(ctx, id); !installed {
			checks = append(checks, doctorCheck{Name: name, Status: "not_installed", Message: id + " was not found"})
			continue
		}
		res := permissions.ProbeAutomation(ctx, opts.Prober, id)
		checks = append(checks, doctorCheck{Name: name, Status: res.StatusString(), Message: res.Message, Guidance: res.Guidance})
	}
	return checks
}

func printDoctor(w io.Writer, checks []doctorCheck) {
	fmt.Fprintln(w, "Environment checks:")
	for _, c := range checks {
		fmt.Fprintf(w, "  - %s: %s", c.Name, c.Status)
		if c.Message != "" {
			fmt.Fprintf(w, " (%s)", c.Message)
		}
		fmt.Fprintln(w)
		if c.Guidance != "" {
			fmt.Fprintf(w, "      hint: %s\n", c.Guidance)
		}
	}
}
