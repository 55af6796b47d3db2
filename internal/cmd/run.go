package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/offlinefirst/keyhole/internal/buildinfo"
	"github.com/offlinefirst/keyhole/pkg/automation"
	"github.com/offlinefirst/keyhole/pkg/control"
	"github.com/offlinefirst/keyhole/pkg/mediakeys"
	"github.com/offlinefirst/keyhole/pkg/permissions"
	"github.com/offlinefirst/keyhole/pkg/preferences"
	"github.com/offlinefirst/keyhole/pkg/routing"
	"github.com/offlinefirst/keyhole/pkg/runloop"
	"github.com/offlinefirst/keyhole/pkg/workspace"
)

func newRunCommand(rc *RootCommand) *cobra.Command {
	var planOnly bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start intercepting media keys and serve the control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := rc.ensureAppContext()
			if err != nil {
				return err
			}
			if planOnly {
				printRunPlan(app, cmd.OutOrStdout())
				return nil
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, app, defaultDaemonDeps())
		},
	}
	cmd.Flags().BoolVar(&planOnly, "plan-only", false, "Print the resolved configuration without starting")
	return cmd
}

// daemonDeps are the platform seams of the daemon. Nil fields fall back to the
// package defaults of each component.
type daemonDeps struct {
	Tap      mediakeys.Tap
	Prober   permissions.Prober
	Locator  workspace.Locator
	Lister   workspace.ProcessLister
	Runner   workspace.Runner
	Listener net.Listener
	// Started is called once the controller is running and the API is listening.
	Started func(ctrl *routing.Controller, addr string)
}

func defaultDaemonDeps() daemonDeps {
	return daemonDeps{
		Prober: permissions.New(nil),
		Runner: workspace.ExecRunner,
	}
}

// runDaemon owns the process lifetime: the run loop occupies the calling
// goroutine while the controller, monitor and API run beside it.
func runDaemon(ctx context.Context, app *AppContext, deps daemonDeps) error {
	if app == nil {
		return errors.New("application context unavailable")
	}
	cfg := app.Config
	logger := app.Logger

	if deps.Prober == nil {
		deps.Prober = permissions.New(nil)
	}
	if deps.Runner == nil {
		deps.Runner = workspace.ExecRunner
	}

	prefs, err := preferences.Open(cfg.Paths.PreferencesFile)
	if err != nil {
		return fmt.Errorf("open preferences: %w", err)
	}

	monitor := workspace.NewMonitor(ctx, workspace.Options{
		BundleIDs:       cfg.Targets,
		PollInterval:    cfg.Workspace.PollInterval,
		RecheckInterval: cfg.Workspace.RecheckInterval,
		Locator:         deps.Locator,
		Lister:          deps.Lister,
		Runner:          deps.Runner,
		Logger:          logger,
	})
	// Sessions read running state at construction, so record it before they exist.
	if err := monitor.Poll(ctx); err != nil {
		logger.Warn("initial process poll failed", "error", err)
	}

	loop := runloop.New(logger)
	interceptor, err := mediakeys.New(mediakeys.Options{Loop: loop, Tap: deps.Tap, Logger: logger})
	if err != nil {
		return err
	}

	ln := deps.Listener
	if ln == nil {
		if ln, err = net.Listen("tcp", cfg.Control.Listen); err != nil {
			return fmt.Errorf("control listen %s: %w", cfg.Control.Listen, err)
		}
	}

	logger.Info("daemon starting",
		"version", buildinfo.Version(),
		"targets", cfg.Targets,
		"preferences_file", prefs.Path(),
		"listen", ln.Addr().String(),
	)

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		// Runs before the loop is torn down so Close can still reach it.
		defer stopLoop()

		select {
		case <-loop.Ready():
		case <-gctx.Done():
			ln.Close()
			return nil
		}

		ctrl, err := routing.New(gctx, routing.Options{
			Targets: cfg.Targets,
			Apps: func(bundleID string) (automation.Application, error) {
				return automation.NewApplication(bundleID, automation.Runner(deps.Runner), cfg.Automation.CommandTimeout)
			},
			Workspace:   monitor,
			Prober:      deps.Prober,
			Loop:        loop,
			Interceptor: interceptor,
			Preferences: prefs,
			Logger:      logger,
		})
		if err != nil {
			ln.Close()
			return fmt.Errorf("build routing controller: %w", err)
		}
		defer func() {
			if err := ctrl.Close(context.Background()); err != nil {
				logger.Warn("controller close failed", "error", err)
			}
		}()

		unsubscribe := monitor.Subscribe(ctrl.HandleNotification)
		defer unsubscribe()

		if err := ctrl.Start(gctx); err != nil {
			ln.Close()
			return fmt.Errorf("start routing controller: %w", err)
		}
		for _, t := range ctrl.Targets() {
			logger.Info("player resolved", "bundle_id", t.BundleID, "name", t.Name, "installed", t.Installed)
		}
		if ctrl.HasPermissionProblem() {
			logger.Warn("permission problem detected; run 'keyhole doctor' for details")
		}

		server, err := control.NewServer(control.Options{Backend: ctrl, Logger: logger})
		if err != nil {
			ln.Close()
			return err
		}

		inner, ictx := errgroup.WithContext(gctx)
		inner.Go(func() error { return monitor.Run(ictx) })
		inner.Go(func() error { return server.ServeListener(ictx, ln) })
		inner.Go(func() error {
			return watchRefreshSignal(ictx, func() {
				logger.Debug("refresh signal received")
				monitor.NotifyHostActivated()
			})
		})
		if deps.Started != nil {
			deps.Started(ctrl, ln.Addr().String())
		}
		return inner.Wait()
	})

	runErr := loop.Run(loopCtx)
	waitErr := g.Wait()
	logger.Info("daemon stopped")
	if waitErr != nil {
		return waitErr
	}
	return runErr
}

func printRunPlan(app *AppContext, stdout io.Writer) {
	cfg := app.Config
	fmt.Fprintf(stdout, "Resolved configuration (source: %s)\n", cfg.Source)
	fmt.Fprintf(stdout, "  paths.preferences_file: %s\n", cfg.Paths.PreferencesFile)
	fmt.Fprintf(stdout, "  control.listen: %s\n", cfg.Control.Listen)
	fmt.Fprintf(stdout, "  workspace.poll_interval: %s\n", cfg.Workspace.PollInterval)
	fmt.Fprintf(stdout, "  workspace.recheck_interval: %s\n", cfg.Workspace.RecheckInterval)
	fmt.Fprintf(stdout, "  automation.command_timeout: %s\n", cfg.Automation.CommandTimeout)
	fmt.Fprintf(stdout, "  logging.level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(stdout, "  logging.format: %s\n", cfg.Logging.Format)
	fmt.Fprintln(stdout, "  targets:")
	for _, id := range cfg.Targets {
		name := "unknown"
		if def, ok := automation.Lookup(id); ok {
			name = def.Name
		}
		fmt.Fprintf(stdout, "    - %s (%s)\n", id, name)
	}
}
