package automation

import (
	"context"
	"fmt"
	"time"
)

// Application sends transport commands to one player.
type Application interface {
	BundleID() string
	Name() string
	PlayPause(ctx context.Context) error
	SkipBack(ctx context.Context) error
	SkipForward(ctx context.Context) error
}

// Runner executes an external command and returns its stdout. It matches
// workspace.Runner.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// DefaultCommandTimeout bounds one scripted command when no timeout is configured.
const DefaultCommandTimeout = 2 * time.Second

type scriptedApplication struct {
	def     Definition
	run     Runner
	timeout time.Duration
}

// NewApplication returns an Application that drives bundleID through osascript.
func NewApplication(bundleID string, run Runner, timeout time.Duration) (Application, error) {
	def, ok := Lookup(bundleID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTarget, bundleID)
	}
	if run == nil {
		return nil, fmt.Errorf("automation: runner is required for %s", bundleID)
	}
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	return &scriptedApplication{def: def, run: run, timeout: timeout}, nil
}

func (a *scriptedApplication) BundleID() string { return a.def.BundleID }
func (a *scriptedApplication) Name() string     { return a.def.Name }

func (a *scriptedApplication) PlayPause(ctx context.Context) error {
	return a.send(ctx, a.def.Verbs.PlayPause)
}

func (a *scriptedApplication) SkipBack(ctx context.Context) error {
	return a.send(ctx, a.def.Verbs.SkipBack)
}

func (a *scriptedApplication) SkipForward(ctx context.Context) error {
	return a.send(ctx, a.def.Verbs.SkipForward)
}

func (a *scriptedApplication) send(ctx context.Context, verb string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	script := Script(a.def.BundleID, verb)
	if _, err := a.run(ctx, "osascript", "-e", script); err != nil {
		return fmt.Errorf("%s %q: %w", a.def.Name, verb, err)
	}
	return nil
}

// Script renders the one-line AppleScript addressing bundleID by identifier.
func Script(bundleID, verb string) string {
	return fmt.Sprintf("tell application id %q to %s", bundleID, verb)
}
