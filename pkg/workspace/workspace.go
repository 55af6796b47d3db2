package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotInstalled is returned when launching a bundle that cannot be located.
var ErrNotInstalled = errors.New("application not installed")

// Kind classifies a lifecycle notification.
type Kind int

const (
	Launched Kind = iota
	Terminated
	// HostActivated means the daemon itself was brought forward; observers should
	// re-check anything that may have changed behind their back.
	HostActivated
)

func (k Kind) String() string {
	switch k {
	case Launched:
		return "launched"
	case Terminated:
		return "terminated"
	default:
		return "host_activated"
	}
}

// Notification is one lifecycle event. BundleID is empty for HostActivated.
type Notification struct {
	Kind     Kind
	BundleID string
}

// Workspace is the process lifecycle boundary used by automation sessions.
type Workspace interface {
	InstalledPath(bundleID string) (string, bool)
	IsRunning(bundleID string) bool
	// Launch starts bundleID without activating it and refreshes running state
	// before returning.
	Launch(ctx context.Context, bundleID string) error
	// Subscribe registers fn for every notification. fn runs on the monitor's
	// goroutine and must not block.
	Subscribe(fn func(Notification)) (cancel func())
}

// Runner executes an external command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// ExecRunner runs commands with os/exec.
func ExecRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return out, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return out, fmt.Errorf("%s: %w", name, err)
	}
	return out, nil
}

// Locator resolves a bundle identifier to its installed bundle path.
type Locator func(ctx context.Context, bundleID string) (string, bool)

// ProcessLister returns the executable paths of every visible process.
type ProcessLister interface {
	Executables(ctx context.Context) ([]string, error)
}

// Options configures a Monitor.
type Options struct {
	BundleIDs    []string
	PollInterval time.Duration
	// RecheckInterval emits HostActivated periodically; zero disables it.
	RecheckInterval time.Duration

	Locator Locator
	Lister  ProcessLister
	Runner  Runner
	Logger  *slog.Logger
}

// Monitor implements Workspace by polling the process table.
type Monitor struct {
	bundleIDs []string
	poll      time.Duration
	recheck   time.Duration
	locate    Locator
	lister    ProcessLister
	run       Runner
	logger    *slog.Logger

	// pollMu serialises scan-and-commit so an older scan never overwrites a newer one.
	pollMu sync.Mutex

	mu        sync.RWMutex
	installed map[string]string
	running   map[string]bool
	baseline  bool

	subMu sync.Mutex
	subs  map[uuid.UUID]func(Notification)
}

// NewMonitor builds a monitor. Install locations are resolved once, immediately.
func NewMonitor(ctx context.Context, opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m := &Monitor{
		bundleIDs: append([]string(nil), opts.BundleIDs...),
		poll:      opts.PollInterval,
		recheck:   opts.RecheckInterval,
		locate:    opts.Locator,
		lister:    opts.Lister,
		run:       opts.Runner,
		logger:    logger.With("component", "workspace"),
		installed: make(map[string]string),
		running:   make(map[string]bool),
		subs:      make(map[uuid.UUID]func(Notification)),
	}
	if m.poll <= 0 {
		m.poll = time.Second
	}
	if m.locate == nil {
		m.locate = defaultLocator(ExecRunner)
	}
	if m.lister == nil {
		m.lister = GopsutilLister{}
	}
	if m.run == nil {
		m.run = ExecRunner
	}

	for _, id := range m.bundleIDs {
		if path, ok := m.locate(ctx, id); ok {
			m.installed[id] = path
			m.logger.Debug("bundle located", "bundle_id", id, "path", path)
		}
	}
	return m
}

// InstalledPath reports where bundleID is installed.
func (m *Monitor) InstalledPath(bundleID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	path, ok := m.installed[bundleID]
	return path, ok
}

// IsRunning reports the running state observed by the most recent poll.
func (m *Monitor) IsRunning(bundleID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running[bundleID]
}

// Launch opens bundleID in the background without stealing focus.
func (m *Monitor) Launch(ctx context.Context, bundleID string) error {
	if _, ok := m.InstalledPath(bundleID); !ok {
		return fmt.Errorf("launch %s: %w", bundleID, ErrNotInstalled)
	}
	if _, err := m.run(ctx, "open", "-g", "-j", "-b", bundleID); err != nil {
		return fmt.Errorf("launch %s: %w", bundleID, err)
	}
	if err := m.Poll(ctx); err != nil {
		return fmt.Errorf("refresh after launch: %w", err)
	}
	return nil
}

// Subscribe registers fn and returns a function removing it.
func (m *Monitor) Subscribe(fn func(Notification)) func() {
	id := uuid.New()
	m.subMu.Lock()
	m.subs[id] = fn
	m.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subs, id)
			m.subMu.Unlock()
		})
	}
}

// NotifyHostActivated broadcasts a HostActivated notification.
func (m *Monitor) NotifyHostActivated() {
	m.emit(Notification{Kind: HostActivated})
}

// Poll refreshes running state and emits Launched / Terminated for every change.
// The first poll only records a baseline. Concurrent polls run one at a time and
// notifications are emitted before the next poll starts, so subscribers must not
// call Poll or Launch themselves.
func (m *Monitor) Poll(ctx context.Context) error {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	exes, err := m.lister.Executables(ctx)
	if err != nil {
		return fmt.Errorf("list processes: %w", err)
	}

	m.mu.Lock()
	next := make(map[string]bool, len(m.installed))
	for id, path := range m.installed {
		next[id] = anyInsideBundle(exes, path)
	}
	var changes []Notification
	if m.baseline {
		for _, id := range m.bundleIDs {
			switch {
			case next[id] && !m.running[id]:
				changes = append(changes, Notification{Kind: Launched, BundleID: id})
			case !next[id] && m.running[id]:
				changes = append(changes, Notification{Kind: Terminated, BundleID: id})
			}
		}
	}
	m.running = next
	m.baseline = true
	m.mu.Unlock()

	for _, n := range changes {
		m.logger.Debug("lifecycle change", "bundle_id", n.BundleID, "kind", n.Kind.String())
		m.emit(n)
	}
	return nil
}

// Run polls until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) error {
	if err := m.Poll(ctx); err != nil {
		m.logger.Warn("initial process poll failed", "error", err)
	}

	ticker := time.NewTicker(m.poll)
	defer ticker.Stop()

	var recheck <-chan time.Time
	if m.recheck > 0 {
		t := time.NewTicker(m.recheck)
		defer t.Stop()
		recheck = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := m.Poll(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn("process poll failed", "error", err)
			}
		case <-recheck:
			m.NotifyHostActivated()
		}
	}
}

func (m *Monitor) emit(n Notification) {
	m.subMu.Lock()
	fns := make([]func(Notification), 0, len(m.subs))
	for _, fn := range m.subs {
		fns = append(fns, fn)
	}
	m.subMu.Unlock()

	for _, fn := range fns {
		fn(n)
	}
}

func anyInsideBundle(exes []string, bundlePath string) bool {
	if bundlePath == "" {
		return false
	}
	prefix := filepath.Clean(bundlePath) + string(filepath.Separator)
	for _, exe := range exes {
		if strings.HasPrefix(exe, prefix) {
			return true
		}
	}
	return false
}

// AccessibilitySettingsURL opens the accessibility pane of System Settings.
const AccessibilitySettingsURL = "x-apple.systempreferences:com.apple.preference.security?Privacy_Accessibility"

// OpenAccessibilitySettings brings up the pane where the user grants trust.
func OpenAccessibilitySettings(ctx context.Context, run Runner) error {
	if run == nil {
		run = ExecRunner
	}
	if _, err := run(ctx, "open", AccessibilitySettingsURL); err != nil {
		return fmt.Errorf("open accessibility settings: %w", err)
	}
	return nil
}
