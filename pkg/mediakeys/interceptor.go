package mediakeys

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/offlinefirst/keyhole/pkg/runloop"
)

// State describes the interceptor lifecycle.
type State int

const (
	StateStopped State = iota
	StateRunning
	// StateMissingPermission is reported after the OS refused to install the tap.
	// No hook is installed in this state.
	StateMissingPermission
)

func (s State) String() string {
	switch s {
	case StateRunning:
		return "running"
	case StateMissingPermission:
		return "missing_accessibility_permission"
	default:
		return "stopped"
	}
}

// Handler receives decoded key transitions on the loop thread. It must return
// quickly: the OS disables taps whose callbacks stall.
type Handler func(KeyEvent) Result

// Tap is the platform hook. Install and Uninstall are only called on the loop thread.
type Tap interface {
	// Install attaches the hook to the run loop identified by loop and starts
	// delivering raw events. It returns ErrAccessibilityPermission when refused.
	Install(loop uintptr, deliver func(RawEvent) Result) error
	// Enable re-arms a hook the OS disabled.
	Enable()
	// Uninstall invalidates and releases the hook.
	Uninstall()
}

// Options configures an Interceptor.
type Options struct {
	Loop    *runloop.Loop
	Handler Handler
	Tap     Tap
	Logger  *slog.Logger
}

// Interceptor owns the media key tap. All hook state lives on the loop thread.
type Interceptor struct {
	loop   *runloop.Loop
	tap    Tap
	logger *slog.Logger

	// handler and state are read from other goroutines for diagnostics.
	mu      sync.RWMutex
	handler Handler
	state   State

	installed bool
}

// New constructs a stopped interceptor.
func New(opts Options) (*Interceptor, error) {
	if opts.Loop == nil {
		return nil, errors.New("mediakeys: run loop is required")
	}
	tap := opts.Tap
	if tap == nil {
		tap = newDefaultTap()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Interceptor{
		loop:    opts.Loop,
		tap:     tap,
		handler: opts.Handler,
		logger:  logger.With("component", "interceptor"),
	}, nil
}

// SetHandler replaces the registered handler.
func (i *Interceptor) SetHandler(h Handler) {
	i.mu.Lock()
	i.handler = h
	i.mu.Unlock()
}

// State reports the current lifecycle state.
func (i *Interceptor) State() State {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.state
}

func (i *Interceptor) setState(s State) {
	i.mu.Lock()
	i.state = s
	i.mu.Unlock()
}

// Start installs the tap. It is a no-op when already running.
//
// Start must be called on the loop thread; calling it from anywhere else is a
// programming error and panics.
func (i *Interceptor) Start() error {
	if !i.loop.OnLoop() {
		panic("mediakeys: Interceptor.Start called off the run loop thread")
	}
	if i.installed {
		return nil
	}

	if err := i.tap.Install(i.loop.Handle(), i.Deliver); err != nil {
		i.setState(StateMissingPermission)
		if errors.Is(err, ErrAccessibilityPermission) {
			i.logger.Warn("event tap refused", "error", err)
			return err
		}
		i.logger.Error("event tap install failed", "error", err)
		return errors.Join(ErrAccessibilityPermission, err)
	}

	i.installed = true
	i.setState(StateRunning)
	i.logger.Info("media key interception started")
	return nil
}

// Stop removes the tap. It is idempotent and may be called from any goroutine;
// off-thread calls are marshaled onto the loop.
func (i *Interceptor) Stop() {
	if i.loop.OnLoop() {
		i.stop()
		return
	}
	if err := i.loop.Call(context.Background(), i.stop); err != nil {
		// Loop is gone, so the hook died with it. installed stays loop-owned and
		// is never read again.
		i.setState(StateStopped)
	}
}

func (i *Interceptor) stop() {
	if i.installed {
		i.tap.Uninstall()
		i.installed = false
		i.logger.Info("media key interception stopped")
	}
	i.setState(StateStopped)
}

// Deliver processes one raw event from the tap and reports whether it should keep
// propagating. It runs on the loop thread.
func (i *Interceptor) Deliver(raw RawEvent) Result {
	if !i.installed {
		return Propagate
	}

	switch raw.Type {
	case EventTapDisabledByTimeout:
		i.logger.Warn("event tap disabled by timeout, re-enabling")
		i.tap.Enable()
		return Propagate
	case EventTapDisabledByUserInput:
		return Propagate
	}

	i.mu.RLock()
	handler := i.handler
	i.mu.RUnlock()
	if handler == nil {
		return Propagate
	}

	event, ok := Decode(raw)
	if !ok {
		return Propagate
	}
	return handler(event)
}
