package automation

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/offlinefirst/keyhole/pkg/permissions"
	"github.com/offlinefirst/keyhole/pkg/runloop"
	"github.com/offlinefirst/keyhole/pkg/workspace"
)

// State is the automation state of one target application.
type State int

const (
	StateNotRunning State = iota
	StateRunningDenied
	StateRunningPending
	StateRunningGranted
)

func (s State) String() string {
	switch s {
	case StateRunningDenied:
		return "running_denied"
	case StateRunningPending:
		return "running_pending"
	case StateRunningGranted:
		return "running_granted"
	default:
		return "not_running"
	}
}

// Err maps a state onto the failure a caller would see when trying to use it.
func (s State) Err() error {
	switch s {
	case StateRunningGranted:
		return nil
	case StateRunningDenied:
		return ErrAutomationDenied
	case StateRunningPending:
		return ErrAutomationPending
	default:
		return ErrAppNotRunning
	}
}

const launchTimeout = 15 * time.Second

// Handle is the live scripting handle available while a session is granted. It
// stops working as soon as the session leaves the granted state.
type Handle struct {
	session    *Session
	generation uint64
}

func (h *Handle) valid() error {
	if h == nil || h.session.generation.Load() != h.generation {
		return ErrHandleInvalidated
	}
	return nil
}

// Valid reports whether the handle may still be used.
func (h *Handle) Valid() bool { return h.valid() == nil }

// PlayPause toggles playback.
func (h *Handle) PlayPause(ctx context.Context) error {
	if err := h.valid(); err != nil {
		return err
	}
	return h.session.app.PlayPause(ctx)
}

// SkipBack goes to the previous track.
func (h *Handle) SkipBack(ctx context.Context) error {
	if err := h.valid(); err != nil {
		return err
	}
	return h.session.app.SkipBack(ctx)
}

// SkipForward goes to the next track.
func (h *Handle) SkipForward(ctx context.Context) error {
	if err := h.valid(); err != nil {
		return err
	}
	return h.session.app.SkipForward(ctx)
}

// ObserverToken keeps a state observer registered. Release it to unregister; a
// token that becomes unreachable is unregistered on the next loop turn.
type ObserverToken struct {
	release func()
	once    sync.Once
}

// Release unregisters the observer. It is safe to call more than once.
func (t *ObserverToken) Release() {
	if t == nil || t.release == nil {
		return
	}
	t.once.Do(t.release)
}

type observer struct {
	id uuid.UUID
	fn func(State)
}

// SessionOptions configures a Session.
type SessionOptions struct {
	App       Application
	Workspace workspace.Workspace
	Prober    permissions.Prober
	Loop      *runloop.Loop
	Logger    *slog.Logger
}

// Session tracks automation access to a single application.
type Session struct {
	app    Application
	ws     workspace.Workspace
	prober permissions.Prober
	loop   *runloop.Loop
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	generation atomic.Uint64
	attempts   singleflight.Group

	// loop-owned
	state       State
	handle      *Handle
	observers   []observer
	closed      bool
	unsubscribe func()

	snapshotMu sync.RWMutex
	snapshot   State
}

// NewSession creates a session and evaluates its initial state. It must be called
// on the loop thread.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.App == nil || opts.Workspace == nil || opts.Prober == nil || opts.Loop == nil {
		return nil, errors.New("automation: session requires app, workspace, prober and loop")
	}
	if !opts.Loop.OnLoop() {
		panic("automation: NewSession called off the run loop thread")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		app:    opts.App,
		ws:     opts.Workspace,
		prober: opts.Prober,
		loop:   opts.Loop,
		logger: logger.With("component", "session", "bundle_id", opts.App.BundleID()),
		ctx:    ctx,
		cancel: cancel,
	}

	bundleID := opts.App.BundleID()
	s.unsubscribe = opts.Workspace.Subscribe(func(n workspace.Notification) {
		if n.Kind != workspace.HostActivated && n.BundleID != bundleID {
			return
		}
		s.loop.Post(func() {
			if s.closed {
				return
			}
			s.logger.Debug("re-evaluating after notification", "kind", n.Kind.String())
			s.reevaluate()
		})
	})

	s.reevaluate()
	return s, nil
}

// BundleID identifies the target application.
func (s *Session) BundleID() string { return s.app.BundleID() }

// Name is the display name of the target application.
func (s *Session) Name() string { return s.app.Name() }

// State returns the current state. Off the loop thread it returns the state as of
// the last completed transition.
func (s *Session) State() State {
	s.snapshotMu.RLock()
	defer s.snapshotMu.RUnlock()
	return s.snapshot
}

// Handle returns the live handle when the session is granted.
func (s *Session) Handle() (*Handle, bool) {
	s.snapshotMu.RLock()
	defer s.snapshotMu.RUnlock()
	if s.snapshot != StateRunningGranted || s.handle == nil {
		return nil, false
	}
	return s.handle, true
}

// Observe registers fn for state changes. fn runs on the loop thread, once per
// change of state, in transition order.
func (s *Session) Observe(fn func(State)) *ObserverToken {
	id := uuid.New()
	remove := func() {
		for i, o := range s.observers {
			if o.id == id {
				s.observers = append(s.observers[:i], s.observers[i+1:]...)
				return
			}
		}
	}
	if s.loop.OnLoop() {
		s.observers = append(s.observers, observer{id: id, fn: fn})
	} else {
		s.loop.Post(func() { s.observers = append(s.observers, observer{id: id, fn: fn}) })
	}

	token := &ObserverToken{release: func() { s.loop.Post(remove) }}
	runtime.AddCleanup(token, func(loop *runloop.Loop) { loop.Post(remove) }, s.loop)
	return token
}

// Reevaluate recomputes the state from the workspace and the permission probe. It
// must be called on the loop thread.
func (s *Session) Reevaluate() {
	if s.closed {
		return
	}
	s.reevaluate()
}

func (s *Session) reevaluate() {
	if !s.ws.IsRunning(s.app.BundleID()) {
		s.transition(StateNotRunning)
		return
	}
	s.transition(stateFromAccess(s.prober.Automation(s.ctx, s.app.BundleID(), false)))
}

func stateFromAccess(a permissions.Access) State {
	switch a {
	case permissions.AccessDenied:
		return StateRunningDenied
	case permissions.AccessPendingAuthorization:
		return StateRunningPending
	case permissions.AccessAvailable:
		return StateRunningGranted
	default:
		return StateNotRunning
	}
}

func (s *Session) transition(next State) {
	prev := s.state
	if next == prev {
		return
	}

	s.snapshotMu.Lock()
	if prev == StateRunningGranted {
		s.generation.Add(1)
		s.handle = nil
	}
	if next == StateRunningGranted {
		s.handle = &Handle{session: s, generation: s.generation.Load()}
	}
	s.state = next
	s.snapshot = next
	s.snapshotMu.Unlock()

	s.logger.Info("automation state changed", "from", prev.String(), "to", next.String())
	for _, o := range append([]observer(nil), s.observers...) {
		o.fn(next)
	}
}

// AttemptToGainAccess tries to reach the granted state, launching the target in the
// background and, when promptUser is set, letting the OS ask the user. done runs on
// the loop thread with nil on success or one of ErrAppNotRunning,
// ErrAutomationPending, ErrAutomationDenied. It must be called on the loop thread.
//
// Concurrent attempts with the same promptUser value share one launch and probe.
// Attempts still in flight when the session closes never complete.
func (s *Session) AttemptToGainAccess(promptUser bool, done func(error)) {
	if done == nil {
		done = func(error) {}
	}
	if s.closed {
		done(ErrAppNotRunning)
		return
	}

	switch {
	case s.state == StateRunningGranted:
		done(nil)
		return
	case s.state == StateRunningDenied:
		done(ErrAutomationDenied)
		return
	case s.state == StateRunningPending && !promptUser:
		done(ErrAutomationPending)
		return
	}

	bundleID := s.app.BundleID()
	go func() {
		_, _, _ = s.attempts.Do(strconv.FormatBool(promptUser), func() (any, error) {
			if !s.ws.IsRunning(bundleID) {
				ctx, cancel := context.WithTimeout(s.ctx, launchTimeout)
				err := s.ws.Launch(ctx, bundleID)
				cancel()
				if err != nil {
					s.logger.Warn("background launch failed", "error", err)
					return permissions.AccessCheckFailed, nil
				}
			}
			return s.prober.Automation(s.ctx, bundleID, promptUser), nil
		})

		s.loop.Post(func() {
			if s.closed {
				return
			}
			s.reevaluate()
			done(s.state.Err())
		})
	}()
}

// Close detaches the session from workspace notifications and drops observers.
// The handle, if any, is invalidated. It must be called on the loop thread.
func (s *Session) Close() {
	if s.closed {
		return
	}
	s.closed = true
	s.cancel()
	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.observers = nil

	s.snapshotMu.Lock()
	s.generation.Add(1)
	s.handle = nil
	s.state = StateNotRunning
	s.snapshot = StateNotRunning
	s.snapshotMu.Unlock()
}
