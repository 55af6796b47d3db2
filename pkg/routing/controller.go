package routing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/google/uuid"

	"github.com/offlinefirst/keyhole/pkg/automation"
	"github.com/offlinefirst/keyhole/pkg/mediakeys"
	"github.com/offlinefirst/keyhole/pkg/permissions"
	"github.com/offlinefirst/keyhole/pkg/preferences"
	"github.com/offlinefirst/keyhole/pkg/runloop"
	"github.com/offlinefirst/keyhole/pkg/workspace"
)

var (
	// ErrClosed is returned by operations on a closed controller.
	ErrClosed = errors.New("routing controller closed")
	// ErrInvalidSettings wraps every rejected settings update.
	ErrInvalidSettings = errors.New("invalid settings")
)

// Interceptor is the part of *mediakeys.Interceptor the controller drives.
type Interceptor interface {
	Start() error
	Stop()
	State() mediakeys.State
	SetHandler(mediakeys.Handler)
}

// AppFactory builds the command bridge for a bundle identifier.
type AppFactory func(bundleID string) (automation.Application, error)

// Options configures a Controller.
type Options struct {
	// Targets lists bundle identifiers in selection order.
	Targets     []string
	Apps        AppFactory
	Workspace   workspace.Workspace
	Prober      permissions.Prober
	Loop        *runloop.Loop
	Interceptor Interceptor
	Preferences *preferences.Store
	Logger      *slog.Logger
}

type command int

const (
	cmdNone command = iota
	cmdPlayPause
	cmdSkipBack
	cmdSkipForward
)

func (c command) String() string {
	switch c {
	case cmdPlayPause:
		return "playpause"
	case cmdSkipBack:
		return "skip_back"
	case cmdSkipForward:
		return "skip_forward"
	default:
		return "none"
	}
}

func commandFor(k mediakeys.Key) command {
	switch k {
	case mediakeys.KeyPlayPause:
		return cmdPlayPause
	case mediakeys.KeyPreviousTrack:
		return cmdSkipBack
	case mediakeys.KeyNextTrack:
		return cmdSkipForward
	default:
		return cmdNone
	}
}

type statusObserver struct {
	id uuid.UUID
	fn func(Status)
}

// ObserverToken keeps a status observer registered until released or dropped.
type ObserverToken struct {
	release func()
	once    sync.Once
}

// Release unregisters the observer.
func (t *ObserverToken) Release() {
	if t == nil || t.release == nil {
		return
	}
	t.once.Do(t.release)
}

// Controller routes media keys to automation sessions. Its state is owned by the
// run loop; exported methods marshal onto it.
type Controller struct {
	loop        *runloop.Loop
	ws          workspace.Workspace
	prober      permissions.Prober
	interceptor Interceptor
	prefs       *preferences.Store
	logger      *slog.Logger

	// spawn runs command dispatches off the loop thread.
	spawn func(func())

	// loop-owned
	targets       []automation.Target
	sessions      map[string]*automation.Session
	sessionTokens []*automation.ObserverToken
	accessibility bool
	observers     []statusObserver
	closed        bool

	mu     sync.RWMutex
	status Status
}

// New builds the controller and its sessions. The interceptor handler is replaced
// with the controller's key handler. Interception does not begin until Start.
func New(ctx context.Context, opts Options) (*Controller, error) {
	if opts.Loop == nil || opts.Workspace == nil || opts.Prober == nil || opts.Interceptor == nil || opts.Preferences == nil {
		return nil, errors.New("routing: loop, workspace, prober, interceptor and preferences are required")
	}
	if opts.Apps == nil {
		return nil, errors.New("routing: application factory is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Controller{
		loop:        opts.Loop,
		ws:          opts.Workspace,
		prober:      opts.Prober,
		interceptor: opts.Interceptor,
		prefs:       opts.Preferences,
		logger:      logger.With("component", "controller"),
		spawn:       func(fn func()) { go fn() },
		sessions:    make(map[string]*automation.Session),
	}

	apps := make([]automation.Application, 0, len(opts.Targets))
	for _, id := range opts.Targets {
		def, ok := automation.Lookup(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", automation.ErrUnknownTarget, id)
		}
		_, installed := opts.Workspace.InstalledPath(id)
		c.targets = append(c.targets, automation.Target{BundleID: id, Name: def.Name, Installed: installed})
		if !installed {
			continue
		}
		app, err := opts.Apps(id)
		if err != nil {
			return nil, fmt.Errorf("build application %s: %w", id, err)
		}
		apps = append(apps, app)
	}

	var buildErr error
	err := c.loop.Call(ctx, func() {
		for _, app := range apps {
			session, err := automation.NewSession(automation.SessionOptions{
				App:       app,
				Workspace: c.ws,
				Prober:    c.prober,
				Loop:      c.loop,
				Logger:    logger,
			})
			if err != nil {
				buildErr = err
				return
			}
			c.sessions[app.BundleID()] = session
			c.sessionTokens = append(c.sessionTokens, session.Observe(func(automation.State) { c.publish() }))
		}
		c.interceptor.SetHandler(c.HandleKey)
		c.accessibility = c.prober.Accessibility()
		c.publish()
	})
	if err != nil {
		return nil, err
	}
	if buildErr != nil {
		return nil, buildErr
	}
	return c, nil
}

// Start begins interception when enabled.
func (c *Controller) Start(ctx context.Context) error {
	return c.onLoop(ctx, func() {
		c.startIfEnabled()
		c.publish()
	})
}

// Close stops interception and tears down every session. In-flight access attempts
// complete as no-ops.
func (c *Controller) Close(ctx context.Context) error {
	return c.loop.Call(ctx, func() {
		if c.closed {
			return
		}
		c.closed = true
		c.interceptor.Stop()
		c.interceptor.SetHandler(nil)
		for _, t := range c.sessionTokens {
			t.Release()
		}
		c.sessionTokens = nil
		for _, s := range c.sessions {
			s.Close()
		}
		c.observers = nil
	})
}

func (c *Controller) onLoop(ctx context.Context, fn func()) error {
	var closed bool
	err := c.loop.Call(ctx, func() {
		if c.closed {
			closed = true
			return
		}
		fn()
	})
	if err != nil {
		return err
	}
	if closed {
		return ErrClosed
	}
	return nil
}

// Targets returns every configured target in selection order.
func (c *Controller) Targets() []automation.Target {
	return append([]automation.Target(nil), c.targets...)
}

// Status returns the latest snapshot. It is safe from any goroutine.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := c.status
	st.Targets = append([]TargetStatus(nil), c.status.Targets...)
	return st
}

// HasPermissionProblem reports missing accessibility trust or any denied player.
func (c *Controller) HasPermissionProblem() bool {
	return c.Status().PermissionProblem
}

// PreferredTarget resolves the preferred target: the stored choice when it is
// installed, otherwise the first installed target. It is empty when nothing is
// installed.
func (c *Controller) PreferredTarget() string {
	return c.resolvePreferred(c.prefs.Get().PreferredTarget)
}

func (c *Controller) resolvePreferred(stored string) string {
	var first string
	for _, t := range c.targets {
		if !t.Installed {
			continue
		}
		if t.BundleID == stored {
			return stored
		}
		if first == "" {
			first = t.BundleID
		}
	}
	return first
}

// Observe registers fn for status changes. fn runs on the loop thread and must not
// block. It is called once immediately with the current status.
func (c *Controller) Observe(fn func(Status)) *ObserverToken {
	id := uuid.New()
	add := func() {
		c.observers = append(c.observers, statusObserver{id: id, fn: fn})
		fn(c.Status())
	}
	remove := func() {
		for i, o := range c.observers {
			if o.id == id {
				c.observers = append(c.observers[:i], c.observers[i+1:]...)
				return
			}
		}
	}
	if c.loop.OnLoop() {
		add()
	} else {
		c.loop.Post(add)
	}

	token := &ObserverToken{release: func() { c.loop.Post(remove) }}
	runtime.AddCleanup(token, func(loop *runloop.Loop) { loop.Post(remove) }, c.loop)
	return token
}

// publish recomputes the snapshot and notifies observers when it changed.
func (c *Controller) publish() {
	prefs := c.prefs.Get()
	next := Status{
		Enabled:                 prefs.Enabled,
		Interceptor:             c.interceptor.State().String(),
		Accessibility:           c.accessibility,
		Policy:                  prefs.Policy,
		PreferredTarget:         c.resolvePreferred(prefs.PreferredTarget),
		PreferredTargetExplicit: prefs.PreferredTargetExplicit,
		OnboardingCompleted:     prefs.OnboardingCompleted,
	}
	denied := false
	for _, t := range c.targets {
		state := automation.StateNotRunning
		if s, ok := c.sessions[t.BundleID]; ok {
			state = s.State()
		}
		if t.Installed && state == automation.StateRunningDenied {
			denied = true
		}
		next.Targets = append(next.Targets, TargetStatus{
			BundleID:  t.BundleID,
			Name:      t.Name,
			Installed: t.Installed,
			State:     state.String(),
		})
	}
	next.PermissionProblem = !c.accessibility || denied

	c.mu.Lock()
	changed := !next.equal(c.status)
	c.status = next
	c.mu.Unlock()

	if !changed {
		return
	}
	c.logger.Debug("status changed", "permission_problem", next.PermissionProblem, "interceptor", next.Interceptor)
	for _, o := range append([]statusObserver(nil), c.observers...) {
		o.fn(next)
	}
}

func (c *Controller) startIfEnabled() {
	if !c.prefs.Get().Enabled {
		return
	}
	if err := c.interceptor.Start(); err != nil {
		if errors.Is(err, mediakeys.ErrAccessibilityPermission) {
			c.accessibility = false
		}
		c.logger.Warn("unable to start key interception", "error", err)
	}
}

// Refresh re-checks accessibility trust and every session, then restarts
// interception if it is enabled. It runs when the host is activated.
func (c *Controller) Refresh(ctx context.Context) error {
	return c.onLoop(ctx, c.refresh)
}

func (c *Controller) refresh() {
	c.accessibility = c.prober.Accessibility()
	for _, t := range c.targets {
		if s, ok := c.sessions[t.BundleID]; ok {
			s.Reevaluate()
		}
	}
	c.startIfEnabled()
	c.publish()
}

// HandleNotification refreshes on HostActivated. It may be called from any goroutine.
func (c *Controller) HandleNotification(n workspace.Notification) {
	if n.Kind != workspace.HostActivated {
		return
	}
	c.loop.Post(func() {
		if !c.closed {
			c.refresh()
		}
	})
}

// Update applies settings, persisting them before returning. Disabling stops
// interception entirely; enabling restarts it.
func (c *Controller) Update(ctx context.Context, s Settings) (Status, error) {
	var updateErr error
	err := c.onLoop(ctx, func() {
		if s.PreferredTarget != nil && *s.PreferredTarget != "" {
			if !c.isInstalled(*s.PreferredTarget) {
				updateErr = fmt.Errorf("%w: %w: %s is not installed", ErrInvalidSettings, automation.ErrUnknownTarget, *s.PreferredTarget)
				return
			}
		}
		if s.Policy != nil {
			if _, err := preferences.ParsePolicy(string(*s.Policy)); err != nil {
				updateErr = fmt.Errorf("%w: %w", ErrInvalidSettings, err)
				return
			}
		}

		before := c.prefs.Get()
		after, err := c.prefs.Update(func(p *preferences.Preferences) {
			if s.Enabled != nil {
				p.Enabled = *s.Enabled
			}
			if s.Policy != nil {
				p.Policy, _ = preferences.ParsePolicy(string(*s.Policy))
			}
			if s.PreferredTarget != nil {
				p.PreferredTarget = *s.PreferredTarget
				p.PreferredTargetExplicit = *s.PreferredTarget != ""
			}
		})
		if err != nil {
			updateErr = err
			return
		}

		if before.Enabled != after.Enabled {
			if after.Enabled {
				c.logger.Info("media key handling enabled")
				c.startIfEnabled()
			} else {
				c.logger.Info("media key handling disabled")
				c.interceptor.Stop()
			}
		}
		c.publish()
	})
	if err != nil {
		return Status{}, err
	}
	if updateErr != nil {
		return c.Status(), updateErr
	}
	return c.Status(), nil
}

func (c *Controller) isInstalled(bundleID string) bool {
	for _, t := range c.targets {
		if t.BundleID == bundleID {
			return t.Installed
		}
	}
	return false
}

// CompleteOnboarding performs the continue action of the permission walkthrough.
// The first time it succeeds, and only if the user never chose a target, the first
// granted player becomes the preferred target.
func (c *Controller) CompleteOnboarding(ctx context.Context) (OnboardingResult, error) {
	var res OnboardingResult
	var updateErr error
	err := c.onLoop(ctx, func() {
		notDenied := false
		for _, t := range c.targets {
			if s, ok := c.sessions[t.BundleID]; ok && s.State() != automation.StateRunningDenied {
				notDenied = true
				break
			}
		}
		res.Ready = c.accessibility && notDenied

		prefs := c.prefs.Get()
		if res.Ready && !prefs.OnboardingCompleted {
			var granted string
			if !prefs.PreferredTargetExplicit {
				for _, t := range c.targets {
					if s, ok := c.sessions[t.BundleID]; ok && s.State() == automation.StateRunningGranted {
						granted = t.BundleID
						break
					}
				}
			}
			_, updateErr = c.prefs.Update(func(p *preferences.Preferences) {
				p.OnboardingCompleted = true
				if granted != "" {
					p.PreferredTarget = granted
				}
			})
			if updateErr == nil && granted != "" {
				res.AutoSelected = true
				c.logger.Info("preferred target selected during onboarding", "bundle_id", granted)
			}
		}
		res.PreferredTarget = c.resolvePreferred(c.prefs.Get().PreferredTarget)
		c.publish()
	})
	if err != nil {
		return OnboardingResult{}, err
	}
	return res, updateErr
}

// SimulatePressAndRelease routes a key-down and key-up for key through the same
// path as hardware keys.
func (c *Controller) SimulatePressAndRelease(ctx context.Context, key mediakeys.Key) (mediakeys.Result, error) {
	var res mediakeys.Result
	err := c.onLoop(ctx, func() {
		res = c.HandleKey(mediakeys.KeyEvent{Key: key, Down: true})
		c.HandleKey(mediakeys.KeyEvent{Key: key, Down: false})
	})
	return res, err
}

// HandleKey is the interceptor handler. It runs on the loop thread and never blocks:
// for a granted target the key is consumed immediately and its command is sent
// asynchronously, so a slow player cannot stall the tap callback.
func (c *Controller) HandleKey(ev mediakeys.KeyEvent) mediakeys.Result {
	if c.closed {
		return mediakeys.Propagate
	}
	session, ok := c.selectTarget()
	if !ok {
		return mediakeys.Propagate
	}
	if !ev.Down {
		return mediakeys.Block
	}
	cmd := commandFor(ev.Key)
	if cmd == cmdNone {
		return mediakeys.Block
	}

	logger := c.logger.With("key", ev.Key.String(), "bundle_id", session.BundleID())
	switch session.State() {
	case automation.StateNotRunning:
		switch c.prefs.Get().Policy {
		case PolicySwallow:
			return mediakeys.Block
		case PolicyLaunch:
			logger.Info("target not running, launching")
			c.attempt(session)
			return mediakeys.Block
		default:
			return mediakeys.Propagate
		}
	case automation.StateRunningDenied:
		logger.Debug("automation denied, swallowing key")
		return mediakeys.Block
	case automation.StateRunningPending:
		logger.Info("automation pending, requesting access")
		c.attempt(session)
		return mediakeys.Block
	case automation.StateRunningGranted:
		handle, ok := session.Handle()
		if !ok {
			return mediakeys.Block
		}
		c.dispatch(session, handle, cmd, logger)
		return mediakeys.Block
	}
	return mediakeys.Block
}

// selectTarget picks the stored preference if installed, then the first running
// installed target, then the first installed target.
func (c *Controller) selectTarget() (*automation.Session, bool) {
	stored := c.prefs.Get().PreferredTarget
	if s, ok := c.sessions[stored]; ok {
		return s, true
	}
	var first *automation.Session
	for _, t := range c.targets {
		s, ok := c.sessions[t.BundleID]
		if !ok {
			continue
		}
		if s.State() != automation.StateNotRunning {
			return s, true
		}
		if first == nil {
			first = s
		}
	}
	return first, first != nil
}

func (c *Controller) attempt(session *automation.Session) {
	session.AttemptToGainAccess(true, func(err error) {
		if err != nil {
			c.logger.Info("access attempt finished without access", "bundle_id", session.BundleID(), "error", err)
			return
		}
		c.logger.Info("automation access granted", "bundle_id", session.BundleID())
	})
}

func (c *Controller) dispatch(session *automation.Session, handle *automation.Handle, cmd command, logger *slog.Logger) {
	c.spawn(func() {
		ctx := context.Background()
		var err error
		switch cmd {
		case cmdPlayPause:
			err = handle.PlayPause(ctx)
		case cmdSkipBack:
			err = handle.SkipBack(ctx)
		case cmdSkipForward:
			err = handle.SkipForward(ctx)
		}
		if err == nil {
			logger.Debug("command dispatched", "command", cmd.String())
			return
		}
		logger.Warn("command dispatch failed", "command", cmd.String(), "error", err)
		c.loop.Post(func() {
			if !c.closed {
				session.Reevaluate()
			}
		})
	})
}
