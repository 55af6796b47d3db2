package routing

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/offlinefirst/keyhole/pkg/automation"
	"github.com/offlinefirst/keyhole/pkg/logging"
	"github.com/offlinefirst/keyhole/pkg/mediakeys"
	"github.com/offlinefirst/keyhole/pkg/permissions"
	"github.com/offlinefirst/keyhole/pkg/preferences"
	"github.com/offlinefirst/keyhole/pkg/runloop"
	"github.com/offlinefirst/keyhole/pkg/workspace"
)

const (
	musicID   = "com.apple.Music"
	spotifyID = "com.spotify.client"
	cogID     = "org.cogx.cog"
)

type fakeWorkspace struct {
	mu        sync.Mutex
	installed map[string]bool
	running   map[string]bool
	launches  []string
	subs      map[int]func(workspace.Notification)
	next      int
}

func (w *fakeWorkspace) InstalledPath(id string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return "/Applications/" + id + ".app", w.installed[id]
}

func (w *fakeWorkspace) IsRunning(id string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running[id]
}

func (w *fakeWorkspace) setRunning(id string, running bool) {
	w.mu.Lock()
	w.running[id] = running
	w.mu.Unlock()
}

func (w *fakeWorkspace) Launch(_ context.Context, id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.launches = append(w.launches, id)
	w.running[id] = true
	return nil
}

func (w *fakeWorkspace) launchCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.launches)
}

func (w *fakeWorkspace) Subscribe(fn func(workspace.Notification)) func() {
	w.mu.Lock()
	id := w.next
	w.next++
	w.subs[id] = fn
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		delete(w.subs, id)
		w.mu.Unlock()
	}
}

func (w *fakeWorkspace) emit(n workspace.Notification) {
	w.mu.Lock()
	fns := make([]func(workspace.Notification), 0, len(w.subs))
	for _, fn := range w.subs {
		fns = append(fns, fn)
	}
	w.mu.Unlock()
	for _, fn := range fns {
		fn(n)
	}
}

type fakeProber struct {
	mu       sync.Mutex
	access   map[string]permissions.Access
	onPrompt map[string]permissions.Access
	prompts  int
	trusted  bool
}

func (p *fakeProber) set(id string, a permissions.Access) {
	p.mu.Lock()
	p.access[id] = a
	p.mu.Unlock()
}

func (p *fakeProber) setTrusted(v bool) {
	p.mu.Lock()
	p.trusted = v
	p.mu.Unlock()
}

func (p *fakeProber) Automation(_ context.Context, id string, prompt bool) permissions.Access {
	p.mu.Lock()
	defer p.mu.Unlock()
	if prompt {
		p.prompts++
		if a, ok := p.onPrompt[id]; ok {
			p.access[id] = a
		}
	}
	if a, ok := p.access[id]; ok {
		return a
	}
	return permissions.AccessCheckFailed
}

func (p *fakeProber) Accessibility() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.trusted
}

func (p *fakeProber) promptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prompts
}

type fakeApp struct {
	id  string
	mu  sync.Mutex
	log []string
	err error
}

func (a *fakeApp) BundleID() string { return a.id }
func (a *fakeApp) Name() string     { return a.id }

func (a *fakeApp) record(cmd string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.log = append(a.log, cmd)
	return a.err
}

func (a *fakeApp) PlayPause(context.Context) error   { return a.record("playpause") }
func (a *fakeApp) SkipBack(context.Context) error    { return a.record("back") }
func (a *fakeApp) SkipForward(context.Context) error { return a.record("forward") }

func (a *fakeApp) commands() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.log...)
}

type fakeInterceptor struct {
	refuse  bool
	state   mediakeys.State
	starts  int
	stops   int
	handler mediakeys.Handler
}

func (f *fakeInterceptor) Start() error {
	if f.state == mediakeys.StateRunning {
		return nil
	}
	f.starts++
	if f.refuse {
		f.state = mediakeys.StateMissingPermission
		return mediakeys.ErrAccessibilityPermission
	}
	f.state = mediakeys.StateRunning
	return nil
}

func (f *fakeInterceptor) Stop() {
	if f.state == mediakeys.StateRunning {
		f.stops++
	}
	f.state = mediakeys.StateStopped
}

func (f *fakeInterceptor) State() mediakeys.State { return f.state }

func (f *fakeInterceptor) SetHandler(h mediakeys.Handler) { f.handler = h }

type harness struct {
	t           *testing.T
	loop        *runloop.Loop
	ws          *fakeWorkspace
	prober      *fakeProber
	apps        map[string]*fakeApp
	interceptor *fakeInterceptor
	prefs       *preferences.Store
	ctrl        *Controller
}

type harnessOption func(*harness)

func installed(ids ...string) harnessOption {
	return func(h *harness) {
		for _, id := range ids {
			h.ws.installed[id] = true
		}
	}
}

func running(id string, access permissions.Access) harnessOption {
	return func(h *harness) {
		h.ws.running[id] = true
		h.prober.access[id] = access
	}
}

func withPrefs(fn func(*preferences.Preferences)) harnessOption {
	return func(h *harness) {
		if _, err := h.prefs.Update(fn); err != nil {
			h.t.Fatalf("seed preferences: %v", err)
		}
	}
}

func untrusted() harnessOption {
	return func(h *harness) { h.prober.trusted = false }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	store, err := preferences.Open(filepath.Join(t.TempDir(), "prefs.yaml"))
	if err != nil {
		t.Fatalf("open preferences: %v", err)
	}
	h := &harness{
		t:    t,
		loop: startLoop(t),
		ws: &fakeWorkspace{
			installed: map[string]bool{},
			running:   map[string]bool{},
			subs:      map[int]func(workspace.Notification){},
		},
		prober: &fakeProber{
			access:   map[string]permissions.Access{},
			onPrompt: map[string]permissions.Access{},
			trusted:  true,
		},
		apps:        map[string]*fakeApp{},
		interceptor: &fakeInterceptor{},
		prefs:       store,
	}
	for _, opt := range opts {
		opt(h)
	}

	ctrl, err := New(context.Background(), Options{
		Targets: []string{musicID, spotifyID, cogID},
		Apps: func(id string) (automation.Application, error) {
			app := &fakeApp{id: id}
			h.apps[id] = app
			return app, nil
		},
		Workspace:   h.ws,
		Prober:      h.prober,
		Loop:        h.loop,
		Interceptor: h.interceptor,
		Preferences: store,
		Logger:      logging.Discard(),
	})
	if err != nil {
		t.Fatalf("new controller: %v", err)
	}
	ctrl.spawn = func(fn func()) { fn() }
	h.ctrl = ctrl
	if err := ctrl.Start(context.Background()); err != nil {
		t.Fatalf("start controller: %v", err)
	}
	t.Cleanup(func() { _ = ctrl.Close(context.Background()) })
	return h
}

// key routes one key transition through the interceptor handler on the loop.
func (h *harness) key(k mediakeys.Key, down bool) mediakeys.Result {
	h.t.Helper()
	var res mediakeys.Result
	onLoop(h.t, h.loop, func() {
		res = h.interceptor.handler(mediakeys.KeyEvent{Key: k, Down: down})
	})
	return res
}

func (h *harness) dispatched() int {
	n := 0
	for _, app := range h.apps {
		n += len(app.commands())
	}
	return n
}

func startLoop(t *testing.T) *runloop.Loop {
	t.Helper()
	loop := runloop.New(logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-loop.Done()
	})
	select {
	case <-loop.Ready():
	case <-time.After(time.Second):
		t.Fatalf("loop did not start")
	}
	return loop
}

func onLoop(t *testing.T, loop *runloop.Loop, fn func()) {
	t.Helper()
	if err := loop.Call(context.Background(), fn); err != nil {
		t.Fatalf("loop call: %v", err)
	}
}

func settle(t *testing.T, loop *runloop.Loop) {
	t.Helper()
	onLoop(t, loop, func() {})
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

var errDispatch = errors.New("connection invalid")
