package automation

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/offlinefirst/keyhole/pkg/logging"
	"github.com/offlinefirst/keyhole/pkg/permissions"
	"github.com/offlinefirst/keyhole/pkg/runloop"
	"github.com/offlinefirst/keyhole/pkg/workspace"
)

type fakeWorkspace struct {
	mu        sync.Mutex
	installed map[string]bool
	running   map[string]bool
	launches  []string
	launchErr error
	subs      map[int]func(workspace.Notification)
	nextSub   int
}

func newFakeWorkspace() *fakeWorkspace {
	return &fakeWorkspace{
		installed: map[string]bool{},
		running:   map[string]bool{},
		subs:      map[int]func(workspace.Notification){},
	}
}

func (w *fakeWorkspace) InstalledPath(id string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.installed[id] {
		return "", false
	}
	return "/Applications/" + id + ".app", true
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
	w.launches = append(w.launches, id)
	err := w.launchErr
	if err == nil {
		w.running[id] = true
	}
	w.mu.Unlock()
	return err
}

func (w *fakeWorkspace) launchCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.launches)
}

func (w *fakeWorkspace) Subscribe(fn func(workspace.Notification)) func() {
	w.mu.Lock()
	id := w.nextSub
	w.nextSub++
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

type probeCall struct {
	bundleID string
	prompt   bool
}

type fakeProber struct {
	mu     sync.Mutex
	access map[string]permissions.Access
	// onPrompt, when set, replaces access for prompting probes.
	onPrompt map[string]permissions.Access
	gate     chan struct{}
	calls    []probeCall
	trusted  bool
}

func newFakeProber() *fakeProber {
	return &fakeProber{
		access:   map[string]permissions.Access{},
		onPrompt: map[string]permissions.Access{},
		trusted:  true,
	}
}

func (p *fakeProber) set(id string, a permissions.Access) {
	p.mu.Lock()
	p.access[id] = a
	p.mu.Unlock()
}

func (p *fakeProber) Automation(_ context.Context, id string, prompt bool) permissions.Access {
	p.mu.Lock()
	p.calls = append(p.calls, probeCall{bundleID: id, prompt: prompt})
	gate := p.gate
	p.mu.Unlock()

	if prompt && gate != nil {
		<-gate
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if prompt {
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

func (p *fakeProber) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
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

// settle waits for work already queued on the loop to drain.
func settle(t *testing.T, loop *runloop.Loop) {
	t.Helper()
	onLoop(t, loop, func() {})
}

func waitErr(t *testing.T, ch <-chan error) error {
	t.Helper()
	select {
	case err := <-ch:
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("attempt did not complete")
		return errors.New("timeout")
	}
}
