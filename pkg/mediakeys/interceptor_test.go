package mediakeys

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/offlinefirst/keyhole/pkg/logging"
	"github.com/offlinefirst/keyhole/pkg/runloop"
)

type fakeTap struct {
	refuse     bool
	installs   int
	uninstalls int
	enables    int
	deliver    func(RawEvent) Result
}

func (f *fakeTap) Install(_ uintptr, deliver func(RawEvent) Result) error {
	if f.refuse {
		return ErrAccessibilityPermission
	}
	f.installs++
	f.deliver = deliver
	return nil
}

func (f *fakeTap) Enable() { f.enables++ }

func (f *fakeTap) Uninstall() { f.uninstalls++ }

func newTestInterceptor(t *testing.T, tap Tap, handler Handler) (*Interceptor, *runloop.Loop) {
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

	ic, err := New(Options{Loop: loop, Tap: tap, Handler: handler, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("new interceptor: %v", err)
	}
	return ic, loop
}

func onLoop(t *testing.T, loop *runloop.Loop, fn func()) {
	t.Helper()
	if err := loop.Call(context.Background(), fn); err != nil {
		t.Fatalf("loop call: %v", err)
	}
}

func TestStartStopIdempotent(t *testing.T) {
	tap := &fakeTap{}
	ic, loop := newTestInterceptor(t, tap, nil)

	onLoop(t, loop, func() {
		if err := ic.Start(); err != nil {
			t.Errorf("start: %v", err)
		}
		if err := ic.Start(); err != nil {
			t.Errorf("second start: %v", err)
		}
	})
	if tap.installs != 1 {
		t.Fatalf("expected one install, got %d", tap.installs)
	}
	if ic.State() != StateRunning {
		t.Fatalf("expected running, got %s", ic.State())
	}

	ic.Stop()
	ic.Stop()
	if tap.uninstalls != 1 {
		t.Fatalf("expected one uninstall, got %d", tap.uninstalls)
	}
	if ic.State() != StateStopped {
		t.Fatalf("expected stopped, got %s", ic.State())
	}

	onLoop(t, loop, func() {
		if err := ic.Start(); err != nil {
			t.Errorf("restart: %v", err)
		}
	})
	if tap.installs != 2 || ic.State() != StateRunning {
		t.Fatalf("expected restart to reinstall, installs=%d state=%s", tap.installs, ic.State())
	}
}

func TestStartReportsMissingPermission(t *testing.T) {
	ic, loop := newTestInterceptor(t, &fakeTap{refuse: true}, nil)

	var err error
	onLoop(t, loop, func() { err = ic.Start() })
	if !errors.Is(err, ErrAccessibilityPermission) {
		t.Fatalf("expected ErrAccessibilityPermission, got %v", err)
	}
	if ic.State() != StateMissingPermission {
		t.Fatalf("expected missing permission state, got %s", ic.State())
	}

	ic.Stop()
	if ic.State() != StateStopped {
		t.Fatalf("expected stop to reset state, got %s", ic.State())
	}
}

func TestStartOffLoopPanics(t *testing.T) {
	ic, _ := newTestInterceptor(t, &fakeTap{}, nil)
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic when starting off the loop thread")
		}
	}()
	_ = ic.Start()
}

func TestDeliverRoutesDecodedKeys(t *testing.T) {
	var got []KeyEvent
	handler := func(ev KeyEvent) Result {
		got = append(got, ev)
		return Block
	}
	tap := &fakeTap{}
	ic, loop := newTestInterceptor(t, tap, handler)

	onLoop(t, loop, func() {
		if err := ic.Start(); err != nil {
			t.Errorf("start: %v", err)
			return
		}
		if res := tap.deliver(MediaKeyEvent(16, true)); res != Block {
			t.Errorf("expected handler result, got %s", res)
		}
		if res := tap.deliver(MediaKeyEvent(99, true)); res != Propagate {
			t.Errorf("expected unmapped code to propagate, got %s", res)
		}
		if res := tap.deliver(RawEvent{Type: 10}); res != Propagate {
			t.Errorf("expected unrelated event to propagate, got %s", res)
		}
	})

	if len(got) != 1 || got[0] != (KeyEvent{Key: KeyPlayPause, Down: true}) {
		t.Fatalf("unexpected handler calls: %+v", got)
	}
}

func TestDeliverHealsTimeoutDisable(t *testing.T) {
	called := false
	tap := &fakeTap{}
	ic, loop := newTestInterceptor(t, tap, func(KeyEvent) Result {
		called = true
		return Block
	})

	onLoop(t, loop, func() {
		if err := ic.Start(); err != nil {
			t.Errorf("start: %v", err)
			return
		}
		if res := tap.deliver(RawEvent{Type: EventTapDisabledByTimeout}); res != Propagate {
			t.Errorf("timeout disable must propagate, got %s", res)
		}
		if res := tap.deliver(RawEvent{Type: EventTapDisabledByUserInput}); res != Propagate {
			t.Errorf("user input disable must propagate, got %s", res)
		}
	})

	if tap.enables != 1 {
		t.Fatalf("expected exactly one re-enable, got %d", tap.enables)
	}
	if called {
		t.Fatalf("handler must not see tap control events")
	}
}

func TestDeliverWithoutHandlerPropagates(t *testing.T) {
	tap := &fakeTap{}
	ic, loop := newTestInterceptor(t, tap, nil)

	onLoop(t, loop, func() {
		if err := ic.Start(); err != nil {
			t.Errorf("start: %v", err)
			return
		}
		if res := ic.Deliver(MediaKeyEvent(16, true)); res != Propagate {
			t.Errorf("expected propagate without handler, got %s", res)
		}
	})
}

func TestDeliverWhenStoppedPropagates(t *testing.T) {
	ic, loop := newTestInterceptor(t, &fakeTap{}, func(KeyEvent) Result { return Block })
	onLoop(t, loop, func() {
		if res := ic.Deliver(MediaKeyEvent(16, true)); res != Propagate {
			t.Errorf("expected propagate while stopped, got %s", res)
		}
	})
}

func TestStopAfterLoopExitReportsStopped(t *testing.T) {
	tap := &fakeTap{}
	loop := runloop.New(logging.Discard())
	go loop.Run(context.Background())
	<-loop.Ready()

	ic, err := New(Options{Loop: loop, Tap: tap, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("new interceptor: %v", err)
	}
	onLoop(t, loop, func() {
		if err := ic.Start(); err != nil {
			t.Errorf("start: %v", err)
		}
	})

	loop.Stop()
	<-loop.Done()

	ic.Stop()
	if ic.State() != StateStopped {
		t.Fatalf("expected stopped after the loop exited, got %s", ic.State())
	}
	if tap.uninstalls != 0 {
		t.Fatalf("uninstall must only run on the loop, got %d calls", tap.uninstalls)
	}
}
