package runloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/offlinefirst/keyhole/pkg/logging"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc) {
	t.Helper()
	loop := New(logging.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- loop.Run(ctx) }()

	select {
	case <-loop.Ready():
	case <-time.After(time.Second):
		t.Fatalf("loop did not start")
	}
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("run returned %v", err)
			}
		case <-time.After(time.Second):
			t.Errorf("loop did not stop")
		}
	})
	return loop, cancel
}

func TestPostRunsInOrder(t *testing.T) {
	loop, _ := startLoop(t)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		loop.Post(func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	if err := loop.Call(context.Background(), func() {}); err != nil {
		t.Fatalf("call: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 5 {
		t.Fatalf("expected 5 callbacks, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("callbacks out of order: %v", order)
		}
	}
}

func TestCallReportsLoopThread(t *testing.T) {
	loop, _ := startLoop(t)

	if loop.OnLoop() {
		t.Fatalf("test goroutine must not be the loop thread")
	}
	var inside bool
	if err := loop.Call(context.Background(), func() { inside = loop.OnLoop() }); err != nil {
		t.Fatalf("call: %v", err)
	}
	if !inside {
		t.Fatalf("expected OnLoop inside posted work")
	}
}

func TestCallAfterStopFails(t *testing.T) {
	loop, cancel := startLoop(t)
	cancel()

	select {
	case <-loop.Done():
	case <-time.After(time.Second):
		t.Fatalf("loop did not stop")
	}

	if err := loop.Call(context.Background(), func() {}); !errors.Is(err, ErrStopped) {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
}

func TestPanickingWorkDoesNotKillLoop(t *testing.T) {
	loop, _ := startLoop(t)

	loop.Post(func() { panic("boom") })
	ran := false
	if err := loop.Call(context.Background(), func() { ran = true }); err != nil {
		t.Fatalf("call: %v", err)
	}
	if !ran {
		t.Fatalf("expected loop to keep serving work")
	}
}

func TestRunTwiceFails(t *testing.T) {
	loop, _ := startLoop(t)
	if err := loop.Run(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}
