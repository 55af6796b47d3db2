package runloop

import (
	"context"
	"errors"
	"log/slog"
	"runtime"
	"sync"
)

// ErrStopped is returned by Call when the loop is no longer running.
var ErrStopped = errors.New("run loop stopped")

// ErrAlreadyRunning is returned when Run is invoked twice.
var ErrAlreadyRunning = errors.New("run loop already running")

// driver is the platform half of the loop: it parks the locked thread until woken.
type driver interface {
	// run blocks on the calling (locked) thread, invoking drain whenever woken,
	// until stop is called.
	run(drain func())
	wake()
	stop()
	isCurrent() bool
	handle() uintptr
}

// Loop serialises work onto one locked OS thread.
type Loop struct {
	logger *slog.Logger

	mu      sync.Mutex
	queue   []func()
	running bool
	stopped bool
	stopReq bool
	drv     driver

	ready chan struct{}
	done  chan struct{}
}

// New constructs an idle loop. Call Run from the goroutine that should become the
// delivery thread.
func New(logger *slog.Logger) *Loop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loop{
		logger: logger.With("component", "runloop"),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Run locks the calling goroutine to its OS thread and services posted work until
// ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	if l.stopped {
		l.mu.Unlock()
		return ErrStopped
	}
	l.running = true
	l.mu.Unlock()

	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	drv := newDriver()
	l.mu.Lock()
	l.drv = drv
	pending := len(l.queue) > 0
	stopReq := l.stopReq
	l.mu.Unlock()
	close(l.ready)
	if stopReq {
		drv.stop()
	}

	stopWatcher := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			l.Stop()
		case <-l.done:
		}
		close(stopWatcher)
	}()

	if pending {
		drv.wake()
	}
	l.logger.Debug("run loop started")
	drv.run(l.drain)

	l.mu.Lock()
	l.stopped = true
	l.running = false
	l.queue = nil
	l.mu.Unlock()
	close(l.done)
	<-stopWatcher
	l.logger.Debug("run loop stopped")

	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Ready is closed once Run has installed its driver.
func (l *Loop) Ready() <-chan struct{} {
	return l.ready
}

// Done is closed after Run returns.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Stop asks the loop to exit. It is safe to call from any goroutine and more than once.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopReq = true
	drv := l.drv
	running := l.running
	if !running {
		l.stopped = true
	}
	l.mu.Unlock()
	if drv != nil && running {
		drv.stop()
	}
}

// Post schedules fn on the loop thread. Work posted after the loop stopped is dropped.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	if l.stopped {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	drv := l.drv
	l.mu.Unlock()
	if drv != nil {
		drv.wake()
	}
}

// Call runs fn on the loop thread and waits for it to finish. When already on the
// loop thread fn runs inline.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	if l.OnLoop() {
		fn()
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	finished := make(chan struct{})
	l.Post(func() {
		defer close(finished)
		fn()
	})
	select {
	case <-finished:
		return nil
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// OnLoop reports whether the caller is executing on the loop thread.
func (l *Loop) OnLoop() bool {
	l.mu.Lock()
	drv := l.drv
	running := l.running
	l.mu.Unlock()
	return running && drv != nil && drv.isCurrent()
}

// Handle exposes the platform run loop reference (a CFRunLoopRef on darwin) so hooks
// can attach their sources. It is zero before Run starts.
func (l *Loop) Handle() uintptr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.drv == nil {
		return 0
	}
	return l.drv.handle()
}

func (l *Loop) drain() {
	for {
		l.mu.Lock()
		if len(l.queue) == 0 {
			l.mu.Unlock()
			return
		}
		batch := l.queue
		l.queue = nil
		l.mu.Unlock()

		for _, fn := range batch {
			l.invoke(fn)
		}
	}
}

func (l *Loop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("posted work panicked", "panic", r)
		}
	}()
	fn()
}
