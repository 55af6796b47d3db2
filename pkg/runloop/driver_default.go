//go:build !darwin

package runloop

import "sync"

// chanDriver parks the locked thread on a channel. Used wherever there is no native
// run loop to attach hooks to.
type chanDriver struct {
	wakeCh   chan struct{}
	stopCh   chan struct{}
	stopOnce sync.Once
	tid      int
}

func newDriver() driver {
	return &chanDriver{
		wakeCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		tid:    currentThreadID(),
	}
}

func (d *chanDriver) run(drain func()) {
	for {
		select {
		case <-d.stopCh:
			return
		case <-d.wakeCh:
			drain()
		}
	}
}

func (d *chanDriver) wake() {
	select {
	case d.wakeCh <- struct{}{}:
	default:
	}
}

func (d *chanDriver) stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

func (d *chanDriver) isCurrent() bool {
	return d.tid != 0 && currentThreadID() == d.tid
}

func (d *chanDriver) handle() uintptr {
	return 0
}
