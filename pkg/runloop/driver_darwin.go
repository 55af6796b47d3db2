//go:build darwin

package runloop

/*
#cgo darwin CFLAGS: -x objective-c -fblocks
#cgo darwin LDFLAGS: -framework CoreFoundation
#include <CoreFoundation/CoreFoundation.h>
#include <stdint.h>

extern void goDrainLoop(uintptr_t handle);

static void keepAliveCallback(CFRunLoopTimerRef timer, void *info) {}

static CFRunLoopRef currentLoop(void) {
        CFRunLoopRef loop = CFRunLoopGetCurrent();
        CFRetain(loop);
        // CFRunLoopRun returns immediately when no sources are attached.
        CFRunLoopTimerRef timer = CFRunLoopTimerCreate(kCFAllocatorDefault,
                                                       CFAbsoluteTimeGetCurrent() + 1.0e10,
                                                       1.0e10, 0, 0, keepAliveCallback, NULL);
        CFRunLoopAddTimer(loop, timer, kCFRunLoopCommonModes);
        CFRelease(timer);
        return loop;
}

static void wakeLoop(CFRunLoopRef loop, uintptr_t handle) {
        CFRunLoopPerformBlock(loop, kCFRunLoopCommonModes, ^{
                goDrainLoop(handle);
        });
        CFRunLoopWakeUp(loop);
}

static void stopLoop(CFRunLoopRef loop) {
        CFRunLoopPerformBlock(loop, kCFRunLoopCommonModes, ^{
                CFRunLoopStop(CFRunLoopGetCurrent());
        });
        CFRunLoopStop(loop);
        CFRunLoopWakeUp(loop);
}

static void runLoop(void) {
        CFRunLoopRun();
}

static int isCurrentLoop(CFRunLoopRef loop) {
        return CFRunLoopGetCurrent() == loop;
}

static void releaseLoop(CFRunLoopRef loop) {
        CFRelease(loop);
}
*/
import "C"

import (
	"runtime/cgo"
	"sync/atomic"
)

// cfDriver parks the locked thread inside CFRunLoopRun so event taps attached to
// the same loop are serviced alongside posted work.
type cfDriver struct {
	loop    C.CFRunLoopRef
	self    cgo.Handle
	drain   func()
	stopped atomic.Bool
}

func newDriver() driver {
	d := &cfDriver{loop: C.currentLoop()}
	d.self = cgo.NewHandle(d)
	return d
}

func (d *cfDriver) run(drain func()) {
	d.drain = drain
	drain()
	for !d.stopped.Load() {
		C.runLoop()
	}
	d.self.Delete()
	C.releaseLoop(d.loop)
}

func (d *cfDriver) wake() {
	if d.stopped.Load() {
		return
	}
	C.wakeLoop(d.loop, C.uintptr_t(d.self))
}

func (d *cfDriver) stop() {
	if d.stopped.Swap(true) {
		return
	}
	C.stopLoop(d.loop)
}

func (d *cfDriver) isCurrent() bool {
	return C.isCurrentLoop(d.loop) != 0
}

func (d *cfDriver) handle() uintptr {
	return uintptr(d.loop)
}

//export goDrainLoop
func goDrainLoop(handle C.uintptr_t) {
	d, ok := cgo.Handle(handle).Value().(*cfDriver)
	if !ok || d.drain == nil {
		return
	}
	d.drain()
}
