//go:build darwin

package mediakeys

/*
#cgo darwin CFLAGS: -x objective-c -fmodules -fobjc-arc
#cgo darwin LDFLAGS: -framework CoreGraphics -framework ApplicationServices -framework Cocoa
#include <ApplicationServices/ApplicationServices.h>
#include <Cocoa/Cocoa.h>
#include <CoreFoundation/CoreFoundation.h>
#include <stdint.h>

extern CGEventRef goHandleMediaEvent(CGEventTapProxy proxy, CGEventType type, CGEventRef event, void *userInfo);

static CFMachPortRef createMediaKeyTap(uintptr_t handle) {
        return CGEventTapCreate(kCGSessionEventTap,
                                kCGHeadInsertEventTap,
                                kCGEventTapOptionDefault,
                                CGEventMaskBit(NX_SYSDEFINED),
                                goHandleMediaEvent,
                                (void *)handle);
}

static CFRunLoopSourceRef attachTap(CFRunLoopRef loop, CFMachPortRef tap) {
        CFRunLoopSourceRef source = CFMachPortCreateRunLoopSource(kCFAllocatorDefault, tap, 0);
        CFRunLoopAddSource(loop, source, kCFRunLoopCommonModes);
        CGEventTapEnable(tap, true);
        return source;
}

static void enableTap(CFMachPortRef tap) {
        CGEventTapEnable(tap, true);
}

static void detachTap(CFRunLoopRef loop, CFMachPortRef tap, CFRunLoopSourceRef source) {
        CFMachPortInvalidate(tap);
        CFRunLoopRemoveSource(loop, source, kCFRunLoopCommonModes);
        CFRelease(source);
        CFRelease(tap);
}

static int64_t systemDefinedData(CGEventRef event, int *subtype) {
        @autoreleasepool {
                NSEvent *ns = [NSEvent eventWithCGEvent:event];
                if (ns == nil) {
                        *subtype = -1;
                        return 0;
                }
                *subtype = (int)ns.subtype;
                return (int64_t)ns.data1;
        }
}
*/
import "C"

import (
	"runtime/cgo"
	"unsafe"
)

type quartzTap struct {
	loop    C.CFRunLoopRef
	tap     C.CFMachPortRef
	source  C.CFRunLoopSourceRef
	handle  cgo.Handle
	deliver func(RawEvent) Result
}

func newDefaultTap() Tap {
	return &quartzTap{}
}

func (q *quartzTap) Install(loop uintptr, deliver func(RawEvent) Result) error {
	if loop == 0 {
		return ErrAccessibilityPermission
	}
	q.deliver = deliver
	q.handle = cgo.NewHandle(q)

	tap := C.createMediaKeyTap(C.uintptr_t(q.handle))
	if tap == 0 {
		q.handle.Delete()
		q.handle = 0
		return ErrAccessibilityPermission
	}

	q.loop = C.CFRunLoopRef(loop)
	q.tap = tap
	q.source = C.attachTap(q.loop, tap)
	return nil
}

func (q *quartzTap) Enable() {
	if q.tap != 0 {
		C.enableTap(q.tap)
	}
}

func (q *quartzTap) Uninstall() {
	if q.tap == 0 {
		return
	}
	C.detachTap(q.loop, q.tap, q.source)
	q.tap = 0
	q.source = 0
	q.handle.Delete()
	q.handle = 0
}

//export goHandleMediaEvent
func goHandleMediaEvent(_ C.CGEventTapProxy, eventType C.CGEventType, event C.CGEventRef, userInfo unsafe.Pointer) C.CGEventRef {
	q, ok := cgo.Handle(uintptr(userInfo)).Value().(*quartzTap)
	if !ok || q.deliver == nil {
		return event
	}

	raw := RawEvent{Type: EventType(eventType)}
	if raw.Type == EventSystemDefined {
		var subtype C.int
		raw.Data1 = int64(C.systemDefinedData(event, &subtype))
		raw.Subtype = int(subtype)
	}

	if q.deliver(raw) == Block {
		return C.CGEventRef(0)
	}
	return event
}
