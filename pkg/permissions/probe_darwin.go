//go:build darwin

package permissions

import (
	"context"
	"sync"

	"github.com/ebitengine/purego"
)

const (
	typeApplicationBundleID = 0x62756e64 // 'bund'
	typeWildCard            = 0x2a2a2a2a // '****'

	errAEEventNotPermitted            = -1743
	errAEEventWouldRequireUserConsent = -1744
)

// aeDesc mirrors the AEDesc struct: a DescType and an opaque data handle.
type aeDesc struct {
	descriptorType uint32
	dataHandle     uintptr
}

var (
	loadOnce sync.Once

	axIsProcessTrusted                    func() bool
	aeCreateDesc                          func(typeCode uint32, data *byte, size int, result *aeDesc) int16
	aeDisposeDesc                         func(desc *aeDesc) int16
	aeDeterminePermissionToAutomateTarget func(target *aeDesc, class uint32, id uint32, ask bool) int32
)

func loadFrameworks() {
	loadOnce.Do(func() {
		if lib, err := purego.Dlopen("/System/Library/Frameworks/ApplicationServices.framework/ApplicationServices", purego.RTLD_LAZY); err == nil {
			purego.RegisterLibFunc(&axIsProcessTrusted, lib, "AXIsProcessTrusted")
		}
		if lib, err := purego.Dlopen("/System/Library/Frameworks/CoreServices.framework/CoreServices", purego.RTLD_LAZY); err == nil {
			purego.RegisterLibFunc(&aeCreateDesc, lib, "AECreateDesc")
			purego.RegisterLibFunc(&aeDisposeDesc, lib, "AEDisposeDesc")
			purego.RegisterLibFunc(&aeDeterminePermissionToAutomateTarget, lib, "AEDeterminePermissionToAutomateTarget")
		}
	})
}

type nativeProber struct{}

func newPlatformProber() Prober {
	loadFrameworks()
	return nativeProber{}
}

func (nativeProber) Accessibility() bool {
	if axIsProcessTrusted == nil {
		return false
	}
	return axIsProcessTrusted()
}

// Automation asks the Apple Event manager whether we may script bundleID. The call
// can block indefinitely while a consent prompt is showing; ctx is not consulted.
func (nativeProber) Automation(_ context.Context, bundleID string, prompt bool) Access {
	if aeCreateDesc == nil || aeDeterminePermissionToAutomateTarget == nil || bundleID == "" {
		return AccessCheckFailed
	}

	id := []byte(bundleID)
	var desc aeDesc
	if status := aeCreateDesc(typeApplicationBundleID, &id[0], len(id), &desc); status != 0 {
		return AccessCheckFailed
	}
	defer aeDisposeDesc(&desc)

	switch aeDeterminePermissionToAutomateTarget(&desc, typeWildCard, typeWildCard, prompt) {
	case 0:
		return AccessAvailable
	case errAEEventNotPermitted:
		return AccessDenied
	case errAEEventWouldRequireUserConsent:
		return AccessPendingAuthorization
	default:
		return AccessCheckFailed
	}
}
