//go:build !darwin

package permissions

import "context"

// hostProber stands in on platforms without TCC. Accessibility is reported as trusted
// so the synthetic tap can run; automation cannot be observed.
type hostProber struct{}

func newPlatformProber() Prober { return hostProber{} }

func (hostProber) Accessibility() bool { return true }

func (hostProber) Automation(context.Context, string, bool) Access { return AccessCheckFailed }
