package permissions

import (
	"context"
	"os"
	"runtime"
	"strings"
)

// Status enumerates coarse permission results for diagnostics.
type Status string

const (
	// StatusUnknown indicates no explicit signal about permission state.
	StatusUnknown Status = "unknown"
	// StatusGranted signals that permission was previously granted.
	StatusGranted Status = "granted"
	// StatusDenied indicates the user has explicitly denied access.
	StatusDenied Status = "denied"
	// StatusPromptRequired means the platform will prompt at runtime.
	StatusPromptRequired Status = "prompt"
	// StatusUnavailable reports that the capability is not supported.
	StatusUnavailable Status = "unavailable"
)

// ProbeResult represents the coarse state for a permission surface.
type ProbeResult struct {
	Status   Status
	Message  string
	Guidance string
}

// Access is the outcome of an automation permission check against one application.
type Access int

const (
	AccessCheckFailed Access = iota
	AccessPendingAuthorization
	AccessAvailable
	AccessDenied
)

func (a Access) String() string {
	switch a {
	case AccessPendingAuthorization:
		return "pending_authorization"
	case AccessAvailable:
		return "available"
	case AccessDenied:
		return "denied"
	default:
		return "check_failed"
	}
}

// Prober answers permission questions. Automation may block for as long as a user
// prompt stays open when prompt is true, so callers keep it off the delivery thread.
type Prober interface {
	Automation(ctx context.Context, bundleID string, prompt bool) Access
	Accessibility() bool
}

// LookupEnvFunc exposes environment probing for testability.
type LookupEnvFunc func(string) (string, bool)

// DefaultLookupEnv is the standard environment resolver.
func DefaultLookupEnv(key string) (string, bool) {
	return lookupEnv(key)
}

// lookupEnv is declared for swapping in tests.
var lookupEnv = func(key string) (string, bool) {
	return os.LookupEnv(key)
}

const (
	accessibilityEnv    = "KEYHOLE_ACCESSIBILITY"
	automationEnvPrefix = "KEYHOLE_AUTOMATION_"
)

// AutomationEnvKey returns the override variable consulted for bundleID, e.g.
// KEYHOLE_AUTOMATION_COM_SPOTIFY_CLIENT.
func AutomationEnvKey(bundleID string) string {
	var b strings.Builder
	b.WriteString(automationEnvPrefix)
	for _, r := range strings.ToUpper(bundleID) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}

// New returns the platform prober wrapped with KEYHOLE_* environment overrides.
func New(lookup LookupEnvFunc) Prober {
	return WithOverrides(newPlatformProber(), lookup)
}

// WithOverrides layers environment overrides on top of next.
func WithOverrides(next Prober, lookup LookupEnvFunc) Prober {
	if lookup == nil {
		lookup = lookupEnv
	}
	return &envProber{next: next, lookup: lookup}
}

type envProber struct {
	next   Prober
	lookup LookupEnvFunc
}

func (p *envProber) Automation(ctx context.Context, bundleID string, prompt bool) Access {
	if value, ok := p.lookup(AutomationEnvKey(bundleID)); ok {
		return accessFromStatus(interpretPermissionFlag("automation", value).Status)
	}
	return p.next.Automation(ctx, bundleID, prompt)
}

func (p *envProber) Accessibility() bool {
	if value, ok := p.lookup(accessibilityEnv); ok {
		return interpretPermissionFlag("accessibility", value).Status == StatusGranted
	}
	return p.next.Accessibility()
}

func accessFromStatus(status Status) Access {
	switch status {
	case StatusGranted:
		return AccessAvailable
	case StatusDenied:
		return AccessDenied
	case StatusPromptRequired:
		return AccessPendingAuthorization
	default:
		return AccessCheckFailed
	}
}

// ProbeAccessibility reports accessibility trust for the doctor command.
func ProbeAccessibility(prober Prober, lookup LookupEnvFunc) ProbeResult {
	if lookup == nil {
		lookup = lookupEnv
	}
	if value, ok := lookup(accessibilityEnv); ok {
		return interpretPermissionFlag("accessibility", value)
	}
	if runtime.GOOS != "darwin" {
		return ProbeResult{Status: StatusUnavailable, Message: "accessibility trust is not enforced on this platform"}
	}
	if prober != nil && prober.Accessibility() {
		return ProbeResult{Status: StatusGranted, Message: "process is trusted for accessibility"}
	}
	return ProbeResult{
		Status:   StatusDenied,
		Message:  "media key interception requires accessibility trust",
		Guidance: "enable keyhole under System Settings > Privacy & Security > Accessibility",
	}
}

// ProbeAutomation reports the automation state for bundleID without prompting.
func ProbeAutomation(ctx context.Context, prober Prober, bundleID string) ProbeResult {
	switch prober.Automation(ctx, bundleID, false) {
	case AccessAvailable:
		return ProbeResult{Status: StatusGranted, Message: bundleID + " accepts automation"}
	case AccessDenied:
		return ProbeResult{
			Status:   StatusDenied,
			Message:  bundleID + " automation denied",
			Guidance: "enable it under System Settings > Privacy & Security > Automation, or run 'tccutil reset AppleEvents'",
		}
	case AccessPendingAuthorization:
		return ProbeResult{Status: StatusPromptRequired, Message: bundleID + " automation will prompt on first use"}
	default:
		return ProbeResult{Status: StatusUnknown, Message: bundleID + " automation state unknown (not running?)"}
	}
}

func interpretPermissionFlag(name, value string) ProbeResult {
	normalised := strings.ToLower(strings.TrimSpace(value))
	switch normalised {
	case "granted", "allow", "allowed", "yes", "true":
		return ProbeResult{Status: StatusGranted, Message: name + " permission pre-authorised via env override"}
	case "denied", "no", "false", "blocked":
		return ProbeResult{Status: StatusDenied, Message: name + " permission denied via env override", Guidance: "use 'tccutil reset' or update KEYHOLE_* env to re-test"}
	case "prompt", "ask", "pending":
		return ProbeResult{Status: StatusPromptRequired, Message: name + " permission will prompt at runtime"}
	case "unavailable", "unsupported":
		return ProbeResult{Status: StatusUnavailable, Message: name + " permission unavailable on this platform"}
	default:
		return ProbeResult{Status: StatusUnknown, Message: name + " permission state unknown"}
	}
}

// StatusString returns the string representation for status output.
func (p ProbeResult) StatusString() string {
	if p.Status == "" {
		return string(StatusUnknown)
	}
	return string(p.Status)
}
