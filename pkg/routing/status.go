package routing

import (
	"slices"

	"github.com/offlinefirst/keyhole/pkg/preferences"
)

// Policy is the persisted not-running policy.
type Policy = preferences.Policy

const (
	PolicySwallow   = preferences.PolicySwallow
	PolicyPropagate = preferences.PolicyPropagate
	PolicyLaunch    = preferences.PolicyLaunch
)

// TargetStatus describes one supported player.
type TargetStatus struct {
	BundleID  string `json:"bundle_id"`
	Name      string `json:"name"`
	Installed bool   `json:"installed"`
	State     string `json:"state"`
}

// Status is the controller snapshot delivered to observers and the control API.
type Status struct {
	Enabled                 bool           `json:"enabled"`
	Interceptor             string         `json:"interceptor"`
	Accessibility           bool           `json:"accessibility"`
	Policy                  Policy         `json:"policy"`
	PreferredTarget         string         `json:"preferred_target"`
	PreferredTargetExplicit bool           `json:"preferred_target_explicit"`
	OnboardingCompleted     bool           `json:"onboarding_completed"`
	PermissionProblem       bool           `json:"permission_problem"`
	Targets                 []TargetStatus `json:"targets"`
}

func (s Status) equal(o Status) bool {
	return s.Enabled == o.Enabled &&
		s.Interceptor == o.Interceptor &&
		s.Accessibility == o.Accessibility &&
		s.Policy == o.Policy &&
		s.PreferredTarget == o.PreferredTarget &&
		s.PreferredTargetExplicit == o.PreferredTargetExplicit &&
		s.OnboardingCompleted == o.OnboardingCompleted &&
		s.PermissionProblem == o.PermissionProblem &&
		slices.Equal(s.Targets, o.Targets)
}

// Settings is a partial update of the persisted preferences. Nil fields are left alone.
type Settings struct {
	Enabled         *bool   `json:"enabled,omitempty"`
	Policy          *Policy `json:"policy,omitempty"`
	PreferredTarget *string `json:"preferred_target,omitempty"`
}

// OnboardingResult reports the outcome of the continue action.
type OnboardingResult struct {
	// Ready is false while accessibility is missing or every player denies automation.
	Ready           bool   `json:"ready"`
	PreferredTarget string `json:"preferred_target"`
	// AutoSelected is set when this call chose PreferredTarget.
	AutoSelected bool `json:"auto_selected"`
}
