package automation

import "errors"

var (
	// ErrAppNotRunning covers every case where the target cannot be reached,
	// including a permission check that could not complete.
	ErrAppNotRunning = errors.New("application is not running")
	// ErrAutomationPending means the user has not yet answered the consent prompt.
	ErrAutomationPending = errors.New("automation permission pending")
	// ErrAutomationDenied means the user refused automation for this target.
	ErrAutomationDenied = errors.New("automation permission denied")
	// ErrHandleInvalidated is returned by commands sent through a handle whose
	// session has since left the granted state.
	ErrHandleInvalidated = errors.New("automation handle invalidated")
	// ErrUnknownTarget is returned for bundle identifiers missing from the registry.
	ErrUnknownTarget = errors.New("unknown target application")
)
