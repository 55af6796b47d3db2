package mediakeys

import "errors"

// ErrAccessibilityPermission indicates the host must grant Accessibility trust before
// the OS will install the event tap.
var ErrAccessibilityPermission = errors.New("macOS accessibility permission required for media key interception")
