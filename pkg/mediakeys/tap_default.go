//go:build !darwin

package mediakeys

// syntheticTap installs without touching the OS. Events reach the interceptor only
// through Interceptor.Deliver, which keeps the routing pipeline usable off macOS.
type syntheticTap struct {
	installed bool
	enabled   bool
}

func newDefaultTap() Tap {
	return &syntheticTap{}
}

func (s *syntheticTap) Install(_ uintptr, _ func(RawEvent) Result) error {
	s.installed = true
	s.enabled = true
	return nil
}

func (s *syntheticTap) Enable() {
	if s.installed {
		s.enabled = true
	}
}

func (s *syntheticTap) Uninstall() {
	s.installed = false
	s.enabled = false
}
