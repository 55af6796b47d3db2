//go:build !linux && !darwin

package runloop

// OnLoop needs the identity of the calling OS thread, which keyhole only knows how
// to read on Linux and macOS. Other platforms fail to build here instead of
// panicking at runtime on every on-loop precondition.
var _ = runloop_supports_only_linux_and_darwin
