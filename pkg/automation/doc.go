// Package automation tracks whether keyhole may script each supported player and
// exposes the commands it sends them.
//
// A Session follows one target application through four states (not running,
// running but denied, running with the decision pending, running and granted).
// Sessions are owned by the delivery loop: construct them, read them and call
// AttemptToGainAccess on the loop thread. Observers are called there too.
package automation
