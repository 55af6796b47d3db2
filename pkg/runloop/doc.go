// Package runloop provides the delivery actor: a single goroutine locked to its OS
// thread that owns platform hook installation, event callbacks, and every piece of
// state mutated by them. Other goroutines interact with it only through Post and Call.
package runloop
