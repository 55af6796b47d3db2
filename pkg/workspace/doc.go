// Package workspace observes player application lifecycles: where a bundle is
// installed, whether it is running, and when it launches or quits. It also launches
// bundles in the background and forwards host activation signals.
package workspace
