// Package mediakeys intercepts hardware media keys through a system-wide event tap
// (a Quartz CGEventTap on macOS, a synthetic injection-only tap elsewhere) and hands
// decoded key transitions to a single handler that decides whether the original
// event keeps propagating.
package mediakeys
