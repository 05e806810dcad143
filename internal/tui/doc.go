// Package tui implements the live status dashboard of labelctl.
//
// The dashboard renders a Snapshot from a Source every refresh interval and,
// when running inside the daemon, also follows tunnel state changes and the
// log stream as they happen.
//
// Key bindings:
//
//	r        rescan printers
//	c        copy the public URL of the headline tunnel
//	l        toggle the log pane
//	h        toggle help
//	q        quit
package tui
