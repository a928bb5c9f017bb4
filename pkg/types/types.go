// Package types holds the data shapes shared across the agent: the unit of
// subscription and request routing (Target), and the decoded, immutable
// description of a deployment request (Request).
package types

import "strings"

// Target names a logical group of hosts. It is the unit of subscription and
// request routing; only targets present in the configured allowed set may be
// subscribed.
type Target string

// trackingIDPrefix is scanned for in a request's argument list to extract the
// correlation id carried through vote, lifecycle, and child process.
const trackingIDPrefix = "--tracking-id="

// Request is the immutable, decoded form of a `request` bus event.
type Request struct {
	Target     Target
	Command    string
	Arguments  []string
	TrackingID string // empty if the caller omitted --tracking-id=
}

// TrackingIDFromArgs scans args for the first --tracking-id= argument and
// returns its suffix. It returns "" if no such argument is present; callers
// must treat "" as a sentinel null key, not as a valid tracking id — two
// concurrent requests with no tracking id collide by design (preserved
// upstream behavior).
func TrackingIDFromArgs(args []string) string {
	for _, a := range args {
		if strings.HasPrefix(a, trackingIDPrefix) {
			return strings.TrimPrefix(a, trackingIDPrefix)
		}
	}
	return ""
}

// IsUpdate reports whether the request's first argument is "update", the
// trigger for the graphite side-channel notification.
func (r Request) IsUpdate() bool {
	return len(r.Arguments) > 0 && r.Arguments[0] == "update"
}
