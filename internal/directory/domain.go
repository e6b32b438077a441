// Package directory exposes read-only Target/Session lookups. Targets and
// sessions are written by the listener plane; the control-plane core only
// reads them to validate and bind actions.
package directory

import "time"

// Session statuses as reported by the listener plane.
const (
	SessionActive   = "active"
	SessionInactive = "inactive"
)

// Session is a delivery/polling channel to a target.
type Session struct {
	SessionID   string
	TargetName  string
	Status      string
	Interval    float64 // polling period in seconds
	LastCheckin time.Time
}

// Target aggregates the sessions of one remote endpoint.
type Target struct {
	Name     string
	Sessions []Session
}
