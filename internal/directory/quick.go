package directory

import (
	"fmt"

	"github.com/vantage-c2/vantage/internal/shared"
)

// QuickSession selects the fastest expected delivery channel for a target:
// the active session with the minimal polling interval. Ties break to the
// lowest session_id, which is deterministic because GetTargetByName returns
// sessions in session_id order.
func QuickSession(target Target) (Session, error) {
	var best Session
	found := false
	for _, session := range target.Sessions {
		if session.Status != SessionActive {
			continue
		}
		if !found || session.Interval < best.Interval {
			best = session
			found = true
		}
	}
	if !found {
		return Session{}, fmt.Errorf("%w: target %s", shared.ErrNoActiveSession, target.Name)
	}
	return best, nil
}
