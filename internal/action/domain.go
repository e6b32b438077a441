// Package action owns the command queue: action records, their lifecycle and
// session binding.
package action

import "time"

// Lifecycle states. Queued is initial; Cancelled and Retrieved are terminal.
// Exactly one terminal transition ever wins (conditional update in storage).
const (
	StatusQueued    = "queued"
	StatusCancelled = "cancelled"
	StatusRetrieved = "retrieved"
)

// OwnerNone marks actions created without a resolvable operator identity.
const OwnerNone = "no owner"

// Action is a queued command addressed to a target, optionally bound to a
// specific delivery session.
type Action struct {
	ActionID       string
	TargetName     string
	ActionString   string
	Type           string
	Fields         map[string]string
	BoundSessionID string
	QueueTime      time.Time
	Owner          string
	Status         string
	RetrievedBy    string
	RetrievedAt    *time.Time
}

// Document is the read model returned by get_action/list_actions.
type Document struct {
	ActionID       string            `json:"action_id"`
	TargetName     string            `json:"target_name"`
	ActionString   string            `json:"action_string"`
	ActionType     string            `json:"action_type"`
	Fields         map[string]string `json:"fields,omitempty"`
	BoundSessionID string            `json:"bound_session_id,omitempty"`
	QueueTime      time.Time         `json:"queue_time"`
	Owner          string            `json:"owner"`
	Status         string            `json:"status"`
	RetrievedBy    string            `json:"retrieved_by,omitempty"`
	RetrievedAt    *time.Time        `json:"retrieved_at,omitempty"`
}

// AsDocument converts an action to its read model.
func (a Action) AsDocument() Document {
	return Document{
		ActionID:       a.ActionID,
		TargetName:     a.TargetName,
		ActionString:   a.ActionString,
		ActionType:     a.Type,
		Fields:         a.Fields,
		BoundSessionID: a.BoundSessionID,
		QueueTime:      a.QueueTime,
		Owner:          a.Owner,
		Status:         a.Status,
		RetrievedBy:    a.RetrievedBy,
		RetrievedAt:    a.RetrievedAt,
	}
}
