// Lead lifecycle state machine.
//
// Valid status graph:
//
//	NEW ──► REVIEWED ──► CONVERTED
//	 │          │
//	 ├──────────┴──► DISMISSED
//	 └──► CONVERTED
//
// CONVERTED and DISMISSED are terminal states. A lead may be converted
// straight from NEW; converting an already-converted lead is rejected, which
// is what makes the conversion operation idempotent at the API boundary.
package model

import "fmt"

// Status values mirror the lead_status enum in PostgreSQL.
type Status string

const (
	StatusNew       Status = "NEW"
	StatusReviewed  Status = "REVIEWED"
	StatusConverted Status = "CONVERTED"
	StatusDismissed Status = "DISMISSED"
)

// validTransitions lists every allowed (from → to) pair.
var validTransitions = map[Status][]Status{
	StatusNew:      {StatusReviewed, StatusConverted, StatusDismissed},
	StatusReviewed: {StatusConverted, StatusDismissed},
	// CONVERTED and DISMISSED are terminal — no outgoing transitions
}

// ParseStatus converts a raw string to a Status, returning an error for
// unknown values.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	switch st {
	case StatusNew, StatusReviewed, StatusConverted, StatusDismissed:
		return st, nil
	}
	return "", fmt.Errorf("unknown lead status %q", s)
}

// IsTransitionAllowed returns true when moving from → to is permitted by the
// state machine.
func IsTransitionAllowed(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false // terminal state — no outgoing transitions
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true for statuses with no outgoing transitions.
func IsTerminal(s Status) bool {
	_, ok := validTransitions[s]
	return !ok
}
