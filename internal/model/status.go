package model

import "fmt"

// Status is a message delivery status. The zero value is unknown.
type Status string

const (
	StatusSent      Status = "sent"
	StatusDelivered Status = "delivered"
	StatusRead      Status = "read"
)

// Rank orders statuses: sent < delivered < read. Unknown statuses rank 0.
func (s Status) Rank() int {
	switch s {
	case StatusSent:
		return 1
	case StatusDelivered:
		return 2
	case StatusRead:
		return 3
	default:
		return 0
	}
}

// ParseStatus validates a persisted status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if st.Rank() == 0 {
		return "", &ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", s)}
	}
	return st, nil
}

// Advance returns the later of current and next. Status never regresses.
func Advance(current, next Status) Status {
	if next.Rank() > current.Rank() {
		return next
	}
	return current
}
