package event

import "fmt"

// Reason classifies why a raw record could not become an Event.
type Reason string

const (
	MissingCoordinates    Reason = "MissingCoordinates"
	InvalidCoordinates    Reason = "InvalidCoordinates"
	InvalidDate           Reason = "InvalidDate"
	InconsistentDateRange Reason = "InconsistentDateRange"
	MissingIdentifier     Reason = "MissingIdentifier"
)

// Reasons lists every rejection reason in check order.
var Reasons = []Reason{
	MissingCoordinates,
	InvalidCoordinates,
	InvalidDate,
	InconsistentDateRange,
	MissingIdentifier,
}

// Rejection is a per-record normalization outcome. It is data, not an error:
// the loader counts it and moves on.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) String() string {
	if r.Detail == "" {
		return string(r.Reason)
	}
	return string(r.Reason) + ": " + r.Detail
}

func reject(reason Reason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}
