package reservation

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrSoldOut     = errors.New("sold out")
	ErrAuthExpired = errors.New("authentication expired, log in again")
)

// SearchError reports a failed backend query. It is transient: the scheduler
// counts the attempt and tries again on the next round.
type SearchError struct {
	Err error
}

func (e *SearchError) Error() string { return fmt.Sprintf("search failed: %v", e.Err) }
func (e *SearchError) Unwrap() error { return e.Err }

// MalformedCandidateError rejects one raw selection; the rest of the run goes on.
type MalformedCandidateError struct {
	Selection string
	Reason    string
}

func (e *MalformedCandidateError) Error() string {
	return fmt.Sprintf("selection %q skipped: %s", e.Selection, e.Reason)
}

type ErrorClass int

const (
	Unclassified ErrorClass = iota
	Transient
	SoldOut
	AuthExpired
)

func (c ErrorClass) String() string {
	switch c {
	case Transient:
		return "transient"
	case SoldOut:
		return "sold_out"
	case AuthExpired:
		return "auth_expired"
	default:
		return "unclassified"
	}
}

// Classify maps a BookingClient error onto the scheduler's taxonomy.
// AuthExpired wins over everything else.
func Classify(err error) ErrorClass {
	var se *SearchError
	switch {
	case errors.Is(err, ErrAuthExpired):
		return AuthExpired
	case errors.Is(err, ErrSoldOut):
		return SoldOut
	case errors.As(err, &se):
		return Transient
	case errors.Is(err, context.DeadlineExceeded):
		return Transient
	default:
		return Unclassified
	}
}
