package scheduler

import (
	"time"

	"github.com/example/rail-scheduler/internal/reservation"
)

type Outcome string

const (
	Succeeded Outcome = "succeeded"
	Cancelled Outcome = "cancelled"
	Exhausted Outcome = "exhausted"
	Failed    Outcome = "failed"
)

// Result is the terminal state of a run.
type Result struct {
	Outcome     Outcome
	Candidate   *reservation.Candidate
	Attempts    int
	Reservation *reservation.Reservation
	Err         error
	// Reason is set when the run was cancelled by something other than the
	// user, such as a newer run of the same owner.
	Reason string
}

// Policy controls pacing and stopping. Zero MaxRounds and MaxDuration mean
// the run keeps polling until it books, is cancelled or hits a fatal error.
type Policy struct {
	Delay       time.Duration
	MaxRounds   int
	MaxDuration time.Duration
}

const DefaultDelay = time.Second

func DefaultPolicy() Policy { return Policy{Delay: DefaultDelay} }
