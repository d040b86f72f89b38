package reservation

import (
	"strconv"
	"strings"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusBooked    Status = "booked"
	StatusExhausted Status = "exhausted"
	StatusFailed    Status = "failed"
)

func (s Status) Terminal() bool { return s != StatusPending }

// Candidate is one user-selected departure being pursued in a run.
// Identity is fixed at construction; only attempt state changes.
type Candidate struct {
	trainID     string
	trainType   string
	trainName   string
	runDate     string
	depDate     string
	depTime     string
	origin      string
	destination string

	attempts int
	status   Status
}

func newCandidate(o Offer) *Candidate {
	return &Candidate{
		trainID:     o.TrainID,
		trainType:   o.TrainType,
		trainName:   o.TrainName,
		runDate:     o.RunDate,
		depDate:     o.DepartureDate,
		depTime:     o.DepartureTime,
		origin:      o.Origin,
		destination: o.Destination,
		status:      StatusPending,
	}
}

func (c *Candidate) TrainID() string       { return c.trainID }
func (c *Candidate) RunDate() string       { return c.runDate }
func (c *Candidate) DepartureTime() string { return c.depTime }
func (c *Candidate) Origin() string        { return c.origin }
func (c *Candidate) Destination() string   { return c.destination }
func (c *Candidate) Attempts() int         { return c.attempts }
func (c *Candidate) Status() Status        { return c.status }

// SearchDate is the date to re-query with; the departure date when known,
// otherwise the run date.
func (c *Candidate) SearchDate() string {
	if c.depDate != "" {
		return c.depDate
	}
	return c.runDate
}

func (c *Candidate) Label() string {
	return label(c.trainName, c.trainID, c.depTime, c.origin, c.destination)
}

// BeginAttempt counts one poll round for c and returns the new count.
func (c *Candidate) BeginAttempt() int {
	c.attempts++
	return c.attempts
}

func (c *Candidate) MarkBooked() bool    { return c.transition(StatusBooked) }
func (c *Candidate) MarkExhausted() bool { return c.transition(StatusExhausted) }
func (c *Candidate) MarkFailed() bool    { return c.transition(StatusFailed) }

func (c *Candidate) transition(to Status) bool {
	if c.status != StatusPending {
		return false
	}
	c.status = to
	return true
}

// CandidateSet keeps candidates in selection order, which is the round-robin order.
type CandidateSet struct {
	candidates []*Candidate
}

// NewCandidateSet converts raw selections (indices into prior) into
// candidates. A bad entry yields a *MalformedCandidateError and is skipped.
func NewCandidateSet(prior []Offer, selections []string) (*CandidateSet, []error) {
	set := &CandidateSet{}
	var defects []error
	seen := make(map[int]bool, len(selections))
	for _, raw := range selections {
		sel := strings.TrimSpace(raw)
		idx, err := strconv.Atoi(sel)
		if err != nil {
			defects = append(defects, &MalformedCandidateError{Selection: raw, Reason: "not a result index"})
			continue
		}
		if idx < 0 || idx >= len(prior) {
			defects = append(defects, &MalformedCandidateError{Selection: raw, Reason: "index out of range"})
			continue
		}
		if seen[idx] {
			defects = append(defects, &MalformedCandidateError{Selection: raw, Reason: "selected twice"})
			continue
		}
		if field := missingIdentity(prior[idx]); field != "" {
			defects = append(defects, &MalformedCandidateError{Selection: raw, Reason: "missing " + field})
			continue
		}
		seen[idx] = true
		set.candidates = append(set.candidates, newCandidate(prior[idx]))
	}
	return set, defects
}

func missingIdentity(o Offer) string {
	switch {
	case o.TrainID == "":
		return "train id"
	case o.RunDate == "":
		return "run date"
	case o.DepartureTime == "":
		return "departure time"
	case o.Origin == "":
		return "origin"
	case o.Destination == "":
		return "destination"
	}
	return ""
}

func (s *CandidateSet) Len() int { return len(s.candidates) }

// Candidates returns the candidates in round-robin order.
func (s *CandidateSet) Candidates() []*Candidate { return s.candidates }

func (s *CandidateSet) Pending() int {
	n := 0
	for _, c := range s.candidates {
		if c.status == StatusPending {
			n++
		}
	}
	return n
}

// FailAll marks every pending candidate failed; used when the session is gone.
func (s *CandidateSet) FailAll() {
	for _, c := range s.candidates {
		c.MarkFailed()
	}
}
