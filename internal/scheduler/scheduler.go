package scheduler

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/example/rail-scheduler/internal/reservation"
)

// Scheduler drives one run: it polls the backend for each pending candidate
// in selection order, one attempt per candidate per round, and stops on the
// first booking, on cancellation or on a fatal error. Attempts are strictly
// sequential.
//
// Cancellation is observed before every search, before every book and during
// the inter-attempt delay, and the token's context aborts in-flight calls, so
// a cancelled run stops within one backend call plus one delay.
type Scheduler struct {
	client reservation.BookingClient
	pref   reservation.SeatPreference
	policy Policy
	stream *Stream
	logger *slog.Logger
	now    func() time.Time
}

type Option func(*Scheduler)

func WithPolicy(p Policy) Option       { return func(s *Scheduler) { s.policy = p } }
func WithLogger(l *slog.Logger) Option { return func(s *Scheduler) { s.logger = l } }

func New(client reservation.BookingClient, pref reservation.SeatPreference, stream *Stream, opts ...Option) *Scheduler {
	s := &Scheduler{
		client: client,
		pref:   pref,
		policy: DefaultPolicy(),
		stream: stream,
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run executes the run to completion and returns its terminal state. defects
// are the selections rejected while building set; each is reported as a
// skipped event before polling starts. The stream always ends with exactly
// one terminal event.
func (s *Scheduler) Run(token *Token, set *reservation.CandidateSet, defects []error) Result {
	runsActive.Inc()
	defer runsActive.Dec()
	defer token.release()

	res := s.run(token, set, defects)
	if res.Outcome == Cancelled {
		res.Reason = token.Reason()
	}
	runsTotal.WithLabelValues(string(res.Outcome)).Inc()
	s.finish(res)
	return res
}

func (s *Scheduler) run(token *Token, set *reservation.CandidateSet, defects []error) Result {
	for _, d := range defects {
		s.stream.append(Event{Kind: KindSkipped, Message: d.Error()})
	}
	if set.Len() == 0 {
		s.stream.append(Event{Kind: KindInfo, Message: "nothing to do: no candidates selected"})
		return Result{Outcome: Exhausted}
	}
	s.stream.append(Event{Kind: KindInfo, Message: fmt.Sprintf("polling %d candidate(s), %s between attempts", set.Len(), s.policy.Delay)})

	var deadline time.Time
	if s.policy.MaxDuration > 0 {
		deadline = s.now().Add(s.policy.MaxDuration)
	}

	for round := 1; ; round++ {
		if s.policy.MaxRounds > 0 && round > s.policy.MaxRounds {
			return s.exhaust(set, fmt.Sprintf("stopping after %d round(s)", s.policy.MaxRounds))
		}
		for _, c := range set.Candidates() {
			if c.Status().Terminal() {
				continue
			}
			if token.Cancelled() {
				return s.cancelled(set)
			}
			if !deadline.IsZero() && !s.now().Before(deadline) {
				return s.exhaust(set, fmt.Sprintf("stopping after %s", s.policy.MaxDuration))
			}
			if res, done := s.attempt(token, set, c); done {
				return res
			}
			if !s.wait(token) {
				return s.cancelled(set)
			}
		}
		if set.Pending() == 0 {
			return Result{Outcome: Exhausted, Attempts: totalAttempts(set)}
		}
	}
}

// attempt performs one search (and possibly one book) for c. done reports
// that the run has reached a terminal state.
func (s *Scheduler) attempt(token *Token, set *reservation.CandidateSet, c *reservation.Candidate) (res Result, done bool) {
	n := c.BeginAttempt()

	ctx, span := otel.Tracer("scheduler").Start(token.Context(), "scheduler.attempt")
	defer span.End()
	span.SetAttributes(
		attribute.String("train.id", c.TrainID()),
		attribute.String("train.run_date", c.RunDate()),
		attribute.String("train.departure_time", c.DepartureTime()),
		attribute.Int("attempt", n),
	)

	offers, err := s.client.Search(ctx, c.Origin(), c.Destination(), c.SearchDate(), c.DepartureTime())
	if err != nil {
		if token.Cancelled() {
			return s.cancelled(set), true
		}
		switch reservation.Classify(err) {
		case reservation.AuthExpired:
			set.FailAll()
			return s.fatal(span, c, n, err), true
		case reservation.Unclassified:
			c.MarkFailed()
			return s.fatal(span, c, n, err), true
		}
		span.RecordError(err)
		s.note(c, n, KindSearchError, "search_error", fmt.Sprintf("%v, retrying", err))
		return Result{}, false
	}

	offer, ok, ambiguous := reservation.ChooseOffer(c, offers)
	if !ok {
		s.note(c, n, KindRetry, "no_match", "not in search results, searching again")
		return Result{}, false
	}
	if ambiguous {
		s.note(c, n, KindWarning, "", fmt.Sprintf("%d rows match this train, using the first", len(reservation.Match(c, offers))))
	}
	if !offer.Bookable(s.pref) {
		s.note(c, n, KindSoldOut, "sold_out", fmt.Sprintf("sold out, retrying in %s", s.policy.Delay))
		return Result{}, false
	}

	if token.Cancelled() {
		return s.cancelled(set), true
	}
	r, err := s.client.Book(ctx, offer, s.pref)
	if err == nil {
		c.MarkBooked()
		attemptsTotal.WithLabelValues("booked").Inc()
		s.stream.append(Event{Kind: KindBooked, Candidate: c.Label(), Attempt: n, Message: bookedMessage(r)})
		return Result{Outcome: Succeeded, Candidate: c, Attempts: n, Reservation: &r}, true
	}
	if token.Cancelled() {
		return s.cancelled(set), true
	}

	switch reservation.Classify(err) {
	case reservation.SoldOut:
		s.note(c, n, KindSoldOut, "sold_out", fmt.Sprintf("sold out at booking, retrying in %s", s.policy.Delay))
		return Result{}, false
	case reservation.AuthExpired:
		set.FailAll()
	default:
		c.MarkFailed()
	}
	return s.fatal(span, c, n, err), true
}

func (s *Scheduler) note(c *reservation.Candidate, n int, kind Kind, outcome, msg string) {
	if outcome != "" {
		attemptsTotal.WithLabelValues(outcome).Inc()
	}
	e := s.stream.append(Event{Kind: kind, Candidate: c.Label(), Attempt: n, Message: msg})
	s.logger.Debug("attempt", slog.String("candidate", e.Candidate), slog.Int("attempt", n), slog.String("kind", string(kind)), slog.String("message", msg))
}

func (s *Scheduler) fatal(span trace.Span, c *reservation.Candidate, n int, err error) Result {
	outcome := "error"
	if errors.Is(err, reservation.ErrAuthExpired) {
		outcome = "auth_expired"
	}
	attemptsTotal.WithLabelValues(outcome).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	s.stream.append(Event{Kind: KindFatal, Candidate: c.Label(), Attempt: n, Message: err.Error()})
	return Result{Outcome: Failed, Candidate: c, Attempts: n, Err: err}
}

func (s *Scheduler) cancelled(set *reservation.CandidateSet) Result {
	return Result{Outcome: Cancelled, Attempts: totalAttempts(set)}
}

func (s *Scheduler) exhaust(set *reservation.CandidateSet, why string) Result {
	for _, c := range set.Candidates() {
		c.MarkExhausted()
	}
	s.stream.append(Event{Kind: KindInfo, Message: why})
	return Result{Outcome: Exhausted, Attempts: totalAttempts(set)}
}

// wait sleeps for the policy delay. It returns false as soon as the token
// is cancelled.
func (s *Scheduler) wait(token *Token) bool {
	if s.policy.Delay <= 0 {
		return !token.Cancelled()
	}
	t := time.NewTimer(s.policy.Delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-token.Done():
		return false
	}
}

func (s *Scheduler) finish(res Result) {
	e := Event{Kind: KindTerminal, Outcome: res.Outcome, Message: terminalMessage(res)}
	if res.Candidate != nil {
		e.Candidate = res.Candidate.Label()
		e.Attempt = res.Attempts
	}
	s.stream.append(e)

	attrs := []any{slog.String("outcome", string(res.Outcome)), slog.Int("attempts", res.Attempts)}
	if res.Err != nil {
		attrs = append(attrs, slog.String("error", res.Err.Error()))
		s.logger.Warn("run finished", attrs...)
		return
	}
	s.logger.Info("run finished", attrs...)
}

func terminalMessage(res Result) string {
	switch res.Outcome {
	case Succeeded:
		return fmt.Sprintf("run complete: booked after %d attempt(s)", res.Attempts)
	case Cancelled:
		if res.Reason != "" {
			return "run cancelled: " + res.Reason
		}
		return "run cancelled by user"
	case Failed:
		if errors.Is(res.Err, reservation.ErrAuthExpired) {
			return "run failed: session expired, log in again and start a new run"
		}
		return fmt.Sprintf("run failed: %v", res.Err)
	default:
		return "run complete: no seat booked"
	}
}

func bookedMessage(r reservation.Reservation) string {
	msg := "booked"
	if r.Class != "" {
		msg += " (" + string(r.Class) + ")"
	}
	if r.ID != "" {
		msg += ", reservation " + r.ID
	}
	return msg
}

func totalAttempts(set *reservation.CandidateSet) int {
	n := 0
	for _, c := range set.Candidates() {
		n += c.Attempts()
	}
	return n
}
