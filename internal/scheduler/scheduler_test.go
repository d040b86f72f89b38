package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/rail-scheduler/internal/reservation"
)

// fakeClient answers by departure time, which is unique per train in these tests.
type fakeClient struct {
	mu       sync.Mutex
	calls    []string
	searches map[string]int
	books    map[string]int

	search func(ctx context.Context, depTime string, n int) ([]reservation.Offer, error)
	book   func(ctx context.Context, o reservation.Offer, n int) (reservation.Reservation, error)
}

func newFakeClient() *fakeClient {
	return &fakeClient{searches: map[string]int{}, books: map[string]int{}}
}

func (f *fakeClient) Search(ctx context.Context, _, _, _, depTime string) ([]reservation.Offer, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "search "+depTime)
	f.searches[depTime]++
	n := f.searches[depTime]
	f.mu.Unlock()
	if f.search == nil {
		return nil, nil
	}
	return f.search(ctx, depTime, n)
}

func (f *fakeClient) Book(ctx context.Context, o reservation.Offer, _ reservation.SeatPreference) (reservation.Reservation, error) {
	f.mu.Lock()
	f.calls = append(f.calls, "book "+o.DepartureTime)
	f.books[o.DepartureTime]++
	n := f.books[o.DepartureTime]
	f.mu.Unlock()
	if f.book == nil {
		return reservation.Reservation{ID: "R-" + o.DepartureTime, TrainID: o.TrainID, DepartureTime: o.DepartureTime}, nil
	}
	return f.book(ctx, o, n)
}

func (f *fakeClient) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func train(depTime string, general reservation.SeatState) reservation.Offer {
	return reservation.Offer{
		TrainID:       "T" + depTime[:2],
		TrainName:     "KTX",
		RunDate:       "20250301",
		DepartureDate: "20250301",
		DepartureTime: depTime,
		Origin:        "서울",
		Destination:   "부산",
		General:       general,
		Special:       reservation.SeatSoldOut,
	}
}

func candidates(t *testing.T, prior ...reservation.Offer) *reservation.CandidateSet {
	t.Helper()
	sel := make([]string, len(prior))
	for i := range prior {
		sel[i] = fmt.Sprint(i)
	}
	set, defects := reservation.NewCandidateSet(prior, sel)
	require.Empty(t, defects)
	return set
}

func newTestScheduler(client reservation.BookingClient, p Policy) (*Scheduler, *Stream) {
	stream := NewStream()
	return New(client, reservation.GeneralFirst, stream, WithPolicy(p), WithLogger(slog.Default())), stream
}

func fastPolicy() Policy { return Policy{Delay: time.Millisecond} }

func kinds(events []Event) []Kind {
	out := make([]Kind, len(events))
	for i, e := range events {
		out[i] = e.Kind
	}
	return out
}

func requireSingleTerminal(t *testing.T, events []Event, want Outcome) {
	t.Helper()
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	require.True(t, last.Terminal(), "last event must be terminal: %v", last)
	assert.Equal(t, want, last.Outcome)
	for _, e := range events[:len(events)-1] {
		assert.False(t, e.Terminal(), "terminal event before the end: %v", e)
	}
	for i, e := range events {
		assert.Equal(t, i+1, e.Seq)
	}
}

func TestRun_BooksOnFirstAttempt(t *testing.T) {
	x := train("080000", reservation.SeatAvailable)
	client := newFakeClient()
	client.search = func(context.Context, string, int) ([]reservation.Offer, error) {
		return []reservation.Offer{x}, nil
	}
	set := candidates(t, x)
	s, stream := newTestScheduler(client, fastPolicy())

	res := s.Run(NewToken(context.Background()), set, nil)

	assert.Equal(t, Succeeded, res.Outcome)
	require.NotNil(t, res.Candidate)
	assert.Equal(t, 1, res.Candidate.Attempts())
	assert.Equal(t, reservation.StatusBooked, res.Candidate.Status())
	require.NotNil(t, res.Reservation)
	assert.Equal(t, "R-080000", res.Reservation.ID)
	assert.Equal(t, []string{"search 080000", "book 080000"}, client.Calls())

	events := stream.Events()
	requireSingleTerminal(t, events, Succeeded)
	assert.Equal(t, []Kind{KindInfo, KindBooked, KindTerminal}, kinds(events))
}

func TestRun_FirstSuccessShortCircuitsRound(t *testing.T) {
	x := train("080000", reservation.SeatSoldOut)
	y := train("090000", reservation.SeatAvailable)
	z := train("100000", reservation.SeatAvailable)
	client := newFakeClient()
	client.search = func(_ context.Context, dep string, n int) ([]reservation.Offer, error) {
		switch dep {
		case x.DepartureTime:
			return []reservation.Offer{x}, nil
		case y.DepartureTime:
			return []reservation.Offer{y}, nil
		}
		return []reservation.Offer{z}, nil
	}
	set := candidates(t, x, y, z)
	s, stream := newTestScheduler(client, fastPolicy())

	res := s.Run(NewToken(context.Background()), set, nil)

	assert.Equal(t, Succeeded, res.Outcome)
	assert.Equal(t, "T09", res.Candidate.TrainID())
	assert.Equal(t, []string{"search 080000", "search 090000", "book 090000"}, client.Calls(),
		"no calls may follow the booking")

	cs := set.Candidates()
	assert.Equal(t, 1, cs[0].Attempts())
	assert.Equal(t, reservation.StatusPending, cs[0].Status())
	assert.Equal(t, 0, cs[2].Attempts())
	requireSingleTerminal(t, stream.Events(), Succeeded)
}

func TestRun_AuthExpiredAtBookIsFatal(t *testing.T) {
	x := train("080000", reservation.SeatAvailable)
	client := newFakeClient()
	client.search = func(context.Context, string, int) ([]reservation.Offer, error) {
		return []reservation.Offer{x}, nil
	}
	client.book = func(context.Context, reservation.Offer, int) (reservation.Reservation, error) {
		return reservation.Reservation{}, fmt.Errorf("reserve: %w", reservation.ErrAuthExpired)
	}
	set := candidates(t, x)
	s, stream := newTestScheduler(client, fastPolicy())

	res := s.Run(NewToken(context.Background()), set, nil)

	assert.Equal(t, Failed, res.Outcome)
	assert.ErrorIs(t, res.Err, reservation.ErrAuthExpired)
	assert.Equal(t, reservation.StatusFailed, set.Candidates()[0].Status())
	assert.Equal(t, []string{"search 080000", "book 080000"}, client.Calls())

	events := stream.Events()
	requireSingleTerminal(t, events, Failed)
	assert.Contains(t, events[len(events)-1].Message, "log in again")
	assert.Equal(t, KindFatal, events[len(events)-2].Kind)
}

func TestRun_AuthExpiredFailsEveryCandidate(t *testing.T) {
	x := train("080000", reservation.SeatSoldOut)
	y := train("090000", reservation.SeatSoldOut)
	client := newFakeClient()
	client.search = func(_ context.Context, dep string, _ int) ([]reservation.Offer, error) {
		if dep == y.DepartureTime {
			return nil, &reservation.SearchError{Err: reservation.ErrAuthExpired}
		}
		return []reservation.Offer{x}, nil
	}
	set := candidates(t, x, y)
	s, _ := newTestScheduler(client, fastPolicy())

	res := s.Run(NewToken(context.Background()), set, nil)

	assert.Equal(t, Failed, res.Outcome)
	for _, c := range set.Candidates() {
		assert.Equal(t, reservation.StatusFailed, c.Status())
	}
	assert.Equal(t, []string{"search 080000", "search 090000"}, client.Calls())
}

func TestRun_CancelledBeforeStartIssuesNoCalls(t *testing.T) {
	client := newFakeClient()
	set := candidates(t, train("080000", reservation.SeatAvailable))
	token := NewToken(context.Background())
	token.Cancel()
	s, stream := newTestScheduler(client, fastPolicy())

	res := s.Run(token, set, nil)

	assert.Equal(t, Cancelled, res.Outcome)
	assert.Empty(t, client.Calls())
	requireSingleTerminal(t, stream.Events(), Cancelled)
}

func TestRun_EmptySetIsExhaustedImmediately(t *testing.T) {
	client := newFakeClient()
	set, defects := reservation.NewCandidateSet(nil, nil)
	s, stream := newTestScheduler(client, fastPolicy())

	res := s.Run(NewToken(context.Background()), set, defects)

	assert.Equal(t, Exhausted, res.Outcome)
	assert.Empty(t, client.Calls())
	events := stream.Events()
	assert.Equal(t, []Kind{KindInfo, KindTerminal}, kinds(events))
	requireSingleTerminal(t, events, Exhausted)
}

func TestRun_RoundRobinInSelectionOrder(t *testing.T) {
	x := train("080000", reservation.SeatSoldOut)
	y := train("090000", reservation.SeatSoldOut)
	z := train("100000", reservation.SeatSoldOut)
	byDep := map[string]reservation.Offer{x.DepartureTime: x, y.DepartureTime: y, z.DepartureTime: z}
	client := newFakeClient()
	client.search = func(_ context.Context, dep string, _ int) ([]reservation.Offer, error) {
		return []reservation.Offer{byDep[dep]}, nil
	}
	set, _ := reservation.NewCandidateSet([]reservation.Offer{x, y, z}, []string{"2", "0", "1"})
	s, stream := newTestScheduler(client, Policy{Delay: time.Millisecond, MaxRounds: 3})

	res := s.Run(NewToken(context.Background()), set, nil)

	assert.Equal(t, Exhausted, res.Outcome)
	assert.Equal(t, 9, res.Attempts)
	round := []string{"search 100000", "search 080000", "search 090000"}
	assert.Equal(t, append(append(append([]string{}, round...), round...), round...), client.Calls())
	for _, c := range set.Candidates() {
		assert.Equal(t, 3, c.Attempts())
		assert.Equal(t, reservation.StatusExhausted, c.Status())
	}

	events := stream.Events()
	requireSingleTerminal(t, events, Exhausted)
	var attempts []int
	for _, e := range events {
		if e.Kind == KindSoldOut && e.Candidate == set.Candidates()[0].Label() {
			attempts = append(attempts, e.Attempt)
		}
	}
	assert.Equal(t, []int{1, 2, 3}, attempts, "every event reports the attempt number")
}

func TestRun_DuplicateMatchesBookTheFirst(t *testing.T) {
	x := train("080000", reservation.SeatAvailable)
	first := x
	first.ArrivalTime = "104000"
	second := x
	second.ArrivalTime = "105000"

	var booked reservation.Offer
	client := newFakeClient()
	client.search = func(context.Context, string, int) ([]reservation.Offer, error) {
		return []reservation.Offer{train("070000", reservation.SeatAvailable), first, second}, nil
	}
	client.book = func(_ context.Context, o reservation.Offer, _ int) (reservation.Reservation, error) {
		booked = o
		return reservation.Reservation{ID: "R1"}, nil
	}
	set := candidates(t, x)
	s, stream := newTestScheduler(client, fastPolicy())

	res := s.Run(NewToken(context.Background()), set, nil)

	assert.Equal(t, Succeeded, res.Outcome)
	assert.Equal(t, "104000", booked.ArrivalTime)
	assert.Contains(t, kinds(stream.Events()), KindWarning)
}

func TestRun_DuplicateTieBreakIgnoresLaterBookableRow(t *testing.T) {
	x := train("080000", reservation.SeatSoldOut)
	later := x
	later.General = reservation.SeatAvailable

	client := newFakeClient()
	client.search = func(context.Context, string, int) ([]reservation.Offer, error) {
		return []reservation.Offer{x, later}, nil
	}
	set := candidates(t, x)
	s, _ := newTestScheduler(client, Policy{Delay: time.Millisecond, MaxRounds: 2})

	res := s.Run(NewToken(context.Background()), set, nil)

	assert.Equal(t, Exhausted, res.Outcome)
	assert.Equal(t, []string{"search 080000", "search 080000"}, client.Calls())
}

func TestRun_NoMatchAndTransientErrorsAreRetried(t *testing.T) {
	x := train("080000", reservation.SeatAvailable)
	client := newFakeClient()
	client.search = func(_ context.Context, _ string, n int) ([]reservation.Offer, error) {
		switch n {
		case 1:
			return nil, nil
		case 2:
			return nil, &reservation.SearchError{Err: errors.New("http 502")}
		default:
			return []reservation.Offer{x}, nil
		}
	}
	client.book = func(_ context.Context, o reservation.Offer, n int) (reservation.Reservation, error) {
		if n == 1 {
			return reservation.Reservation{}, reservation.ErrSoldOut
		}
		return reservation.Reservation{ID: "R1"}, nil
	}
	set := candidates(t, x)
	s, stream := newTestScheduler(client, fastPolicy())

	res := s.Run(NewToken(context.Background()), set, nil)

	assert.Equal(t, Succeeded, res.Outcome)
	assert.Equal(t, 4, res.Candidate.Attempts())
	assert.Equal(t,
		[]Kind{KindInfo, KindRetry, KindSearchError, KindSoldOut, KindBooked, KindTerminal},
		kinds(stream.Events()))
}

func TestRun_UnclassifiedBookErrorEndsRun(t *testing.T) {
	x := train("080000", reservation.SeatAvailable)
	y := train("090000", reservation.SeatAvailable)
	client := newFakeClient()
	client.search = func(_ context.Context, dep string, _ int) ([]reservation.Offer, error) {
		if dep == x.DepartureTime {
			return []reservation.Offer{x}, nil
		}
		return []reservation.Offer{y}, nil
	}
	client.book = func(context.Context, reservation.Offer, int) (reservation.Reservation, error) {
		return reservation.Reservation{}, errors.New("payment step rejected")
	}
	set := candidates(t, x, y)
	s, stream := newTestScheduler(client, fastPolicy())

	res := s.Run(NewToken(context.Background()), set, nil)

	assert.Equal(t, Failed, res.Outcome)
	assert.EqualError(t, res.Err, "payment step rejected")
	assert.Equal(t, reservation.StatusFailed, set.Candidates()[0].Status())
	assert.Equal(t, []string{"search 080000", "book 080000"}, client.Calls())

	events := stream.Events()
	requireSingleTerminal(t, events, Failed)
	assert.Contains(t, events[len(events)-1].Message, "payment step rejected")
}

func TestRun_UnclassifiedSearchErrorEndsRun(t *testing.T) {
	x := train("080000", reservation.SeatAvailable)
	y := train("090000", reservation.SeatAvailable)
	client := newFakeClient()
	client.search = func(_ context.Context, dep string, _ int) ([]reservation.Offer, error) {
		if dep == x.DepartureTime {
			return nil, errors.New("backend exploded")
		}
		return []reservation.Offer{y}, nil
	}
	set := candidates(t, x, y)
	s, stream := newTestScheduler(client, Policy{Delay: time.Millisecond, MaxRounds: 3})

	res := s.Run(NewToken(context.Background()), set, nil)

	assert.Equal(t, Failed, res.Outcome)
	assert.EqualError(t, res.Err, "backend exploded")
	assert.Equal(t, reservation.StatusFailed, set.Candidates()[0].Status())
	assert.Equal(t, []string{"search 080000"}, client.Calls())

	events := stream.Events()
	requireSingleTerminal(t, events, Failed)
	assert.NotContains(t, kinds(events), KindSearchError)
	assert.Equal(t, []Kind{KindInfo, KindFatal, KindTerminal}, kinds(events))
}

func TestRun_DeadlineFromSearchIsRetried(t *testing.T) {
	x := train("080000", reservation.SeatAvailable)
	client := newFakeClient()
	client.search = func(_ context.Context, _ string, n int) ([]reservation.Offer, error) {
		if n == 1 {
			return nil, fmt.Errorf("query: %w", context.DeadlineExceeded)
		}
		return []reservation.Offer{x}, nil
	}
	set := candidates(t, x)
	s, stream := newTestScheduler(client, fastPolicy())

	res := s.Run(NewToken(context.Background()), set, nil)

	assert.Equal(t, Succeeded, res.Outcome)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, []Kind{KindInfo, KindSearchError, KindBooked, KindTerminal}, kinds(stream.Events()))
}

func TestRun_MalformedSelectionsAreReportedAndSkipped(t *testing.T) {
	x := train("080000", reservation.SeatAvailable)
	client := newFakeClient()
	client.search = func(context.Context, string, int) ([]reservation.Offer, error) {
		return []reservation.Offer{x}, nil
	}
	set, defects := reservation.NewCandidateSet([]reservation.Offer{x}, []string{"5", "0"})
	require.Len(t, defects, 1)
	s, stream := newTestScheduler(client, fastPolicy())

	res := s.Run(NewToken(context.Background()), set, defects)

	assert.Equal(t, Succeeded, res.Outcome)
	events := stream.Events()
	assert.Equal(t, KindSkipped, events[0].Kind)
	assert.Contains(t, events[0].Message, `"5"`)
}

func TestRun_MaxDurationExhausts(t *testing.T) {
	x := train("080000", reservation.SeatSoldOut)
	client := newFakeClient()
	client.search = func(context.Context, string, int) ([]reservation.Offer, error) {
		return []reservation.Offer{x}, nil
	}
	set := candidates(t, x)
	s, stream := newTestScheduler(client, Policy{MaxDuration: time.Minute})
	clock := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(25 * time.Second)
		return clock
	}

	res := s.Run(NewToken(context.Background()), set, nil)

	assert.Equal(t, Exhausted, res.Outcome)
	assert.Equal(t, 2, set.Candidates()[0].Attempts())
	requireSingleTerminal(t, stream.Events(), Exhausted)
}

func TestRun_CancelDuringDelayIsPrompt(t *testing.T) {
	x := train("080000", reservation.SeatSoldOut)
	searched := make(chan struct{}, 1)
	client := newFakeClient()
	client.search = func(context.Context, string, int) ([]reservation.Offer, error) {
		searched <- struct{}{}
		return []reservation.Offer{x}, nil
	}
	set := candidates(t, x)
	s, stream := newTestScheduler(client, Policy{Delay: time.Hour})
	token := NewToken(context.Background())

	done := make(chan Result, 1)
	go func() { done <- s.Run(token, set, nil) }()

	<-searched
	start := time.Now()
	token.Cancel()

	select {
	case res := <-done:
		assert.Equal(t, Cancelled, res.Outcome)
		assert.Less(t, time.Since(start), time.Second)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	assert.Equal(t, []string{"search 080000"}, client.Calls())
	requireSingleTerminal(t, stream.Events(), Cancelled)
}

func TestRun_CancelAbortsInFlightCall(t *testing.T) {
	started := make(chan struct{})
	client := newFakeClient()
	client.search = func(ctx context.Context, _ string, _ int) ([]reservation.Offer, error) {
		close(started)
		<-ctx.Done()
		return nil, &reservation.SearchError{Err: ctx.Err()}
	}
	set := candidates(t, train("080000", reservation.SeatSoldOut))
	s, stream := newTestScheduler(client, Policy{Delay: time.Hour})
	token := NewToken(context.Background())

	done := make(chan Result, 1)
	go func() { done <- s.Run(token, set, nil) }()

	<-started
	token.Cancel()

	select {
	case res := <-done:
		assert.Equal(t, Cancelled, res.Outcome)
	case <-time.After(5 * time.Second):
		t.Fatal("run did not stop after cancel")
	}
	assert.NotContains(t, kinds(stream.Events()), KindSearchError)
}

func TestRun_CancelBeforeBookSkipsBooking(t *testing.T) {
	x := train("080000", reservation.SeatAvailable)
	token := NewToken(context.Background())
	client := newFakeClient()
	client.search = func(context.Context, string, int) ([]reservation.Offer, error) {
		token.Cancel()
		return []reservation.Offer{x}, nil
	}
	set := candidates(t, x)
	s, _ := newTestScheduler(client, fastPolicy())

	res := s.Run(token, set, nil)

	assert.Equal(t, Cancelled, res.Outcome)
	assert.Equal(t, []string{"search 080000"}, client.Calls())
}

func TestToken_CancelIsIdempotent(t *testing.T) {
	once := NewToken(context.Background())
	twice := NewToken(context.Background())

	once.Cancel()
	twice.Cancel()
	twice.Cancel()

	assert.True(t, once.Cancelled())
	assert.True(t, twice.Cancelled())

	run := func(tok *Token) (Result, []string) {
		client := newFakeClient()
		s, _ := newTestScheduler(client, fastPolicy())
		return s.Run(tok, candidates(t, train("080000", reservation.SeatAvailable)), nil), client.Calls()
	}
	r1, c1 := run(once)
	r2, c2 := run(twice)
	assert.Equal(t, r1.Outcome, r2.Outcome)
	assert.Equal(t, c1, c2)
}

func TestToken_FirstCancelKeepsItsReason(t *testing.T) {
	user := NewToken(context.Background())
	user.Cancel()
	user.CancelWithReason("superseded")
	assert.Empty(t, user.Reason())

	replaced := NewToken(context.Background())
	replaced.CancelWithReason("superseded")
	replaced.Cancel()
	assert.True(t, replaced.Cancelled())
	assert.Equal(t, "superseded", replaced.Reason())
}

func TestToken_RunsAreIsolated(t *testing.T) {
	a := NewToken(context.Background())
	b := NewToken(context.Background())

	a.Cancel()

	assert.True(t, a.Cancelled())
	assert.False(t, b.Cancelled())
	select {
	case <-b.Done():
		t.Fatal("cancelling one token must not cancel another")
	default:
	}
}

func TestToken_ParentCancelPropagates(t *testing.T) {
	parent, cancel := context.WithCancel(context.Background())
	tok := NewToken(parent)
	cancel()
	assert.True(t, tok.Cancelled())
}

func TestStream_NextWaitsAndEndsWithEOF(t *testing.T) {
	s := NewStream()
	ctx := context.Background()

	got := make(chan []Event, 1)
	go func() {
		evs, err := s.Next(ctx, 0)
		assert.NoError(t, err)
		got <- evs
	}()

	s.append(Event{Kind: KindInfo, Message: "hello"})
	select {
	case evs := <-got:
		require.Len(t, evs, 1)
		assert.Equal(t, 1, evs[0].Seq)
	case <-time.After(5 * time.Second):
		t.Fatal("Next did not wake up")
	}

	s.append(Event{Kind: KindTerminal, Outcome: Exhausted, Message: "done"})
	s.append(Event{Kind: KindInfo, Message: "ignored after terminal"})

	evs, err := s.Next(ctx, 1)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.True(t, evs[0].Terminal())

	_, err = s.Next(ctx, 2)
	assert.ErrorIs(t, err, io.EOF)
	assert.Len(t, s.Events(), 2)
	assert.True(t, s.Closed())
}

func TestStream_NextHonoursContext(t *testing.T) {
	s := NewStream()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := s.Next(ctx, 0)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStream_NextNegativeAfterReadsFromStart(t *testing.T) {
	s := NewStream()
	s.append(Event{Kind: KindInfo, Message: "first"})

	got, err := s.Next(context.Background(), -1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Seq)
}

func TestEvent_String(t *testing.T) {
	e := Event{Candidate: "KTX 101 08:00 서울→부산", Attempt: 3, Message: "sold out, retrying in 1s"}
	assert.Equal(t, "[KTX 101 08:00 서울→부산] (attempt 3) sold out, retrying in 1s", e.String())
	assert.Equal(t, "run cancelled by user", Event{Message: "run cancelled by user"}.String())
}
