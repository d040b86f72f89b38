package runs

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/example/rail-scheduler/internal/reservation"
	"github.com/example/rail-scheduler/internal/scheduler"
)

var (
	ErrNotFound = errors.New("run not found")
	ErrClosed   = errors.New("run manager is shutting down")
)

// Notifier is told about every finished run.
type Notifier interface {
	Notify(ctx context.Context, run *Run, res scheduler.Result) error
}

// Run is one started scheduler run. The stream outlives the run so late
// consumers can still read the whole log until the run is pruned.
type Run struct {
	ID      string
	Owner   string
	Started time.Time
	Stream  *scheduler.Stream

	token *scheduler.Token
	done  chan struct{}

	mu       sync.Mutex
	result   scheduler.Result
	finished time.Time
}

func (r *Run) Cancel() { r.token.Cancel() }

func (r *Run) Done() <-chan struct{} { return r.done }

// Result returns the terminal state once the run has finished.
func (r *Run) Result() (scheduler.Result, bool) {
	select {
	case <-r.done:
	default:
		return scheduler.Result{}, false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.result, true
}

func (r *Run) finishedAt() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished, !r.finished.IsZero()
}

// Manager owns the runs of all users. Each owner has at most one active run;
// starting another cancels the previous one.
type Manager struct {
	parent    context.Context
	policy    scheduler.Policy
	retention time.Duration
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time

	mu     sync.Mutex
	runs   map[string]*Run
	active map[string]*Run
	closed bool
	wg     sync.WaitGroup
}

type Option func(*Manager)

func WithPolicy(p scheduler.Policy) Option  { return func(m *Manager) { m.policy = p } }
func WithRetention(d time.Duration) Option  { return func(m *Manager) { m.retention = d } }
func WithNotifier(n Notifier) Option        { return func(m *Manager) { m.notifier = n } }
func WithLogger(l *slog.Logger) Option      { return func(m *Manager) { m.logger = l } }
func withClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// NewManager returns a manager whose runs are all cancelled when parent is.
func NewManager(parent context.Context, opts ...Option) *Manager {
	m := &Manager{
		parent:    parent,
		policy:    scheduler.DefaultPolicy(),
		retention: 30 * time.Minute,
		logger:    slog.Default(),
		now:       time.Now,
		runs:      map[string]*Run{},
		active:    map[string]*Run{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start builds the candidate set from selections (indexes into prior) and
// launches the scheduler on its own goroutine. client is owned by the run
// from here on. Malformed selections do not fail Start; they show up as
// skipped events at the head of the stream.
func (m *Manager) Start(owner string, prior []reservation.Offer, selections []string, pref reservation.SeatPreference, client reservation.BookingClient) (*Run, error) {
	if client == nil {
		return nil, errors.New("runs: nil booking client")
	}
	set, defects := reservation.NewCandidateSet(prior, selections)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	m.pruneLocked()
	id := uuid.NewString()
	if prev, ok := m.active[owner]; ok {
		prev.token.CancelWithReason("superseded by run " + id)
		m.logger.Info("previous run cancelled", slog.String("run_id", prev.ID), slog.String("owner", owner), slog.String("superseded_by", id))
	}
	run := &Run{
		ID:      id,
		Owner:   owner,
		Started: m.now(),
		Stream:  scheduler.NewStream(),
		token:   scheduler.NewToken(m.parent),
		done:    make(chan struct{}),
	}
	m.runs[run.ID] = run
	m.active[owner] = run
	m.wg.Add(1)
	m.mu.Unlock()

	logger := m.logger.With(slog.String("run_id", run.ID), slog.String("owner", owner))
	logger.Info("run started", slog.Int("candidates", set.Len()), slog.Int("skipped", len(defects)))

	sched := scheduler.New(client, pref, run.Stream, scheduler.WithPolicy(m.policy), scheduler.WithLogger(logger))
	go m.execute(run, sched, set, defects, logger)
	return run, nil
}

func (m *Manager) execute(run *Run, sched *scheduler.Scheduler, set *reservation.CandidateSet, defects []error, logger *slog.Logger) {
	defer m.wg.Done()

	res := sched.Run(run.token, set, defects)

	run.mu.Lock()
	run.result = res
	run.finished = m.now()
	run.mu.Unlock()
	close(run.done)

	m.mu.Lock()
	if m.active[run.Owner] == run {
		delete(m.active, run.Owner)
	}
	m.mu.Unlock()

	if m.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.notifier.Notify(ctx, run, res); err != nil {
		logger.Warn("notify failed", slog.String("error", err.Error()))
	}
}

// Get returns owner's run id. Runs of other owners are reported as not found.
func (m *Manager) Get(owner, id string) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneLocked()
	run, ok := m.runs[id]
	if !ok || run.Owner != owner {
		return nil, ErrNotFound
	}
	return run, nil
}

// Cancel sets the token of owner's run id. Cancelling a finished run is a no-op.
func (m *Manager) Cancel(owner, id string) error {
	run, err := m.Get(owner, id)
	if err != nil {
		return err
	}
	run.Cancel()
	return nil
}

// Active returns owner's running run, if any.
func (m *Manager) Active(owner string) (*Run, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.active[owner]
	return run, ok
}

// Shutdown refuses new runs, cancels the running ones and waits for them
// to finish or for ctx to expire.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, run := range m.active {
		run.Cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every started run has finished.
func (m *Manager) Wait() { m.wg.Wait() }

func (m *Manager) pruneLocked() {
	if m.retention <= 0 {
		return
	}
	cutoff := m.now().Add(-m.retention)
	for id, run := range m.runs {
		if at, ok := run.finishedAt(); ok && at.Before(cutoff) {
			delete(m.runs, id)
		}
	}
}
