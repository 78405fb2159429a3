package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/mumutools/mumuctl/internal/instance"
)

// Scheduler state-transition and cycle-admission errors.
var (
	// ErrAlreadyRunning is returned by Start when auto-refresh is
	// already armed. Restart by calling Stop first.
	ErrAlreadyRunning = errors.New("cache: auto-refresh already running")

	// ErrNotRunning is returned by Stop when auto-refresh is stopped.
	ErrNotRunning = errors.New("cache: auto-refresh not running")

	// ErrInvalidInterval is returned for a non-positive interval; the
	// previous interval is retained.
	ErrInvalidInterval = errors.New("cache: refresh interval must be positive")

	// ErrRefreshInProgress is returned when a fetch cycle is already
	// in flight. Callers retry or wait for the next notification;
	// concurrent cycles are rejected rather than queued.
	ErrRefreshInProgress = errors.New("cache: refresh already in progress")
)

// defaultFetchTimeout bounds a single snapshot source call.
const defaultFetchTimeout = 30 * time.Second

// Source provides instance snapshots. Implemented by manager.Manager;
// the cache does not care how snapshots are obtained.
type Source interface {
	FetchAll(ctx context.Context) (map[int]instance.Snapshot, error)
	FetchOne(ctx context.Context, index int) (instance.Snapshot, error)
}

// Status is a point-in-time view of the refresher for status lines
// and tests.
type Status struct {
	Running     bool
	Interval    time.Duration
	LastAttempt time.Time
	LastSuccess time.Time
	LastErr     error
}

// Refresher drives fetch-diff-commit-notify cycles against a Store,
// either on a timer or on demand. At most one cycle is in flight at
// any time process-wide; a second attempt fails fast with
// ErrRefreshInProgress instead of queueing.
type Refresher struct {
	source       Source
	store        *Store
	hub          *Hub
	logger       log.Logger
	fields       []string
	fetchTimeout time.Duration

	// inFlight is the process-wide cycle guard; acquired with TryLock
	// so callers are rejected immediately, never blocked.
	inFlight sync.Mutex

	mu          sync.Mutex
	running     bool
	interval    time.Duration
	stop        chan struct{}
	lastAttempt time.Time
	lastSuccess time.Time
	lastErr     error
}

// RefresherOption configures a Refresher.
type RefresherOption func(*Refresher)

// WithLogger sets the logger for cycle outcomes and subscriber faults.
func WithLogger(logger log.Logger) RefresherOption {
	return func(r *Refresher) { r.logger = logger }
}

// WithFields sets the significant-field set used for diffing.
func WithFields(fields []string) RefresherOption {
	return func(r *Refresher) { r.fields = fields }
}

// WithFetchTimeout bounds each snapshot source call. A timed-out
// fetch counts as a failed cycle.
func WithFetchTimeout(d time.Duration) RefresherOption {
	return func(r *Refresher) { r.fetchTimeout = d }
}

// NewRefresher creates a Refresher around the given source, store,
// and hub.
func NewRefresher(source Source, store *Store, hub *Hub, opts ...RefresherOption) *Refresher {
	r := &Refresher{
		source:       source,
		store:        store,
		hub:          hub,
		logger:       log.NewNopLogger(),
		fields:       DefaultFields,
		fetchTimeout: defaultFetchTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start arms the periodic refresh timer. It fails with
// ErrAlreadyRunning if the timer is already armed and
// ErrInvalidInterval for a non-positive interval.
func (r *Refresher) Start(interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyRunning
	}

	r.running = true
	r.interval = interval
	r.stop = make(chan struct{})
	go r.loop(r.stop)

	_ = level.Info(r.logger).Log("msg", "auto-refresh started", "interval", interval)
	return nil
}

// Stop cancels future scheduled ticks. An in-flight fetch is not
// aborted; its result is still committed. Fails with ErrNotRunning
// if the timer is not armed.
func (r *Refresher) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return ErrNotRunning
	}

	close(r.stop)
	r.running = false
	r.stop = nil

	_ = level.Info(r.logger).Log("msg", "auto-refresh stopped")
	return nil
}

// SetInterval updates the refresh interval for subsequent cycles. It
// takes effect when the timer next rearms, not retroactively.
func (r *Refresher) SetInterval(interval time.Duration) error {
	if interval <= 0 {
		return ErrInvalidInterval
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.interval = interval
	return nil
}

// Status returns the current scheduler state.
func (r *Refresher) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return Status{
		Running:     r.running,
		Interval:    r.interval,
		LastAttempt: r.lastAttempt,
		LastSuccess: r.lastSuccess,
		LastErr:     r.lastErr,
	}
}

// Refresh performs one fetch-diff-commit-notify cycle synchronously,
// regardless of timer state. Returns ErrRefreshInProgress if another
// cycle is already in flight.
func (r *Refresher) Refresh(ctx context.Context) error {
	if !r.inFlight.TryLock() {
		return ErrRefreshInProgress
	}
	defer r.inFlight.Unlock()
	return r.cycle(ctx)
}

// RefreshOne fetches a single instance, diffs it against the store's
// entry for that index alone, commits it, and notifies with a diff
// scoped to that index. A failure affects no other store entry.
func (r *Refresher) RefreshOne(ctx context.Context, index int) error {
	if !r.inFlight.TryLock() {
		return ErrRefreshInProgress
	}
	defer r.inFlight.Unlock()

	r.recordAttempt()

	ctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	snap, err := r.source.FetchOne(ctx, index)
	if err != nil {
		err = fmt.Errorf("cache: refresh instance %d: %w", index, err)
		r.recordFailure(err)
		_ = level.Warn(r.logger).Log("msg", "instance refresh failed", "index", index, "err", err)
		return err
	}

	// Stale entries still participate in the diff; only absence makes
	// the instance count as added.
	old := make(map[int]instance.Snapshot, 1)
	if prev, ok := r.store.Snapshots()[index]; ok {
		old[index] = prev
	}

	res := Diff(old, map[int]instance.Snapshot{index: snap}, r.fields)
	r.store.SetOne(snap)
	r.recordSuccess()

	if !res.Empty() {
		r.hub.Notify(res)
	}
	return nil
}

// loop runs scheduled cycles until stop is closed. Each tick rereads
// the interval so SetInterval applies on the next rearm.
func (r *Refresher) loop(stop <-chan struct{}) {
	timer := time.NewTimer(r.currentInterval())
	defer timer.Stop()

	for {
		select {
		case <-stop:
			return
		case <-timer.C:
			if err := r.Refresh(context.Background()); err != nil && !errors.Is(err, ErrRefreshInProgress) {
				_ = level.Warn(r.logger).Log("msg", "scheduled refresh failed", "err", err)
			}
			timer.Reset(r.currentInterval())
		}
	}
}

// cycle executes one full fetch-diff-commit-notify pass. The caller
// holds the in-flight guard. On fetch failure the store is left
// untouched and no notification is sent.
func (r *Refresher) cycle(ctx context.Context) error {
	r.recordAttempt()

	ctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	snaps, err := r.source.FetchAll(ctx)
	if err != nil {
		err = fmt.Errorf("cache: refresh: %w", err)
		r.recordFailure(err)
		_ = level.Warn(r.logger).Log("msg", "refresh failed", "err", err)
		return err
	}

	old := r.store.Snapshots()
	res := Diff(old, snaps, r.fields)
	r.store.ReplaceAll(snaps)
	r.recordSuccess()

	_ = level.Debug(r.logger).Log("msg", "refresh committed", "instances", len(snaps), "diff", res.String())

	if !res.Empty() {
		r.hub.Notify(res)
	}
	return nil
}

func (r *Refresher) currentInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

func (r *Refresher) recordAttempt() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastAttempt = time.Now()
}

func (r *Refresher) recordSuccess() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastSuccess = time.Now()
	r.lastErr = nil
}

func (r *Refresher) recordFailure(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastErr = err
}
