package syncqueue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"

	"github.com/ManuelReschke/MockupSuite/internal/pkg/apperror"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/metrics"
	"github.com/ManuelReschke/MockupSuite/internal/pkg/retry"
)

// DefaultMaxAttempts bounds how often a change is retried across passes
// before it is surfaced as a failure.
const DefaultMaxAttempts = 10

var ErrReplayRunning = errors.New("replay already running")

// Applier performs a change against the server. For creates it returns the
// id the server assigned.
type Applier interface {
	Apply(ctx context.Context, c Change) (uint, error)
}

type Queue struct {
	store       Store
	applier     Applier
	policy      retry.Policy
	maxAttempts int
	sleep       func(ctx context.Context, d time.Duration) error
	now         func() time.Time

	// replaying serializes passes; at most one runs at a time.
	replaying sync.Mutex
}

type Option func(*Queue)

func WithRetryPolicy(p retry.Policy) Option {
	return func(q *Queue) { q.policy = p }
}

func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(q *Queue) { q.sleep = sleep }
}

func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

func New(store Store, applier Applier, opts ...Option) *Queue {
	q := &Queue{
		store:       store,
		applier:     applier,
		policy:      retry.DefaultPolicy(),
		maxAttempts: DefaultMaxAttempts,
		sleep:       sleepCtx,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.policy.ShouldRetry == nil {
		q.policy.ShouldRetry = apperror.IsRetryable
	}
	return q
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Submission is the outcome of Submit. Target is committed when the change
// was applied right away and pending when it was queued.
type Submission struct {
	ChangeID string `json:"change_id"`
	Queued   bool   `json:"queued"`
	Target   Ref    `json:"target"`
}

// Submit applies c immediately when nothing is queued ahead of it. On a
// network failure, or when earlier changes are still pending, c is appended
// to the store instead.
func (q *Queue) Submit(ctx context.Context, c Change) (*Submission, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Action == ActionCreate && c.Target.IsZero() {
		c.Target = Pending(NewTempID())
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = q.now()
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}

	pending, err := q.store.List(ctx)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		id, err := q.applier.Apply(ctx, c)
		if err == nil {
			return &Submission{ChangeID: c.ID, Target: committedTarget(c, id)}, nil
		}
		if !apperror.IsNetwork(err) {
			return nil, err
		}
		log.Infof("[SyncQueue] offline, queueing %s", c.Describe())
	}

	if err := q.store.Append(ctx, c); err != nil {
		return nil, err
	}
	return &Submission{ChangeID: c.ID, Queued: true, Target: c.Target}, nil
}

func committedTarget(c Change, id uint) Ref {
	if c.Action == ActionCreate && id != 0 {
		return Committed(id)
	}
	return c.Target
}

// Report summarizes one replay pass.
type Report struct {
	Applied   int  `json:"applied"`
	Failed    int  `json:"failed"`
	Remaining int  `json:"remaining"`
	Stopped   bool `json:"stopped"`
}

// Replay applies pending changes strictly in order. Success removes the
// change. A retryable failure bumps its attempt count, waits per the backoff
// policy and ends the pass so nothing behind it runs first. Any other
// failure is moved to the failure list and the pass continues.
func (q *Queue) Replay(ctx context.Context) (*Report, error) {
	if !q.replaying.TryLock() {
		return nil, ErrReplayRunning
	}
	defer q.replaying.Unlock()

	report := &Report{}
	for {
		if err := ctx.Err(); err != nil {
			return q.finish(ctx, report, err)
		}
		pending, err := q.store.List(ctx)
		if err != nil {
			return q.finish(ctx, report, err)
		}
		if len(pending) == 0 {
			return q.finish(ctx, report, nil)
		}
		c := pending[0]

		id, err := q.applier.Apply(ctx, c)
		if err == nil {
			if err := q.store.Remove(ctx, c.ID); err != nil {
				return q.finish(ctx, report, err)
			}
			if c.Action == ActionCreate && c.Target.IsPending() && id != 0 {
				if err := q.resolve(ctx, c.Target.TempID(), id); err != nil {
					return q.finish(ctx, report, err)
				}
			}
			report.Applied++
			metrics.Replayed("applied")
			continue
		}

		c.AttemptCount++
		c.LastError = apperror.Categorize(err).Message
		if q.policy.ShouldRetry(err) && c.AttemptCount < q.maxAttempts {
			if uErr := q.store.Update(ctx, c); uErr != nil {
				return q.finish(ctx, report, uErr)
			}
			metrics.Replayed("retry")
			wait := q.policy.Delay(c.AttemptCount)
			log.Warnf("[SyncQueue] %s failed (attempt %d), pausing replay for %s: %v", c.Describe(), c.AttemptCount, wait, err)
			report.Stopped = true
			if sErr := q.sleep(ctx, wait); sErr != nil {
				return q.finish(ctx, report, sErr)
			}
			return q.finish(ctx, report, nil)
		}

		if fErr := q.surface(ctx, c, err); fErr != nil {
			return q.finish(ctx, report, fErr)
		}
		report.Failed++
	}
}

// Retry is the manual trigger for a replay pass.
func (q *Queue) Retry(ctx context.Context) (*Report, error) {
	return q.Replay(ctx)
}

func (q *Queue) finish(ctx context.Context, report *Report, err error) (*Report, error) {
	if pending, lErr := q.store.List(ctx); lErr == nil {
		report.Remaining = len(pending)
	}
	if report.Applied > 0 || report.Failed > 0 {
		log.Infof("[SyncQueue] replay: %d applied, %d failed, %d remaining", report.Applied, report.Failed, report.Remaining)
	}
	return report, err
}

func (q *Queue) surface(ctx context.Context, c Change, cause error) error {
	cat := apperror.Categorize(cause)
	log.Errorf("[SyncQueue] %s rejected: %v", c.Describe(), cause)
	metrics.Replayed("failed")
	if err := q.store.AddFailure(ctx, Failure{Change: c, Kind: cat.Kind, Message: cat.Message, FailedAt: q.now()}); err != nil {
		return err
	}
	return q.store.Remove(ctx, c.ID)
}

// resolve points later changes at the id a pending create was given.
func (q *Queue) resolve(ctx context.Context, tempID string, id uint) error {
	pending, err := q.store.List(ctx)
	if err != nil {
		return err
	}
	for _, c := range pending {
		if c.Target.TempID() != tempID {
			continue
		}
		c.Target = Committed(id)
		if err := q.store.Update(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (q *Queue) Pending(ctx context.Context) ([]Change, error) {
	return q.store.List(ctx)
}

func (q *Queue) Failures(ctx context.Context) ([]Failure, error) {
	return q.store.Failures(ctx)
}

func (q *Queue) Dismiss(ctx context.Context, changeID string) error {
	return q.store.DismissFailure(ctx, changeID)
}

// Watch replays whenever m reports the API came back online. A pass that
// stopped on a retryable failure is followed by another one while the API
// stays reachable; Replay has already waited out the backoff by then and
// the attempt cap ends the loop for a change that keeps failing.
func (q *Queue) Watch(ctx context.Context, m *Monitor) {
	m.OnChange(func(online bool) {
		if !online {
			return
		}
		pending, err := q.store.List(ctx)
		if err != nil || len(pending) == 0 {
			return
		}
		go q.replayWhileOnline(ctx, m)
	})
}

func (q *Queue) replayWhileOnline(ctx context.Context, m *Monitor) {
	for {
		report, err := q.Replay(ctx)
		if err != nil {
			if !errors.Is(err, ErrReplayRunning) {
				log.Warnf("[SyncQueue] automatic replay failed: %v", err)
			}
			return
		}
		if !report.Stopped || report.Remaining == 0 || !m.Online() {
			return
		}
	}
}

func sortFailures(f []Failure) {
	sort.Slice(f, func(i, j int) bool { return f[i].FailedAt.Before(f[j].FailedAt) })
}
