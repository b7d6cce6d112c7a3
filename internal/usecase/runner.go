package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"PriceSheet/internal/domain/models"
	"PriceSheet/internal/service/scheduler"
	"PriceSheet/pkg/logger"
	"PriceSheet/pkg/util"
)

// ErrRefreshPending is returned by RequestRefresh when a forced cycle is
// already queued.
var ErrRefreshPending = errors.New("refresh already pending")

// CycleRunner runs one update cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context, forced bool) (*models.CycleReport, error)
}

// RunnerOption configures Runner.
type RunnerOption func(*Runner)

// WithErrorBackoff sets the pause after a cycle panics.
func WithErrorBackoff(d time.Duration) RunnerOption {
	return func(r *Runner) {
		r.errorBackoff = d
	}
}

// WithRunnerClock replaces time.Now.
func WithRunnerClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

// WithRunnerSleeper replaces the back-off sleep.
func WithRunnerSleeper(s func(ctx context.Context, d time.Duration) error) RunnerOption {
	return func(r *Runner) {
		r.sleep = s
	}
}

// Runner drives cycles from the scheduler until its context ends. It is the
// only goroutine that runs cycles or marks the scheduler.
type Runner struct {
	sched   *scheduler.UpdateScheduler
	updater CycleRunner
	log     *logger.Logger

	errorBackoff time.Duration
	now          func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error

	refresh chan struct{}

	mu     sync.RWMutex
	last   *models.CycleReport
	lastOK *models.CycleReport

	subMu sync.Mutex
	subs  map[chan *models.CycleReport]struct{}
}

// NewRunner creates a Runner.
func NewRunner(sched *scheduler.UpdateScheduler, updater CycleRunner, log *logger.Logger, opts ...RunnerOption) *Runner {
	if log == nil {
		log = logger.Nop()
	}
	r := &Runner{
		sched:        sched,
		updater:      updater,
		log:          log,
		errorBackoff: time.Minute,
		now:          time.Now,
		sleep:        util.SleepContext,
		refresh:      make(chan struct{}, 1),
		subs:         make(map[chan *models.CycleReport]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Status reports the scheduler's view of now.
func (r *Runner) Status(now time.Time) models.MarketStatus { return r.sched.Status(now) }

// Run loops until ctx is cancelled. When force is set the first cycle runs
// regardless of market hours.
func (r *Runner) Run(ctx context.Context, force bool) error {
	r.log.Info("price updater loop started")
	defer r.log.Info("price updater loop stopped")

	forced := force
	for ctx.Err() == nil {
		now := r.now()
		if r.sched.ShouldUpdate(now, forced) {
			if err := r.runCycle(ctx, now, forced); err != nil && ctx.Err() == nil {
				r.log.Error("unexpected error in update loop", logger.Error(err))
				r.log.Info("waiting before retrying", logger.Duration("backoff_ms", r.errorBackoff))
				if r.sleep(ctx, r.errorBackoff) != nil {
					return nil
				}
			}
		} else {
			r.log.Debug("skipping update", logger.Bool("outside_market_hours", r.sched.IsOutsideMarketHours(now)))
		}
		if ctx.Err() != nil {
			break
		}

		var err error
		forced, err = r.wait(ctx, r.now())
		if err != nil {
			break
		}
	}
	return nil
}

// RunOnce runs a single cycle without consulting market hours.
func (r *Runner) RunOnce(ctx context.Context) (*models.CycleReport, error) {
	r.log.Info("running single update cycle")
	start := r.now()
	report, err := r.updater.RunCycle(ctx, true)
	r.publish(report)
	if err == nil {
		r.sched.MarkUpdateCompleted(r.sched.SlotStart(start))
	}
	return report, err
}

// RequestRefresh queues a forced cycle. It never blocks.
func (r *Runner) RequestRefresh() error {
	select {
	case r.refresh <- struct{}{}:
		r.log.Info("forced refresh requested")
		return nil
	default:
		return ErrRefreshPending
	}
}

// LastReport returns the most recent cycle report, or nil before the first.
func (r *Runner) LastReport() *models.CycleReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.last
}

// LastSuccess returns the most recent successful cycle report, or nil.
func (r *Runner) LastSuccess() *models.CycleReport {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastOK
}

// Subscribe returns a channel receiving every finished cycle report and a
// cancel func. Slow subscribers miss reports rather than block the loop.
func (r *Runner) Subscribe(buffer int) (<-chan *models.CycleReport, func()) {
	ch := make(chan *models.CycleReport, buffer)
	r.subMu.Lock()
	r.subs[ch] = struct{}{}
	r.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.subMu.Lock()
			delete(r.subs, ch)
			r.subMu.Unlock()
			close(ch)
		})
	}
}

// runCycle converts a panicking cycle into an error so the loop survives.
func (r *Runner) runCycle(ctx context.Context, start time.Time, forced bool) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("update cycle panic: %v", p)
		}
	}()

	report, cycleErr := r.updater.RunCycle(ctx, forced)
	r.publish(report)
	if cycleErr != nil {
		if ctx.Err() == nil {
			r.log.Warn("update cycle failed, will retry at next interval", logger.Error(cycleErr))
		}
		return nil
	}
	r.sched.MarkUpdateCompleted(r.sched.SlotStart(start))
	return nil
}

// wait blocks until the next scheduled moment or a refresh request. It
// reports whether the wake-up was a refresh.
func (r *Runner) wait(ctx context.Context, now time.Time) (bool, error) {
	r.log.Debug("waiting for next update", logger.Time("next_update", r.sched.NextUpdateTime(now)))

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- r.sched.WaitUntilNextUpdate(waitCtx, now) }()

	select {
	case <-r.refresh:
		cancel()
		<-done
		return true, nil
	case err := <-done:
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if err != nil {
			return false, err
		}
		return false, nil
	}
}

func (r *Runner) publish(report *models.CycleReport) {
	if report == nil {
		return
	}
	r.mu.Lock()
	r.last = report
	if report.Success {
		r.lastOK = report
	}
	r.mu.Unlock()

	r.subMu.Lock()
	defer r.subMu.Unlock()
	for ch := range r.subs {
		select {
		case ch <- report:
		default:
		}
	}
}
