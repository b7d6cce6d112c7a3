package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"PriceSheet/internal/domain/models"
	"PriceSheet/pkg/logger"
	"PriceSheet/pkg/util"
)

// ErrInvalidWindow is returned by New for a nonsensical market window.
var ErrInvalidWindow = errors.New("invalid market window")

// MarketWindow is the local-time window [OpenHour, CloseHour) in which
// updates run every IntervalMinutes.
type MarketWindow struct {
	OpenHour        int
	CloseHour       int
	IntervalMinutes int
	Location        *time.Location // nil means time.Local
}

// Validate checks 0 <= open < close <= 24 and 1 <= interval <= 60.
func (w MarketWindow) Validate() error {
	if w.OpenHour < 0 || w.OpenHour >= w.CloseHour || w.CloseHour > 24 {
		return fmt.Errorf("%w: open_hour=%d close_hour=%d", ErrInvalidWindow, w.OpenHour, w.CloseHour)
	}
	if w.IntervalMinutes < 1 || w.IntervalMinutes > 60 {
		return fmt.Errorf("%w: interval_minutes=%d", ErrInvalidWindow, w.IntervalMinutes)
	}
	return nil
}

// Option configures UpdateScheduler.
type Option func(*UpdateScheduler)

// WithSleeper replaces the blocking wait used by WaitUntilNextUpdate.
func WithSleeper(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(s *UpdateScheduler) {
		s.sleep = sleep
	}
}

// UpdateScheduler decides when an update cycle should run. All decisions are
// computed from the instant passed in, so callers own the clock.
//
// The last-update instant is written only by the worker that runs cycles;
// the lock exists for status readers on other goroutines.
type UpdateScheduler struct {
	window MarketWindow
	log    *logger.Logger
	sleep  func(ctx context.Context, d time.Duration) error

	mu         sync.RWMutex
	lastUpdate *time.Time
}

// New validates the window and returns a scheduler with no recorded update.
func New(window MarketWindow, log *logger.Logger, opts ...Option) (*UpdateScheduler, error) {
	if err := window.Validate(); err != nil {
		return nil, err
	}
	if window.Location == nil {
		window.Location = time.Local
	}
	if log == nil {
		log = logger.Nop()
	}
	s := &UpdateScheduler{window: window, log: log, sleep: util.SleepContext}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Window returns the configured market window.
func (s *UpdateScheduler) Window() MarketWindow { return s.window }

func (s *UpdateScheduler) local(now time.Time) time.Time {
	return now.In(s.window.Location)
}

// IsOutsideMarketHours reports whether now falls outside [open, close).
func (s *UpdateScheduler) IsOutsideMarketHours(now time.Time) bool {
	h := s.local(now).Hour()
	return h < s.window.OpenHour || h >= s.window.CloseHour
}

// marketOpenAfter is today's open if it is still ahead by the hour, else tomorrow's.
func (s *UpdateScheduler) marketOpenAfter(now time.Time) time.Time {
	l := s.local(now)
	if l.Hour() < s.window.OpenHour {
		return util.AtHour(l, s.window.OpenHour)
	}
	return util.AtHour(l.AddDate(0, 0, 1), s.window.OpenHour)
}

// nextIntervalAfter is the next interval boundary past the top of the hour,
// strictly after the current minute. Boundaries at or past :60 roll to the
// next top of hour.
func (s *UpdateScheduler) nextIntervalAfter(now time.Time) time.Time {
	l := s.local(now)
	step := s.window.IntervalMinutes
	next := (l.Minute()/step + 1) * step
	top := util.TopOfHour(l)
	if next >= 60 {
		return top.Add(time.Hour)
	}
	return top.Add(time.Duration(next) * time.Minute)
}

// SlotStart is the interval boundary at or before now. The runner records
// finished cycles against it rather than against their start instant.
func (s *UpdateScheduler) SlotStart(now time.Time) time.Time {
	l := s.local(now)
	step := s.window.IntervalMinutes
	return util.TopOfHour(l).Add(time.Duration(l.Minute()/step*step) * time.Minute)
}

// SecondsUntilMarketOpen is the wait until the next market open, rounded up.
func (s *UpdateScheduler) SecondsUntilMarketOpen(now time.Time) int {
	return ceilSeconds(s.marketOpenAfter(now).Sub(now))
}

// SecondsUntilNextInterval is the wait until the next interval boundary,
// rounded up so that it is never zero.
func (s *UpdateScheduler) SecondsUntilNextInterval(now time.Time) int {
	return ceilSeconds(s.nextIntervalAfter(now).Sub(now))
}

// NextUpdateTime is the instant WaitUntilNextUpdate would sleep until.
func (s *UpdateScheduler) NextUpdateTime(now time.Time) time.Time {
	if s.IsOutsideMarketHours(now) {
		return s.marketOpenAfter(now)
	}
	return s.nextIntervalAfter(now)
}

// WaitUntilNextUpdate blocks until the next market open (outside hours) or the
// next interval boundary (inside hours). It returns early with ctx.Err() when
// ctx is cancelled.
func (s *UpdateScheduler) WaitUntilNextUpdate(ctx context.Context, now time.Time) error {
	target := s.NextUpdateTime(now)
	wait := target.Sub(now)

	if s.IsOutsideMarketHours(now) {
		s.log.Info("outside market hours, waiting for open",
			logger.Float64("hours", roundTo(wait.Hours(), 1)),
			logger.Time("next_update", target),
		)
	} else {
		s.log.Info("in market hours, waiting for next interval",
			logger.Float64("minutes", roundTo(wait.Minutes(), 1)),
			logger.Time("next_update", target),
		)
	}
	if wait <= 0 {
		return ctx.Err()
	}
	s.log.Debug("sleeping", logger.Duration("wait_ms", wait))
	return s.sleep(ctx, wait)
}

// ShouldUpdate decides whether a cycle should run at now. force always wins.
func (s *UpdateScheduler) ShouldUpdate(now time.Time, force bool) bool {
	if force {
		s.log.Debug("force update requested")
		return true
	}
	if s.IsOutsideMarketHours(now) {
		s.log.Debug("outside market hours, skipping update")
		return false
	}

	s.mu.RLock()
	last := s.lastUpdate
	s.mu.RUnlock()

	if last == nil {
		s.log.Debug("first update, proceeding")
		return true
	}
	since := now.Sub(*last)
	if since >= s.interval() {
		s.log.Debug("interval elapsed since last update", logger.Duration("since_ms", since))
		return true
	}
	s.log.Debug("not enough time since last update", logger.Duration("since_ms", since))
	return false
}

// MarkUpdateCompleted records t as the last update instant.
func (s *UpdateScheduler) MarkUpdateCompleted(t time.Time) {
	s.mu.Lock()
	s.lastUpdate = &t
	s.mu.Unlock()
	s.log.Debug("update completed", logger.Time("at", t))
}

// LastUpdate returns the last recorded update, if any.
func (s *UpdateScheduler) LastUpdate() (time.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastUpdate == nil {
		return time.Time{}, false
	}
	return *s.lastUpdate, true
}

// Status reports the market state as seen at now.
func (s *UpdateScheduler) Status(now time.Time) models.MarketStatus {
	st := models.MarketStatus{
		CurrentTime:     s.local(now),
		IsMarketOpen:    !s.IsOutsideMarketHours(now),
		MarketOpenHour:  s.window.OpenHour,
		MarketCloseHour: s.window.CloseHour,
		IntervalMinutes: s.window.IntervalMinutes,
		NextUpdate:      s.NextUpdateTime(now),
	}
	if last, ok := s.LastUpdate(); ok {
		st.LastUpdate = &last
	}
	return st
}

func (s *UpdateScheduler) interval() time.Duration {
	return time.Duration(s.window.IntervalMinutes) * time.Minute
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Ceil(d.Seconds()))
}

func roundTo(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
