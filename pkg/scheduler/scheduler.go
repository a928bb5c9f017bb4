// Package scheduler implements the cooperative timer wheel: recurring
// timers for metrics flush, metrics reset, and connection refresh, plus
// ad-hoc one-shot per-election showdown timers. Each recurring timer is its
// own self-rearming goroutine around a time.Timer rather than a shared
// ticker; showdown timers are single time.AfterFunc calls.
package scheduler

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/andante-project/yadtreceiver/pkg/election"
	"github.com/andante-project/yadtreceiver/pkg/log"
)

const (
	metricsFlushPeriod      = 30 * time.Second
	connectionRefreshPeriod = time.Hour
	connectionRefreshHour   = 2
)

// MetricsFlusher writes the current counter snapshot to disk and reports how
// long the write took.
type MetricsFlusher interface {
	Flush() (writeDuration time.Duration, err error)
}

// MetricsResetter deletes zero-valued keys and zeroes all remaining keys.
type MetricsResetter interface {
	Reset()
}

// ConnectionRefresher is consulted hourly; if currently connected and the
// local hour equals 02:00, it closes the session to force a reconnect.
type ConnectionRefresher interface {
	IsConnected() bool
	CloseSession()
}

// Scheduler owns the three recurring timers and the Arm() entry point the
// dispatcher uses for per-election showdown deadlines.
type Scheduler struct {
	logger zerolog.Logger

	flusher   MetricsFlusher
	resetter  MetricsResetter
	refresher ConnectionRefresher
	now       func() time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// Config bundles the scheduler's collaborators. Now defaults to time.Now.
type Config struct {
	Flusher   MetricsFlusher
	Resetter  MetricsResetter
	Refresher ConnectionRefresher
	Now       func() time.Time
}

// New constructs a Scheduler. Start must be called to arm the recurring
// timers.
func New(cfg Config) *Scheduler {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		logger:    log.WithComponent("scheduler"),
		flusher:   cfg.Flusher,
		resetter:  cfg.Resetter,
		refresher: cfg.Refresher,
		now:       now,
		stopCh:    make(chan struct{}),
	}
}

// SetRefresher wires the connection refresher after construction, for
// callers that construct the scheduler before the bus adapter exists (the
// scheduler's Arm is itself a dispatcher dependency, creating the same
// construction-order cycle SetBus resolves in pkg/dispatcher).
func (s *Scheduler) SetRefresher(r ConnectionRefresher) {
	s.refresher = r
}

// Start arms the metrics-flush, metrics-reset, and connection-refresh
// timers. Each recurring timer's first tick is a no-op re-arming call (the
// "first_call" pattern) so nothing fires immediately at startup.
func (s *Scheduler) Start() {
	s.startRecurring(func() time.Duration { return metricsFlushPeriod }, s.runMetricsFlush)
	s.startRecurring(s.untilNextMidnight, s.resetter.Reset)
	s.startRecurring(func() time.Duration { return connectionRefreshPeriod }, s.runConnectionRefresh)
}

// Stop cancels all recurring timers. It does not cancel any showdown timers
// already armed via Arm; the dispatcher owns those.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

// Arm implements dispatcher.Showdown: a single-shot, cancellable showdown
// timer independent of the recurring timers above.
func (s *Scheduler) Arm(timeout time.Duration, onExpire func()) election.CancellableTimer {
	return timerAdapter{time.AfterFunc(timeout, onExpire)}
}

type timerAdapter struct {
	t *time.Timer
}

func (a timerAdapter) Stop() bool { return a.t.Stop() }

// startRecurring runs a self-rearming timer: it waits period(), and only
// invokes action on ticks after the first (the first_call no-op pattern).
func (s *Scheduler) startRecurring(period func() time.Duration, action func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		firstCall := true
		for {
			d := period()
			timer := time.NewTimer(d)
			select {
			case <-timer.C:
				if !firstCall {
					action()
				}
				firstCall = false
			case <-s.stopCh:
				timer.Stop()
				return
			}
		}
	}()
}

func (s *Scheduler) runMetricsFlush() {
	dur, err := s.flusher.Flush()
	if err != nil {
		s.logger.Error().Err(err).Msg("metrics flush failed")
		return
	}
	s.logger.Debug().Dur("write_duration", dur).Msg("metrics flushed")
}

func (s *Scheduler) runConnectionRefresh() {
	if !s.refresher.IsConnected() {
		return
	}
	if s.now().Hour() != connectionRefreshHour {
		return
	}
	s.logger.Info().Msg("connection refresh: closing session to force reconnect")
	s.refresher.CloseSession()
}

// untilNextMidnight returns the duration remaining until the next local
// midnight, the metrics-reset timer's period.
func (s *Scheduler) untilNextMidnight() time.Duration {
	now := s.now()
	year, month, day := now.Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, now.Location()).AddDate(0, 0, 1)
	return midnight.Sub(now)
}
