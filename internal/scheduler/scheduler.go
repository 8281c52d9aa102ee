// Package scheduler runs the engine's jobs on interval and weekly cadences,
// gated on the exchange session window and on having active clients.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"ironflybot/internal/metrics"
)

// defaultPoll is how often the run loop checks for due jobs.
const defaultPoll = time.Second

// Job is one unit of scheduled work.
type Job func(ctx context.Context) error

// WeeklySpec fires a job once per week at a wall-clock time in the scheduler's
// location.
type WeeklySpec struct {
	Weekday time.Weekday
	Hour    int
	Minute  int
}

type entry struct {
	name     string
	job      Job
	interval time.Duration
	weekly   *WeeklySpec

	next      time.Time // interval jobs: next due instant
	lastFired time.Time // weekly jobs: day of the last firing
}

// Scheduler owns the job table and the session gates. It is not safe to add
// entries after Run has started.
type Scheduler struct {
	clock   Clock
	logger  *logrus.Logger
	metrics *metrics.Metrics

	location     *time.Location
	sessionStart int // minutes from midnight
	sessionEnd   int

	// activeClients gates all work: with zero active clients nothing runs.
	// An error here is a storage failure and stops the scheduler.
	activeClients func(ctx context.Context) (int, error)

	entries []*entry
	poll    time.Duration
}

// New creates a Scheduler. sessionStart and sessionEnd are minutes from
// midnight in loc.
func New(clock Clock, logger *logrus.Logger, m *metrics.Metrics, loc *time.Location, sessionStart, sessionEnd int, activeClients func(ctx context.Context) (int, error)) *Scheduler {
	return &Scheduler{
		clock:         clock,
		logger:        logger,
		metrics:       m,
		location:      loc,
		sessionStart:  sessionStart,
		sessionEnd:    sessionEnd,
		activeClients: activeClients,
		poll:          defaultPoll,
	}
}

// Every registers a job to run on a fixed interval while the session is open.
// The first run happens on the first open-session tick.
func (s *Scheduler) Every(name string, interval time.Duration, job Job) {
	s.entries = append(s.entries, &entry{name: name, job: job, interval: interval})
}

// Weekly registers a job to run once per week at the given wall-clock time.
func (s *Scheduler) Weekly(name string, spec WeeklySpec, job Job) {
	s.entries = append(s.entries, &entry{name: name, job: job, weekly: &spec})
}

// Run polls for due jobs until the context is cancelled. A storage failure in
// the active-clients gate is returned and stops the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.RunPending(ctx, s.clock.Now()); err != nil {
				return err
			}
		}
	}
}

// RunPending runs every job due at the given instant. Exported so tests can
// drive the scheduler with a fake clock.
func (s *Scheduler) RunPending(ctx context.Context, now time.Time) error {
	local := now.In(s.location)
	if !s.inSession(local) {
		return nil
	}

	count, err := s.activeClients(ctx)
	if err != nil {
		return fmt.Errorf("counting active clients: %w", err)
	}
	if count == 0 {
		return nil
	}

	for _, e := range s.entries {
		if !e.due(local) {
			continue
		}
		s.runJob(ctx, e)
	}
	return nil
}

// inSession reports whether the instant falls on a weekday inside the session
// window.
func (s *Scheduler) inSession(local time.Time) bool {
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	return minute >= s.sessionStart && minute <= s.sessionEnd
}

// due reports whether the entry should fire now and advances its bookkeeping.
func (e *entry) due(local time.Time) bool {
	if e.weekly != nil {
		if local.Weekday() != e.weekly.Weekday {
			return false
		}
		minute := local.Hour()*60 + local.Minute()
		if minute < e.weekly.Hour*60+e.weekly.Minute {
			return false
		}
		if sameDay(e.lastFired, local) {
			return false
		}
		e.lastFired = local
		return true
	}

	if !e.next.IsZero() && local.Before(e.next) {
		return false
	}
	e.next = local.Add(e.interval)
	return true
}

// runJob executes one entry, isolating errors and panics so a bad tick never
// takes down the loop.
func (s *Scheduler) runJob(ctx context.Context, e *entry) {
	defer func() {
		if r := recover(); r != nil {
			s.metrics.JobErrors.WithLabelValues(e.name).Inc()
			s.logger.WithField("job", e.name).Errorf("job panicked: %v", r)
		}
	}()

	if err := e.job(ctx); err != nil {
		s.metrics.JobErrors.WithLabelValues(e.name).Inc()
		s.logger.WithField("job", e.name).WithError(err).Error("job failed")
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// ParseMinuteOfDay parses an "HH:MM" wall-clock string into minutes from
// midnight.
func ParseMinuteOfDay(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}
