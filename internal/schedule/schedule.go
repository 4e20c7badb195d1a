// © 2025 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package schedule runs a job once a day at a fixed local time.
//
// The scheduler polls the clock instead of sleeping until the trigger, so
// wall-clock jumps (suspend, NTP corrections) are noticed within one polling
// interval. A missed trigger fires once, as soon as it is noticed.
package schedule

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
)

// DefaultInterval is how often the clock is checked by default.
const DefaultInterval = 30 * time.Second

// TimeOfDay is a wall-clock time with minute precision.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// ParseTimeOfDay parses a time in the "HH:MM" 24-hour format.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok || len(hh) != 2 || len(mm) != 2 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	h, herr := strconv.Atoi(hh)
	m, merr := strconv.Atoi(mm)
	if herr != nil || merr != nil || h < 0 || h > 23 || m < 0 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("invalid time of day %q: want HH:MM", s)
	}
	return TimeOfDay{Hour: h, Minute: m}, nil
}

func (t TimeOfDay) String() string { return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute) }

// State is the state of a [Scheduler].
type State int

const (
	// Idle means Run hasn't been called or has returned.
	Idle State = iota
	// Armed means the scheduler waits for the next trigger.
	Armed
	// Firing means the trigger was reached and the job is being handed off.
	Firing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Armed:
		return "armed"
	case Firing:
		return "firing"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Scheduler runs Job every day at At.
type Scheduler struct {
	// At is the daily trigger time.
	At TimeOfDay
	// Interval is how often the clock is checked. Defaults to DefaultInterval.
	Interval time.Duration
	// Location is the time zone of At. Defaults to time.Local.
	Location *time.Location
	// Job is run in its own goroutine on every trigger.
	Job func(context.Context)
	// Now returns the current time. Defaults to time.Now.
	Now    func() time.Time
	Logger *slog.Logger

	mu    sync.Mutex
	state State
	next  time.Time
	jobs  sync.WaitGroup
}

// Next returns the first trigger strictly after now.
func (s *Scheduler) Next(now time.Time) time.Time {
	loc := cmp.Or(s.Location, time.Local)
	now = now.In(loc)
	y, m, d := now.Date()
	next := time.Date(y, m, d, s.At.Hour, s.At.Minute, 0, 0, loc)
	for !next.After(now) {
		d++
		next = time.Date(y, m, d, s.At.Hour, s.At.Minute, 0, 0, loc)
	}
	return next
}

// State returns the current state and the next trigger, if armed.
func (s *Scheduler) State() (State, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.next
}

// Run arms the scheduler and polls the clock until ctx is canceled. Then it
// waits for running jobs to finish and returns ctx.Err().
func (s *Scheduler) Run(ctx context.Context) error {
	if s.Job == nil {
		return errors.New("schedule: Job is nil")
	}

	s.mu.Lock()
	if s.state != Idle {
		s.mu.Unlock()
		return errors.New("schedule: already running")
	}
	next := s.Next(s.now())
	s.state, s.next = Armed, next
	s.mu.Unlock()
	s.logger().Info("scheduler armed", slog.Time("next", next))

	defer func() {
		s.jobs.Wait()
		s.mu.Lock()
		s.state, s.next = Idle, time.Time{}
		s.mu.Unlock()
	}()

	ticker := time.NewTicker(cmp.Or(s.Interval, DefaultInterval))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

// poll fires the job if the trigger has been reached, and reports whether it
// did.
func (s *Scheduler) poll(ctx context.Context) bool {
	now := s.now()

	s.mu.Lock()
	if s.state != Armed || now.Before(s.next) {
		s.mu.Unlock()
		return false
	}
	s.state = Firing
	due := s.next
	s.mu.Unlock()

	s.logger().Info("firing scheduled job", slog.Time("due", due), slog.Duration("late", now.Sub(due)))
	s.jobs.Add(1)
	go func() {
		defer s.jobs.Done()
		s.Job(ctx)
	}()

	next := s.Next(now)
	s.mu.Lock()
	s.state, s.next = Armed, next
	s.mu.Unlock()
	s.logger().Info("scheduler armed", slog.Time("next", next))
	return true
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Scheduler) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
