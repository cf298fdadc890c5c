// Package trigger adapts the three external event sources — a cron
// scheduler, the HTTP control plane, and the webhook endpoint — into calls
// against the task supervisor. None of these adapters touch the mirror
// engine directly.
package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// CronJob is one scheduled tick, as returned by Scheduler.Jobs.
type CronJob struct {
	ID         string
	Expression string
	NextRun    time.Time
}

// Scheduler is a minimal five-field cron scheduler. Its entries are held
// in memory only; rescheduling across restarts is the operator's concern.
//
// There is no cron-parsing library anywhere in the dependency set available
// to this module, and the specification treats the cron engine as an
// external collaborator; this is a small, self-contained stand-in rather
// than a reimplementation of one.
type Scheduler struct {
	mu       chan struct{}
	jobs     map[string]*scheduledJob
	jobOrder []string
}

type scheduledJob struct {
	expr     fields
	callback func(ctx context.Context)
	nextRun  time.Time
}

// NewScheduler returns an empty scheduler.
func NewScheduler() *Scheduler {
	return &Scheduler{
		mu:   make(chan struct{}, 1),
		jobs: make(map[string]*scheduledJob),
	}
}

func (s *Scheduler) lock()   { s.mu <- struct{}{} }
func (s *Scheduler) unlock() { <-s.mu }

// AddJob schedules callback to run whenever expr next matches, repeating
// forever, identified by id. A later AddJob with the same id replaces it.
func (s *Scheduler) AddJob(id, expr string, callback func(ctx context.Context)) error {
	f, err := parseFields(expr)
	if err != nil {
		return fmt.Errorf("trigger: parse cron expression %q: %w", expr, err)
	}

	s.lock()
	defer s.unlock()

	if _, exists := s.jobs[id]; !exists {
		s.jobOrder = append(s.jobOrder, id)
	}
	s.jobs[id] = &scheduledJob{
		expr:     f,
		callback: callback,
		nextRun:  f.next(time.Now()),
	}
	return nil
}

// Jobs returns the currently scheduled jobs, in AddJob order.
func (s *Scheduler) Jobs() []CronJob {
	s.lock()
	defer s.unlock()

	out := make([]CronJob, 0, len(s.jobOrder))
	for _, id := range s.jobOrder {
		job, ok := s.jobs[id]
		if !ok {
			continue
		}
		out = append(out, CronJob{ID: id, Expression: job.expr.String(), NextRun: job.nextRun})
	}
	return out
}

// Run polls once a minute until ctx is cancelled, invoking every job whose
// schedule has come due.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(ctx, now)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.lock()
	due := make([]*scheduledJob, 0)
	for id, job := range s.jobs {
		if !now.Before(job.nextRun) {
			due = append(due, job)
			job.nextRun = job.expr.next(now)
			slog.Debug("cron job due", "id", id, "next_run", job.nextRun)
		}
	}
	s.unlock()

	for _, job := range due {
		job.callback(ctx)
	}
}

// fields is a parsed five-field cron expression: minute, hour, day-of-month,
// month, day-of-week. Each field is either "*" or a set of allowed values.
type fields struct {
	raw      string
	minute   fieldSet
	hour     fieldSet
	dayMonth fieldSet
	month    fieldSet
	dayWeek  fieldSet
}

func (f fields) String() string { return f.raw }

type fieldSet struct {
	any    bool
	values map[int]bool
}

func parseFields(expr string) (fields, error) {
	parts := strings.Fields(expr)
	if len(parts) != 5 {
		return fields{}, fmt.Errorf("expected 5 fields, got %d", len(parts))
	}

	minute, err := parseFieldSet(parts[0], 0, 59)
	if err != nil {
		return fields{}, err
	}
	hour, err := parseFieldSet(parts[1], 0, 23)
	if err != nil {
		return fields{}, err
	}
	dayMonth, err := parseFieldSet(parts[2], 1, 31)
	if err != nil {
		return fields{}, err
	}
	month, err := parseFieldSet(parts[3], 1, 12)
	if err != nil {
		return fields{}, err
	}
	dayWeek, err := parseFieldSet(parts[4], 0, 6)
	if err != nil {
		return fields{}, err
	}

	return fields{raw: expr, minute: minute, hour: hour, dayMonth: dayMonth, month: month, dayWeek: dayWeek}, nil
}

func parseFieldSet(field string, min, max int) (fieldSet, error) {
	if field == "*" {
		return fieldSet{any: true}, nil
	}

	values := make(map[int]bool)
	for _, part := range strings.Split(field, ",") {
		if strings.Contains(part, "/") {
			segs := strings.SplitN(part, "/", 2)
			step, err := strconv.Atoi(segs[1])
			if err != nil {
				return fieldSet{}, fmt.Errorf("invalid step %q", part)
			}
			for v := min; v <= max; v += step {
				values[v] = true
			}
			continue
		}
		if strings.Contains(part, "-") {
			segs := strings.SplitN(part, "-", 2)
			lo, err1 := strconv.Atoi(segs[0])
			hi, err2 := strconv.Atoi(segs[1])
			if err1 != nil || err2 != nil || lo > hi {
				return fieldSet{}, fmt.Errorf("invalid range %q", part)
			}
			for v := lo; v <= hi; v++ {
				values[v] = true
			}
			continue
		}
		v, err := strconv.Atoi(part)
		if err != nil || v < min || v > max {
			return fieldSet{}, fmt.Errorf("invalid value %q", part)
		}
		values[v] = true
	}
	return fieldSet{values: values}, nil
}

func (fs fieldSet) matches(v int) bool {
	return fs.any || fs.values[v]
}

// next returns the first minute-aligned instant strictly after now that
// matches f, scanning forward up to four years before giving up.
func (f fields) next(now time.Time) time.Time {
	t := now.Truncate(time.Minute).Add(time.Minute)
	limit := now.AddDate(4, 0, 0)

	for t.Before(limit) {
		if f.minute.matches(t.Minute()) &&
			f.hour.matches(t.Hour()) &&
			f.dayMonth.matches(t.Day()) &&
			f.month.matches(int(t.Month())) &&
			f.dayWeek.matches(int(t.Weekday())) {
			return t
		}
		t = t.Add(time.Minute)
	}
	return limit
}
