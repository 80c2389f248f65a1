// Package cronengine parses the 5-field cron grammar, computes next-run
// times in a schedule's own timezone, and runs the poll loop that dispatches
// due CronSchedule rows into the Build Lifecycle Manager.
package cronengine

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Expression wraps a parsed 5-field cron expression together with the
// timezone its fields are evaluated in.
type Expression struct {
	Raw      string
	Location *time.Location
	schedule cron.Schedule
}

// standardParser enforces the classic 5-field grammar (minute hour
// day-of-month month day-of-week) with no seconds field and no
// descriptor shorthands (@daily, @hourly, …): exactly what spec §4.10 and
// §6 describe.
var standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Parse validates expr against the 5-field grammar and resolves timezone
// (empty timezone defaults to UTC). It rejects malformed expressions.
func Parse(expr, timezone string) (*Expression, error) {
	loc := time.UTC
	if timezone != "" {
		l, err := time.LoadLocation(timezone)
		if err != nil {
			return nil, fmt.Errorf("cronengine: unknown timezone %q: %w", timezone, err)
		}
		loc = l
	}
	sched, err := standardParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("cronengine: invalid expression %q: %w", expr, err)
	}
	return &Expression{Raw: expr, Location: loc, schedule: sched}, nil
}

// Validate reports whether expr parses under the 5-field grammar, without
// resolving a timezone or computing a next-run time. Exposed for whatever
// out-of-scope web/CLI layer manages CronSchedule rows and wants to
// validate an expression before persisting it.
func Validate(expr string) error {
	_, err := standardParser.Parse(expr)
	if err != nil {
		return fmt.Errorf("cronengine: invalid expression %q: %w", expr, err)
	}
	return nil
}

// Next returns the first fire time strictly after from, evaluated in the
// expression's timezone. The search is bounded only by robfig/cron's own
// field-matching loop, which gives up and returns the zero time when no
// match exists within five years; no tighter bound is applied here.
func (e *Expression) Next(from time.Time) time.Time {
	return e.schedule.Next(from.In(e.Location))
}

// Describe returns the next n fire times after from, useful for previewing
// a schedule before it is registered.
func Describe(expr, timezone string, from time.Time, n int) ([]time.Time, error) {
	parsed, err := Parse(expr, timezone)
	if err != nil {
		return nil, err
	}
	out := make([]time.Time, 0, n)
	t := from
	for i := 0; i < n; i++ {
		t = parsed.Next(t)
		out = append(out, t)
	}
	return out, nil
}
