package queue

import (
	"errors"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// ParseCron parses a five-field cron expression or a descriptor such as "@hourly".
// A non-empty tz evaluates the expression in that IANA time zone.
func ParseCron(expr, tz string) (cron.Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, ErrInvalidCron
	}

	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, errors.Join(ErrInvalidCron, err)
		}
		expr = "CRON_TZ=" + tz + " " + expr
	}

	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, errors.Join(ErrInvalidCron, err)
	}
	return sched, nil
}

// LastTick returns the latest tick of sched that is after `after` and not after now.
// Missed ticks collapse into the most recent one.
func LastTick(sched cron.Schedule, after, now time.Time) (time.Time, bool) {
	var (
		tick  time.Time
		found bool
	)
	for next := sched.Next(after); !next.IsZero() && !next.After(now); next = sched.Next(next) {
		tick, found = next, true
	}
	return tick, found
}
