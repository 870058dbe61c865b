// Package timeofday parses 24-hour "HH:MM" wall-clock values and computes
// the next UTC occurrence of one.
package timeofday

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
)

var ErrInvalid = errors.New("time of day must be in HH:MM format (00:00-23:59)")

// TimeOfDay is an hour and minute in UTC.
type TimeOfDay struct {
	Hour   int
	Minute int
}

// Parse accepts exactly five characters "HH:MM".
func Parse(s string) (TimeOfDay, error) {
	if len(s) != 5 || s[2] != ':' || !digits(s[:2]) || !digits(s[3:]) {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	h, _ := strconv.Atoi(s[:2])
	m, _ := strconv.Atoi(s[3:])
	if h > 23 || m > 59 {
		return TimeOfDay{}, fmt.Errorf("%w: %q", ErrInvalid, s)
	}

	return TimeOfDay{Hour: h, Minute: m}, nil
}

func digits(s string) bool {
	for i := range len(s) {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d", t.Hour, t.Minute)
}

// Schedule returns a daily cron schedule firing at t in UTC.
func (t TimeOfDay) Schedule() cron.Schedule {
	// Parsing a fixed-shape spec built from validated fields cannot fail.
	sched, err := cron.ParseStandard(fmt.Sprintf("CRON_TZ=UTC %d %d * * *", t.Minute, t.Hour))
	if err != nil {
		panic(fmt.Sprintf("timeofday: build schedule for %s: %v", t, err))
	}
	return sched
}

// Next returns the first occurrence of t strictly after now, in UTC.
func (t TimeOfDay) Next(now time.Time) time.Time {
	return t.Schedule().Next(now.UTC()).UTC()
}
