// Package schedule provides time-of-day feeding schedules and the
// scheduler that fires them.
//
// A schedule names a 24h wall-clock time, the days it runs, and what to
// feed (a preset or an explicit amount). The scheduler evaluates enabled
// schedules once a minute and hands due ones to a dispatcher. There is
// no catch-up: a feed missed while the service was down is skipped, the
// fish wait for the next slot.
package schedule

import "time"

// Feed modes.
const (
	ModePreset = "preset" // feed a configured small/medium/large preset
	ModeGrams  = "grams"  // feed an explicit amount
)

// Schedule is one recurring feed trigger.
type Schedule struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	TimeOfDay  string     `json:"time_of_day"`  // 24h "HH:MM" in the service timezone
	DaysOfWeek []string   `json:"days_of_week"` // lowercase three-letter day names
	Mode       string     `json:"mode"`
	Preset     string     `json:"preset,omitempty"` // small/medium/large when Mode is preset
	Grams      *float64   `json:"grams,omitempty"`  // amount when Mode is grams
	Enabled    bool       `json:"enabled"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"` // last successful trigger
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// dayNames is indexed by time.Weekday (Sunday = 0).
var dayNames = [7]string{"sun", "mon", "tue", "wed", "thu", "fri", "sat"}

// AllDays returns every day name in week order, the default for a
// schedule created without an explicit day set.
func AllDays() []string {
	return []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}
}

// DueAt reports whether the schedule should fire at the given instant:
// enabled, the weekday is in its day set, the wall clock reads its
// minute, and it has not already fired within that minute.
func (s *Schedule) DueAt(now time.Time) bool {
	if !s.Enabled {
		return false
	}
	if !s.runsOn(now.Weekday()) {
		return false
	}
	if now.Format("15:04") != s.TimeOfDay {
		return false
	}
	if s.LastRunAt != nil && !s.LastRunAt.Truncate(time.Minute).Before(now.Truncate(time.Minute)) {
		return false
	}
	return true
}

func (s *Schedule) runsOn(day time.Weekday) bool {
	name := dayNames[day]
	for _, d := range s.DaysOfWeek {
		if d == name {
			return true
		}
	}
	return false
}
