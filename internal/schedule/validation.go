package schedule

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/pondlogic/feeder-core/internal/feeder"
)

// Validation constants.
const (
	maxNameLength = 100
	minGrams      = 1.0
	maxGrams      = 1000.0 // device refuses amounts above this
	timePattern   = `^([01][0-9]|2[0-3]):[0-5][0-9]$`
)

var timeRegex = regexp.MustCompile(timePattern)

// Pre-computed validation set for day name lookups.
var validDays map[string]struct{}

func init() {
	validDays = make(map[string]struct{}, len(AllDays()))
	for _, d := range AllDays() {
		validDays[d] = struct{}{}
	}
}

// ValidateSchedule checks a schedule before it is stored.
// Returns an error describing the first validation failure found.
func ValidateSchedule(s *Schedule) error {
	if s == nil {
		return ErrInvalidSchedule
	}

	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrInvalidSchedule)
	}
	if len(s.Name) > maxNameLength {
		return fmt.Errorf("%w: name exceeds %d characters", ErrInvalidSchedule, maxNameLength)
	}

	// Strict HH:MM so the stored value matches the scheduler's
	// now.Format("15:04") comparison exactly.
	if !timeRegex.MatchString(s.TimeOfDay) {
		return fmt.Errorf("%w: time_of_day must be 24h HH:MM", ErrInvalidSchedule)
	}

	for _, d := range s.DaysOfWeek {
		if _, ok := validDays[d]; !ok {
			return fmt.Errorf("%w: invalid day %q", ErrInvalidSchedule, d)
		}
	}

	switch s.Mode {
	case ModePreset:
		if !feeder.FeedPreset(s.Preset).IsValid() {
			return fmt.Errorf("%w: preset must be small, medium or large", ErrInvalidSchedule)
		}
	case ModeGrams:
		if s.Grams == nil || *s.Grams < minGrams || *s.Grams > maxGrams {
			return fmt.Errorf("%w: grams must be %g-%g", ErrInvalidSchedule, minGrams, maxGrams)
		}
	default:
		return fmt.Errorf("%w: mode must be preset or grams", ErrInvalidSchedule)
	}

	return nil
}
