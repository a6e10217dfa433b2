package schedule

import "errors"

var (
	// ErrScheduleNotFound is returned when a schedule ID does not exist.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrScheduleExists is returned when creating a schedule with an ID
	// that is already taken.
	ErrScheduleExists = errors.New("schedule already exists")

	// ErrInvalidSchedule is returned when a schedule fails validation.
	ErrInvalidSchedule = errors.New("invalid schedule")
)
