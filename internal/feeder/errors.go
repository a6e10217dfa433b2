package feeder

import "errors"

// Domain errors for the feeder package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, feeder.ErrUnknownTarget) {
//	    // handle unknown target
//	}
var (
	// ErrUnknownTarget is returned when a target name is not recognised.
	ErrUnknownTarget = errors.New("feeder: unknown target")

	// ErrUnknownAction is returned when an action is not recognised or
	// not allowed for the given target.
	ErrUnknownAction = errors.New("feeder: unknown action for target")

	// ErrInvalidValue is returned when a command's numeric argument is
	// outside the allowed range.
	ErrInvalidValue = errors.New("feeder: invalid value")

	// ErrMissingValue is returned when an action requires a numeric
	// argument and none was given.
	ErrMissingValue = errors.New("feeder: missing value")

	// ErrInvalidFeedRequest is returned when a feed request does not
	// specify exactly one of preset, grams, or sequence.
	ErrInvalidFeedRequest = errors.New("feeder: invalid feed request")

	// ErrFeedActive is returned when a feed is requested while another
	// feed cycle is still running.
	ErrFeedActive = errors.New("feeder: feed already in progress")

	// ErrDeviceOffline is returned when a command cannot be relayed
	// because the device link is down.
	ErrDeviceOffline = errors.New("feeder: device offline")
)
