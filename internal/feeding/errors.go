package feeding

import "errors"

var (
	// ErrSessionNotFound is returned when an update targets a session
	// that was never started or is already resolved.
	ErrSessionNotFound = errors.New("feed session not found")

	// ErrNoActiveSession is returned by Active when no feed is running.
	ErrNoActiveSession = errors.New("no active feed session")
)
