package feeder

import "errors"

// Domain errors for the bridge package.
var (
	// ErrLinkDown is returned when a command cannot be relayed because
	// the device link is not connected.
	ErrLinkDown = errors.New("bridge: device link down")

	// ErrSendFailed is returned when writing a line to the device fails.
	ErrSendFailed = errors.New("bridge: device send failed")

	// ErrLinkClosed is returned when an operation is attempted on a
	// closed device link.
	ErrLinkClosed = errors.New("bridge: device link closed")

	// ErrFeedActive is returned when a feed is requested while another
	// feed cycle is still running.
	ErrFeedActive = errors.New("bridge: feed cycle already running")

	// ErrHistoryUnavailable is returned when sensor history cannot be
	// served, either because InfluxDB is not configured or because its
	// circuit breaker is open.
	ErrHistoryUnavailable = errors.New("bridge: sensor history unavailable")

	// ErrPersistUnavailable is the failure fed to the circuit breaker
	// when the readings store reports itself disconnected.
	ErrPersistUnavailable = errors.New("bridge: readings store unavailable")
)
