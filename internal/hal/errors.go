package hal

import "errors"

// Sentinel errors shared by board implementations.
var (
	// ErrReadFailed indicates a sensor read that produced no usable
	// sample. Callers skip the sample and retry on the next cycle.
	ErrReadFailed = errors.New("hal: sensor read failed")

	// ErrUnknownChannel indicates an input or output the board does
	// not have.
	ErrUnknownChannel = errors.New("hal: unknown channel")
)
