package audit

import "errors"

// ErrNotFound is returned when a resolution targets a command ID that
// was never recorded or is already resolved.
var ErrNotFound = errors.New("command record not found")
