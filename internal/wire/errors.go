package wire

import "errors"

// Sentinel errors for protocol parsing and encoding.
// Wrap with fmt.Errorf("%w: detail", ...) and test with errors.Is.
var (
	// ErrInvalidToken indicates a command token that does not match the
	// device grammar.
	ErrInvalidToken = errors.New("wire: invalid command token")

	// ErrInvalidFrame indicates a malformed device frame.
	ErrInvalidFrame = errors.New("wire: invalid frame")

	// ErrNotRepresentable indicates a domain command with no wire
	// equivalent.
	ErrNotRepresentable = errors.New("wire: command not representable")
)
