package m307

import (
	"errors"
	"fmt"
)

// Domain errors for the M307 package.
var (
	// ErrConnection is returned when the TCP connection cannot be opened,
	// is refused, or is closed by the device mid-exchange.
	ErrConnection = errors.New("m307: connection failed")

	// ErrNotConnected is returned when an operation needs an open session
	// but the session was never opened or has been closed.
	ErrNotConnected = fmt.Errorf("%w: not connected", ErrConnection)

	// ErrTimeout is returned when the device does not answer within the
	// request timeout or the context deadline.
	ErrTimeout = errors.New("m307: operation timed out")

	// ErrProtocol is returned when a reply violates the protocol: wrong
	// length, unexpected command echo or failed write verification.
	ErrProtocol = errors.New("m307: protocol error")

	// ErrFormat is returned when a field cannot be decoded, for example a
	// byte that is not valid BCD.
	ErrFormat = errors.New("m307: malformed field")

	// ErrValidation is returned when a caller-supplied argument is invalid.
	// It is always returned before any bytes are sent.
	ErrValidation = errors.New("m307: invalid argument")

	// ErrRange is returned when a numeric value does not fit its encoding.
	ErrRange = errors.New("m307: value out of range")
)
