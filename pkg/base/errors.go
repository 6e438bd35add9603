package base

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrNotConnected is returned by session-dependent operations invoked while
// the connection is closed. It indicates a sequencing mistake in the caller,
// not a transient fault.
var ErrNotConnected = errors.New("not connected to mail server")

// ConnectionError reports a failed session establishment. The connection
// stays closed; retrying is the caller's decision.
type ConnectionError struct {
	Addr  string
	Cause error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to %s: %v", e.Addr, e.Cause)
}

func (e *ConnectionError) Unwrap() error {
	return e.Cause
}
