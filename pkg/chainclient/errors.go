package chainclient

import (
	"errors"
	"fmt"
)

// ErrConfirmationTimeout is returned when no receipt arrives within the wait bound.
// The transaction may still confirm later.
var ErrConfirmationTimeout = errors.New("confirmation timeout")

// ChainReadError wraps an RPC failure while reading contract state
type ChainReadError struct {
	Method string
	Err    error
}

func (e *ChainReadError) Error() string {
	return fmt.Sprintf("chain read %s failed: %v", e.Method, e.Err)
}

func (e *ChainReadError) Unwrap() error {
	return e.Err
}

// GasEstimationError wraps a failed gas estimation, usually a call that would revert
type GasEstimationError struct {
	Err error
}

func (e *GasEstimationError) Error() string {
	return fmt.Sprintf("gas estimation failed: %v", e.Err)
}

func (e *GasEstimationError) Unwrap() error {
	return e.Err
}
