package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound reports an unknown instance id.
	ErrNotFound = errors.New("instance not found")
	// ErrAlreadyExists reports a duplicate instance id.
	ErrAlreadyExists = errors.New("instance already exists")
	// ErrNotConnected reports an operation that needs an open session.
	ErrNotConnected = errors.New("session not connected")
	// ErrQRNotAvailable reports that no pairing challenge is pending.
	ErrQRNotAvailable = errors.New("no QR challenge available")
)

// SendError wraps a transport failure during an outbound send so callers
// can distinguish it from precondition errors like ErrNotConnected.
type SendError struct {
	To  string
	Err error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s failed: %v", e.To, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
