package chat

import (
	"errors"
	"fmt"
)

var (
	ErrNotPaired   = errors.New("peer key not received yet")
	ErrRoomFull    = errors.New("room is full")
	ErrRoomExpired = errors.New("room expired")
	ErrServer      = errors.New("relay error")
	ErrEmptyText   = errors.New("message is empty")
)

// Error records which step of a chat failed.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func wrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
