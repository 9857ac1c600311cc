package mailbox

import (
	"errors"
	"fmt"
)

// Error kinds. Match with errors.Is.
var (
	// ErrAuthExpired means the connection has no usable refresh path and the
	// user has to reconnect.
	ErrAuthExpired = errors.New("mailbox authorization expired")
	// ErrRateLimited is retryable with backoff.
	ErrRateLimited = errors.New("mailbox rate limited")
	// ErrNotFound is reported per item and never fails a batch.
	ErrNotFound = errors.New("message not found")
	// ErrNoConnection means there is no mailbox connection at all.
	ErrNoConnection = errors.New("no mailbox connection")
	// ErrLimitExceeded marks a query-driven operation that stopped at its ceiling.
	ErrLimitExceeded = errors.New("limit exceeded")
)

// Error carries the operation and item that failed alongside its kind.
type Error struct {
	Kind error
	Op   string
	ID   string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Op
	if e.ID != "" {
		msg += " " + e.ID
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", msg, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", msg, e.Kind)
}

// Is matches the error kind.
func (e *Error) Is(target error) bool {
	return e.Kind == target
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an *Error.
func NewError(kind error, op, id string, err error) *Error {
	return &Error{Kind: kind, Op: op, ID: id, Err: err}
}

// IsFatal reports whether err invalidates the whole connection rather than a
// single operation.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrNoConnection)
}
