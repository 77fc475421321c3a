package gateway

import (
	"errors"
	"fmt"
)

type Kind int

const (
	// KindRejected: the provider answered with a business error.
	KindRejected Kind = iota + 1
	// KindUnreachable: timeout, network failure, 5xx or an answer we could not read.
	KindUnreachable
)

var (
	ErrRejected    = errors.New("gateway rejected request")
	ErrUnreachable = errors.New("gateway unreachable")
)

// Error carries the full request and response for the audit log. It is never
// shown to end users.
type Error struct {
	Kind         Kind
	Op           string
	StatusCode   int
	Code         string
	Message      string
	RequestBody  string
	ResponseBody string
	Err          error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindRejected:
		return fmt.Sprintf("gateway %s rejected: status=%d code=%s message=%s", e.Op, e.StatusCode, e.Code, e.Message)
	default:
		if e.Err != nil {
			return fmt.Sprintf("gateway %s unreachable: %v", e.Op, e.Err)
		}
		return fmt.Sprintf("gateway %s unreachable: status=%d %s", e.Op, e.StatusCode, e.Message)
	}
}

func (e *Error) Is(target error) bool {
	switch target {
	case ErrRejected:
		return e.Kind == KindRejected
	case ErrUnreachable:
		return e.Kind == KindUnreachable
	}
	return false
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var gwErr *Error
	if errors.As(err, &gwErr) {
		return gwErr, true
	}
	return nil, false
}

// ErrorCode returns the provider error code carried by err, if any.
func ErrorCode(err error) string {
	if gwErr, ok := AsError(err); ok {
		return gwErr.Code
	}
	return ""
}
