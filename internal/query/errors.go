package query

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind int

const (
	KindValidation ErrorKind = iota
	KindNotFound
	KindConstraint
	KindAdapter
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConstraint:
		return "constraint"
	case KindAdapter:
		return "adapter"
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

type QueryError struct {
	msg    string
	status int
	err    error
}

func NewQueryError(status int, msg string) *QueryError {
	return &QueryError{msg: msg, status: status}
}

func ValidationError(format string, args ...any) *QueryError {
	return NewQueryError(http.StatusBadRequest, fmt.Sprintf(format, args...))
}

func NotFoundError(format string, args ...any) *QueryError {
	return NewQueryError(http.StatusNotFound, fmt.Sprintf(format, args...))
}

func ConstraintError(format string, args ...any) *QueryError {
	return NewQueryError(http.StatusConflict, fmt.Sprintf(format, args...))
}

// AdapterError wraps a storage failure. Context errors and query errors
// pass through untouched.
func AdapterError(err error) error {
	if err == nil {
		return nil
	}
	var q_err *QueryError
	if errors.As(err, &q_err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || err == ErrStop {
		return err
	}
	return &QueryError{msg: err.Error(), status: http.StatusInternalServerError, err: err}
}

func (e QueryError) Error() string { return e.msg }
func (e QueryError) Status() int   { return e.status }
func (e QueryError) Unwrap() error { return e.err }

func (e QueryError) Kind() ErrorKind {
	switch e.status {
	case http.StatusBadRequest:
		return KindValidation
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusConflict:
		return KindConstraint
	}
	return KindAdapter
}

func kindOf(err error) (ErrorKind, bool) {
	var q_err *QueryError
	if !errors.As(err, &q_err) {
		return 0, false
	}
	return q_err.Kind(), true
}

func IsValidation(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindValidation
}

func IsNotFound(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindNotFound
}

func IsConstraint(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindConstraint
}

func IsAdapter(err error) bool {
	k, ok := kindOf(err)
	return ok && k == KindAdapter
}

// ErrStop ends a query early without an error when returned from a row callback.
var ErrStop = errors.New("stop")
