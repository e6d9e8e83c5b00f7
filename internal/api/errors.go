package api

import (
	"errors"
	"fmt"
)

var ErrInvalidRequest = errors.New("invalid_request")

type invalidRequestError struct {
	msg string
}

func (e invalidRequestError) Error() string {
	return e.msg
}

func (e invalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

func newInvalidRequest(format string, args ...any) error {
	return invalidRequestError{msg: fmt.Sprintf(format, args...)}
}
