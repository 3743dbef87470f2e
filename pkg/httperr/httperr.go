package httperr

import (
	"errors"
	"fmt"
)

// BadRequestError marks caller input the server refuses to process.
type BadRequestError struct {
	msg string
}

func (e *BadRequestError) Error() string { return e.msg }

func NewBadRequest(msg string) error { return &BadRequestError{msg: msg} }

func BadRequestf(format string, args ...any) error {
	return &BadRequestError{msg: fmt.Sprintf(format, args...)}
}

func IsBadRequest(err error) bool {
	_, ok := errors.AsType[*BadRequestError](err)
	return ok
}

// ForbiddenError is raised by handlers that narrow results per permission,
// after the route-level authz check has already passed.
type ForbiddenError struct {
	Object string
}

func (e *ForbiddenError) Error() string { return "forbidden: " + e.Object }

func NewForbidden(object string) error { return &ForbiddenError{Object: object} }

func IsForbidden(err error) bool {
	_, ok := errors.AsType[*ForbiddenError](err)
	return ok
}
