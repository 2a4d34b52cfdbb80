package anystore

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"syscall"
)

// MapFunc classifies a native backend failure. It returns ok == false when
// it does not recognise err, letting the next MapFunc try.
type MapFunc func(err error) (kind ErrorKind, temporary bool, ok bool)

// ErrorMapper turns native failures into *Error values. The mapping is
// total: anything no MapFunc recognises becomes KindUnexpected and is logged
// as a mapping gap.
type ErrorMapper struct {
	backend string
	funcs   []MapFunc
	logger  *slog.Logger
}

// NewErrorMapper creates a mapper for the backend. The given funcs run in
// order, followed by MapStdError.
func NewErrorMapper(backend string, funcs ...MapFunc) *ErrorMapper {
	all := make([]MapFunc, 0, len(funcs)+1)
	all = append(all, funcs...)
	all = append(all, MapStdError)
	return &ErrorMapper{backend: backend, funcs: all}
}

// WithLogger returns a copy of m that reports mapping gaps to logger.
func (m *ErrorMapper) WithLogger(logger *slog.Logger) *ErrorMapper {
	c := *m
	c.logger = logger
	return &c
}

// Map classifies err and tags it with op and path. Errors that already are
// an *Error keep their kind and only gain missing context.
func (m *ErrorMapper) Map(op Operation, path string, err error) error {
	if err == nil {
		return nil
	}

	var e *Error
	if errors.As(err, &e) {
		return e.fill(op, path, m.backend)
	}

	for _, fn := range m.funcs {
		if kind, temporary, ok := fn(err); ok {
			return &Error{
				Kind:      kind,
				Operation: op,
				Path:      path,
				Backend:   m.backend,
				Temporary: temporary,
				Cause:     err,
			}
		}
	}

	logger := m.logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("unmapped backend error",
		"backend", m.backend,
		"operation", op.String(),
		"path", path,
		"err", err,
	)

	return &Error{
		Kind:      KindUnexpected,
		Operation: op,
		Path:      path,
		Backend:   m.backend,
		Message:   "unmapped backend error",
		Cause:     err,
	}
}

// MapStdError classifies failures from the standard library: fs errors,
// context errors, syscall errors and network timeouts.
func MapStdError(err error) (ErrorKind, bool, bool) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindUnexpected, true, true
	case errors.Is(err, context.Canceled):
		return KindUnexpected, false, true
	case errors.Is(err, fs.ErrNotExist):
		return KindNotFound, false, true
	case errors.Is(err, fs.ErrExist):
		return KindAlreadyExists, false, true
	case errors.Is(err, fs.ErrPermission):
		return KindPermissionDenied, false, true
	case errors.Is(err, fs.ErrInvalid):
		return KindInvalidInput, false, true
	case errors.Is(err, fs.ErrClosed):
		return KindInvalidState, false, true
	case errors.Is(err, errors.ErrUnsupported):
		return KindUnsupported, false, true
	case errors.Is(err, syscall.EISDIR), errors.Is(err, syscall.ENOTDIR), errors.Is(err, syscall.ENAMETOOLONG):
		return KindInvalidInput, false, true
	case errors.Is(err, syscall.ENOTEMPTY):
		return KindInvalidState, false, true
	case errors.Is(err, syscall.ENOSPC):
		return KindUnexpected, false, true
	case errors.Is(err, io.ErrUnexpectedEOF):
		return KindUnexpected, true, true
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EPIPE):
		return KindUnexpected, true, true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindUnexpected, netErr.Timeout(), true
	}

	return KindUnexpected, false, false
}

// MapHTTPStatus classifies an HTTP response status. ok is false for
// statuses that do not describe a failure.
func MapHTTPStatus(status int) (kind ErrorKind, temporary bool, ok bool) {
	switch status {
	case http.StatusNotFound, http.StatusGone:
		return KindNotFound, false, true
	case http.StatusUnauthorized, http.StatusForbidden:
		return KindPermissionDenied, false, true
	case http.StatusConflict:
		return KindAlreadyExists, false, true
	case http.StatusPreconditionFailed, http.StatusNotModified:
		return KindConditionNotMatch, false, true
	case http.StatusTooManyRequests:
		return KindRateLimited, true, true
	case http.StatusBadRequest, http.StatusRequestedRangeNotSatisfiable,
		http.StatusRequestEntityTooLarge, http.StatusLengthRequired:
		return KindInvalidInput, false, true
	case http.StatusMethodNotAllowed, http.StatusNotImplemented:
		return KindUnsupported, false, true
	case http.StatusRequestTimeout, http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return KindUnexpected, true, true
	}

	return KindUnexpected, false, status >= 400
}

// HTTPStatusError creates an *Error for an unsuccessful HTTP response.
func HTTPStatusError(op Operation, path string, status int, message string) *Error {
	kind, temporary, _ := MapHTTPStatus(status)
	return &Error{
		Kind:      kind,
		Operation: op,
		Path:      path,
		Message:   message,
		Temporary: temporary,
	}
}
