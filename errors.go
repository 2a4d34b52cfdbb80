package anystore

import (
	"errors"
	"strings"
)

// ErrorKind is the closed set of failure classes callers and layers reason
// about. Backends map every native failure onto exactly one kind.
type ErrorKind int

const (
	// KindUnexpected is the catch-all for failures no other kind describes.
	KindUnexpected ErrorKind = iota
	KindNotFound
	KindAlreadyExists
	KindPermissionDenied
	// KindUnsupported is returned when the capability gate rejects a call.
	KindUnsupported
	KindRateLimited
	KindInvalidInput
	KindInvalidState
	KindConditionNotMatch
)

var (
	// ErrUnexpected matches errors of KindUnexpected.
	ErrUnexpected = errors.New("unexpected")
	// ErrNotFound is returned when a path does not exist
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when a conditional create finds an existing path
	ErrAlreadyExists = errors.New("already exists")
	// ErrPermissionDenied is returned when the backend refuses access
	ErrPermissionDenied = errors.New("permission denied")
	// ErrUnsupported is returned when an operation is not in the capability
	ErrUnsupported = errors.New("unsupported")
	// ErrRateLimited is returned when a backend or an admission gate throttles a call
	ErrRateLimited = errors.New("rate limited")
	// ErrInvalidInput is returned when a path or argument is malformed
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidState is returned when a handle is used outside its lifecycle
	ErrInvalidState = errors.New("invalid state")
	// ErrConditionNotMatch is returned when a precondition such as If-Match fails
	ErrConditionNotMatch = errors.New("condition not match")
)

var kindSentinels = [...]error{
	KindUnexpected:        ErrUnexpected,
	KindNotFound:          ErrNotFound,
	KindAlreadyExists:     ErrAlreadyExists,
	KindPermissionDenied:  ErrPermissionDenied,
	KindUnsupported:       ErrUnsupported,
	KindRateLimited:       ErrRateLimited,
	KindInvalidInput:      ErrInvalidInput,
	KindInvalidState:      ErrInvalidState,
	KindConditionNotMatch: ErrConditionNotMatch,
}

func (k ErrorKind) sentinel() error {
	if k < 0 || int(k) >= len(kindSentinels) {
		return ErrUnexpected
	}
	return kindSentinels[k]
}

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindPermissionDenied:
		return "PermissionDenied"
	case KindUnsupported:
		return "Unsupported"
	case KindRateLimited:
		return "RateLimited"
	case KindInvalidInput:
		return "InvalidInput"
	case KindInvalidState:
		return "InvalidState"
	case KindConditionNotMatch:
		return "ConditionNotMatch"
	default:
		return "Unexpected"
	}
}

// Temporary reports the default retry classification of the kind.
func (k ErrorKind) Temporary() bool {
	return k == KindRateLimited
}

// Error is the error value every accessor, layer and the Operator return.
//
// Unwrap yields both the kind sentinel and the backend cause, so
// errors.Is(err, ErrNotFound) and errors.Is(err, cause) both hold.
type Error struct {
	Kind      ErrorKind
	Operation Operation
	Path      string
	Backend   string
	Message   string
	// Temporary reports that retrying the same call may succeed.
	Temporary bool
	Cause     error
}

// NewError creates an error with the default retry classification of kind.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message, Temporary: kind.Temporary()}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Operation != OpUnknown {
		b.WriteString(e.Operation.String())
	}
	if e.Path != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(e.Path)
	}
	if e.Backend != "" {
		b.WriteString(" [")
		b.WriteString(e.Backend)
		b.WriteByte(']')
	}
	if b.Len() > 0 {
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Temporary {
		b.WriteString(" (temporary)")
	} else {
		b.WriteString(" (permanent)")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind.sentinel()}
	}
	return []error{e.Kind.sentinel(), e.Cause}
}

// WithOperation returns a copy of e tagged with op.
func (e *Error) WithOperation(op Operation) *Error {
	c := *e
	c.Operation = op
	return &c
}

// WithPath returns a copy of e tagged with path.
func (e *Error) WithPath(path string) *Error {
	c := *e
	c.Path = path
	return &c
}

// WithBackend returns a copy of e tagged with the backend scheme.
func (e *Error) WithBackend(backend string) *Error {
	c := *e
	c.Backend = backend
	return &c
}

// WithCause returns a copy of e wrapping cause.
func (e *Error) WithCause(cause error) *Error {
	c := *e
	c.Cause = cause
	return &c
}

// WithTemporary returns a copy of e with the given retry classification.
func (e *Error) WithTemporary(temporary bool) *Error {
	c := *e
	c.Temporary = temporary
	return &c
}

// fill tags e with whatever context it is missing.
func (e *Error) fill(op Operation, path, backend string) *Error {
	if (e.Operation != OpUnknown || op == OpUnknown) &&
		(e.Path != "" || path == "") &&
		(e.Backend != "" || backend == "") {
		return e
	}
	c := *e
	if c.Operation == OpUnknown {
		c.Operation = op
	}
	if c.Path == "" {
		c.Path = path
	}
	if c.Backend == "" {
		c.Backend = backend
	}
	return &c
}

// KindOf returns the kind of err. Errors that are not an *Error, other than
// nil, are KindUnexpected.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// IsRetryable reports whether err is marked temporary.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Temporary
}

func unsupportedError(op Operation, path, backend string) *Error {
	return &Error{
		Kind:      KindUnsupported,
		Operation: op,
		Path:      path,
		Backend:   backend,
		Message:   "operation is not supported by this accessor",
	}
}

func invalidStateError(op Operation, path, message string) *Error {
	return &Error{Kind: KindInvalidState, Operation: op, Path: path, Message: message}
}
