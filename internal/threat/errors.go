package threat

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine errors. Findings are never errors; these only
// describe calls the engine refused or could not serve.
type ErrorKind uint8

const (
	KindUnknown ErrorKind = iota
	KindInvalidInput
	KindCatalogUnavailable
	KindInternal
)

func (k ErrorKind) String() string {
	switch k {
	case KindInvalidInput:
		return "invalid_input"
	case KindCatalogUnavailable:
		return "catalog_unavailable"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the engine's error type.
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Op != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
		}
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinels for errors.Is.
var (
	ErrInvalidInput       = &Error{Kind: KindInvalidInput, Message: "invalid input"}
	ErrCatalogUnavailable = &Error{Kind: KindCatalogUnavailable, Message: "rule catalog unavailable"}
)

// InvalidInput builds a KindInvalidInput error.
func InvalidInput(op, format string, args ...any) error {
	return &Error{Kind: KindInvalidInput, Op: op, Message: fmt.Sprintf(format, args...)}
}

// CatalogUnavailable builds a KindCatalogUnavailable error.
func CatalogUnavailable(op string, err error) error {
	return &Error{Kind: KindCatalogUnavailable, Op: op, Message: "rule catalog unavailable", Err: err}
}

// GetKind returns the ErrorKind of err, or KindUnknown.
func GetKind(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsInvalidInput reports whether err was caused by a malformed call.
func IsInvalidInput(err error) bool {
	return GetKind(err) == KindInvalidInput
}

// IsCatalogUnavailable reports whether err means no catalog was loaded.
func IsCatalogUnavailable(err error) bool {
	return GetKind(err) == KindCatalogUnavailable
}
