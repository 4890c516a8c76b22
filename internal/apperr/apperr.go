// Package apperr defines the error kinds surfaced by the trading core and
// their mapping to transport status codes.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
)

type Kind int

const (
	KindInternal Kind = iota
	KindAuthentication
	KindAuthorization
	KindValidation
	KindNotFound
	KindBusinessRule
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "AUTHENTICATION"
	case KindAuthorization:
		return "AUTHORIZATION"
	case KindValidation:
		return "VALIDATION"
	case KindNotFound:
		return "NOT_FOUND"
	case KindBusinessRule:
		return "BUSINESS_RULE_VIOLATION"
	case KindConflict:
		return "CONFLICT"
	}
	return "INTERNAL"
}

func (k Kind) HTTPStatus() int {
	switch k {
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindBusinessRule:
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// ErrGuard is returned by stores when a compare-and-swap update matched no
// row because the guarded value changed underneath the caller.
var ErrGuard = errors.New("concurrent update guard tripped")

// Error carries a kind, a client-safe message and optional structured detail.
// Err holds the underlying cause and is never shown to clients.
type Error struct {
	Kind    Kind
	Message string
	Detail  map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Code is the stable error code sent to clients.
func (e *Error) Code() string {
	return e.Kind.String()
}

// WithDetail returns e with key set in its detail map.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Detail == nil {
		e.Detail = make(map[string]any)
	}
	e.Detail[key] = value
	return e
}

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Authentication(msg string) *Error { return New(KindAuthentication, msg) }

func Authorization(msg string) *Error { return New(KindAuthorization, msg) }

func Validation(msg string) *Error { return New(KindValidation, msg) }

func Validationf(format string, args ...any) *Error {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

func NotFound(msg string) *Error { return New(KindNotFound, msg) }

func BusinessRule(msg string) *Error { return New(KindBusinessRule, msg) }

func Conflict(msg string, err error) *Error { return Wrap(KindConflict, msg, err) }

func Internal(err error) *Error { return Wrap(KindInternal, "internal error", err) }

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf classifies any error. Unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	if IsConflict(err) {
		return KindConflict
	}
	return KindInternal
}

// IsConflict reports whether err means a concurrent writer won: a tripped
// guard, a serialization failure or a deadlock victim.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrGuard) {
		return true
	}
	var e *Error
	if errors.As(err, &e) && e.Kind == KindConflict {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return true
		}
	}
	return false
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	e, ok := As(err)
	return ok && e.Kind == kind
}
