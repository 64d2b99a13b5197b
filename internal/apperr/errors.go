package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation     Kind = "validation"
	KindSignature      Kind = "signature"
	KindNotFound       Kind = "not_found"
	KindConflict       Kind = "conflict"
	KindDelivery       Kind = "delivery"
	KindInfrastructure Kind = "infrastructure"
)

// Error is the typed error carried across service boundaries. Message is
// safe to show to the caller; Err holds the underlying cause.
type Error struct {
	Kind    Kind
	Message string
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

// ErrConflict marks a row that another worker already claimed.
var ErrConflict = &Error{Kind: KindConflict, Message: "already claimed by another worker"}

func Validation(msg string) error {
	return &Error{Kind: KindValidation, Message: msg}
}

func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func NotFound(resource string) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s not found", resource)}
}

func Signature(msg string) error {
	return &Error{Kind: KindSignature, Message: msg}
}

func Delivery(err error, msg string) error {
	return &Error{Kind: KindDelivery, Message: msg, Err: err}
}

func Infrastructure(err error, op string) error {
	return &Error{Kind: KindInfrastructure, Message: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain, or
// KindInfrastructure for anything untyped.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInfrastructure
}

func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindSignature:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindDelivery:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage is the text a caller may see. Infrastructure details stay in logs.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind != KindInfrastructure {
		return e.Message
	}
	return "internal error occurred"
}
