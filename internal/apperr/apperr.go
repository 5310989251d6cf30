// Package apperr holds the operational error taxonomy shared by the cart,
// order and payment services. Operational errors carry a message that is safe
// to return to API callers; anything else is treated as an internal failure.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

type Kind string

const (
	KindNotFound                  Kind = "not_found"
	KindValidationFailed          Kind = "validation_failed"
	KindInsufficientStock         Kind = "insufficient_stock"
	KindPriceOrAvailabilityIssue  Kind = "price_or_availability_issue"
	KindEmptyCart                 Kind = "empty_cart"
	KindCheckoutBlocked           Kind = "checkout_blocked"
	KindInvalidTransition         Kind = "invalid_transition"
	KindInvalidState              Kind = "invalid_state"
	KindInvalidSignature          Kind = "invalid_signature"
	KindPaymentVerificationFailed Kind = "payment_verification_failed"
	KindGatewayUnavailable        Kind = "gateway_unavailable"
	KindConflict                  Kind = "conflict"
	KindUnauthorized              Kind = "unauthorized"
	KindForbidden                 Kind = "forbidden"
)

type Error struct {
	Kind    Kind
	Message string

	// Issues is set for CheckoutBlocked.
	Issues []string
	// Available is set for InsufficientStock.
	Available int
	// From / To are set for InvalidTransition.
	From, To string
}

func (e *Error) Error() string { return e.Message }

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidationFailed, Message: fmt.Sprintf(format, args...)}
}

func InsufficientStock(available int, format string, args ...any) *Error {
	return &Error{Kind: KindInsufficientStock, Message: fmt.Sprintf(format, args...), Available: available}
}

func Unavailable(format string, args ...any) *Error {
	return &Error{Kind: KindPriceOrAvailabilityIssue, Message: fmt.Sprintf(format, args...)}
}

func EmptyCart() *Error {
	return &Error{Kind: KindEmptyCart, Message: "Cart is empty"}
}

func CheckoutBlocked(issues []string) *Error {
	return &Error{
		Kind:    KindCheckoutBlocked,
		Message: "Cart validation failed: " + strings.Join(issues, ", "),
		Issues:  issues,
	}
}

func InvalidTransition(from, to string) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("Cannot transition from %s to %s", from, to),
		From:    from,
		To:      to,
	}
}

func InvalidState(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func InvalidSignature(msg string) *Error {
	return &Error{Kind: KindInvalidSignature, Message: msg}
}

func PaymentVerificationFailed() *Error {
	return &Error{Kind: KindPaymentVerificationFailed, Message: "Payment verification failed"}
}

func GatewayUnavailable() *Error {
	return &Error{Kind: KindGatewayUnavailable, Message: "Payment service not configured"}
}

func Conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(msg string) *Error {
	return &Error{Kind: KindUnauthorized, Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindForbidden, Message: msg}
}

// As unwraps err into an operational error.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the operational kind of err, or "" for internal failures.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return ""
}

func Is(err error, k Kind) bool { return KindOf(err) == k }

func HTTPStatus(k Kind) int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindValidationFailed, KindInsufficientStock, KindPriceOrAvailabilityIssue,
		KindEmptyCart, KindCheckoutBlocked, KindInvalidTransition, KindInvalidState,
		KindInvalidSignature, KindPaymentVerificationFailed:
		return http.StatusBadRequest
	case KindConflict:
		return http.StatusConflict
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
