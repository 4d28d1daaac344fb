package domain

import (
	"errors"
	"fmt"
)

var (
	ErrTransientNetwork = errors.New("transient network error")
	ErrRemoteRejection  = errors.New("remote rejection")
	ErrValidation       = errors.New("validation error")

	ErrEmptyCart       = fmt.Errorf("%w: cart is empty", ErrValidation)
	ErrMissingID       = fmt.Errorf("%w: missing product or variant id", ErrValidation)
	ErrInvalidQuantity = fmt.Errorf("%w: quantity must be at least 1", ErrValidation)
	ErrProductNotFound = errors.New("product not found")

	// ErrCartChanged means the cart moved on while a checkout was being
	// created; retrying checks out the current lines.
	ErrCartChanged = errors.New("cart changed during checkout")
)

// GatewayError describes a failed gateway call. It matches ErrTransientNetwork
// or ErrRemoteRejection via errors.Is.
type GatewayError struct {
	Action    Action
	Status    int
	Message   string
	Attempts  int
	Transient bool
	Err       error
}

func (e *GatewayError) Error() string {
	kind := "rejected"
	if e.Transient {
		kind = "transient failure"
	}
	msg := fmt.Sprintf("gateway %s: %s after %d attempt(s)", e.Action, kind, e.Attempts)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() []error {
	kind := ErrRemoteRejection
	if e.Transient {
		kind = ErrTransientNetwork
	}
	if e.Err == nil {
		return []error{kind}
	}
	return []error{kind, e.Err}
}
