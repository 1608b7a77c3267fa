package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by the ledger and order services
type ErrorKind string

const (
	KindAssetNotEnough     ErrorKind = "ASSET_NOT_ENOUGH"
	KindCustomerNotFound   ErrorKind = "CUSTOMER_NOT_FOUND"
	KindOrderNotFound      ErrorKind = "ORDER_NOT_FOUND"
	KindOrderNotEligible   ErrorKind = "ORDER_NOT_ELIGIBLE"
	KindAssetNotFound      ErrorKind = "ASSET_NOT_FOUND"
	KindConflict           ErrorKind = "CONFLICT"
	KindInvalidRequest     ErrorKind = "INVALID_REQUEST"
	KindDuplicateEmail     ErrorKind = "DUPLICATE_EMAIL"
	KindInvalidCredentials ErrorKind = "INVALID_CREDENTIALS"
	KindForbidden          ErrorKind = "FORBIDDEN"
)

// Error is a classified failure. Two errors match under errors.Is when their
// kinds are equal and the target carries no message of its own, so the
// package level sentinels below match any error of the same kind.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Message == "" || t.Message == e.Message)
}

var (
	ErrAssetNotEnough     = &Error{Kind: KindAssetNotEnough}
	ErrCustomerNotFound   = &Error{Kind: KindCustomerNotFound}
	ErrOrderNotFound      = &Error{Kind: KindOrderNotFound}
	ErrOrderNotEligible   = &Error{Kind: KindOrderNotEligible}
	ErrAssetNotFound      = &Error{Kind: KindAssetNotFound}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrInvalidRequest     = &Error{Kind: KindInvalidRequest}
	ErrDuplicateEmail     = &Error{Kind: KindDuplicateEmail}
	ErrInvalidCredentials = &Error{Kind: KindInvalidCredentials}
	ErrForbidden          = &Error{Kind: KindForbidden}
)

func AssetNotEnough(instrument Instrument) *Error {
	return &Error{Kind: KindAssetNotEnough, Message: fmt.Sprintf("asset %s has not enough size", instrument)}
}

func CustomerNotFound(customerID string) *Error {
	return &Error{Kind: KindCustomerNotFound, Message: fmt.Sprintf("customer not found with id %s", customerID)}
}

func OrderNotFound(orderID string) *Error {
	return &Error{Kind: KindOrderNotFound, Message: fmt.Sprintf("order not found with id %s", orderID)}
}

func OrderNotEligible(orderID string, status OrderStatus) *Error {
	return &Error{
		Kind:    KindOrderNotEligible,
		Message: fmt.Sprintf("order %s is %s, only pending orders can be canceled or matched", orderID, status),
	}
}

func AssetNotFound(customerID string, instrument Instrument) *Error {
	return &Error{
		Kind:    KindAssetNotFound,
		Message: fmt.Sprintf("asset not found for customer %s and instrument %s", customerID, instrument),
	}
}

func Conflict(resource string, cause error) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf("%s was modified concurrently, retry the request", resource), Err: cause}
}

func InvalidRequest(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidRequest, Message: fmt.Sprintf(format, args...)}
}

func DuplicateEmail(email string) *Error {
	return &Error{Kind: KindDuplicateEmail, Message: fmt.Sprintf("email already exists: %s", email)}
}

func InvalidCredentials() *Error {
	return &Error{Kind: KindInvalidCredentials, Message: "invalid email or password"}
}

func Forbidden(format string, args ...any) *Error {
	return &Error{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of the first classified error in err's chain, or
// the empty kind when err is not classified.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
