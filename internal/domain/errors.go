package domain

import "errors"

var (
	ErrPermissionDenied   = errors.New("device access denied")
	ErrTransientNetwork   = errors.New("transient network failure")
	ErrPairingConflict    = errors.New("pairing code already claimed or expired")
	ErrSessionMissing     = errors.New("no session bound")
	ErrPaymentDeclined    = errors.New("payment declined")
	ErrPaymentCanceled    = errors.New("payment canceled by user")
	ErrPaymentInProgress  = errors.New("payment already in progress")
	ErrFinalizeFailed     = errors.New("session finalize failed")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrEmptyCart          = errors.New("cart is empty, nothing to pay")
	ErrDeviceTeardown     = errors.New("capture device torn down")
	ErrIllegalTransition  = errors.New("illegal state transition")
	ErrInvalidItem        = errors.New("invalid cart item")
	ErrCartLocked         = errors.New("cart follows the remote record once paired")
)

// ErrorKind is the user-facing category of an error.
type ErrorKind string

const (
	KindPermission      ErrorKind = "permission"
	KindTransient       ErrorKind = "transient"
	KindPairingConflict ErrorKind = "pairing_conflict"
	KindSessionMissing  ErrorKind = "session_missing"
	KindPayment         ErrorKind = "payment"
	KindFinalize        ErrorKind = "finalize"
	KindUnavailable     ErrorKind = "service_unavailable"
	KindInvalid         ErrorKind = "invalid"
	KindCartLocked      ErrorKind = "cart_locked"
	KindInternal        ErrorKind = "internal"
)

// Classify maps an error onto the taxonomy used by the UI layer.
func Classify(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return KindPermission
	case errors.Is(err, ErrSessionMissing):
		return KindSessionMissing
	case errors.Is(err, ErrPairingConflict):
		return KindPairingConflict
	case errors.Is(err, ErrPaymentDeclined), errors.Is(err, ErrPaymentCanceled), errors.Is(err, ErrPaymentInProgress):
		return KindPayment
	case errors.Is(err, ErrFinalizeFailed):
		return KindFinalize
	case errors.Is(err, ErrServiceUnavailable):
		return KindUnavailable
	case errors.Is(err, ErrTransientNetwork):
		return KindTransient
	case errors.Is(err, ErrCartLocked):
		return KindCartLocked
	case errors.Is(err, ErrEmptyCart), errors.Is(err, ErrInvalidItem):
		return KindInvalid
	default:
		return KindInternal
	}
}

// Blocking reports whether the kind requires a user action before anything else
// can proceed (grant permission, go pair).
func (k ErrorKind) Blocking() bool {
	return k == KindPermission || k == KindSessionMissing
}
