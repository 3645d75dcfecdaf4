package service

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the stable, caller-facing name of an access failure.
type Kind string

const (
	KindTooEarly              Kind = "too_early"
	KindTooLate               Kind = "too_late"
	KindKeyInactive           Kind = "key_inactive"
	KindUsageLimitExceeded    Kind = "usage_limit_exceeded"
	KindRevoked               Kind = "revoked"
	KindInvalidSignature      Kind = "invalid_signature"
	KindExpired               Kind = "expired"
	KindDecodeError           Kind = "decode_error"
	KindActuationFailed       Kind = "actuation_failed"
	KindProviderNotConfigured Kind = "provider_not_configured"

	KindBookingNotFound Kind = "booking_not_found"
	KindBookingInactive Kind = "booking_inactive"
	KindForbidden       Kind = "forbidden"
	KindRoomMismatch    Kind = "room_mismatch"
	KindInvalidRequest  Kind = "invalid_request"
	KindNotFound        Kind = "not_found"
)

// AccessError is the only failure type the access paths return for
// expected outcomes. Anything else is an internal error.
type AccessError struct {
	Kind    Kind
	Message string

	// Boundary is the window edge for too_early / too_late.
	Boundary *time.Time
	// RemainingUses is set when the key is known; nil means unlimited or
	// unknown.
	RemainingUses *int
	// ErrorCode carries the driver's code for actuation_failed.
	ErrorCode string

	Err error
}

func (e *AccessError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AccessError) Unwrap() error { return e.Err }

// KindOf returns the access kind of err, or "" if err is not an AccessError.
func KindOf(err error) Kind {
	var ae *AccessError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

func accessErr(kind Kind, format string, args ...any) *AccessError {
	return &AccessError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func windowErr(kind Kind, boundary time.Time, msg string) *AccessError {
	b := boundary.UTC()
	return &AccessError{Kind: kind, Message: msg, Boundary: &b}
}
