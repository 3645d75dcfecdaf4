package store

import "errors"

var (
	ErrNotFound           = errors.New("store: not found")
	ErrUsageLimitExceeded = errors.New("store: usage limit exceeded")
	ErrActiveKeyExists    = errors.New("store: active key already exists")
	ErrAlreadyRevoked     = errors.New("store: key already revoked")
	ErrKeyInactive        = errors.New("store: key inactive")
)
