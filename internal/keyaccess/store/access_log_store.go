package store

import (
	"context"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

// AccessLogStore is an append-only audit trail of access attempts.
type AccessLogStore interface {
	Append(ctx context.Context, entry types.AccessLog) error
}
