package memory

import (
	"context"
	"sync"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

// AccessLogStore is an in-memory append-only log of access attempts.
// It is intended for use in tests and dev environments.
type AccessLogStore struct {
	mu      sync.Mutex
	entries []types.AccessLog
}

func NewAccessLogStore() *AccessLogStore {
	return &AccessLogStore{}
}

func (s *AccessLogStore) Append(_ context.Context, entry types.AccessLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry.ID = int64(len(s.entries) + 1)
	s.entries = append(s.entries, entry)
	return nil
}

// Entries returns a copy of all recorded entries.  Test-only helper.
func (s *AccessLogStore) Entries() []types.AccessLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.AccessLog, len(s.entries))
	copy(out, s.entries)
	return out
}
