package memory

import (
	"context"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/store"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

// KeyStore keeps room keys in a map guarded by one mutex; every mutation is
// a check-and-set under that lock.
type KeyStore struct {
	mu   sync.Mutex
	keys map[string]types.RoomKey
	now  func() time.Time
}

func NewKeyStore() *KeyStore {
	return &KeyStore{
		keys: make(map[string]types.RoomKey),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *KeyStore) FindActive(_ context.Context, bookingID, roomID string, kind types.KeyKind) (*types.RoomKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k, ok := s.findActiveLocked(bookingID, roomID, kind); ok {
		return &k, nil
	}
	return nil, nil
}

func (s *KeyStore) findActiveLocked(bookingID, roomID string, kind types.KeyKind) (types.RoomKey, bool) {
	for _, k := range s.keys {
		if k.BookingID == bookingID && k.RoomID == roomID && k.Kind == kind && k.Usable() {
			return k, true
		}
	}
	return types.RoomKey{}, false
}

func (s *KeyStore) Get(_ context.Context, keyID string) (*types.RoomKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &k, nil
}

func (s *KeyStore) Create(_ context.Context, key types.RoomKey) (types.RoomKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key.Usable() {
		if existing, ok := s.findActiveLocked(key.BookingID, key.RoomID, key.Kind); ok {
			return existing, store.ErrActiveKeyExists
		}
	}
	now := s.now()
	if key.CreatedAt.IsZero() {
		key.CreatedAt = now
	}
	key.UpdatedAt = now
	s.keys[key.ID] = key
	return key, nil
}

func (s *KeyStore) IncrementUsage(_ context.Context, keyID string) (types.RoomKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyID]
	if !ok {
		return types.RoomKey{}, store.ErrNotFound
	}
	if !k.Usable() {
		return k, store.ErrKeyInactive
	}
	if k.Exhausted() {
		return k, store.ErrUsageLimitExceeded
	}
	k.UsedCount++
	k.UpdatedAt = s.now()
	s.keys[keyID] = k
	return k, nil
}

func (s *KeyStore) Revoke(_ context.Context, keyID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.keys[keyID]
	if !ok {
		return store.ErrNotFound
	}
	if k.Revoked {
		return store.ErrAlreadyRevoked
	}
	k.Active = false
	k.Revoked = true
	k.UpdatedAt = s.now()
	s.keys[keyID] = k
	return nil
}

func (s *KeyStore) RevokeAllForBooking(_ context.Context, bookingID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	now := s.now()
	for id, k := range s.keys {
		if k.BookingID != bookingID || !k.Usable() {
			continue
		}
		k.Active = false
		k.Revoked = true
		k.UpdatedAt = now
		s.keys[id] = k
		n++
	}
	return n, nil
}
