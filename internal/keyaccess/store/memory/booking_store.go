package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/store"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

type BookingStore struct {
	mu       sync.RWMutex
	bookings map[string]types.Booking
}

func NewBookingStore(seed ...types.Booking) *BookingStore {
	s := &BookingStore{bookings: make(map[string]types.Booking, len(seed))}
	for _, b := range seed {
		s.bookings[b.ID] = b
	}
	return s
}

// Put inserts or replaces a booking.
func (s *BookingStore) Put(b types.Booking) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookings[b.ID] = b
}

func (s *BookingStore) Get(_ context.Context, bookingID string) (*types.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[bookingID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &b, nil
}

func (s *BookingStore) ListOverdue(_ context.Context, now time.Time) ([]types.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.Booking
	for _, b := range s.bookings {
		if !b.Open() {
			continue
		}
		if b.CheckOut.Before(now) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CheckOut.Before(out[j].CheckOut) })
	return out, nil
}

func (s *BookingStore) UpdateStatus(_ context.Context, bookingID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[bookingID]
	if !ok {
		return store.ErrNotFound
	}
	b.Status = status
	s.bookings[bookingID] = b
	return nil
}

func (s *BookingStore) MarkTimeoutNotified(_ context.Context, bookingID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[bookingID]
	if !ok {
		return store.ErrNotFound
	}
	t := at.UTC()
	b.TimeoutNotifiedAt = &t
	s.bookings[bookingID] = b
	return nil
}
