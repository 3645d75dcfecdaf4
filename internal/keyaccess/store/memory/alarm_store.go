package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/store"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

// AlarmStore is the v1 alarm book. Alarms are lost on restart and are
// re-raised by the next monitor scan.
type AlarmStore struct {
	mu     sync.Mutex
	alarms map[string]types.TimeoutAlarm
	open   map[string]string // booking id -> unresolved alarm id
}

func NewAlarmStore() *AlarmStore {
	return &AlarmStore{
		alarms: make(map[string]types.TimeoutAlarm),
		open:   make(map[string]string),
	}
}

func (s *AlarmStore) Raise(_ context.Context, a types.TimeoutAlarm) (types.TimeoutAlarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.open[a.BookingID]; ok {
		cur := s.alarms[id]
		cur.OvertimeMinutes = a.OvertimeMinutes
		cur.UpdatedAt = a.UpdatedAt
		if !a.CheckOut.IsZero() {
			cur.CheckOut = a.CheckOut
		}
		if a.GuestName != "" {
			cur.GuestName = a.GuestName
		}
		if a.RoomNumber != "" {
			cur.RoomNumber = a.RoomNumber
		}
		s.alarms[id] = cur
		return cur, nil
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.RaisedAt.IsZero() {
		a.RaisedAt = a.UpdatedAt
	}
	a.AcknowledgedAt, a.AcknowledgedBy, a.ResolvedAt = nil, "", nil
	s.alarms[a.ID] = a
	s.open[a.BookingID] = a.ID
	return a, nil
}

func (s *AlarmStore) Open(_ context.Context) ([]types.TimeoutAlarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.TimeoutAlarm, 0, len(s.open))
	for _, id := range s.open {
		out = append(out, s.alarms[id])
	}
	sortAlarms(out)
	return out, nil
}

func (s *AlarmStore) List(_ context.Context, includeHandled bool) ([]types.TimeoutAlarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.TimeoutAlarm, 0, len(s.alarms))
	for _, a := range s.alarms {
		if includeHandled || a.Active() {
			out = append(out, a)
		}
	}
	sortAlarms(out)
	return out, nil
}

func (s *AlarmStore) Acknowledge(_ context.Context, alarmID, staff string, at time.Time) (types.TimeoutAlarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alarms[alarmID]
	if !ok {
		return types.TimeoutAlarm{}, store.ErrNotFound
	}
	if a.AcknowledgedAt == nil {
		t := at.UTC()
		a.AcknowledgedAt = &t
		a.AcknowledgedBy = staff
		s.alarms[alarmID] = a
	}
	return a, nil
}

func (s *AlarmStore) Resolve(_ context.Context, bookingID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.open[bookingID]
	if !ok {
		return nil
	}
	a := s.alarms[id]
	t := at.UTC()
	a.ResolvedAt = &t
	s.alarms[id] = a
	delete(s.open, bookingID)
	return nil
}

func sortAlarms(a []types.TimeoutAlarm) {
	sort.Slice(a, func(i, j int) bool {
		if a[i].RaisedAt.Equal(a[j].RaisedAt) {
			return a[i].ID < a[j].ID
		}
		return a[i].RaisedAt.Before(a[j].RaisedAt)
	})
}
