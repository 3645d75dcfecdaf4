package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/notify"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/store"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

var ErrMonitorRunning = errors.New("timeout monitor already running")

// MonitorConfig holds the parameters for NewTimeoutMonitor.
type MonitorConfig struct {
	// Interval between scans. Defaults to one minute.
	Interval time.Duration

	// StaffAddress receives the staff-facing notification. Empty skips it.
	StaffAddress string

	Now func() time.Time

	// StatusHook is told whenever the loop starts or stops.
	StatusHook func(running bool)
}

type MonitorDeps struct {
	Bookings store.BookingStore
	Keys     store.KeyStore
	Alarms   store.AlarmStore
	Notifier notify.Notifier
	Logger   *log.Logger
}

// TimeoutMonitor scans open bookings past checkout on a fixed interval. A
// newly detected violation revokes the booking's keys, notifies guest and
// staff, and raises an alarm; later scans only refresh the alarm.
//
// Scans are serialised, so ScanNow and the ticker never overlap.
type TimeoutMonitor struct {
	deps     MonitorDeps
	interval time.Duration
	staff    string
	now      func() time.Time
	hook     func(bool)

	scanMu sync.Mutex

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	done     chan struct{}
	notified map[string]time.Time // booking ID -> check-out that was handled
	stats    types.MonitorStats
}

// NewTimeoutMonitor creates a monitor but does not start it.
func NewTimeoutMonitor(d MonitorDeps, cfg MonitorConfig) *TimeoutMonitor {
	interval := cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &TimeoutMonitor{
		deps:     d,
		interval: interval,
		staff:    cfg.StaffAddress,
		now:      now,
		hook:     cfg.StatusHook,
		notified: make(map[string]time.Time),
	}
}

// Start runs an immediate scan and then one per interval until Stop. The
// loop keeps ctx's values but not its cancellation, so it may be started
// from a request handler.
func (m *TimeoutMonitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrMonitorRunning
	}

	ctx, m.cancel = context.WithCancel(context.WithoutCancel(ctx))
	m.done = make(chan struct{})
	m.running = true
	go m.loop(ctx, m.done)

	m.deps.Logger.Printf("timeout monitor started (interval=%s)", m.interval)
	if m.hook != nil {
		m.hook(true)
	}
	return nil
}

// Stop signals the loop to exit and waits for it. Safe to call when not
// running.
func (m *TimeoutMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel, done := m.cancel, m.done
	m.mu.Unlock()

	cancel()
	<-done

	m.deps.Logger.Printf("timeout monitor stopped")
	if m.hook != nil {
		m.hook(false)
	}
}

func (m *TimeoutMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *TimeoutMonitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	m.tick(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

// tick swallows the error: a failed scan is retried on the next tick.
func (m *TimeoutMonitor) tick(ctx context.Context) {
	if _, err := m.ScanNow(ctx); err != nil && ctx.Err() == nil {
		m.deps.Logger.Printf("timeout scan failed: %v", err)
	}
}

// ScanNow runs one scan synchronously.
func (m *TimeoutMonitor) ScanNow(ctx context.Context) (types.ScanReport, error) {
	m.scanMu.Lock()
	defer m.scanMu.Unlock()

	now := m.now()
	report := types.ScanReport{At: now}

	overdue, err := m.deps.Bookings.ListOverdue(ctx, now)
	if err != nil {
		err = fmt.Errorf("list overdue bookings: %w", err)
		m.finishScan(report, err)
		return report, err
	}

	seen := make(map[string]struct{}, len(overdue))
	for _, b := range overdue {
		report.Checked++
		seen[b.ID] = struct{}{}
		fresh, err := m.handle(ctx, b, now, &report)
		if err != nil {
			report.Failed++
			m.deps.Logger.Printf("timeout handling failed booking=%s err=%v", b.ID, err)
			continue
		}
		if fresh {
			report.Violations++
		}
	}

	m.resolveClosed(ctx, seen, now)
	m.finishScan(report, nil)
	return report, nil
}

// handle processes one overdue booking. It reports whether this scan was
// the first to see the violation. Panics are contained to the booking.
func (m *TimeoutMonitor) handle(ctx context.Context, b types.Booking, now time.Time, report *types.ScanReport) (fresh bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			fresh, err = false, fmt.Errorf("panic: %v", r)
		}
	}()

	overtime := int(now.Sub(b.CheckOut) / time.Minute)

	m.mu.Lock()
	handled, ok := m.notified[b.ID]
	m.mu.Unlock()
	already := (ok && handled.Equal(b.CheckOut)) || b.OverdueHandled()

	if !already {
		m.deps.Logger.Printf("checkout violation booking=%s room=%s guest=%q checkout=%s overtime_min=%d",
			b.ID, b.RoomNumber, b.GuestName, b.CheckOut.Format(time.RFC3339), overtime)

		n, err := m.deps.Keys.RevokeAllForBooking(ctx, b.ID)
		if err != nil {
			return false, fmt.Errorf("revoke keys: %w", err)
		}
		report.KeysRevoked += n
		if n > 0 {
			m.deps.Logger.Printf("keys revoked booking=%s count=%d reason=checkout_overdue", b.ID, n)
		}
	}

	if _, err := m.deps.Alarms.Raise(ctx, types.TimeoutAlarm{
		BookingID:       b.ID,
		GuestName:       b.GuestName,
		RoomNumber:      b.RoomNumber,
		CheckOut:        b.CheckOut,
		OvertimeMinutes: overtime,
		RaisedAt:        now,
		UpdatedAt:       now,
	}); err != nil {
		return false, fmt.Errorf("raise alarm: %w", err)
	}

	if already {
		return false, nil
	}

	m.notify(ctx, b, overtime)

	m.mu.Lock()
	m.notified[b.ID] = b.CheckOut
	m.mu.Unlock()
	if err := m.deps.Bookings.MarkTimeoutNotified(ctx, b.ID, now); err != nil {
		// The in-memory marker still suppresses repeats in this process.
		m.deps.Logger.Printf("mark timeout notified failed booking=%s err=%v", b.ID, err)
	}
	return true, nil
}

func (m *TimeoutMonitor) notify(ctx context.Context, b types.Booking, overtime int) {
	data := map[string]any{
		"booking_id":       b.ID,
		"guest_name":       b.GuestName,
		"room_number":      b.RoomNumber,
		"hotel_name":       b.HotelName,
		"check_out":        b.CheckOut,
		"overtime_minutes": overtime,
	}
	send := func(addr, tmpl string) {
		if addr == "" {
			return
		}
		err := m.deps.Notifier.Send(ctx, addr, tmpl, data)
		m.mu.Lock()
		if err != nil {
			m.stats.NotificationFailures++
		} else {
			m.stats.NotificationsSent++
		}
		m.mu.Unlock()
		if err != nil {
			m.deps.Logger.Printf("notification failed booking=%s template=%s err=%v", b.ID, tmpl, err)
		}
	}
	send(b.GuestEmail, notify.TemplateCheckoutOverdueGuest)
	send(m.staff, notify.TemplateCheckoutOverdueStaff)
}

// resolveClosed clears alarms whose booking no longer shows up as overdue:
// checked out, cancelled, or checkout moved into the future.
func (m *TimeoutMonitor) resolveClosed(ctx context.Context, overdue map[string]struct{}, now time.Time) {
	open, err := m.deps.Alarms.Open(ctx)
	if err != nil {
		m.deps.Logger.Printf("list open alarms failed: %v", err)
		return
	}
	for _, a := range open {
		if _, ok := overdue[a.BookingID]; ok {
			continue
		}
		if err := m.deps.Alarms.Resolve(ctx, a.BookingID, now); err != nil {
			m.deps.Logger.Printf("resolve alarm failed booking=%s err=%v", a.BookingID, err)
			continue
		}
		m.mu.Lock()
		delete(m.notified, a.BookingID)
		m.mu.Unlock()
	}
}

func (m *TimeoutMonitor) finishScan(r types.ScanReport, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stats.ScansRun++
	at := r.At
	m.stats.LastScanAt = &at
	m.stats.ViolationsDetected += int64(r.Violations)
	m.stats.KeysRevoked += r.KeysRevoked
	if err != nil {
		m.stats.LastError = err.Error()
	} else {
		m.stats.LastError = ""
	}
}

func (m *TimeoutMonitor) Stats(ctx context.Context) types.MonitorStats {
	m.mu.Lock()
	st := m.stats
	st.Running = m.running
	st.Interval = m.interval.String()
	m.mu.Unlock()

	if active, err := m.deps.Alarms.List(ctx, false); err == nil {
		st.ActiveAlarms = len(active)
	}
	return st
}

// ActiveAlarms returns alarms that are neither acknowledged nor resolved.
func (m *TimeoutMonitor) ActiveAlarms(ctx context.Context) ([]types.TimeoutAlarm, error) {
	return m.deps.Alarms.List(ctx, false)
}

// Alarms returns every alarm still held, handled ones included.
func (m *TimeoutMonitor) Alarms(ctx context.Context) ([]types.TimeoutAlarm, error) {
	return m.deps.Alarms.List(ctx, true)
}

func (m *TimeoutMonitor) Acknowledge(ctx context.Context, alarmID, staff string) (types.TimeoutAlarm, error) {
	if staff == "" {
		return types.TimeoutAlarm{}, accessErr(KindInvalidRequest, "staff member is required")
	}
	a, err := m.deps.Alarms.Acknowledge(ctx, alarmID, staff, m.now())
	if errors.Is(err, store.ErrNotFound) {
		return types.TimeoutAlarm{}, accessErr(KindNotFound, "alarm %s not found", alarmID)
	}
	if err != nil {
		return types.TimeoutAlarm{}, err
	}
	m.deps.Logger.Printf("alarm acknowledged alarm=%s booking=%s by=%s", a.ID, a.BookingID, staff)
	return a, nil
}
