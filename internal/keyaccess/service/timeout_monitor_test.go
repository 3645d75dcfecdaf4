package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/notify"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/service"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/store/memory"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

func TestTimeoutMonitor_OverdueCheckoutScenario(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	_, err := h.svc.UnlockByAccount(ctx, accountReq())
	require.NoError(t, err)

	h.clock.Set(time.Date(2025, 1, 15, 11, 16, 0, 0, time.UTC))
	report, err := h.monitor.ScanNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Violations)
	assert.EqualValues(t, 1, report.KeysRevoked)

	alarms, err := h.monitor.ActiveAlarms(ctx)
	require.NoError(t, err)
	require.Len(t, alarms, 1)
	assert.Equal(t, "bk-1", alarms[0].BookingID)
	assert.Equal(t, 16, alarms[0].OvertimeMinutes)
	assert.Equal(t, "1204", alarms[0].RoomNumber)
	assert.Equal(t, "Ada Guest", alarms[0].GuestName)

	k, err := h.keys.FindActive(ctx, "bk-1", "room-1", types.KeyKindDigital)
	require.NoError(t, err)
	assert.Nil(t, k, "active key must be revoked")

	_, err = h.svc.UnlockByAccount(ctx, accountReq())
	requireKind(t, err, service.KindKeyInactive)
}

func TestTimeoutMonitor_ScanIsIdempotent(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	_, err := h.svc.IssueCredential(ctx, accountReq(), types.KeyKindQR)
	require.NoError(t, err)

	h.clock.Set(checkOut.Add(16 * time.Minute))
	first, err := h.monitor.ScanNow(ctx)
	require.NoError(t, err)
	second, err := h.monitor.ScanNow(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, first.Violations)
	assert.Equal(t, 0, second.Violations)
	assert.EqualValues(t, 1, first.KeysRevoked)
	assert.EqualValues(t, 0, second.KeysRevoked)

	sent := h.sent.Sent()
	require.Len(t, sent, 2, "one guest and one staff notification")
	assert.Equal(t, guest, sent[0].Address)
	assert.Equal(t, notify.TemplateCheckoutOverdueGuest, sent[0].Template)
	assert.Equal(t, "frontdesk@hotel.test", sent[1].Address)
	assert.Equal(t, notify.TemplateCheckoutOverdueStaff, sent[1].Template)
	assert.Equal(t, 16, sent[0].Data["overtime_minutes"])

	st := h.monitor.Stats(ctx)
	assert.EqualValues(t, 2, st.ScansRun)
	assert.EqualValues(t, 1, st.ViolationsDetected)
	assert.EqualValues(t, 1, st.KeysRevoked)
	assert.EqualValues(t, 2, st.NotificationsSent)
	assert.Equal(t, 1, st.ActiveAlarms)
}

func TestTimeoutMonitor_RefreshesThenResolvesAlarm(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	h.clock.Set(checkOut.Add(16 * time.Minute))
	_, err := h.monitor.ScanNow(ctx)
	require.NoError(t, err)

	h.clock.Set(checkOut.Add(21*time.Minute + 30*time.Second))
	_, err = h.monitor.ScanNow(ctx)
	require.NoError(t, err)
	alarms, err := h.monitor.ActiveAlarms(ctx)
	require.NoError(t, err)
	require.Len(t, alarms, 1)
	assert.Equal(t, 21, alarms[0].OvertimeMinutes)
	assert.Len(t, h.sent.Sent(), 2, "refresh does not notify again")

	require.NoError(t, h.bookings.UpdateStatus(ctx, "bk-1", types.BookingCheckedOut))
	_, err = h.monitor.ScanNow(ctx)
	require.NoError(t, err)

	alarms, err = h.monitor.ActiveAlarms(ctx)
	require.NoError(t, err)
	assert.Empty(t, alarms)

	all, err := h.monitor.Alarms(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.NotNil(t, all[0].ResolvedAt)
}

func TestTimeoutMonitor_Acknowledge(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	h.clock.Set(checkOut.Add(5 * time.Minute))
	_, err := h.monitor.ScanNow(ctx)
	require.NoError(t, err)
	alarms, err := h.monitor.ActiveAlarms(ctx)
	require.NoError(t, err)
	require.Len(t, alarms, 1)

	_, err = h.monitor.Acknowledge(ctx, alarms[0].ID, "")
	requireKind(t, err, service.KindInvalidRequest)
	_, err = h.monitor.Acknowledge(ctx, "nope", "alice")
	requireKind(t, err, service.KindNotFound)

	acked, err := h.monitor.Acknowledge(ctx, alarms[0].ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", acked.AcknowledgedBy)
	require.NotNil(t, acked.AcknowledgedAt)

	active, err := h.monitor.ActiveAlarms(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
	all, err := h.monitor.Alarms(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1, "acknowledged alarms stay in history")

	// Later scans keep it acknowledged.
	h.clock.Set(checkOut.Add(10 * time.Minute))
	_, err = h.monitor.ScanNow(ctx)
	require.NoError(t, err)
	active, err = h.monitor.ActiveAlarms(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestTimeoutMonitor_RedetectsAfterRestart(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	h.clock.Set(checkOut.Add(16 * time.Minute))
	_, err := h.monitor.ScanNow(ctx)
	require.NoError(t, err)

	// A new process: fresh alarm book and monitor, same bookings.
	restarted := service.NewTimeoutMonitor(service.MonitorDeps{
		Bookings: h.bookings,
		Keys:     h.keys,
		Alarms:   memory.NewAlarmStore(),
		Notifier: h.sent,
		Logger:   silentLogger(),
	}, service.MonitorConfig{StaffAddress: "frontdesk@hotel.test", Now: h.clock.Now})

	h.clock.Set(checkOut.Add(30 * time.Minute))
	report, err := restarted.ScanNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Violations)

	alarms, err := restarted.ActiveAlarms(ctx)
	require.NoError(t, err)
	require.Len(t, alarms, 1)
	assert.Equal(t, 30, alarms[0].OvertimeMinutes)
	assert.Len(t, h.sent.Sent(), 2, "no second round of notifications")
}

func TestTimeoutMonitor_ExtendedStayOverdueAgain(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	_, err := h.svc.UnlockByAccount(ctx, accountReq())
	require.NoError(t, err)

	h.clock.Set(checkOut.Add(16 * time.Minute))
	first, err := h.monitor.ScanNow(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, first.Violations)

	// Front desk extends the stay by a night; the old marker stays on the row.
	b, err := h.bookings.Get(ctx, "bk-1")
	require.NoError(t, err)
	require.NotNil(t, b.TimeoutNotifiedAt)
	extended := checkOut.Add(24 * time.Hour)
	b.CheckOut = extended
	h.bookings.Put(*b)

	resp, err := h.svc.UnlockByAccount(ctx, accountReq())
	require.NoError(t, err, "extended stay must open again")
	assert.True(t, resp.ValidUntil.Equal(extended))

	quiet, err := h.monitor.ScanNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, quiet.Violations)
	alarms, err := h.monitor.ActiveAlarms(ctx)
	require.NoError(t, err)
	assert.Empty(t, alarms, "extension closes the first alarm")

	h.clock.Set(extended.Add(30 * time.Minute))
	second, err := h.monitor.ScanNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Violations)
	assert.EqualValues(t, 1, second.KeysRevoked)
	assert.Len(t, h.sent.Sent(), 4, "guest and staff are told about each overdue checkout")

	k, err := h.keys.FindActive(ctx, "bk-1", "room-1", types.KeyKindDigital)
	require.NoError(t, err)
	assert.Nil(t, k)

	alarms, err = h.monitor.ActiveAlarms(ctx)
	require.NoError(t, err)
	require.Len(t, alarms, 1)
	assert.Equal(t, 30, alarms[0].OvertimeMinutes)
	assert.True(t, alarms[0].CheckOut.Equal(extended))

	_, err = h.svc.UnlockByAccount(ctx, accountReq())
	requireKind(t, err, service.KindKeyInactive)
}

func TestTimeoutMonitor_NotificationFailureStillRevokes(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	h.sent.Fail = func(string, string) error { return errors.New("smtp down") }

	_, err := h.svc.IssueCredential(ctx, accountReq(), types.KeyKindQR)
	require.NoError(t, err)

	h.clock.Set(checkOut.Add(time.Minute))
	report, err := h.monitor.ScanNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Violations)
	assert.EqualValues(t, 1, report.KeysRevoked)

	st := h.monitor.Stats(ctx)
	assert.EqualValues(t, 2, st.NotificationFailures)
	assert.EqualValues(t, 0, st.NotificationsSent)
}

// flakyKeys fails or panics for selected bookings.
type flakyKeys struct {
	*memory.KeyStore
}

func (f flakyKeys) RevokeAllForBooking(ctx context.Context, bookingID string) (int64, error) {
	switch bookingID {
	case "bk-bad":
		return 0, errors.New("disk on fire")
	case "bk-panic":
		panic("unexpected nil")
	}
	return f.KeyStore.RevokeAllForBooking(ctx, bookingID)
}

func TestTimeoutMonitor_PerBookingIsolation(t *testing.T) {
	keys := memory.NewKeyStore()
	h := newHarness(t, harnessOpts{keys: flakyKeys{keys}})
	ctx := context.Background()

	for _, id := range []string{"bk-bad", "bk-panic"} {
		b := testBooking()
		b.ID = id
		b.RoomID = "room-" + id
		b.CheckOut = checkOut.Add(-time.Hour)
		h.bookings.Put(b)
	}

	h.clock.Set(checkOut.Add(time.Minute))
	report, err := h.monitor.ScanNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, report.Checked)
	assert.Equal(t, 2, report.Failed)
	assert.Equal(t, 1, report.Violations)

	b, err := h.bookings.Get(ctx, "bk-bad")
	require.NoError(t, err)
	assert.Nil(t, b.TimeoutNotifiedAt, "failed bookings are retried next scan")
	b, err = h.bookings.Get(ctx, "bk-1")
	require.NoError(t, err)
	assert.NotNil(t, b.TimeoutNotifiedAt)
}

type brokenBookings struct {
	*memory.BookingStore
}

func (brokenBookings) ListOverdue(context.Context, time.Time) ([]types.Booking, error) {
	return nil, errors.New("connection refused")
}

func TestTimeoutMonitor_FailedScanRecordsError(t *testing.T) {
	m := service.NewTimeoutMonitor(service.MonitorDeps{
		Bookings: brokenBookings{memory.NewBookingStore()},
		Keys:     memory.NewKeyStore(),
		Alarms:   memory.NewAlarmStore(),
		Notifier: &notify.Recorder{},
		Logger:   silentLogger(),
	}, service.MonitorConfig{})

	_, err := m.ScanNow(context.Background())
	require.Error(t, err)
	st := m.Stats(context.Background())
	assert.Contains(t, st.LastError, "connection refused")
	assert.EqualValues(t, 1, st.ScansRun)
}

func TestTimeoutMonitor_StartStop(t *testing.T) {
	var (
		mu    sync.Mutex
		hooks []bool
	)
	m := service.NewTimeoutMonitor(service.MonitorDeps{
		Bookings: memory.NewBookingStore(),
		Keys:     memory.NewKeyStore(),
		Alarms:   memory.NewAlarmStore(),
		Notifier: &notify.Recorder{},
		Logger:   silentLogger(),
	}, service.MonitorConfig{
		Interval: time.Hour,
		StatusHook: func(running bool) {
			mu.Lock()
			defer mu.Unlock()
			hooks = append(hooks, running)
		},
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, m.Start(ctx))
	// Cancelling the starting context does not stop the loop.
	cancel()
	require.ErrorIs(t, m.Start(context.Background()), service.ErrMonitorRunning)
	assert.True(t, m.Running())

	require.Eventually(t, func() bool {
		return m.Stats(context.Background()).ScansRun >= 1
	}, time.Second, 5*time.Millisecond, "Start runs an immediate scan")

	m.Stop()
	m.Stop()
	assert.False(t, m.Running())
	assert.Equal(t, "1h0m0s", m.Stats(context.Background()).Interval)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []bool{true, false}, hooks)
}
