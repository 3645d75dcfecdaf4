package service_test

import (
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/credential"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/lock"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/notify"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/service"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/store"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/store/memory"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

func silentLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

var (
	checkIn  = time.Date(2025, 1, 14, 15, 0, 0, 0, time.UTC)
	checkOut = time.Date(2025, 1, 15, 11, 0, 0, 0, time.UTC)
)

const guest = "guest@example.com"

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

type harness struct {
	svc      *service.AccessService
	monitor  *service.TimeoutMonitor
	codec    *credential.Codec
	clock    *testClock
	keys     *memory.KeyStore
	logs     *memory.AccessLogStore
	bookings *memory.BookingStore
	devices  *memory.DeviceStore
	alarms   *memory.AlarmStore
	sim      *lock.Simulation
	sent     *notify.Recorder
}

type harnessOpts struct {
	maxUses int
	sim     lock.SimulationConfig
	keys    store.KeyStore
}

func testBooking() types.Booking {
	return types.Booking{
		ID:         "bk-1",
		RoomID:     "room-1",
		RoomNumber: "1204",
		HotelID:    "hotel-1",
		HotelName:  "Harbour View",
		GuestName:  "Ada Guest",
		GuestEmail: guest,
		CheckIn:    checkIn,
		CheckOut:   checkOut,
		Status:     types.BookingConfirmed,
	}
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()

	h := &harness{
		clock:    &testClock{t: checkIn.Add(time.Hour)},
		keys:     memory.NewKeyStore(),
		logs:     memory.NewAccessLogStore(),
		bookings: memory.NewBookingStore(testBooking()),
		devices: memory.NewDeviceStore(types.DeviceConfig{
			DeviceID: "lock-1", RoomID: "room-1", LockType: types.LockSimulation, Enabled: true,
		}),
		alarms: memory.NewAlarmStore(),
		sent:   &notify.Recorder{},
	}
	h.sim = lock.NewSimulation(opts.sim)

	codec, err := credential.NewCodec([]byte("0123456789abcdef0123456789abcdef-svc"), credential.WithClock(h.clock.Now))
	require.NoError(t, err)
	h.codec = codec

	locks := lock.NewRegistry(time.Second)
	locks.Register(types.LockSimulation, h.sim)

	var keys store.KeyStore = h.keys
	if opts.keys != nil {
		keys = opts.keys
	}

	h.svc = service.NewAccessService(service.AccessDeps{
		Keys:     keys,
		Logs:     h.logs,
		Bookings: h.bookings,
		Devices:  service.NewDeviceRegistry(h.devices, locks, silentLogger()),
		Codec:    codec,
		Logger:   silentLogger(),
	}, service.AccessConfig{MaxUses: opts.maxUses, Now: h.clock.Now})

	h.monitor = service.NewTimeoutMonitor(service.MonitorDeps{
		Bookings: h.bookings,
		Keys:     keys,
		Alarms:   h.alarms,
		Notifier: h.sent,
		Logger:   silentLogger(),
	}, service.MonitorConfig{StaffAddress: "frontdesk@hotel.test", Now: h.clock.Now})

	return h
}

func accountReq() types.AccountRequest {
	return types.AccountRequest{BookingID: "bk-1", Subject: guest, Origin: "203.0.113.7"}
}

func requireKind(t *testing.T, err error, kind service.Kind) *service.AccessError {
	t.Helper()
	require.Error(t, err)
	var ae *service.AccessError
	require.ErrorAs(t, err, &ae)
	require.Equal(t, kind, ae.Kind, "message: %s", ae.Message)
	return ae
}
