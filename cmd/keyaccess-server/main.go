package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/config"
	dbpkg "github.com/BrandonDHaskell/Portunus/keyaccess/internal/db"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/httpapi"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/credential"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/identity"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/lock"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/notify"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/service"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/store"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/store/memory"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/store/sqlite"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/opsrpc"
)

type stores struct {
	keys     store.KeyStore
	logs     store.AccessLogStore
	bookings store.BookingStore
	devices  store.DeviceStore
	alarms   store.AlarmStore
	close    func()
}

func main() {
	cfg := config.Load()
	logger := log.New(os.Stdout, "keyaccess-server ", log.LstdFlags|log.LUTC)

	if err := cfg.Validate(); err != nil {
		logger.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("stores: %v", err)
	}
	defer st.close()

	codec, err := credential.NewCodec([]byte(cfg.CredentialSecret))
	if err != nil {
		logger.Fatalf("credential codec: %v", err)
	}

	locks := newLockRegistry(cfg, logger)
	devices := service.NewDeviceRegistry(st.devices, locks, logger)

	access := service.NewAccessService(service.AccessDeps{
		Keys:     st.keys,
		Logs:     st.logs,
		Bookings: st.bookings,
		Devices:  devices,
		Codec:    codec,
		Logger:   logger,
	}, service.AccessConfig{
		EarlyCheckIn: cfg.EarlyCheckIn,
		MaxUses:      cfg.KeyMaxUses,
	})

	ops := opsrpc.New(logger)

	monitor := service.NewTimeoutMonitor(service.MonitorDeps{
		Bookings: st.bookings,
		Keys:     st.keys,
		Alarms:   st.alarms,
		Notifier: newNotifier(cfg, logger),
		Logger:   logger,
	}, service.MonitorConfig{
		Interval:     cfg.MonitorInterval,
		StaffAddress: cfg.StaffNotifyAddr,
		StatusHook:   ops.SetMonitorRunning,
	})

	var guests identity.Verifier = identity.HeaderVerifier{}
	if cfg.SessionSecret != "" {
		guests = identity.NewJWTVerifier([]byte(cfg.SessionSecret))
	} else {
		logger.Printf("KEYACCESS_SESSION_SECRET unset: trusting %s from the upstream gateway", identity.SubjectHeader)
	}
	if cfg.StaffAPIKey == "" {
		logger.Printf("KEYACCESS_STAFF_API_KEY unset: staff routes are disabled")
	}

	srv := httpapi.NewServer(httpapi.Dependencies{
		Logger:  logger,
		Addr:    cfg.HTTPAddr,
		Access:  access,
		Monitor: monitor,
		Guests:  guests,
		Staff:   identity.NewStaffKey(cfg.StaffAPIKey),
	})

	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatalf("grpc listen %s: %v", cfg.GRPCAddr, err)
		}
		go func() {
			logger.Printf("ops grpc listening on %s", cfg.GRPCAddr)
			if err := ops.Serve(lis); err != nil {
				logger.Printf("grpc server error: %v", err)
			}
		}()
		defer ops.Stop()
	}

	if cfg.MonitorAutostart {
		if err := monitor.Start(ctx); err != nil {
			logger.Printf("timeout monitor: %v", err)
		}
	}
	defer monitor.Stop()

	go func() {
		logger.Printf("listening on %s", cfg.HTTPAddr)
		if err := srv.Start(); err != nil {
			logger.Printf("server error: %v", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func openStores(ctx context.Context, cfg config.Config, logger *log.Logger) (stores, error) {
	// Alarms are an in-process book; a restarted monitor re-derives them
	// from bookings already marked timeout-notified.
	alarms := memory.NewAlarmStore()

	if cfg.Store == "memory" {
		logger.Printf("using in-memory stores")
		var seedBookings []types.Booking
		var seedDevices []types.DeviceConfig
		if cfg.SeedDev {
			b, d := memory.DevSeed(time.Now().UTC())
			seedBookings, seedDevices = []types.Booking{b}, []types.DeviceConfig{d}
		}
		return stores{
			keys:     memory.NewKeyStore(),
			logs:     memory.NewAccessLogStore(),
			bookings: memory.NewBookingStore(seedBookings...),
			devices:  memory.NewDeviceStore(seedDevices...),
			alarms:   alarms,
			close:    func() {},
		}, nil
	}

	db, err := dbpkg.Open(ctx, dbpkg.Config{Path: cfg.DBPath, Seed: cfg.SeedDev})
	if err != nil {
		return stores{}, err
	}
	writer := dbpkg.NewWorker(db)
	logger.Printf("using sqlite store at %s", cfg.DBPath)

	return stores{
		keys:     sqlite.NewKeyStore(db, writer),
		logs:     sqlite.NewAccessLogStore(db, writer),
		bookings: sqlite.NewBookingStore(db, writer),
		devices:  sqlite.NewDeviceStore(db, writer),
		alarms:   alarms,
		close:    closeDB(db, writer, logger),
	}, nil
}

func closeDB(db *sql.DB, writer *dbpkg.Worker, logger *log.Logger) func() {
	return func() {
		writer.Close()
		if err := db.Close(); err != nil {
			logger.Printf("db close: %v", err)
		}
	}
}

// newLockRegistry always registers the simulation driver; MQTT and vendor
// cloud are added when configured.
func newLockRegistry(cfg config.Config, logger *log.Logger) *lock.Registry {
	reg := lock.NewRegistry(cfg.UnlockTimeout)
	reg.Register(types.LockSimulation, lock.NewSimulation(lock.SimulationConfig{
		Latency:     cfg.SimLatency,
		FailureRate: cfg.SimFailureRate,
	}))

	if cfg.MQTTBrokerURL != "" {
		client, err := lock.DialMQTT(lock.MQTTConfig{
			BrokerURL:   cfg.MQTTBrokerURL,
			ClientID:    cfg.MQTTClientID,
			TopicPrefix: cfg.MQTTTopicPrefix,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
		}, logger)
		if err != nil {
			logger.Printf("mqtt driver disabled: %v", err)
		} else if p, err := lock.NewMQTTProvider(client, cfg.MQTTTopicPrefix, logger); err != nil {
			logger.Printf("mqtt driver disabled: %v", err)
		} else {
			reg.Register(types.LockMQTT, p)
			logger.Printf("mqtt driver connected to %s", cfg.MQTTBrokerURL)
		}
	}

	if cfg.VendorBaseURL != "" {
		reg.Register(types.LockVendorCloud, lock.NewVendorCloud(lock.VendorCloudConfig{
			BaseURL: cfg.VendorBaseURL,
			APIKey:  cfg.VendorAPIKey,
		}))
		logger.Printf("vendor cloud driver at %s", cfg.VendorBaseURL)
	}

	logger.Printf("lock drivers: %v", reg.Types())
	return reg
}

func newNotifier(cfg config.Config, logger *log.Logger) notify.Notifier {
	if cfg.NotifyWebhookURL != "" {
		logger.Printf("notifications via webhook %s", cfg.NotifyWebhookURL)
		return notify.NewWebhookNotifier(cfg.NotifyWebhookURL, nil)
	}
	return notify.NewLogNotifier(logger)
}
