package httpapi

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/identity"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/service"
)

type Dependencies struct {
	Logger  *log.Logger
	Addr    string
	Access  *service.AccessService
	Monitor *service.TimeoutMonitor

	// Guests resolves the authenticated guest for account routes.
	Guests identity.Verifier
	// Staff guards revocation, device and monitor routes.
	Staff identity.StaffKey
}

type Server struct {
	httpServer *http.Server
	logger     *log.Logger
	mux        *http.ServeMux
	access     *service.AccessService
	monitor    *service.TimeoutMonitor
	guests     identity.Verifier
	staff      identity.StaffKey
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	guests := d.Guests
	if guests == nil {
		guests = identity.HeaderVerifier{}
	}

	s := &Server{
		logger:  d.Logger,
		mux:     mux,
		access:  d.Access,
		monitor: d.Monitor,
		guests:  guests,
		staff:   d.Staff,
	}

	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Guest account routes.
	mux.HandleFunc("POST /v1/bookings/{bookingID}/keys/qr", s.guest(s.handleIssueQR))
	mux.HandleFunc("POST /v1/bookings/{bookingID}/keys/nfc", s.guest(s.handleIssueNFC))
	mux.HandleFunc("POST /v1/bookings/{bookingID}/unlock", s.guest(s.handleUnlock))
	mux.HandleFunc("POST /v1/bookings/{bookingID}/lock", s.guest(s.handleLock))

	// Lock-side verification. The token is the credential.
	mux.HandleFunc("POST /v1/access/verify", s.handleVerify)

	// Staff routes.
	mux.HandleFunc("POST /v1/keys/{keyID}/revoke", s.staffOnly(s.handleRevoke))
	mux.HandleFunc("POST /v1/devices", s.staffOnly(s.handleRegisterDevice))
	mux.HandleFunc("GET /v1/devices/{deviceID}/status", s.staffOnly(s.handleDeviceStatus))
	mux.HandleFunc("GET /v1/monitor/stats", s.staffOnly(s.handleMonitorStats))
	mux.HandleFunc("POST /v1/monitor/start", s.staffOnly(s.handleMonitorStart))
	mux.HandleFunc("POST /v1/monitor/stop", s.staffOnly(s.handleMonitorStop))
	mux.HandleFunc("POST /v1/monitor/scan", s.staffOnly(s.handleMonitorScan))
	mux.HandleFunc("GET /v1/monitor/alarms", s.staffOnly(s.handleAlarms))
	mux.HandleFunc("POST /v1/monitor/alarms/{alarmID}/ack", s.staffOnly(s.handleAcknowledge))

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"monitor_running": s.monitor != nil && s.monitor.Running(),
		"server_time":     time.Now().UTC(),
	})
}
