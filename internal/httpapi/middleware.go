package httpapi

import (
	"errors"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/identity"
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func loggingMiddleware(logger *log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now().UTC()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logger.Printf("%s %s status=%d from=%s dur=%s", r.Method, r.URL.Path, rec.status, r.RemoteAddr, time.Since(start))
	})
}

type guestHandler func(w http.ResponseWriter, r *http.Request, subject string)

// guest resolves the caller's subject before the handler runs.
func (s *Server) guest(h guestHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		subject, err := s.guests.Subject(r)
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		h(w, r, subject)
	}
}

type staffHandler func(w http.ResponseWriter, r *http.Request, member string)

func (s *Server) staffOnly(h staffHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		member, err := s.staff.Check(r)
		if err != nil {
			writeIdentityError(w, err)
			return
		}
		h(w, r, member)
	}
}

func writeIdentityError(w http.ResponseWriter, err error) {
	if errors.Is(err, identity.ErrForbidden) {
		writeError(w, http.StatusForbidden, "forbidden", "not allowed")
		return
	}
	writeError(w, http.StatusUnauthorized, "unauthenticated", "authentication required")
}

// clientOrigin is the first X-Forwarded-For hop, else the peer address.
func clientOrigin(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
