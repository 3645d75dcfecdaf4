package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/service"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

// decodeJSON decodes a JSON body into v. An empty body leaves v untouched
// when optional is set.
func decodeJSON(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if optional && errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// ── Guest account routes ─────────────────────────────────────────────────────

type accountBody struct {
	Geo *types.GeoPoint `json:"geo,omitempty"`
}

func (s *Server) accountRequest(w http.ResponseWriter, r *http.Request, subject string) (types.AccountRequest, bool) {
	var body accountBody
	if err := decodeJSON(r, &body, true); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return types.AccountRequest{}, false
	}
	return types.AccountRequest{
		BookingID: r.PathValue("bookingID"),
		Subject:   subject,
		Origin:    clientOrigin(r),
		Geo:       body.Geo,
	}, true
}

func (s *Server) handleIssueQR(w http.ResponseWriter, r *http.Request, subject string) {
	s.issue(w, r, subject, types.KeyKindQR)
}

func (s *Server) handleIssueNFC(w http.ResponseWriter, r *http.Request, subject string) {
	s.issue(w, r, subject, types.KeyKindNFC)
}

func (s *Server) issue(w http.ResponseWriter, r *http.Request, subject string, kind types.KeyKind) {
	req, ok := s.accountRequest(w, r, subject)
	if !ok {
		return
	}
	resp, err := s.access.IssueCredential(r.Context(), req, kind)
	if err != nil {
		s.writeServiceError(w, "issue "+string(kind), err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request, subject string) {
	req, ok := s.accountRequest(w, r, subject)
	if !ok {
		return
	}
	resp, err := s.access.UnlockByAccount(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, "unlock", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLock(w http.ResponseWriter, r *http.Request, subject string) {
	req, ok := s.accountRequest(w, r, subject)
	if !ok {
		return
	}
	resp, err := s.access.LockByAccount(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, "lock", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ── Device verification ──────────────────────────────────────────────────────

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	if isProtobuf(r) {
		s.handleVerifyProto(w, r)
		return
	}

	var req types.VerifyRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	req.Origin = clientOrigin(r)

	resp, err := s.access.VerifyAndUnlock(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, "verify", err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleVerifyProto(w http.ResponseWriter, r *http.Request) {
	var in structpb.Struct
	if err := readProto(r, &in); err != nil {
		http.Error(w, "bad protobuf", http.StatusBadRequest)
		return
	}
	req := verifyRequestFromStruct(&in)
	req.Origin = clientOrigin(r)

	resp, err := s.access.VerifyAndUnlock(r.Context(), req)
	if err != nil {
		var ae *service.AccessError
		if !errors.As(err, &ae) {
			s.logger.Printf("verify error: %v", err)
			http.Error(w, "unexpected server error", http.StatusInternalServerError)
			return
		}
		out, cerr := errorToStruct(errorBodyFor(ae))
		if cerr != nil {
			http.Error(w, "proto encode error", http.StatusInternalServerError)
			return
		}
		writeProto(w, statusFor(ae.Kind), out)
		return
	}

	out, err := unlockResponseToStruct(resp)
	if err != nil {
		http.Error(w, "proto encode error", http.StatusInternalServerError)
		return
	}
	writeProto(w, http.StatusOK, out)
}

// ── Staff routes ─────────────────────────────────────────────────────────────

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request, member string) {
	keyID := r.PathValue("keyID")
	if err := s.access.RevokeKey(r.Context(), keyID, member); err != nil {
		s.writeServiceError(w, "revoke", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "key_id": keyID, "revoked_by": member})
}

func (s *Server) handleRegisterDevice(w http.ResponseWriter, r *http.Request, _ string) {
	var req types.RegisterDeviceRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
		return
	}
	dev, err := s.access.RegisterDevice(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, "register device", err)
		return
	}
	writeJSON(w, http.StatusCreated, dev)
}

func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request, _ string) {
	st, err := s.access.DeviceStatus(r.Context(), r.PathValue("deviceID"))
	if err != nil {
		s.writeServiceError(w, "device status", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleMonitorStats(w http.ResponseWriter, r *http.Request, _ string) {
	writeJSON(w, http.StatusOK, s.monitor.Stats(r.Context()))
}

func (s *Server) handleMonitorStart(w http.ResponseWriter, r *http.Request, member string) {
	if err := s.monitor.Start(r.Context()); err != nil {
		if errors.Is(err, service.ErrMonitorRunning) {
			writeError(w, http.StatusConflict, "already_running", err.Error())
			return
		}
		s.writeServiceError(w, "monitor start", err)
		return
	}
	s.logger.Printf("timeout monitor started by=%s", member)
	writeJSON(w, http.StatusOK, s.monitor.Stats(r.Context()))
}

func (s *Server) handleMonitorStop(w http.ResponseWriter, r *http.Request, member string) {
	s.monitor.Stop()
	s.logger.Printf("timeout monitor stopped by=%s", member)
	writeJSON(w, http.StatusOK, s.monitor.Stats(r.Context()))
}

func (s *Server) handleMonitorScan(w http.ResponseWriter, r *http.Request, _ string) {
	report, err := s.monitor.ScanNow(r.Context())
	if err != nil {
		s.writeServiceError(w, "monitor scan", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAlarms(w http.ResponseWriter, r *http.Request, _ string) {
	var (
		alarms []types.TimeoutAlarm
		err    error
	)
	if all := r.URL.Query().Get("all"); all == "1" || all == "true" {
		alarms, err = s.monitor.Alarms(r.Context())
	} else {
		alarms, err = s.monitor.ActiveAlarms(r.Context())
	}
	if err != nil {
		s.writeServiceError(w, "list alarms", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"alarms": alarms})
}

func (s *Server) handleAcknowledge(w http.ResponseWriter, r *http.Request, member string) {
	a, err := s.monitor.Acknowledge(r.Context(), r.PathValue("alarmID"), member)
	if err != nil {
		s.writeServiceError(w, "acknowledge alarm", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
