package types

import "time"

// TimeoutAlarm is one open checkout violation shown on the staff feed.
type TimeoutAlarm struct {
	ID              string     `json:"id"`
	BookingID       string     `json:"booking_id"`
	GuestName       string     `json:"guest_name"`
	RoomNumber      string     `json:"room_number"`
	CheckOut        time.Time  `json:"check_out"`
	OvertimeMinutes int        `json:"overtime_minutes"`
	RaisedAt        time.Time  `json:"raised_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	AcknowledgedBy  string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

func (a TimeoutAlarm) Active() bool {
	return a.AcknowledgedAt == nil && a.ResolvedAt == nil
}

type MonitorStats struct {
	Running              bool       `json:"running"`
	Interval             string     `json:"interval"`
	ScansRun             int64      `json:"scans_run"`
	LastScanAt           *time.Time `json:"last_scan_at,omitempty"`
	ViolationsDetected   int64      `json:"violations_detected"`
	KeysRevoked          int64      `json:"keys_revoked"`
	NotificationsSent    int64      `json:"notifications_sent"`
	NotificationFailures int64      `json:"notification_failures"`
	ActiveAlarms         int        `json:"active_alarms"`
	LastError            string     `json:"last_error,omitempty"`
}

// ScanReport summarises one monitor run.
type ScanReport struct {
	At          time.Time `json:"at"`
	Checked     int       `json:"checked"`
	Violations  int       `json:"violations"`
	KeysRevoked int64     `json:"keys_revoked"`
	Failed      int       `json:"failed"`
}
