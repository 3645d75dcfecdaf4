package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/credential"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/lock"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/store"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

const (
	DefaultEarlyCheckIn = 3 * time.Hour
	DefaultMaxUses      = 1000
)

type AccessConfig struct {
	// EarlyCheckIn opens the stay window this long before check-in.
	EarlyCheckIn time.Duration
	// MaxUses is the ceiling for newly issued keys; 0 selects
	// DefaultMaxUses and a negative value issues unlimited keys.
	MaxUses int
	Now     func() time.Time
}

type AccessDeps struct {
	Keys     store.KeyStore
	Logs     store.AccessLogStore
	Bookings store.BookingStore
	Devices  *DeviceRegistry
	Codec    *credential.Codec
	Logger   *log.Logger
}

// AccessService issues room keys and runs every unlock, verify and lock
// attempt. It holds no per-request state; keys and audit rows live in the
// stores.
type AccessService struct {
	keys     store.KeyStore
	logs     store.AccessLogStore
	bookings store.BookingStore
	devices  *DeviceRegistry
	codec    *credential.Codec
	logger   *log.Logger

	early   time.Duration
	maxUses *int
	now     func() time.Time
}

func NewAccessService(d AccessDeps, cfg AccessConfig) *AccessService {
	s := &AccessService{
		keys:     d.Keys,
		logs:     d.Logs,
		bookings: d.Bookings,
		devices:  d.Devices,
		codec:    d.Codec,
		logger:   d.Logger,
		early:    cfg.EarlyCheckIn,
		now:      cfg.Now,
	}
	if s.early <= 0 {
		s.early = DefaultEarlyCheckIn
	}
	switch {
	case cfg.MaxUses == 0:
		n := DefaultMaxUses
		s.maxUses = &n
	case cfg.MaxUses > 0:
		n := cfg.MaxUses
		s.maxUses = &n
	}
	if s.now == nil {
		s.now = func() time.Time { return time.Now().UTC() }
	}
	return s
}

// ── Guest paths ─────────────────────────────────────────────────────────────

// IssueCredential resolves the booking's key of the given kind and returns
// it as a displayable artifact. It never touches a lock.
func (s *AccessService) IssueCredential(ctx context.Context, req types.AccountRequest, kind types.KeyKind) (types.CredentialResponse, error) {
	if !kind.Valid() {
		return types.CredentialResponse{}, accessErr(KindInvalidRequest, "unknown key kind %q", kind)
	}
	b, err := s.ownedBooking(ctx, req)
	if err != nil {
		return types.CredentialResponse{}, err
	}
	w, err := s.checkWindow(b, s.now())
	if err != nil {
		return types.CredentialResponse{}, err
	}
	key, err := s.resolveKey(ctx, b, kind, w)
	if err != nil {
		return types.CredentialResponse{}, err
	}
	if err := checkKey(key); err != nil {
		return types.CredentialResponse{}, err
	}

	token, err := s.encode(key, b)
	if err != nil {
		return types.CredentialResponse{}, err
	}
	resp := types.CredentialResponse{
		KeyID:         key.ID,
		Kind:          key.Kind,
		Token:         token,
		RoomNumber:    b.RoomNumber,
		HotelName:     b.HotelName,
		ValidFrom:     key.ValidFrom,
		ValidUntil:    key.ValidUntil,
		RemainingUses: key.RemainingUses(),
		Unlimited:     key.MaxUses == nil,
	}
	switch kind {
	case types.KeyKindQR:
		resp.QRCode, err = credential.RenderQR(token)
	case types.KeyKindNFC:
		resp.NFCRecord, err = credential.EncodeNFC(token)
	}
	if err != nil {
		return types.CredentialResponse{}, err
	}
	return resp, nil
}

// UnlockByAccount is the authenticated guest unlock: the server resolves
// the key itself and no credential is shown.
func (s *AccessService) UnlockByAccount(ctx context.Context, req types.AccountRequest) (types.UnlockResponse, error) {
	at := attempt{actor: req.Subject, action: types.ActionUnlock, bookingID: req.BookingID, origin: req.Origin, geo: req.Geo}

	b, err := s.ownedBooking(ctx, req)
	if err != nil {
		return types.UnlockResponse{}, s.fail(ctx, at, err)
	}
	w, err := s.checkWindow(b, s.now())
	if err != nil {
		return types.UnlockResponse{}, s.fail(ctx, at, err)
	}
	key, err := s.resolveKey(ctx, b, types.KeyKindDigital, w)
	if err != nil {
		return types.UnlockResponse{}, s.fail(ctx, at, err)
	}
	at.keyID = key.ID
	if err := checkKey(key); err != nil {
		return types.UnlockResponse{}, s.fail(ctx, at, err)
	}
	dev, err := s.devices.ForRoom(ctx, b.RoomID)
	if err != nil {
		return types.UnlockResponse{}, s.fail(ctx, at, err)
	}
	at.deviceID = dev.DeviceID
	return s.actuateUnlock(ctx, at, key, dev, b.RoomNumber, b.HotelName)
}

// LockByAccount locks the guest's door. It needs a usable key but does not
// consume a use.
func (s *AccessService) LockByAccount(ctx context.Context, req types.AccountRequest) (types.UnlockResponse, error) {
	at := attempt{actor: req.Subject, action: types.ActionLock, bookingID: req.BookingID, origin: req.Origin, geo: req.Geo}

	b, err := s.ownedBooking(ctx, req)
	if err != nil {
		return types.UnlockResponse{}, s.fail(ctx, at, err)
	}
	w, err := s.checkWindow(b, s.now())
	if err != nil {
		return types.UnlockResponse{}, s.fail(ctx, at, err)
	}
	key, err := s.resolveKey(ctx, b, types.KeyKindDigital, w)
	if err != nil {
		return types.UnlockResponse{}, s.fail(ctx, at, err)
	}
	at.keyID = key.ID
	if !key.Usable() {
		return types.UnlockResponse{}, s.fail(ctx, at, accessErr(KindKeyInactive, "key is no longer active"))
	}
	dev, err := s.devices.ForRoom(ctx, b.RoomID)
	if err != nil {
		return types.UnlockResponse{}, s.fail(ctx, at, err)
	}
	at.deviceID = dev.DeviceID

	res, err := s.devices.Lock(context.WithoutCancel(ctx), dev)
	if err != nil {
		return types.UnlockResponse{}, s.fail(ctx, at, err)
	}
	if !res.Success {
		return types.UnlockResponse{}, s.fail(ctx, at, actuationErr(res, key.RemainingUses()))
	}
	s.record(ctx, at, true, "")
	return types.UnlockResponse{
		OK:            true,
		KeyID:         key.ID,
		RoomNumber:    b.RoomNumber,
		HotelName:     b.HotelName,
		ActuatedAt:    res.Timestamp,
		RemainingUses: key.RemainingUses(),
		Unlimited:     key.MaxUses == nil,
		ValidUntil:    key.ValidUntil,
		Message:       res.Message,
	}, nil
}

// ── Device path ─────────────────────────────────────────────────────────────

// VerifyAndUnlock is the anonymous lock-side path: the bare token is the
// only proof. The stay window is not re-checked; the token's signed
// valid-until and the key record carry that.
func (s *AccessService) VerifyAndUnlock(ctx context.Context, req types.VerifyRequest) (types.UnlockResponse, error) {
	at := attempt{action: types.ActionKeyVerification, deviceID: strings.TrimSpace(req.DeviceID), origin: req.Origin, geo: req.Geo}

	token := strings.TrimSpace(req.Token)
	roomID := strings.TrimSpace(req.RoomID)
	if token == "" {
		return types.UnlockResponse{}, s.fail(ctx, at, accessErr(KindDecodeError, "token is required"))
	}
	if roomID == "" {
		return types.UnlockResponse{}, s.fail(ctx, at, accessErr(KindInvalidRequest, "room_id is required"))
	}

	claims, err := s.codec.Verify(token)
	if err != nil {
		return types.UnlockResponse{}, s.fail(ctx, at, codecErr(err))
	}
	at.keyID = claims.KeyID
	at.bookingID = claims.BookingID
	if claims.RoomID != roomID {
		return types.UnlockResponse{}, s.fail(ctx, at, accessErr(KindRoomMismatch, "credential is not valid for room %s", roomID))
	}

	key, err := s.keys.Get(ctx, claims.KeyID)
	if errors.Is(err, store.ErrNotFound) {
		return types.UnlockResponse{}, s.fail(ctx, at, accessErr(KindKeyInactive, "key no longer exists"))
	}
	if err != nil {
		return types.UnlockResponse{}, s.fail(ctx, at, err)
	}
	if key.RoomID != roomID {
		return types.UnlockResponse{}, s.fail(ctx, at, accessErr(KindRoomMismatch, "credential is not valid for room %s", roomID))
	}
	if err := checkKey(*key); err != nil {
		return types.UnlockResponse{}, s.fail(ctx, at, err)
	}

	dev, err := s.devices.ForRoom(ctx, roomID)
	if err != nil {
		return types.UnlockResponse{}, s.fail(ctx, at, err)
	}
	if at.deviceID != "" && at.deviceID != dev.DeviceID {
		return types.UnlockResponse{}, s.fail(ctx, at, accessErr(KindRoomMismatch, "device %s is not the lock for room %s", at.deviceID, roomID))
	}
	at.deviceID = dev.DeviceID

	roomNumber, hotelName := claims.RoomNumber, ""
	if b, err := s.bookings.Get(ctx, key.BookingID); err == nil {
		roomNumber, hotelName = b.RoomNumber, b.HotelName
	}
	return s.actuateUnlock(ctx, at, *key, dev, roomNumber, hotelName)
}

// ── Staff paths ─────────────────────────────────────────────────────────────

func (s *AccessService) RevokeKey(ctx context.Context, keyID, staff string) error {
	keyID = strings.TrimSpace(keyID)
	if keyID == "" {
		return accessErr(KindInvalidRequest, "key id is required")
	}
	err := s.keys.Revoke(ctx, keyID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		return accessErr(KindNotFound, "key %s does not exist", keyID)
	case errors.Is(err, store.ErrAlreadyRevoked):
		return accessErr(KindRevoked, "key %s is already revoked", keyID)
	case err != nil:
		return err
	}
	s.logger.Printf("key revoked key=%s by=%s", keyID, staff)
	return nil
}

func (s *AccessService) RegisterDevice(ctx context.Context, req types.RegisterDeviceRequest) (types.DeviceConfig, error) {
	return s.devices.Register(ctx, req)
}

func (s *AccessService) DeviceStatus(ctx context.Context, deviceID string) (lock.Status, error) {
	return s.devices.Status(ctx, deviceID)
}

// ── Steps ───────────────────────────────────────────────────────────────────

type attempt struct {
	actor     string
	action    types.AccessAction
	keyID     string
	bookingID string
	deviceID  string
	origin    string
	geo       *types.GeoPoint
}

func (s *AccessService) ownedBooking(ctx context.Context, req types.AccountRequest) (types.Booking, error) {
	id := strings.TrimSpace(req.BookingID)
	if id == "" {
		return types.Booking{}, accessErr(KindInvalidRequest, "booking id is required")
	}
	b, err := s.bookings.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return types.Booking{}, accessErr(KindBookingNotFound, "booking %s not found", id)
	}
	if err != nil {
		return types.Booking{}, err
	}
	subject := strings.TrimSpace(req.Subject)
	if subject == "" || !strings.EqualFold(subject, strings.TrimSpace(b.GuestEmail)) {
		return types.Booking{}, accessErr(KindForbidden, "booking does not belong to caller")
	}
	if !b.Open() {
		return types.Booking{}, accessErr(KindBookingInactive, "booking is %s", b.Status)
	}
	return *b, nil
}

func (s *AccessService) checkWindow(b types.Booking, now time.Time) (types.StayWindow, error) {
	w := b.Window(s.early)
	if now.Before(w.Start) {
		return w, windowErr(KindTooEarly, w.Start, "access opens at "+w.Start.UTC().Format(time.RFC3339))
	}
	if now.After(w.End) {
		if b.OverdueHandled() {
			// Checkout enforcement already revoked this stay's keys.
			return w, windowErr(KindKeyInactive, w.End, "keys were deactivated after checkout")
		}
		return w, windowErr(KindTooLate, w.End, "access ended at "+w.End.UTC().Format(time.RFC3339))
	}
	return w, nil
}

// resolveKey is find-or-create. A found key that ends before the current
// window (checkout was extended) is rotated. Key expiry is held at the
// whole-second precision the credential carries.
func (s *AccessService) resolveKey(ctx context.Context, b types.Booking, kind types.KeyKind, w types.StayWindow) (types.RoomKey, error) {
	until := w.End.UTC().Truncate(time.Second)
	found, err := s.keys.FindActive(ctx, b.ID, b.RoomID, kind)
	if err != nil {
		return types.RoomKey{}, fmt.Errorf("find key: %w", err)
	}
	if found != nil {
		if !found.ValidUntil.Before(until) {
			return *found, nil
		}
		if err := s.keys.Revoke(ctx, found.ID); err != nil && !errors.Is(err, store.ErrAlreadyRevoked) {
			return types.RoomKey{}, fmt.Errorf("rotate key: %w", err)
		}
		s.logger.Printf("key rotated key=%s booking=%s old_until=%s new_until=%s",
			found.ID, b.ID, found.ValidUntil.Format(time.RFC3339), until.Format(time.RFC3339))
	}

	now := s.now()
	key := types.RoomKey{
		ID:         uuid.NewString(),
		BookingID:  b.ID,
		RoomID:     b.RoomID,
		Kind:       kind,
		ValidFrom:  w.Start,
		ValidUntil: until,
		Active:     true,
		CreatedAt:  now,
	}
	if s.maxUses != nil {
		n := *s.maxUses
		key.MaxUses = &n
	}
	key.KeyMaterial, err = s.encode(key, b)
	if err != nil {
		return types.RoomKey{}, err
	}

	created, err := s.keys.Create(ctx, key)
	if errors.Is(err, store.ErrActiveKeyExists) {
		// Lost a race with a concurrent request for the same booking.
		return created, nil
	}
	if err != nil {
		return types.RoomKey{}, fmt.Errorf("create key: %w", err)
	}
	return created, nil
}

func (s *AccessService) encode(k types.RoomKey, b types.Booking) (string, error) {
	return s.codec.Issue(credential.Claims{
		KeyID:      k.ID,
		BookingID:  k.BookingID,
		RoomID:     k.RoomID,
		RoomNumber: b.RoomNumber,
		HotelID:    b.HotelID,
		Subject:    b.GuestEmail,
		Kind:       k.Kind,
		ValidUntil: k.ValidUntil,
		IssuedAt:   k.CreatedAt,
	})
}

func checkKey(k types.RoomKey) error {
	if !k.Usable() {
		return &AccessError{Kind: KindKeyInactive, Message: "key is no longer active", RemainingUses: k.RemainingUses()}
	}
	if k.Exhausted() {
		zero := 0
		return &AccessError{Kind: KindUsageLimitExceeded, Message: "key has no uses left", RemainingUses: &zero}
	}
	return nil
}

// actuateUnlock reserves one use and then drives the lock. The use is
// consumed whatever the lock does, and the reservation keeps concurrent
// attempts from actuating past the ceiling. From here on the caller's
// cancellation is ignored so the counter, the lock and the audit row agree.
func (s *AccessService) actuateUnlock(ctx context.Context, at attempt, key types.RoomKey, dev types.DeviceConfig, roomNumber, hotelName string) (types.UnlockResponse, error) {
	ctx = context.WithoutCancel(ctx)

	used, err := s.keys.IncrementUsage(ctx, key.ID)
	if errors.Is(err, store.ErrUsageLimitExceeded) {
		zero := 0
		return types.UnlockResponse{}, s.fail(ctx, at, &AccessError{
			Kind: KindUsageLimitExceeded, Message: "key has no uses left", RemainingUses: &zero,
		})
	}
	if errors.Is(err, store.ErrKeyInactive) {
		return types.UnlockResponse{}, s.fail(ctx, at, &AccessError{
			Kind: KindKeyInactive, Message: "key is no longer active", RemainingUses: used.RemainingUses(),
		})
	}
	if err != nil {
		return types.UnlockResponse{}, s.fail(ctx, at, fmt.Errorf("increment usage: %w", err))
	}

	res, err := s.devices.Unlock(ctx, dev, key.KeyMaterial)
	if err != nil {
		return types.UnlockResponse{}, s.fail(ctx, at, err)
	}
	if !res.Success {
		return types.UnlockResponse{}, s.fail(ctx, at, actuationErr(res, used.RemainingUses()))
	}

	s.record(ctx, at, true, "")
	return types.UnlockResponse{
		OK:            true,
		KeyID:         key.ID,
		RoomNumber:    roomNumber,
		HotelName:     hotelName,
		ActuatedAt:    res.Timestamp,
		RemainingUses: used.RemainingUses(),
		Unlimited:     used.MaxUses == nil,
		ValidUntil:    used.ValidUntil,
		Message:       res.Message,
	}, nil
}

func actuationErr(res lock.Result, remaining *int) *AccessError {
	msg := res.Message
	if msg == "" {
		msg = "lock did not open"
	}
	return &AccessError{Kind: KindActuationFailed, Message: msg, ErrorCode: res.ErrorCode, RemainingUses: remaining}
}

func codecErr(err error) *AccessError {
	switch {
	case errors.Is(err, credential.ErrExpired):
		return &AccessError{Kind: KindExpired, Message: "credential has expired", Err: err}
	case errors.Is(err, credential.ErrDecode):
		return &AccessError{Kind: KindDecodeError, Message: "credential is malformed", Err: err}
	default:
		return &AccessError{Kind: KindInvalidSignature, Message: "credential signature is invalid", Err: err}
	}
}

// fail writes the audit row for a failed attempt and returns err.
func (s *AccessService) fail(ctx context.Context, at attempt, err error) error {
	s.record(ctx, at, false, err.Error())
	return err
}

// record appends the audit row. A failed audit write is logged and does not
// change the caller's outcome.
func (s *AccessService) record(ctx context.Context, at attempt, success bool, msg string) {
	entry := types.AccessLog{
		ActorID:      at.actor,
		KeyID:        at.keyID,
		BookingID:    at.bookingID,
		Action:       at.action,
		DeviceID:     at.deviceID,
		Origin:       at.origin,
		Geo:          at.geo,
		Success:      success,
		ErrorMessage: msg,
		At:           s.now(),
	}
	if err := s.logs.Append(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Printf("access log write failed action=%s key=%s err=%v", at.action, at.keyID, err)
	}
}
