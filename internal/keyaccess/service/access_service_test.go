package service_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/credential"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/lock"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/service"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/store/memory"
	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

// ── Stay window ─────────────────────────────────────────────────────────────

func TestUnlockByAccount_WindowEdges(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	start := checkIn.Add(-3 * time.Hour)

	h.clock.Set(start.Add(-time.Second))
	_, err := h.svc.UnlockByAccount(ctx, accountReq())
	ae := requireKind(t, err, service.KindTooEarly)
	require.NotNil(t, ae.Boundary)
	assert.True(t, ae.Boundary.Equal(start))

	h.clock.Set(start)
	_, err = h.svc.UnlockByAccount(ctx, accountReq())
	require.NoError(t, err)

	h.clock.Set(checkOut)
	_, err = h.svc.UnlockByAccount(ctx, accountReq())
	require.NoError(t, err)

	h.clock.Set(checkOut.Add(time.Second))
	_, err = h.svc.UnlockByAccount(ctx, accountReq())
	ae = requireKind(t, err, service.KindTooLate)
	require.NotNil(t, ae.Boundary)
	assert.True(t, ae.Boundary.Equal(checkOut))
}

func TestIssueCredential_WindowEdges(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	h.clock.Set(checkIn.Add(-3*time.Hour - time.Second))
	_, err := h.svc.IssueCredential(ctx, accountReq(), types.KeyKindQR)
	requireKind(t, err, service.KindTooEarly)

	h.clock.Set(checkOut.Add(time.Second))
	_, err = h.svc.IssueCredential(ctx, accountReq(), types.KeyKindQR)
	requireKind(t, err, service.KindTooLate)
}

// ── Booking gate ────────────────────────────────────────────────────────────

func TestUnlockByAccount_BookingChecks(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	req := accountReq()
	req.Subject = "someone@else.test"
	_, err := h.svc.UnlockByAccount(ctx, req)
	requireKind(t, err, service.KindForbidden)

	req = accountReq()
	req.Subject = "GUEST@Example.com"
	_, err = h.svc.UnlockByAccount(ctx, req)
	require.NoError(t, err, "subject match is case-insensitive")

	req = accountReq()
	req.BookingID = "bk-missing"
	_, err = h.svc.UnlockByAccount(ctx, req)
	requireKind(t, err, service.KindBookingNotFound)

	require.NoError(t, h.bookings.UpdateStatus(ctx, "bk-1", types.BookingCancelled))
	_, err = h.svc.UnlockByAccount(ctx, accountReq())
	requireKind(t, err, service.KindBookingInactive)
}

// ── Unlock by account ───────────────────────────────────────────────────────

func TestUnlockByAccount_Success(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	resp, err := h.svc.UnlockByAccount(ctx, accountReq())
	require.NoError(t, err)
	assert.True(t, resp.OK)
	assert.Equal(t, "1204", resp.RoomNumber)
	assert.Equal(t, "Harbour View", resp.HotelName)
	assert.True(t, resp.ValidUntil.Equal(checkOut))
	require.NotNil(t, resp.RemainingUses)
	assert.Equal(t, service.DefaultMaxUses-1, *resp.RemainingUses)
	assert.False(t, resp.Unlimited)

	k, err := h.keys.FindActive(ctx, "bk-1", "room-1", types.KeyKindDigital)
	require.NoError(t, err)
	require.NotNil(t, k)
	assert.Equal(t, 1, k.UsedCount)
	assert.True(t, k.ValidFrom.Equal(checkIn.Add(-3*time.Hour)))

	entries := h.logs.Entries()
	require.Len(t, entries, 1)
	assert.True(t, entries[0].Success)
	assert.Equal(t, types.ActionUnlock, entries[0].Action)
	assert.Equal(t, guest, entries[0].ActorID)
	assert.Equal(t, k.ID, entries[0].KeyID)
	assert.Equal(t, "lock-1", entries[0].DeviceID)
	assert.Equal(t, "203.0.113.7", entries[0].Origin)

	st, err := h.svc.DeviceStatus(ctx, "lock-1")
	require.NoError(t, err)
	assert.False(t, st.Locked)
}

func TestUnlockByAccount_UnlimitedKeys(t *testing.T) {
	h := newHarness(t, harnessOpts{maxUses: -1})
	resp, err := h.svc.UnlockByAccount(context.Background(), accountReq())
	require.NoError(t, err)
	assert.True(t, resp.Unlimited)
	assert.Nil(t, resp.RemainingUses)
}

func TestUnlockByAccount_ProviderNotConfigured(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	b := testBooking()
	b.RoomID = "room-without-lock"
	h.bookings.Put(b)

	_, err := h.svc.UnlockByAccount(ctx, accountReq())
	requireKind(t, err, service.KindProviderNotConfigured)

	k, err := h.keys.FindActive(ctx, "bk-1", "room-without-lock", types.KeyKindDigital)
	require.NoError(t, err)
	require.NotNil(t, k)
	assert.Equal(t, 0, k.UsedCount, "no lock was reached, so no use is consumed")
}

// A failed actuation still consumes the use: the attempt is what is rate
// limited.
func TestUnlockByAccount_FailedAttemptConsumesUse(t *testing.T) {
	h := newHarness(t, harnessOpts{maxUses: 1, sim: lock.SimulationConfig{FailureRate: 1}})
	ctx := context.Background()

	_, err := h.svc.UnlockByAccount(ctx, accountReq())
	ae := requireKind(t, err, service.KindActuationFailed)
	assert.Equal(t, lock.CodeJammed, ae.ErrorCode)
	require.NotNil(t, ae.RemainingUses)
	assert.Equal(t, 0, *ae.RemainingUses)

	k, err := h.keys.FindActive(ctx, "bk-1", "room-1", types.KeyKindDigital)
	require.NoError(t, err)
	require.NotNil(t, k)
	assert.Equal(t, 1, k.UsedCount)

	_, err = h.svc.UnlockByAccount(ctx, accountReq())
	requireKind(t, err, service.KindUsageLimitExceeded)

	entries := h.logs.Entries()
	require.Len(t, entries, 2)
	assert.False(t, entries[0].Success)
	assert.False(t, entries[1].Success)
}

func TestUnlockByAccount_ConcurrentAttemptsRespectCeiling(t *testing.T) {
	const maxUses = 5
	h := newHarness(t, harnessOpts{maxUses: maxUses})
	ctx := context.Background()

	var (
		mu      sync.Mutex
		ok      int
		limited int
		wg      sync.WaitGroup
	)
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.UnlockByAccount(ctx, accountReq())
			mu.Lock()
			defer mu.Unlock()
			switch service.KindOf(err) {
			case "":
				if err == nil {
					ok++
				} else {
					t.Errorf("unexpected error: %v", err)
				}
			case service.KindUsageLimitExceeded:
				limited++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, maxUses, ok)
	assert.Equal(t, 40-maxUses, limited)
	assert.Len(t, h.logs.Entries(), 40)
}

func TestUnlockByAccount_CallerCancellationDoesNotAbortActuation(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	resp, err := h.svc.UnlockByAccount(ctx, accountReq())
	require.NoError(t, err)
	assert.True(t, resp.OK)
	require.Len(t, h.logs.Entries(), 1)
}

// revokingKeys revokes the key just before reserving a use, as a checkout
// scan running between the key check and the reservation would.
type revokingKeys struct {
	*memory.KeyStore
}

func (r revokingKeys) IncrementUsage(ctx context.Context, keyID string) (types.RoomKey, error) {
	if err := r.KeyStore.Revoke(ctx, keyID); err != nil {
		return types.RoomKey{}, err
	}
	return r.KeyStore.IncrementUsage(ctx, keyID)
}

func TestUnlockByAccount_KeyRevokedBeforeReservation(t *testing.T) {
	keys := memory.NewKeyStore()
	h := newHarness(t, harnessOpts{keys: revokingKeys{keys}})
	ctx := context.Background()

	_, err := h.svc.UnlockByAccount(ctx, accountReq())
	requireKind(t, err, service.KindKeyInactive)

	_, err = h.sim.Status(ctx, "lock-1")
	require.ErrorIs(t, err, lock.ErrUnknownDevice, "lock must never have been driven")

	entries := h.logs.Entries()
	require.Len(t, entries, 1)
	assert.False(t, entries[0].Success)
}

// ── Lock by account ─────────────────────────────────────────────────────────

func TestLockByAccount_DoesNotConsumeUse(t *testing.T) {
	h := newHarness(t, harnessOpts{maxUses: 3})
	ctx := context.Background()

	_, err := h.svc.UnlockByAccount(ctx, accountReq())
	require.NoError(t, err)

	resp, err := h.svc.LockByAccount(ctx, accountReq())
	require.NoError(t, err)
	require.NotNil(t, resp.RemainingUses)
	assert.Equal(t, 2, *resp.RemainingUses)

	st, err := h.svc.DeviceStatus(ctx, "lock-1")
	require.NoError(t, err)
	assert.True(t, st.Locked)

	entries := h.logs.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, types.ActionLock, entries[1].Action)
	assert.True(t, entries[1].Success)
}

// ── Standalone credentials ──────────────────────────────────────────────────

func TestIssueCredential_QRIsStableAndVerifiable(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	first, err := h.svc.IssueCredential(ctx, accountReq(), types.KeyKindQR)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first.QRCode, "data:image/png;base64,"))
	assert.Empty(t, first.NFCRecord)

	second, err := h.svc.IssueCredential(ctx, accountReq(), types.KeyKindQR)
	require.NoError(t, err)
	assert.Equal(t, first.KeyID, second.KeyID, "same (booking, room, kind) reuses the active key")
	assert.Equal(t, first.Token, second.Token)

	claims, err := h.codec.Verify(first.Token)
	require.NoError(t, err)
	assert.Equal(t, first.KeyID, claims.KeyID)
	assert.Equal(t, "room-1", claims.RoomID)
	assert.Equal(t, guest, claims.Subject)
	assert.Equal(t, types.KeyKindQR, claims.Kind)

	assert.Empty(t, h.logs.Entries(), "issuance is not an access attempt")
}

func TestIssueCredential_NFCIsSeparateKey(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	qr, err := h.svc.IssueCredential(ctx, accountReq(), types.KeyKindQR)
	require.NoError(t, err)
	nfc, err := h.svc.IssueCredential(ctx, accountReq(), types.KeyKindNFC)
	require.NoError(t, err)
	assert.NotEqual(t, qr.KeyID, nfc.KeyID)

	tok, err := credential.DecodeNFC(nfc.NFCRecord)
	require.NoError(t, err)
	assert.Equal(t, nfc.Token, tok)
}

func TestIssueCredential_RotatesKeyWhenCheckoutExtended(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	first, err := h.svc.IssueCredential(ctx, accountReq(), types.KeyKindQR)
	require.NoError(t, err)

	b := testBooking()
	b.CheckOut = checkOut.Add(24 * time.Hour)
	h.bookings.Put(b)

	second, err := h.svc.IssueCredential(ctx, accountReq(), types.KeyKindQR)
	require.NoError(t, err)
	assert.NotEqual(t, first.KeyID, second.KeyID)
	assert.True(t, second.ValidUntil.Equal(b.CheckOut))

	old, err := h.keys.Get(ctx, first.KeyID)
	require.NoError(t, err)
	assert.True(t, old.Revoked)
}

func TestIssueCredential_SubSecondCheckoutMatchesToken(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	b := testBooking()
	b.CheckOut = checkOut.Add(750 * time.Millisecond)
	h.bookings.Put(b)

	first, err := h.svc.IssueCredential(ctx, accountReq(), types.KeyKindQR)
	require.NoError(t, err)
	claims, err := h.codec.Verify(first.Token)
	require.NoError(t, err)

	k, err := h.keys.Get(ctx, first.KeyID)
	require.NoError(t, err)
	assert.True(t, k.ValidUntil.Equal(claims.ValidUntil), "key %s, token %s", k.ValidUntil, claims.ValidUntil)
	assert.True(t, first.ValidUntil.Equal(claims.ValidUntil))

	second, err := h.svc.IssueCredential(ctx, accountReq(), types.KeyKindQR)
	require.NoError(t, err)
	assert.Equal(t, first.KeyID, second.KeyID, "truncated expiry must not trigger rotation")
}

// ── Device verify path ──────────────────────────────────────────────────────

func issueQR(t *testing.T, h *harness) types.CredentialResponse {
	t.Helper()
	cred, err := h.svc.IssueCredential(context.Background(), accountReq(), types.KeyKindQR)
	require.NoError(t, err)
	return cred
}

func TestVerifyAndUnlock_Success(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	cred := issueQR(t, h)

	resp, err := h.svc.VerifyAndUnlock(ctx, types.VerifyRequest{Token: cred.Token, DeviceID: "lock-1", RoomID: "room-1"})
	require.NoError(t, err)
	assert.Equal(t, cred.KeyID, resp.KeyID)
	assert.Equal(t, "1204", resp.RoomNumber)
	assert.Equal(t, "Harbour View", resp.HotelName)

	k, err := h.keys.Get(ctx, cred.KeyID)
	require.NoError(t, err)
	assert.Equal(t, 1, k.UsedCount)

	entries := h.logs.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, types.ActionKeyVerification, entries[0].Action)
	assert.Empty(t, entries[0].ActorID)
	assert.Equal(t, "bk-1", entries[0].BookingID)
}

func TestVerifyAndUnlock_Rejections(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	cred := issueQR(t, h)

	// A genuine signature from another credential grafted onto this one.
	nfc, err := h.svc.IssueCredential(ctx, accountReq(), types.KeyKindNFC)
	require.NoError(t, err)
	parts := strings.Split(cred.Token, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Split(nfc.Token, ".")[2]

	cases := []struct {
		name string
		req  types.VerifyRequest
		kind service.Kind
	}{
		{"empty token", types.VerifyRequest{RoomID: "room-1"}, service.KindDecodeError},
		{"missing room", types.VerifyRequest{Token: cred.Token}, service.KindInvalidRequest},
		{"malformed", types.VerifyRequest{Token: "not-a-token", RoomID: "room-1"}, service.KindDecodeError},
		{"tampered", types.VerifyRequest{Token: tampered, RoomID: "room-1"}, service.KindInvalidSignature},
		{"other room", types.VerifyRequest{Token: cred.Token, RoomID: "room-2"}, service.KindRoomMismatch},
		{"other device", types.VerifyRequest{Token: cred.Token, RoomID: "room-1", DeviceID: "lock-9"}, service.KindRoomMismatch},
	}
	for _, tc := range cases {
		_, err := h.svc.VerifyAndUnlock(ctx, tc.req)
		assert.Equal(t, tc.kind, service.KindOf(err), "%s: %v", tc.name, err)
	}

	k, err := h.keys.Get(ctx, cred.KeyID)
	require.NoError(t, err)
	assert.Equal(t, 0, k.UsedCount, "rejected tokens never consume a use")
	assert.Len(t, h.logs.Entries(), len(cases))
}

func TestVerifyAndUnlock_ExpiredToken(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	cred := issueQR(t, h)

	h.clock.Set(checkOut.Add(time.Second))
	_, err := h.svc.VerifyAndUnlock(context.Background(), types.VerifyRequest{Token: cred.Token, RoomID: "room-1"})
	requireKind(t, err, service.KindExpired)
}

func TestVerifyAndUnlock_RevokedKey(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()
	cred := issueQR(t, h)

	require.NoError(t, h.svc.RevokeKey(ctx, cred.KeyID, "alice"))
	requireKind(t, h.svc.RevokeKey(ctx, cred.KeyID, "alice"), service.KindRevoked)
	requireKind(t, h.svc.RevokeKey(ctx, "missing", "alice"), service.KindNotFound)

	_, err := h.svc.VerifyAndUnlock(ctx, types.VerifyRequest{Token: cred.Token, RoomID: "room-1"})
	requireKind(t, err, service.KindKeyInactive)
}

func TestVerifyAndUnlock_ExhaustedKey(t *testing.T) {
	h := newHarness(t, harnessOpts{maxUses: 1})
	ctx := context.Background()
	cred := issueQR(t, h)
	req := types.VerifyRequest{Token: cred.Token, RoomID: "room-1"}

	_, err := h.svc.VerifyAndUnlock(ctx, req)
	require.NoError(t, err)
	_, err = h.svc.VerifyAndUnlock(ctx, req)
	requireKind(t, err, service.KindUsageLimitExceeded)
}

// ── Devices ─────────────────────────────────────────────────────────────────

func TestRegisterDevice(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	ctx := context.Background()

	_, err := h.svc.RegisterDevice(ctx, types.RegisterDeviceRequest{RoomID: "room-2"})
	requireKind(t, err, service.KindInvalidRequest)

	_, err = h.svc.RegisterDevice(ctx, types.RegisterDeviceRequest{DeviceID: "lock-2", RoomID: "room-2", LockType: types.LockMQTT})
	requireKind(t, err, service.KindProviderNotConfigured)

	dev, err := h.svc.RegisterDevice(ctx, types.RegisterDeviceRequest{DeviceID: "lock-2", RoomID: "room-2"})
	require.NoError(t, err)
	assert.Equal(t, types.LockSimulation, dev.LockType)
	assert.True(t, dev.Enabled)

	got, err := h.devices.ForRoom(ctx, "room-2")
	require.NoError(t, err)
	assert.Equal(t, "lock-2", got.DeviceID)

	_, err = h.svc.DeviceStatus(ctx, "lock-unknown")
	requireKind(t, err, service.KindNotFound)
}
