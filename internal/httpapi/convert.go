package httpapi

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/BrandonDHaskell/Portunus/keyaccess/internal/keyaccess/types"
)

const timeLayout = time.RFC3339

// ── Verify (protobuf Struct) ─────────────────────────────────────────────────

func verifyRequestFromStruct(p *structpb.Struct) types.VerifyRequest {
	f := p.GetFields()
	req := types.VerifyRequest{
		Token:    f["token"].GetStringValue(),
		DeviceID: f["device_id"].GetStringValue(),
		RoomID:   f["room_id"].GetStringValue(),
	}
	if geo := f["geo"].GetStructValue(); geo != nil {
		req.Geo = &types.GeoPoint{
			Lat: geo.GetFields()["lat"].GetNumberValue(),
			Lng: geo.GetFields()["lng"].GetNumberValue(),
		}
	}
	return req
}

func unlockResponseToStruct(r types.UnlockResponse) (*structpb.Struct, error) {
	m := map[string]any{
		"ok":          r.OK,
		"key_id":      r.KeyID,
		"room_number": r.RoomNumber,
		"hotel_name":  r.HotelName,
		"actuated_at": r.ActuatedAt.UTC().Format(timeLayout),
		"valid_until": r.ValidUntil.UTC().Format(timeLayout),
		"unlimited":   r.Unlimited,
	}
	if r.RemainingUses != nil {
		m["remaining_uses"] = *r.RemainingUses
	} else {
		m["remaining_uses"] = nil
	}
	if r.Message != "" {
		m["message"] = r.Message
	}
	return structpb.NewStruct(m)
}

func errorToStruct(b errorBody) (*structpb.Struct, error) {
	m := map[string]any{
		"ok":      false,
		"error":   b.Error,
		"message": b.Message,
	}
	if b.Boundary != "" {
		m["boundary"] = b.Boundary
	}
	if b.RemainingUses != nil {
		m["remaining_uses"] = *b.RemainingUses
	}
	if b.ErrorCode != "" {
		m["error_code"] = b.ErrorCode
	}
	return structpb.NewStruct(m)
}
