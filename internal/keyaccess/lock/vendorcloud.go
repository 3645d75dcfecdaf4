package lock

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type VendorCloudConfig struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// VendorCloud drives locks through a vendor's HTTPS API:
//
//	POST {base}/locks/{id}/unlock   {"key_material": "..."}
//	POST {base}/locks/{id}/lock
//	GET  {base}/locks/{id}/status
//	PUT  {base}/locks/{id}          {"metadata": {...}}
type VendorCloud struct {
	base   string
	apiKey string
	client *http.Client
}

func NewVendorCloud(cfg VendorCloudConfig) *VendorCloud {
	c := cfg.Client
	if c == nil {
		c = &http.Client{Timeout: 15 * time.Second}
	}
	return &VendorCloud{base: strings.TrimSuffix(cfg.BaseURL, "/"), apiKey: cfg.APIKey, client: c}
}

type vendorReply struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code"`
	Online    *bool  `json:"online"`
	Locked    bool   `json:"locked"`
	Battery   *int   `json:"battery"`
}

func (v *VendorCloud) do(ctx context.Context, method, path string, body any) (int, vendorReply, error) {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, vendorReply{}, err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, v.base+path, rd)
	if err != nil {
		return 0, vendorReply{}, err
	}
	req.Header.Set("Authorization", "Bearer "+v.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return 0, vendorReply{}, err
	}
	defer resp.Body.Close()

	var reply vendorReply
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return resp.StatusCode, vendorReply{}, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return resp.StatusCode, reply, nil
	}
	if err := json.Unmarshal(raw, &reply); err != nil {
		if resp.StatusCode/100 == 2 {
			return resp.StatusCode, vendorReply{}, fmt.Errorf("vendor reply: %w", err)
		}
		// Gateway error pages; only the status code is usable.
		reply = vendorReply{}
	}
	return resp.StatusCode, reply, nil
}

func lockPath(deviceID string, suffix string) string {
	return "/locks/" + url.PathEscape(deviceID) + suffix
}

func (v *VendorCloud) actuate(ctx context.Context, path string, body any) Result {
	status, reply, err := v.do(ctx, http.MethodPost, path, body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return failed(CodeTimeout, "vendor api did not respond")
		}
		return failed(CodeUnreachable, err.Error())
	}
	if status == http.StatusNotFound {
		return failed(CodeDeviceUnknown, "vendor does not know this lock")
	}
	if status/100 != 2 || !reply.Success {
		code := reply.ErrorCode
		if code == "" {
			code = fmt.Sprintf("HTTP_%d", status)
		}
		msg := reply.Message
		if msg == "" {
			msg = http.StatusText(status)
		}
		return failed(code, msg)
	}
	return succeeded(reply.Message)
}

func (v *VendorCloud) Unlock(ctx context.Context, deviceID, keyMaterial string) Result {
	return v.actuate(ctx, lockPath(deviceID, "/unlock"), map[string]string{"key_material": keyMaterial})
}

func (v *VendorCloud) Lock(ctx context.Context, deviceID string) Result {
	return v.actuate(ctx, lockPath(deviceID, "/lock"), nil)
}

func (v *VendorCloud) Status(ctx context.Context, deviceID string) (Status, error) {
	code, reply, err := v.do(ctx, http.MethodGet, lockPath(deviceID, "/status"), nil)
	if err != nil {
		return Status{}, fmt.Errorf("vendor status: %w", err)
	}
	if code == http.StatusNotFound {
		return Status{}, ErrUnknownDevice
	}
	if code/100 != 2 {
		return Status{}, fmt.Errorf("vendor status: HTTP %d", code)
	}
	online := true
	if reply.Online != nil {
		online = *reply.Online
	}
	return Status{
		DeviceID:       deviceID,
		Online:         online,
		Locked:         reply.Locked,
		BatteryPercent: reply.Battery,
		CheckedAt:      time.Now().UTC(),
		Detail:         reply.Message,
	}, nil
}

func (v *VendorCloud) RegisterDevice(ctx context.Context, deviceID string, metadata map[string]string) error {
	code, reply, err := v.do(ctx, http.MethodPut, lockPath(deviceID, ""), map[string]any{"metadata": metadata})
	if err != nil {
		return fmt.Errorf("vendor register: %w", err)
	}
	if code/100 != 2 {
		return fmt.Errorf("vendor register: HTTP %d %s", code, reply.Message)
	}
	return nil
}
