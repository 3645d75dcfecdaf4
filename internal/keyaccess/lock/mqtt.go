package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// MQTTClient is the part of mqtt.Client the driver uses.
type MQTTClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

type MQTTConfig struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string // e.g. "hotel/locks"
	Username    string
	Password    string
}

// DialMQTT connects to the broker with auto-reconnect enabled.
func DialMQTT(cfg MQTTConfig, logger *log.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectTimeout(10 * time.Second).
		SetOrderMatters(false)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Printf("mqtt connection lost: %v", err)
	})

	c := mqtt.NewClient(opts)
	tok := c.Connect()
	if !tok.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("mqtt connect %s: timed out", cfg.BrokerURL)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect %s: %w", cfg.BrokerURL, err)
	}
	return c, nil
}

// mqttCommand is published to {prefix}/{device}/command. The lock answers on
// {prefix}/{device}/response echoing RequestID.
type mqttCommand struct {
	RequestID   string            `json:"request_id"`
	Action      string            `json:"action"`
	KeyMaterial string            `json:"key_material,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	SentAt      time.Time         `json:"sent_at"`
}

type mqttResponse struct {
	RequestID string `json:"request_id"`
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code"`
	Locked    bool   `json:"locked"`
	Battery   *int   `json:"battery"`
}

type MQTTProvider struct {
	client MQTTClient
	prefix string
	logger *log.Logger

	mu      sync.Mutex
	pending map[string]chan mqttResponse
}

// NewMQTTProvider subscribes to every device's response topic once and
// routes replies to waiting callers by request id.
func NewMQTTProvider(client MQTTClient, prefix string, logger *log.Logger) (*MQTTProvider, error) {
	p := &MQTTProvider{
		client:  client,
		prefix:  strings.TrimSuffix(prefix, "/"),
		logger:  logger,
		pending: make(map[string]chan mqttResponse),
	}
	tok := client.Subscribe(p.prefix+"/+/response", 1, p.onResponse)
	if !tok.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt subscribe: timed out")
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt subscribe: %w", err)
	}
	return p, nil
}

func (p *MQTTProvider) onResponse(_ mqtt.Client, msg mqtt.Message) {
	var resp mqttResponse
	if err := json.Unmarshal(msg.Payload(), &resp); err != nil {
		p.logger.Printf("mqtt: bad response on %s: %v", msg.Topic(), err)
		return
	}
	p.mu.Lock()
	ch, ok := p.pending[resp.RequestID]
	if ok {
		delete(p.pending, resp.RequestID)
	}
	p.mu.Unlock()
	if ok {
		ch <- resp
	}
}

func (p *MQTTProvider) roundTrip(ctx context.Context, deviceID string, cmd mqttCommand) (mqttResponse, error) {
	cmd.RequestID = uuid.NewString()
	cmd.SentAt = time.Now().UTC()
	payload, err := json.Marshal(cmd)
	if err != nil {
		return mqttResponse{}, err
	}

	ch := make(chan mqttResponse, 1)
	p.mu.Lock()
	p.pending[cmd.RequestID] = ch
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		delete(p.pending, cmd.RequestID)
		p.mu.Unlock()
	}()

	tok := p.client.Publish(p.prefix+"/"+deviceID+"/command", 1, false, payload)
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return mqttResponse{}, fmt.Errorf("publish: %w", err)
		}
	case <-ctx.Done():
		return mqttResponse{}, ctx.Err()
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return mqttResponse{}, ctx.Err()
	}
}

func (p *MQTTProvider) actuate(ctx context.Context, deviceID string, cmd mqttCommand) Result {
	resp, err := p.roundTrip(ctx, deviceID, cmd)
	if err != nil {
		if ctx.Err() != nil {
			return failed(CodeTimeout, "no response from lock")
		}
		return failed(CodeUnreachable, err.Error())
	}
	if !resp.Success {
		code := resp.ErrorCode
		if code == "" {
			code = CodeRejected
		}
		return failed(code, resp.Message)
	}
	return succeeded(resp.Message)
}

func (p *MQTTProvider) Unlock(ctx context.Context, deviceID, keyMaterial string) Result {
	return p.actuate(ctx, deviceID, mqttCommand{Action: "unlock", KeyMaterial: keyMaterial})
}

func (p *MQTTProvider) Lock(ctx context.Context, deviceID string) Result {
	return p.actuate(ctx, deviceID, mqttCommand{Action: "lock"})
}

func (p *MQTTProvider) Status(ctx context.Context, deviceID string) (Status, error) {
	resp, err := p.roundTrip(ctx, deviceID, mqttCommand{Action: "status"})
	if err != nil {
		if ctx.Err() != nil {
			return Status{DeviceID: deviceID, Online: false, CheckedAt: time.Now().UTC(), Detail: "no response"}, nil
		}
		return Status{}, err
	}
	return Status{
		DeviceID:       deviceID,
		Online:         true,
		Locked:         resp.Locked,
		BatteryPercent: resp.Battery,
		CheckedAt:      time.Now().UTC(),
		Detail:         resp.Message,
	}, nil
}

func (p *MQTTProvider) RegisterDevice(ctx context.Context, deviceID string, metadata map[string]string) error {
	res := p.actuate(ctx, deviceID, mqttCommand{Action: "register", Metadata: metadata})
	if !res.Success {
		return fmt.Errorf("mqtt register %s: %s (%s)", deviceID, res.Message, res.ErrorCode)
	}
	return nil
}
