package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// MinSecretLen matches the credential codec's floor.
const MinSecretLen = 32

var ErrSecretMissing = errors.New("config: KEYACCESS_CREDENTIAL_SECRET is required")

type Config struct {
	HTTPAddr string
	GRPCAddr string // empty disables the ops listener

	Env     string // "dev" | "prod"
	Store   string // "memory" | "sqlite"
	DBPath  string
	SeedDev bool

	CredentialSecret string
	SessionSecret    string // empty trusts the guest subject header
	StaffAPIKey      string

	EarlyCheckIn  time.Duration
	KeyMaxUses    int // 0 = default, negative = unlimited
	UnlockTimeout time.Duration

	MonitorInterval  time.Duration
	MonitorAutostart bool
	StaffNotifyAddr  string
	NotifyWebhookURL string // empty logs notifications instead

	// Lock drivers. Simulation is always registered.
	SimLatency     time.Duration
	SimFailureRate float64

	MQTTBrokerURL   string
	MQTTClientID    string
	MQTTTopicPrefix string
	MQTTUsername    string
	MQTTPassword    string

	VendorBaseURL string
	VendorAPIKey  string
}

// Load reads an optional .env file and then the environment. Variables
// already set in the environment win over the file.
func Load(files ...string) Config {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "config: ignoring env file: %v\n", err)
	}
	return FromEnv()
}

func FromEnv() Config {
	env := strings.ToLower(getenvDefault("KEYACCESS_ENV", "dev"))
	if env != "dev" && env != "prod" {
		// fail-soft: treat unknown as dev
		env = "dev"
	}

	backend := strings.ToLower(getenvDefault("KEYACCESS_STORE", "sqlite"))
	if backend != "memory" && backend != "sqlite" {
		backend = "sqlite"
	}

	return Config{
		HTTPAddr: getenvDefault("KEYACCESS_HTTP_ADDR", ":8080"),
		GRPCAddr: getenvDefault("KEYACCESS_GRPC_ADDR", ":9090"),

		Env:     env,
		Store:   backend,
		DBPath:  getenvDefault("KEYACCESS_DB_PATH", "./data/keyaccess.db"),
		SeedDev: getenvBool("KEYACCESS_SEED_DEV", env == "dev"),

		CredentialSecret: os.Getenv("KEYACCESS_CREDENTIAL_SECRET"),
		SessionSecret:    os.Getenv("KEYACCESS_SESSION_SECRET"),
		StaffAPIKey:      os.Getenv("KEYACCESS_STAFF_API_KEY"),

		EarlyCheckIn:  time.Duration(getenvInt("KEYACCESS_EARLY_CHECKIN_HOURS", 3)) * time.Hour,
		KeyMaxUses:    getenvSignedInt("KEYACCESS_KEY_MAX_USES", 1000),
		UnlockTimeout: getenvDuration("KEYACCESS_UNLOCK_TIMEOUT", 8*time.Second),

		MonitorInterval:  getenvDuration("KEYACCESS_MONITOR_INTERVAL", time.Minute),
		MonitorAutostart: getenvBool("KEYACCESS_MONITOR_AUTOSTART", true),
		StaffNotifyAddr:  os.Getenv("KEYACCESS_STAFF_NOTIFY_ADDR"),
		NotifyWebhookURL: os.Getenv("KEYACCESS_NOTIFY_WEBHOOK_URL"),

		SimLatency:     getenvDuration("KEYACCESS_SIM_LATENCY", 200*time.Millisecond),
		SimFailureRate: getenvFloat("KEYACCESS_SIM_FAILURE_RATE", 0),

		MQTTBrokerURL:   os.Getenv("KEYACCESS_MQTT_BROKER_URL"),
		MQTTClientID:    getenvDefault("KEYACCESS_MQTT_CLIENT_ID", "keyaccess-server"),
		MQTTTopicPrefix: getenvDefault("KEYACCESS_MQTT_TOPIC_PREFIX", "locks"),
		MQTTUsername:    os.Getenv("KEYACCESS_MQTT_USERNAME"),
		MQTTPassword:    os.Getenv("KEYACCESS_MQTT_PASSWORD"),

		VendorBaseURL: os.Getenv("KEYACCESS_VENDOR_BASE_URL"),
		VendorAPIKey:  os.Getenv("KEYACCESS_VENDOR_API_KEY"),
	}
}

// Validate rejects configurations the server must not start with.
func (c Config) Validate() error {
	if c.CredentialSecret == "" {
		return ErrSecretMissing
	}
	if len(c.CredentialSecret) < MinSecretLen {
		return fmt.Errorf("config: KEYACCESS_CREDENTIAL_SECRET must be at least %d bytes", MinSecretLen)
	}
	if c.SessionSecret != "" && len(c.SessionSecret) < MinSecretLen {
		return fmt.Errorf("config: KEYACCESS_SESSION_SECRET must be at least %d bytes", MinSecretLen)
	}
	if c.SimFailureRate < 0 || c.SimFailureRate > 1 {
		return fmt.Errorf("config: KEYACCESS_SIM_FAILURE_RATE must be within [0,1]")
	}
	if c.VendorBaseURL != "" && c.VendorAPIKey == "" {
		return fmt.Errorf("config: KEYACCESS_VENDOR_API_KEY is required with a vendor base URL")
	}
	return nil
}

func getenvDefault(key, def string) string {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	n := getenvSignedInt(key, def)
	if n < 0 {
		return def
	}
	return n
}

func getenvSignedInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
