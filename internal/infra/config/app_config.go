// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment identifies the runtime environment where the bridge operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// PinnedAPIHost is the only host the remote loyalty engine is served from.
// Configured base URLs pointing elsewhere are replaced with this value.
const PinnedAPIHost = "https://app.loyaltyengage.tech"

// APIConfig describes connectivity to the remote loyalty engine.
type APIConfig struct {
	BaseURL        string        `yaml:"baseUrl"`
	TenantID       string        `yaml:"tenantId"`
	BearerToken    string        `yaml:"bearerToken"`
	RequestTimeout time.Duration `yaml:"requestTimeout"`
	RateLimit      float64       `yaml:"rateLimit"`
	RateBurst      int           `yaml:"rateBurst"`
}

func (c *APIConfig) applyDefaults() {
	c.BaseURL = strings.TrimSpace(c.BaseURL)
	if c.BaseURL == "" {
		c.BaseURL = PinnedAPIHost
	}
	c.TenantID = strings.TrimSpace(c.TenantID)
	c.BearerToken = strings.TrimSpace(c.BearerToken)
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.RateLimit <= 0 {
		c.RateLimit = 10
	}
	if c.RateBurst <= 0 {
		c.RateBurst = 5
	}
}

func (c APIConfig) validate() error {
	if strings.TrimSpace(c.TenantID) == "" {
		return fmt.Errorf("tenantId required")
	}
	if strings.TrimSpace(c.BearerToken) == "" {
		return fmt.Errorf("bearerToken required")
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("requestTimeout must be >0")
	}
	if c.RateLimit <= 0 {
		return fmt.Errorf("rateLimit must be >0")
	}
	if c.RateBurst <= 0 {
		return fmt.Errorf("rateBurst must be >0")
	}
	return nil
}

// DispatchConfig tunes the outbox dispatcher.
type DispatchConfig struct {
	PollInterval   time.Duration `yaml:"pollInterval"`
	Workers        int           `yaml:"workers"`
	QueueDepth     int           `yaml:"queueDepth"`
	BatchLimit     int           `yaml:"batchLimit"`
	MaxAttempts    int           `yaml:"maxAttempts"`
	InitialBackoff time.Duration `yaml:"initialBackoff"`
	MaxBackoff     time.Duration `yaml:"maxBackoff"`
}

func (c *DispatchConfig) applyDefaults() {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = 64
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 64
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 10 * time.Second
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Minute
	}
}

func (c DispatchConfig) validate() error {
	if c.PollInterval <= 0 {
		return fmt.Errorf("pollInterval must be >0")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("workers must be >0")
	}
	if c.QueueDepth <= 0 {
		return fmt.Errorf("queueDepth must be >0")
	}
	if c.BatchLimit <= 0 {
		return fmt.Errorf("batchLimit must be >0")
	}
	if c.MaxAttempts <= 0 {
		return fmt.Errorf("maxAttempts must be >0")
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initialBackoff must be >0")
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("maxBackoff must be >= initialBackoff")
	}
	return nil
}

// SweepsConfig tunes the cart expiry and order placement reconciliation sweeps.
type SweepsConfig struct {
	CartExpiryInterval time.Duration `yaml:"cartExpiryInterval"`
	CartMaxAge         time.Duration `yaml:"cartMaxAge"`
	CartAttemptLimit   int           `yaml:"cartAttemptLimit"`
	OrderPlaceInterval time.Duration `yaml:"orderPlaceInterval"`
	OrderRetrieveLimit int           `yaml:"orderRetrieveLimit"`
	BatchLimit         int           `yaml:"batchLimit"`
}

func (c *SweepsConfig) applyDefaults() {
	if c.CartExpiryInterval <= 0 {
		c.CartExpiryInterval = 60 * time.Second
	}
	if c.CartMaxAge <= 0 {
		c.CartMaxAge = 30 * time.Minute
	}
	if c.CartAttemptLimit <= 0 {
		c.CartAttemptLimit = 3
	}
	if c.OrderPlaceInterval <= 0 {
		c.OrderPlaceInterval = 300 * time.Second
	}
	if c.OrderRetrieveLimit <= 0 {
		c.OrderRetrieveLimit = 3
	}
	if c.BatchLimit <= 0 {
		c.BatchLimit = 64
	}
}

func (c SweepsConfig) validate() error {
	if c.CartExpiryInterval <= 0 {
		return fmt.Errorf("cartExpiryInterval must be >0")
	}
	if c.CartMaxAge <= 0 {
		return fmt.Errorf("cartMaxAge must be >0")
	}
	if c.CartAttemptLimit <= 0 {
		return fmt.Errorf("cartAttemptLimit must be >0")
	}
	if c.OrderPlaceInterval <= 0 {
		return fmt.Errorf("orderPlaceInterval must be >0")
	}
	if c.OrderRetrieveLimit <= 0 {
		return fmt.Errorf("orderRetrieveLimit must be >0")
	}
	if c.BatchLimit <= 0 {
		return fmt.Errorf("batchLimit must be >0")
	}
	return nil
}

// EligibilityRuleConfig declares one condition a customer's mirrored loyalty
// state must satisfy before a discount claim reaches the engine.
type EligibilityRuleConfig struct {
	Field    string `yaml:"field"`
	Operator string `yaml:"operator"`
	Value    string `yaml:"value"`
}

// EligibilityConfig gates discount claims. An empty rule list means no gate.
type EligibilityConfig struct {
	Rules []EligibilityRuleConfig `yaml:"rules"`
}

func (c EligibilityConfig) validate() error {
	for i, rule := range c.Rules {
		if strings.TrimSpace(rule.Field) == "" {
			return fmt.Errorf("rules[%d]: field required", i)
		}
		if strings.TrimSpace(rule.Operator) == "" {
			return fmt.Errorf("rules[%d]: operator required", i)
		}
		if strings.TrimSpace(rule.Value) == "" {
			return fmt.Errorf("rules[%d]: value required", i)
		}
	}
	return nil
}

// EventsConfig toggles which storefront events feed the dispatch pipeline.
type EventsConfig struct {
	PurchaseEnabled bool `yaml:"purchaseEnabled"`
	ReturnEnabled   bool `yaml:"returnEnabled"`
}

// ServerConfig configures the bridge's HTTP surface.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig controls structured log verbosity.
type LoggingConfig struct {
	Verbose bool `yaml:"verbose"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// DatabaseConfig controls PostgreSQL connectivity and migration behaviour.
type DatabaseConfig struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	RunMigrations     bool          `yaml:"runMigrations"`
}

func (c *DatabaseConfig) applyDefaults() {
	c.DSN = strings.TrimSpace(c.DSN)
	if c.DSN == "" {
		c.DSN = "postgresql://localhost:5432/loyalty_bridge"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 16
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
}

func (c DatabaseConfig) validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("dsn required")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("maxConns must be >0")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("minConns must be >=0")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("minConns must be <= maxConns")
	}
	if c.MaxConnLifetime <= 0 {
		return fmt.Errorf("maxConnLifetime must be >0")
	}
	if c.MaxConnIdleTime <= 0 {
		return fmt.Errorf("maxConnIdleTime must be >0")
	}
	if c.HealthCheckPeriod <= 0 {
		return fmt.Errorf("healthCheckPeriod must be >0")
	}
	return nil
}

// AppConfig is the unified loyalty-bridge application configuration sourced from YAML.
type AppConfig struct {
	Environment Environment       `yaml:"environment"`
	API         APIConfig         `yaml:"api"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Sweeps      SweepsConfig      `yaml:"sweeps"`
	Events      EventsConfig      `yaml:"events"`
	Eligibility EligibilityConfig `yaml:"eligibility"`
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Database    DatabaseConfig    `yaml:"database"`
}

// Load reads and validates an AppConfig from the provided YAML file.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	var envelope map[string]any
	if err := yaml.Unmarshal(bytes, &envelope); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	eventsProvided := false
	if rawEvents, ok := envelope["events"]; ok && rawEvents != nil {
		switch typed := rawEvents.(type) {
		case map[string]any:
			if len(typed) > 0 {
				eventsProvided = true
			}
		default:
			eventsProvided = true
		}
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}

	// Both event feeds default to enabled when the section is absent.
	if !eventsProvided {
		cfg.Events = EventsConfig{PurchaseEnabled: true, ReturnEnabled: true}
	}

	cfg.normalise()

	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c *AppConfig) normalise() {
	c.Environment = Environment(strings.ToLower(strings.TrimSpace(string(c.Environment))))
	c.Server.Addr = strings.TrimSpace(c.Server.Addr)
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "loyalty-bridge"
	}

	c.API.applyDefaults()
	c.Dispatch.applyDefaults()
	c.Sweeps.applyDefaults()
	c.Database.applyDefaults()
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}

	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server addr required")
	}
	if strings.TrimSpace(c.Telemetry.ServiceName) == "" {
		return fmt.Errorf("telemetry serviceName required")
	}

	if err := c.API.validate(); err != nil {
		return fmt.Errorf("api: %w", err)
	}
	if err := c.Dispatch.validate(); err != nil {
		return fmt.Errorf("dispatch: %w", err)
	}
	if err := c.Sweeps.validate(); err != nil {
		return fmt.Errorf("sweeps: %w", err)
	}
	if err := c.Eligibility.validate(); err != nil {
		return fmt.Errorf("eligibility: %w", err)
	}
	if err := c.Database.validate(); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
