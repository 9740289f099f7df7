package config

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"gopkg.in/yaml.v2"
)

// DefaultConfigPath is used when no path is given and PHI_AUDIT_CONFIG_PATH is unset.
const DefaultConfigPath = "./phi-audit.yaml"

// Pipeline controls batching, retry and intake behaviour.
type Pipeline struct {
	// BatchSize is the buffered unit count that triggers a drain. Default 50.
	BatchSize int `yaml:"batchSize"`
	// FlushInterval is the maximum age of the oldest buffered unit (e.g. "30s").
	FlushInterval string `yaml:"flushInterval"`
	// MaxRetries bounds re-sends after the first attempt. Default 3.
	MaxRetries int `yaml:"maxRetries"`
	// RetryInitialBackoff and RetryMaxBackoff shape immediate-path re-sends.
	RetryInitialBackoff string `yaml:"retryInitialBackoff"`
	RetryMaxBackoff     string `yaml:"retryMaxBackoff"`
	// SubmitTimeout bounds a single sink call.
	SubmitTimeout string `yaml:"submitTimeout"`
	// IntakeQueueSize is the capacity of the channel between recorder and workers.
	IntakeQueueSize int `yaml:"intakeQueueSize"`
	// EnrichWorkers is the number of goroutines enriching and dispatching events.
	EnrichWorkers int `yaml:"enrichWorkers"`
}

// OAuth2 holds client-credentials settings for authenticating to the
// ingestion and reporting endpoints.
type OAuth2 struct {
	TokenURL     string   `yaml:"tokenURL"`
	ClientID     string   `yaml:"clientID"`
	ClientSecret string   `yaml:"clientSecret"`
	Scopes       []string `yaml:"scopes"`
}

// Enabled reports whether client credentials are configured.
func (o OAuth2) Enabled() bool {
	return o.TokenURL != "" && o.ClientID != ""
}

// HTTPClient returns a client that fetches and refreshes tokens through
// base and attaches them to every request.
func (o OAuth2) HTTPClient(base *http.Client) *http.Client {
	cc := &clientcredentials.Config{
		ClientID:     o.ClientID,
		ClientSecret: o.ClientSecret,
		TokenURL:     o.TokenURL,
		Scopes:       o.Scopes,
	}
	if base == nil {
		base = &http.Client{}
	}
	return cc.Client(context.WithValue(context.Background(), oauth2.HTTPClient, base))
}

type HTTPSink struct {
	URL      string            `yaml:"url"`
	BatchURL string            `yaml:"batchURL"`
	Timeout  string            `yaml:"timeout"`
	Headers  map[string]string `yaml:"headers"`
	OAuth2   OAuth2            `yaml:"oauth2"`
}

type KafkaSink struct {
	Brokers          []string `yaml:"brokers"`
	Topic            string   `yaml:"topic"`
	CompressionCodec string   `yaml:"compressionCodec"`
	RequiredAcks     int      `yaml:"requiredAcks"`
	WriteTimeout     string   `yaml:"writeTimeout"`
	SASLMechanism    string   `yaml:"saslMechanism"`
	SASLUsername     string   `yaml:"saslUsername"`
	SASLPassword     string   `yaml:"saslPassword"`
	TLSEnabled       bool     `yaml:"tlsEnabled"`
	TLSCAFile        string   `yaml:"tlsCAFile"`
}

type CircuitBreaker struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold int    `yaml:"failureThreshold"`
	SuccessThreshold int    `yaml:"successThreshold"`
	OpenTimeout      string `yaml:"openTimeout"`
}

// Sink selects and configures the remote audit sink.
type Sink struct {
	// Type is one of "http", "kafka" or "log".
	Type           string         `yaml:"type"`
	Name           string         `yaml:"name"`
	HTTP           HTTPSink       `yaml:"http"`
	Kafka          KafkaSink      `yaml:"kafka"`
	CircuitBreaker CircuitBreaker `yaml:"circuitBreaker"`
}

type SQLiteBackend struct {
	Path string `yaml:"path"`
}

type RedisBackend struct {
	URL       string `yaml:"url"`
	KeyPrefix string `yaml:"keyPrefix"`
}

// Fallback configures the local durable fallback store.
type Fallback struct {
	Capacity int `yaml:"capacity"`
	// Backend is one of "memory", "sqlite" or "redis".
	Backend string        `yaml:"backend"`
	SQLite  SQLiteBackend `yaml:"sqlite"`
	Redis   RedisBackend  `yaml:"redis"`
}

// Crypto selects where the master secret comes from and which signer to use.
type Crypto struct {
	// KeySource is one of "env", "file" or "keyring".
	KeySource string `yaml:"keySource"`
	// KeyEnv names the environment variable holding a base64 master secret.
	KeyEnv string `yaml:"keyEnv"`
	// KeyFile is a file containing a base64 master secret.
	KeyFile string `yaml:"keyFile"`
	// KeyringService and KeyringUser address the secret in the OS keyring.
	KeyringService string `yaml:"keyringService"`
	KeyringUser    string `yaml:"keyringUser"`
	// KeyID is carried with ciphertexts and signatures for key rotation.
	KeyID string `yaml:"keyID"`
	// Signer is "hmac-sha256" or "ed25519".
	Signer string `yaml:"signer"`
}

// Enrichment configures the best-effort geo/user-agent lookup.
type Enrichment struct {
	Enabled   bool    `yaml:"enabled"`
	GeoURL    string  `yaml:"geoURL"`
	Timeout   string  `yaml:"timeout"`
	RateLimit float64 `yaml:"rateLimit"`
	Burst     int     `yaml:"burst"`
	CacheTTL  string  `yaml:"cacheTTL"`
}

// Compliance configures the report endpoint.
type Compliance struct {
	URL     string `yaml:"url"`
	Timeout string `yaml:"timeout"`
	OAuth2  OAuth2 `yaml:"oauth2"`
}

// Telemetry configures OpenTelemetry tracing.
type Telemetry struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"samplingRate"`
}

type Config struct {
	ServiceName string     `yaml:"serviceName"`
	Debug       bool       `yaml:"debug"`
	Pipeline    Pipeline   `yaml:"pipeline"`
	Sink        Sink       `yaml:"sink"`
	Fallback    Fallback   `yaml:"fallback"`
	Crypto      Crypto     `yaml:"crypto"`
	Enrichment  Enrichment `yaml:"enrichment"`
	Compliance  Compliance `yaml:"compliance"`
	Telemetry   Telemetry  `yaml:"telemetry"`
}

// Load loads the phi-audit configuration from a file path.
// If configPath is empty, PHI_AUDIT_CONFIG_PATH is consulted and then
// DefaultConfigPath is used. Defaults and environment overrides are applied
// to the result.
func Load(configPath ...string) (Config, error) {
	var path string

	switch {
	case len(configPath) > 0 && configPath[0] != "":
		path = configPath[0]
	case os.Getenv("PHI_AUDIT_CONFIG_PATH") != "":
		path = os.Getenv("PHI_AUDIT_CONFIG_PATH")
	default:
		path = DefaultConfigPath
	}

	var config Config

	content, err := os.ReadFile(path)
	if err != nil {
		return config, fmt.Errorf("trying to open phi-audit config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(content, &config); err != nil {
		return config, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
	}

	config.Defaults()
	config.ApplyEnv()
	return config, nil
}

// Defaults fills zero values with the pipeline's standard settings.
func (c *Config) Defaults() {
	if c.ServiceName == "" {
		c.ServiceName = "phi-audit"
	}
	if c.Pipeline.BatchSize <= 0 {
		c.Pipeline.BatchSize = 50
	}
	if c.Pipeline.FlushInterval == "" {
		c.Pipeline.FlushInterval = "30s"
	}
	if c.Pipeline.MaxRetries <= 0 {
		c.Pipeline.MaxRetries = 3
	}
	if c.Pipeline.RetryInitialBackoff == "" {
		c.Pipeline.RetryInitialBackoff = "1s"
	}
	if c.Pipeline.RetryMaxBackoff == "" {
		c.Pipeline.RetryMaxBackoff = "30s"
	}
	if c.Pipeline.SubmitTimeout == "" {
		c.Pipeline.SubmitTimeout = "10s"
	}
	if c.Pipeline.IntakeQueueSize <= 0 {
		c.Pipeline.IntakeQueueSize = 10000
	}
	if c.Pipeline.EnrichWorkers <= 0 {
		c.Pipeline.EnrichWorkers = 4
	}

	if c.Sink.Type == "" {
		c.Sink.Type = "http"
	}
	if c.Sink.Name == "" {
		c.Sink.Name = c.Sink.Type
	}
	if c.Sink.HTTP.Timeout == "" {
		c.Sink.HTTP.Timeout = "5s"
	}
	if c.Sink.Kafka.Topic == "" {
		c.Sink.Kafka.Topic = "phi-audit-events"
	}

	if c.Fallback.Capacity <= 0 {
		c.Fallback.Capacity = 1000
	}
	if c.Fallback.Backend == "" {
		c.Fallback.Backend = "memory"
	}
	if c.Fallback.SQLite.Path == "" {
		c.Fallback.SQLite.Path = "phi-audit-fallback.db"
	}
	if c.Fallback.Redis.KeyPrefix == "" {
		c.Fallback.Redis.KeyPrefix = "phi-audit:fallback"
	}

	if c.Crypto.KeySource == "" {
		c.Crypto.KeySource = "env"
	}
	if c.Crypto.KeyEnv == "" {
		c.Crypto.KeyEnv = "PHI_AUDIT_MASTER_KEY"
	}
	if c.Crypto.KeyringService == "" {
		c.Crypto.KeyringService = "phi-audit"
	}
	if c.Crypto.KeyringUser == "" {
		c.Crypto.KeyringUser = "master-key"
	}
	if c.Crypto.KeyID == "" {
		c.Crypto.KeyID = "k1"
	}
	if c.Crypto.Signer == "" {
		c.Crypto.Signer = "hmac-sha256"
	}

	if c.Enrichment.Timeout == "" {
		c.Enrichment.Timeout = "1500ms"
	}
	if c.Enrichment.RateLimit <= 0 {
		c.Enrichment.RateLimit = 20
	}
	if c.Enrichment.Burst <= 0 {
		c.Enrichment.Burst = 40
	}
	if c.Enrichment.CacheTTL == "" {
		c.Enrichment.CacheTTL = "10m"
	}

	if c.Compliance.Timeout == "" {
		c.Compliance.Timeout = "60s"
	}

	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = "otlp"
	}
	if c.Telemetry.SamplingRate <= 0 {
		c.Telemetry.SamplingRate = 1.0
	}
}

// ApplyEnv overrides endpoints and secrets from the environment so they can
// be injected without being written to the config file.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("PHI_AUDIT_SINK_URL"); v != "" {
		c.Sink.HTTP.URL = v
	}
	if v := os.Getenv("PHI_AUDIT_SINK_BATCH_URL"); v != "" {
		c.Sink.HTTP.BatchURL = v
	}
	if v := os.Getenv("PHI_AUDIT_REPORT_URL"); v != "" {
		c.Compliance.URL = v
	}
	if v := os.Getenv("PHI_AUDIT_OAUTH_CLIENT_SECRET"); v != "" {
		c.Sink.HTTP.OAuth2.ClientSecret = v
		c.Compliance.OAuth2.ClientSecret = v
	}
	if v := os.Getenv("PHI_AUDIT_REDIS_URL"); v != "" {
		c.Fallback.Redis.URL = v
	}
	if v := os.Getenv("PHI_AUDIT_KAFKA_BROKERS"); v != "" {
		c.Sink.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("PHI_AUDIT_KAFKA_PASSWORD"); v != "" {
		c.Sink.Kafka.SASLPassword = v
	}
}

// Validate checks the configuration for values the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error

	switch c.Sink.Type {
	case "http":
		if c.Sink.HTTP.URL == "" {
			errs = append(errs, errors.New("sink.http.url is required for http sink"))
		}
	case "kafka":
		if len(c.Sink.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("sink.kafka.brokers is required for kafka sink"))
		}
	case "log":
	default:
		errs = append(errs, fmt.Errorf("unknown sink.type %q: supported values are http, kafka, log", c.Sink.Type))
	}

	switch c.Fallback.Backend {
	case "memory", "sqlite":
	case "redis":
		if c.Fallback.Redis.URL == "" {
			errs = append(errs, errors.New("fallback.redis.url is required for redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown fallback.backend %q: supported values are memory, sqlite, redis", c.Fallback.Backend))
	}

	switch c.Crypto.KeySource {
	case "env", "keyring":
	case "file":
		if c.Crypto.KeyFile == "" {
			errs = append(errs, errors.New("crypto.keyFile is required for file key source"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown crypto.keySource %q: supported values are env, file, keyring", c.Crypto.KeySource))
	}

	switch c.Crypto.Signer {
	case "hmac-sha256", "ed25519":
	default:
		errs = append(errs, fmt.Errorf("unknown crypto.signer %q: supported values are hmac-sha256, ed25519", c.Crypto.Signer))
	}

	for name, value := range map[string]string{
		"pipeline.flushInterval":       c.Pipeline.FlushInterval,
		"pipeline.retryInitialBackoff": c.Pipeline.RetryInitialBackoff,
		"pipeline.retryMaxBackoff":     c.Pipeline.RetryMaxBackoff,
		"pipeline.submitTimeout":       c.Pipeline.SubmitTimeout,
		"enrichment.timeout":           c.Enrichment.Timeout,
		"compliance.timeout":           c.Compliance.Timeout,
	} {
		if value == "" {
			continue
		}
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	return errors.Join(errs...)
}

// Duration parses value as a time.Duration, returning def when value is empty
// or invalid.
func Duration(value string, def time.Duration) time.Duration {
	if value == "" {
		return def
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}
