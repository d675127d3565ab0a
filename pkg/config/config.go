// Package config loads the YAML configuration shared by the gateway and the
// API, with environment overrides for the deployment-specific addresses.
//
// Load order: defaults, then the YAML file, then environment variables
// (KAFKA_BROKERS, REDIS_ADDR, SCYLLA_HOSTS, DATABASE_URL, GATEWAY_ADDR,
// API_ADDR), then validation. Secrets never live in the file: fields ending
// in _env name the variable that holds them.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DefaultGatewayAddr = ":8080"
	DefaultAPIAddr     = ":8081"
	DefaultHubCapacity = 1024
	DefaultReadLimit   = 4096
	DefaultKafkaTopic  = "chat-envelopes"
	DefaultKeyspace    = "chat"
	DefaultSecretEnv   = "JWT_SECRET"
	DefaultDSNEnv      = "DATABASE_URL"
	DefaultTokenTTL    = 24 * time.Hour
)

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverScylla   = "scylla"
)

type Config struct {
	Gateway GatewayConfig `yaml:"gateway"`
	API     APIConfig     `yaml:"api"`
	Store   StoreConfig   `yaml:"store"`
	Redis   RedisConfig   `yaml:"redis"`
	Relay   RelayConfig   `yaml:"relay"`
	Auth    AuthConfig    `yaml:"auth"`
	Log     LogConfig     `yaml:"log"`
	CORS    CORSConfig    `yaml:"cors"`
}

type GatewayConfig struct {
	Addr string `yaml:"addr"`

	// HubCapacity is the queue depth of every session's hub listener.
	HubCapacity int `yaml:"hub_capacity"`

	// NodeID identifies this gateway in envelope IDs. Gateways sharing a
	// relay topic must use distinct values in [1, 1023].
	NodeID int64 `yaml:"node_id"`

	// ReadLimit caps the size in bytes of one inbound WebSocket frame.
	ReadLimit int64 `yaml:"read_limit"`
}

type APIConfig struct {
	Addr string `yaml:"addr"`
}

type StoreConfig struct {
	// Driver is one of: memory | postgres | scylla.
	Driver   string         `yaml:"driver"`
	Postgres PostgresConfig `yaml:"postgres"`
	Scylla   ScyllaConfig   `yaml:"scylla"`
}

type PostgresConfig struct {
	DSN    string `yaml:"dsn"`
	DSNEnv string `yaml:"dsn_env"`
}

// ResolveDSN prefers the environment variable named by DSNEnv.
func (p PostgresConfig) ResolveDSN() string {
	if p.DSNEnv != "" {
		if v := os.Getenv(p.DSNEnv); v != "" {
			return v
		}
	}
	return p.DSN
}

type ScyllaConfig struct {
	Hosts       []string      `yaml:"hosts"`
	Keyspace    string        `yaml:"keyspace"`
	Consistency string        `yaml:"consistency"` // empty means quorum
	Timeout     time.Duration `yaml:"timeout"`
}

// RedisConfig configures presence tracking. An empty Addr disables it.
type RedisConfig struct {
	Addr string `yaml:"addr"`
}

type RelayConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
}

// KafkaConfig configures the cross-gateway relay. No brokers means the
// gateway runs standalone.
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

func (k KafkaConfig) Enabled() bool { return len(k.Brokers) > 0 }

type AuthConfig struct {
	// SecretEnv names the variable holding the HMAC signing secret.
	SecretEnv string        `yaml:"secret_env"`
	TokenTTL  time.Duration `yaml:"token_ttl"`

	// DevLogin enables POST /account/login, which issues a token for any
	// user id. Never enable it in production.
	DevLogin bool `yaml:"dev_login"`
}

// Secret returns the signing secret resolved from the environment.
func (a AuthConfig) Secret() string {
	if a.SecretEnv == "" {
		return ""
	}
	return os.Getenv(a.SecretEnv)
}

type LogConfig struct {
	// Level is one of: debug | info | warn | error.
	Level string `yaml:"level"`
	// Format is json or text.
	Format string `yaml:"format"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// Load reads the config file at path. An empty path skips the file and
// uses defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %q: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		Gateway: GatewayConfig{
			Addr:        DefaultGatewayAddr,
			HubCapacity: DefaultHubCapacity,
			ReadLimit:   DefaultReadLimit,
		},
		API: APIConfig{Addr: DefaultAPIAddr},
		Store: StoreConfig{
			Driver:   DriverMemory,
			Postgres: PostgresConfig{DSNEnv: DefaultDSNEnv},
			Scylla: ScyllaConfig{
				Hosts:    []string{"localhost:9042"},
				Keyspace: DefaultKeyspace,
			},
		},
		Relay: RelayConfig{Kafka: KafkaConfig{Topic: DefaultKafkaTopic}},
		Auth: AuthConfig{
			SecretEnv: DefaultSecretEnv,
			TokenTTL:  DefaultTokenTTL,
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("GATEWAY_NODE_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("GATEWAY_NODE_ID: %w", err)
		}
		cfg.Gateway.NodeID = id
	}
	if v := os.Getenv("API_ADDR"); v != "" {
		cfg.API.Addr = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Relay.Kafka.Brokers = splitList(v)
	}
	if v := os.Getenv("SCYLLA_HOSTS"); v != "" {
		cfg.Store.Scylla.Hosts = splitList(v)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.Gateway.HubCapacity <= 0 {
		errs = append(errs, fmt.Errorf("gateway.hub_capacity must be positive, got %d", cfg.Gateway.HubCapacity))
	}
	if cfg.Gateway.NodeID < 0 || cfg.Gateway.NodeID > 1023 {
		errs = append(errs, fmt.Errorf("gateway.node_id %d is out of range [0, 1023]", cfg.Gateway.NodeID))
	}
	if cfg.Gateway.ReadLimit <= 0 {
		errs = append(errs, fmt.Errorf("gateway.read_limit must be positive, got %d", cfg.Gateway.ReadLimit))
	}

	switch cfg.Store.Driver {
	case DriverMemory:
	case DriverPostgres:
		if cfg.Store.Postgres.ResolveDSN() == "" {
			errs = append(errs, errors.New("store.postgres: no dsn and $"+cfg.Store.Postgres.DSNEnv+" is empty"))
		}
	case DriverScylla:
		if len(cfg.Store.Scylla.Hosts) == 0 || cfg.Store.Scylla.Keyspace == "" {
			errs = append(errs, errors.New("store.scylla: hosts and keyspace are required"))
		}
	default:
		errs = append(errs, fmt.Errorf("store.driver %q unknown: want memory|postgres|scylla", cfg.Store.Driver))
	}

	if cfg.Relay.Kafka.Enabled() {
		if cfg.Relay.Kafka.Topic == "" {
			errs = append(errs, errors.New("relay.kafka.topic is required when brokers are set"))
		}
		// Node 0 is what every gateway gets when node_id is left out, and
		// relays sharing a node drop each other's envelopes as echoes.
		if cfg.Gateway.NodeID == 0 {
			errs = append(errs, errors.New("gateway.node_id must be set to a distinct non-zero value when relay.kafka is enabled"))
		}
	}
	if cfg.Auth.TokenTTL <= 0 {
		errs = append(errs, errors.New("auth.token_ttl must be positive"))
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error", "":
	default:
		errs = append(errs, fmt.Errorf("log.level %q unknown: want debug|info|warn|error", cfg.Log.Level))
	}
	switch cfg.Log.Format {
	case "json", "text", "":
	default:
		errs = append(errs, fmt.Errorf("log.format %q unknown: want json|text", cfg.Log.Format))
	}

	return errors.Join(errs...)
}
