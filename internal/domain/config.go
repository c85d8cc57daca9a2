package domain

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete buildcheck configuration.
type Config struct {
	// Server settings
	Server ServerConfig `yaml:"server"`

	// Tier determines feature availability
	Tier Tier `yaml:"tier"`

	// Engine tunes the validation engine
	Engine EngineConfig `yaml:"engine"`

	// Component configurations
	Repository RepositoryConfig `yaml:"repository"`
	Cache      CacheConfig      `yaml:"cache"`
	EventBus   EventBusConfig   `yaml:"eventBus"`

	// Async validation and catalog sources
	Worker  WorkerConfig  `yaml:"worker"`
	Catalog CatalogConfig `yaml:"catalog"`

	// Observability
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

// EngineConfig holds validation engine policy.
type EngineConfig struct {
	// Debounce is the quiet period after the last selection change before
	// a validation run starts.
	Debounce time.Duration `yaml:"debounce"`

	// MaxWorkers bounds concurrent pair evaluations within one run.
	MaxWorkers int `yaml:"maxWorkers"`

	// CoreCategories are the parent slugs that make a build evaluable
	// (processor, motherboard).
	CoreCategories []string `yaml:"coreCategories"`

	// MultiSelectCategories are the parent slugs whose slots accept an
	// ordered list of parts.
	MultiSelectCategories []string `yaml:"multiSelectCategories"`

	// PowerAttributes are the attribute names read, in order, for a part's
	// declared power draw.
	PowerAttributes []string `yaml:"powerAttributes"`

	// PowerEstimates override the per-category fallback wattage table.
	PowerEstimates map[string]float64 `yaml:"powerEstimates"`

	// SnapshotTTL is how long a fetched catalog snapshot stays cached.
	SnapshotTTL time.Duration `yaml:"snapshotTtl"`
}

// WorkerConfig holds settings for the debounced selection worker.
type WorkerConfig struct {
	Enabled bool `yaml:"enabled"`

	// Tenants whose selection events the worker subscribes to.
	Tenants []string `yaml:"tenants"`

	// IdleTimeout releases a build's debouncer after this long without
	// selection changes.
	IdleTimeout time.Duration `yaml:"idleTimeout"`
}

// CatalogConfig points at a YAML catalog imported on startup.
type CatalogConfig struct {
	Path   string `yaml:"path"`
	Tenant string `yaml:"tenant"`
	Watch  bool   `yaml:"watch"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string `yaml:"host"`
	Port         int    `yaml:"port"`
	ReadTimeout  int    `yaml:"readTimeout"`  // seconds
	WriteTimeout int    `yaml:"writeTimeout"` // seconds

	// AllowedOrigins restricts CORS. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowedOrigins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled      bool   `yaml:"enabled"`
	ServiceName  string `yaml:"serviceName"`
	ExporterType string `yaml:"exporterType"` // stdout, otlp, jaeger
	Endpoint     string `yaml:"endpoint"`
}

// Tier represents the deployment tier.
type Tier string

const (
	// TierCommunity is the single-node tier with SQLite + channels
	TierCommunity Tier = "community"

	// TierPro is the tier with PostgreSQL + NATS + Redis
	TierPro Tier = "pro"
)

// DefaultEngineConfig returns the default engine policy.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Debounce:              300 * time.Millisecond,
		MaxWorkers:            8,
		CoreCategories:        []string{"processor", "motherboard"},
		MultiSelectCategories: []string{"memory", "storage"},
		PowerAttributes:       []string{"power_draw", "tdp", "power_consumption"},
		SnapshotTTL:           5 * time.Minute,
	}
}

// DefaultConfig returns a default configuration for Community tier.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30,
			WriteTimeout: 30,
		},
		Tier:   TierCommunity,
		Engine: DefaultEngineConfig(),
		Repository: RepositoryConfig{
			Driver:     "sqlite",
			SQLitePath: "./buildcheck.db",
		},
		Cache: CacheConfig{
			Type:         "memory",
			LocalMaxSize: 1000,
			LocalTTL:     5 * time.Minute,
		},
		EventBus: EventBusConfig{
			Type:              "channel",
			ChannelBufferSize: 1000,
		},
		Worker: WorkerConfig{
			Enabled:     true,
			Tenants:     []string{"default"},
			IdleTimeout: 10 * time.Minute,
		},
		Catalog: CatalogConfig{
			Tenant: "default",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "buildcheck",
		},
	}
}

// ProConfig returns a configuration for Pro tier.
func ProConfig() *Config {
	cfg := DefaultConfig()
	cfg.Tier = TierPro
	cfg.Repository = RepositoryConfig{
		Driver:       "postgres",
		PostgresHost: "localhost",
		PostgresPort: 5432,
		PostgresDB:   "buildcheck",
	}
	cfg.Cache = CacheConfig{
		Type:           "redis",
		RedisAddr:      "localhost:6379",
		EnableTwoPhase: true,
		LocalMaxSize:   1000,
	}
	cfg.EventBus = EventBusConfig{
		Type:              "nats",
		NATSUrl:           "nats://localhost:4222",
		NATSMaxReconnects: 10,
		NATSReconnectWait: 5,
		NATSQueueGroup:    "buildcheck-workers",
	}
	cfg.Tracing.Enabled = true
	return cfg
}

// LoadConfigFile reads a YAML file over the defaults of the given base
// configuration. Fields absent from the file keep their base values.
func LoadConfigFile(path string, base *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if base == nil {
		base = DefaultConfig()
	}
	if err := yaml.Unmarshal(data, base); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := base.Validate(); err != nil {
		return nil, err
	}
	return base, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Engine.Debounce < 0 {
		return fmt.Errorf("%w: engine.debounce must not be negative", ErrInvalidInput)
	}
	if c.Engine.MaxWorkers < 0 {
		return fmt.Errorf("%w: engine.maxWorkers must not be negative", ErrInvalidInput)
	}
	if c.Worker.Enabled && len(c.Worker.Tenants) == 0 {
		return fmt.Errorf("%w: worker.tenants must name at least one tenant", ErrInvalidInput)
	}
	for slug, watts := range c.Engine.PowerEstimates {
		if watts < 0 {
			return fmt.Errorf("%w: engine.powerEstimates[%s] must not be negative", ErrInvalidInput, slug)
		}
	}
	return nil
}
