// Package config centralises runtime configuration helpers for oddstream services.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Environment identifies the runtime environment where oddstream operates.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// Credentials captures the application credentials used to open venue sessions.
type Credentials struct {
	AppID  string `yaml:"appId"`
	APIKey string `yaml:"apiKey"`
}

// VenueSettings aggregates transport and credential configuration for the odds venue.
type VenueSettings struct {
	RESTBaseURL      string        `yaml:"restBaseUrl"`
	StreamURL        string        `yaml:"streamUrl"`
	Credentials      Credentials   `yaml:"credentials"`
	HTTPTimeout      time.Duration `yaml:"httpTimeout"`
	HandshakeTimeout time.Duration `yaml:"handshakeTimeout"`
	PingInterval     time.Duration `yaml:"pingInterval"`
	MarketPageSize   int           `yaml:"marketPageSize"`
	// RESTInterval spaces consecutive REST calls; RESTBurst calls are
	// admitted per interval window.
	RESTInterval time.Duration `yaml:"restInterval"`
	RESTBurst    int           `yaml:"restBurst"`
	// SubscribeInterval and SubscribeBurst bound stream subscription frames
	// over a rolling window.
	SubscribeInterval time.Duration `yaml:"subscribeInterval"`
	SubscribeBurst    int           `yaml:"subscribeBurst"`
}

// BookmakerSettings identifies the bookmaker rows written to storage.
type BookmakerSettings struct {
	ID       int    `yaml:"id"`
	Name     string `yaml:"name"`
	Decimals int32  `yaml:"decimals"`
}

// DatabaseSettings configures the postgres connection.
type DatabaseSettings struct {
	DSN string `yaml:"dsn"`
}

// CatalogSettings governs market discovery cadence.
type CatalogSettings struct {
	RefreshInterval time.Duration `yaml:"refreshInterval"`
	InitialRetries  int           `yaml:"initialRetries"`
	KickoffWindow   time.Duration `yaml:"kickoffWindow"`
}

// SessionSettings governs token lifecycle behaviour.
type SessionSettings struct {
	RefreshMargin time.Duration `yaml:"refreshMargin"`
}

// BatchSettings tunes the update debounce queue.
type BatchSettings struct {
	Debounce time.Duration `yaml:"debounce"`
	MaxSize  int           `yaml:"maxSize"`
}

// SequencerSettings tunes per-fixture ordered execution.
type SequencerSettings struct {
	IdleTimeout time.Duration `yaml:"idleTimeout"`
	QueueDepth  int           `yaml:"queueDepth"`
}

// TelemetrySettings configures OTLP metric export.
type TelemetrySettings struct {
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	ServiceName  string `yaml:"serviceName"`
}

// Settings contains the oddstream configuration tree loaded from defaults and overrides.
type Settings struct {
	Environment Environment       `yaml:"environment"`
	Venue       VenueSettings     `yaml:"venue"`
	Bookmaker   BookmakerSettings `yaml:"bookmaker"`
	Database    DatabaseSettings  `yaml:"database"`
	Catalog     CatalogSettings   `yaml:"catalog"`
	Session     SessionSettings   `yaml:"session"`
	Batch       BatchSettings     `yaml:"batch"`
	Sequencer   SequencerSettings `yaml:"sequencer"`
	Telemetry   TelemetrySettings `yaml:"telemetry"`
}

// Default returns the default oddstream configuration.
func Default() Settings {
	return Settings{
		Environment: EnvProd,
		Venue: VenueSettings{
			RESTBaseURL:       "https://api.monacobet.example",
			StreamURL:         "wss://stream.monacobet.example/v1",
			Credentials:       Credentials{AppID: "", APIKey: ""},
			HTTPTimeout:       10 * time.Second,
			HandshakeTimeout:  10 * time.Second,
			PingInterval:      60 * time.Second,
			MarketPageSize:    2000,
			RESTInterval:      time.Second,
			RESTBurst:         1,
			SubscribeInterval: time.Minute,
			SubscribeBurst:    2,
		},
		Bookmaker: BookmakerSettings{
			ID:       1,
			Name:     "Monaco",
			Decimals: 3,
		},
		Database: DatabaseSettings{
			DSN: "postgres://localhost:5432/oddstream?sslmode=disable",
		},
		Catalog: CatalogSettings{
			RefreshInterval: time.Hour,
			InitialRetries:  3,
			KickoffWindow:   24 * time.Hour,
		},
		Session: SessionSettings{
			RefreshMargin: 2 * time.Minute,
		},
		Batch: BatchSettings{
			Debounce: 10 * time.Millisecond,
			MaxSize:  200,
		},
		Sequencer: SequencerSettings{
			IdleTimeout: 2 * time.Minute,
			QueueDepth:  256,
		},
		Telemetry: TelemetrySettings{
			OTLPEndpoint: "",
			ServiceName:  "oddstream-engine",
		},
	}
}

// FromEnv loads configuration values from environment variables, overriding defaults.
func FromEnv() Settings {
	cfg := Default()
	if env := strings.TrimSpace(os.Getenv("ODDSTREAM_ENV")); env != "" {
		cfg.Environment = Environment(strings.ToLower(env))
	}
	if v := strings.TrimSpace(os.Getenv("MONACO_REST_BASE_URL")); v != "" {
		cfg.Venue.RESTBaseURL = v
	}
	if v := strings.TrimSpace(os.Getenv("MONACO_STREAM_URL")); v != "" {
		cfg.Venue.StreamURL = v
	}
	if v := strings.TrimSpace(os.Getenv("MONACO_APP_ID")); v != "" {
		cfg.Venue.Credentials.AppID = v
	}
	if v := strings.TrimSpace(os.Getenv("MONACO_API_KEY")); v != "" {
		cfg.Venue.Credentials.APIKey = v
	}
	if v := strings.TrimSpace(os.Getenv("MONACO_HTTP_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Venue.HTTPTimeout = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("MONACO_WS_HANDSHAKE_TIMEOUT")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil {
			cfg.Venue.HandshakeTimeout = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("MONACO_MARKET_PAGE_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Venue.MarketPageSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ODDSTREAM_DATABASE_DSN")); v != "" {
		cfg.Database.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("ODDSTREAM_CATALOG_REFRESH")); v != "" {
		if dur, err := time.ParseDuration(v); err == nil && dur > 0 {
			cfg.Catalog.RefreshInterval = dur
		}
	}
	if v := strings.TrimSpace(os.Getenv("ODDSTREAM_OTLP_ENDPOINT")); v != "" {
		cfg.Telemetry.OTLPEndpoint = v
	}
	return cfg
}

// Option mutates Settings when applied via Apply.
type Option func(*Settings)

// Apply applies the provided Option set to a copy of the base Settings.
func Apply(base Settings, opts ...Option) Settings {
	cfg := base
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

// WithEnvironment configures the top-level environment.
func WithEnvironment(env Environment) Option {
	return func(s *Settings) {
		if env != "" {
			s.Environment = env
		}
	}
}

// WithVenueEndpoints overrides the venue REST and stream endpoints.
func WithVenueEndpoints(restBase, stream string) Option {
	restBase = strings.TrimSpace(restBase)
	stream = strings.TrimSpace(stream)
	return func(s *Settings) {
		if restBase != "" {
			s.Venue.RESTBaseURL = restBase
		}
		if stream != "" {
			s.Venue.StreamURL = stream
		}
	}
}

// WithVenueCredentials overrides the venue application credentials.
func WithVenueCredentials(appID, apiKey string) Option {
	appID = strings.TrimSpace(appID)
	apiKey = strings.TrimSpace(apiKey)
	return func(s *Settings) {
		if appID != "" {
			s.Venue.Credentials.AppID = appID
		}
		if apiKey != "" {
			s.Venue.Credentials.APIKey = apiKey
		}
	}
}

// WithDatabaseDSN overrides the postgres connection string.
func WithDatabaseDSN(dsn string) Option {
	dsn = strings.TrimSpace(dsn)
	return func(s *Settings) {
		if dsn != "" {
			s.Database.DSN = dsn
		}
	}
}

// WithCatalogRefreshInterval sets how frequently the market catalog is rebuilt.
func WithCatalogRefreshInterval(interval time.Duration) Option {
	return func(s *Settings) {
		if interval > 0 {
			s.Catalog.RefreshInterval = interval
		}
	}
}

// WithBatchTuning overrides the debounce window and batch size cap.
func WithBatchTuning(debounce time.Duration, maxSize int) Option {
	return func(s *Settings) {
		if debounce > 0 {
			s.Batch.Debounce = debounce
		}
		if maxSize > 0 {
			s.Batch.MaxSize = maxSize
		}
	}
}
