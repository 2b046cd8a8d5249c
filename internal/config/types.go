package config

import "time"

// Config represents the complete relwiz configuration.
type Config struct {
	Include  []string       `yaml:"include,omitempty"`
	Service  ServiceConfig  `yaml:"service"`
	State    StateConfig    `yaml:"state"`
	API      APIConfig      `yaml:"api"`
	Engine   EngineConfig   `yaml:"engine"`
	Events   EventsConfig   `yaml:"events"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Webhooks WebhooksConfig `yaml:"webhooks"`
	Tracing  TracingConfig  `yaml:"tracing,omitempty"`

	// Loaded from connections.yaml and tokens.yaml.
	Connections ConnectionsConfig `yaml:"connections,omitempty"`
	Tokens      []APIToken        `yaml:"tokens,omitempty"`

	// Dir is the directory config.yaml was loaded from.
	Dir string `yaml:"-"`
	// Files lists every file that contributed to this config.
	Files []string `yaml:"-"`
}

// ServiceConfig defines core service settings.
type ServiceConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
	PIDFile  string `yaml:"pid_file,omitempty"`
}

// StateConfig selects the release store backend.
type StateConfig struct {
	Driver string `yaml:"driver"` // sqlite | postgres
	Path   string `yaml:"path,omitempty"`
	DSN    string `yaml:"dsn,omitempty"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	// CORSOrigins allows browser clients from these origins on the stream endpoints.
	CORSOrigins []string `yaml:"cors_origins,omitempty"`
}

// APIToken is a bearer token and its scopes (releases:ro, releases:rw, *).
type APIToken struct {
	Name   string   `yaml:"name,omitempty"`
	Token  string   `yaml:"token"`
	Scopes []string `yaml:"scopes"`
}

// EngineConfig tunes scheduling and adapter timing.
type EngineConfig struct {
	MaxConcurrentBlocks int           `yaml:"max_concurrent_blocks"`
	MaxInflightCalls    int           `yaml:"max_inflight_calls"`
	DefaultMaxRetries   int           `yaml:"default_max_retries"`
	RetryBaseDelay      time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay       time.Duration `yaml:"retry_max_delay"`
	InputTimeout        time.Duration `yaml:"input_timeout,omitempty"`
	PollInterval        time.Duration `yaml:"poll_interval"`
	BlockTimeout        time.Duration `yaml:"block_timeout"`
	HTTPTimeout         time.Duration `yaml:"http_timeout"`
}

type EventsConfig struct {
	RingSize int         `yaml:"ring_size"`
	MQTT     *MQTTConfig `yaml:"mqtt,omitempty"`
}

// MQTTConfig enables the event mirror.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"`
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
}

// ArchiveConfig selects where deleted releases are written.
type ArchiveConfig struct {
	Backend   string        `yaml:"backend"` // none | fs | minio
	Dir       string        `yaml:"dir,omitempty"`
	Retention time.Duration `yaml:"retention,omitempty"`
	MinIO     *MinIOConfig  `yaml:"minio,omitempty"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region,omitempty"`
	UseSSL    bool   `yaml:"use_ssl,omitempty"`
	Prefix    string `yaml:"prefix,omitempty"`
}

// WebhooksConfig defines the inbound webhook listener.
type WebhooksConfig struct {
	Enabled bool                `yaml:"enabled"`
	Listen  string              `yaml:"listen"`
	Slack   *SlackWebhookConfig `yaml:"slack,omitempty"`
}

type SlackWebhookConfig struct {
	Path          string        `yaml:"path"`
	SigningSecret string        `yaml:"signing_secret"`
	MaxBodySize   string        `yaml:"max_body_size,omitempty"`
	MaxSkew       time.Duration `yaml:"max_skew,omitempty"`
}

// TracingConfig exports executor spans over OTLP/gRPC.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	ServiceName string  `yaml:"service_name,omitempty"`
	Endpoint    string  `yaml:"endpoint,omitempty"` // host:port of an OTLP collector
	Insecure    bool    `yaml:"insecure,omitempty"`
	SampleRate  float64 `yaml:"sample_rate,omitempty"` // 0 means 1.0
}

// ConnectionsConfig holds adapter credentials. It lives in connections.yaml.
type ConnectionsConfig struct {
	Slack    *SlackConnection    `yaml:"slack,omitempty"`
	TeamCity *TeamCityConnection `yaml:"teamcity,omitempty"`
	GitHub   *GitHubConnection   `yaml:"github,omitempty"`
	Maven    *MavenConnection    `yaml:"maven_central,omitempty"`
}

type SlackConnection struct {
	Token       string        `yaml:"token"`
	BaseURL     string        `yaml:"base_url,omitempty"`
	MinInterval time.Duration `yaml:"min_interval,omitempty"`
}

type TeamCityConnection struct {
	URL         string        `yaml:"url"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	MinInterval time.Duration `yaml:"min_interval,omitempty"`
}

type GitHubConnection struct {
	Token       string        `yaml:"token"`
	BaseURL     string        `yaml:"base_url,omitempty"`
	MinInterval time.Duration `yaml:"min_interval,omitempty"`
}

type MavenConnection struct {
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	BaseURL     string        `yaml:"base_url,omitempty"`
	SearchURL   string        `yaml:"search_url,omitempty"`
	MinInterval time.Duration `yaml:"min_interval,omitempty"`
}

// Defaults returns a Config with every section filled.
func Defaults() *Config {
	return &Config{
		Service: ServiceConfig{
			Name:     "relwiz",
			LogLevel: "info",
		},
		State: StateConfig{
			Driver: "sqlite",
			Path:   "./data/relwiz.db",
		},
		API: APIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:8080",
		},
		Engine: EngineConfig{
			MaxConcurrentBlocks: 4,
			MaxInflightCalls:    16,
			DefaultMaxRetries:   3,
			RetryBaseDelay:      2 * time.Second,
			RetryMaxDelay:       5 * time.Minute,
			PollInterval:        10 * time.Second,
			BlockTimeout:        time.Hour,
			HTTPTimeout:         30 * time.Second,
		},
		Events: EventsConfig{
			RingSize: 1024,
		},
		Archive: ArchiveConfig{
			Backend: "fs",
			Dir:     "./data/archive",
		},
		Webhooks: WebhooksConfig{
			Listen: "127.0.0.1:8091",
		},
	}
}
