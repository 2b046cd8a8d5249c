package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
)

var validScopes = map[string]bool{"releases:ro": true, "releases:rw": true, "*": true}

// Validate checks a loaded configuration and reports every problem found.
func Validate(cfg *Config) error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch strings.ToLower(cfg.Service.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		add("service.log_level must be one of: debug, info, warn, error (got %q)", cfg.Service.LogLevel)
	}

	switch strings.ToLower(cfg.State.Driver) {
	case "", "sqlite":
		if cfg.State.Path == "" {
			add("state.path is required for the sqlite driver")
		}
	case "postgres", "postgresql", "pgx":
		if cfg.State.DSN == "" {
			add("state.dsn is required for the postgres driver")
		}
		errs = append(errs, unresolved("state.dsn", cfg.State.DSN)...)
	default:
		add("state.driver must be sqlite or postgres (got %q)", cfg.State.Driver)
	}

	if cfg.API.Enabled {
		if err := checkListen("api.listen", cfg.API.Listen); err != nil {
			errs = append(errs, err)
		}
		if len(cfg.Tokens) == 0 {
			add("api is enabled but no tokens are configured (tokens.yaml)")
		}
	}
	for i, tok := range cfg.Tokens {
		field := fmt.Sprintf("tokens[%d]", i)
		if tok.Token == "" {
			add("%s.token is required", field)
		}
		errs = append(errs, unresolved(field+".token", tok.Token)...)
		if len(tok.Scopes) == 0 {
			add("%s.scopes must be non-empty", field)
		}
		for _, s := range tok.Scopes {
			if !validScopes[s] {
				add("%s.scopes: unknown scope %q", field, s)
			}
		}
	}

	e := cfg.Engine
	if e.MaxConcurrentBlocks < 1 {
		add("engine.max_concurrent_blocks must be at least 1")
	}
	if e.MaxInflightCalls < 1 {
		add("engine.max_inflight_calls must be at least 1")
	}
	if e.DefaultMaxRetries < 0 {
		add("engine.default_max_retries must not be negative")
	}
	if e.RetryBaseDelay <= 0 || e.RetryMaxDelay < e.RetryBaseDelay {
		add("engine.retry_base_delay must be positive and not above engine.retry_max_delay")
	}
	if e.InputTimeout < 0 {
		add("engine.input_timeout must not be negative")
	}
	if e.PollInterval <= 0 || e.BlockTimeout <= 0 || e.HTTPTimeout <= 0 {
		add("engine.poll_interval, engine.block_timeout and engine.http_timeout must be positive")
	}

	if cfg.Events.RingSize < 0 {
		add("events.ring_size must not be negative")
	}
	if m := cfg.Events.MQTT; m != nil {
		if m.Broker == "" {
			add("events.mqtt.broker is required")
		}
		errs = append(errs, unresolved("events.mqtt.password", m.Password)...)
	}

	switch cfg.Archive.Backend {
	case "", "none":
	case "fs":
		if cfg.Archive.Dir == "" {
			add("archive.dir is required for the fs backend")
		}
	case "minio":
		m := cfg.Archive.MinIO
		if m == nil {
			add("archive.minio is required for the minio backend")
			break
		}
		if m.Endpoint == "" || m.Bucket == "" {
			add("archive.minio.endpoint and archive.minio.bucket are required")
		}
		errs = append(errs, unresolved("archive.minio.access_key", m.AccessKey)...)
		errs = append(errs, unresolved("archive.minio.secret_key", m.SecretKey)...)
	default:
		add("archive.backend must be none, fs or minio (got %q)", cfg.Archive.Backend)
	}
	if cfg.Archive.Retention < 0 {
		add("archive.retention must not be negative")
	}

	if t := cfg.Tracing; t.Enabled {
		if t.Endpoint == "" {
			add("tracing.endpoint is required when tracing is enabled")
		}
		if t.SampleRate < 0 || t.SampleRate > 1 {
			add("tracing.sample_rate must be between 0 and 1")
		}
	}

	if cfg.Webhooks.Enabled {
		if err := checkListen("webhooks.listen", cfg.Webhooks.Listen); err != nil {
			errs = append(errs, err)
		}
		s := cfg.Webhooks.Slack
		switch {
		case s == nil:
			add("webhooks.slack is required when webhooks are enabled")
		case s.SigningSecret == "":
			add("webhooks.slack.signing_secret is required")
		case !strings.HasPrefix(s.Path, "/"):
			add("webhooks.slack.path must start with /")
		default:
			errs = append(errs, unresolved("webhooks.slack.signing_secret", s.SigningSecret)...)
		}
	}

	c := cfg.Connections
	if c.Slack != nil {
		errs = append(errs, unresolved("connections.slack.token", c.Slack.Token)...)
	}
	if c.TeamCity != nil {
		if c.TeamCity.URL == "" {
			add("connections.teamcity.url is required")
		}
		errs = append(errs, unresolved("connections.teamcity.password", c.TeamCity.Password)...)
	}
	if c.GitHub != nil {
		errs = append(errs, unresolved("connections.github.token", c.GitHub.Token)...)
	}
	if c.Maven != nil {
		errs = append(errs, unresolved("connections.maven_central.password", c.Maven.Password)...)
	}

	return errors.Join(errs...)
}

func checkListen(field, addr string) error {
	if _, _, err := net.SplitHostPort(addr); err != nil {
		return fmt.Errorf("%s must be host:port (got %q)", field, addr)
	}
	return nil
}

// unresolved reports ${VAR} placeholders left after interpolation.
func unresolved(field, value string) []error {
	var errs []error
	for _, m := range envVarPattern.FindAllStringSubmatch(value, -1) {
		errs = append(errs, fmt.Errorf("%s: environment variable ${%s} is not set", field, m[1]))
	}
	return errs
}
