package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/mattjoyce/relwiz/internal/adapter"
	"github.com/mattjoyce/relwiz/internal/api"
	"github.com/mattjoyce/relwiz/internal/archive"
	"github.com/mattjoyce/relwiz/internal/auth"
	"github.com/mattjoyce/relwiz/internal/config"
	"github.com/mattjoyce/relwiz/internal/engine"
	"github.com/mattjoyce/relwiz/internal/events"
	"github.com/mattjoyce/relwiz/internal/executor"
	"github.com/mattjoyce/relwiz/internal/lock"
	"github.com/mattjoyce/relwiz/internal/log"
	"github.com/mattjoyce/relwiz/internal/project"
	"github.com/mattjoyce/relwiz/internal/release"
	"github.com/mattjoyce/relwiz/internal/storage"
	"github.com/mattjoyce/relwiz/internal/tracing"
	"github.com/mattjoyce/relwiz/internal/webhook"
)

const archiveCleanupInterval = time.Hour

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, configDir, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel)
	logger := log.WithComponent("main")
	logger.Info("relwiz starting", "version", currentVersionInfo().Version, "config", configDir)

	pidLockPath := getPIDLockPath(cfg)
	pidLock, err := lock.AcquirePIDLock(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := tracing.Init(ctx, cfg.Tracing, currentVersionInfo().Version)
	if err != nil {
		logger.Error("failed to initialize tracing", "error", err)
		return 1
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := tracing.Shutdown(shutdownCtx, tp); err != nil {
			logger.Warn("tracing shutdown failed", "error", err)
		}
	}()

	db, err := storage.Open(ctx, storage.Config{
		Driver: cfg.State.Driver,
		Path:   cfg.State.Path,
		DSN:    cfg.State.DSN,
	})
	if err != nil {
		logger.Error("failed to open state store", "driver", cfg.State.Driver, "error", err)
		return 1
	}
	defer db.Close()
	logger.Info("state store opened", "driver", db.Dialect)

	catalog, err := project.LoadDir(configDir)
	if err != nil {
		logger.Error("failed to load projects", "config_dir", configDir, "error", err)
		return 1
	}
	for _, p := range catalog.List() {
		logger.Info("project registered", "id", p.ID, "version", p.Version, "fingerprint", p.Fingerprint)
	}

	bus, err := events.NewBus(ctx, events.NewLog(db), cfg.Events.RingSize)
	if err != nil {
		logger.Error("failed to start event bus", "error", err)
		return 1
	}
	if m := cfg.Events.MQTT; m != nil {
		mirror := events.NewMQTTMirror(events.MQTTConfig{
			BrokerURL:   m.Broker,
			ClientID:    m.ClientID,
			TopicPrefix: m.TopicPrefix,
			Username:    m.Username,
			Password:    m.Password,
		})
		if err := mirror.Connect(); err != nil {
			logger.Warn("mqtt mirror disabled", "broker", m.Broker, "error", err)
		} else {
			defer mirror.Disconnect()
			bus.AddMirror(mirror)
			logger.Info("mqtt mirror connected", "broker", m.Broker)
		}
	}

	archiver, err := buildArchiver(ctx, cfg.Archive)
	if err != nil {
		logger.Error("failed to configure archive", "backend", cfg.Archive.Backend, "error", err)
		return 1
	}
	if fsArchive, ok := archiver.(*archive.FS); ok && cfg.Archive.Retention > 0 {
		go runArchiveCleanup(ctx, fsArchive, cfg.Archive.Retention)
	}

	conns := buildConnections(cfg)
	registry := executor.NewRegistry(conns.clients(), executor.Options{
		PollInterval:   cfg.Engine.PollInterval,
		DefaultTimeout: cfg.Engine.BlockTimeout,
	})

	engineOpts := []engine.Option{
		engine.WithArchiver(archiver),
		engine.WithLogger(log.WithComponent("engine")),
	}
	if conns.slack != nil {
		engineOpts = append(engineOpts, engine.WithNotifier(conns.slack))
	}
	eng := engine.New(release.NewStore(db), bus, catalog, registry, engineConfig(cfg.Engine), engineOpts...)
	defer eng.Close()

	if err := eng.Recover(ctx); err != nil {
		logger.Error("failed to recover releases", "error", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	errCh := make(chan error, 2)

	if cfg.API.Enabled {
		tokens := make([]auth.TokenConfig, 0, len(cfg.Tokens))
		for _, t := range cfg.Tokens {
			tokens = append(tokens, auth.TokenConfig{
				Name:   t.Name,
				Token:  t.Token,
				Scopes: t.Scopes,
			})
		}
		apiServer := api.New(api.Config{
			Listen:      cfg.API.Listen,
			Tokens:      tokens,
			CORSOrigins: cfg.API.CORSOrigins,
		}, eng, bus, catalog, conns.testers(), log.Get())
		go func() {
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	if cfg.Webhooks.Enabled {
		webhookConfig, err := webhook.FromGlobalConfig(cfg.Webhooks)
		if err != nil {
			logger.Error("failed to configure webhooks", "error", err)
			return 1
		}
		var updater webhook.MessageUpdater
		if conns.slack != nil {
			updater = conns.slack
		}
		webhookServer := webhook.New(webhookConfig, eng, updater, log.Get())
		go func() {
			if err := webhookServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("webhook: %w", err)
			}
		}()
		logger.Info("webhook server enabled", "listen", webhookConfig.Listen, "path", webhookConfig.Slack.Path)
	}

	logger.Info("relwiz running (press Ctrl+C to stop)", "projects", len(catalog.List()))

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				reloadProjects(configDir, catalog)
				continue
			}
			logger.Info("received shutdown signal", "signal", sig)
			cancel()
			logger.Info("relwiz stopped")
			return 0
		case err := <-errCh:
			logger.Error("component failed", "error", err)
			cancel()
			return 1
		}
	}
}

// reloadProjects swaps in freshly loaded project definitions. Live releases
// keep the plan frozen at creation; only new releases see the change.
func reloadProjects(configDir string, catalog *project.Catalog) {
	logger := log.WithComponent("main")
	fresh, err := project.LoadDir(configDir)
	if err != nil {
		logger.Error("project reload failed; keeping previous definitions", "error", err)
		return
	}
	catalog.Replace(fresh)
	logger.Info("projects reloaded", "count", len(catalog.List()))
}

func engineConfig(c config.EngineConfig) engine.Config {
	retries := c.DefaultMaxRetries
	if retries == 0 {
		// Explicit zero in config means no retries; the engine reads zero as "default".
		retries = -1
	}
	return engine.Config{
		MaxConcurrentBlocks: c.MaxConcurrentBlocks,
		MaxInflightCalls:    c.MaxInflightCalls,
		DefaultMaxRetries:   retries,
		RetryBaseDelay:      c.RetryBaseDelay,
		RetryMaxDelay:       c.RetryMaxDelay,
		InputTimeout:        c.InputTimeout,
	}
}

func buildArchiver(ctx context.Context, c config.ArchiveConfig) (archive.Archiver, error) {
	switch c.Backend {
	case "", "none":
		return archive.Discard{}, nil
	case "fs":
		return archive.NewFS(c.Dir)
	case "minio":
		if c.MinIO == nil {
			return nil, fmt.Errorf("archive.minio is not configured")
		}
		m, err := archive.NewMinIO(minioConfig(c.MinIO))
		if err != nil {
			return nil, err
		}
		if err := m.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q", c.Backend)
	}
}

func minioConfig(m *config.MinIOConfig) archive.MinIOConfig {
	return archive.MinIOConfig{
		Endpoint:  m.Endpoint,
		AccessKey: m.AccessKey,
		SecretKey: m.SecretKey,
		Bucket:    m.Bucket,
		Region:    m.Region,
		UseSSL:    m.UseSSL,
		Prefix:    m.Prefix,
	}
}

func runArchiveCleanup(ctx context.Context, a *archive.FS, retention time.Duration) {
	logger := log.WithComponent("archive")
	ticker := time.NewTicker(archiveCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.Cleanup(ctx, retention)
			if err != nil {
				logger.Warn("archive cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				logger.Info("archive cleanup removed bundles", "count", n, "retention", retention)
			}
		}
	}
}

// connections holds one adapter per configured external system. Unconfigured
// systems stay nil.
type connections struct {
	slack    *adapter.Slack
	teamcity *adapter.TeamCity
	github   *adapter.GitHub
	maven    *adapter.Maven
}

func buildConnections(cfg *config.Config) connections {
	var out connections
	c := cfg.Connections
	timeout := cfg.Engine.HTTPTimeout
	if c.Slack != nil {
		out.slack = adapter.NewSlack(c.Slack.Token, adapter.Options{
			BaseURL:     c.Slack.BaseURL,
			Timeout:     timeout,
			MinInterval: c.Slack.MinInterval,
		})
	}
	if c.TeamCity != nil {
		out.teamcity = adapter.NewTeamCity(c.TeamCity.URL, c.TeamCity.Username, c.TeamCity.Password, adapter.Options{
			Timeout:     timeout,
			MinInterval: c.TeamCity.MinInterval,
		})
	}
	if c.GitHub != nil {
		out.github = adapter.NewGitHub(c.GitHub.Token, adapter.Options{
			BaseURL:     c.GitHub.BaseURL,
			Timeout:     timeout,
			MinInterval: c.GitHub.MinInterval,
		})
	}
	if c.Maven != nil {
		opts := adapter.Options{
			BaseURL:     c.Maven.BaseURL,
			Timeout:     timeout,
			MinInterval: c.Maven.MinInterval,
		}
		searchOpts := opts
		searchOpts.BaseURL = c.Maven.SearchURL
		out.maven = adapter.NewMaven(c.Maven.Username, c.Maven.Password, opts, searchOpts)
	}
	return out
}

// clients converts to executor clients without turning nil pointers into
// non-nil interfaces.
func (c connections) clients() executor.Clients {
	var out executor.Clients
	if c.slack != nil {
		out.Slack = c.slack
	}
	if c.teamcity != nil {
		out.TeamCity = c.teamcity
	}
	if c.github != nil {
		out.GitHub = c.github
	}
	if c.maven != nil {
		out.Maven = c.maven
	}
	return out
}

func (c connections) testers() map[project.ConnectionType]api.ConnectionTester {
	out := make(map[project.ConnectionType]api.ConnectionTester)
	if c.slack != nil {
		out[project.ConnSlack] = c.slack
	}
	if c.teamcity != nil {
		out[project.ConnTeamCity] = c.teamcity
	}
	if c.github != nil {
		out[project.ConnGitHub] = c.github
	}
	if c.maven != nil {
		out[project.ConnMavenCentral] = c.maven
	}
	return out
}

// getPIDLockPath prefers service.pid_file and otherwise sits beside the
// sqlite database, or in the config directory for postgres.
func getPIDLockPath(cfg *config.Config) string {
	if cfg.Service.PIDFile != "" {
		return cfg.Service.PIDFile
	}
	if cfg.State.Driver == "postgres" || cfg.State.Path == "" {
		return filepath.Join(cfg.Dir, "relwiz.pid")
	}
	dbDir := filepath.Dir(cfg.State.Path)
	dbBase := filepath.Base(cfg.State.Path)
	ext := filepath.Ext(dbBase)
	return filepath.Join(dbDir, dbBase[:len(dbBase)-len(ext)]+".pid")
}
