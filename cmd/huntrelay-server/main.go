// Command huntrelay-server runs the HuntRelay daemon: it loads
// configuration, opens the Intelligence Store, wires every component
// (C1-C8), and serves the Gateway's REST/WebSocket surface until a
// shutdown signal arrives. Exit codes follow spec.md §6: 0 clean
// shutdown, 2 configuration error, 3 database unreachable, 4
// migration failure.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/huntrelay/huntrelay/internal/ai"
	"github.com/huntrelay/huntrelay/internal/asset"
	"github.com/huntrelay/huntrelay/internal/auth"
	"github.com/huntrelay/huntrelay/internal/clock"
	"github.com/huntrelay/huntrelay/internal/config"
	"github.com/huntrelay/huntrelay/internal/db"
	"github.com/huntrelay/huntrelay/internal/eventbus"
	"github.com/huntrelay/huntrelay/internal/gateway"
	"github.com/huntrelay/huntrelay/internal/hunt"
	"github.com/huntrelay/huntrelay/internal/huntmodule"
	"github.com/huntrelay/huntrelay/internal/intelligence"
	"github.com/huntrelay/huntrelay/internal/session"
	"github.com/huntrelay/huntrelay/internal/sshconn"
	"github.com/huntrelay/huntrelay/internal/vault"
)

const (
	exitOK             = 0
	exitConfigError    = 2
	exitDatabaseError  = 3
	exitMigrationError = 4
)

func main() {
	os.Exit(run())
}

func run() int {
	var configPath string
	var modulesDir string
	var generateSigningKey bool
	pflag.StringVar(&configPath, "config", "", "path to huntrelay.yaml (overrides HUNTRELAY_CONFIG)")
	pflag.StringVar(&modulesDir, "modules-dir", "", "directory of persisted hunt-module spec files")
	pflag.BoolVar(&generateSigningKey, "generate-signing-key", false, "print a new auth signing key and exit")
	pflag.Parse()

	if generateSigningKey {
		key, err := auth.GenerateSigningKey()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitConfigError
		}
		fmt.Println(base64.StdEncoding.EncodeToString(key))
		return exitOK
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	cfg, err := loadConfig(configPath)
	if err != nil {
		logger.Error("configuration error", "error", err)
		return exitConfigError
	}
	if err := cfg.Validate(); err != nil {
		logger.Error("configuration invalid", "error", err)
		return exitConfigError
	}

	pool, err := db.Open(db.Config{Path: cfg.Database.Path, PoolSize: cfg.Database.PoolSize, Logger: logger})
	if err != nil {
		logger.Error("database unreachable", "error", err)
		return exitDatabaseError
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	version, err := db.Migrate(ctx, pool)
	cancel()
	if err != nil {
		logger.Error("migration failed", "error", err)
		return exitMigrationError
	}
	logger.Info("database migrated", "schema_version", version)

	signingKey, err := loadSigningKey(cfg.Auth.SigningKeyEnvVar)
	if err != nil {
		logger.Error("configuration error", "error", err)
		return exitConfigError
	}
	issuer, err := auth.NewHMACIssuer(signingKey)
	if err != nil {
		logger.Error("configuration error", "error", err)
		return exitConfigError
	}

	accounts, err := auth.OpenAccountStore(cfg.Auth.AccountsPath)
	if err != nil {
		logger.Error("configuration error", "error", err)
		return exitConfigError
	}

	operatorKey := os.Getenv(cfg.Vault.OperatorKeyEnvVar)
	vaultStore, err := vault.Open(cfg.Vault.RecipientKeys, operatorKey)
	if err != nil {
		logger.Error("configuration error", "error", err)
		return exitConfigError
	}

	realClock := clock.Real()
	bus := eventbus.New(cfg.EventBus.DefaultBufferSize)

	sshOpts, err := buildSSHOptions(cfg, realClock)
	if err != nil {
		logger.Error("configuration error", "error", err)
		return exitConfigError
	}

	if modulesDir == "" {
		modulesDir = "./hunt-modules"
	}
	backend, err := huntmodule.NewFileBackend(modulesDir)
	if err != nil {
		logger.Error("configuration error", "error", err)
		return exitConfigError
	}
	modules := huntmodule.NewStore(backend)
	if err := huntmodule.LoadAll(modules, modulesDir); err != nil {
		logger.Warn("some hunt modules failed to load", "error", err)
	}

	assetStore := asset.NewStore(pool)
	intel := intelligence.NewStore(pool)
	sessions := session.NewManager(bus, realClock, vaultStore, sshOpts)

	driver, err := ai.NewDriver(cfg.AI.Driver, cfg.AI.Endpoint, cfg.AI.Model, os.Getenv(cfg.AI.APIKeyEnvVar))
	if err != nil {
		logger.Error("configuration error", "error", err)
		return exitConfigError
	}
	budget := ai.ContextBudget{PerStepBytes: cfg.AI.PerStepBudget, GlobalBytes: cfg.AI.GlobalBudget}
	scheduler := hunt.NewScheduler(bus, realClock, intel, driver, budget)

	heartbeat, err := time.ParseDuration(cfg.Gateway.HeartbeatInterval)
	if err != nil {
		heartbeat = 30 * time.Second
	}

	srv := gateway.New(gateway.Config{
		ListenAddress:              cfg.Gateway.ListenAddress,
		TerminalInputRateSustained: cfg.Gateway.TerminalInputRateSustained,
		TerminalInputRateBurst:     cfg.Gateway.TerminalInputRateBurst,
		HeartbeatInterval:          heartbeat,
	}, gateway.Dependencies{
		Bus:        bus,
		Clock:      realClock,
		Sessions:   sessions,
		Scheduler:  scheduler,
		Modules:    modules,
		Assets:     assetStore,
		Intel:      intel,
		VaultStore: vaultStore,
		Issuer:     issuer,
		Accounts:   accounts,
		SSHOptions: sshOpts,
		Logger:     logger,
	})

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	sigCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reaperDone := make(chan struct{})
	go runStaleReaper(sigCtx, sessions, reaperDone)

	select {
	case <-sigCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error("gateway stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	sessions.Shutdown()
	<-reaperDone

	logger.Info("shutdown complete")
	return exitOK
}

func loadConfig(explicitPath string) (*config.Config, error) {
	if explicitPath != "" {
		return config.LoadFile(explicitPath)
	}
	return config.Load()
}

func loadSigningKey(envVar string) ([]byte, error) {
	raw := os.Getenv(envVar)
	if raw == "" {
		return nil, fmt.Errorf("%s is not set; generate one with huntrelay-server --generate-signing-key", envVar)
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid base64: %w", envVar, err)
	}
	return key, nil
}

func buildSSHOptions(cfg *config.Config, c clock.Clock) (sshconn.Options, error) {
	dialTimeout, err := time.ParseDuration(cfg.SSH.DialTimeout)
	if err != nil {
		return sshconn.Options{}, fmt.Errorf("ssh.dial_timeout: %w", err)
	}
	keepalive, err := time.ParseDuration(cfg.SSH.KeepaliveInterval)
	if err != nil {
		return sshconn.Options{}, fmt.Errorf("ssh.keepalive_interval: %w", err)
	}

	policy := sshconn.PolicyTOFU
	if cfg.SSH.HostKeyPolicy == "strict" {
		policy = sshconn.PolicyStrict
	}

	return sshconn.Options{
		DialTimeout:       dialTimeout,
		KeepaliveInterval: keepalive,
		MaxOutputBuffer:   cfg.SSH.MaxOutputBuffer,
		ReconnectAttempts: cfg.SSH.ReconnectAttempts,
		HostKeys:          sshconn.NewKnownHosts(policy),
		Clock:             c,
	}, nil
}

// runStaleReaper periodically sweeps sessions idle past the DISCONNECTED
// retry ladder's window (SPEC_FULL.md §3's supplemented stale-session
// reaper), stopping when ctx is cancelled.
func runStaleReaper(ctx context.Context, sessions *session.Manager, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sessions.ReapStale(30 * time.Minute)
		}
	}
}
