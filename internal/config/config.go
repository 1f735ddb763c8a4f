// Package config loads HuntRelay server configuration. Grounded on the
// teacher's lib/config: a single YAML file is the source of truth,
// located via the HUNTRELAY_CONFIG environment variable with no
// fallback discovery, environment-specific override sections, and
// ${VAR}/${VAR:-default} expansion — deterministic, auditable
// configuration with no hidden defaults baked into deploy scripts.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// Environment identifies the deployment tier.
type Environment string

const (
	Development Environment = "development"
	Staging     Environment = "staging"
	Production  Environment = "production"
)

// Config is the full HuntRelay server configuration.
type Config struct {
	Environment Environment `yaml:"environment"`

	Gateway      GatewayConfig      `yaml:"gateway"`
	Database     DatabaseConfig     `yaml:"database"`
	SSH          SSHConfig          `yaml:"ssh"`
	EventBus     EventBusConfig     `yaml:"event_bus"`
	AI           AIConfig           `yaml:"ai"`
	Vault        VaultConfig        `yaml:"vault"`
	Auth         AuthConfig         `yaml:"auth"`

	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides holds per-environment overrides. applyEnvironmentOverrides
// applies only gateway.listen_address, gateway.terminal_input_rate_sustained,
// ssh.host_key_policy and ssh.dial_timeout from it; other fields are ignored.
type ConfigOverrides struct {
	Gateway *GatewayConfig `yaml:"gateway,omitempty"`
	SSH     *SSHConfig     `yaml:"ssh,omitempty"`
}

// GatewayConfig configures the HTTP/WebSocket surface (C7).
type GatewayConfig struct {
	ListenAddress string `yaml:"listen_address"`

	// TerminalInputRateSustained/Burst are bytes/sec and burst bytes
	// for the per-connection terminal_input limiter (spec.md §4.7).
	TerminalInputRateSustained int `yaml:"terminal_input_rate_sustained"`
	TerminalInputRateBurst     int `yaml:"terminal_input_rate_burst"`

	// HeartbeatInterval is the WS heartbeat period (spec.md §5, default 30s).
	HeartbeatInterval string `yaml:"heartbeat_interval"`
}

// DatabaseConfig configures the Intelligence Store's SQLite pool.
type DatabaseConfig struct {
	Path     string `yaml:"path"`
	PoolSize int    `yaml:"pool_size"`
}

// SSHConfig configures SSH Connector defaults (C2).
type SSHConfig struct {
	DialTimeout      string `yaml:"dial_timeout"`       // default 10s
	KeepaliveInterval string `yaml:"keepalive_interval"` // default 30s
	MaxOutputBuffer  int    `yaml:"max_output_buffer"`  // bytes, ring buffer cap
	ReconnectAttempts int   `yaml:"reconnect_attempts"` // default 3
	HostKeyPolicy    string `yaml:"host_key_policy"`    // "tofu" or "strict"
	KnownHostsPath   string `yaml:"known_hosts_path"`
}

// EventBusConfig configures the Event Bus (C1).
type EventBusConfig struct {
	DefaultBufferSize int `yaml:"default_buffer_size"` // default 256
	PublishDeadlineMs int `yaml:"publish_deadline_ms"`  // default 50
}

// AIConfig selects and configures the AI Pipeline driver (C5).
type AIConfig struct {
	Driver        string `yaml:"driver"` // "anthropic" | "openai" | "ollama"
	Endpoint      string `yaml:"endpoint"`
	Model         string `yaml:"model"`
	APIKeyEnvVar  string `yaml:"api_key_env_var"`
	PerStepBudget int    `yaml:"per_step_budget_bytes"` // default 8192
	GlobalBudget  int    `yaml:"global_budget_bytes"`   // default 65536
	IdleTimeout   string `yaml:"idle_timeout"`          // default 60s
}

// VaultConfig configures the reference credential store.
type VaultConfig struct {
	RecipientKeys       []string `yaml:"recipient_keys"`
	OperatorKeyEnvVar   string   `yaml:"operator_key_env_var"`
}

// AuthConfig configures the Gateway's reference bearer-token issuer
// (internal/auth). spec.md §1 scopes actual user-authentication and
// JWT issuance as an external collaborator the Gateway only verifies
// against; this section configures the reference HMACIssuer a
// deployment uses until it swaps in its own verifier.
type AuthConfig struct {
	SigningKeyEnvVar string `yaml:"signing_key_env_var"` // base64, >=32 bytes decoded
	AccountsPath     string `yaml:"accounts_path"`        // JSON account directory file
	AccessTokenTTL   string `yaml:"access_token_ttl"`     // default 15m
	RefreshTokenTTL  string `yaml:"refresh_token_ttl"`    // default 720h (30d)
}

// Default returns baseline values used before the config file is
// merged in. The config file is still required; these only ensure
// every field has a sane zero value.
func Default() *Config {
	return &Config{
		Environment: Development,
		Gateway: GatewayConfig{
			ListenAddress:              ":8443",
			TerminalInputRateSustained: 64 * 1024,
			TerminalInputRateBurst:     256 * 1024,
			HeartbeatInterval:          "30s",
		},
		Database: DatabaseConfig{
			Path:     "${HUNTRELAY_ROOT:-.}/huntrelay.db",
			PoolSize: 4,
		},
		SSH: SSHConfig{
			DialTimeout:       "10s",
			KeepaliveInterval: "30s",
			MaxOutputBuffer:   64 * 1024,
			ReconnectAttempts: 3,
			HostKeyPolicy:     "tofu",
			KnownHostsPath:    "${HUNTRELAY_ROOT:-.}/known_hosts",
		},
		EventBus: EventBusConfig{
			DefaultBufferSize: 256,
			PublishDeadlineMs: 50,
		},
		AI: AIConfig{
			Driver:        "anthropic",
			PerStepBudget: 8 * 1024,
			GlobalBudget:  64 * 1024,
			IdleTimeout:   "60s",
		},
		Auth: AuthConfig{
			SigningKeyEnvVar: "HUNTRELAY_SIGNING_KEY",
			AccountsPath:     "${HUNTRELAY_ROOT:-.}/accounts.json",
			AccessTokenTTL:   "15m",
			RefreshTokenTTL:  "720h",
		},
	}
}

// Load reads the config file named by HUNTRELAY_CONFIG. There is no
// discovery fallback: an unset variable is a configuration error.
func Load() (*Config, error) {
	path := os.Getenv("HUNTRELAY_CONFIG")
	if path == "" {
		return nil, fmt.Errorf("HUNTRELAY_CONFIG environment variable not set; point it at a huntrelay.yaml file")
	}
	return LoadFile(path)
}

// LoadFile reads and merges a specific config file.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.applyEnvironmentOverrides()
	cfg.expandVariables()

	return cfg, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		if overrides == nil {
			// Production defaults to stricter host key verification
			// when the operator hasn't specified one explicitly.
			overrides = &ConfigOverrides{SSH: &SSHConfig{HostKeyPolicy: "strict"}}
		}
	}
	if overrides == nil {
		return
	}

	if overrides.Gateway != nil {
		if overrides.Gateway.ListenAddress != "" {
			c.Gateway.ListenAddress = overrides.Gateway.ListenAddress
		}
		if overrides.Gateway.TerminalInputRateSustained != 0 {
			c.Gateway.TerminalInputRateSustained = overrides.Gateway.TerminalInputRateSustained
		}
	}
	if overrides.SSH != nil {
		if overrides.SSH.HostKeyPolicy != "" {
			c.SSH.HostKeyPolicy = overrides.SSH.HostKeyPolicy
		}
		if overrides.SSH.DialTimeout != "" {
			c.SSH.DialTimeout = overrides.SSH.DialTimeout
		}
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		name, defaultValue := parts[1], ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Database.Path = expandVars(c.Database.Path, vars)
	c.SSH.KnownHostsPath = expandVars(c.SSH.KnownHostsPath, vars)
	c.Auth.AccountsPath = expandVars(c.Auth.AccountsPath, vars)
}

// Validate collects every configuration problem rather than failing
// on the first, matching the teacher's errors.Join convention.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}
	if c.Database.Path == "" {
		errs = append(errs, fmt.Errorf("database.path is required"))
	}
	if c.Gateway.ListenAddress == "" {
		errs = append(errs, fmt.Errorf("gateway.listen_address is required"))
	}
	if c.SSH.HostKeyPolicy != "tofu" && c.SSH.HostKeyPolicy != "strict" {
		errs = append(errs, fmt.Errorf("ssh.host_key_policy must be 'tofu' or 'strict'"))
	}
	switch c.AI.Driver {
	case "anthropic", "openai", "ollama", "":
	default:
		errs = append(errs, fmt.Errorf("ai.driver must be one of anthropic, openai, ollama"))
	}
	if c.Auth.SigningKeyEnvVar == "" {
		errs = append(errs, fmt.Errorf("auth.signing_key_env_var is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
