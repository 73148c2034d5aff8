package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App          ApplicationConfig  `yaml:"app"`
	Vault        VaultConfig        `yaml:"vault"`
	SQLite       SQLiteConfig       `yaml:"sqlite"`
	Auth         AuthConfig         `yaml:"auth"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Inbox        InboxConfig        `yaml:"inbox"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.Vault.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Orchestrator.Validate(); err != nil {
		return err
	}
	return c.Inbox.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// VaultConfig holds the path to the stage store root directory.
type VaultConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// SQLiteConfig holds SQLite journal configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	// Normalise empty mode to "disabled" for backward compatibility.
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// OrchestratorConfig holds the coordination loop configuration.
// Durations are expressed in whole seconds so the YAML stays obvious.
type OrchestratorConfig struct {
	ScanIntervalSeconds int  `yaml:"scan_interval_seconds"`
	ApprovalTTLSeconds  int  `yaml:"approval_ttl_seconds"`
	EscalateAfter       int  `yaml:"escalate_after"`
	MaxPayloadBytes     int  `yaml:"max_payload_bytes"`
	WarnWindowSeconds   int  `yaml:"warn_window_seconds"`
	Briefings           bool `yaml:"briefings"`
}

// ScanInterval returns the pass interval as a duration.
func (c *OrchestratorConfig) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalSeconds) * time.Second
}

// ApprovalTTL returns the approval request lifetime as a duration.
func (c *OrchestratorConfig) ApprovalTTL() time.Duration {
	return time.Duration(c.ApprovalTTLSeconds) * time.Second
}

// WarnWindow returns the nearing-expiry window as a duration.
func (c *OrchestratorConfig) WarnWindow() time.Duration {
	return time.Duration(c.WarnWindowSeconds) * time.Second
}

// Validate validates the orchestrator configuration.
func (c *OrchestratorConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ScanIntervalSeconds, validation.Required, validation.Min(1)),
		validation.Field(&c.ApprovalTTLSeconds, validation.Required, validation.Min(60)),
		validation.Field(&c.EscalateAfter, validation.Min(1)),
		validation.Field(&c.MaxPayloadBytes, validation.Min(1)),
		validation.Field(&c.WarnWindowSeconds, validation.Min(1)),
	)
}

// InboxConfig holds the drop-folder watcher configuration.
type InboxConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Validate validates the inbox configuration.
func (c *InboxConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		Vault: VaultConfig{
			Path: "./vault",
		},
		SQLite: SQLiteConfig{
			Path: "./stagehand.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Orchestrator: OrchestratorConfig{
			ScanIntervalSeconds: 30,
			ApprovalTTLSeconds:  24 * 60 * 60,
			EscalateAfter:       3,
			MaxPayloadBytes:     4000,
			WarnWindowSeconds:   30 * 60,
			Briefings:           true,
		},
		Inbox: InboxConfig{
			Enabled: false,
			Path:    "./inbox",
		},
	}
}
