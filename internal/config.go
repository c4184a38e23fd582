package internal

import (
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gobwas/glob"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App     ApplicationConfig `yaml:"app"`
	Vault   VaultConfig       `yaml:"vault"`
	SQLite  SQLiteConfig      `yaml:"sqlite"`
	Auth    AuthConfig        `yaml:"auth"`
	Notes   NotesConfig       `yaml:"notes"`
	Watcher WatcherConfig     `yaml:"watcher"`
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
	if err := c.Notes.Validate(); err != nil {
		return err
	}
	return c.Watcher.Validate()
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

// VaultConfig holds the note directory and the paths inside it that are not
// notes.
type VaultConfig struct {
	Path   string   `yaml:"path"`
	Ignore []string `yaml:"ignore"`
}

// Validate validates the vault configuration.
func (c *VaultConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
		validation.Field(&c.Ignore, validation.Each(validation.By(compilesAsGlob))),
	)
}

func compilesAsGlob(value any) error {
	pattern, _ := value.(string)
	if _, err := glob.Compile(pattern, '/'); err != nil {
		return fmt.Errorf("invalid glob %q: %w", pattern, err)
	}
	return nil
}

// SQLiteConfig holds SQLite database configuration.
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

// NotesConfig holds note policy.
type NotesConfig struct {
	// RequireContent rejects notes with an empty body.
	RequireContent bool `yaml:"require_content"`
	// IndexRetries is how often a failed index write is retried before the
	// note is recorded as drifted.
	IndexRetries int `yaml:"index_retries"`
}

// Validate validates the notes configuration.
func (c *NotesConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.IndexRetries, validation.Min(0), validation.Max(10)),
	)
}

// WatcherConfig controls how out-of-band edits to the vault are picked up.
type WatcherConfig struct {
	Enabled bool `yaml:"enabled"`
	// ReconcileInterval runs a full drift repair periodically; zero disables it.
	ReconcileInterval time.Duration `yaml:"reconcile_interval"`
	// GraphThrottle bounds how often SSE clients are told to refresh the graph.
	GraphThrottle time.Duration `yaml:"graph_throttle"`
}

// Validate validates the watcher configuration.
func (c *WatcherConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.ReconcileInterval, validation.Min(time.Duration(0))),
		validation.Field(&c.GraphThrottle, validation.Min(time.Duration(0))),
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
			Path:   "./vault",
			Ignore: []string{".*", "**/.*", "templates/**"},
		},
		SQLite: SQLiteConfig{
			Path: "./zettel.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Notes: NotesConfig{
			IndexRetries: 2,
		},
		Watcher: WatcherConfig{
			Enabled:           true,
			ReconcileInterval: 5 * time.Minute,
			GraphThrottle:     2 * time.Second,
		},
	}
}
