// Package config loads the relay configuration from defaults, an optional
// TOML file, a .env file and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/Venkie07/kyla-api/pkg/llm"
	"github.com/Venkie07/kyla-api/pkg/memory"
	"github.com/Venkie07/kyla-api/pkg/upstream"
	"github.com/Venkie07/kyla-api/relay"
)

// DefaultAPIKeyEnv is the environment variable holding the upstream credential.
const DefaultAPIKeyEnv = "HF_API_KEY"

// ErrMissingAPIKey is returned by Validate when no upstream credential is set.
var ErrMissingAPIKey = errors.New("missing upstream API key")

// Config is the complete relay configuration.
type Config struct {
	Server   Server   `toml:"server"`
	Upstream Upstream `toml:"upstream"`
	Memory   Memory   `toml:"memory"`
	Log      Log      `toml:"log"`

	// APIKey is read from the environment variable named by Upstream.APIKeyEnv
	// and never from the config file.
	APIKey string `toml:"-"`
}

// Server configures the HTTP listener.
type Server struct {
	// Address to listen on (e.g., ":8080")
	ListenAddr string `toml:"listen"`

	// ServiceName appears in the liveness message.
	ServiceName string `toml:"service_name"`

	// AllowOrigins is the CORS allow list, "*" for any origin.
	AllowOrigins string `toml:"allow_origins"`
}

// Upstream configures the completion API.
type Upstream struct {
	BaseURL     string   `toml:"base_url"`
	Model       string   `toml:"model"`
	APIKeyEnv   string   `toml:"api_key_env"`
	Timeout     Duration `toml:"timeout"`
	Temperature *float64 `toml:"temperature"`
	MaxTokens   *int     `toml:"max_tokens"`
}

// Memory configures the conversation buffers.
type Memory struct {
	SystemPrompt string `toml:"system_prompt"`
	MaxMessages  int    `toml:"max_messages"`

	// MaxSessions caps the conversations held at once; the least recently
	// used one is evicted to make room.
	MaxSessions int `toml:"max_sessions"`
}

// Log configures the logger.
type Log struct {
	Debug bool `toml:"debug"`
	JSON  bool `toml:"json"`
}

// Duration decodes TOML strings such as "90s" or "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			ListenAddr:   ":8080",
			ServiceName:  "Kyla",
			AllowOrigins: "*",
		},
		Upstream: Upstream{
			BaseURL:   upstream.DefaultBaseURL,
			Model:     upstream.DefaultModel,
			APIKeyEnv: DefaultAPIKeyEnv,
			Timeout:   Duration{relay.DefaultUpstreamTimeout},
		},
		Memory: Memory{
			SystemPrompt: memory.DefaultSeed,
			MaxMessages:  memory.DefaultMaxMessages,
			MaxSessions:  memory.DefaultMaxSessions,
		},
	}
}

// LoadOptions names the optional files Load reads.
type LoadOptions struct {
	// ConfigPath is a TOML file. Empty skips it; a missing file is an error.
	ConfigPath string

	// EnvFile is a dotenv file. A missing file is ignored.
	EnvFile string

	// Overrides runs last, after the environment, on every load and reload.
	// Command-line flags use it to keep precedence over the file.
	Overrides func(*Config)
}

// Load builds a Config. It does not validate it; call Validate before use.
func Load(opts LoadOptions) (*Config, error) {
	cfg := Default()

	if opts.ConfigPath != "" {
		if err := decodeFile(opts.ConfigPath, cfg); err != nil {
			return nil, err
		}
	}

	if opts.EnvFile != "" {
		if err := godotenv.Load(opts.EnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load env file %s: %w", opts.EnvFile, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if opts.Overrides != nil {
		opts.Overrides(cfg)
	}

	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return fmt.Errorf("decode config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return fmt.Errorf("decode config %s: unknown key %q", path, undecoded[0].String())
	}
	return nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("KYLA_LISTEN"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("KYLA_UPSTREAM_URL"); v != "" {
		c.Upstream.BaseURL = v
	}
	if v := os.Getenv("KYLA_MODEL"); v != "" {
		c.Upstream.Model = v
	}
	if v := os.Getenv("KYLA_MAX_MESSAGES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid KYLA_MAX_MESSAGES %q: %w", v, err)
		}
		c.Memory.MaxMessages = n
	}
	if v := os.Getenv("KYLA_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid KYLA_DEBUG %q: %w", v, err)
		}
		c.Log.Debug = debug
	}

	keyEnv := c.Upstream.APIKeyEnv
	if keyEnv == "" {
		keyEnv = DefaultAPIKeyEnv
	}
	c.APIKey = os.Getenv(keyEnv)
	return nil
}

// Validate reports the first problem that would stop the relay from serving.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		keyEnv := c.Upstream.APIKeyEnv
		if keyEnv == "" {
			keyEnv = DefaultAPIKeyEnv
		}
		return fmt.Errorf("%w: set %s", ErrMissingAPIKey, keyEnv)
	}
	if c.Server.ListenAddr == "" {
		return errors.New("server.listen must not be empty")
	}
	if c.Upstream.BaseURL == "" {
		return errors.New("upstream.base_url must not be empty")
	}
	if c.Upstream.Model == "" {
		return errors.New("upstream.model must not be empty")
	}
	if c.Upstream.Timeout.Duration < 0 {
		return fmt.Errorf("upstream.timeout must not be negative, got %s", c.Upstream.Timeout)
	}
	if c.Memory.MaxMessages < 1 {
		return fmt.Errorf("memory.max_messages must be at least 1, got %d", c.Memory.MaxMessages)
	}
	if c.Memory.MaxSessions < 1 {
		return fmt.Errorf("memory.max_sessions must be at least 1, got %d", c.Memory.MaxSessions)
	}
	if c.Memory.SystemPrompt == "" {
		return errors.New("memory.system_prompt must not be empty")
	}
	return nil
}

// GenerationOptions returns the upstream sampling options.
func (c *Config) GenerationOptions() llm.Options {
	return llm.Options{
		Temperature: c.Upstream.Temperature,
		MaxTokens:   c.Upstream.MaxTokens,
	}
}
