// Package config loads streamchat settings. Later sources override earlier
// ones: built-in defaults, ~/.streamchat/config.toml, a .env file in the
// working directory, then STREAMCHAT_* environment variables. Command flags
// are applied on top by the caller.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	dirName         = ".streamchat"
	fileName        = "config.toml"
	credentialsName = "credentials.toml"
	dbName          = "transcripts.db"

	DefaultBaseURL        = "http://localhost:8080/api"
	DefaultListenAddr     = ":8080"
	DefaultUpstreamURL    = "http://localhost:11434"
	DefaultModel          = "llama3.2:latest"
	DefaultIdleTimeout    = 60 * time.Second
	DefaultRequestTimeout = 2 * time.Minute
)

// Environment variable names.
const (
	EnvBaseURL        = "STREAMCHAT_BASE_URL"
	EnvIdleTimeout    = "STREAMCHAT_IDLE_TIMEOUT"
	EnvRequestTimeout = "STREAMCHAT_REQUEST_TIMEOUT"
	EnvCredentials    = "STREAMCHAT_CREDENTIALS"
	EnvDB             = "STREAMCHAT_DB"
	EnvStrict         = "STREAMCHAT_STRICT"
	EnvDebug          = "STREAMCHAT_DEBUG"
	EnvListenAddr     = "STREAMCHAT_RELAY_LISTEN"
	EnvUpstreamURL    = "STREAMCHAT_RELAY_UPSTREAM"
	EnvModel          = "STREAMCHAT_RELAY_MODEL"
	EnvRelayToken     = "STREAMCHAT_RELAY_TOKEN"
)

// Duration is a time.Duration that reads and writes as a string like "90s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Config holds the user's configuration.
type Config struct {
	BaseURL           string   `toml:"base_url"`
	IdleTimeout       Duration `toml:"idle_timeout"`
	RequestTimeout    Duration `toml:"request_timeout"`
	MaxHistory        int      `toml:"max_history"`
	CredentialsPath   string   `toml:"credentials_path,omitempty"`
	DBPath            string   `toml:"db_path,omitempty"`
	StrictTermination bool     `toml:"strict_termination"`
	Debug             bool     `toml:"debug"`
	Relay             Relay    `toml:"relay"`
}

// Relay configures the development relay server.
type Relay struct {
	ListenAddr  string `toml:"listen_addr"`
	UpstreamURL string `toml:"upstream_url"`
	Model       string `toml:"model"`
	Token       string `toml:"token,omitempty"`
}

// Dir returns the configuration directory path.
func Dir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, dirName)
}

// Path returns the default configuration file path.
func Path() string {
	return filepath.Join(Dir(), fileName)
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		BaseURL:         DefaultBaseURL,
		IdleTimeout:     Duration{DefaultIdleTimeout},
		RequestTimeout:  Duration{DefaultRequestTimeout},
		CredentialsPath: filepath.Join(Dir(), credentialsName),
		DBPath:          filepath.Join(Dir(), dbName),
		Relay: Relay{
			ListenAddr:  DefaultListenAddr,
			UpstreamURL: DefaultUpstreamURL,
			Model:       DefaultModel,
		},
	}
}

// Load reads the default config file, .env and the environment.
func Load() (*Config, error) {
	return LoadFrom(Path(), ".env")
}

// LoadFrom reads the config file at path, then the dotenv file, then the
// environment. Missing files are skipped.
func LoadFrom(path, dotenv string) (*Config, error) {
	cfg := Default()

	if path != "" {
		_, err := toml.DecodeFile(path, cfg)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
	}

	if dotenv != "" {
		// godotenv never overwrites variables that are already set
		err := godotenv.Load(dotenv)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", dotenv, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save persists cfg to path, creating the directory if needed.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() error {
	str := map[string]*string{
		EnvBaseURL:     &c.BaseURL,
		EnvCredentials: &c.CredentialsPath,
		EnvDB:          &c.DBPath,
		EnvListenAddr:  &c.Relay.ListenAddr,
		EnvUpstreamURL: &c.Relay.UpstreamURL,
		EnvModel:       &c.Relay.Model,
		EnvRelayToken:  &c.Relay.Token,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	durations := map[string]*Duration{
		EnvIdleTimeout:    &c.IdleTimeout,
		EnvRequestTimeout: &c.RequestTimeout,
	}
	for key, dst := range durations {
		if v := os.Getenv(key); v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
		}
	}

	bools := map[string]*bool{
		EnvStrict: &c.StrictTermination,
		EnvDebug:  &c.Debug,
	}
	for key, dst := range bools {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			*dst = b
		}
	}
	return nil
}
