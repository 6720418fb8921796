// Package cliconfig binds the global streamchat flags and resolves them,
// together with the config file and environment, into what each command
// needs.
package cliconfig

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/streamchat/pkg/client"
	"github.com/papercomputeco/streamchat/pkg/config"
	"github.com/papercomputeco/streamchat/pkg/logger"
	"github.com/papercomputeco/streamchat/pkg/merkle"
	"github.com/papercomputeco/streamchat/pkg/tokenstore"
)

// Flags are the persistent flags shared by every command.
type Flags struct {
	ConfigPath  string
	BaseURL     string
	DBPath      string
	IdleTimeout time.Duration
	Strict      bool
	Debug       bool
}

// Register adds the persistent flags to root.
func Register(root *cobra.Command) *Flags {
	f := &Flags{}
	pf := root.PersistentFlags()
	pf.StringVar(&f.ConfigPath, "config", config.Path(), "Path to the config file")
	pf.StringVar(&f.BaseURL, "base-url", "", "Chat backend base URL (e.g., http://localhost:8080/api)")
	pf.StringVar(&f.DBPath, "db", "", "Path to the transcript SQLite database")
	pf.DurationVar(&f.IdleTimeout, "idle-timeout", 0, "Fail a stream after this long without data (0 disables)")
	pf.BoolVar(&f.Strict, "strict", false, "Report a stream that ends without a done or error event as a failure")
	pf.BoolVar(&f.Debug, "debug", false, "Enable debug logging")
	return f
}

// Env is the resolved runtime for one command invocation.
type Env struct {
	Config *config.Config
	Logger *zap.Logger
	Tokens *tokenstore.File
}

// Load reads the configuration, applies any flags set on cmd, and builds a
// logger writing to logTo.
func (f *Flags) Load(cmd *cobra.Command, logTo io.Writer) (*Env, error) {
	cfg, err := config.LoadFrom(f.ConfigPath, ".env")
	if err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	f.apply(cmd, cfg)

	l := logger.NewLoggerTo(logTo, cfg.Debug)
	return &Env{
		Config: cfg,
		Logger: l,
		Tokens: tokenstore.NewFile(cfg.CredentialsPath, l),
	}, nil
}

func (f *Flags) apply(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("base-url") {
		cfg.BaseURL = f.BaseURL
	}
	if flags.Changed("db") {
		cfg.DBPath = f.DBPath
	}
	if flags.Changed("idle-timeout") {
		cfg.IdleTimeout = config.Duration{Duration: f.IdleTimeout}
	}
	if flags.Changed("strict") {
		cfg.StrictTermination = f.Strict
	}
	if flags.Changed("debug") {
		cfg.Debug = f.Debug
	}
}

// Client returns a backend client authenticated with the stored token.
func (e *Env) Client(opts ...client.Option) *client.Client {
	opts = append([]client.Option{client.WithLogger(e.Logger)}, opts...)
	return client.New(client.Config{
		BaseURL:           e.Config.BaseURL,
		RequestTimeout:    e.Config.RequestTimeout.Duration,
		IdleTimeout:       e.Config.IdleTimeout.Duration,
		StrictTermination: e.Config.StrictTermination,
	}, e.Tokens, opts...)
}

// OpenStore opens the transcript database, creating its directory if needed.
func (e *Env) OpenStore() (*merkle.SQLiteStorer, error) {
	return OpenStore(e.Config.DBPath)
}

// OpenStore opens the SQLite transcript database at path.
func OpenStore(path string) (*merkle.SQLiteStorer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("could not create database dir: %w", err)
	}
	store, err := merkle.NewSQLiteStorer(path)
	if err != nil {
		return nil, fmt.Errorf("could not open database %s: %w", path, err)
	}
	return store, nil
}
