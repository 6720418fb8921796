package tokenstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/papercomputeco/streamchat/pkg/logger"
)

// credentials is the on-disk TOML shape.
type credentials struct {
	AccessToken string    `toml:"access_token"`
	UpdatedAt   time.Time `toml:"updated_at"`
}

// File is a Store backed by a TOML credentials file readable only by the
// owner.
type File struct {
	path   string
	logger *zap.Logger

	mu    sync.RWMutex
	token string
}

// NewFile returns a File store for path. Call Load to read the current token.
func NewFile(path string, l *zap.Logger) *File {
	return &File{
		path:   path,
		logger: logger.OrNop(l),
	}
}

// Path returns the credentials file location.
func (f *File) Path() string {
	return f.path
}

func (f *File) Load(context.Context) error {
	var creds credentials
	_, err := toml.DecodeFile(f.path, &creds)
	if errors.Is(err, os.ErrNotExist) {
		f.setToken("")
		return nil
	}
	if err != nil {
		return fmt.Errorf("read credentials %s: %w", f.path, err)
	}

	f.setToken(creds.AccessToken)
	return nil
}

func (f *File) Token() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.token
}

func (f *File) Set(_ context.Context, token string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}

	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open credentials %s: %w", f.path, err)
	}
	defer file.Close()

	creds := credentials{AccessToken: token, UpdatedAt: time.Now().UTC()}
	if err := toml.NewEncoder(file).Encode(creds); err != nil {
		return fmt.Errorf("write credentials: %w", err)
	}

	f.setToken(token)
	return nil
}

func (f *File) Clear(context.Context) error {
	f.setToken("")
	if err := os.Remove(f.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove credentials %s: %w", f.path, err)
	}
	return nil
}

// Watch reloads the token whenever the credentials file changes on disk, for
// example when another process logs in or out. It blocks until ctx is done.
func (f *File) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	// watch the directory: editors and Set replace the file rather than write it in place
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create credentials dir: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != filepath.Clean(f.path) {
				continue
			}
			if err := f.Load(ctx); err != nil {
				f.logger.Warn("reload credentials failed", zap.Error(err))
				continue
			}
			f.logger.Debug("credentials reloaded",
				zap.String("op", ev.Op.String()),
				zap.Bool("logged_in", f.Token() != ""),
			)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			f.logger.Warn("credentials watcher error", zap.Error(err))
		}
	}
}

func (f *File) setToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}
