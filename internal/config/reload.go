package config

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 300 * time.Millisecond

// Reloader watches the config file and reloads it on change or on one of
// reloadSignals (SIGHUP outside Windows). Subscribers registered with OnReload
// receive every successfully validated config; an invalid file leaves the
// current config in place.
type Reloader struct {
	mu        sync.RWMutex
	current   *Config
	path      string
	logger    *slog.Logger
	callbacks []func(*Config)
	watcher   *fsnotify.Watcher
	stopCh    chan struct{}
	stopOnce  sync.Once
}

// NewReloader creates a Reloader for the given config file path.
func NewReloader(path string, initial *Config, logger *slog.Logger) *Reloader {
	return &Reloader{
		current: initial,
		path:    path,
		logger:  logger,
		stopCh:  make(chan struct{}),
	}
}

// Current returns the active configuration.
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// OnReload registers a callback invoked with each newly loaded config.
func (r *Reloader) OnReload(fn func(*Config)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, fn)
}

// Start watches the directory holding the config file, so that editors which
// replace the file on save are still observed, and listens for
// reloadSignals.
func (r *Reloader) Start() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating file watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", r.path, err)
	}
	r.watcher = watcher

	r.logger.Info("config file watcher started", "path", r.path)
	go r.watchLoop()
	r.registerSignalHandler()
	return nil
}

// Stop terminates the file watcher and signal handler.
func (r *Reloader) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
		if r.watcher != nil {
			r.watcher.Close()
		}
	})
}

// Reload loads the config from disk and, if it is valid, swaps it in and
// notifies all callbacks.
func (r *Reloader) Reload() error {
	r.logger.Info("reloading configuration", "path", r.path)

	newCfg, err := Load(r.path)
	if err != nil {
		r.logger.Error("config reload failed, keeping current", "path", r.path, "error", err)
		return err
	}

	r.mu.Lock()
	old := r.current
	r.current = newCfg
	callbacks := make([]func(*Config), len(r.callbacks))
	copy(callbacks, r.callbacks)
	r.mu.Unlock()

	r.logChanges(old, newCfg)
	for _, w := range newCfg.Warnings {
		r.logger.Warn("config warning", "warning", w)
	}

	for _, cb := range callbacks {
		cb(newCfg)
	}

	r.logger.Info("configuration reloaded successfully")
	return nil
}

func (r *Reloader) watchLoop() {
	var debounce *time.Timer
	target := filepath.Clean(r.path)

	for {
		select {
		case event, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(reloadDebounce, func() {
					r.Reload() //nolint:errcheck
				})
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			r.logger.Error("file watcher error", "error", err)
		case <-r.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

// logChanges reports the sections that differ between old and cur.
func (r *Reloader) logChanges(old, cur *Config) {
	if old == nil {
		return
	}
	changed := func(msg string, was, now slog.Value) {
		r.logger.Info(msg, slog.Any("old", was), slog.Any("new", now))
	}
	retry := func(c *Config) slog.Value {
		return slog.GroupValue(slog.String("prefix", c.Retry.Prefix), slog.Bool("enabled", c.Retry.IsEnabled()))
	}
	limits := func(c *Config) slog.Value {
		return slog.GroupValue(slog.Float64("rps", c.RateLimit.RequestsPerSecond), slog.Int("burst", c.RateLimit.BurstSize))
	}

	if old.Retry.Prefix != cur.Retry.Prefix || old.Retry.IsEnabled() != cur.Retry.IsEnabled() {
		changed("retry config changed", retry(old), retry(cur))
	}
	if old.RateLimit != cur.RateLimit {
		changed("rate limit config changed", limits(old), limits(cur))
	}
	if len(old.Routes) != len(cur.Routes) {
		changed("route count changed", slog.IntValue(len(old.Routes)), slog.IntValue(len(cur.Routes)))
	}
	if old.Auth.Enabled != cur.Auth.Enabled {
		changed("auth enabled changed", slog.BoolValue(old.Auth.Enabled), slog.BoolValue(cur.Auth.Enabled))
	}
}

func (r *Reloader) registerSignalHandler() {
	if len(reloadSignals) == 0 {
		r.logger.Info("no reload signal on this platform, using file watcher only")
		return
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, reloadSignals...)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case sig := <-sigCh:
				r.logger.Info("reload signal received", "signal", sig.String())
				r.Reload() //nolint:errcheck // Reload logs its own failure.
			case <-r.stopCh:
				return
			}
		}
	}()

	r.logger.Info("config reload signal handler registered", "signals", len(reloadSignals))
}
