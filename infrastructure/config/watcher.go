package config

import (
	"fmt"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce collapses the burst of events an editor save produces
const DefaultDebounce = 500 * time.Millisecond

// ConfigWatcher reloads the YAML config file when it changes and notifies
// the registered callbacks with the new configuration.
type ConfigWatcher struct {
	path     string
	debounce time.Duration
	logger   *zap.Logger

	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewConfigWatcher starts watching initial.ConfigFile. The directory is
// watched rather than the file, so replace-by-rename saves are seen too.
func NewConfigWatcher(initial *Config, debounce time.Duration, logger *zap.Logger) (*ConfigWatcher, error) {
	if initial.ConfigFile == "" {
		return nil, fmt.Errorf("config was not loaded from a file")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	path, err := filepath.Abs(initial.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsWatcher.Add(filepath.Dir(path)); err != nil {
		fsWatcher.Close()
		return nil, fmt.Errorf("failed to watch config dir: %w", err)
	}

	w := &ConfigWatcher{
		path:     path,
		debounce: debounce,
		logger:   logger,
		config:   initial,
		watcher:  fsWatcher,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	go w.watchLoop()

	logger.Info("Configuration hot reloading enabled", zap.String("file", path))
	return w, nil
}

// OnChange registers a callback to be called when configuration changes
func (w *ConfigWatcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Current returns the most recently loaded configuration
func (w *ConfigWatcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Stop ends the watch loop
func (w *ConfigWatcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		<-w.doneCh
	})
}

func (w *ConfigWatcher) watchLoop() {
	defer close(w.doneCh)
	defer w.watcher.Close()

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug("Configuration file changed",
				zap.String("file", event.Name),
				zap.String("operation", event.Op.String()),
			)
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("File watcher error", zap.Error(err))

		case <-w.stopCh:
			w.logger.Info("Stopping configuration watcher")
			return
		}
	}
}

// reload reads the file again; an invalid file keeps the old config
func (w *ConfigWatcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		w.logger.Error("Invalid configuration after reload, keeping previous", zap.Error(err))
		return
	}
	next.ConfigFile = w.Current().ConfigFile

	w.mu.Lock()
	if reflect.DeepEqual(w.config, next) {
		w.mu.Unlock()
		w.logger.Debug("Configuration unchanged after reload")
		return
	}
	old := w.config
	w.config = next
	callbacks := append([]func(*Config){}, w.callbacks...)
	w.mu.Unlock()

	w.logChanges(old, next)
	for _, cb := range callbacks {
		cb(next)
	}
	w.logger.Info("Configuration reloaded successfully", zap.Int("callbacks_notified", len(callbacks)))
}

func (w *ConfigWatcher) logChanges(old, next *Config) {
	if old.LogLevel != next.LogLevel {
		w.logger.Info("Log level changed", zap.String("from", old.LogLevel), zap.String("to", next.LogLevel))
	}
	if old.Retry != next.Retry {
		w.logger.Info("Retry policy changed",
			zap.Int("max_retries", next.Retry.MaxRetries),
			zap.Duration("base_delay", next.Retry.BaseDelay),
			zap.Duration("max_delay", next.Retry.MaxDelay),
		)
	}
	if old.Storage != next.Storage {
		w.logger.Warn("Storage settings changed; they take effect on restart")
	}
}
