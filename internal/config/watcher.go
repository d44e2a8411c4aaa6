package config

import (
	"context"
	"crypto/sha256"
	"os"
	"sync"

	"autoforwardx/internal/models"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// ConfigWatcher reloads the config file when it changes on disk and hands the
// result to registered callbacks. Only the log level and feature flags are
// meant to be hot-applied; everything else needs a restart.
type ConfigWatcher struct {
	configPath string
	logger     *logrus.Logger

	mu          sync.RWMutex
	config      *models.Config
	fingerprint [sha256.Size]byte
	callbacks   []func(*models.Config)
}

// NewConfigWatcher creates a watcher seeded with the already loaded config.
func NewConfigWatcher(configPath string, initial *models.Config, logger *logrus.Logger) *ConfigWatcher {
	cw := &ConfigWatcher{
		configPath: configPath,
		logger:     logger,
		config:     initial,
	}
	if data, err := os.ReadFile(configPath); err == nil {
		cw.fingerprint = sha256.Sum256(data)
	}
	return cw
}

// Start watches the file until ctx is cancelled.
func (cw *ConfigWatcher) Start(ctx context.Context) error {
	if _, err := os.Stat(cw.configPath); err != nil {
		return err
	}

	v := viper.New()
	v.SetConfigFile(cw.configPath)
	v.SetConfigType("json")
	v.OnConfigChange(func(e fsnotify.Event) {
		if ctx.Err() != nil {
			return
		}
		cw.logger.WithFields(logrus.Fields{"path": e.Name, "op": e.Op.String()}).Debug("Configuration file event")
		cw.reload()
	})
	v.WatchConfig()

	cw.logger.WithField("path", cw.configPath).Info("Configuration watcher started")
	<-ctx.Done()
	cw.logger.Info("Configuration watcher stopping")
	return nil
}

// GetConfig returns the most recently applied configuration.
func (cw *ConfigWatcher) GetConfig() *models.Config {
	cw.mu.RLock()
	defer cw.mu.RUnlock()
	return cw.config
}

// OnConfigChange registers a callback run after every successful reload.
func (cw *ConfigWatcher) OnConfigChange(callback func(*models.Config)) {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.callbacks = append(cw.callbacks, callback)
}

func (cw *ConfigWatcher) reload() {
	data, err := os.ReadFile(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Warn("Configuration file unreadable, keeping current settings")
		return
	}
	sum := sha256.Sum256(data)

	cw.mu.RLock()
	unchanged := sum == cw.fingerprint
	cw.mu.RUnlock()
	if unchanged {
		return
	}

	next, err := LoadConfig(cw.configPath)
	if err != nil {
		cw.logger.WithError(err).Error("Rejected configuration change")
		return
	}

	cw.mu.Lock()
	prev := cw.config
	cw.config = next
	cw.fingerprint = sum
	callbacks := make([]func(*models.Config), len(cw.callbacks))
	copy(callbacks, cw.callbacks)
	cw.mu.Unlock()

	cw.logger.Info("Configuration reloaded")
	cw.logDiff(prev, next)

	for _, cb := range callbacks {
		cw.notify(cb, next)
	}
}

func (cw *ConfigWatcher) notify(cb func(*models.Config), cfg *models.Config) {
	defer func() {
		if r := recover(); r != nil {
			cw.logger.WithField("panic", r).Error("Config change callback panicked")
		}
	}()
	cb(cfg)
}

func (cw *ConfigWatcher) logDiff(prev, next *models.Config) {
	if prev == nil {
		return
	}
	if prev.LogLevel != next.LogLevel {
		cw.logger.WithFields(logrus.Fields{"old": prev.LogLevel, "new": next.LogLevel}).Info("Log level changed")
	}
	for name, enabled := range next.Features {
		if prev.Features[name] != enabled {
			cw.logger.WithFields(logrus.Fields{"flag": name, "enabled": enabled}).Info("Feature flag changed")
		}
	}
	if prev.Database.DSN != next.Database.DSN || prev.Server.Port != next.Server.Port {
		cw.logger.Warn("Database and server settings only take effect after a restart")
	}
}
