package config

import (
	"fmt"
	"sync"
)

var (
	// current is the process-wide configuration.
	current *Config

	// sourcePath is the file current was loaded from; empty for defaults.
	sourcePath string

	// mu guards current and sourcePath.
	mu sync.RWMutex

	// initOnce makes Initialize load at most once.
	initOnce sync.Once
)

// Initialize loads the configuration from path with WARDEN_* environment
// overrides and stores it for GetConfig. Only the first call loads; later
// calls return the first call's error. The path is remembered for Reload.
func Initialize(path string) error {
	var initErr error

	initOnce.Do(func() {
		cfg, err := LoadConfigWithEnvOverrides(path)
		if err != nil {
			initErr = err
			return
		}

		mu.Lock()
		current = cfg
		sourcePath = path
		mu.Unlock()
	})

	return initErr
}

// GetConfig returns the process configuration, or nil before a successful
// Initialize. Callers must treat the result as read-only: Reload swaps the
// pointer instead of mutating it.
func GetConfig() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// Reload re-reads the file Initialize loaded, environment overrides
// included, and swaps it in. When loading or validation fails the previous
// configuration stays in effect.
func Reload() (*Config, error) {
	mu.RLock()
	path, loaded := sourcePath, current != nil
	mu.RUnlock()
	if !loaded {
		return nil, fmt.Errorf("configuration not initialized")
	}

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return nil, fmt.Errorf("failed to reload configuration: %w", err)
	}

	mu.Lock()
	current = cfg
	mu.Unlock()
	return cfg, nil
}
