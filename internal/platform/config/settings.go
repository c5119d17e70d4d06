package config

import (
	"log/slog"
	"sync"
)

// Settings is the process-wide client identity used for every remote call
// and for deriving video identities.
type Settings struct {
	APIKey    string
	Namespace string
}

var (
	settingsMu sync.RWMutex
	settings   *Settings
)

// Initialize installs the process-wide Settings. It must be called exactly
// once at startup; a second call panics.
func Initialize(s Settings) {
	settingsMu.Lock()
	defer settingsMu.Unlock()

	if settings != nil {
		panic("config: settings already initialized and cannot be changed")
	}
	cp := s
	settings = &cp
	slog.Info("config: settings initialized", "namespace", s.Namespace)
}

// Current returns the process-wide Settings. It panics when Initialize has
// not been called yet.
func Current() Settings {
	settingsMu.RLock()
	defer settingsMu.RUnlock()

	if settings == nil {
		panic("config: settings read before Initialize")
	}
	return *settings
}

// Initialized reports whether Initialize has been called.
func Initialized() bool {
	settingsMu.RLock()
	defer settingsMu.RUnlock()
	return settings != nil
}
