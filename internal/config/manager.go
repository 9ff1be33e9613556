package config

import (
	"fmt"
	"sync"

	"github.com/spf13/viper"
)

// ChangeHandler is called with the old and new config after a successful
// reload. Mirrors the teacher's OnConfigChange pattern for reacting to live
// config edits without a process restart.
type ChangeHandler func(old, new *Config)

// Manager owns the current Config and notifies registered handlers when
// viper observes a file change.
type Manager struct {
	mu       sync.RWMutex
	v        *viper.Viper
	current  *Config
	handlers []ChangeHandler
}

// Load reads path into a new Manager and validates it.
func Load(path string) (*Manager, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{v: v, current: cfg}
	v.OnConfigChange(func(_ interface{}) {
		m.reload()
	})
	v.WatchConfig()
	return m, nil
}

func (m *Manager) reload() {
	newCfg := &Config{}
	if err := m.v.Unmarshal(newCfg); err != nil {
		return
	}
	if err := newCfg.Validate(); err != nil {
		return
	}

	m.mu.Lock()
	oldCfg := m.current
	m.current = newCfg
	handlers := append([]ChangeHandler(nil), m.handlers...)
	m.mu.Unlock()

	for _, h := range handlers {
		h(oldCfg, newCfg)
	}
}

// Current returns the most recently loaded Config.
func (m *Manager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// OnConfigChange registers a handler invoked after every successful reload.
func (m *Manager) OnConfigChange(h ChangeHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}
