package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// DefaultProfile is loaded as the default when present
const DefaultProfile = "default"

// ProfileInfo describes one profile file
type ProfileInfo struct {
	Filename  string `json:"filename"`
	ProfileID string `json:"profile_id"`
	Name      string `json:"name"`
	ServerURL string `json:"server_url"`
	Username  string `json:"username,omitempty"`
}

// Manager loads and caches named profiles stored as <name>.toml in a directory
type Manager struct {
	configDir     string
	defaultConfig *Config
	configs       map[string]*Config
	mu            sync.RWMutex
}

// NewManager creates a new profile manager
func NewManager(configDir string) (*Manager, error) {
	if _, err := os.Stat(configDir); os.IsNotExist(err) {
		return nil, fmt.Errorf("config directory does not exist: %s", configDir)
	}

	m := &Manager{
		configDir: configDir,
		configs:   make(map[string]*Config),
	}

	if err := m.loadDefaultConfig(); err != nil {
		return nil, fmt.Errorf("failed to load default config: %w", err)
	}

	return m, nil
}

// LoadConfig loads a profile by name
func (m *Manager) LoadConfig(name string) (*Config, error) {
	name = strings.TrimSuffix(name, ".toml")

	m.mu.RLock()
	if config, exists := m.configs[name]; exists {
		m.mu.RUnlock()
		return config, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if config, exists := m.configs[name]; exists {
		return config, nil
	}

	if strings.ContainsAny(name, `/\`) || name == "" || name == "." || name == ".." {
		return nil, fmt.Errorf("%w: %q", ErrConfigNotFound, name)
	}

	config, err := Load(filepath.Join(m.configDir, name+".toml"))
	if err != nil {
		return nil, err
	}
	// Unnamed profiles take their file name
	if config.Name == "" || (config.Name == DefaultProfile && name != DefaultProfile) {
		config.Name = name
	}

	m.configs[name] = config
	return config, nil
}

// ListConfigs returns every valid profile in the directory, sorted by id
func (m *Manager) ListConfigs() ([]*ProfileInfo, error) {
	entries, err := os.ReadDir(m.configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read config directory: %w", err)
	}

	var profiles []*ProfileInfo
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}

		id := strings.TrimSuffix(entry.Name(), ".toml")
		config, err := m.LoadConfig(id)
		if err != nil {
			// Skip invalid profiles
			continue
		}

		profiles = append(profiles, &ProfileInfo{
			Filename:  entry.Name(),
			ProfileID: id,
			Name:      config.Name,
			ServerURL: config.ServerURL,
			Username:  config.Username,
		})
	}

	sort.Slice(profiles, func(i, j int) bool {
		return profiles[i].ProfileID < profiles[j].ProfileID
	})
	return profiles, nil
}

// GetDefault returns the default profile
func (m *Manager) GetDefault() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.defaultConfig
}

// SetDefault sets the default profile by name
func (m *Manager) SetDefault(name string) error {
	config, err := m.LoadConfig(name)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultConfig = config
	return nil
}

// RefreshCache drops cached profiles and reloads the default
func (m *Manager) RefreshCache() error {
	m.mu.Lock()
	m.configs = make(map[string]*Config)
	m.mu.Unlock()

	return m.loadDefaultConfig()
}

// loadDefaultConfig prefers default.toml, then the first valid profile, then
// the built-in defaults
func (m *Manager) loadDefaultConfig() error {
	config, err := m.LoadConfig(DefaultProfile)
	if err != nil && !errors.Is(err, ErrConfigNotFound) {
		return err
	}

	if config == nil {
		profiles, listErr := m.ListConfigs()
		if listErr == nil && len(profiles) > 0 {
			config, _ = m.LoadConfig(profiles[0].ProfileID)
		}
	}
	if config == nil {
		config = Default()
	}

	m.mu.Lock()
	m.defaultConfig = config
	m.mu.Unlock()
	return nil
}

// SaveConfig validates and writes a profile
func (m *Manager) SaveConfig(name string, config *Config) error {
	if err := config.Validate(); err != nil {
		return err
	}

	name = strings.TrimSuffix(name, ".toml")
	if err := config.Save(filepath.Join(m.configDir, name+".toml")); err != nil {
		return err
	}

	m.mu.Lock()
	m.configs[name] = config
	m.mu.Unlock()

	return nil
}
