// Package config provides configuration management for the Kamui CLI.
// It handles reading and writing settings and startup markers to the config file.
package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/kamui-project/kamui-session/internal/token"
)

const (
	// DefaultAPIURL is the default Kamui API endpoint
	DefaultAPIURL = "https://api.kamui-platform.com"

	// ConfigDirName is the name of the config directory
	ConfigDirName = ".kamui"

	// ConfigFileName is the name of the config file
	ConfigFileName = "config.json"

	// EnvAPIURL overrides the configured API URL
	EnvAPIURL = "KAMUI_API_URL"

	// EnvCredentialsDir overrides the configured credentials directory
	EnvCredentialsDir = "KAMUI_CREDENTIALS_DIR"
)

// Config represents the CLI configuration stored on disk
type Config struct {
	// AccessToken, RefreshToken and ExpiresAt are the token fields of the
	// old config format. They are only read by the legacy migration.
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitempty"`

	// APIURL is the base URL of the Kamui API
	APIURL string `json:"api_url,omitempty"`

	// ClientID is the OAuth client ID from dynamic registration
	ClientID string `json:"client_id,omitempty"`

	// ClientSecret is the OAuth client secret from dynamic registration
	ClientSecret string `json:"client_secret,omitempty"`

	// RequireOnlineValidation makes API calls confirm the token with the
	// identity provider once per process instead of trusting its expiry
	RequireOnlineValidation bool `json:"require_online_validation,omitempty"`

	// CredentialsDir is where the credential store keeps its file
	CredentialsDir string `json:"credentials_dir,omitempty"`

	// Markers are one-shot startup flags
	Markers map[string]bool `json:"markers,omitempty"`
}

// Manager handles configuration file operations
type Manager struct {
	configPath string
}

// NewManager creates a new configuration manager
func NewManager() (*Manager, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	configPath := filepath.Join(homeDir, ConfigDirName, ConfigFileName)
	return &Manager{configPath: configPath}, nil
}

// NewManagerWithPath creates a new configuration manager with a custom path
// This is useful for testing
func NewManagerWithPath(configPath string) *Manager {
	return &Manager{configPath: configPath}
}

// Load reads the configuration from disk
// Returns an empty config if the file doesn't exist
func (m *Manager) Load() (*Config, error) {
	data, err := os.ReadFile(m.configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{
				APIURL: DefaultAPIURL,
			}, nil
		}
		return nil, err
	}

	var config Config
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	if config.APIURL == "" {
		config.APIURL = DefaultAPIURL
	}

	return &config, nil
}

// Save writes the configuration to disk
func (m *Manager) Save(config *Config) error {
	configDir := filepath.Dir(m.configPath)
	if err := os.MkdirAll(configDir, 0700); err != nil {
		return err
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	// Write with restricted permissions (owner read/write only)
	return os.WriteFile(m.configPath, data, 0600)
}

// Delete removes the config file entirely
func (m *Manager) Delete() error {
	err := os.Remove(m.configPath)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// GetAPIURL returns the API URL, honoring KAMUI_API_URL
func (m *Manager) GetAPIURL() (string, error) {
	if env := os.Getenv(EnvAPIURL); env != "" {
		return env, nil
	}

	config, err := m.Load()
	if err != nil {
		return "", err
	}

	if config.APIURL == "" {
		return DefaultAPIURL, nil
	}

	return config.APIURL, nil
}

// GetCredentialsDir returns the credentials directory, honoring
// KAMUI_CREDENTIALS_DIR. An empty result means the store default.
func (m *Manager) GetCredentialsDir() (string, error) {
	if env := os.Getenv(EnvCredentialsDir); env != "" {
		return env, nil
	}

	config, err := m.Load()
	if err != nil {
		return "", err
	}
	return config.CredentialsDir, nil
}

// RequireOnlineValidation reports whether API calls must validate the
// token online. Defaults to false.
func (m *Manager) RequireOnlineValidation() (bool, error) {
	config, err := m.Load()
	if err != nil {
		return false, err
	}
	return config.RequireOnlineValidation, nil
}

// GetClientCredentials returns the stored OAuth client credentials
// Returns empty strings if not registered
func (m *Manager) GetClientCredentials() (clientID, clientSecret string, err error) {
	config, err := m.Load()
	if err != nil {
		return "", "", err
	}

	return config.ClientID, config.ClientSecret, nil
}

// SaveClientCredentials saves OAuth client credentials to the config
func (m *Manager) SaveClientCredentials(clientID, clientSecret string) error {
	config, err := m.Load()
	if err != nil {
		return err
	}

	config.ClientID = clientID
	config.ClientSecret = clientSecret

	return m.Save(config)
}

// Marker reports whether the named startup marker is set
func (m *Manager) Marker(name string) (bool, error) {
	config, err := m.Load()
	if err != nil {
		return false, err
	}
	return config.Markers[name], nil
}

// SetMarker sets the named startup marker
func (m *Manager) SetMarker(name string) error {
	config, err := m.Load()
	if err != nil {
		return err
	}

	if config.Markers == nil {
		config.Markers = make(map[string]bool)
	}
	config.Markers[name] = true

	return m.Save(config)
}

// ImportLegacy returns the token stored by the old config format.
// Returns nil if there is none. The config is left untouched.
func (m *Manager) ImportLegacy(_ context.Context) (*token.Record, error) {
	config, err := m.Load()
	if err != nil {
		return nil, err
	}

	if config.AccessToken == "" && config.RefreshToken == "" {
		return nil, nil
	}

	return token.New(config.AccessToken, config.RefreshToken, config.ExpiresAt), nil
}

// ClearLegacy removes the old-format token fields from the config
func (m *Manager) ClearLegacy(_ context.Context) error {
	config, err := m.Load()
	if err != nil {
		return err
	}

	config.AccessToken = ""
	config.RefreshToken = ""
	config.ExpiresAt = time.Time{}
	return m.Save(config)
}

// ConfigPath returns the path to the config file
func (m *Manager) ConfigPath() string {
	return m.configPath
}
