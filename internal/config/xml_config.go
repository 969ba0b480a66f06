// Package config provides XML-based configuration management for the plant console.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// AppConfig represents the root XML configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"PlantConsole"`

	// Server configuration
	Server ServerConfig `xml:"Server"`

	// Backend collaborator configuration
	Backend BackendConfig `xml:"Backend"`

	// Push channel configuration
	Telemetry TelemetryConfig `xml:"Telemetry"`

	// Storage configuration
	Storage StorageConfig `xml:"Storage"`

	// Notification feed configuration
	Notifications NotificationsConfig `xml:"Notifications"`

	// View session configuration
	Sessions SessionsConfig `xml:"Sessions"`

	// Advanced options
	Advanced AdvancedConfig `xml:"Advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port"`
	BindAddress  string `xml:"BindAddress"`
	EnableCORS   bool   `xml:"EnableCORS"`
	AllowOrigins string `xml:"AllowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit"`
}

// BackendConfig points at the persistence, fault and analytics collaborator
type BackendConfig struct {
	BaseURL               string `xml:"BaseURL"`
	RequestTimeoutSeconds int    `xml:"RequestTimeoutSeconds"`
}

// TelemetryConfig contains push channel settings
type TelemetryConfig struct {
	Endpoint         string `xml:"Endpoint"`
	Transports       string `xml:"Transports"`
	PollIntervalMs   int    `xml:"PollIntervalMs"`
	HandshakeMessage string `xml:"HandshakeMessage"`
	SnapshotKey      string `xml:"SnapshotKey"`
	SnapshotCodec    string `xml:"SnapshotCodec"`

	// LiveAnalytics opens a push connection per analytics viewer
	LiveAnalytics bool `xml:"LiveAnalytics"`
}

// StorageConfig contains durable local storage settings
type StorageConfig struct {
	DataDirectory string `xml:"DataDirectory"`
	Backend       string `xml:"Backend"`
}

// NotificationsConfig contains fault feed settings
type NotificationsConfig struct {
	DeleteDelayMs    int    `xml:"DeleteDelayMs"`
	DefaultSortType  string `xml:"DefaultSortType"`
	DefaultSortOrder string `xml:"DefaultSortOrder"`
}

// SessionsConfig contains view session lifecycle settings
type SessionsConfig struct {
	MaxSessions            int `xml:"MaxSessions"`
	SessionTimeoutMinutes  int `xml:"SessionTimeoutMinutes"`
	CleanupIntervalMinutes int `xml:"CleanupIntervalMinutes"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel                string `xml:"LogLevel"`
	LogOutput               string `xml:"LogOutput"`
	EnableRequestLogging    bool   `xml:"EnableRequestLogging"`
	WebSocketMaxMessageSize int    `xml:"WebSocketMaxMessageSizeKB"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Port:         8089,
			BindAddress:  "0.0.0.0",
			EnableCORS:   true,
			AllowOrigins: "*",
			ReadTimeout:  30,
			WriteTimeout: 30,
			IdleTimeout:  120,
			BodyLimit:    "2M",
		},
		Backend: BackendConfig{
			BaseURL:               "http://127.0.0.1:5007",
			RequestTimeoutSeconds: 15,
		},
		Telemetry: TelemetryConfig{
			Endpoint:         "ws://127.0.0.1:5007/socket",
			Transports:       "websocket,polling",
			PollIntervalMs:   1000,
			HandshakeMessage: "User has connected!",
			SnapshotKey:      "machineData",
			SnapshotCodec:    "json",
		},
		Storage: StorageConfig{
			DataDirectory: "./data",
			Backend:       "file",
		},
		Notifications: NotificationsConfig{
			DeleteDelayMs:    500,
			DefaultSortType:  "date",
			DefaultSortOrder: "desc",
		},
		Sessions: SessionsConfig{
			MaxSessions:            64,
			SessionTimeoutMinutes:  30,
			CleanupIntervalMinutes: 5,
		},
		Advanced: AdvancedConfig{
			LogLevel:                "info",
			LogOutput:               "stdout",
			EnableRequestLogging:    true,
			WebSocketMaxMessageSize: 1024,
		},
	}
}

// LoadConfig loads configuration from XML file
func LoadConfig(configPath string) (*AppConfig, error) {
	// If file doesn't exist, create default
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config := DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		config.applyEnvironmentOverrides()
		config.resolvePaths(filepath.Dir(configPath))
		return config, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := xml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Apply environment variable overrides
	config.applyEnvironmentOverrides()

	// Resolve relative paths
	config.resolvePaths(filepath.Dir(configPath))

	return config, nil
}

// Save saves the configuration to XML file
func (c *AppConfig) Save(configPath string) error {
	output, err := xml.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(xml.Header + "\n<!-- Plant Console Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
	content := append(header, output...)

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	// PORT override
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	// DATA_DIR override
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		c.Storage.DataDirectory = dataDir
	}

	if backendURL := os.Getenv("BACKEND_URL"); backendURL != "" {
		c.Backend.BaseURL = backendURL
	}

	if endpoint := os.Getenv("TELEMETRY_ENDPOINT"); endpoint != "" {
		c.Telemetry.Endpoint = endpoint
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		c.Advanced.LogLevel = level
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	if !filepath.IsAbs(c.Storage.DataDirectory) {
		c.Storage.DataDirectory = filepath.Join(configDir, c.Storage.DataDirectory)
	}
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetSnapshotDir returns the directory holding the durable snapshot store
func (c *AppConfig) GetSnapshotDir() string {
	return filepath.Join(c.Storage.DataDirectory, "snapshot")
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// GetTransports returns the configured transport order, lowercased and trimmed
func (c *AppConfig) GetTransports() []string {
	var out []string
	for _, t := range strings.Split(c.Telemetry.Transports, ",") {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

// GetRequestTimeout returns the backend HTTP timeout
func (c *AppConfig) GetRequestTimeout() time.Duration {
	return time.Duration(c.Backend.RequestTimeoutSeconds) * time.Second
}

// GetPollInterval returns the polling transport interval
func (c *AppConfig) GetPollInterval() time.Duration {
	return time.Duration(c.Telemetry.PollIntervalMs) * time.Millisecond
}

// GetDeleteDelay returns the delay between marking a fault and deleting it
func (c *AppConfig) GetDeleteDelay() time.Duration {
	return time.Duration(c.Notifications.DeleteDelayMs) * time.Millisecond
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.GetSnapshotDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
