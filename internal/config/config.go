// Package config provides XML (or YAML) configuration management for air-gapped deployment.
package config

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata" // air-gapped hosts may lack a zoneinfo database

	"gopkg.in/yaml.v3"
)

// AppConfig represents the root configuration structure
type AppConfig struct {
	XMLName xml.Name `xml:"VitalVisualizer" yaml:"-"`

	Server     ServerConfig     `xml:"Server" yaml:"server"`
	Storage    StorageConfig    `xml:"Storage" yaml:"storage"`
	Processing ProcessingConfig `xml:"Processing" yaml:"processing"`
	Security   SecurityConfig   `xml:"Security" yaml:"security"`
	Advanced   AdvancedConfig   `xml:"Advanced" yaml:"advanced"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Port         int    `xml:"Port" yaml:"port"`
	BindAddress  string `xml:"BindAddress" yaml:"bindAddress"`
	EnableCORS   bool   `xml:"EnableCORS" yaml:"enableCors"`
	AllowOrigins string `xml:"AllowOrigins" yaml:"allowOrigins"`
	ReadTimeout  int    `xml:"ReadTimeoutSeconds" yaml:"readTimeoutSeconds"`
	WriteTimeout int    `xml:"WriteTimeoutSeconds" yaml:"writeTimeoutSeconds"`
	IdleTimeout  int    `xml:"IdleTimeoutSeconds" yaml:"idleTimeoutSeconds"`
	BodyLimit    string `xml:"BodyLimit" yaml:"bodyLimit"`
}

// StorageConfig contains file storage settings
type StorageConfig struct {
	DataDirectory       string `xml:"DataDirectory" yaml:"dataDirectory"`
	UploadsDirectory    string `xml:"UploadsDirectory" yaml:"uploadsDirectory"`
	ParsedDataDirectory string `xml:"ParsedDataDirectory" yaml:"parsedDataDirectory"`
	// EnablePersistence mirrors decoded recordings into DuckDB.
	EnablePersistence bool `xml:"EnablePersistence" yaml:"enablePersistence"`
}

// ProcessingConfig contains decode settings
type ProcessingConfig struct {
	MaxConcurrentDecodes   int    `xml:"MaxConcurrentDecodes" yaml:"maxConcurrentDecodes"`
	SessionTimeoutMinutes  int    `xml:"SessionTimeoutMinutes" yaml:"sessionTimeoutMinutes"`
	CleanupIntervalMinutes int    `xml:"CleanupIntervalMinutes" yaml:"cleanupIntervalMinutes"`
	EnableCompression      bool   `xml:"EnableCompression" yaml:"enableCompression"`
	CompressionLevel       int    `xml:"CompressionLevel" yaml:"compressionLevel"`
	// Timezone is an IANA name used for datetime views; empty means UTC.
	Timezone string `xml:"Timezone" yaml:"timezone"`
}

// SecurityConfig contains security settings
type SecurityConfig struct {
	AllowFileDeletion bool   `xml:"AllowFileDeletion" yaml:"allowFileDeletion"`
	AllowedFileTypes  string `xml:"AllowedFileTypes" yaml:"allowedFileTypes"`
}

// AdvancedConfig contains advanced/tuning options
type AdvancedConfig struct {
	LogLevel                string `xml:"LogLevel" yaml:"logLevel"`
	EnableRequestLogging    bool   `xml:"EnableRequestLogging" yaml:"enableRequestLogging"`
	WebSocketPollIntervalMs int    `xml:"WebSocketPollIntervalMs" yaml:"webSocketPollIntervalMs"`
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
			BodyLimit:    "2G",
		},
		Storage: StorageConfig{
			DataDirectory:       "./data",
			UploadsDirectory:    "./data/uploads",
			ParsedDataDirectory: "./data/parsed",
			EnablePersistence:   true,
		},
		Processing: ProcessingConfig{
			MaxConcurrentDecodes:   2,
			SessionTimeoutMinutes:  30,
			CleanupIntervalMinutes: 5,
			EnableCompression:      true,
			CompressionLevel:       5,
		},
		Security: SecurityConfig{
			AllowFileDeletion: true,
			AllowedFileTypes:  ".vital,.gz",
		},
		Advanced: AdvancedConfig{
			LogLevel:                "info",
			EnableRequestLogging:    true,
			WebSocketPollIntervalMs: 500,
		},
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// LoadConfig loads configuration from an XML or YAML file, creating the
// file with defaults when it does not exist.
func LoadConfig(configPath string) (*AppConfig, error) {
	var config *AppConfig

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		config = DefaultConfig()
		if err := config.Save(configPath); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
	} else {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		config = DefaultConfig()
		if isYAML(configPath) {
			err = yaml.Unmarshal(data, config)
		} else {
			err = xml.Unmarshal(data, config)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.applyEnvironmentOverrides()
	config.resolvePaths(filepath.Dir(configPath))

	if _, err := config.Location(); err != nil {
		return nil, err
	}
	return config, nil
}

// Save saves the configuration to XML or YAML, chosen by extension.
func (c *AppConfig) Save(configPath string) error {
	var content []byte
	if isYAML(configPath) {
		out, err := yaml.Marshal(c)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		content = append([]byte("# Vital Visualizer Configuration\n# This file is auto-generated on first run\n\n"), out...)
	} else {
		out, err := xml.MarshalIndent(c, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		header := []byte(xml.Header + "\n<!-- Vital Visualizer Configuration -->\n<!-- This file is auto-generated on first run -->\n\n")
		content = append(header, out...)
	}

	if err := os.WriteFile(configPath, content, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// applyEnvironmentOverrides allows environment variables to override config values
func (c *AppConfig) applyEnvironmentOverrides() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Server.Port = p
		}
	}

	// DATA_DIR moves every storage directory that was left at its default
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		defaults := DefaultConfig().Storage
		c.Storage.DataDirectory = dataDir
		if c.Storage.UploadsDirectory == defaults.UploadsDirectory {
			c.Storage.UploadsDirectory = filepath.Join(dataDir, "uploads")
		}
		if c.Storage.ParsedDataDirectory == defaults.ParsedDataDirectory {
			c.Storage.ParsedDataDirectory = filepath.Join(dataDir, "parsed")
		}
	}

	if tz := os.Getenv("VITAL_TZ"); tz != "" {
		c.Processing.Timezone = tz
	}
}

// resolvePaths converts relative paths to absolute based on config file location
func (c *AppConfig) resolvePaths(configDir string) {
	for _, p := range []*string{
		&c.Storage.DataDirectory,
		&c.Storage.UploadsDirectory,
		&c.Storage.ParsedDataDirectory,
	} {
		if !filepath.IsAbs(*p) {
			*p = filepath.Join(configDir, *p)
		}
	}
}

// Location resolves Processing.Timezone.
func (c *AppConfig) Location() (*time.Location, error) {
	if c.Processing.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(c.Processing.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", c.Processing.Timezone, err)
	}
	return loc, nil
}

// ParsedDir returns the DuckDB mirror directory, or "" when persistence is off.
func (c *AppConfig) ParsedDir() string {
	if !c.Storage.EnablePersistence {
		return ""
	}
	return c.Storage.ParsedDataDirectory
}

// GetDataDir returns the absolute data directory path
func (c *AppConfig) GetDataDir() string {
	return c.Storage.DataDirectory
}

// GetUploadDir returns the absolute uploads directory path
func (c *AppConfig) GetUploadDir() string {
	return c.Storage.UploadsDirectory
}

// GetServerAddr returns the server bind address
func (c *AppConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.BindAddress, c.Server.Port)
}

// AllowedOrigins splits Server.AllowOrigins, defaulting to "*".
func (c *AppConfig) AllowedOrigins() []string {
	var origins []string
	for _, o := range strings.Split(c.Server.AllowOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return origins
}

// AllowedFileTypes returns the configured upload name suffixes. An empty
// setting accepts any file.
func (c *AppConfig) AllowedFileTypes() []string {
	var types []string
	for _, t := range strings.Split(c.Security.AllowedFileTypes, ",") {
		if t = strings.TrimSpace(t); t != "" {
			types = append(types, t)
		}
	}
	return types
}

// EnsureDirectories creates all necessary directories
func (c *AppConfig) EnsureDirectories() error {
	dirs := []string{
		c.Storage.DataDirectory,
		c.Storage.UploadsDirectory,
		c.Storage.ParsedDataDirectory,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}
