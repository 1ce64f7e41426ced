// Package config holds the discovery session configuration and its optional
// on-disk persistence.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	// ConfigDirName is the name of the config directory
	ConfigDirName = ".lanbeacon"
	// ConfigFileName is the name of the config file
	ConfigFileName = "config.json"
)

// File is the on-disk configuration. Every field is optional; CLI flags
// override whatever is stored here.
type File struct {
	// Verbose enables debug logging
	Verbose bool `json:"verbose"`
	// SharedKey is the pre-distributed discovery secret
	SharedKey string `json:"shared_key,omitempty"`
	// ServiceName is the advertised service identifier
	ServiceName string `json:"service_name,omitempty"`
	// Port is the UDP discovery port
	Port int `json:"port,omitempty"`
	// AdvertisePort is the hosting application's reachable port
	AdvertisePort int `json:"advertise_port,omitempty"`
	// Mode is the announcement mode: periodic, on-request, or limited
	Mode string `json:"mode,omitempty"`
	// IntervalSeconds is the announcement cadence for periodic and limited
	IntervalSeconds int `json:"interval_seconds,omitempty"`
	// Count is the number of announcements in limited mode
	Count int `json:"count,omitempty"`
}

// Paths holds commonly used paths
type Paths struct {
	// ConfigDir is ~/.lanbeacon
	ConfigDir string
	// ConfigFile is ~/.lanbeacon/config.json
	ConfigFile string
}

// GetPaths returns the standard paths
func GetPaths() (*Paths, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configDir := filepath.Join(homeDir, ConfigDirName)
	return &Paths{
		ConfigDir:  configDir,
		ConfigFile: filepath.Join(configDir, ConfigFileName),
	}, nil
}

// Default returns a new File with default values
func Default() *File {
	return &File{}
}

// Load loads configuration from disk, returning defaults when no config
// file exists yet.
func Load() (*File, error) {
	paths, err := GetPaths()
	if err != nil {
		return nil, err
	}

	if _, err := os.Stat(paths.ConfigFile); os.IsNotExist(err) {
		return Default(), nil
	}

	data, err := os.ReadFile(paths.ConfigFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save saves configuration to disk
func (f *File) Save() error {
	paths, err := GetPaths()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(paths.ConfigDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(paths.ConfigFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Session converts the file configuration into a Session, applying
// protocol defaults for anything left unset.
func (f *File) Session() (Session, error) {
	kind, err := ParseMode(f.Mode)
	if err != nil {
		return Session{}, err
	}

	s := Session{
		SharedKey:     f.SharedKey,
		ServiceName:   f.ServiceName,
		Port:          f.Port,
		AdvertisePort: f.AdvertisePort,
		Mode: Mode{
			Kind:     kind,
			Interval: time.Duration(f.IntervalSeconds) * time.Second,
			Count:    f.Count,
		},
	}
	s.ApplyDefaults()
	return s, nil
}
