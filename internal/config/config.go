package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config mirrors the configuration document consumed by the ottershipper server.
type Config struct {
	// Server holds transport and binding settings.
	Server ServerConfig `toml:"server"`
	// Database holds storage settings.
	Database DatabaseConfig `toml:"database"`
}

// ServerConfig holds transport and binding settings for the server.
type ServerConfig struct {
	// Transport is the server transport mode: "http" or "stdio".
	Transport string `toml:"transport"`
	// BindAddress is the address the HTTP transport binds to.
	BindAddress string `toml:"bind_address"`
	// Port is the TCP port the HTTP transport listens on.
	Port int `toml:"port"`
}

// DatabaseConfig holds storage settings for the server.
type DatabaseConfig struct {
	// Path is the filesystem location of the SQLite database file.
	Path string `toml:"path"`
}

const (
	// DefaultTransport is the transport mode written into a fresh configuration.
	DefaultTransport = "http"

	// DefaultBindAddress is the bind address written into a fresh configuration.
	DefaultBindAddress = "0.0.0.0"

	// DefaultPort is the TCP port written into a fresh configuration.
	DefaultPort = 3000

	// DatabaseFilename is the name of the SQLite database file under the data directory.
	DatabaseFilename = "ottershipper.db"

	// DefaultFilePermissions is the file mode for the generated configuration.
	// The file must stay world-readable so diagnostic tooling can inspect it.
	DefaultFilePermissions = 0o644
)

// errConfigIsNotSet is returned when a nil configuration is provided.
var errConfigIsNotSet = errors.New("configuration is not set")

// Default returns the configuration written on first install.
// dataDir is the service data directory holding the database file.
func Default(dataDir string) *Config {
	return &Config{
		Server: ServerConfig{
			Transport:   DefaultTransport,
			BindAddress: DefaultBindAddress,
			Port:        DefaultPort,
		},
		Database: DatabaseConfig{
			Path: filepath.Join(dataDir, DatabaseFilename),
		},
	}
}

// Load reads and parses the configuration at the provided path.
// Missing fields fall back to the shipped defaults so that partial operator
// edits keep the rest of the document meaningful.
func Load(path string) (*Config, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read configuration: %w", err)
	}

	var cfg Config
	if err = toml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("parse configuration: %w", err)
	}

	applyDefaults(&cfg)

	return &cfg, nil
}

// Save writes the configuration to the provided path in TOML format.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	var buffer bytes.Buffer
	if err := toml.NewEncoder(&buffer).Encode(cfg); err != nil {
		return fmt.Errorf("encode configuration: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), buffer.Bytes(), DefaultFilePermissions); err != nil {
		return fmt.Errorf("write configuration: %w", err)
	}

	return nil
}

// WriteDefault creates a default configuration at path unless one already exists.
// An existing file is never touched so operator edits survive upgrades.
// It reports whether a new file was created.
func WriteDefault(path, dataDir string) (bool, error) {
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, fmt.Errorf("stat configuration: %w", err)
	}

	if err := Save(path, Default(dataDir)); err != nil {
		return false, err
	}

	return true, nil
}

// applyDefaults fills zero-valued fields with the shipped defaults.
func applyDefaults(cfg *Config) {
	if cfg.Server.Transport == "" {
		cfg.Server.Transport = DefaultTransport
	}

	if cfg.Server.BindAddress == "" {
		cfg.Server.BindAddress = DefaultBindAddress
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultPort
	}
}
