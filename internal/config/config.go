// Package config provides unified configuration for all fluxbridge services.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Mode represents the service mode to run.
type Mode string

const (
	// ModeAll runs the gate and the engine in one process.
	ModeAll Mode = "all"
	// ModeGate runs only the action gate (gRPC + HTTP front doors).
	ModeGate Mode = "gate"
	// ModeEngine runs only the optimization engine.
	ModeEngine Mode = "engine"
)

// Config holds the unified configuration for all fluxbridge services.
type Config struct {
	// Mode specifies which services to run: all, gate, engine
	Mode Mode `json:"mode" yaml:"mode"`

	// DataDir is the base directory for all data files
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// HTTP configuration
	HTTP HTTPConfig `json:"http" yaml:"http"`

	// gRPC configuration
	GRPC GRPCConfig `json:"grpc" yaml:"grpc"`

	// Engine configuration
	Engine EngineConfig `json:"engine" yaml:"engine"`

	// Auth configuration
	Auth AuthConfig `json:"auth" yaml:"auth"`

	// Persist configuration
	Persist PersistConfig `json:"persist" yaml:"persist"`

	// Storage configuration for snapshot export
	Storage StorageConfig `json:"storage" yaml:"storage"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	// Addr is the HTTP address of the gate front door
	Addr string `json:"addr" yaml:"addr"`

	// Enabled controls whether the HTTP front door is served
	Enabled bool `json:"enabled" yaml:"enabled"`

	// ReadTimeout is the HTTP read timeout
	ReadTimeout time.Duration `json:"read_timeout" yaml:"read_timeout"`

	// WriteTimeout is the HTTP write timeout
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`

	// IdleTimeout is the HTTP idle timeout
	IdleTimeout time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
}

// GRPCConfig holds gRPC server configuration.
type GRPCConfig struct {
	// Addr is the gRPC server address
	Addr string `json:"addr" yaml:"addr"`

	// Enabled controls whether gRPC is enabled
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// EngineConfig holds the optimization engine configuration.
type EngineConfig struct {
	// Addr is the engine's TCP listen address
	Addr string `json:"addr" yaml:"addr"`

	// BridgeAddr is the engine address the gate's bridge client dials.
	// Defaults to Addr, which is correct for mode "all".
	BridgeAddr string `json:"bridge_addr" yaml:"bridge_addr"`
}

// AuthConfig holds authentication configuration.
type AuthConfig struct {
	// UserDBPath is the path to the SQLite user database
	UserDBPath string `json:"user_db_path" yaml:"user_db_path"`
}

// PersistConfig holds snapshot persistence configuration.
type PersistConfig struct {
	// DBPath is the path to the SQLite snapshot database
	DBPath string `json:"db_path" yaml:"db_path"`

	// ExportEnabled controls the best-effort snapshot export to object storage
	ExportEnabled bool `json:"export_enabled" yaml:"export_enabled"`
}

// StorageConfig holds object storage configuration.
type StorageConfig struct {
	// Type is the storage type: local, s3
	Type string `json:"type" yaml:"type"`

	// Path is the local storage path (for local type)
	Path string `json:"path" yaml:"path"`

	// S3 configuration (for s3 type)
	S3 S3Config `json:"s3" yaml:"s3"`
}

// S3Config holds S3 storage configuration.
type S3Config struct {
	// Bucket is the S3 bucket name
	Bucket string `json:"bucket" yaml:"bucket"`

	// Region is the AWS region
	Region string `json:"region" yaml:"region"`

	// Endpoint is the S3 endpoint (for S3-compatible storage)
	Endpoint string `json:"endpoint" yaml:"endpoint"`
}

// DefaultConfig returns the default configuration for local development.
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeAll,
		DataDir: "./data/fluxbridge",
		HTTP: HTTPConfig{
			Addr:         ":8080",
			Enabled:      true,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		GRPC: GRPCConfig{
			Addr:    ":9090",
			Enabled: true,
		},
		Engine: EngineConfig{
			Addr: ":7777",
		},
		Persist: PersistConfig{
			ExportEnabled: false,
		},
		Storage: StorageConfig{
			Type: "local",
		},
	}
}

// Resolve resolves relative paths and sets defaults based on DataDir.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/fluxbridge"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, "snapshots")
	}
	if c.Auth.UserDBPath == "" {
		c.Auth.UserDBPath = filepath.Join(c.DataDir, "users.db")
	}
	if c.Persist.DBPath == "" {
		c.Persist.DBPath = filepath.Join(c.DataDir, "persist.db")
	}
	if c.Engine.BridgeAddr == "" {
		c.Engine.BridgeAddr = c.Engine.Addr
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeAll, ModeGate, ModeEngine:
		// Valid modes
	default:
		return fmt.Errorf("invalid mode: %s (must be all, gate, or engine)", c.Mode)
	}

	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}

	if c.ShouldRunEngine() && c.Engine.Addr == "" {
		return fmt.Errorf("engine.addr is required")
	}

	if c.ShouldRunGate() {
		if !c.GRPC.Enabled && !c.HTTP.Enabled {
			return fmt.Errorf("gate mode requires at least one of grpc or http enabled")
		}
		if c.Engine.BridgeAddr == "" && c.Engine.Addr == "" {
			return fmt.Errorf("engine.bridge_addr is required when the engine runs elsewhere")
		}
	}

	if c.Storage.Type != "local" && c.Storage.Type != "s3" {
		return fmt.Errorf("invalid storage type: %s (must be local or s3)", c.Storage.Type)
	}

	if c.Persist.ExportEnabled && c.Storage.Type == "s3" && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("s3.bucket is required when storage type is s3")
	}

	return nil
}

// ShouldRunGate returns true if the action gate should run.
func (c *Config) ShouldRunGate() bool {
	return c.Mode == ModeAll || c.Mode == ModeGate
}

// ShouldRunEngine returns true if the optimization engine should run.
func (c *Config) ShouldRunEngine() bool {
	return c.Mode == ModeAll || c.Mode == ModeEngine
}

// LoadFromFile loads configuration from a YAML or JSON file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables.
// Environment variables use the FLUXBRIDGE_ prefix.
func LoadFromEnv(cfg *Config) {
	if v := os.Getenv("FLUXBRIDGE_MODE"); v != "" {
		cfg.Mode = Mode(v)
	}
	if v := os.Getenv("FLUXBRIDGE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}

	// HTTP configuration
	if v := os.Getenv("FLUXBRIDGE_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("FLUXBRIDGE_HTTP_ENABLED"); v != "" {
		cfg.HTTP.Enabled = v == "true" || v == "1"
	}

	// gRPC configuration
	if v := os.Getenv("FLUXBRIDGE_GRPC_ADDR"); v != "" {
		cfg.GRPC.Addr = v
	}
	if v := os.Getenv("FLUXBRIDGE_GRPC_ENABLED"); v != "" {
		cfg.GRPC.Enabled = v == "true" || v == "1"
	}

	// Engine configuration
	if v := os.Getenv("FLUXBRIDGE_ENGINE_ADDR"); v != "" {
		cfg.Engine.Addr = v
	}
	if v := os.Getenv("FLUXBRIDGE_ENGINE_BRIDGE_ADDR"); v != "" {
		cfg.Engine.BridgeAddr = v
	}

	// Auth configuration
	if v := os.Getenv("FLUXBRIDGE_AUTH_USER_DB"); v != "" {
		cfg.Auth.UserDBPath = v
	}

	// Persist configuration
	if v := os.Getenv("FLUXBRIDGE_PERSIST_DB"); v != "" {
		cfg.Persist.DBPath = v
	}
	if v := os.Getenv("FLUXBRIDGE_PERSIST_EXPORT_ENABLED"); v != "" {
		cfg.Persist.ExportEnabled = v == "true" || v == "1"
	}

	// Storage configuration
	if v := os.Getenv("FLUXBRIDGE_STORAGE_TYPE"); v != "" {
		cfg.Storage.Type = v
	}
	if v := os.Getenv("FLUXBRIDGE_STORAGE_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("FLUXBRIDGE_S3_BUCKET"); v != "" {
		cfg.Storage.S3.Bucket = v
	}
	if v := os.Getenv("FLUXBRIDGE_S3_REGION"); v != "" {
		cfg.Storage.S3.Region = v
	}
	if v := os.Getenv("FLUXBRIDGE_S3_ENDPOINT"); v != "" {
		cfg.Storage.S3.Endpoint = v
	}
}

// EnsureDirectories creates all required directories.
func (c *Config) EnsureDirectories() error {
	dirs := []string{c.DataDir}
	if c.Storage.Type == "local" {
		dirs = append(dirs, c.Storage.Path)
	}

	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
