package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete dnfs configuration.
//
// This structure captures all configurable aspects of the server and the
// command line client:
//   - Logging configuration
//   - Listener and connection settings
//   - Export definitions
//   - Backing filesystem and handle table selection (type-specific)
//   - FSINFO limits and capacity reporting
//   - Metrics endpoint
//   - Client defaults used by the CLI
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (DNFS_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Server contains listener and connection settings
	Server ServerConfig `mapstructure:"server" yaml:"server"`

	// Exports defines the directories offered to clients
	Exports []ExportConfig `mapstructure:"exports" yaml:"exports" validate:"dive"`

	// Backend selects the filesystem the exports are carved from
	Backend BackendConfig `mapstructure:"backend" yaml:"backend"`

	// Handles selects where file handles are kept
	Handles HandlesConfig `mapstructure:"handles" yaml:"handles"`

	// FSInfo sets the transfer limits advertised through FSINFO
	FSInfo FSInfoConfig `mapstructure:"fsinfo" yaml:"fsinfo"`

	// Metrics controls the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics" yaml:"metrics"`

	// Client holds the defaults of the client subcommands
	Client ClientConfig `mapstructure:"client" yaml:"client"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" yaml:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" yaml:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// ServerConfig contains listener and connection settings.
type ServerConfig struct {
	// ListenAddress is the IP every listener binds to. Empty means all.
	ListenAddress string `mapstructure:"listen_address" yaml:"listen_address" validate:"omitempty,ip"`

	// NFSPort is the NFS listener port
	NFSPort int `mapstructure:"nfs_port" yaml:"nfs_port" validate:"min=0,max=65535"`

	// MountPort is the MOUNT listener port. 0 serves MOUNT on NFSPort.
	MountPort int `mapstructure:"mount_port" yaml:"mount_port" validate:"min=0,max=65535"`

	// Portmap controls the embedded portmapper listener
	Portmap PortmapConfig `mapstructure:"portmap" yaml:"portmap"`

	// MaxConnections limits concurrent client connections. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" yaml:"max_connections" validate:"min=0"`

	// MaxRecordSize bounds a reassembled request record in bytes
	MaxRecordSize int `mapstructure:"max_record_size" yaml:"max_record_size" validate:"min=0"`

	// RequestsPerSecond throttles calls across all connections. 0 disables it.
	RequestsPerSecond uint `mapstructure:"requests_per_second" yaml:"requests_per_second"`
	RequestBurst      uint `mapstructure:"request_burst" yaml:"request_burst"`

	ReadTimeout  time.Duration `mapstructure:"read_timeout" yaml:"-" validate:"min=0"`
	WriteTimeout time.Duration `mapstructure:"write_timeout" yaml:"-" validate:"min=0"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout" yaml:"-" validate:"min=0"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"-" validate:"required,gt=0"`
}

// MarshalYAML writes durations in their string form.
func (c ServerConfig) MarshalYAML() (any, error) {
	type fields ServerConfig
	return struct {
		fields          `yaml:",inline"`
		ReadTimeout     string `yaml:"read_timeout"`
		WriteTimeout    string `yaml:"write_timeout"`
		IdleTimeout     string `yaml:"idle_timeout"`
		ShutdownTimeout string `yaml:"shutdown_timeout"`
	}{
		fields:          fields(c),
		ReadTimeout:     c.ReadTimeout.String(),
		WriteTimeout:    c.WriteTimeout.String(),
		IdleTimeout:     c.IdleTimeout.String(),
		ShutdownTimeout: c.ShutdownTimeout.String(),
	}, nil
}

// PortmapConfig controls the embedded portmapper.
type PortmapConfig struct {
	// Enabled starts a portmap listener on Port
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	Port int `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
}

// ExportConfig defines a single export.
type ExportConfig struct {
	// Path is the export path clients mount (e.g., "/export")
	Path string `mapstructure:"path" yaml:"path" validate:"required,startswith=/"`

	// Root is the directory of the backend served under Path
	Root string `mapstructure:"root" yaml:"root" validate:"required,startswith=/"`

	// ReadOnly rejects every modifying procedure
	ReadOnly bool `mapstructure:"read_only" yaml:"read_only"`

	// AllowedClients lists IP addresses, CIDR ranges or host names allowed
	// to mount. Empty list means all clients are allowed.
	AllowedClients []string `mapstructure:"allowed_clients" yaml:"allowed_clients"`
}

// BackendConfig specifies the backing filesystem.
//
// The Type field determines which implementation is used. Only the
// corresponding type-specific configuration section is used.
type BackendConfig struct {
	// Type specifies which filesystem to serve
	// Valid values: os, memory, s3
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=os memory s3"`

	// OS contains local filesystem configuration
	// Only used when Type = "os"
	OS map[string]any `mapstructure:"os" yaml:"os"`

	// Memory contains in-memory filesystem configuration
	// Only used when Type = "memory"
	Memory map[string]any `mapstructure:"memory" yaml:"memory"`

	// S3 contains bucket configuration: bucket, region, key_prefix,
	// endpoint, access_key_id, secret_access_key, force_path_style,
	// max_retries and timeout
	// Only used when Type = "s3"
	S3 map[string]any `mapstructure:"s3" yaml:"s3"`
}

// HandlesConfig specifies the handle table.
type HandlesConfig struct {
	// Type specifies which table implementation to use
	// Valid values: memory, badger
	Type string `mapstructure:"type" yaml:"type" validate:"required,oneof=memory badger"`

	// Badger contains BadgerDB-specific configuration
	// Only used when Type = "badger"
	Badger map[string]any `mapstructure:"badger" yaml:"badger"`
}

// FSInfoConfig sets the limits reported by FSINFO and the capacity reported
// by FSSTAT.
type FSInfoConfig struct {
	ReadMax     uint32 `mapstructure:"read_max" yaml:"read_max" validate:"gt=0"`
	ReadPref    uint32 `mapstructure:"read_pref" yaml:"read_pref" validate:"gt=0,ltefield=ReadMax"`
	WriteMax    uint32 `mapstructure:"write_max" yaml:"write_max" validate:"gt=0"`
	WritePref   uint32 `mapstructure:"write_pref" yaml:"write_pref" validate:"gt=0,ltefield=WriteMax"`
	ReadDirPref uint32 `mapstructure:"readdir_pref" yaml:"readdir_pref" validate:"gt=0"`
	MaxFileSize uint64 `mapstructure:"max_file_size" yaml:"max_file_size" validate:"gt=0"`

	// CapacityBytes is the total size reported by FSSTAT
	CapacityBytes uint64 `mapstructure:"capacity_bytes" yaml:"capacity_bytes"`

	// MaxFiles is the total file slots reported by FSSTAT
	MaxFiles uint64 `mapstructure:"max_files" yaml:"max_files"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Port of the /metrics HTTP endpoint
	Port int `mapstructure:"port" yaml:"port" validate:"min=0,max=65535"`
}

// ClientConfig holds the defaults of the client subcommands.
type ClientConfig struct {
	// Host is the server to contact
	Host string `mapstructure:"host" yaml:"host" validate:"required"`

	// Export is the path mounted when a command does not name one
	Export string `mapstructure:"export" yaml:"export" validate:"required,startswith=/"`

	// PortmapPort is where the server's portmapper listens
	PortmapPort int `mapstructure:"portmap_port" yaml:"portmap_port" validate:"min=0,max=65535"`

	// MountPort and NFSPort skip portmap discovery when non-zero
	MountPort int `mapstructure:"mount_port" yaml:"mount_port" validate:"min=0,max=65535"`
	NFSPort   int `mapstructure:"nfs_port" yaml:"nfs_port" validate:"min=0,max=65535"`

	// Credential sent as AUTH_UNIX
	UID         uint32   `mapstructure:"uid" yaml:"uid"`
	GID         uint32   `mapstructure:"gid" yaml:"gid"`
	GIDs        []uint32 `mapstructure:"gids" yaml:"gids" validate:"max=16"`
	MachineName string   `mapstructure:"machine_name" yaml:"machine_name" validate:"max=255"`

	// RetryLimit bounds connection attempts per call
	RetryLimit int `mapstructure:"retry_limit" yaml:"retry_limit" validate:"min=0"`

	// RetryInterval is the wait between failed connection attempts
	RetryInterval time.Duration `mapstructure:"retry_interval" yaml:"-" validate:"min=0"`
}

// MarshalYAML writes durations in their string form.
func (c ClientConfig) MarshalYAML() (any, error) {
	type fields ClientConfig
	return struct {
		fields        `yaml:",inline"`
		RetryInterval string `yaml:"retry_interval"`
	}{
		fields:        fields(c),
		RetryInterval: c.RetryInterval.String(),
	}, nil
}

// Load loads configuration from file, environment, and defaults.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (DNFS_*)
//  2. Configuration file
//  3. Default values
//
// An empty configPath uses the default location. A missing file is not an
// error.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: DNFS_LOGGING_LEVEL=DEBUG
	v.SetEnvPrefix("DNFS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// $XDG_CONFIG_HOME/dnfs/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "dnfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "dnfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path.
func GetConfigDir() string {
	return getConfigDir()
}
