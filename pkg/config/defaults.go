package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/marmos91/dnfs/pkg/fileserver"
	"github.com/marmos91/dnfs/pkg/rpc"
)

// Default values not derived from other packages.
const (
	DefaultNFSPort       = 2049
	DefaultMetricsPort   = 9090
	DefaultCapacity      = uint64(1) << 40
	DefaultMaxFiles      = uint64(1) << 20
	DefaultExportPath    = "/export"
	DefaultClientRetries = 20
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// This function is called after loading configuration from file and environment
// variables to fill in any missing values with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false, nil) are replaced with defaults
//   - Explicit values are preserved
//   - Backend and handle table options are filled for every type so that a
//     generated sample documents them
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)

	if len(cfg.Exports) == 0 {
		cfg.Exports = []ExportConfig{{Path: DefaultExportPath}}
	}
	applyExportDefaults(cfg.Exports)

	applyBackendDefaults(&cfg.Backend)
	applyHandlesDefaults(&cfg.Handles)
	applyFSInfoDefaults(&cfg.FSInfo)
	applyMetricsDefaults(&cfg.Metrics)
	applyClientDefaults(&cfg.Client)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	// Normalize log level to uppercase for consistent internal representation
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

// applyServerDefaults sets listener and timeout defaults.
//
// MountPort stays 0 (MOUNT shares the NFS listener) and MaxConnections
// stays 0 (unlimited).
func applyServerDefaults(cfg *ServerConfig) {
	if cfg.NFSPort == 0 {
		cfg.NFSPort = DefaultNFSPort
	}
	if cfg.Portmap.Port == 0 {
		cfg.Portmap.Port = rpc.PortmapPort
	}
	if cfg.MaxRecordSize == 0 {
		cfg.MaxRecordSize = rpc.DefaultMaxRecordSize
	}

	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 5 * time.Minute
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = 30 * time.Second
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = 5 * time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
}

func applyExportDefaults(exports []ExportConfig) {
	for i := range exports {
		export := &exports[i]

		if export.Root == "" {
			export.Root = "/"
		}

		// If AllowedClients is nil, initialize to empty (all allowed)
		if export.AllowedClients == nil {
			export.AllowedClients = []string{}
		}
	}
}

// applyBackendDefaults sets backing filesystem defaults.
func applyBackendDefaults(cfg *BackendConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	// Initialize maps if nil
	if cfg.OS == nil {
		cfg.OS = make(map[string]any)
	}
	if cfg.Memory == nil {
		cfg.Memory = make(map[string]any)
	}
	if cfg.S3 == nil {
		cfg.S3 = make(map[string]any)
	}

	if _, ok := cfg.OS["path"]; !ok {
		cfg.OS["path"] = filepath.Join(os.TempDir(), "dnfs")
	}
	if _, ok := cfg.S3["region"]; !ok {
		cfg.S3["region"] = "us-east-1"
	}
}

// applyHandlesDefaults sets handle table defaults.
func applyHandlesDefaults(cfg *HandlesConfig) {
	if cfg.Type == "" {
		cfg.Type = "memory"
	}

	if cfg.Badger == nil {
		cfg.Badger = make(map[string]any)
	}
	if _, ok := cfg.Badger["dir"]; !ok {
		cfg.Badger["dir"] = filepath.Join(getConfigDir(), "handles")
	}
}

// applyFSInfoDefaults fills zero limits from fileserver.DefaultFSInfo.
func applyFSInfoDefaults(cfg *FSInfoConfig) {
	def := fileserver.DefaultFSInfo()

	if cfg.ReadMax == 0 {
		cfg.ReadMax = def.RtMax
	}
	if cfg.ReadPref == 0 {
		cfg.ReadPref = min(def.RtPref, cfg.ReadMax)
	}
	if cfg.WriteMax == 0 {
		cfg.WriteMax = def.WtMax
	}
	if cfg.WritePref == 0 {
		cfg.WritePref = min(def.WtPref, cfg.WriteMax)
	}
	if cfg.ReadDirPref == 0 {
		cfg.ReadDirPref = def.DtPref
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = def.MaxFileSize
	}
	if cfg.CapacityBytes == 0 {
		cfg.CapacityBytes = DefaultCapacity
	}
	if cfg.MaxFiles == 0 {
		cfg.MaxFiles = DefaultMaxFiles
	}
}

// applyMetricsDefaults sets metrics defaults. Metrics stay disabled unless
// enabled explicitly.
func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Port == 0 {
		cfg.Port = DefaultMetricsPort
	}
}

// applyClientDefaults sets the defaults of the client subcommands.
func applyClientDefaults(cfg *ClientConfig) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Export == "" {
		cfg.Export = DefaultExportPath
	}
	if cfg.PortmapPort == 0 {
		cfg.PortmapPort = rpc.PortmapPort
	}
	if cfg.GIDs == nil {
		cfg.GIDs = []uint32{}
	}
	if cfg.MachineName == "" {
		if hostname, err := os.Hostname(); err == nil {
			cfg.MachineName = hostname
		}
	}
	if cfg.RetryLimit == 0 {
		cfg.RetryLimit = DefaultClientRetries
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = time.Second
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Server: ServerConfig{
			Portmap: PortmapConfig{Enabled: true},
		},
		Exports: []ExportConfig{
			{Path: DefaultExportPath, Root: "/"},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
