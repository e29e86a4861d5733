package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/retry"
	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/marmos91/dnfs/internal/logger"
	"github.com/marmos91/dnfs/pkg/client"
	"github.com/marmos91/dnfs/pkg/fileserver"
	"github.com/marmos91/dnfs/pkg/fileserver/handles"
	"github.com/marmos91/dnfs/pkg/fileserver/s3fs"
	"github.com/marmos91/dnfs/pkg/metrics"
	"github.com/marmos91/dnfs/pkg/rpc"
	"github.com/marmos91/dnfs/pkg/server"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
)

// CreateFilesystem creates the backing filesystem based on configuration.
//
// This factory function uses the Type field to determine which filesystem to
// create, then decodes the type-specific configuration from the corresponding
// map.
//
// Supported types:
//   - "os": a directory of the local filesystem
//   - "memory": an in-memory filesystem, lost on exit
//   - "s3": an S3 bucket or S3-compatible object store
func CreateFilesystem(ctx context.Context, cfg *BackendConfig) (afero.Fs, error) {
	switch cfg.Type {
	case "os":
		return createOSFilesystem(cfg.OS)
	case "memory":
		return afero.NewMemMapFs(), nil
	case "s3":
		return createS3Filesystem(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unknown backend type: %q", cfg.Type)
	}
}

// createOSFilesystem confines an OS filesystem to the configured directory,
// creating it when missing.
func createOSFilesystem(options map[string]any) (afero.Fs, error) {
	type OSBackendConfig struct {
		Path string `mapstructure:"path"`
	}

	var backendCfg OSBackendConfig
	if err := mapstructure.Decode(options, &backendCfg); err != nil {
		return nil, fmt.Errorf("failed to decode os backend config: %w", err)
	}

	if backendCfg.Path == "" {
		return nil, fmt.Errorf("os backend: path is required")
	}

	if err := os.MkdirAll(backendCfg.Path, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create os backend directory: %w", err)
	}

	logger.Info("OS backend initialized: path=%s", backendCfg.Path)
	return afero.NewBasePathFs(afero.NewOsFs(), backendCfg.Path), nil
}

// s3BackendConfig represents the backend.s3 section.
type s3BackendConfig struct {
	Bucket          string        `mapstructure:"bucket"`
	Region          string        `mapstructure:"region"`
	KeyPrefix       string        `mapstructure:"key_prefix"`
	Endpoint        string        `mapstructure:"endpoint"`
	AccessKeyID     string        `mapstructure:"access_key_id"`
	SecretAccessKey string        `mapstructure:"secret_access_key"`
	ForcePathStyle  bool          `mapstructure:"force_path_style"`
	MaxRetries      int           `mapstructure:"max_retries"`
	Timeout         time.Duration `mapstructure:"timeout"`
}

// createS3Filesystem serves a bucket through s3fs.
func createS3Filesystem(ctx context.Context, options map[string]any) (afero.Fs, error) {
	var backendCfg s3BackendConfig
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           &backendCfg,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(options); err != nil {
		return nil, fmt.Errorf("failed to decode s3 backend config: %w", err)
	}

	if backendCfg.Bucket == "" {
		return nil, fmt.Errorf("s3 backend: bucket is required")
	}
	if backendCfg.Region == "" {
		return nil, fmt.Errorf("s3 backend: region is required")
	}

	client, err := newS3Client(ctx, &backendCfg)
	if err != nil {
		return nil, err
	}

	fsys, err := s3fs.New(ctx, s3fs.Config{
		Client:    client,
		Bucket:    backendCfg.Bucket,
		KeyPrefix: backendCfg.KeyPrefix,
		Timeout:   backendCfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create s3 backend: %w", err)
	}

	logger.Info("S3 backend initialized: bucket=%s, region=%s, prefix=%s",
		backendCfg.Bucket, backendCfg.Region, backendCfg.KeyPrefix)
	return fsys, nil
}

// newS3Client builds an S3 client from the backend section. Without static
// credentials the default AWS credential chain is used.
func newS3Client(ctx context.Context, cfg *s3BackendConfig) (*s3.Client, error) {
	configOptions := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(cfg.Region),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOptions = append(configOptions, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 10
	}
	configOptions = append(configOptions, awsConfig.WithRetryer(func() aws.Retryer {
		return retry.NewStandard(func(o *retry.StandardOptions) {
			o.MaxAttempts = maxRetries
		})
	}))

	awsCfg, err := awsConfig.LoadDefaultConfig(ctx, configOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		// MinIO, Localstack and most S3-compatible stores need path-style
		// addressing behind a custom endpoint.
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	}), nil
}

// CreateExports carves one filesystem per export out of fsys. Export roots
// that do not exist yet are created.
func CreateExports(fsys afero.Fs, exports []ExportConfig) ([]fileserver.Export, error) {
	out := make([]fileserver.Export, 0, len(exports))
	for _, exportCfg := range exports {
		if err := fsys.MkdirAll(exportCfg.Root, 0o755); err != nil {
			return nil, fmt.Errorf("export %q: failed to create root %q: %w", exportCfg.Path, exportCfg.Root, err)
		}

		exportFs := fsys
		if exportCfg.Root != "/" {
			exportFs = afero.NewBasePathFs(fsys, exportCfg.Root)
		}

		out = append(out, fileserver.Export{
			Path:           exportCfg.Path,
			Fs:             exportFs,
			ReadOnly:       exportCfg.ReadOnly,
			AllowedClients: exportCfg.AllowedClients,
		})
		logger.Info("Export: %s -> %s (read-only: %v, allowed clients: %v)",
			exportCfg.Path, exportCfg.Root, exportCfg.ReadOnly, exportCfg.AllowedClients)
	}
	return out, nil
}

// CreateHandleTable creates the file handle table based on configuration.
//
// Supported types:
//   - "memory": handles are lost on restart
//   - "badger": handles persist in a BadgerDB directory
func CreateHandleTable(ctx context.Context, cfg *HandlesConfig) (handles.Table, error) {
	switch cfg.Type {
	case "memory":
		return handles.NewMemoryTable(), nil
	case "badger":
		return createBadgerHandleTable(ctx, cfg.Badger)
	default:
		return nil, fmt.Errorf("unknown handle table type: %q", cfg.Type)
	}
}

func createBadgerHandleTable(ctx context.Context, options map[string]any) (handles.Table, error) {
	var tableCfg handles.BadgerConfig
	if err := mapstructure.Decode(options, &tableCfg); err != nil {
		return nil, fmt.Errorf("failed to decode badger handle table config: %w", err)
	}

	if tableCfg.Dir != "" {
		if err := os.MkdirAll(tableCfg.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create badger directory: %w", err)
		}
	}

	table, err := handles.OpenBadger(ctx, tableCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger handle table: %w", err)
	}

	logger.Info("Badger handle table initialized: dir=%s", tableCfg.Dir)
	return table, nil
}

// FileServerOptions converts the FSINFO section into fileserver options.
func FileServerOptions(cfg *FSInfoConfig) fileserver.Options {
	info := fileserver.DefaultFSInfo()
	info.RtMax = cfg.ReadMax
	info.RtPref = cfg.ReadPref
	info.WtMax = cfg.WriteMax
	info.WtPref = cfg.WritePref
	info.DtPref = cfg.ReadDirPref
	info.MaxFileSize = cfg.MaxFileSize
	info.RtMult = min(info.RtMult, info.RtPref)
	info.WtMult = min(info.WtMult, info.WtPref)

	return fileserver.Options{
		FSInfo:   info,
		Capacity: cfg.CapacityBytes,
		MaxFiles: cfg.MaxFiles,
	}
}

// CreateFileServer builds the NFS backend: filesystem, exports and handle
// table.
func CreateFileServer(ctx context.Context, cfg *Config) (*fileserver.Server, error) {
	fsys, err := CreateFilesystem(ctx, &cfg.Backend)
	if err != nil {
		return nil, err
	}

	exports, err := CreateExports(fsys, cfg.Exports)
	if err != nil {
		return nil, err
	}

	table, err := CreateHandleTable(ctx, &cfg.Handles)
	if err != nil {
		return nil, err
	}

	fileServer, err := fileserver.New(exports, table, FileServerOptions(&cfg.FSInfo))
	if err != nil {
		return nil, errors.Join(err, table.Close())
	}
	return fileServer, nil
}

// Runtime converts the server section into a server.Config.
func (c *ServerConfig) Runtime() server.Config {
	return server.Config{
		ListenAddress: c.ListenAddress,
		NFSPort:       c.NFSPort,
		MountPort:     c.MountPort,
		EnablePortmap: c.Portmap.Enabled,
		PortmapPort:   c.Portmap.Port,
		RPC: rpc.ServerConfig{
			MaxConnections:  c.MaxConnections,
			ReadTimeout:     c.ReadTimeout,
			WriteTimeout:    c.WriteTimeout,
			IdleTimeout:     c.IdleTimeout,
			ShutdownTimeout: c.ShutdownTimeout,
			MaxRecordSize:   c.MaxRecordSize,

			RequestsPerSecond: c.RequestsPerSecond,
			RequestBurst:      c.RequestBurst,
		},
	}
}

// CreateServer assembles the file server and the RPC server around it. The
// caller closes the returned file server after the RPC server stopped.
func CreateServer(ctx context.Context, cfg *Config, m *MetricsResult) (*server.Server, *fileserver.Server, error) {
	fileServer, err := CreateFileServer(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	if m == nil {
		m = &MetricsResult{RPCMetrics: metrics.NewRPCServerMetrics()}
	}
	srv := server.New(cfg.Server.Runtime(), fileServer, m.RPCMetrics, m.Server)
	return srv, fileServer, nil
}

// ClientSessionConfig converts the client section into a client.Config for
// the given export path. An empty path selects the configured export.
func ClientSessionConfig(cfg *ClientConfig, path string) client.Config {
	if path == "" {
		path = cfg.Export
	}
	return client.Config{
		Host: cfg.Host,
		Path: path,
		Auth: &rpc.UnixAuth{
			MachineName: cfg.MachineName,
			UID:         cfg.UID,
			GID:         cfg.GID,
			GIDs:        cfg.GIDs,
		},
		PortmapPort: cfg.PortmapPort,
		MountPort:   cfg.MountPort,
		NFSPort:     cfg.NFSPort,
		Transport: rpc.TransportConfig{
			RetryLimit:    cfg.RetryLimit,
			RetryInterval: cfg.RetryInterval,
		},
	}
}
