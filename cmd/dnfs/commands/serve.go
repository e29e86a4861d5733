package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/marmos91/dnfs/internal/logger"
	"github.com/marmos91/dnfs/pkg/config"
	"github.com/spf13/cobra"
)

var (
	serveListen  string
	serveNFSPort int
	servePortmap bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the NFS server",
	Long: `Run the NFS server in the foreground until interrupted.

Configuration is read from --config or the default location. A missing file
serves an in-memory /export on port 2049.

Examples:
  # Serve with the default configuration
  dnfs serve

  # Serve on an unprivileged port without a portmapper
  dnfs serve --nfs-port 12049 --portmap=false

  # Override configuration through the environment
  DNFS_LOGGING_LEVEL=DEBUG dnfs serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "IP address to listen on (overrides server.listen_address)")
	serveCmd.Flags().IntVar(&serveNFSPort, "nfs-port", 0, "NFS port (overrides server.nfs_port)")
	serveCmd.Flags().BoolVar(&servePortmap, "portmap", false, "Run the embedded portmapper (overrides server.portmap.enabled)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}

	if cmd.Flags().Changed("listen") {
		cfg.Server.ListenAddress = serveListen
	}
	if cmd.Flags().Changed("nfs-port") {
		cfg.Server.NFSPort = serveNFSPort
	}
	if cmd.Flags().Changed("portmap") {
		cfg.Server.Portmap.Enabled = servePortmap
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if err := initLogger(cfg); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger.Info("Configuration loaded from %s", configSource(GetConfigFile()))

	// Metrics come first so the RPC server records into the real registry
	metricsResult := config.InitializeMetrics(cfg)
	if metricsResult.Server != nil {
		logger.Info("Metrics enabled on port %d", cfg.Metrics.Port)
	} else {
		logger.Info("Metrics collection disabled")
	}

	srv, fileServer, err := config.CreateServer(ctx, cfg, metricsResult)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}
	defer func() {
		if err := fileServer.Close(); err != nil {
			logger.Error("Failed to close handle table: %v", err)
		}
	}()

	if err := srv.Listen(); err != nil {
		return err
	}

	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown")
		cancel()
		if err := <-serverDone; err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		logger.Info("Server stopped gracefully")
		return nil

	case err := <-serverDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}
}

func initLogger(cfg *config.Config) error {
	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

// configSource describes where the configuration was loaded from.
func configSource(configFile string) string {
	if configFile != "" {
		return configFile
	}
	if config.ConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
