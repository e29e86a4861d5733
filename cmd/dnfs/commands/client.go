package commands

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/marmos91/dnfs/internal/cli/output"
	"github.com/marmos91/dnfs/internal/logger"
	"github.com/marmos91/dnfs/pkg/client"
	"github.com/marmos91/dnfs/pkg/config"
	"github.com/spf13/cobra"
)

// clientFlags override the client section of the configuration.
var clientFlags struct {
	host        string
	nfsPort     int
	portmapPort int
	uid         uint32
	gid         uint32
	output      string
}

func clientCommands() []*cobra.Command {
	cmds := []*cobra.Command{exportsCmd, lsCmd, statCmd, dfCmd, catCmd, putCmd, mkdirCmd, rmCmd}
	for _, cmd := range cmds {
		f := cmd.Flags()
		f.StringVarP(&clientFlags.host, "host", "H", "", "Server host (overrides client.host)")
		f.IntVar(&clientFlags.nfsPort, "nfs-port", 0, "Fixed MOUNT and NFS port, skipping the portmapper")
		f.IntVar(&clientFlags.portmapPort, "portmap-port", 0, "Portmapper port (overrides client.portmap_port)")
		f.Uint32Var(&clientFlags.uid, "uid", 0, "AUTH_UNIX user id (overrides client.uid)")
		f.Uint32Var(&clientFlags.gid, "gid", 0, "AUTH_UNIX group id (overrides client.gid)")
	}
	for _, cmd := range []*cobra.Command{exportsCmd, lsCmd, statCmd, dfCmd} {
		cmd.Flags().StringVarP(&clientFlags.output, "output", "o", "table", "Output format (table|json|yaml)")
	}
	return cmds
}

// loadClientConfig loads the configuration and applies the client flags
// that were set on cmd.
func loadClientConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Client.Host = clientFlags.host
	}
	if flags.Changed("nfs-port") {
		cfg.Client.MountPort = clientFlags.nfsPort
		cfg.Client.NFSPort = clientFlags.nfsPort
	}
	if flags.Changed("portmap-port") {
		cfg.Client.PortmapPort = clientFlags.portmapPort
	}
	if flags.Changed("uid") {
		cfg.Client.UID = clientFlags.uid
	}
	if flags.Changed("gid") {
		cfg.Client.GID = clientFlags.gid
	}

	// Command output owns stdout
	if cfg.Logging.Output == "stdout" {
		cfg.Logging.Output = "stderr"
	}
	if err := initLogger(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// remotePath makes p absolute, relative paths being taken from the
// configured export.
func remotePath(cfg *config.Config, p string) string {
	if !strings.HasPrefix(p, "/") {
		p = path.Join(cfg.Client.Export, p)
	}
	return path.Clean(p)
}

// dial mounts p and returns a session rooted at it.
func dial(ctx context.Context, cfg *config.Config, p string) (*client.Session, error) {
	session, err := client.Dial(ctx, config.ClientSessionConfig(&cfg.Client, p))
	if err != nil {
		return nil, fmt.Errorf("mount %s:%s: %w", cfg.Client.Host, p, err)
	}
	return session, nil
}

func closeSession(ctx context.Context, session *client.Session) {
	if err := session.Close(ctx); err != nil {
		logger.Warn("Failed to close session: %v", err)
	}
}

func outputFormat() (output.Format, error) {
	return output.ParseFormat(clientFlags.output)
}
