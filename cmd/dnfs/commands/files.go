package commands

import (
	"fmt"
	"io"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/marmos91/dnfs/internal/cli/output"
	"github.com/marmos91/dnfs/pkg/mount"
	"github.com/marmos91/dnfs/pkg/nfs3"
	"github.com/marmos91/dnfs/pkg/portmap"
	"github.com/marmos91/dnfs/pkg/rpc"
	"github.com/spf13/cobra"
)

// ============================================================================
// Views
// ============================================================================

// entryView is one file as printed by ls and stat.
type entryView struct {
	Name     string    `json:"name" yaml:"name"`
	Type     string    `json:"type" yaml:"type"`
	Mode     string    `json:"mode" yaml:"mode"`
	UID      uint32    `json:"uid" yaml:"uid"`
	GID      uint32    `json:"gid" yaml:"gid"`
	Size     uint64    `json:"size" yaml:"size"`
	FileID   uint64    `json:"fileid" yaml:"fileid"`
	Modified time.Time `json:"modified" yaml:"modified"`
}

func newEntryView(name string, attr *nfs3.FileAttributes) entryView {
	view := entryView{Name: name, Type: "unknown"}
	if attr == nil {
		return view
	}
	view.Type = typeName(attr.Type)
	view.Mode = attr.FileMode().String()
	view.UID = attr.UID
	view.GID = attr.GID
	view.Size = attr.Size
	view.FileID = attr.FileID
	view.Modified = attr.Mtime.Time().UTC()
	return view
}

func typeName(t nfs3.FileType) string {
	return strings.ToLower(strings.TrimPrefix(t.String(), "NF3"))
}

type listing []entryView

func (l listing) Headers() []string {
	return []string{"Mode", "UID", "GID", "Size", "Modified", "Name"}
}

func (l listing) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, e := range l {
		rows = append(rows, []string{
			e.Mode,
			strconv.FormatUint(uint64(e.UID), 10),
			strconv.FormatUint(uint64(e.GID), 10),
			humanize.IBytes(e.Size),
			e.Modified.Format(time.DateTime),
			e.Name,
		})
	}
	return rows
}

type exportList []mount.Export

func (l exportList) Headers() []string { return []string{"Export", "Groups"} }

func (l exportList) Rows() [][]string {
	rows := make([][]string, 0, len(l))
	for _, e := range l {
		groups := strings.Join(e.Groups, ",")
		if groups == "" {
			groups = "*"
		}
		rows = append(rows, []string{e.Dir, groups})
	}
	return rows
}

type usageView struct {
	TotalBytes uint64 `json:"total_bytes" yaml:"total_bytes"`
	FreeBytes  uint64 `json:"free_bytes" yaml:"free_bytes"`
	AvailBytes uint64 `json:"avail_bytes" yaml:"avail_bytes"`
	TotalFiles uint64 `json:"total_files" yaml:"total_files"`
	FreeFiles  uint64 `json:"free_files" yaml:"free_files"`
}

func (u usageView) Headers() []string {
	return []string{"Size", "Used", "Avail", "Use%", "Files", "Free files"}
}

func (u usageView) Rows() [][]string {
	used := u.TotalBytes - min(u.FreeBytes, u.TotalBytes)
	pct := "-"
	if u.TotalBytes > 0 {
		pct = fmt.Sprintf("%.0f%%", 100*float64(used)/float64(u.TotalBytes))
	}
	return [][]string{{
		humanize.IBytes(u.TotalBytes),
		humanize.IBytes(used),
		humanize.IBytes(u.AvailBytes),
		pct,
		humanize.Comma(int64(u.TotalFiles)),
		humanize.Comma(int64(u.FreeFiles)),
	}}
}

// ============================================================================
// Commands
// ============================================================================

var exportsCmd = &cobra.Command{
	Use:   "exports",
	Short: "List the exports of a server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadClientConfig(cmd)
		if err != nil {
			return err
		}
		format, err := outputFormat()
		if err != nil {
			return err
		}

		transport := rpc.TransportConfig{RetryLimit: cfg.Client.RetryLimit, RetryInterval: cfg.Client.RetryInterval}
		var resolver rpc.PortResolver = rpc.StaticPorts{rpc.ProgramMount: cfg.Client.MountPort}
		if cfg.Client.MountPort == 0 {
			pm := portmap.Connect(cfg.Client.Host, cfg.Client.PortmapPort, rpc.ClientConfig{Transport: transport})
			defer pm.Close()
			resolver = pm
		}

		rpcClient := rpc.NewClient(cfg.Client.Host, rpc.ClientConfig{Resolver: resolver, Transport: transport})
		defer rpcClient.Close()

		exports, err := mount.NewClient(rpcClient.Program(rpc.ProgramMount, rpc.MountVersion)).Exports(cmd.Context())
		if err != nil {
			return err
		}
		return output.Print(cmd.OutOrStdout(), format, exportList(exports))
	},
}

var lsCmd = &cobra.Command{
	Use:   "ls [path]",
	Short: "List a remote directory",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadClientConfig(cmd)
		if err != nil {
			return err
		}
		format, err := outputFormat()
		if err != nil {
			return err
		}

		target := cfg.Client.Export
		if len(args) == 1 {
			target = remotePath(cfg, args[0])
		}

		ctx := cmd.Context()
		session, err := dial(ctx, cfg, target)
		if err != nil {
			return err
		}
		defer closeSession(ctx, session)

		entries, err := session.ListDirectory(ctx, session.Root(), false)
		if err != nil {
			return err
		}
		out := make(listing, 0, len(entries))
		for _, entry := range entries {
			out = append(out, newEntryView(entry.Name, entry.Attributes))
		}
		return output.Print(cmd.OutOrStdout(), format, out)
	},
}

var statCmd = &cobra.Command{
	Use:   "stat <path>",
	Short: "Show the attributes of a remote file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadClientConfig(cmd)
		if err != nil {
			return err
		}
		format, err := outputFormat()
		if err != nil {
			return err
		}

		target := remotePath(cfg, args[0])
		ctx := cmd.Context()
		session, err := dial(ctx, cfg, target)
		if err != nil {
			return err
		}
		defer closeSession(ctx, session)

		attr, err := session.GetAttributes(ctx, session.Root())
		if err != nil {
			return err
		}
		view := newEntryView(target, attr)
		if format != output.FormatTable {
			return output.Print(cmd.OutOrStdout(), format, view)
		}
		output.KeyValues(cmd.OutOrStdout(), [][2]string{
			{"Path", view.Name},
			{"Type", view.Type},
			{"Mode", view.Mode},
			{"Owner", fmt.Sprintf("%d:%d", view.UID, view.GID)},
			{"Size", fmt.Sprintf("%d (%s)", view.Size, humanize.IBytes(view.Size))},
			{"File ID", strconv.FormatUint(view.FileID, 10)},
			{"Modified", view.Modified.Format(time.RFC3339Nano)},
			{"Handle", session.Root().String()},
		})
		return nil
	},
}

var dfCmd = &cobra.Command{
	Use:   "df [path]",
	Short: "Show the capacity of a remote filesystem",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadClientConfig(cmd)
		if err != nil {
			return err
		}
		format, err := outputFormat()
		if err != nil {
			return err
		}

		target := cfg.Client.Export
		if len(args) == 1 {
			target = remotePath(cfg, args[0])
		}

		ctx := cmd.Context()
		session, err := dial(ctx, cfg, target)
		if err != nil {
			return err
		}
		defer closeSession(ctx, session)

		stat, err := session.FsStat(ctx, session.Root())
		if err != nil {
			return err
		}
		return output.Print(cmd.OutOrStdout(), format, usageView{
			TotalBytes: stat.TotalBytes,
			FreeBytes:  stat.FreeBytes,
			AvailBytes: stat.AvailBytes,
			TotalFiles: stat.TotalFiles,
			FreeFiles:  stat.FreeFiles,
		})
	},
}

var catCmd = &cobra.Command{
	Use:   "cat <path>",
	Short: "Print a remote file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadClientConfig(cmd)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		session, err := dial(ctx, cfg, remotePath(cfg, args[0]))
		if err != nil {
			return err
		}
		defer closeSession(ctx, session)

		f, err := session.OpenFile(ctx, session.Root())
		if err != nil {
			return err
		}
		_, err = io.Copy(cmd.OutOrStdout(), f)
		return err
	},
}

var putMode uint32

var putCmd = &cobra.Command{
	Use:   "put <local> <remote>",
	Short: "Copy a local file to the server",
	Long: `Copy a local file to the server, replacing the remote file if it exists.
Use "-" as <local> to read standard input.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadClientConfig(cmd)
		if err != nil {
			return err
		}

		var src io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			local, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer local.Close()
			src = local
		}

		target := remotePath(cfg, args[1])
		dir, name := path.Dir(target), path.Base(target)

		ctx := cmd.Context()
		session, err := dial(ctx, cfg, dir)
		if err != nil {
			return err
		}
		defer closeSession(ctx, session)

		mode, size := putMode, uint64(0)
		h, err := session.Create(ctx, session.Root(), name, false, nfs3.SetAttributes{Mode: &mode, Size: &size})
		if err != nil {
			return err
		}
		f, err := session.OpenFile(ctx, h)
		if err != nil {
			return err
		}

		n, err := io.Copy(f, src)
		if err != nil {
			return err
		}
		if err := f.Sync(); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s to %s\n", humanize.IBytes(uint64(n)), target)
		return nil
	},
}

var mkdirCmd = &cobra.Command{
	Use:   "mkdir <path>",
	Short: "Create a remote directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadClientConfig(cmd)
		if err != nil {
			return err
		}

		target := remotePath(cfg, args[0])
		dir, name := path.Dir(target), path.Base(target)
		ctx := cmd.Context()
		session, err := dial(ctx, cfg, dir)
		if err != nil {
			return err
		}
		defer closeSession(ctx, session)

		mode := uint32(0o755)
		_, err = session.MakeDirectory(ctx, session.Root(), name, nfs3.SetAttributes{Mode: &mode})
		return err
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <path>",
	Short: "Remove a remote file or empty directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadClientConfig(cmd)
		if err != nil {
			return err
		}

		target := remotePath(cfg, args[0])
		dir, name := path.Dir(target), path.Base(target)
		ctx := cmd.Context()
		session, err := dial(ctx, cfg, dir)
		if err != nil {
			return err
		}
		defer closeSession(ctx, session)

		h, err := session.Lookup(ctx, session.Root(), name)
		if err != nil {
			return err
		}
		if h == nil {
			return fmt.Errorf("%s: no such file or directory", target)
		}
		attr, err := session.GetAttributes(ctx, h)
		if err != nil {
			return err
		}
		if attr.IsDir() {
			return session.RemoveDirectory(ctx, session.Root(), name)
		}
		return session.Remove(ctx, session.Root(), name)
	},
}

func init() {
	putCmd.Flags().Uint32Var(&putMode, "mode", 0o644, "Permission bits of the remote file")
}
