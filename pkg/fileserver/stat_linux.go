//go:build linux

package fileserver

import (
	"os"
	"syscall"

	"github.com/marmos91/dnfs/pkg/nfs3"
)

func sysAttributes(info os.FileInfo, a *nfs3.FileAttributes) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	a.UID = st.Uid
	a.GID = st.Gid
	a.Nlink = uint32(st.Nlink)
	a.Used = uint64(st.Blocks) * 512
	a.Rdev = nfs3.SpecData{
		Major: uint32((st.Rdev >> 8) & 0xfff),
		Minor: uint32((st.Rdev & 0xff) | ((st.Rdev >> 12) & 0xfff00)),
	}
	a.Atime = nfs3.Time{Seconds: uint32(st.Atim.Sec), Nseconds: uint32(st.Atim.Nsec)}
	a.Ctime = nfs3.Time{Seconds: uint32(st.Ctim.Sec), Nseconds: uint32(st.Ctim.Nsec)}
}
