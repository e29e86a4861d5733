//go:build !linux

package fileserver

import (
	"os"

	"github.com/marmos91/dnfs/pkg/nfs3"
)

func sysAttributes(os.FileInfo, *nfs3.FileAttributes) {}
