//go:build !linux

package vfs

import (
	"io/fs"
	"os"

	wasmbridge "github.com/lovell/sharp-sub001"
)

func hostLstat(p string) (Stat, error) {
	fi, err := os.Lstat(p)
	if err != nil {
		return Stat{}, ErrnoFromHost(err)
	}
	mode := uint32(fi.Mode().Perm())
	switch {
	case fi.IsDir():
		mode |= S_IFDIR
	case fi.Mode()&fs.ModeSymlink != 0:
		mode |= S_IFLNK
	case fi.Mode()&fs.ModeCharDevice != 0:
		mode |= S_IFCHR
	case fi.Mode()&fs.ModeNamedPipe != 0:
		mode |= S_IFIFO
	default:
		mode |= S_IFREG
	}
	return Stat{
		Dev:   1,
		Mode:  mode,
		Nlink: 1,
		Size:  fi.Size(),
		Atime: fi.ModTime(),
		Mtime: fi.ModTime(),
		Ctime: fi.ModTime(),
	}, nil
}

// Statfs is not available on this platform; the FS falls back to defaults.
func (HostFS) Statfs(n *Node) (Statfs, error) {
	return Statfs{}, wasmbridge.ENOSYS
}
