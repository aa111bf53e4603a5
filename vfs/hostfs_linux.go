//go:build linux

package vfs

import (
	"golang.org/x/sys/unix"
)

func hostLstat(p string) (Stat, error) {
	var st unix.Stat_t
	if err := unix.Lstat(p, &st); err != nil {
		return Stat{}, ErrnoFromHost(err)
	}
	return Stat{
		Dev:     uint64(st.Dev),
		Ino:     uint64(st.Ino),
		Mode:    st.Mode,
		Nlink:   uint32(st.Nlink),
		UID:     st.Uid,
		GID:     st.Gid,
		Rdev:    uint64(st.Rdev),
		Size:    int64(st.Size),
		Blksize: int32(st.Blksize),
		Blocks:  int64(st.Blocks),
		Atime:   timespec(st.Atim.Unix()),
		Mtime:   timespec(st.Mtim.Unix()),
		Ctime:   timespec(st.Ctim.Unix()),
	}, nil
}

// Statfs reports the capacity of the host filesystem behind n.
func (HostFS) Statfs(n *Node) (Statfs, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(realPath(n), &st); err != nil {
		return Statfs{}, ErrnoFromHost(err)
	}
	return Statfs{
		Bsize:   uint32(st.Bsize),
		Frsize:  uint32(st.Frsize),
		Blocks:  uint64(st.Blocks),
		Bfree:   uint64(st.Bfree),
		Bavail:  uint64(st.Bavail),
		Files:   uint64(st.Files),
		Ffree:   uint64(st.Ffree),
		Fsid:    uint32(st.Fsid.Val[0]),
		Flags:   uint32(st.Flags),
		Namelen: uint32(st.Namelen),
	}, nil
}
