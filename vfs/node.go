package vfs

import (
	"time"
)

// Node is a filesystem entity. Parent is a navigation link only; the
// backend owns the node.
type Node struct {
	ID     uint64
	Name   string
	Mode   uint32
	Rdev   uint64
	Parent *Node
	Mount  *Mount
	// Mounted is set when another filesystem is mounted on this node.
	Mounted *Mount

	UID, GID uint32
	Atime    time.Time
	Mtime    time.Time
	Ctime    time.Time

	NodeOps   NodeOps
	StreamOps StreamOps

	// MEMFS state. contents has spare capacity past usedBytes.
	contents  []byte
	usedBytes int
	link      string
	children  map[string]*Node
	order     []string

	// procfd nodes remember the descriptor they describe.
	fd int32
}

func (n *Node) IsDir() bool    { return isDir(n.Mode) }
func (n *Node) IsFile() bool   { return isFile(n.Mode) }
func (n *Node) IsLink() bool   { return isLink(n.Mode) }
func (n *Node) IsDevice() bool { return isChr(n.Mode) }
func (n *Node) IsRoot() bool   { return n == n.Parent }

// IsMountpoint reports whether a filesystem is mounted on n.
func (n *Node) IsMountpoint() bool { return n.Mounted != nil }

// Stat mirrors struct stat.
type Stat struct {
	Dev     uint64
	Ino     uint64
	Mode    uint32
	Nlink   uint32
	UID     uint32
	GID     uint32
	Rdev    uint64
	Size    int64
	Blksize int32
	Blocks  int64
	Atime   time.Time
	Mtime   time.Time
	Ctime   time.Time
}

// Attr is a setattr request. Nil fields are left unchanged.
type Attr struct {
	Mode  *uint32
	Size  *int64
	UID   *uint32
	GID   *uint32
	Atime *time.Time
	Mtime *time.Time
}

// Statfs mirrors struct statfs.
type Statfs struct {
	Bsize   uint32
	Frsize  uint32
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Fsid    uint32
	Flags   uint32
	Namelen uint32
}

// NodeOps is the per-backend table of namespace operations.
type NodeOps interface {
	Getattr(n *Node) (Stat, error)
	Setattr(n *Node, attr Attr) error
	Lookup(parent *Node, name string) (*Node, error)
	Mknod(parent *Node, name string, mode uint32, dev uint64) (*Node, error)
	Rename(old *Node, newDir *Node, newName string) error
	Unlink(parent *Node, name string) error
	Rmdir(parent *Node, name string) error
	Readdir(n *Node) ([]string, error)
	Symlink(parent *Node, name, target string) (*Node, error)
	Readlink(n *Node) (string, error)
}

// StreamOps is the per-backend (or per-device) table of descriptor
// operations. position is the absolute offset to transfer at.
type StreamOps interface {
	Open(s *Stream) error
	Close(s *Stream) error
	Read(s *Stream, buf []byte, position int64) (int, error)
	Write(s *Stream, buf []byte, position int64) (int, error)
	Llseek(s *Stream, offset int64, whence int) (int64, error)
}

// Allocator is implemented by stream ops that support posix_fallocate.
type Allocator interface {
	Allocate(s *Stream, offset, length int64) error
}

// Mmapper is implemented by stream ops that support mmap. Mmap returns the
// bytes the mapping starts with; Msync writes a mapping back.
type Mmapper interface {
	Mmap(s *Stream, length int, position int64, prot, flags uint32) ([]byte, error)
	Msync(s *Stream, data []byte, offset int64, flags uint32) error
}

// Syncer is implemented by stream ops that buffer output.
type Syncer interface {
	Fsync(s *Stream) error
}

// Terminal is implemented by stream ops that behave like a tty.
type Terminal interface {
	Termios() Termios
	SetTermios(t Termios)
	WindowSize() (rows, cols uint16)
	Pending() int
}

// FileSystem is a mountable backend.
type FileSystem interface {
	Name() string
	Mount(fs *FS, m *Mount) (*Node, error)
}

// Statfser is implemented by filesystems that report capacity.
type Statfser interface {
	Statfs(n *Node) (Statfs, error)
}

// MountOptions configures a mount.
type MountOptions struct {
	// Root is the host directory for HostFS mounts.
	Root     string
	ReadOnly bool
}

// Mount is a mounted filesystem instance.
type Mount struct {
	Type       FileSystem
	Opts       MountOptions
	Mountpoint string
	Root       *Node
	Mounts     []*Mount
}
