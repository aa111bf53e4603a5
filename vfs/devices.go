package vfs

import (
	"crypto/rand"
	"io"
	"strconv"

	wasmbridge "github.com/lovell/sharp-sub001"
)

// Default device numbers.
var (
	DevNull    = Makedev(1, 3)
	DevZero    = Makedev(1, 5)
	DevRandom  = Makedev(1, 8)
	DevURandom = Makedev(1, 9)
	DevTTY     = Makedev(5, 0)
	DevTTY1    = Makedev(6, 0)
)

// chrdevStream is installed on every device node; Open swaps in the ops
// registered for the node's device number.
type chrdevStream struct {
	fs *FS
}

func (c *chrdevStream) Open(s *Stream) error {
	ops, ok := c.fs.devices[s.Node.Rdev]
	if !ok {
		return wasmbridge.ENXIO
	}
	s.Ops = ops
	return ops.Open(s)
}

func (c *chrdevStream) Close(s *Stream) error { return nil }

func (c *chrdevStream) Read(s *Stream, buf []byte, position int64) (int, error) {
	return 0, wasmbridge.ENXIO
}

func (c *chrdevStream) Write(s *Stream, buf []byte, position int64) (int, error) {
	return 0, wasmbridge.ENXIO
}

func (c *chrdevStream) Llseek(s *Stream, offset int64, whence int) (int64, error) {
	return 0, wasmbridge.ESPIPE
}

// nullDevice discards writes and reads as EOF.
type nullDevice struct{}

func (nullDevice) Open(s *Stream) error  { return nil }
func (nullDevice) Close(s *Stream) error { return nil }
func (nullDevice) Read(s *Stream, buf []byte, position int64) (int, error) {
	return 0, nil
}
func (nullDevice) Write(s *Stream, buf []byte, position int64) (int, error) {
	return len(buf), nil
}
func (nullDevice) Llseek(s *Stream, offset int64, whence int) (int64, error) {
	return 0, nil
}

// zeroDevice reads zeros and discards writes.
type zeroDevice struct{ nullDevice }

func (zeroDevice) Read(s *Stream, buf []byte, position int64) (int, error) {
	clear(buf)
	return len(buf), nil
}

// randomDevice fills reads from the host CSPRNG.
type randomDevice struct{ nullDevice }

func (randomDevice) Read(s *Stream, buf []byte, position int64) (int, error) {
	if _, err := rand.Read(buf); err != nil {
		return 0, wasmbridge.EIO
	}
	return len(buf), nil
}

func (randomDevice) Llseek(s *Stream, offset int64, whence int) (int64, error) {
	return 0, wasmbridge.ESPIPE
}

func (fs *FS) newTTY(out io.Writer) *TTY {
	t := NewTTY(fs.opts.Stdin, out)
	t.now = fs.now
	return t
}

func (fs *FS) createDefaultDevices() error {
	if _, err := fs.Mkdir("/dev", 0o777); err != nil {
		return err
	}
	devices := []struct {
		path string
		dev  uint64
		ops  StreamOps
	}{
		{"/dev/null", DevNull, nullDevice{}},
		{"/dev/zero", DevZero, zeroDevice{}},
		{"/dev/random", DevRandom, randomDevice{}},
		{"/dev/urandom", DevURandom, randomDevice{}},
		{"/dev/tty", DevTTY, fs.newTTY(fs.opts.Stdout)},
		{"/dev/tty1", DevTTY1, fs.newTTY(fs.opts.Stderr)},
	}
	for _, d := range devices {
		fs.RegisterDevice(d.dev, d.ops)
		if _, err := fs.Mkdev(d.path, 0o666, d.dev); err != nil {
			return err
		}
	}
	for _, dir := range []string{"/dev/shm", "/dev/shm/tmp"} {
		if _, err := fs.Mkdir(dir, 0o777); err != nil {
			return err
		}
	}
	return nil
}

func (fs *FS) createStandardStreams() error {
	links := []struct{ target, link string }{
		{"/dev/tty", "/dev/stdin"},
		{"/dev/tty", "/dev/stdout"},
		{"/dev/tty1", "/dev/stderr"},
	}
	for _, l := range links {
		if err := fs.Symlink(l.target, l.link); err != nil {
			return err
		}
	}
	if _, err := fs.Open("/dev/stdin", O_RDONLY, 0); err != nil {
		return err
	}
	if _, err := fs.Open("/dev/stdout", O_WRONLY, 0); err != nil {
		return err
	}
	if _, err := fs.Open("/dev/stderr", O_WRONLY, 0); err != nil {
		return err
	}
	return nil
}

// procFDFS serves /proc/self/fd: one symlink per open descriptor, pointing
// at the path it was opened with.
type procFDFS struct{}

func (procFDFS) Name() string { return "procfd" }

func (procFDFS) Mount(fs *FS, m *Mount) (*Node, error) {
	ops := &procFDOps{fs: fs}
	root := fs.CreateNode(nil, "fd", S_IFDIR|0o555, 0)
	root.NodeOps = ops
	root.StreamOps = memfsDirStream{}
	return root, nil
}

type procFDOps struct {
	fs *FS
}

func (p *procFDOps) Getattr(n *Node) (Stat, error) {
	return Stat{Dev: 1, Ino: n.ID, Mode: n.Mode, Nlink: 1, Blksize: 4096,
		Atime: n.Atime, Mtime: n.Mtime, Ctime: n.Ctime}, nil
}

func (p *procFDOps) Setattr(n *Node, attr Attr) error { return wasmbridge.EPERM }

func (p *procFDOps) Lookup(parent *Node, name string) (*Node, error) {
	fd, err := strconv.Atoi(name)
	if err != nil {
		return nil, wasmbridge.ENOENT
	}
	if _, err := p.fs.GetStream(int32(fd)); err != nil {
		return nil, err
	}
	// not entered in the name table: the descriptor may be closed at any time
	n := &Node{ID: uint64(fd) + 1, Name: name, Mode: S_IFLNK | 0o777, Parent: parent,
		Mount: parent.Mount, NodeOps: p, fd: int32(fd)}
	return n, nil
}

func (p *procFDOps) Mknod(parent *Node, name string, mode uint32, dev uint64) (*Node, error) {
	return nil, wasmbridge.EPERM
}

func (p *procFDOps) Rename(old *Node, newDir *Node, newName string) error {
	return wasmbridge.EPERM
}

func (p *procFDOps) Unlink(parent *Node, name string) error { return wasmbridge.EPERM }
func (p *procFDOps) Rmdir(parent *Node, name string) error  { return wasmbridge.EPERM }

func (p *procFDOps) Readdir(n *Node) ([]string, error) {
	var names []string
	p.fs.Streams(func(s *Stream) bool {
		names = append(names, strconv.Itoa(int(s.FD)))
		return true
	})
	return names, nil
}

func (p *procFDOps) Symlink(parent *Node, name, target string) (*Node, error) {
	return nil, wasmbridge.EPERM
}

func (p *procFDOps) Readlink(n *Node) (string, error) {
	s, err := p.fs.GetStream(n.fd)
	if err != nil {
		return "", err
	}
	return s.Path, nil
}

func (fs *FS) createSpecialDirectories() error {
	for _, dir := range []string{"/proc", "/proc/self", "/proc/self/fd"} {
		if _, err := fs.Mkdir(dir, 0o777); err != nil {
			return err
		}
	}
	_, err := fs.Mount(procFDFS{}, MountOptions{}, "/proc/self/fd")
	return err
}

var (
	_ StreamOps  = (*chrdevStream)(nil)
	_ StreamOps  = nullDevice{}
	_ StreamOps  = zeroDevice{}
	_ StreamOps  = randomDevice{}
	_ NodeOps    = (*procFDOps)(nil)
	_ FileSystem = procFDFS{}
	_ FileSystem = MemFS{}
)
