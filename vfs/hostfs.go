package vfs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	wasmbridge "github.com/lovell/sharp-sub001"
)

// HostFS passes every operation through to a host directory.
type HostFS struct{}

func (HostFS) Name() string { return "hostfs" }

func (HostFS) Mount(vfs *FS, m *Mount) (*Node, error) {
	if m.Opts.Root == "" {
		return nil, wasmbridge.EINVAL
	}
	root, err := filepath.Abs(m.Opts.Root)
	if err != nil {
		return nil, wasmbridge.EINVAL
	}
	m.Opts.Root = root
	mode, err := hostMode(root)
	if err != nil {
		return nil, err
	}
	if !isDir(mode) {
		return nil, wasmbridge.ENOTDIR
	}
	ops := &hostfsOps{fs: vfs}
	return ops.createNode(nil, "/", mode, 0)
}

type hostfsOps struct {
	fs *FS
}

func (o *hostfsOps) createNode(parent *Node, name string, mode uint32, dev uint64) (*Node, error) {
	if !isDir(mode) && !isFile(mode) && !isLink(mode) {
		return nil, wasmbridge.EINVAL
	}
	n := o.fs.CreateNode(parent, name, mode, dev)
	n.NodeOps = o
	n.StreamOps = &hostfsStream{ops: o}
	return n, nil
}

// realPath maps a node to its host path by walking up to the mount root.
func realPath(n *Node) string {
	var parts []string
	for n.Parent != n {
		parts = append(parts, n.Name)
		n = n.Parent
	}
	p := n.Mount.Opts.Root
	for i := len(parts) - 1; i >= 0; i-- {
		p = filepath.Join(p, parts[i])
	}
	return p
}

func hostMode(p string) (uint32, error) {
	st, err := hostLstat(p)
	if err != nil {
		return 0, err
	}
	return st.Mode, nil
}

func (o *hostfsOps) Getattr(n *Node) (Stat, error) {
	st, err := hostLstat(realPath(n))
	if err != nil {
		return Stat{}, err
	}
	if st.Blksize == 0 {
		st.Blksize = 4096
	}
	if st.Blocks == 0 {
		st.Blocks = (st.Size + int64(st.Blksize) - 1) / int64(st.Blksize)
	}
	return st, nil
}

func (o *hostfsOps) Setattr(n *Node, attr Attr) error {
	p := realPath(n)
	if attr.Mode != nil {
		if err := os.Chmod(p, fs.FileMode(*attr.Mode&S_IRWXUGO)); err != nil {
			return ErrnoFromHost(err)
		}
		n.Mode = *attr.Mode
	}
	if attr.Atime != nil || attr.Mtime != nil {
		st, err := hostLstat(p)
		if err != nil {
			return err
		}
		atime, mtime := st.Atime, st.Mtime
		if attr.Atime != nil {
			atime = *attr.Atime
		}
		if attr.Mtime != nil {
			mtime = *attr.Mtime
		}
		if err := os.Chtimes(p, atime, mtime); err != nil {
			return ErrnoFromHost(err)
		}
	}
	if attr.Size != nil {
		if err := os.Truncate(p, *attr.Size); err != nil {
			return ErrnoFromHost(err)
		}
	}
	if attr.UID != nil || attr.GID != nil {
		uid, gid := -1, -1
		if attr.UID != nil {
			uid = int(*attr.UID)
		}
		if attr.GID != nil {
			gid = int(*attr.GID)
		}
		if err := os.Lchown(p, uid, gid); err != nil {
			Logger().Debug("host chown refused", zap.String("path", p), zap.Error(err))
		}
	}
	return nil
}

func (o *hostfsOps) Lookup(parent *Node, name string) (*Node, error) {
	mode, err := hostMode(filepath.Join(realPath(parent), name))
	if err != nil {
		return nil, err
	}
	return o.createNode(parent, name, mode, 0)
}

func (o *hostfsOps) Mknod(parent *Node, name string, mode uint32, dev uint64) (*Node, error) {
	p := filepath.Join(realPath(parent), name)
	switch {
	case isDir(mode):
		if err := os.Mkdir(p, fs.FileMode(mode&S_IRWXUGO)); err != nil {
			return nil, ErrnoFromHost(err)
		}
	case isFile(mode):
		f, err := os.OpenFile(p, os.O_CREATE|os.O_EXCL|os.O_WRONLY, fs.FileMode(mode&S_IRWXUGO))
		if err != nil {
			return nil, ErrnoFromHost(err)
		}
		f.Close()
	default:
		return nil, wasmbridge.EINVAL
	}
	return o.createNode(parent, name, mode, dev)
}

func (o *hostfsOps) Rename(old *Node, newDir *Node, newName string) error {
	if err := os.Rename(realPath(old), filepath.Join(realPath(newDir), newName)); err != nil {
		return ErrnoFromHost(err)
	}
	if existing, ok := o.fs.nameTable[nameKey{newDir.ID, newName}]; ok {
		o.fs.hashRemoveNode(existing)
	}
	return nil
}

func (o *hostfsOps) Unlink(parent *Node, name string) error {
	if err := unix.Unlink(filepath.Join(realPath(parent), name)); err != nil {
		return ErrnoFromHost(err)
	}
	return nil
}

func (o *hostfsOps) Rmdir(parent *Node, name string) error {
	if err := unix.Rmdir(filepath.Join(realPath(parent), name)); err != nil {
		return ErrnoFromHost(err)
	}
	return nil
}

func (o *hostfsOps) Readdir(n *Node) ([]string, error) {
	entries, err := os.ReadDir(realPath(n))
	if err != nil {
		return nil, ErrnoFromHost(err)
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	return names, nil
}

func (o *hostfsOps) Symlink(parent *Node, name, target string) (*Node, error) {
	if err := os.Symlink(target, filepath.Join(realPath(parent), name)); err != nil {
		return nil, ErrnoFromHost(err)
	}
	return o.createNode(parent, name, S_IFLNK|0o777, 0)
}

func (o *hostfsOps) Readlink(n *Node) (string, error) {
	target, err := os.Readlink(realPath(n))
	if err != nil {
		return "", ErrnoFromHost(err)
	}
	return target, nil
}

type hostfsStream struct {
	ops *hostfsOps
}

// hostOpenFlags translates sandbox open flags. O_APPEND is left to the FS,
// which positions appends itself.
func hostOpenFlags(flags uint32) int {
	var f int
	switch flags & O_ACCMODE {
	case O_WRONLY:
		f = os.O_WRONLY
	case O_RDWR:
		f = os.O_RDWR
	default:
		f = os.O_RDONLY
	}
	if flags&O_CREAT != 0 {
		f |= os.O_CREATE
	}
	if flags&O_EXCL != 0 {
		f |= os.O_EXCL
	}
	if flags&O_TRUNC != 0 {
		f |= os.O_TRUNC
	}
	if flags&O_DSYNC != 0 {
		f |= os.O_SYNC
	}
	return f
}

func (h *hostfsStream) Open(s *Stream) error {
	if !s.Node.IsFile() {
		return nil
	}
	f, err := os.OpenFile(realPath(s.Node), hostOpenFlags(s.Flags()), 0)
	if err != nil {
		return ErrnoFromHost(err)
	}
	s.shared.host = f
	return nil
}

func (h *hostfsStream) Close(s *Stream) error {
	if s.shared.host == nil || s.shared.refs > 0 {
		return nil
	}
	err := s.shared.host.Close()
	s.shared.host = nil
	if err != nil {
		return ErrnoFromHost(err)
	}
	return nil
}

func (h *hostfsStream) Read(s *Stream, buf []byte, position int64) (int, error) {
	f := s.shared.host
	if f == nil {
		return 0, wasmbridge.EISDIR
	}
	if len(buf) == 0 {
		return 0, nil
	}
	n, err := f.ReadAt(buf, position)
	if err != nil && err != io.EOF {
		return n, ErrnoFromHost(err)
	}
	return n, nil
}

func (h *hostfsStream) Write(s *Stream, buf []byte, position int64) (int, error) {
	f := s.shared.host
	if f == nil {
		return 0, wasmbridge.EISDIR
	}
	n, err := f.WriteAt(buf, position)
	if err != nil {
		return n, ErrnoFromHost(err)
	}
	return n, nil
}

func (h *hostfsStream) Llseek(s *Stream, offset int64, whence int) (int64, error) {
	pos := offset
	switch whence {
	case SEEK_CUR:
		pos += s.Position()
	case SEEK_END:
		if f := s.shared.host; f != nil {
			fi, err := f.Stat()
			if err != nil {
				return 0, ErrnoFromHost(err)
			}
			pos += fi.Size()
		}
	}
	if pos < 0 {
		return 0, wasmbridge.EINVAL
	}
	return pos, nil
}

func (h *hostfsStream) Allocate(s *Stream, offset, length int64) error {
	f := s.shared.host
	if f == nil {
		return wasmbridge.ENODEV
	}
	fi, err := f.Stat()
	if err != nil {
		return ErrnoFromHost(err)
	}
	if end := offset + length; end > fi.Size() {
		if err := f.Truncate(end); err != nil {
			return ErrnoFromHost(err)
		}
	}
	return nil
}

func (h *hostfsStream) Mmap(s *Stream, length int, position int64, prot, flags uint32) ([]byte, error) {
	if !s.Node.IsFile() {
		return nil, wasmbridge.ENODEV
	}
	out := make([]byte, length)
	if _, err := h.Read(s, out, position); err != nil {
		return nil, err
	}
	return out, nil
}

func (h *hostfsStream) Msync(s *Stream, data []byte, offset int64, flags uint32) error {
	_, err := h.Write(s, data, offset)
	return err
}

func (h *hostfsStream) Fsync(s *Stream) error {
	if f := s.shared.host; f != nil {
		if err := f.Sync(); err != nil {
			return ErrnoFromHost(err)
		}
	}
	return nil
}

// ErrnoFromHost translates a host error into the sandbox's numbering.
func ErrnoFromHost(err error) wasmbridge.Errno {
	if err == nil {
		return wasmbridge.ESUCCESS
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		if e, ok := hostErrnos[errno]; ok {
			return e
		}
		return wasmbridge.EIO
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return wasmbridge.ENOENT
	case errors.Is(err, fs.ErrExist):
		return wasmbridge.EEXIST
	case errors.Is(err, fs.ErrPermission):
		return wasmbridge.EACCES
	case errors.Is(err, fs.ErrInvalid):
		return wasmbridge.EINVAL
	case errors.Is(err, fs.ErrClosed):
		return wasmbridge.EBADF
	case errors.Is(err, os.ErrDeadlineExceeded):
		return wasmbridge.ETIMEDOUT
	}
	return wasmbridge.EIO
}

var hostErrnos = map[syscall.Errno]wasmbridge.Errno{
	unix.E2BIG:        wasmbridge.E2BIG,
	unix.EACCES:       wasmbridge.EACCES,
	unix.EAGAIN:       wasmbridge.EAGAIN,
	unix.EBADF:        wasmbridge.EBADF,
	unix.EBUSY:        wasmbridge.EBUSY,
	unix.ECANCELED:    wasmbridge.ECANCELED,
	unix.EDEADLK:      wasmbridge.EDEADLK,
	unix.EEXIST:       wasmbridge.EEXIST,
	unix.EFAULT:       wasmbridge.EFAULT,
	unix.EFBIG:        wasmbridge.EFBIG,
	unix.EINTR:        wasmbridge.EINTR,
	unix.EINVAL:       wasmbridge.EINVAL,
	unix.EIO:          wasmbridge.EIO,
	unix.EISDIR:       wasmbridge.EISDIR,
	unix.ELOOP:        wasmbridge.ELOOP,
	unix.EMFILE:       wasmbridge.EMFILE,
	unix.EMLINK:       wasmbridge.EMLINK,
	unix.ENAMETOOLONG: wasmbridge.ENAMETOOLONG,
	unix.ENFILE:       wasmbridge.ENFILE,
	unix.ENODEV:       wasmbridge.ENODEV,
	unix.ENOENT:       wasmbridge.ENOENT,
	unix.ENOMEM:       wasmbridge.ENOMEM,
	unix.ENOSPC:       wasmbridge.ENOSPC,
	unix.ENOSYS:       wasmbridge.ENOSYS,
	unix.ENOTDIR:      wasmbridge.ENOTDIR,
	unix.ENOTEMPTY:    wasmbridge.ENOTEMPTY,
	unix.ENOTSUP:      wasmbridge.ENOTSUP,
	unix.ENOTTY:       wasmbridge.ENOTTY,
	unix.ENXIO:        wasmbridge.ENXIO,
	unix.EOVERFLOW:    wasmbridge.EOVERFLOW,
	unix.EPERM:        wasmbridge.EPERM,
	unix.EPIPE:        wasmbridge.EPIPE,
	unix.ERANGE:       wasmbridge.ERANGE,
	unix.EROFS:        wasmbridge.EROFS,
	unix.ESPIPE:       wasmbridge.ESPIPE,
	unix.ESRCH:        wasmbridge.ESRCH,
	unix.ETIMEDOUT:    wasmbridge.ETIMEDOUT,
	unix.EXDEV:        wasmbridge.EXDEV,
}

func timespec(sec, nsec int64) time.Time { return time.Unix(sec, nsec) }

var (
	_ FileSystem = HostFS{}
	_ Statfser   = HostFS{}
	_ NodeOps    = (*hostfsOps)(nil)
	_ StreamOps  = (*hostfsStream)(nil)
	_ Allocator  = (*hostfsStream)(nil)
	_ Mmapper    = (*hostfsStream)(nil)
	_ Syncer     = (*hostfsStream)(nil)
)
