package vfs

import (
	"go.uber.org/zap"

	wasmbridge "github.com/lovell/sharp-sub001"
)

// GetStream returns the stream for fd or EBADF.
func (fs *FS) GetStream(fd int32) (*Stream, error) {
	s := fs.streams.get(fd)
	if s == nil {
		return nil, wasmbridge.EBADF
	}
	return s, nil
}

// OpenFDs returns the number of open descriptors.
func (fs *FS) OpenFDs() int { return fs.streams.open }

// Streams calls fn for each open descriptor in ascending order.
func (fs *FS) Streams(fn func(*Stream) bool) {
	for _, s := range fs.streams.slots {
		if s != nil && !fn(s) {
			return
		}
	}
}

func (fs *FS) createStream(n *Node, p string, flags uint32, fd int32) (*Stream, error) {
	if fd < 0 {
		var err error
		if fd, err = fs.streams.nextFD(0); err != nil {
			return nil, err
		}
	} else if fd >= MaxOpenFDs {
		return nil, wasmbridge.EBADF
	}
	s := &Stream{
		Node:   n,
		Path:   p,
		Ops:    n.StreamOps,
		shared: &openFile{flags: flags, refs: 1, seekable: true},
	}
	fs.streams.install(s, fd)
	return s, nil
}

// Open opens p. mode applies only when O_CREAT creates the file.
func (fs *FS) Open(p string, flags uint32, mode uint32) (*Stream, error) {
	return fs.openAt(p, flags, mode, -1)
}

func (fs *FS) openAt(p string, flags uint32, mode uint32, fd int32) (*Stream, error) {
	if p == "" {
		return nil, wasmbridge.ENOENT
	}
	if flags&O_CREAT != 0 {
		mode = mode&S_IALLUGO | S_IFREG
	} else {
		mode = 0
	}

	res, err := fs.LookupPath(p, LookupOpts{Follow: flags&O_NOFOLLOW == 0, NoentOkay: true})
	if err != nil {
		return nil, err
	}
	n := res.Node

	created := false
	if flags&O_CREAT != 0 {
		if n != nil {
			if flags&O_EXCL != 0 {
				return nil, wasmbridge.EEXIST
			}
		} else {
			if n, err = fs.Mknod(res.Path, mode, 0); err != nil {
				return nil, err
			}
			created = true
		}
	}
	if n == nil {
		return nil, wasmbridge.ENOENT
	}
	if n.IsDevice() {
		flags &^= O_TRUNC
	}
	if flags&O_DIRECTORY != 0 && !n.IsDir() {
		return nil, wasmbridge.ENOTDIR
	}
	if !created {
		if err := fs.mayOpen(n, flags); err != nil {
			return nil, err
		}
	}
	if flags&O_TRUNC != 0 && !created {
		if err := fs.truncateNode(n, 0); err != nil {
			return nil, err
		}
	}
	flags &^= O_EXCL | O_TRUNC | O_NOFOLLOW

	s, err := fs.createStream(n, fs.GetPath(n), flags, fd)
	if err != nil {
		return nil, err
	}
	if s.Ops != nil {
		if err := s.Ops.Open(s); err != nil {
			fs.streams.remove(s.FD)
			return nil, err
		}
	}
	if created {
		if err := fs.chmodNode(n, mode&0o777); err != nil {
			Logger().Debug("chmod after create failed", zap.String("path", s.Path), zap.Error(err))
		}
	}
	return s, nil
}

// Close releases a descriptor.
func (fs *FS) Close(s *Stream) error {
	if fs.streams.get(s.FD) != s {
		return wasmbridge.EBADF
	}
	s.getdents = nil
	var err error
	s.shared.refs--
	if s.Ops != nil {
		err = s.Ops.Close(s)
	}
	fs.streams.remove(s.FD)
	s.FD = -1
	return err
}

// IsClosed reports whether s has been closed.
func (fs *FS) IsClosed(s *Stream) bool { return s.FD < 0 || fs.streams.get(s.FD) != s }

// Llseek repositions the stream.
func (fs *FS) Llseek(s *Stream, offset int64, whence int) (int64, error) {
	if fs.IsClosed(s) {
		return 0, wasmbridge.EBADF
	}
	if !s.Seekable() || s.Ops == nil {
		return 0, wasmbridge.ESPIPE
	}
	if whence != SEEK_SET && whence != SEEK_CUR && whence != SEEK_END {
		return 0, wasmbridge.EINVAL
	}
	pos, err := s.Ops.Llseek(s, offset, whence)
	if err != nil {
		return 0, err
	}
	s.SetPosition(pos)
	return pos, nil
}

// Read reads into buf. A nil position reads at and advances the stream
// offset; otherwise the read is positional and the offset is untouched.
func (fs *FS) Read(s *Stream, buf []byte, position *int64) (int, error) {
	if position != nil && *position < 0 {
		return 0, wasmbridge.EINVAL
	}
	if fs.IsClosed(s) {
		return 0, wasmbridge.EBADF
	}
	if !s.IsRead() {
		return 0, wasmbridge.EBADF
	}
	if s.Node.IsDir() {
		return 0, wasmbridge.EISDIR
	}
	if s.Ops == nil {
		return 0, wasmbridge.EINVAL
	}
	pos := s.Position()
	if position != nil {
		if !s.Seekable() {
			return 0, wasmbridge.ESPIPE
		}
		pos = *position
	}
	n, err := s.Ops.Read(s, buf, pos)
	if err != nil {
		return 0, err
	}
	if position == nil {
		s.SetPosition(s.Position() + int64(n))
	}
	return n, nil
}

// Write writes buf. position works as in Read. O_APPEND streams always
// write at the end.
func (fs *FS) Write(s *Stream, buf []byte, position *int64) (int, error) {
	if position != nil && *position < 0 {
		return 0, wasmbridge.EINVAL
	}
	if fs.IsClosed(s) {
		return 0, wasmbridge.EBADF
	}
	if !s.IsWrite() {
		return 0, wasmbridge.EBADF
	}
	if s.Node.IsDir() {
		return 0, wasmbridge.EISDIR
	}
	if s.Ops == nil {
		return 0, wasmbridge.EINVAL
	}
	if s.Seekable() && s.IsAppend() {
		if _, err := fs.Llseek(s, 0, SEEK_END); err != nil {
			return 0, err
		}
	}
	pos := s.Position()
	if position != nil {
		if !s.Seekable() {
			return 0, wasmbridge.ESPIPE
		}
		pos = *position
	}
	n, err := s.Ops.Write(s, buf, pos)
	if err != nil {
		return 0, err
	}
	if position == nil {
		s.SetPosition(s.Position() + int64(n))
	}
	return n, nil
}

// Allocate ensures [offset, offset+length) is backed by storage.
func (fs *FS) Allocate(s *Stream, offset, length int64) error {
	if fs.IsClosed(s) {
		return wasmbridge.EBADF
	}
	if offset < 0 || length <= 0 {
		return wasmbridge.EINVAL
	}
	if !s.IsWrite() {
		return wasmbridge.EBADF
	}
	if !s.Node.IsFile() && !s.Node.IsDir() {
		return wasmbridge.ENODEV
	}
	a, ok := s.Ops.(Allocator)
	if !ok {
		return wasmbridge.ENOTSUP
	}
	return a.Allocate(s, offset, length)
}

// Mmap returns the initial content of a mapping of s.
func (fs *FS) Mmap(s *Stream, length int, position int64, prot, flags uint32) ([]byte, error) {
	if prot&PROT_WRITE != 0 && flags&MAP_PRIVATE == 0 && s.Flags()&O_ACCMODE != O_RDWR {
		return nil, wasmbridge.EACCES
	}
	if s.Flags()&O_ACCMODE == O_WRONLY {
		return nil, wasmbridge.EACCES
	}
	mm, ok := s.Ops.(Mmapper)
	if !ok {
		return nil, wasmbridge.ENODEV
	}
	if length == 0 {
		return nil, wasmbridge.EINVAL
	}
	return mm.Mmap(s, length, position, prot, flags)
}

// Msync writes a shared mapping back to its file.
func (fs *FS) Msync(s *Stream, data []byte, offset int64, flags uint32) error {
	mm, ok := s.Ops.(Mmapper)
	if !ok {
		return nil
	}
	return mm.Msync(s, data, offset, flags)
}

// Munmap releases a mapping. Shared writable mappings are synced first.
func (fs *FS) Munmap(s *Stream, data []byte, offset int64, prot, flags uint32) error {
	if prot&PROT_WRITE == 0 {
		return nil
	}
	if !s.Node.IsFile() {
		return wasmbridge.ENODEV
	}
	if flags&MAP_PRIVATE != 0 {
		return nil
	}
	return fs.Msync(s, data, offset, flags)
}

// Fsync flushes buffered output.
func (fs *FS) Fsync(s *Stream) error {
	if fs.IsClosed(s) {
		return wasmbridge.EBADF
	}
	if sy, ok := s.Ops.(Syncer); ok {
		return sy.Fsync(s)
	}
	if f := s.HostFile(); f != nil {
		if err := f.Sync(); err != nil {
			return ErrnoFromHost(err)
		}
	}
	return nil
}

// Dup duplicates s onto the lowest free descriptor at or above min.
func (fs *FS) Dup(s *Stream, min int32) (*Stream, error) {
	fd, err := fs.streams.nextFD(min)
	if err != nil {
		return nil, err
	}
	return fs.dupStream(s, fd), nil
}

// Dup3 duplicates fd onto newfd, closing whatever newfd held.
func (fs *FS) Dup3(fd, newfd int32, flags uint32) (*Stream, error) {
	old, err := fs.GetStream(fd)
	if err != nil {
		return nil, err
	}
	if fd == newfd {
		return nil, wasmbridge.EINVAL
	}
	if newfd < 0 || newfd >= MaxOpenFDs {
		return nil, wasmbridge.EBADF
	}
	if flags&^O_CLOEXEC != 0 {
		return nil, wasmbridge.EINVAL
	}
	if existing := fs.streams.get(newfd); existing != nil {
		fs.Close(existing)
	}
	s := fs.dupStream(old, newfd)
	if flags&O_CLOEXEC != 0 {
		s.FDFlags = 1
	}
	return s, nil
}

func (fs *FS) dupStream(orig *Stream, fd int32) *Stream {
	s := &Stream{
		Node:   orig.Node,
		Path:   orig.Path,
		Ops:    orig.Ops,
		shared: orig.shared,
	}
	s.shared.refs++
	fs.streams.install(s, fd)
	return s
}

// RegisterDevice binds stream ops to a device number.
func (fs *FS) RegisterDevice(dev uint64, ops StreamOps) {
	fs.devices[dev] = ops
}

// Device returns the ops registered for dev.
func (fs *FS) Device(dev uint64) (StreamOps, bool) {
	ops, ok := fs.devices[dev]
	return ops, ok
}
