package vfs

import (
	wasmbridge "github.com/lovell/sharp-sub001"
)

// MemFS is the in-memory backend.
type MemFS struct{}

func (MemFS) Name() string { return "memfs" }

func (MemFS) Mount(fs *FS, m *Mount) (*Node, error) {
	ops := &memfsOps{fs: fs}
	return ops.createNode(nil, "/", S_IFDIR|0o777, 0), nil
}

type memfsOps struct {
	fs *FS
}

func (o *memfsOps) createNode(parent *Node, name string, mode uint32, dev uint64) *Node {
	n := o.fs.CreateNode(parent, name, mode, dev)
	n.NodeOps = o
	switch {
	case n.IsDir():
		n.StreamOps = memfsDirStream{}
		n.children = make(map[string]*Node)
	case n.IsFile():
		n.StreamOps = &memfsFileStream{ops: o}
	case n.IsDevice():
		n.StreamOps = &chrdevStream{fs: o.fs}
	}
	if parent != nil && parent != n {
		parent.children[name] = n
		parent.order = append(parent.order, name)
		parent.Atime, parent.Mtime, parent.Ctime = n.Atime, n.Atime, n.Atime
	}
	return n
}

func removeChild(dir *Node, name string) {
	delete(dir.children, name)
	for i, s := range dir.order {
		if s == name {
			dir.order = append(dir.order[:i], dir.order[i+1:]...)
			return
		}
	}
}

func (o *memfsOps) Getattr(n *Node) (Stat, error) {
	st := Stat{
		Dev:     1,
		Ino:     n.ID,
		Mode:    n.Mode,
		Nlink:   1,
		UID:     n.UID,
		GID:     n.GID,
		Rdev:    n.Rdev,
		Atime:   n.Atime,
		Mtime:   n.Mtime,
		Ctime:   n.Ctime,
		Blksize: 4096,
	}
	if n.IsDevice() {
		st.Dev = n.ID
	}
	switch {
	case n.IsDir():
		st.Size = 4096
	case n.IsFile():
		st.Size = int64(n.usedBytes)
	case n.IsLink():
		st.Size = int64(len(n.link))
	}
	st.Blocks = (st.Size + int64(st.Blksize) - 1) / int64(st.Blksize)
	return st, nil
}

func (o *memfsOps) Setattr(n *Node, attr Attr) error {
	if attr.Mode != nil {
		n.Mode = *attr.Mode
	}
	if attr.UID != nil {
		n.UID = *attr.UID
	}
	if attr.GID != nil {
		n.GID = *attr.GID
	}
	if attr.Atime != nil {
		n.Atime = *attr.Atime
	}
	if attr.Mtime != nil {
		n.Mtime = *attr.Mtime
		n.Ctime = *attr.Mtime
	}
	if attr.Size != nil {
		resizeFileStorage(n, int(*attr.Size))
	}
	return nil
}

func (o *memfsOps) Lookup(parent *Node, name string) (*Node, error) {
	return nil, wasmbridge.ENOENT
}

func (o *memfsOps) Mknod(parent *Node, name string, mode uint32, dev uint64) (*Node, error) {
	if !isDir(mode) && !isFile(mode) && !isLink(mode) && !isChr(mode) && mode&S_IFMT != S_IFIFO {
		return nil, wasmbridge.EPERM
	}
	return o.createNode(parent, name, mode, dev), nil
}

func (o *memfsOps) Rename(old *Node, newDir *Node, newName string) error {
	if existing, err := o.fs.LookupNode(newDir, newName); err == nil {
		if old.IsDir() && len(existing.children) > 0 {
			return wasmbridge.ENOTEMPTY
		}
		o.fs.hashRemoveNode(existing)
		removeChild(newDir, newName)
	}
	removeChild(old.Parent, old.Name)
	newDir.children[newName] = old
	newDir.order = append(newDir.order, newName)
	now := o.fs.now()
	newDir.Ctime, newDir.Mtime = now, now
	old.Parent.Ctime, old.Parent.Mtime = now, now
	return nil
}

func (o *memfsOps) Unlink(parent *Node, name string) error {
	removeChild(parent, name)
	now := o.fs.now()
	parent.Ctime, parent.Mtime = now, now
	return nil
}

func (o *memfsOps) Rmdir(parent *Node, name string) error {
	n, err := o.fs.LookupNode(parent, name)
	if err != nil {
		return err
	}
	if len(n.children) > 0 {
		return wasmbridge.ENOTEMPTY
	}
	return o.Unlink(parent, name)
}

func (o *memfsOps) Readdir(n *Node) ([]string, error) {
	if !n.IsDir() {
		return nil, wasmbridge.ENOTDIR
	}
	return append([]string(nil), n.order...), nil
}

func (o *memfsOps) Symlink(parent *Node, name, target string) (*Node, error) {
	n := o.createNode(parent, name, S_IFLNK|0o777, 0)
	n.link = target
	return n, nil
}

func (o *memfsOps) Readlink(n *Node) (string, error) {
	if !n.IsLink() {
		return "", wasmbridge.EINVAL
	}
	return n.link, nil
}

// expandFileStorage grows capacity to at least want. Below
// CapacityDoublingMax capacity doubles (never below 256 once non-empty);
// above it, growth is additive in CapacityDoublingMax steps.
func expandFileStorage(n *Node, want int) {
	prev := len(n.contents)
	if prev >= want {
		return
	}
	next := want
	if prev < CapacityDoublingMax {
		if prev*2 > next {
			next = prev * 2
		}
	} else if prev+CapacityDoublingMax > next {
		next = prev + CapacityDoublingMax
	}
	if prev != 0 && next < 256 {
		next = 256
	}
	buf := make([]byte, next)
	copy(buf, n.contents[:n.usedBytes])
	n.contents = buf
}

func resizeFileStorage(n *Node, size int) {
	if n.usedBytes == size {
		return
	}
	if size == 0 {
		n.contents = nil
		n.usedBytes = 0
		return
	}
	buf := make([]byte, size)
	copy(buf, n.contents[:min(n.usedBytes, size)])
	n.contents = buf
	n.usedBytes = size
}

// Capacity returns the allocated size of a MEMFS file's buffer.
func (n *Node) Capacity() int { return len(n.contents) }

type memfsFileStream struct {
	ops *memfsOps
}

func (m *memfsFileStream) Open(s *Stream) error  { return nil }
func (m *memfsFileStream) Close(s *Stream) error { return nil }

func (m *memfsFileStream) Read(s *Stream, buf []byte, position int64) (int, error) {
	n := s.Node
	if position >= int64(n.usedBytes) {
		return 0, nil
	}
	c := copy(buf, n.contents[position:n.usedBytes])
	return c, nil
}

func (m *memfsFileStream) Write(s *Stream, buf []byte, position int64) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}
	n := s.Node
	now := m.ops.fs.now()
	n.Mtime, n.Ctime = now, now
	end := position + int64(len(buf))
	if end > int64(^uint32(0)>>1) {
		return 0, wasmbridge.EFBIG
	}
	expandFileStorage(n, int(end))
	copy(n.contents[position:], buf)
	if int(end) > n.usedBytes {
		n.usedBytes = int(end)
	}
	return len(buf), nil
}

func (m *memfsFileStream) Llseek(s *Stream, offset int64, whence int) (int64, error) {
	return memfsLlseek(s, offset, whence)
}

func memfsLlseek(s *Stream, offset int64, whence int) (int64, error) {
	pos := offset
	switch whence {
	case SEEK_CUR:
		pos += s.Position()
	case SEEK_END:
		if s.Node.IsFile() {
			pos += int64(s.Node.usedBytes)
		}
	}
	if pos < 0 {
		return 0, wasmbridge.EINVAL
	}
	return pos, nil
}

func (m *memfsFileStream) Allocate(s *Stream, offset, length int64) error {
	n := s.Node
	end := int(offset + length)
	expandFileStorage(n, end)
	if end > n.usedBytes {
		n.usedBytes = end
	}
	return nil
}

func (m *memfsFileStream) Mmap(s *Stream, length int, position int64, prot, flags uint32) ([]byte, error) {
	if !s.Node.IsFile() {
		return nil, wasmbridge.ENODEV
	}
	out := make([]byte, length)
	n := s.Node
	if position < int64(n.usedBytes) {
		copy(out, n.contents[position:n.usedBytes])
	}
	return out, nil
}

func (m *memfsFileStream) Msync(s *Stream, data []byte, offset int64, flags uint32) error {
	_, err := m.Write(s, data, offset)
	return err
}

// memfsDirStream lets directories be opened for getdents and fchdir.
type memfsDirStream struct{}

func (memfsDirStream) Open(s *Stream) error  { return nil }
func (memfsDirStream) Close(s *Stream) error { return nil }

func (memfsDirStream) Read(s *Stream, buf []byte, position int64) (int, error) {
	return 0, wasmbridge.EISDIR
}

func (memfsDirStream) Write(s *Stream, buf []byte, position int64) (int, error) {
	return 0, wasmbridge.EISDIR
}

func (memfsDirStream) Llseek(s *Stream, offset int64, whence int) (int64, error) {
	return memfsLlseek(s, offset, whence)
}

var (
	_ NodeOps   = (*memfsOps)(nil)
	_ StreamOps = (*memfsFileStream)(nil)
	_ Allocator = (*memfsFileStream)(nil)
	_ Mmapper   = (*memfsFileStream)(nil)
	_ StreamOps = memfsDirStream{}
)
