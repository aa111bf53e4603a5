package vfs

import (
	"io"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	wasmbridge "github.com/lovell/sharp-sub001"
)

// Options configures a new FS.
type Options struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Now supplies timestamps. Defaults to time.Now.
	Now func() time.Time
	// IgnorePermissions disables mode bit checks.
	IgnorePermissions bool
}

type nameKey struct {
	parent uint64
	name   string
}

// FS is a filesystem namespace with its descriptor table.
type FS struct {
	root      *Node
	cwd       string
	nextInode uint64
	nameTable map[nameKey]*Node
	streams   streamTable
	devices   map[uint64]StreamOps
	now       func() time.Time
	opts      Options

	ignorePermissions bool
}

// New creates a filesystem with MEMFS at the root, the default directories,
// the default devices and fds 0, 1 and 2 open on the terminals.
func New(opts Options) (*FS, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Stdout == nil {
		opts.Stdout = io.Discard
	}
	if opts.Stderr == nil {
		opts.Stderr = io.Discard
	}
	fs := &FS{
		cwd:               "/",
		nextInode:         1,
		nameTable:         make(map[nameKey]*Node),
		devices:           make(map[uint64]StreamOps),
		now:               opts.Now,
		opts:              opts,
		ignorePermissions: true,
	}
	if _, err := fs.Mount(MemFS{}, MountOptions{}, "/"); err != nil {
		return nil, err
	}
	if err := fs.createDefaultDirectories(); err != nil {
		return nil, err
	}
	if err := fs.createDefaultDevices(); err != nil {
		return nil, err
	}
	if err := fs.createSpecialDirectories(); err != nil {
		return nil, err
	}
	if err := fs.createStandardStreams(); err != nil {
		return nil, err
	}
	fs.ignorePermissions = opts.IgnorePermissions
	return fs, nil
}

func (fs *FS) createDefaultDirectories() error {
	for _, dir := range []string{"/tmp", "/home", "/home/web_user"} {
		if _, err := fs.Mkdir(dir, 0o777); err != nil {
			return err
		}
	}
	return nil
}

// Root returns the root node.
func (fs *FS) Root() *Node { return fs.root }

// Now returns the current time as seen by the filesystem.
func (fs *FS) Now() time.Time { return fs.now() }

// CreateNode allocates a node and enters it in the name table. A nil parent
// makes the node its own parent, as for a mount root.
func (fs *FS) CreateNode(parent *Node, name string, mode uint32, rdev uint64) *Node {
	now := fs.now()
	n := &Node{
		ID:    fs.nextInode,
		Name:  name,
		Mode:  mode,
		Rdev:  rdev,
		Atime: now,
		Mtime: now,
		Ctime: now,
	}
	fs.nextInode++
	if parent == nil {
		n.Parent = n
	} else {
		n.Parent = parent
		n.Mount = parent.Mount
	}
	fs.hashAddNode(n)
	return n
}

func (fs *FS) hashAddNode(n *Node) {
	if n.Parent == n {
		return
	}
	fs.nameTable[nameKey{n.Parent.ID, n.Name}] = n
}

func (fs *FS) hashRemoveNode(n *Node) {
	if n.Parent == n {
		return
	}
	k := nameKey{n.Parent.ID, n.Name}
	if fs.nameTable[k] == n {
		delete(fs.nameTable, k)
	}
}

func (fs *FS) destroyNode(n *Node) { fs.hashRemoveNode(n) }

// LookupOpts controls path resolution.
type LookupOpts struct {
	// Parent stops at the parent of the last component.
	Parent bool
	// Follow resolves a symlink in the last component.
	Follow bool
	// NoFollowMount stops at a mountpoint instead of entering the mount.
	NoFollowMount bool
	// NoentOkay returns a nil node instead of ENOENT when only the last
	// component is missing.
	NoentOkay bool

	depth int
}

// Lookup is the result of LookupPath.
type Lookup struct {
	Path string
	Node *Node
}

// LookupPath resolves p to a node. Symlinks are followed at most
// MaxSymlinkFollows times per component and through at most maxLookupDepth
// nested resolutions, after which ELOOP is returned.
func (fs *FS) LookupPath(p string, opts LookupOpts) (Lookup, error) {
	if p == "" {
		return Lookup{}, wasmbridge.ENOENT
	}
	if len(p) >= PathMax {
		return Lookup{}, wasmbridge.ENAMETOOLONG
	}
	if opts.depth > maxLookupDepth {
		return Lookup{}, wasmbridge.ELOOP
	}
	if !path.IsAbs(p) {
		p = fs.cwd + "/" + p
	}

	parts := splitPath(p)
	current := fs.root
	currentPath := "/"

	for i, part := range parts {
		last := i == len(parts)-1
		if last && opts.Parent {
			break
		}
		if part == "." {
			continue
		}
		if part == ".." {
			currentPath = path.Dir(currentPath)
			current = fs.parentOf(current)
			continue
		}
		if len(part) > NameMax {
			return Lookup{}, wasmbridge.ENAMETOOLONG
		}

		next, err := fs.LookupNode(current, part)
		currentPath = path.Join(currentPath, part)
		if err != nil {
			if last && opts.NoentOkay && err == wasmbridge.ENOENT {
				return Lookup{Path: currentPath}, nil
			}
			return Lookup{}, err
		}
		current = next

		if current.IsMountpoint() && (!last || !opts.NoFollowMount) {
			current = current.Mounted.Root
		}

		if !last || opts.Follow {
			count := 0
			for current.IsLink() {
				target, err := fs.Readlink(currentPath)
				if err != nil {
					return Lookup{}, err
				}
				if !path.IsAbs(target) {
					target = path.Join(path.Dir(currentPath), target)
				}
				res, err := fs.LookupPath(target, LookupOpts{depth: opts.depth + 1})
				if err != nil {
					return Lookup{}, err
				}
				currentPath, current = res.Path, res.Node
				count++
				if count > MaxSymlinkFollows {
					return Lookup{}, wasmbridge.ELOOP
				}
			}
		}
	}

	return Lookup{Path: currentPath, Node: current}, nil
}

func splitPath(p string) []string {
	raw := strings.Split(p, "/")
	parts := raw[:0]
	for _, s := range raw {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}

// parentOf returns the directory ".." names, crossing out of mounts.
func (fs *FS) parentOf(n *Node) *Node {
	for n.IsRoot() {
		if n.Mount == nil || n == fs.root {
			return fs.root
		}
		point := fs.mountpointNode(n.Mount)
		if point == nil {
			return fs.root
		}
		n = point
	}
	return n.Parent
}

func (fs *FS) mountpointNode(m *Mount) *Node {
	res, err := fs.LookupPath(m.Mountpoint, LookupOpts{NoFollowMount: true})
	if err != nil {
		return nil
	}
	return res.Node
}

// GetPath returns the absolute path of n.
func (fs *FS) GetPath(n *Node) string {
	var p string
	for {
		if n.IsRoot() {
			mp := "/"
			if n.Mount != nil {
				mp = n.Mount.Mountpoint
			}
			if p == "" {
				return mp
			}
			if strings.HasSuffix(mp, "/") {
				return mp + p
			}
			return mp + "/" + p
		}
		if p == "" {
			p = n.Name
		} else {
			p = n.Name + "/" + p
		}
		n = n.Parent
	}
}

// LookupNode finds name in parent, consulting the name table before the
// backend.
func (fs *FS) LookupNode(parent *Node, name string) (*Node, error) {
	if err := fs.mayLookup(parent); err != nil {
		return nil, err
	}
	if n, ok := fs.nameTable[nameKey{parent.ID, name}]; ok {
		return n, nil
	}
	return parent.NodeOps.Lookup(parent, name)
}

func (fs *FS) nodePermissions(n *Node, perms string) error {
	if fs.ignorePermissions {
		return nil
	}
	if strings.Contains(perms, "r") && n.Mode&0o444 == 0 {
		return wasmbridge.EACCES
	}
	if strings.Contains(perms, "w") && n.Mode&0o222 == 0 {
		return wasmbridge.EACCES
	}
	if strings.Contains(perms, "x") && n.Mode&0o111 == 0 {
		return wasmbridge.EACCES
	}
	return nil
}

func (fs *FS) mayLookup(dir *Node) error {
	if !dir.IsDir() {
		return wasmbridge.ENOTDIR
	}
	return fs.nodePermissions(dir, "x")
}

func (fs *FS) mayCreate(dir *Node, name string) error {
	if !dir.IsDir() {
		return wasmbridge.ENOTDIR
	}
	if _, err := fs.LookupNode(dir, name); err == nil {
		return wasmbridge.EEXIST
	}
	if dir.Mount != nil && dir.Mount.Opts.ReadOnly {
		return wasmbridge.EROFS
	}
	return fs.nodePermissions(dir, "wx")
}

func (fs *FS) mayDelete(dir *Node, name string, wantDir bool) error {
	n, err := fs.LookupNode(dir, name)
	if err != nil {
		return err
	}
	if dir.Mount != nil && dir.Mount.Opts.ReadOnly {
		return wasmbridge.EROFS
	}
	if err := fs.nodePermissions(dir, "wx"); err != nil {
		return err
	}
	if wantDir {
		if !n.IsDir() {
			return wasmbridge.ENOTDIR
		}
		if n.IsRoot() || fs.GetPath(n) == fs.cwd {
			return wasmbridge.EBUSY
		}
	} else if n.IsDir() {
		return wasmbridge.EISDIR
	}
	return nil
}

func flagsToPermissions(flags uint32) string {
	perms := [...]string{"r", "w", "rw", "rw"}[flags&O_ACCMODE]
	if flags&O_TRUNC != 0 {
		perms += "w"
	}
	return perms
}

func (fs *FS) mayOpen(n *Node, flags uint32) error {
	if n == nil {
		return wasmbridge.ENOENT
	}
	if n.IsLink() {
		return wasmbridge.ELOOP
	}
	if n.IsDir() {
		if flagsToPermissions(flags) != "r" || flags&(O_TRUNC|O_CREAT) != 0 {
			return wasmbridge.EISDIR
		}
	}
	if flags&O_ACCMODE != O_RDONLY && n.Mount != nil && n.Mount.Opts.ReadOnly && !n.IsDevice() {
		return wasmbridge.EROFS
	}
	return fs.nodePermissions(n, flagsToPermissions(flags))
}

func (fs *FS) lookupParent(p string) (*Node, string, error) {
	res, err := fs.LookupPath(p, LookupOpts{Parent: true})
	if err != nil {
		return nil, "", err
	}
	return res.Node, path.Base(p), nil
}

// Mknod creates a node of any type.
func (fs *FS) Mknod(p string, mode uint32, dev uint64) (*Node, error) {
	parent, name, err := fs.lookupParent(p)
	if err != nil {
		return nil, err
	}
	if name == "" || name == "." || name == ".." || name == "/" {
		return nil, wasmbridge.EINVAL
	}
	if len(name) > NameMax {
		return nil, wasmbridge.ENAMETOOLONG
	}
	if err := fs.mayCreate(parent, name); err != nil {
		return nil, err
	}
	return parent.NodeOps.Mknod(parent, name, mode, dev)
}

// Create creates a regular file.
func (fs *FS) Create(p string, mode uint32) (*Node, error) {
	return fs.Mknod(p, mode&S_IALLUGO|S_IFREG, 0)
}

// Mkdir creates a directory.
func (fs *FS) Mkdir(p string, mode uint32) (*Node, error) {
	return fs.Mknod(p, mode&(0o777|0o1000)|S_IFDIR, 0)
}

// MkdirAll creates p and any missing parents.
func (fs *FS) MkdirAll(p string, mode uint32) error {
	cur := ""
	for _, part := range splitPath(p) {
		cur += "/" + part
		if _, err := fs.Mkdir(cur, mode); err != nil && err != wasmbridge.EEXIST {
			return err
		}
	}
	return nil
}

// Mkdev creates a character device node.
func (fs *FS) Mkdev(p string, mode uint32, dev uint64) (*Node, error) {
	if mode == 0 {
		mode = 0o666
	}
	return fs.Mknod(p, mode|S_IFCHR, dev)
}

// Symlink creates newpath pointing at target.
func (fs *FS) Symlink(target, newpath string) error {
	if target == "" {
		return wasmbridge.ENOENT
	}
	parent, name, err := fs.lookupParent(newpath)
	if err != nil {
		return err
	}
	if err := fs.mayCreate(parent, name); err != nil {
		return err
	}
	_, err = parent.NodeOps.Symlink(parent, name, target)
	return err
}

// Rename moves oldPath to newPath, replacing any existing entry of a
// compatible type.
func (fs *FS) Rename(oldPath, newPath string) error {
	oldDir, oldName, err := fs.lookupParent(oldPath)
	if err != nil {
		return err
	}
	oldRes, _ := fs.LookupPath(oldPath, LookupOpts{Parent: true})
	newDir, newName, err := fs.lookupParent(newPath)
	if err != nil {
		return err
	}
	newRes, _ := fs.LookupPath(newPath, LookupOpts{Parent: true})
	if oldDir.Mount != newDir.Mount {
		return wasmbridge.EXDEV
	}

	oldNode, err := fs.LookupNode(oldDir, oldName)
	if err != nil {
		return err
	}
	src := path.Join(oldRes.Path, oldName)
	dst := path.Join(newRes.Path, newName)
	// source must not be an ancestor of the destination
	if strings.HasPrefix(dst+"/", src+"/") && dst != src {
		return wasmbridge.EINVAL
	}
	// destination must not be an ancestor of the source
	if strings.HasPrefix(src+"/", dst+"/") && dst != src {
		return wasmbridge.ENOTEMPTY
	}

	newNode, _ := fs.LookupNode(newDir, newName)
	if oldNode == newNode {
		return nil
	}
	wantDir := oldNode.IsDir()
	if err := fs.mayDelete(oldDir, oldName, wantDir); err != nil {
		return err
	}
	if newNode != nil {
		err = fs.mayDelete(newDir, newName, wantDir)
	} else {
		err = fs.mayCreate(newDir, newName)
	}
	if err != nil {
		return err
	}
	if oldNode.IsMountpoint() || (newNode != nil && newNode.IsMountpoint()) {
		return wasmbridge.EBUSY
	}
	if newDir != oldDir {
		if err := fs.nodePermissions(oldDir, "w"); err != nil {
			return err
		}
	}

	fs.hashRemoveNode(oldNode)
	err = oldDir.NodeOps.Rename(oldNode, newDir, newName)
	if err == nil {
		oldNode.Parent = newDir
		oldNode.Name = newName
	}
	fs.hashAddNode(oldNode)
	return err
}

// Rmdir removes an empty directory.
func (fs *FS) Rmdir(p string) error {
	parent, name, err := fs.lookupParent(p)
	if err != nil {
		return err
	}
	n, err := fs.LookupNode(parent, name)
	if err != nil {
		return err
	}
	if err := fs.mayDelete(parent, name, true); err != nil {
		return err
	}
	if n.IsMountpoint() {
		return wasmbridge.EBUSY
	}
	if err := parent.NodeOps.Rmdir(parent, name); err != nil {
		return err
	}
	fs.destroyNode(n)
	return nil
}

// Readdir lists a directory, starting with "." and "..".
func (fs *FS) Readdir(p string) ([]string, error) {
	res, err := fs.LookupPath(p, LookupOpts{Follow: true})
	if err != nil {
		return nil, err
	}
	return fs.readdirNode(res.Node)
}

func (fs *FS) readdirNode(n *Node) ([]string, error) {
	if !n.IsDir() {
		return nil, wasmbridge.ENOTDIR
	}
	names, err := n.NodeOps.Readdir(n)
	if err != nil {
		return nil, err
	}
	return append([]string{".", ".."}, names...), nil
}

// Unlink removes a non-directory entry.
func (fs *FS) Unlink(p string) error {
	parent, name, err := fs.lookupParent(p)
	if err != nil {
		return err
	}
	n, err := fs.LookupNode(parent, name)
	if err != nil {
		return err
	}
	if err := fs.mayDelete(parent, name, false); err != nil {
		return err
	}
	if n.IsMountpoint() {
		return wasmbridge.EBUSY
	}
	if err := parent.NodeOps.Unlink(parent, name); err != nil {
		return err
	}
	fs.destroyNode(n)
	return nil
}

// Readlink returns a symlink's target as stored.
func (fs *FS) Readlink(p string) (string, error) {
	res, err := fs.LookupPath(p, LookupOpts{})
	if err != nil {
		return "", err
	}
	if !res.Node.IsLink() {
		return "", wasmbridge.EINVAL
	}
	return res.Node.NodeOps.Readlink(res.Node)
}

// Stat returns attributes, following a final symlink unless noFollow.
func (fs *FS) Stat(p string, noFollow bool) (Stat, error) {
	res, err := fs.LookupPath(p, LookupOpts{Follow: !noFollow})
	if err != nil {
		return Stat{}, err
	}
	return res.Node.NodeOps.Getattr(res.Node)
}

// Lstat is Stat without following a final symlink.
func (fs *FS) Lstat(p string) (Stat, error) { return fs.Stat(p, true) }

// Fstat stats an open descriptor.
func (fs *FS) Fstat(fd int32) (Stat, error) {
	s, err := fs.GetStream(fd)
	if err != nil {
		return Stat{}, err
	}
	return s.Node.NodeOps.Getattr(s.Node)
}

func (fs *FS) nodeAt(p string, noFollow bool) (*Node, error) {
	res, err := fs.LookupPath(p, LookupOpts{Follow: !noFollow})
	if err != nil {
		return nil, err
	}
	return res.Node, nil
}

func (fs *FS) chmodNode(n *Node, mode uint32) error {
	m := mode&S_IALLUGO | n.Mode&^S_IALLUGO
	now := fs.now()
	return n.NodeOps.Setattr(n, Attr{Mode: &m, Mtime: &now})
}

// Chmod changes permission bits.
func (fs *FS) Chmod(p string, mode uint32, noFollow bool) error {
	n, err := fs.nodeAt(p, noFollow)
	if err != nil {
		return err
	}
	return fs.chmodNode(n, mode)
}

// Lchmod changes permission bits of a symlink itself.
func (fs *FS) Lchmod(p string, mode uint32) error { return fs.Chmod(p, mode, true) }

// Fchmod changes permission bits of an open file.
func (fs *FS) Fchmod(fd int32, mode uint32) error {
	s, err := fs.GetStream(fd)
	if err != nil {
		return err
	}
	return fs.chmodNode(s.Node, mode)
}

func (fs *FS) chownNode(n *Node, uid, gid uint32) error {
	return n.NodeOps.Setattr(n, Attr{UID: &uid, GID: &gid})
}

// Chown records ownership.
func (fs *FS) Chown(p string, uid, gid uint32, noFollow bool) error {
	n, err := fs.nodeAt(p, noFollow)
	if err != nil {
		return err
	}
	return fs.chownNode(n, uid, gid)
}

// Fchown records ownership of an open file.
func (fs *FS) Fchown(fd int32, uid, gid uint32) error {
	s, err := fs.GetStream(fd)
	if err != nil {
		return err
	}
	return fs.chownNode(s.Node, uid, gid)
}

func (fs *FS) truncateNode(n *Node, length int64) error {
	if length < 0 {
		return wasmbridge.EINVAL
	}
	if n.IsDir() {
		return wasmbridge.EISDIR
	}
	if !n.IsFile() {
		return wasmbridge.EINVAL
	}
	if n.Mount != nil && n.Mount.Opts.ReadOnly {
		return wasmbridge.EROFS
	}
	if err := fs.nodePermissions(n, "w"); err != nil {
		return err
	}
	now := fs.now()
	return n.NodeOps.Setattr(n, Attr{Size: &length, Mtime: &now})
}

// Truncate sets a file's length.
func (fs *FS) Truncate(p string, length int64) error {
	n, err := fs.nodeAt(p, false)
	if err != nil {
		return err
	}
	return fs.truncateNode(n, length)
}

// Ftruncate sets an open file's length.
func (fs *FS) Ftruncate(fd int32, length int64) error {
	s, err := fs.GetStream(fd)
	if err != nil {
		return err
	}
	if !s.IsWrite() {
		return wasmbridge.EINVAL
	}
	return fs.truncateNode(s.Node, length)
}

// Utime sets access and modification times.
func (fs *FS) Utime(p string, atime, mtime time.Time, noFollow bool) error {
	n, err := fs.nodeAt(p, noFollow)
	if err != nil {
		return err
	}
	return n.NodeOps.Setattr(n, Attr{Atime: &atime, Mtime: &mtime})
}

// Access checks mode (a combination of R_OK, W_OK, X_OK) against p.
func (fs *FS) Access(p string, mode uint32, noFollow bool) error {
	if mode&^7 != 0 {
		return wasmbridge.EINVAL
	}
	n, err := fs.nodeAt(p, noFollow)
	if err != nil {
		return err
	}
	var perms string
	if mode&R_OK != 0 {
		perms += "r"
	}
	if mode&W_OK != 0 {
		perms += "w"
	}
	if mode&X_OK != 0 {
		perms += "x"
	}
	if perms != "" && fs.nodePermissions(n, perms) != nil {
		return wasmbridge.EACCES
	}
	return nil
}

// Cwd returns the working directory.
func (fs *FS) Cwd() string { return fs.cwd }

// Chdir changes the working directory.
func (fs *FS) Chdir(p string) error {
	res, err := fs.LookupPath(p, LookupOpts{Follow: true})
	if err != nil {
		return err
	}
	if !res.Node.IsDir() {
		return wasmbridge.ENOTDIR
	}
	if err := fs.nodePermissions(res.Node, "x"); err != nil {
		return err
	}
	fs.cwd = res.Path
	return nil
}

// Statfs reports filesystem capacity for the mount holding p.
func (fs *FS) Statfs(p string) (Statfs, error) {
	n, err := fs.nodeAt(p, false)
	if err != nil {
		return Statfs{}, err
	}
	return fs.statfsNode(n), nil
}

// Fstatfs is Statfs for an open descriptor.
func (fs *FS) Fstatfs(fd int32) (Statfs, error) {
	s, err := fs.GetStream(fd)
	if err != nil {
		return Statfs{}, err
	}
	return fs.statfsNode(s.Node), nil
}

func (fs *FS) statfsNode(n *Node) Statfs {
	st := Statfs{
		Bsize:   4096,
		Frsize:  4096,
		Blocks:  1e6,
		Bfree:   5e5,
		Bavail:  5e5,
		Files:   fs.nextInode,
		Ffree:   fs.nextInode - 1,
		Fsid:    42,
		Flags:   2,
		Namelen: NameMax,
	}
	if n.Mount != nil {
		if sf, ok := n.Mount.Type.(Statfser); ok {
			if host, err := sf.Statfs(n); err == nil {
				st = host
			}
		}
	}
	return st
}

// Mount attaches fsType at mountpoint. Mounting at "/" is only valid once.
func (fs *FS) Mount(fsType FileSystem, opts MountOptions, mountpoint string) (*Mount, error) {
	isRoot := mountpoint == "/"
	var point *Node
	if isRoot {
		if fs.root != nil {
			return nil, wasmbridge.EBUSY
		}
	} else {
		res, err := fs.LookupPath(mountpoint, LookupOpts{Follow: true, NoFollowMount: true})
		if err != nil {
			return nil, err
		}
		mountpoint = res.Path
		point = res.Node
		if point.IsMountpoint() {
			return nil, wasmbridge.EBUSY
		}
		if !point.IsDir() {
			return nil, wasmbridge.ENOTDIR
		}
	}

	m := &Mount{Type: fsType, Opts: opts, Mountpoint: mountpoint}
	root, err := fsType.Mount(fs, m)
	if err != nil {
		return nil, err
	}
	root.Mount = m
	m.Root = root

	if isRoot {
		fs.root = root
	} else {
		point.Mounted = m
		if point.Mount != nil {
			point.Mount.Mounts = append(point.Mount.Mounts, m)
		}
	}
	Logger().Debug("mounted filesystem",
		zap.String("type", fsType.Name()),
		zap.String("mountpoint", mountpoint),
		zap.String("root", opts.Root))
	return m, nil
}

// Unmount detaches the filesystem mounted at mountpoint.
func (fs *FS) Unmount(mountpoint string) error {
	res, err := fs.LookupPath(mountpoint, LookupOpts{NoFollowMount: true})
	if err != nil {
		return err
	}
	point := res.Node
	if !point.IsMountpoint() {
		return wasmbridge.EINVAL
	}
	m := point.Mounted
	inMount := make(map[*Mount]bool)
	for _, mm := range collectMounts(m) {
		inMount[mm] = true
	}
	for k, n := range fs.nameTable {
		if inMount[n.Mount] {
			delete(fs.nameTable, k)
		}
	}
	point.Mounted = nil
	if parent := point.Mount; parent != nil {
		for i, mm := range parent.Mounts {
			if mm == m {
				parent.Mounts = append(parent.Mounts[:i], parent.Mounts[i+1:]...)
				break
			}
		}
	}
	return nil
}

func collectMounts(m *Mount) []*Mount {
	out := []*Mount{m}
	for _, child := range m.Mounts {
		out = append(out, collectMounts(child)...)
	}
	return out
}

// ReadFile returns the whole content of p.
func (fs *FS) ReadFile(p string) ([]byte, error) {
	s, err := fs.Open(p, O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer fs.Close(s)
	st, err := s.Node.NodeOps.Getattr(s.Node)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, st.Size)
	n, err := fs.Read(s, buf, nil)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// WriteFile replaces the content of p, creating it if needed.
func (fs *FS) WriteFile(p string, data []byte, mode uint32) error {
	s, err := fs.Open(p, O_WRONLY|O_CREAT|O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := fs.Write(s, data, nil); err != nil {
		fs.Close(s)
		return err
	}
	return fs.Close(s)
}
