package vfs

import (
	"path"
	"time"

	"go.uber.org/zap"

	wasmbridge "github.com/lovell/sharp-sub001"
	"github.com/lovell/sharp-sub001/errors"
	"github.com/lovell/sharp-sub001/memory"
)

// struct layouts on wasm32
const (
	statSize    = 96
	direntSize  = 280
	iovecSize   = 8
	timespecLen = 16

	utimeNow  = (1 << 30) - 1
	utimeOmit = (1 << 30) - 2
)

// ioctl requests
const (
	TCGETS     = 0x5401
	TCSETS     = 0x5402
	TCSETSW    = 0x5403
	TCSETSF    = 0x5404
	TCGETA     = 0x5405
	TCSETA     = 0x5406
	TCSETAW    = 0x5407
	TCSETAF    = 0x5408
	TIOCGPGRP  = 0x540F
	TIOCSPGRP  = 0x5410
	TIOCGWINSZ = 0x5413
	TIOCSWINSZ = 0x5414
	FIONREAD   = 0x541B
)

// fcntl commands
const (
	F_DUPFD         = 0
	F_GETFD         = 1
	F_SETFD         = 2
	F_GETFL         = 3
	F_SETFL         = 4
	F_GETLK         = 5
	F_SETLK         = 6
	F_SETLKW        = 7
	F_GETLK64       = 12
	F_SETLK64       = 13
	F_SETLKW64      = 14
	F_DUPFD_CLOEXEC = 1030

	FD_CLOEXEC = 1
	F_UNLCK    = 2
)

// Syscalls adapts FS to the pointer-level entry points the sandbox imports.
// Every method returns a non-negative result or -errno; faults on guest
// pointers come back as -EFAULT.
type Syscalls struct {
	FS  *FS
	Mem *memory.Manager
	// Alloc backs mmap. Without it mmap fails with ENOMEM.
	Alloc wasmbridge.Allocator
}

// NewSyscalls binds fs to mem.
func NewSyscalls(fs *FS, mem *memory.Manager) *Syscalls {
	return &Syscalls{FS: fs, Mem: mem}
}

func (s *Syscalls) run(name string, fn func(v *memory.Views) (int32, error)) (ret int32) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(*errors.Error)
			if !ok || e.Phase != errors.PhaseMemory {
				panic(r)
			}
			Logger().Debug("syscall fault", zap.String("syscall", name), zap.Error(e))
			ret = wasmbridge.EFAULT.Neg()
		}
	}()
	s.Mem.Sync()
	n, err := fn(s.Mem.Views())
	if err != nil {
		e := wasmbridge.ErrnoOf(err)
		Logger().Debug("syscall failed", zap.String("syscall", name), zap.String("errno", e.Error()))
		return e.Neg()
	}
	return n
}

// calculateAt resolves p relative to dirfd.
func (s *Syscalls) calculateAt(dirfd int32, p string, allowEmpty bool) (string, error) {
	if path.IsAbs(p) {
		return p, nil
	}
	var dir string
	if dirfd == AT_FDCWD {
		dir = s.FS.Cwd()
	} else {
		st, err := s.FS.GetStream(dirfd)
		if err != nil {
			return "", err
		}
		dir = st.Path
	}
	if p == "" {
		if !allowEmpty {
			return "", wasmbridge.ENOENT
		}
		return dir, nil
	}
	return dir + "/" + p, nil
}

func writeStat(v *memory.Views, buf uint32, st Stat) {
	v.SetU32(buf+0, uint32(st.Dev))
	v.SetU32(buf+4, st.Mode)
	v.SetU32(buf+8, st.Nlink)
	v.SetU32(buf+12, st.UID)
	v.SetU32(buf+16, st.GID)
	v.SetU32(buf+20, uint32(st.Rdev))
	v.SetI64(buf+24, st.Size)
	v.SetI32(buf+32, 4096)
	v.SetI32(buf+36, int32(st.Blocks))
	writeTime(v, buf+40, st.Atime)
	writeTime(v, buf+56, st.Mtime)
	writeTime(v, buf+72, st.Ctime)
	v.SetU64(buf+88, st.Ino)
}

func writeTime(v *memory.Views, at uint32, t time.Time) {
	v.SetI64(at, t.Unix())
	v.SetU32(at+8, uint32(t.Nanosecond()))
}

func writeStatfs(v *memory.Views, buf uint32, st Statfs) {
	v.SetU32(buf+4, st.Bsize)
	v.SetU32(buf+40, st.Frsize)
	v.SetU32(buf+8, uint32(st.Blocks))
	v.SetU32(buf+12, uint32(st.Bfree))
	v.SetU32(buf+16, uint32(st.Bavail))
	v.SetU32(buf+20, uint32(st.Files))
	v.SetU32(buf+24, uint32(st.Ffree))
	v.SetU32(buf+28, st.Fsid)
	v.SetU32(buf+44, st.Flags)
	v.SetU32(buf+36, st.Namelen)
}

func (s *Syscalls) Openat(dirfd int32, pathPtr, flags, varargs uint32) int32 {
	return s.run("openat", func(v *memory.Views) (int32, error) {
		p, err := s.calculateAt(dirfd, v.CString(pathPtr), false)
		if err != nil {
			return 0, err
		}
		var mode uint32
		if varargs != 0 {
			mode = v.U32(varargs)
		}
		st, err := s.FS.Open(p, flags, mode)
		if err != nil {
			return 0, err
		}
		return st.FD, nil
	})
}

func (s *Syscalls) Close(fd int32) int32 {
	return s.run("close", func(v *memory.Views) (int32, error) {
		st, err := s.FS.GetStream(fd)
		if err != nil {
			return 0, err
		}
		return 0, s.FS.Close(st)
	})
}

func (s *Syscalls) Stat64(pathPtr, buf uint32) int32 {
	return s.run("stat64", func(v *memory.Views) (int32, error) {
		st, err := s.FS.Stat(v.CString(pathPtr), false)
		if err != nil {
			return 0, err
		}
		writeStat(v, buf, st)
		return 0, nil
	})
}

func (s *Syscalls) Lstat64(pathPtr, buf uint32) int32 {
	return s.run("lstat64", func(v *memory.Views) (int32, error) {
		st, err := s.FS.Lstat(v.CString(pathPtr))
		if err != nil {
			return 0, err
		}
		writeStat(v, buf, st)
		return 0, nil
	})
}

func (s *Syscalls) Fstat64(fd int32, buf uint32) int32 {
	return s.run("fstat64", func(v *memory.Views) (int32, error) {
		st, err := s.FS.Fstat(fd)
		if err != nil {
			return 0, err
		}
		writeStat(v, buf, st)
		return 0, nil
	})
}

func (s *Syscalls) Newfstatat(dirfd int32, pathPtr, buf, flags uint32) int32 {
	return s.run("newfstatat", func(v *memory.Views) (int32, error) {
		noFollow := flags&AT_SYMLINK_NOFOLLOW != 0
		allowEmpty := flags&AT_EMPTY_PATH != 0
		if flags&^(AT_SYMLINK_NOFOLLOW|AT_EMPTY_PATH|0x800) != 0 {
			return 0, wasmbridge.EINVAL
		}
		p, err := s.calculateAt(dirfd, v.CString(pathPtr), allowEmpty)
		if err != nil {
			return 0, err
		}
		st, err := s.FS.Stat(p, noFollow)
		if err != nil {
			return 0, err
		}
		writeStat(v, buf, st)
		return 0, nil
	})
}

func (s *Syscalls) Mkdirat(dirfd int32, pathPtr, mode uint32) int32 {
	return s.run("mkdirat", func(v *memory.Views) (int32, error) {
		p, err := s.calculateAt(dirfd, v.CString(pathPtr), false)
		if err != nil {
			return 0, err
		}
		p = path.Clean(p)
		_, err = s.FS.Mkdir(p, mode)
		return 0, err
	})
}

func (s *Syscalls) Rmdir(pathPtr uint32) int32 {
	return s.run("rmdir", func(v *memory.Views) (int32, error) {
		return 0, s.FS.Rmdir(v.CString(pathPtr))
	})
}

func (s *Syscalls) Unlinkat(dirfd int32, pathPtr, flags uint32) int32 {
	return s.run("unlinkat", func(v *memory.Views) (int32, error) {
		p, err := s.calculateAt(dirfd, v.CString(pathPtr), false)
		if err != nil {
			return 0, err
		}
		switch flags {
		case 0:
			return 0, s.FS.Unlink(p)
		case AT_REMOVEDIR:
			return 0, s.FS.Rmdir(p)
		}
		return 0, wasmbridge.EINVAL
	})
}

func (s *Syscalls) Renameat(olddirfd int32, oldPtr uint32, newdirfd int32, newPtr uint32) int32 {
	return s.run("renameat", func(v *memory.Views) (int32, error) {
		oldp, err := s.calculateAt(olddirfd, v.CString(oldPtr), false)
		if err != nil {
			return 0, err
		}
		newp, err := s.calculateAt(newdirfd, v.CString(newPtr), false)
		if err != nil {
			return 0, err
		}
		return 0, s.FS.Rename(oldp, newp)
	})
}

func (s *Syscalls) Symlinkat(targetPtr uint32, newdirfd int32, linkPtr uint32) int32 {
	return s.run("symlinkat", func(v *memory.Views) (int32, error) {
		p, err := s.calculateAt(newdirfd, v.CString(linkPtr), false)
		if err != nil {
			return 0, err
		}
		return 0, s.FS.Symlink(v.CString(targetPtr), p)
	})
}

func (s *Syscalls) Symlink(targetPtr, linkPtr uint32) int32 {
	return s.Symlinkat(targetPtr, AT_FDCWD, linkPtr)
}

// Readlinkat copies the link target without a terminator, truncated to
// bufsize, and returns its length.
func (s *Syscalls) Readlinkat(dirfd int32, pathPtr, buf uint32, bufsize int32) int32 {
	return s.run("readlinkat", func(v *memory.Views) (int32, error) {
		if bufsize <= 0 {
			return 0, wasmbridge.EINVAL
		}
		p, err := s.calculateAt(dirfd, v.CString(pathPtr), false)
		if err != nil {
			return 0, err
		}
		target, err := s.FS.Readlink(p)
		if err != nil {
			return 0, err
		}
		n := min(len(target), int(bufsize))
		v.Write(buf, []byte(target[:n]))
		return int32(n), nil
	})
}

func (s *Syscalls) Fchmod(fd int32, mode uint32) int32 {
	return s.run("fchmod", func(v *memory.Views) (int32, error) {
		return 0, s.FS.Fchmod(fd, mode)
	})
}

func (s *Syscalls) Chmod(pathPtr, mode uint32) int32 {
	return s.run("chmod", func(v *memory.Views) (int32, error) {
		return 0, s.FS.Chmod(v.CString(pathPtr), mode, false)
	})
}

func (s *Syscalls) Fchmodat(dirfd int32, pathPtr, mode, flags uint32) int32 {
	return s.run("fchmodat", func(v *memory.Views) (int32, error) {
		p, err := s.calculateAt(dirfd, v.CString(pathPtr), false)
		if err != nil {
			return 0, err
		}
		return 0, s.FS.Chmod(p, mode, flags&AT_SYMLINK_NOFOLLOW != 0)
	})
}

func (s *Syscalls) Fchown32(fd int32, uid, gid uint32) int32 {
	return s.run("fchown32", func(v *memory.Views) (int32, error) {
		return 0, s.FS.Fchown(fd, uid, gid)
	})
}

func (s *Syscalls) Chown32(pathPtr, uid, gid uint32) int32 {
	return s.run("chown32", func(v *memory.Views) (int32, error) {
		return 0, s.FS.Chown(v.CString(pathPtr), uid, gid, false)
	})
}

func (s *Syscalls) Fchownat(dirfd int32, pathPtr, uid, gid, flags uint32) int32 {
	return s.run("fchownat", func(v *memory.Views) (int32, error) {
		p, err := s.calculateAt(dirfd, v.CString(pathPtr), flags&AT_EMPTY_PATH != 0)
		if err != nil {
			return 0, err
		}
		return 0, s.FS.Chown(p, uid, gid, flags&AT_SYMLINK_NOFOLLOW != 0)
	})
}

func (s *Syscalls) Truncate64(pathPtr uint32, length int64) int32 {
	return s.run("truncate64", func(v *memory.Views) (int32, error) {
		return 0, s.FS.Truncate(v.CString(pathPtr), length)
	})
}

func (s *Syscalls) Ftruncate64(fd int32, length int64) int32 {
	return s.run("ftruncate64", func(v *memory.Views) (int32, error) {
		return 0, s.FS.Ftruncate(fd, length)
	})
}

// Getdents64 fills dirp with fixed-size struct dirent64 records. The stream
// offset counts records, scaled by the record size.
func (s *Syscalls) Getdents64(fd int32, dirp, count uint32) int32 {
	return s.run("getdents64", func(v *memory.Views) (int32, error) {
		st, err := s.FS.GetStream(fd)
		if err != nil {
			return 0, err
		}
		if st.getdents == nil {
			if st.getdents, err = s.FS.readdirNode(st.Node); err != nil {
				return 0, err
			}
		}
		off := st.Position()
		start := int(off / direntSize)
		end := min(len(st.getdents), start+int(count/direntSize))
		pos := uint32(0)
		idx := start
		for ; idx < end; idx++ {
			name := st.getdents[idx]
			var id uint64
			var typ uint8
			switch name {
			case ".":
				id, typ = st.Node.ID, 4
			case "..":
				id, typ = s.FS.parentOf(st.Node).ID, 4
			default:
				child, err := s.FS.LookupNode(st.Node, name)
				if err != nil {
					continue
				}
				id = child.ID
				switch {
				case child.IsDevice():
					typ = 2
				case child.IsDir():
					typ = 4
				case child.IsLink():
					typ = 10
				default:
					typ = 8
				}
			}
			rec := dirp + pos
			v.SetU64(rec, id)
			v.SetI64(rec+8, int64(idx+1)*direntSize)
			v.SetU16(rec+16, direntSize)
			v.SetU8(rec+18, typ)
			v.WriteCString(rec+19, name, 256)
			pos += direntSize
		}
		st.SetPosition(int64(idx) * direntSize)
		return int32(pos), nil
	})
}

func (s *Syscalls) Fcntl64(fd int32, cmd int32, varargs uint32) int32 {
	return s.run("fcntl64", func(v *memory.Views) (int32, error) {
		st, err := s.FS.GetStream(fd)
		if err != nil {
			return 0, err
		}
		switch cmd {
		case F_DUPFD, F_DUPFD_CLOEXEC:
			arg := v.I32(varargs)
			if arg < 0 {
				return 0, wasmbridge.EINVAL
			}
			dup, err := s.FS.Dup(st, arg)
			if err != nil {
				return 0, err
			}
			if cmd == F_DUPFD_CLOEXEC {
				dup.FDFlags = FD_CLOEXEC
			}
			return dup.FD, nil
		case F_GETFD:
			return int32(st.FDFlags), nil
		case F_SETFD:
			st.FDFlags = v.U32(varargs) & FD_CLOEXEC
			return 0, nil
		case F_GETFL:
			return int32(st.Flags()), nil
		case F_SETFL:
			arg := v.U32(varargs)
			st.SetFlags(st.Flags() | arg&(O_APPEND|O_NONBLOCK))
			return 0, nil
		case F_GETLK, F_GETLK64:
			v.SetI16(v.U32(varargs), F_UNLCK)
			return 0, nil
		case F_SETLK, F_SETLKW, F_SETLK64, F_SETLKW64:
			return 0, nil
		}
		return 0, wasmbridge.EINVAL
	})
}

func (s *Syscalls) Ioctl(fd int32, op uint32, varargs uint32) int32 {
	return s.run("ioctl", func(v *memory.Views) (int32, error) {
		st, err := s.FS.GetStream(fd)
		if err != nil {
			return 0, err
		}
		tty := st.TTY()
		switch op {
		case TCGETA, TCGETS:
			if tty == nil {
				return 0, wasmbridge.ENOTTY
			}
			argp := v.U32(varargs)
			tio := tty.Termios()
			v.SetU32(argp, tio.Iflag)
			v.SetU32(argp+4, tio.Oflag)
			v.SetU32(argp+8, tio.Cflag)
			v.SetU32(argp+12, tio.Lflag)
			v.Write(argp+17, tio.CC[:])
			return 0, nil
		case TCSETA, TCSETAW, TCSETAF:
			if tty == nil {
				return 0, wasmbridge.ENOTTY
			}
			return 0, nil
		case TCSETS, TCSETSW, TCSETSF:
			if tty == nil {
				return 0, wasmbridge.ENOTTY
			}
			argp := v.U32(varargs)
			var tio Termios
			tio.Iflag = v.U32(argp)
			tio.Oflag = v.U32(argp + 4)
			tio.Cflag = v.U32(argp + 8)
			tio.Lflag = v.U32(argp + 12)
			copy(tio.CC[:], v.Slice(argp+17, 32))
			tty.SetTermios(tio)
			return 0, nil
		case TIOCGPGRP:
			if tty == nil {
				return 0, wasmbridge.ENOTTY
			}
			v.SetI32(v.U32(varargs), 0)
			return 0, nil
		case TIOCSPGRP:
			if tty == nil {
				return 0, wasmbridge.ENOTTY
			}
			return 0, wasmbridge.EINVAL
		case TIOCGWINSZ:
			if tty == nil {
				return 0, wasmbridge.ENOTTY
			}
			argp := v.U32(varargs)
			rows, cols := tty.WindowSize()
			v.SetU16(argp, rows)
			v.SetU16(argp+2, cols)
			return 0, nil
		case TIOCSWINSZ:
			if tty == nil {
				return 0, wasmbridge.ENOTTY
			}
			return 0, nil
		case FIONREAD:
			if tty == nil {
				return 0, wasmbridge.ENOTTY
			}
			v.SetI32(v.U32(varargs), int32(tty.Pending()))
			return 0, nil
		}
		return 0, wasmbridge.EINVAL
	})
}

func (s *Syscalls) Dup(fd int32) int32 {
	return s.run("dup", func(v *memory.Views) (int32, error) {
		st, err := s.FS.GetStream(fd)
		if err != nil {
			return 0, err
		}
		dup, err := s.FS.Dup(st, 0)
		if err != nil {
			return 0, err
		}
		return dup.FD, nil
	})
}

func (s *Syscalls) Dup3(fd, newfd int32, flags uint32) int32 {
	return s.run("dup3", func(v *memory.Views) (int32, error) {
		dup, err := s.FS.Dup3(fd, newfd, flags)
		if err != nil {
			return 0, err
		}
		return dup.FD, nil
	})
}

// Getcwd writes the working directory and returns its size including the
// terminator.
func (s *Syscalls) Getcwd(buf, size uint32) int32 {
	return s.run("getcwd", func(v *memory.Views) (int32, error) {
		if size == 0 {
			return 0, wasmbridge.EINVAL
		}
		cwd := s.FS.Cwd()
		need := uint32(len(cwd)) + 1
		if size < need {
			return 0, wasmbridge.ERANGE
		}
		v.WriteCString(buf, cwd, size)
		return int32(need), nil
	})
}

func (s *Syscalls) Chdir(pathPtr uint32) int32 {
	return s.run("chdir", func(v *memory.Views) (int32, error) {
		return 0, s.FS.Chdir(v.CString(pathPtr))
	})
}

func (s *Syscalls) Fchdir(fd int32) int32 {
	return s.run("fchdir", func(v *memory.Views) (int32, error) {
		st, err := s.FS.GetStream(fd)
		if err != nil {
			return 0, err
		}
		return 0, s.FS.Chdir(st.Path)
	})
}

func (s *Syscalls) Faccessat(dirfd int32, pathPtr, amode, flags uint32) int32 {
	return s.run("faccessat", func(v *memory.Views) (int32, error) {
		p, err := s.calculateAt(dirfd, v.CString(pathPtr), false)
		if err != nil {
			return 0, err
		}
		return 0, s.FS.Access(p, amode, flags&AT_SYMLINK_NOFOLLOW != 0)
	})
}

func (s *Syscalls) Utimensat(dirfd int32, pathPtr, times, flags uint32) int32 {
	return s.run("utimensat", func(v *memory.Views) (int32, error) {
		p, err := s.calculateAt(dirfd, v.CString(pathPtr), true)
		if err != nil {
			return 0, err
		}
		noFollow := flags&AT_SYMLINK_NOFOLLOW != 0
		now := s.FS.Now()
		atime, mtime := now, now
		if times != 0 {
			st, err := s.FS.Stat(p, noFollow)
			if err != nil {
				return 0, err
			}
			var omitA, omitM bool
			atime, omitA = readTimespec(v, times, now, st.Atime)
			mtime, omitM = readTimespec(v, times+timespecLen, now, st.Mtime)
			if omitA && omitM {
				return 0, nil
			}
		}
		return 0, s.FS.Utime(p, atime, mtime, noFollow)
	})
}

func readTimespec(v *memory.Views, at uint32, now, cur time.Time) (time.Time, bool) {
	sec := v.I64(at)
	nsec := v.I32(at + 8)
	switch nsec {
	case utimeNow:
		return now, false
	case utimeOmit:
		return cur, true
	}
	return time.Unix(sec, int64(nsec)), false
}

func (s *Syscalls) Statfs64(pathPtr, size, buf uint32) int32 {
	return s.run("statfs64", func(v *memory.Views) (int32, error) {
		st, err := s.FS.Statfs(v.CString(pathPtr))
		if err != nil {
			return 0, err
		}
		writeStatfs(v, buf, st)
		return 0, nil
	})
}

func (s *Syscalls) Fstatfs64(fd int32, size, buf uint32) int32 {
	return s.run("fstatfs64", func(v *memory.Views) (int32, error) {
		st, err := s.FS.Fstatfs(fd)
		if err != nil {
			return 0, err
		}
		writeStatfs(v, buf, st)
		return 0, nil
	})
}

// MmapJS maps fd into freshly allocated, 64 KiB aligned memory and reports
// the address and whether the caller owns the allocation.
func (s *Syscalls) MmapJS(length, prot, flags uint32, fd int32, offset int64, allocatedPtr, addrPtr uint32) int32 {
	return s.run("mmap", func(v *memory.Views) (int32, error) {
		st, err := s.FS.GetStream(fd)
		if err != nil {
			return 0, err
		}
		data, err := s.FS.Mmap(st, int(length), offset, prot, flags)
		if err != nil {
			return 0, err
		}
		if s.Alloc == nil {
			return 0, wasmbridge.ENOMEM
		}
		size := (length + memory.PageSize - 1) &^ (memory.PageSize - 1)
		ptr, err := s.Alloc.Alloc(size, memory.PageSize)
		if err != nil || ptr == 0 {
			return 0, wasmbridge.ENOMEM
		}
		v.Fill(ptr, size, 0)
		v.Write(ptr, data)
		v.SetI32(allocatedPtr, 1)
		v.SetU32(addrPtr, ptr)
		return 0, nil
	})
}

func (s *Syscalls) MunmapJS(addr, length, prot, flags uint32, fd int32, offset int64) int32 {
	return s.run("munmap", func(v *memory.Views) (int32, error) {
		st, err := s.FS.GetStream(fd)
		if err != nil {
			return 0, err
		}
		if prot&PROT_WRITE == 0 {
			return 0, nil
		}
		return 0, s.FS.Munmap(st, v.Read(addr, length), offset, prot, flags)
	})
}

func (s *Syscalls) Msync(addr, length, flags uint32, fd int32, offset int64) int32 {
	return s.run("msync", func(v *memory.Views) (int32, error) {
		st, err := s.FS.GetStream(fd)
		if err != nil {
			return 0, err
		}
		if !st.Node.IsFile() {
			return 0, wasmbridge.ENODEV
		}
		if flags&MAP_PRIVATE != 0 {
			return 0, nil
		}
		return 0, s.FS.Msync(st, v.Read(addr, length), offset, flags)
	})
}

func (s *Syscalls) Fadvise64(fd int32, offset, length int64, advice int32) int32 {
	return 0
}

func (s *Syscalls) Fallocate(fd int32, mode int32, offset, length int64) int32 {
	return s.run("fallocate", func(v *memory.Views) (int32, error) {
		if mode != 0 {
			return 0, wasmbridge.ENOTSUP
		}
		st, err := s.FS.GetStream(fd)
		if err != nil {
			return 0, err
		}
		return 0, s.FS.Allocate(st, offset, length)
	})
}
