package vfs

import (
	"go.uber.org/zap"

	wasmbridge "github.com/lovell/sharp-sub001"
	"github.com/lovell/sharp-sub001/errors"
	"github.com/lovell/sharp-sub001/memory"
)

// WASI filetypes reported by fd_fdstat_get.
const (
	FiletypeCharacterDevice = 2
	FiletypeDirectory       = 3
	FiletypeRegularFile     = 4
	FiletypeSymbolicLink    = 7
)

// The fd_* entry points follow wasi_snapshot_preview1: they return a
// positive errno and deliver results through out pointers.

func (s *Syscalls) runWASI(name string, fn func(v *memory.Views) error) (ret wasmbridge.Errno) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(*errors.Error)
			if !ok || e.Phase != errors.PhaseMemory {
				panic(r)
			}
			ret = wasmbridge.EFAULT
		}
	}()
	s.Mem.Sync()
	if err := fn(s.Mem.Views()); err != nil {
		e := wasmbridge.ErrnoOf(err)
		Logger().Debug("wasi call failed", zap.String("func", name), zap.String("errno", e.Error()))
		return e
	}
	return wasmbridge.ESUCCESS
}

// readv fills the iovecs in order, stopping at the first short read.
func (s *Syscalls) readv(v *memory.Views, st *Stream, iov, iovcnt uint32, offset *int64) (uint32, error) {
	var total uint32
	for i := range iovcnt {
		rec := iov + i*iovecSize
		ptr, n := v.U32(rec), v.U32(rec+4)
		got, err := s.FS.Read(st, v.Slice(ptr, n), offset)
		if err != nil {
			return 0, err
		}
		total += uint32(got)
		if uint32(got) < n {
			break
		}
		if offset != nil {
			*offset += int64(got)
		}
	}
	return total, nil
}

func (s *Syscalls) writev(v *memory.Views, st *Stream, iov, iovcnt uint32, offset *int64) (uint32, error) {
	var total uint32
	for i := range iovcnt {
		rec := iov + i*iovecSize
		ptr, n := v.U32(rec), v.U32(rec+4)
		got, err := s.FS.Write(st, v.Slice(ptr, n), offset)
		if err != nil {
			return 0, err
		}
		total += uint32(got)
		if offset != nil {
			*offset += int64(got)
		}
	}
	return total, nil
}

func (s *Syscalls) FdRead(fd int32, iov, iovcnt, nread uint32) wasmbridge.Errno {
	return s.runWASI("fd_read", func(v *memory.Views) error {
		st, err := s.FS.GetStream(fd)
		if err != nil {
			return err
		}
		n, err := s.readv(v, st, iov, iovcnt, nil)
		if err != nil {
			return err
		}
		v.SetU32(nread, n)
		return nil
	})
}

func (s *Syscalls) FdWrite(fd int32, iov, iovcnt, nwritten uint32) wasmbridge.Errno {
	return s.runWASI("fd_write", func(v *memory.Views) error {
		st, err := s.FS.GetStream(fd)
		if err != nil {
			return err
		}
		n, err := s.writev(v, st, iov, iovcnt, nil)
		if err != nil {
			return err
		}
		v.SetU32(nwritten, n)
		return nil
	})
}

func (s *Syscalls) FdPread(fd int32, iov, iovcnt uint32, offset int64, nread uint32) wasmbridge.Errno {
	return s.runWASI("fd_pread", func(v *memory.Views) error {
		st, err := s.FS.GetStream(fd)
		if err != nil {
			return err
		}
		n, err := s.readv(v, st, iov, iovcnt, &offset)
		if err != nil {
			return err
		}
		v.SetU32(nread, n)
		return nil
	})
}

func (s *Syscalls) FdPwrite(fd int32, iov, iovcnt uint32, offset int64, nwritten uint32) wasmbridge.Errno {
	return s.runWASI("fd_pwrite", func(v *memory.Views) error {
		st, err := s.FS.GetStream(fd)
		if err != nil {
			return err
		}
		n, err := s.writev(v, st, iov, iovcnt, &offset)
		if err != nil {
			return err
		}
		v.SetU32(nwritten, n)
		return nil
	})
}

// FdSeek repositions fd. Rewinding a directory also drops its cached
// listing so the next getdents64 re-reads it.
func (s *Syscalls) FdSeek(fd int32, offset int64, whence uint32, newOffset uint32) wasmbridge.Errno {
	return s.runWASI("fd_seek", func(v *memory.Views) error {
		st, err := s.FS.GetStream(fd)
		if err != nil {
			return err
		}
		pos, err := s.FS.Llseek(st, offset, int(whence))
		if err != nil {
			return err
		}
		v.SetI64(newOffset, pos)
		if st.getdents != nil && offset == 0 && whence == SEEK_SET {
			st.getdents = nil
		}
		return nil
	})
}

func (s *Syscalls) FdClose(fd int32) wasmbridge.Errno {
	return s.runWASI("fd_close", func(v *memory.Views) error {
		st, err := s.FS.GetStream(fd)
		if err != nil {
			return err
		}
		return s.FS.Close(st)
	})
}

func (s *Syscalls) FdSync(fd int32) wasmbridge.Errno {
	return s.runWASI("fd_sync", func(v *memory.Views) error {
		st, err := s.FS.GetStream(fd)
		if err != nil {
			return err
		}
		return s.FS.Fsync(st)
	})
}

// FdFdstatGet writes a 24-byte fdstat. Rights are reported as zero.
func (s *Syscalls) FdFdstatGet(fd int32, buf uint32) wasmbridge.Errno {
	return s.runWASI("fd_fdstat_get", func(v *memory.Views) error {
		st, err := s.FS.GetStream(fd)
		if err != nil {
			return err
		}
		var typ uint8
		switch {
		case st.TTY() != nil, st.Node.IsDevice():
			typ = FiletypeCharacterDevice
		case st.Node.IsDir():
			typ = FiletypeDirectory
		case st.Node.IsLink():
			typ = FiletypeSymbolicLink
		default:
			typ = FiletypeRegularFile
		}
		v.SetU8(buf, typ)
		var flags uint16
		if st.IsAppend() {
			flags |= 1
		}
		if st.Flags()&O_NONBLOCK != 0 {
			flags |= 4
		}
		v.SetU16(buf+2, flags)
		v.SetU64(buf+8, 0)
		v.SetU64(buf+16, 0)
		return nil
	})
}
