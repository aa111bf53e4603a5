package bridge

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	wasmbridge "github.com/lovell/sharp-sub001"
)

type callArgs []uint64

func (a callArgs) u(i int) uint32 { return api.DecodeU32(a[i]) }
func (a callArgs) i(i int) int32  { return api.DecodeI32(a[i]) }
func (a callArgs) l(i int) int64  { return int64(a[i]) }

// syscall builds a proxied import returning a non-negative result or
// -errno.
func syscall(name string, params []api.ValueType, fn func(a callArgs) int32) hostFunc {
	return hostFunc{
		name:    name,
		params:  params,
		results: types(i32),
		proxied: true,
		fn: api.GoFunc(func(_ context.Context, stack []uint64) {
			stack[0] = api.EncodeI32(fn(stack))
		}),
	}
}

func wasiCall(name string, params []api.ValueType, fn func(a callArgs) wasmbridge.Errno) hostFunc {
	return syscall(name, params, func(a callArgs) int32 { return int32(fn(a)) })
}

// fsImports are the emscripten syscalls backed by the virtual filesystem.
// The filesystem belongs to the main context; workers reach it by proxy.
func (b *Bridge) fsImports() []hostFunc {
	s := b.sys
	return []hostFunc{
		syscall("__syscall_openat", types(i32, i32, i32, i32), func(a callArgs) int32 {
			return s.Openat(a.i(0), a.u(1), a.u(2), a.u(3))
		}),
		syscall("__syscall_stat64", types(i32, i32), func(a callArgs) int32 {
			return s.Stat64(a.u(0), a.u(1))
		}),
		syscall("__syscall_lstat64", types(i32, i32), func(a callArgs) int32 {
			return s.Lstat64(a.u(0), a.u(1))
		}),
		syscall("__syscall_fstat64", types(i32, i32), func(a callArgs) int32 {
			return s.Fstat64(a.i(0), a.u(1))
		}),
		syscall("__syscall_newfstatat", types(i32, i32, i32, i32), func(a callArgs) int32 {
			return s.Newfstatat(a.i(0), a.u(1), a.u(2), a.u(3))
		}),
		syscall("__syscall_mkdirat", types(i32, i32, i32), func(a callArgs) int32 {
			return s.Mkdirat(a.i(0), a.u(1), a.u(2))
		}),
		syscall("__syscall_rmdir", types(i32), func(a callArgs) int32 {
			return s.Rmdir(a.u(0))
		}),
		syscall("__syscall_unlinkat", types(i32, i32, i32), func(a callArgs) int32 {
			return s.Unlinkat(a.i(0), a.u(1), a.u(2))
		}),
		syscall("__syscall_renameat", types(i32, i32, i32, i32), func(a callArgs) int32 {
			return s.Renameat(a.i(0), a.u(1), a.i(2), a.u(3))
		}),
		syscall("__syscall_symlinkat", types(i32, i32, i32), func(a callArgs) int32 {
			return s.Symlinkat(a.u(0), a.i(1), a.u(2))
		}),
		syscall("__syscall_symlink", types(i32, i32), func(a callArgs) int32 {
			return s.Symlink(a.u(0), a.u(1))
		}),
		syscall("__syscall_readlinkat", types(i32, i32, i32, i32), func(a callArgs) int32 {
			return s.Readlinkat(a.i(0), a.u(1), a.u(2), a.i(3))
		}),
		syscall("__syscall_fchmod", types(i32, i32), func(a callArgs) int32 {
			return s.Fchmod(a.i(0), a.u(1))
		}),
		syscall("__syscall_chmod", types(i32, i32), func(a callArgs) int32 {
			return s.Chmod(a.u(0), a.u(1))
		}),
		syscall("__syscall_fchmodat2", types(i32, i32, i32, i32), func(a callArgs) int32 {
			return s.Fchmodat(a.i(0), a.u(1), a.u(2), a.u(3))
		}),
		syscall("__syscall_fchown32", types(i32, i32, i32), func(a callArgs) int32 {
			return s.Fchown32(a.i(0), a.u(1), a.u(2))
		}),
		syscall("__syscall_chown32", types(i32, i32, i32), func(a callArgs) int32 {
			return s.Chown32(a.u(0), a.u(1), a.u(2))
		}),
		syscall("__syscall_fchownat", types(i32, i32, i32, i32, i32), func(a callArgs) int32 {
			return s.Fchownat(a.i(0), a.u(1), a.u(2), a.u(3), a.u(4))
		}),
		syscall("__syscall_truncate64", types(i32, i64), func(a callArgs) int32 {
			return s.Truncate64(a.u(0), a.l(1))
		}),
		syscall("__syscall_ftruncate64", types(i32, i64), func(a callArgs) int32 {
			return s.Ftruncate64(a.i(0), a.l(1))
		}),
		syscall("__syscall_getdents64", types(i32, i32, i32), func(a callArgs) int32 {
			return s.Getdents64(a.i(0), a.u(1), a.u(2))
		}),
		syscall("__syscall_fcntl64", types(i32, i32, i32), func(a callArgs) int32 {
			return s.Fcntl64(a.i(0), a.i(1), a.u(2))
		}),
		syscall("__syscall_ioctl", types(i32, i32, i32), func(a callArgs) int32 {
			return s.Ioctl(a.i(0), a.u(1), a.u(2))
		}),
		syscall("__syscall_dup", types(i32), func(a callArgs) int32 {
			return s.Dup(a.i(0))
		}),
		syscall("__syscall_dup3", types(i32, i32, i32), func(a callArgs) int32 {
			return s.Dup3(a.i(0), a.i(1), a.u(2))
		}),
		syscall("__syscall_getcwd", types(i32, i32), func(a callArgs) int32 {
			return s.Getcwd(a.u(0), a.u(1))
		}),
		syscall("__syscall_chdir", types(i32), func(a callArgs) int32 {
			return s.Chdir(a.u(0))
		}),
		syscall("__syscall_fchdir", types(i32), func(a callArgs) int32 {
			return s.Fchdir(a.i(0))
		}),
		syscall("__syscall_faccessat", types(i32, i32, i32, i32), func(a callArgs) int32 {
			return s.Faccessat(a.i(0), a.u(1), a.u(2), a.u(3))
		}),
		syscall("__syscall_utimensat", types(i32, i32, i32, i32), func(a callArgs) int32 {
			return s.Utimensat(a.i(0), a.u(1), a.u(2), a.u(3))
		}),
		syscall("__syscall_statfs64", types(i32, i32, i32), func(a callArgs) int32 {
			return s.Statfs64(a.u(0), a.u(1), a.u(2))
		}),
		syscall("__syscall_fstatfs64", types(i32, i32, i32), func(a callArgs) int32 {
			return s.Fstatfs64(a.i(0), a.u(1), a.u(2))
		}),
		syscall("__syscall_fadvise64", types(i32, i64, i64, i32), func(a callArgs) int32 {
			return s.Fadvise64(a.i(0), a.l(1), a.l(2), a.i(3))
		}),
		syscall("__syscall_fallocate", types(i32, i32, i64, i64), func(a callArgs) int32 {
			return s.Fallocate(a.i(0), a.i(1), a.l(2), a.l(3))
		}),
		syscall("_mmap_js", types(i32, i32, i32, i32, i64, i32, i32), func(a callArgs) int32 {
			return s.MmapJS(a.u(0), a.u(1), a.u(2), a.i(3), a.l(4), a.u(5), a.u(6))
		}),
		syscall("_munmap_js", types(i32, i32, i32, i32, i32, i64), func(a callArgs) int32 {
			return s.MunmapJS(a.u(0), a.u(1), a.u(2), a.u(3), a.i(4), a.l(5))
		}),
		// prot is passed but msync ignores it
		syscall("_msync_js", types(i32, i32, i32, i32, i32, i64), func(a callArgs) int32 {
			return s.Msync(a.u(0), a.u(1), a.u(3), a.i(4), a.l(5))
		}),
	}
}

// wasiOverrides replace wazero's descriptor functions so WASI and the
// emscripten syscalls share one descriptor table.
func (b *Bridge) wasiOverrides() []hostFunc {
	s := b.sys
	return []hostFunc{
		wasiCall("fd_read", types(i32, i32, i32, i32), func(a callArgs) wasmbridge.Errno {
			return s.FdRead(a.i(0), a.u(1), a.u(2), a.u(3))
		}),
		wasiCall("fd_write", types(i32, i32, i32, i32), func(a callArgs) wasmbridge.Errno {
			return s.FdWrite(a.i(0), a.u(1), a.u(2), a.u(3))
		}),
		wasiCall("fd_pread", types(i32, i32, i32, i64, i32), func(a callArgs) wasmbridge.Errno {
			return s.FdPread(a.i(0), a.u(1), a.u(2), a.l(3), a.u(4))
		}),
		wasiCall("fd_pwrite", types(i32, i32, i32, i64, i32), func(a callArgs) wasmbridge.Errno {
			return s.FdPwrite(a.i(0), a.u(1), a.u(2), a.l(3), a.u(4))
		}),
		wasiCall("fd_seek", types(i32, i64, i32, i32), func(a callArgs) wasmbridge.Errno {
			return s.FdSeek(a.i(0), a.l(1), a.u(2), a.u(3))
		}),
		wasiCall("fd_close", types(i32), func(a callArgs) wasmbridge.Errno {
			return s.FdClose(a.i(0))
		}),
		wasiCall("fd_sync", types(i32), func(a callArgs) wasmbridge.Errno {
			return s.FdSync(a.i(0))
		}),
		wasiCall("fd_fdstat_get", types(i32, i32), func(a callArgs) wasmbridge.Errno {
			return s.FdFdstatGet(a.i(0), a.u(1))
		}),
		b.procExit("proc_exit"),
	}
}
