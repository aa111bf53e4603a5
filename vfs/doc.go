// Package vfs implements the sandbox's POSIX view of storage: a node tree
// with mount points, an in-memory backend (MEMFS), a host passthrough backend
// (HostFS), character devices and a descriptor table.
//
// An FS is owned by one bridge and is not safe for concurrent use. Worker
// threads reach it through calls proxied to the main context.
//
// Operations return wasmbridge.Errno values as errors. The Syscalls type adapts
// them to the pointer-level entry points the sandbox imports.
package vfs
