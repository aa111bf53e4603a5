package vfs

// File type and permission bits.
const (
	S_IFMT   = 0o170000
	S_IFSOCK = 0o140000
	S_IFLNK  = 0o120000
	S_IFREG  = 0o100000
	S_IFBLK  = 0o060000
	S_IFDIR  = 0o040000
	S_IFCHR  = 0o020000
	S_IFIFO  = 0o010000

	S_IRWXUGO = 0o777
	S_IALLUGO = 0o7777
)

// Open flags, wasm musl values.
const (
	O_RDONLY    = 0
	O_WRONLY    = 1
	O_RDWR      = 2
	O_ACCMODE   = 3
	O_CREAT     = 0o100
	O_EXCL      = 0o200
	O_NOCTTY    = 0o400
	O_TRUNC     = 0o1000
	O_APPEND    = 0o2000
	O_NONBLOCK  = 0o4000
	O_DSYNC     = 0o10000
	O_DIRECTORY = 0o200000
	O_NOFOLLOW  = 0o400000
	O_CLOEXEC   = 0o2000000
	O_PATH      = 0o10000000
)

const (
	SEEK_SET = 0
	SEEK_CUR = 1
	SEEK_END = 2
)

// *at() flags.
const (
	AT_FDCWD            = -100
	AT_SYMLINK_NOFOLLOW = 0x100
	AT_REMOVEDIR        = 0x200
	AT_EACCESS          = 0x200
	AT_SYMLINK_FOLLOW   = 0x400
	AT_EMPTY_PATH       = 0x1000
)

// access() modes.
const (
	F_OK = 0
	X_OK = 1
	W_OK = 2
	R_OK = 4
)

// mmap protections and flags.
const (
	PROT_READ   = 1
	PROT_WRITE  = 2
	MAP_SHARED  = 1
	MAP_PRIVATE = 2
)

const (
	// MaxOpenFDs is the size of the descriptor table.
	MaxOpenFDs = 4096
	// MaxSymlinkFollows bounds the number of links resolved during one lookup.
	MaxSymlinkFollows = 40
	// maxLookupDepth bounds recursion through nested symlink targets.
	maxLookupDepth = 8
	// CapacityDoublingMax is the file size above which MEMFS grows additively.
	CapacityDoublingMax = 1 << 20
	// PathMax mirrors PATH_MAX.
	PathMax = 4096
	// NameMax mirrors NAME_MAX.
	NameMax = 255
)

// Makedev packs a device number.
func Makedev(major, minor uint32) uint64 { return uint64(major)<<8 | uint64(minor) }

// Major extracts the major device number.
func Major(dev uint64) uint32 { return uint32(dev >> 8) }

// Minor extracts the minor device number.
func Minor(dev uint64) uint32 { return uint32(dev & 0xff) }

func isDir(mode uint32) bool  { return mode&S_IFMT == S_IFDIR }
func isFile(mode uint32) bool { return mode&S_IFMT == S_IFREG }
func isLink(mode uint32) bool { return mode&S_IFMT == S_IFLNK }
func isChr(mode uint32) bool  { return mode&S_IFMT == S_IFCHR }
