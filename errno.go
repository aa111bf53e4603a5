package wasmbridge

import (
	"strconv"

	"github.com/lovell/sharp-sub001/errors"
)

// Errno is an errno value in the sandbox's numbering (WASI / wasm musl),
// which differs from the host's. Syscall emulation returns -Errno.
type Errno int32

const (
	ESUCCESS     Errno = 0
	E2BIG        Errno = 1
	EACCES       Errno = 2
	EAGAIN       Errno = 6
	EBADF        Errno = 8
	EBUSY        Errno = 10
	ECANCELED    Errno = 11
	EDEADLK      Errno = 16
	EEXIST       Errno = 20
	EFAULT       Errno = 21
	EFBIG        Errno = 22
	EINTR        Errno = 27
	EINVAL       Errno = 28
	EIO          Errno = 29
	EISDIR       Errno = 31
	ELOOP        Errno = 32
	EMFILE       Errno = 33
	EMLINK       Errno = 34
	ENAMETOOLONG Errno = 37
	ENFILE       Errno = 41
	ENODEV       Errno = 43
	ENOENT       Errno = 44
	ENOMEM       Errno = 48
	ENOSPC       Errno = 51
	ENOSYS       Errno = 52
	ENOTDIR      Errno = 54
	ENOTEMPTY    Errno = 55
	ENOTSUP      Errno = 58
	ENOTTY       Errno = 59
	ENXIO        Errno = 60
	EOVERFLOW    Errno = 61
	EPERM        Errno = 63
	EPIPE        Errno = 64
	ERANGE       Errno = 68
	EROFS        Errno = 69
	ESPIPE       Errno = 70
	ESRCH        Errno = 71
	ETIMEDOUT    Errno = 73
	EXDEV        Errno = 75
	ENOTCAPABLE  Errno = 76
)

var errnoNames = map[Errno]string{
	ESUCCESS:     "ESUCCESS",
	E2BIG:        "E2BIG",
	EACCES:       "EACCES",
	EAGAIN:       "EAGAIN",
	EBADF:        "EBADF",
	EBUSY:        "EBUSY",
	ECANCELED:    "ECANCELED",
	EDEADLK:      "EDEADLK",
	EEXIST:       "EEXIST",
	EFAULT:       "EFAULT",
	EFBIG:        "EFBIG",
	EINTR:        "EINTR",
	EINVAL:       "EINVAL",
	EIO:          "EIO",
	EISDIR:       "EISDIR",
	ELOOP:        "ELOOP",
	EMFILE:       "EMFILE",
	EMLINK:       "EMLINK",
	ENAMETOOLONG: "ENAMETOOLONG",
	ENFILE:       "ENFILE",
	ENODEV:       "ENODEV",
	ENOENT:       "ENOENT",
	ENOMEM:       "ENOMEM",
	ENOSPC:       "ENOSPC",
	ENOSYS:       "ENOSYS",
	ENOTDIR:      "ENOTDIR",
	ENOTEMPTY:    "ENOTEMPTY",
	ENOTSUP:      "ENOTSUP",
	ENOTTY:       "ENOTTY",
	ENXIO:        "ENXIO",
	EOVERFLOW:    "EOVERFLOW",
	EPERM:        "EPERM",
	EPIPE:        "EPIPE",
	ERANGE:       "ERANGE",
	EROFS:        "EROFS",
	ESPIPE:       "ESPIPE",
	ESRCH:        "ESRCH",
	ETIMEDOUT:    "ETIMEDOUT",
	EXDEV:        "EXDEV",
	ENOTCAPABLE:  "ENOTCAPABLE",
}

func (e Errno) Error() string {
	if name, ok := errnoNames[e]; ok {
		return name
	}
	return "errno " + strconv.Itoa(int(e))
}

// Neg returns the value a syscall returns for this error.
func (e Errno) Neg() int32 { return -int32(e) }

// ErrnoOf extracts an Errno from err. Nil maps to ESUCCESS, bad memory
// accesses map to EFAULT and anything else maps to EIO.
func ErrnoOf(err error) Errno {
	if err == nil {
		return ESUCCESS
	}
	for err != nil {
		switch e := err.(type) {
		case Errno:
			return e
		case *errors.Error:
			if e.Phase == errors.PhaseMemory && e.Kind == errors.KindOutOfBounds {
				return EFAULT
			}
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return EIO
}
