package vfs

import (
	"os"

	wasmbridge "github.com/lovell/sharp-sub001"
)

// Stream is an open descriptor. Streams created by Dup share position and
// status flags with their origin.
type Stream struct {
	FD   int32
	Node *Node
	Path string
	Ops  StreamOps

	// FDFlags holds FD_CLOEXEC; it is per descriptor.
	FDFlags uint32

	shared *openFile
	// getdents caches the directory listing between getdents64 calls.
	getdents []string
}

// openFile is the part of an open file description shared across dups.
type openFile struct {
	flags    uint32
	position int64
	refs     int
	seekable bool
	// host is the backing host file for HostFS regular files.
	host *os.File
	// tty is the device a stream opened on a terminal talks to.
	tty Terminal
}

// SetTTY attaches a terminal to the stream.
func (s *Stream) SetTTY(t Terminal) { s.shared.tty = t }

// Flags returns the status flags.
func (s *Stream) Flags() uint32 { return s.shared.flags }

// SetFlags replaces the status flags.
func (s *Stream) SetFlags(f uint32) { s.shared.flags = f }

// Position returns the file offset.
func (s *Stream) Position() int64 { return s.shared.position }

// SetPosition moves the file offset.
func (s *Stream) SetPosition(p int64) { s.shared.position = p }

// Seekable reports whether the stream supports seeking. Terminals clear it
// when opened.
func (s *Stream) Seekable() bool { return s.shared.seekable }

// SetSeekable marks the stream seekable or not.
func (s *Stream) SetSeekable(v bool) { s.shared.seekable = v }

// IsRead reports whether the stream was opened for reading.
func (s *Stream) IsRead() bool { return s.Flags()&O_ACCMODE != O_WRONLY }

// IsWrite reports whether the stream was opened for writing.
func (s *Stream) IsWrite() bool { return s.Flags()&O_ACCMODE != O_RDONLY }

// IsAppend reports whether writes always go to the end.
func (s *Stream) IsAppend() bool { return s.Flags()&O_APPEND != 0 }

// TTY returns the terminal behind the stream, if any.
func (s *Stream) TTY() Terminal { return s.shared.tty }

// HostFile returns the host file a HostFS stream holds open.
func (s *Stream) HostFile() *os.File { return s.shared.host }

// streamTable is the descriptor table: lowest free slot first.
type streamTable struct {
	slots []*Stream
	open  int
}

func (t *streamTable) get(fd int32) *Stream {
	if fd < 0 || int(fd) >= len(t.slots) {
		return nil
	}
	return t.slots[fd]
}

func (t *streamTable) nextFD(min int32) (int32, error) {
	for fd := min; fd < MaxOpenFDs; fd++ {
		if int(fd) >= len(t.slots) {
			return fd, nil
		}
		if t.slots[fd] == nil {
			return fd, nil
		}
	}
	return -1, wasmbridge.EMFILE
}

func (t *streamTable) install(s *Stream, fd int32) {
	for int(fd) >= len(t.slots) {
		t.slots = append(t.slots, nil)
	}
	if t.slots[fd] == nil {
		t.open++
	}
	s.FD = fd
	t.slots[fd] = s
}

func (t *streamTable) remove(fd int32) {
	if t.get(fd) == nil {
		return
	}
	t.slots[fd] = nil
	t.open--
}
