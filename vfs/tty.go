package vfs

import (
	"bufio"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/term"

	wasmbridge "github.com/lovell/sharp-sub001"
)

// Termios mirrors the fields of struct termios the sandbox reads back.
type Termios struct {
	Iflag uint32
	Oflag uint32
	Cflag uint32
	Lflag uint32
	CC    [32]byte
}

// DefaultTermios is a cooked-mode terminal.
var DefaultTermios = Termios{
	Iflag: 25856,
	Oflag: 5,
	Cflag: 191,
	Lflag: 35387,
	CC: [32]byte{
		0x03, 0x1c, 0x7f, 0x15, 0x04, 0x00, 0x01, 0x00, 0x11, 0x13, 0x1a, 0x00,
		0x12, 0x0f, 0x17, 0x16, 0x00,
	},
}

// TTY is a line-buffered terminal device. Output is flushed to the host
// writer at each newline and on fsync or close.
type TTY struct {
	mu      sync.Mutex
	in      *bufio.Reader
	out     io.Writer
	outbuf  []byte
	inbuf   []byte
	termios Termios
	now     func() time.Time
}

// NewTTY creates a terminal over in and out. Either may be nil.
func NewTTY(in io.Reader, out io.Writer) *TTY {
	t := &TTY{out: out, termios: DefaultTermios, now: time.Now}
	if in != nil {
		t.in = bufio.NewReader(in)
	}
	if out == nil {
		t.out = io.Discard
	}
	return t
}

func (t *TTY) Open(s *Stream) error {
	s.SetTTY(t)
	s.SetSeekable(false)
	return nil
}

func (t *TTY) Close(s *Stream) error { return t.Fsync(s) }

// Fsync flushes any partial line.
func (t *TTY) Fsync(s *Stream) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.flushLocked()
}

func (t *TTY) flushLocked() error {
	if len(t.outbuf) == 0 {
		return nil
	}
	_, err := t.out.Write(t.outbuf)
	t.outbuf = t.outbuf[:0]
	if err != nil {
		return wasmbridge.EIO
	}
	return nil
}

// Read returns buffered input, reading one more line from the host when the
// buffer is empty. It returns 0 at end of input.
func (t *TTY) Read(s *Stream, buf []byte, position int64) (int, error) {
	if t.in == nil {
		return 0, nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.inbuf) == 0 {
		line, err := t.in.ReadBytes('\n')
		if len(line) == 0 && err != nil {
			if err == io.EOF {
				return 0, nil
			}
			return 0, wasmbridge.EIO
		}
		t.inbuf = line
	}
	n := copy(buf, t.inbuf)
	t.inbuf = t.inbuf[n:]
	if n > 0 {
		s.Node.Atime = t.now()
	}
	return n, nil
}

func (t *TTY) Write(s *Stream, buf []byte, position int64) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range buf {
		if b == '\n' {
			t.outbuf = append(t.outbuf, b)
			if err := t.flushLocked(); err != nil {
				return 0, err
			}
			continue
		}
		if b != 0 {
			t.outbuf = append(t.outbuf, b)
		}
	}
	if len(buf) > 0 {
		now := t.now()
		s.Node.Mtime, s.Node.Ctime = now, now
	}
	return len(buf), nil
}

func (t *TTY) Llseek(s *Stream, offset int64, whence int) (int64, error) {
	return 0, wasmbridge.ESPIPE
}

func (t *TTY) Termios() Termios {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.termios
}

func (t *TTY) SetTermios(tio Termios) {
	t.mu.Lock()
	t.termios = tio
	t.mu.Unlock()
}

// WindowSize reports the host terminal size when the output is a terminal,
// 24x80 otherwise.
func (t *TTY) WindowSize() (rows, cols uint16) {
	if f, ok := t.out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		if w, h, err := term.GetSize(int(f.Fd())); err == nil {
			return uint16(h), uint16(w)
		}
	}
	return 24, 80
}

// Pending returns the number of buffered input bytes.
func (t *TTY) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.inbuf)
	if t.in != nil {
		n += t.in.Buffered()
	}
	return n
}

// IsTerminal reports whether the host side of the output is a real terminal.
func (t *TTY) IsTerminal() bool {
	f, ok := t.out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

var (
	_ StreamOps = (*TTY)(nil)
	_ Syncer    = (*TTY)(nil)
	_ Terminal  = (*TTY)(nil)
)
