package vfs

import (
	"bytes"
	"strconv"
	"testing"
	"time"

	wasmbridge "github.com/lovell/sharp-sub001"
)

func newTestFS(t *testing.T) (*FS, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	fs, err := New(Options{
		Stdout: &stdout,
		Stderr: &stderr,
		Now:    func() time.Time { return time.Unix(1700000000, 0) },
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return fs, &stdout, &stderr
}

func TestDefaultLayout(t *testing.T) {
	fs, _, _ := newTestFS(t)

	for _, dir := range []string{"/tmp", "/home/web_user", "/dev/shm/tmp", "/proc/self/fd"} {
		st, err := fs.Stat(dir, false)
		if err != nil {
			t.Fatalf("Stat(%s): %v", dir, err)
		}
		if !isDir(st.Mode) {
			t.Fatalf("%s mode = %o, want directory", dir, st.Mode)
		}
	}

	devs := map[string]uint64{
		"/dev/null":    DevNull,
		"/dev/zero":    DevZero,
		"/dev/urandom": DevURandom,
		"/dev/tty":     DevTTY,
		"/dev/tty1":    DevTTY1,
	}
	for p, dev := range devs {
		st, err := fs.Stat(p, false)
		if err != nil {
			t.Fatalf("Stat(%s): %v", p, err)
		}
		if !isChr(st.Mode) || st.Rdev != dev {
			t.Fatalf("%s: mode %o rdev %d, want chr rdev %d", p, st.Mode, st.Rdev, dev)
		}
	}

	links := map[string]string{"/dev/stdin": "/dev/tty", "/dev/stdout": "/dev/tty", "/dev/stderr": "/dev/tty1"}
	for link, want := range links {
		got, err := fs.Readlink(link)
		if err != nil || got != want {
			t.Fatalf("Readlink(%s) = %q, %v; want %q", link, got, err, want)
		}
	}

	for fd := int32(0); fd < 3; fd++ {
		s, err := fs.GetStream(fd)
		if err != nil {
			t.Fatalf("fd %d: %v", fd, err)
		}
		if s.TTY() == nil {
			t.Fatalf("fd %d is not a tty", fd)
		}
	}
	if fs.OpenFDs() != 3 {
		t.Fatalf("OpenFDs = %d, want 3", fs.OpenFDs())
	}
}

func TestLowestFreeFD(t *testing.T) {
	fs, _, _ := newTestFS(t)

	open := func(p string) *Stream {
		s, err := fs.Open(p, O_RDWR|O_CREAT, 0o644)
		if err != nil {
			t.Fatalf("Open(%s): %v", p, err)
		}
		return s
	}
	a := open("/tmp/a")
	b := open("/tmp/b")
	if a.FD != 3 || b.FD != 4 {
		t.Fatalf("fds = %d, %d; want 3, 4", a.FD, b.FD)
	}
	if err := fs.Close(a); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c := open("/tmp/c"); c.FD != 3 {
		t.Fatalf("reused fd = %d, want 3", c.FD)
	}
	if err := fs.Close(a); err != wasmbridge.EBADF {
		t.Fatalf("double close = %v, want EBADF", err)
	}
}

func TestTooManyOpenFiles(t *testing.T) {
	fs, _, _ := newTestFS(t)

	for i := fs.OpenFDs(); i < MaxOpenFDs; i++ {
		if _, err := fs.Open("/dev/null", O_RDONLY, 0); err != nil {
			t.Fatalf("open #%d: %v", i, err)
		}
	}
	if _, err := fs.Open("/dev/null", O_RDONLY, 0); err != wasmbridge.EMFILE {
		t.Fatalf("open past limit = %v, want EMFILE", err)
	}
	s, _ := fs.GetStream(100)
	fs.Close(s)
	s, err := fs.Open("/dev/null", O_RDONLY, 0)
	if err != nil || s.FD != 100 {
		t.Fatalf("reopen = %v, %v; want fd 100", s, err)
	}
}

func TestSymlinks(t *testing.T) {
	fs, _, _ := newTestFS(t)

	if err := fs.WriteFile("/tmp/target", []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if err := fs.Symlink("target", "/tmp/rel"); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	if err := fs.Symlink("/tmp/rel", "/tmp/chain"); err != nil {
		t.Fatalf("Symlink: %v", err)
	}
	got, err := fs.ReadFile("/tmp/chain")
	if err != nil || string(got) != "data" {
		t.Fatalf("ReadFile via chain = %q, %v", got, err)
	}
	st, err := fs.Lstat("/tmp/chain")
	if err != nil || !isLink(st.Mode) || st.Size != int64(len("/tmp/rel")) {
		t.Fatalf("Lstat = %+v, %v", st, err)
	}

	fs.Symlink("/tmp/loop-b", "/tmp/loop-a")
	fs.Symlink("/tmp/loop-a", "/tmp/loop-b")
	if _, err := fs.Stat("/tmp/loop-a", false); err != wasmbridge.ELOOP {
		t.Fatalf("Stat(loop) = %v, want ELOOP", err)
	}
	if _, err := fs.Open("/tmp/loop-a", O_RDONLY|O_NOFOLLOW, 0); err != wasmbridge.ELOOP {
		t.Fatalf("Open(O_NOFOLLOW) = %v, want ELOOP", err)
	}

	// each link resolves through the previous one as a directory, nesting
	// one resolution deeper per link
	fs.Symlink("/tmp", "/tmp/deep0")
	prev := "/tmp/deep0"
	for i := 1; i < maxLookupDepth+2; i++ {
		name := "/tmp/deep" + strconv.Itoa(i)
		fs.Symlink(prev+"/.", name)
		prev = name
	}
	if _, err := fs.Stat("/tmp/deep3/target", false); err != nil {
		t.Fatalf("Stat(shallow) = %v", err)
	}
	if _, err := fs.Stat(prev, false); err != wasmbridge.ELOOP {
		t.Fatalf("Stat(deep) = %v, want ELOOP", err)
	}
}

func TestNamespaceErrors(t *testing.T) {
	fs, _, _ := newTestFS(t)

	must := func(err error) {
		t.Helper()
		if err != nil {
			t.Fatal(err)
		}
	}
	_, err := fs.Mkdir("/tmp/a", 0o755)
	must(err)
	_, err = fs.Mkdir("/tmp/a/b", 0o755)
	must(err)
	_, err = fs.Mkdir("/tmp/full", 0o755)
	must(err)
	must(fs.WriteFile("/tmp/full/x", nil, 0o644))
	must(fs.WriteFile("/tmp/file", []byte("x"), 0o644))

	tests := []struct {
		name string
		op   func() error
		want error
	}{
		{"mkdir existing", func() error { _, err := fs.Mkdir("/tmp/a", 0o755); return err }, wasmbridge.EEXIST},
		{"mkdir missing parent", func() error { _, err := fs.Mkdir("/nope/x", 0o755); return err }, wasmbridge.ENOENT},
		{"mkdir under file", func() error { _, err := fs.Mkdir("/tmp/file/x", 0o755); return err }, wasmbridge.ENOTDIR},
		{"rename into itself", func() error { return fs.Rename("/tmp/a", "/tmp/a/b/c") }, wasmbridge.EINVAL},
		{"rename over non-empty dir", func() error { return fs.Rename("/tmp/a", "/tmp/full") }, wasmbridge.ENOTEMPTY},
		{"rename missing", func() error { return fs.Rename("/tmp/none", "/tmp/x") }, wasmbridge.ENOENT},
		{"unlink dir", func() error { return fs.Unlink("/tmp/a") }, wasmbridge.EISDIR},
		{"rmdir file", func() error { return fs.Rmdir("/tmp/file") }, wasmbridge.ENOTDIR},
		{"rmdir non-empty", func() error { return fs.Rmdir("/tmp/full") }, wasmbridge.ENOTEMPTY},
		{"open dir for write", func() error { _, err := fs.Open("/tmp/a", O_WRONLY, 0); return err }, wasmbridge.EISDIR},
		{"open excl existing", func() error { _, err := fs.Open("/tmp/file", O_CREAT|O_EXCL|O_WRONLY, 0o644); return err }, wasmbridge.EEXIST},
		{"open directory flag on file", func() error { _, err := fs.Open("/tmp/file", O_DIRECTORY, 0); return err }, wasmbridge.ENOTDIR},
		{"readlink on file", func() error { _, err := fs.Readlink("/tmp/file"); return err }, wasmbridge.EINVAL},
		{"truncate dir", func() error { return fs.Truncate("/tmp/a", 0) }, wasmbridge.EISDIR},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.op(); err != tt.want {
				t.Fatalf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestRenameMovesContent(t *testing.T) {
	fs, _, _ := newTestFS(t)

	if err := fs.WriteFile("/tmp/src", []byte("payload"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteFile("/home/dst", []byte("old"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := fs.Rename("/tmp/src", "/home/dst"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := fs.Stat("/tmp/src", false); err != wasmbridge.ENOENT {
		t.Fatalf("source still present: %v", err)
	}
	got, err := fs.ReadFile("/home/dst")
	if err != nil || string(got) != "payload" {
		t.Fatalf("ReadFile = %q, %v", got, err)
	}
	names, _ := fs.Readdir("/home")
	count := 0
	for _, n := range names {
		if n == "dst" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("Readdir(/home) = %v, want dst exactly once", names)
	}
}

func TestDupSharesDescription(t *testing.T) {
	fs, _, _ := newTestFS(t)

	s, err := fs.Open("/tmp/f", O_RDWR|O_CREAT, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	d, err := fs.Dup(s, 0)
	if err != nil {
		t.Fatal(err)
	}
	fs.Write(s, []byte("abc"), nil)
	fs.Write(d, []byte("def"), nil)
	if s.Position() != 6 || d.Position() != 6 {
		t.Fatalf("positions = %d, %d; want 6", s.Position(), d.Position())
	}
	fs.Close(s)
	if _, err := fs.Write(d, []byte("g"), nil); err != nil {
		t.Fatalf("write after closing original: %v", err)
	}
	got, _ := fs.ReadFile("/tmp/f")
	if string(got) != "abcdefg" {
		t.Fatalf("content = %q", got)
	}

	d3, err := fs.Dup3(d.FD, 10, O_CLOEXEC)
	if err != nil || d3.FD != 10 || d3.FDFlags != FD_CLOEXEC {
		t.Fatalf("Dup3 = %+v, %v", d3, err)
	}
	if _, err := fs.Dup3(d.FD, d.FD, 0); err != wasmbridge.EINVAL {
		t.Fatalf("Dup3 onto itself = %v, want EINVAL", err)
	}
}

func TestAppendAndPositional(t *testing.T) {
	fs, _, _ := newTestFS(t)

	fs.WriteFile("/tmp/log", []byte("one\n"), 0o644)
	s, err := fs.Open("/tmp/log", O_WRONLY|O_APPEND, 0)
	if err != nil {
		t.Fatal(err)
	}
	fs.Llseek(s, 0, SEEK_SET)
	fs.Write(s, []byte("two\n"), nil)
	fs.Close(s)

	r, _ := fs.Open("/tmp/log", O_RDONLY, 0)
	buf := make([]byte, 3)
	off := int64(4)
	n, err := fs.Read(r, buf, &off)
	if err != nil || string(buf[:n]) != "two" {
		t.Fatalf("pread = %q, %v", buf[:n], err)
	}
	if r.Position() != 0 {
		t.Fatalf("pread moved position to %d", r.Position())
	}
	if _, err := fs.Write(r, []byte("x"), nil); err != wasmbridge.EBADF {
		t.Fatalf("write to read-only = %v, want EBADF", err)
	}
}

func TestTTYLineBuffering(t *testing.T) {
	fs, stdout, stderr := newTestFS(t)

	out, _ := fs.GetStream(1)
	fs.Write(out, []byte("hel"), nil)
	if stdout.Len() != 0 {
		t.Fatalf("partial line flushed early: %q", stdout.String())
	}
	fs.Write(out, []byte("lo\x00\nnext"), nil)
	if stdout.String() != "hello\n" {
		t.Fatalf("stdout = %q", stdout.String())
	}
	fs.Fsync(out)
	if stdout.String() != "hello\nnext" {
		t.Fatalf("stdout after fsync = %q", stdout.String())
	}

	errs, _ := fs.GetStream(2)
	fs.Write(errs, []byte("oops\n"), nil)
	if stderr.String() != "oops\n" {
		t.Fatalf("stderr = %q", stderr.String())
	}
	if _, err := fs.Llseek(out, 0, SEEK_SET); err != wasmbridge.ESPIPE {
		t.Fatalf("seek on tty = %v, want ESPIPE", err)
	}
}

func TestTTYInput(t *testing.T) {
	fs, err := New(Options{Stdin: bytes.NewBufferString("first\nsecond\n")})
	if err != nil {
		t.Fatal(err)
	}
	in, _ := fs.GetStream(0)
	buf := make([]byte, 64)
	n, _ := fs.Read(in, buf, nil)
	if string(buf[:n]) != "first\n" {
		t.Fatalf("first read = %q", buf[:n])
	}
	n, _ = fs.Read(in, buf[:3], nil)
	if string(buf[:n]) != "sec" {
		t.Fatalf("short read = %q", buf[:n])
	}
	if p := in.TTY().Pending(); p != 4 {
		t.Fatalf("Pending = %d, want 4", p)
	}
	fs.Read(in, buf, nil)
	if n, _ := fs.Read(in, buf, nil); n != 0 {
		t.Fatalf("read at EOF = %d", n)
	}
}

func TestDevices(t *testing.T) {
	fs, _, _ := newTestFS(t)

	null, err := fs.Open("/dev/null", O_RDWR, 0)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := fs.Write(null, make([]byte, 100), nil); n != 100 {
		t.Fatalf("write /dev/null = %d", n)
	}
	if n, _ := fs.Read(null, make([]byte, 10), nil); n != 0 {
		t.Fatalf("read /dev/null = %d", n)
	}

	zero, _ := fs.Open("/dev/zero", O_RDONLY, 0)
	buf := []byte{1, 2, 3, 4}
	if n, _ := fs.Read(zero, buf, nil); n != 4 || !bytes.Equal(buf, make([]byte, 4)) {
		t.Fatalf("read /dev/zero = %v", buf)
	}

	rnd, _ := fs.Open("/dev/urandom", O_RDONLY, 0)
	big := make([]byte, 64)
	if n, err := fs.Read(rnd, big, nil); n != 64 || err != nil {
		t.Fatalf("read /dev/urandom = %d, %v", n, err)
	}
	if bytes.Equal(big, make([]byte, 64)) {
		t.Fatal("urandom returned zeros")
	}

	if _, err := fs.Mkdev("/tmp/bogus", 0o666, Makedev(99, 1)); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Open("/tmp/bogus", O_RDONLY, 0); err != wasmbridge.ENXIO {
		t.Fatalf("open unregistered device = %v, want ENXIO", err)
	}
}

func TestProcSelfFD(t *testing.T) {
	fs, _, _ := newTestFS(t)

	s, err := fs.Open("/tmp/tracked", O_CREAT|O_RDWR, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	target, err := fs.Readlink("/proc/self/fd/" + strconv.Itoa(int(s.FD)))
	if err != nil || target != "/tmp/tracked" {
		t.Fatalf("Readlink = %q, %v", target, err)
	}
	names, err := fs.Readdir("/proc/self/fd")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{".", "..", "0", "1", "2", "3"}
	if len(names) != len(want) {
		t.Fatalf("Readdir = %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Readdir = %v, want %v", names, want)
		}
	}
	fs.Close(s)
	if _, err := fs.Readlink("/proc/self/fd/3"); err != wasmbridge.EBADF {
		t.Fatalf("Readlink closed fd = %v, want EBADF", err)
	}
}

func TestPermissions(t *testing.T) {
	fs, err := New(Options{})
	if err != nil {
		t.Fatal(err)
	}
	fs.WriteFile("/tmp/secret", []byte("x"), 0o644)
	if err := fs.Chmod("/tmp/secret", 0, false); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Open("/tmp/secret", O_RDONLY, 0); err != wasmbridge.EACCES {
		t.Fatalf("open mode 000 = %v, want EACCES", err)
	}
	if err := fs.Access("/tmp/secret", R_OK, false); err != wasmbridge.EACCES {
		t.Fatalf("Access = %v, want EACCES", err)
	}
	if err := fs.Access("/tmp/secret", F_OK, false); err != nil {
		t.Fatalf("Access(F_OK) = %v", err)
	}

	fs.Mkdir("/tmp/locked", 0o555)
	if _, err := fs.Create("/tmp/locked/f", 0o644); err != wasmbridge.EACCES {
		t.Fatalf("create in read-only dir = %v, want EACCES", err)
	}
}

func TestChdirRelative(t *testing.T) {
	fs, _, _ := newTestFS(t)

	fs.MkdirAll("/work/sub", 0o755)
	if err := fs.Chdir("/work"); err != nil {
		t.Fatal(err)
	}
	if err := fs.WriteFile("sub/file", []byte("rel"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err := fs.ReadFile("/work/sub/../sub/./file")
	if err != nil || string(got) != "rel" {
		t.Fatalf("ReadFile = %q, %v", got, err)
	}
	if err := fs.Chdir("/work/sub/file"); err != wasmbridge.ENOTDIR {
		t.Fatalf("Chdir(file) = %v, want ENOTDIR", err)
	}
	fs.Chdir("/work/sub")
	fs.Unlink("/work/sub/file")
	if err := fs.Rmdir("/work/sub"); err != wasmbridge.EBUSY {
		t.Fatalf("Rmdir(cwd) = %v, want EBUSY", err)
	}
}
