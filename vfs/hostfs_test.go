package vfs

import (
	"os"
	"path/filepath"
	"slices"
	"testing"

	wasmbridge "github.com/lovell/sharp-sub001"
)

func mountHost(t *testing.T) (*FS, string) {
	t.Helper()
	fs, _, _ := newTestFS(t)
	dir := t.TempDir()
	if _, err := fs.Mkdir("/mnt", 0o777); err != nil {
		t.Fatal(err)
	}
	if _, err := fs.Mount(HostFS{}, MountOptions{Root: dir}, "/mnt"); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	return fs, dir
}

func TestHostFSRoundTrip(t *testing.T) {
	fs, dir := mountHost(t)

	if err := fs.WriteFile("/mnt/out.txt", []byte("from sandbox"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	if err != nil || string(got) != "from sandbox" {
		t.Fatalf("host sees %q, %v", got, err)
	}

	if err := os.WriteFile(filepath.Join(dir, "in.txt"), []byte("from host"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = fs.ReadFile("/mnt/in.txt")
	if err != nil || string(got) != "from host" {
		t.Fatalf("sandbox sees %q, %v", got, err)
	}
	st, err := fs.Stat("/mnt/in.txt", false)
	if err != nil || st.Size != 9 || !isFile(st.Mode) {
		t.Fatalf("Stat = %+v, %v", st, err)
	}

	names, err := fs.Readdir("/mnt")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Contains(names, "in.txt") || !slices.Contains(names, "out.txt") {
		t.Fatalf("Readdir = %v", names)
	}
}

func TestHostFSNamespace(t *testing.T) {
	fs, dir := mountHost(t)

	if _, err := fs.Mkdir("/mnt/sub", 0o755); err != nil {
		t.Fatal(err)
	}
	if fi, err := os.Stat(filepath.Join(dir, "sub")); err != nil || !fi.IsDir() {
		t.Fatalf("host dir: %v", err)
	}
	if err := fs.WriteFile("/mnt/sub/a", []byte("a"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := fs.Rename("/mnt/sub/a", "/mnt/b"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "b")); err != nil {
		t.Fatalf("renamed file missing on host: %v", err)
	}
	if err := fs.Symlink("b", "/mnt/link"); err != nil {
		t.Fatal(err)
	}
	if got, _ := fs.ReadFile("/mnt/link"); string(got) != "a" {
		t.Fatalf("read through link = %q", got)
	}
	if err := fs.Rmdir("/mnt/sub"); err != nil {
		t.Fatalf("Rmdir: %v", err)
	}
	if err := fs.Unlink("/mnt/b"); err != nil {
		t.Fatalf("Unlink: %v", err)
	}
	if _, err := fs.Stat("/mnt/b", false); err != wasmbridge.ENOENT {
		t.Fatalf("Stat(removed) = %v, want ENOENT", err)
	}
	if err := fs.Rename("/mnt/link", "/tmp/link"); err != wasmbridge.EXDEV {
		t.Fatalf("cross-mount rename = %v, want EXDEV", err)
	}
}

func TestHostFSDescriptors(t *testing.T) {
	fs, dir := mountHost(t)

	s, err := fs.Open("/mnt/f", O_RDWR|O_CREAT|O_APPEND, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	fs.Write(s, []byte("abc"), nil)
	fs.Llseek(s, 0, SEEK_SET)
	fs.Write(s, []byte("def"), nil)
	if s.Position() != 6 {
		t.Fatalf("position = %d", s.Position())
	}
	d, _ := fs.Dup(s, 0)
	fs.Close(s)
	if d.HostFile() == nil {
		t.Fatal("host file closed while a dup is open")
	}
	buf := make([]byte, 6)
	zero := int64(0)
	if n, err := fs.Read(d, buf, &zero); err != nil || string(buf[:n]) != "abcdef" {
		t.Fatalf("pread = %q, %v", buf[:n], err)
	}
	if err := fs.Ftruncate(d.FD, 2); err != nil {
		t.Fatal(err)
	}
	fs.Close(d)
	got, _ := os.ReadFile(filepath.Join(dir, "f"))
	if string(got) != "ab" {
		t.Fatalf("host content = %q", got)
	}

	if _, err := fs.Open("/mnt/missing", O_RDONLY, 0); err != wasmbridge.ENOENT {
		t.Fatalf("open missing = %v, want ENOENT", err)
	}
}

func TestHostFSUnmount(t *testing.T) {
	fs, _ := mountHost(t)

	fs.WriteFile("/mnt/x", nil, 0o644)
	if err := fs.Unmount("/mnt"); err != nil {
		t.Fatalf("Unmount: %v", err)
	}
	if _, err := fs.Stat("/mnt/x", false); err != wasmbridge.ENOENT {
		t.Fatalf("Stat after unmount = %v, want ENOENT", err)
	}
	if err := fs.Unmount("/mnt"); err != wasmbridge.EINVAL {
		t.Fatalf("second Unmount = %v, want EINVAL", err)
	}
	if _, err := fs.Mount(HostFS{}, MountOptions{Root: "/definitely/not/here"}, "/mnt"); err != wasmbridge.ENOENT {
		t.Fatalf("Mount(missing root) = %v, want ENOENT", err)
	}
}

func TestErrnoFromHost(t *testing.T) {
	tests := []struct {
		err  error
		want wasmbridge.Errno
	}{
		{os.ErrNotExist, wasmbridge.ENOENT},
		{os.ErrExist, wasmbridge.EEXIST},
		{os.ErrPermission, wasmbridge.EACCES},
		{&os.PathError{Op: "open", Path: "x", Err: os.ErrNotExist}, wasmbridge.ENOENT},
	}
	for _, tt := range tests {
		if got := ErrnoFromHost(tt.err); got != tt.want {
			t.Fatalf("ErrnoFromHost(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
