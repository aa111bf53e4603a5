package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{&Error{Phase: PhaseMemory, Kind: KindOutOfBounds}, "memory: out_of_bounds"},
		{InvalidInput(PhaseConfig, "memory.initial must be a multiple of 64KiB"), "config: invalid_input: memory.initial must be a multiple of 64KiB"},
		{Wrap(PhaseFS, KindInvalidData, errors.New("permission denied"), "mount /in"), "fs: invalid_data: mount /in: permission denied"},
		{NotFound(PhaseRuntime, "export", "resize"), `runtime: not_found: no export named "resize"`},
		{NotInitialized(PhaseRuntime, "module"), "runtime: not_initialized: module is not initialized"},
		{MemoryAccess(0xfffc, 8, 65536), "memory: out_of_bounds: [0xfffc, 0x10004) past end of memory (65536 bytes)"},
		{GrowFailed(2<<20, 1<<20, 1<<20), "memory: allocation: grow 1048576 -> 2097152 bytes exceeds maximum 1048576"},
		{AllocationFailed(PhaseABI, 24, 8), "abi: allocation: malloc(24) with alignment 8 returned null"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Fatalf("Error() = %q, want %q", got, tt.want)
		}
	}
}

func TestIs(t *testing.T) {
	cause := errors.New("root")
	err := fmt.Errorf("call resize: %w", Wrap(PhaseThread, KindInstantiation, cause, "worker load"))

	tests := []struct {
		target error
		want   bool
	}{
		{&Error{Phase: PhaseThread, Kind: KindInstantiation}, true},
		{&Error{Kind: KindInstantiation}, true},
		{&Error{Phase: PhaseLoad, Kind: KindInstantiation}, false},
		{&Error{Phase: PhaseThread, Kind: KindFatal}, false},
		{cause, true},
	}
	for _, tt := range tests {
		if got := errors.Is(err, tt.target); got != tt.want {
			t.Fatalf("Is(%v) = %v, want %v", tt.target, got, tt.want)
		}
	}

	var e *Error
	if !errors.As(err, &e) || e.Detail != "worker load" {
		t.Fatalf("As = %v", e)
	}
}

func TestBuilder(t *testing.T) {
	b := New(PhaseFFI, KindUnsupported).Value(7)
	first := b.Detail("ffi_prep_cif: abi %d", 7).Build()
	second := b.Detail("ffi_prep_closure").Build()

	if first.Detail != "ffi_prep_cif: abi 7" || first.Value != 7 {
		t.Fatalf("first = %+v", first)
	}
	if second.Detail != "ffi_prep_closure" || first == second {
		t.Fatalf("Build shares state: %+v %+v", first, second)
	}
	if !errors.Is(first, &Error{Phase: PhaseFFI, Kind: KindUnsupported}) {
		t.Fatal("built error does not match its phase and kind")
	}
}

func TestFatal(t *testing.T) {
	err := Fatal("Aborted(native code called abort())", nil)
	if err.Phase != PhaseRuntime || err.Kind != KindFatal {
		t.Fatalf("Fatal = %+v", err)
	}
	if !errors.Is(fmt.Errorf("worker: %w", err), &Error{Kind: KindFatal}) {
		t.Fatal("wrapped fatal not matched")
	}
}

func TestMissingImportsError(t *testing.T) {
	err := NewMissingImportsError([]string{
		"env#napi_create_string_utf8",
		"wasi_snapshot_preview1#sock_accept",
		"env#__syscall_ioctl",
	})
	groups := err.Namespaces()
	if len(groups["env"]) != 2 || groups["env"][0] != "__syscall_ioctl" {
		t.Fatalf("env = %v", groups["env"])
	}
	want := "linking: missing_import: 3 host function(s): env{__syscall_ioctl,napi_create_string_utf8} wasi_snapshot_preview1{sock_accept}"
	if err.Error() != want {
		t.Fatalf("Error() = %q", err.Error())
	}
	if !errors.Is(err, &MissingImportsError{}) || !errors.Is(err, &Error{Kind: KindMissingImport}) {
		t.Fatal("Is does not match")
	}
	if (&MissingImportsError{}).Error() != "linking: missing_import: none" {
		t.Fatal("empty message")
	}
}
