package memory

import (
	"testing"

	"github.com/lovell/sharp-sub001/errors"
)

func TestViewsTyped(t *testing.T) {
	v := NewManager(NewSliceBacking(1, 1)).Views()

	v.SetI8(0, -2)
	v.SetI16(2, -300)
	v.SetI32(4, -70000)
	v.SetI64(8, -1<<40)
	v.SetF32(16, 1.5)
	v.SetF64(24, -0.125)

	if v.I8(0) != -2 || v.U8(0) != 0xfe {
		t.Fatalf("i8 = %d / %d", v.I8(0), v.U8(0))
	}
	if v.I16(2) != -300 {
		t.Fatalf("i16 = %d", v.I16(2))
	}
	if v.I32(4) != -70000 {
		t.Fatalf("i32 = %d", v.I32(4))
	}
	if v.I64(8) != -1<<40 {
		t.Fatalf("i64 = %d", v.I64(8))
	}
	if v.F32(16) != 1.5 || v.F64(24) != -0.125 {
		t.Fatalf("floats = %v %v", v.F32(16), v.F64(24))
	}
	// little endian
	if v.U8(4) != uint8(uint32(0xfffeee90)&0xff) {
		t.Fatalf("byte order: %#x", v.U8(4))
	}
}

func TestViewsStrings(t *testing.T) {
	v := NewManager(NewSliceBacking(1, 1)).Views()

	n := v.WriteCString(100, "sharp", 0)
	if n != 5 || v.CString(100) != "sharp" {
		t.Fatalf("CString = %q (%d)", v.CString(100), n)
	}
	n = v.WriteCString(200, "truncated", 4)
	if n != 3 || v.CString(200) != "tru" {
		t.Fatalf("truncated = %q (%d)", v.CString(200), n)
	}
	if got := v.CStringN(100, 3); got != "sha" {
		t.Fatalf("CStringN = %q", got)
	}

	v.WriteUTF16(300, "héllo", 0)
	if got := v.UTF16Z(300); got != "héllo" {
		t.Fatalf("UTF16Z = %q", got)
	}
	if got := v.UTF16(300, 2); got != "hé" {
		t.Fatalf("UTF16 = %q", got)
	}
}

func TestViewsFillCopy(t *testing.T) {
	v := NewManager(NewSliceBacking(1, 1)).Views()
	v.Fill(10, 4, 0xaa)
	v.Copy(12, 10, 4)
	for i := uint32(10); i < 16; i++ {
		if v.U8(i) != 0xaa {
			t.Fatalf("byte %d = %#x", i, v.U8(i))
		}
	}
}

func TestViewsOutOfBoundsPanics(t *testing.T) {
	v := NewManager(NewSliceBacking(1, 1)).Views()
	tests := []struct {
		name string
		fn   func()
	}{
		{"u32 at end", func() { v.U32(PageSize - 2) }},
		{"slice past end", func() { v.Slice(PageSize-1, 2) }},
		{"cstring at size", func() { v.CString(PageSize) }},
		{"offset overflow", func() { v.Read(0xffffffff, 2) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			func() {
				defer Guard(&err)
				tt.fn()
			}()
			e, ok := err.(*errors.Error)
			if !ok || e.Kind != errors.KindOutOfBounds {
				t.Fatalf("err = %v", err)
			}
		})
	}
}

func TestRegionSurvivesGrow(t *testing.T) {
	m := NewManager(NewSliceBacking(1, 0))
	v := m.Views()
	r := Region{Offset: 128, Length: 4}
	copy(r.Bytes(v), "abcd")
	if err := m.Grow(2 * PageSize); err != nil {
		t.Fatal(err)
	}
	if string(r.Bytes(v)) != "abcd" {
		t.Fatalf("region = %q", r.Bytes(v))
	}
	if r.End() != 132 {
		t.Fatalf("End = %d", r.End())
	}
}
