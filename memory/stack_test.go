package memory

import "testing"

func TestStack(t *testing.T) {
	s := NewStack(1024, 2048)
	sp := s.Save()
	if sp != 2048 {
		t.Fatalf("initial sp = %d", sp)
	}

	a, err := s.Alloc(3, 1)
	if err != nil || a != 2045 {
		t.Fatalf("Alloc(3,1) = %d, %v", a, err)
	}
	b, err := s.Alloc(8, 8)
	if err != nil || b != 2032 {
		t.Fatalf("Alloc(8,8) = %d, %v", b, err)
	}
	if b%8 != 0 {
		t.Fatalf("misaligned %d", b)
	}

	s.Restore(sp)
	if s.Save() != 2048 {
		t.Fatalf("restore failed: %d", s.Save())
	}

	if _, err := s.Alloc(2000, 1); err == nil {
		t.Fatal("expected overflow")
	}
	if s.Save() != 2048 {
		t.Fatal("failed alloc moved sp")
	}
	if _, err := s.Alloc(4, 3); err == nil {
		t.Fatal("expected alignment error")
	}
}
