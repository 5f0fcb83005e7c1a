package rbbvm

import "testing"

func TestType_PointerToAndDeref(t *testing.T) {
	i32 := NewType(TagI32)
	p := i32.PointerTo()
	if !p.IsPointer() {
		t.Fatalf("PointerTo() result is not a pointer type: %v", p)
	}
	if got := p.Deref(); !got.Equal(i32) {
		t.Fatalf("Deref() = %v, want %v", got, i32)
	}
}

func TestType_PointerToPointer(t *testing.T) {
	i32 := NewType(TagI32)
	pp := i32.PointerTo().PointerTo()
	if pp.Head() != TagPointer {
		t.Fatalf("Head() = %s, want pointer", pp.Head())
	}
	once := pp.Deref()
	if once.Head() != TagPointer {
		t.Fatalf("first Deref() head = %s, want pointer", once.Head())
	}
	twice := once.Deref()
	if !twice.Equal(i32) {
		t.Fatalf("second Deref() = %v, want %v", twice, i32)
	}
}

func TestType_Equal(t *testing.T) {
	a := NewType(TagPointer, TagI32)
	b := NewType(TagPointer, TagI32)
	c := NewType(TagPointer, TagI64)
	if !a.Equal(b) {
		t.Fatalf("%v and %v should be equal", a, b)
	}
	if a.Equal(c) {
		t.Fatalf("%v and %v should not be equal", a, c)
	}
}

func TestType_HeadOfEmpty(t *testing.T) {
	var empty Type
	if empty.Head() != TagVoid {
		t.Fatalf("Head() of empty Type = %s, want void", empty.Head())
	}
}
