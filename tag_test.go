package rbbvm

import "testing"

func TestTag_IsInteger(t *testing.T) {
	for _, tag := range []Tag{TagI8, TagI16, TagI32, TagI64, TagU8, TagU16, TagU32, TagU64} {
		if !tag.IsInteger() {
			t.Fatalf("%s.IsInteger() = false, want true", tag)
		}
	}
	for _, tag := range []Tag{TagVoid, TagF32, TagF64, TagPointer, TagType, TagStruct, TagName} {
		if tag.IsInteger() {
			t.Fatalf("%s.IsInteger() = true, want false", tag)
		}
	}
}

func TestTag_ImmediateAllowed(t *testing.T) {
	for _, tag := range []Tag{TagVoid, TagPointer, TagType, TagStruct, TagName} {
		if tag.immediateAllowed() {
			t.Fatalf("%s.immediateAllowed() = true, want false", tag)
		}
	}
	for _, tag := range []Tag{TagI8, TagU64, TagF16, TagF64} {
		if !tag.immediateAllowed() {
			t.Fatalf("%s.immediateAllowed() = false, want true", tag)
		}
	}
}

func TestTag_ByteWidth(t *testing.T) {
	cases := map[Tag]int{
		TagI8: 1, TagU8: 1,
		TagI16: 2, TagU16: 2, TagF16: 2,
		TagI32: 4, TagU32: 4, TagF32: 4,
		TagI64: 8, TagU64: 8, TagF64: 8,
		TagPointer: 8,
		TagVoid:    0,
		TagName:    0,
	}
	for tag, want := range cases {
		if got := tag.byteWidth(); got != want {
			t.Fatalf("%s.byteWidth() = %d, want %d", tag, got, want)
		}
	}
}
