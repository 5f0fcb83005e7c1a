package rbbvm

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// ===========================================================================
// Test Rig: hand-assembled program images
// ===========================================================================

func appendString(buf []byte, s string) []byte {
	buf = append(buf, byte(len(s)))
	return append(buf, s...)
}

func appendImmI32(buf []byte, v int32) []byte {
	buf = append(buf, byte(TagI32))
	return append(buf, byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
}

// buildAddProgram assembles: VAR i32 result; ADD #7, #35, result; RET result.
func buildAddProgram() []byte {
	var img []byte
	img = append(img, 0x66)                 // VAR type-imm name-imm
	img = append(img, byte(TagI32))          // type: i32
	img = appendString(img, "result")
	img = append(img, 0x08) // ADD_I_I_V
	img = appendImmI32(img, 7)
	img = appendImmI32(img, 35)
	img = appendString(img, "result")
	img = append(img, 0x6C) // RET_V
	img = appendString(img, "result")
	return img
}

func writeTempImage(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// ===========================================================================
// End-to-end: decode and run
// ===========================================================================

func TestDecoder_DecodeAndRunAddProgram(t *testing.T) {
	dir := t.TempDir()
	path := writeTempImage(t, dir, "add.img", buildAddProgram())

	dec := NewDecoder([]string{dir})
	root, err := dec.DecodeFile(path)
	if err != nil {
		t.Fatalf("DecodeFile error: %v", err)
	}
	vm, err := NewVM(root)
	if err != nil {
		t.Fatalf("NewVM error: %v", err)
	}
	ret, err := vm.Run()
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if ret.Signed != 42 {
		t.Fatalf("Run() = %d, want 42", ret.Signed)
	}
}

func TestDecoder_UnknownOpcodeIsDecodeError(t *testing.T) {
	dir := t.TempDir()
	path := writeTempImage(t, dir, "bad.img", []byte{0xC0})
	dec := NewDecoder([]string{dir})
	if _, err := dec.DecodeFile(path); !errors.Is(err, ErrDecode) {
		t.Fatal("decoding an unassigned opcode byte should error")
	}
}

func TestDecoder_TruncatedImageIsDecodeError(t *testing.T) {
	dir := t.TempDir()
	// ADD_I_I_V with its operands cut off mid-stream.
	path := writeTempImage(t, dir, "trunc.img", []byte{0x08, byte(TagI32), 0x00})
	dec := NewDecoder([]string{dir})
	if _, err := dec.DecodeFile(path); !errors.Is(err, ErrDecode) {
		t.Fatal("a truncated instruction stream should error")
	}
}

// ===========================================================================
// Imports
// ===========================================================================

func TestDecoder_CyclicImportIsRejected(t *testing.T) {
	dir := t.TempDir()
	var a, b []byte
	a = append(a, byteImport)
	a = appendString(a, "b.img")
	b = append(b, byteImport)
	b = appendString(b, "a.img")
	writeTempImage(t, dir, "a.img", a)
	pathB := writeTempImage(t, dir, "b.img", b)
	_ = pathB

	dec := NewDecoder([]string{dir})
	if _, err := dec.DecodeFile(filepath.Join(dir, "a.img")); err == nil {
		t.Fatal("a -> b -> a should be rejected as a cyclic import")
	}
}

func TestDecoder_ImportNotFound(t *testing.T) {
	dir := t.TempDir()
	var img []byte
	img = append(img, byteImport)
	img = appendString(img, "missing.img")
	path := writeTempImage(t, dir, "main.img", img)

	dec := NewDecoder([]string{dir})
	if _, err := dec.DecodeFile(path); err == nil {
		t.Fatal("importing a nonexistent module should error")
	}
}

func TestDecoder_AmbiguousImport(t *testing.T) {
	root := t.TempDir()
	sub1 := filepath.Join(root, "sub1")
	sub2 := filepath.Join(root, "sub2")
	if err := os.Mkdir(sub1, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(sub2, 0755); err != nil {
		t.Fatal(err)
	}
	writeTempImage(t, sub1, "lib.img", []byte{})
	writeTempImage(t, sub2, "lib.img", []byte{})

	var img []byte
	img = append(img, byteImport)
	img = appendString(img, "lib.img")
	path := writeTempImage(t, root, "main.img", img)

	dec := NewDecoder([]string{sub1, sub2})
	if _, err := dec.DecodeFile(path); err == nil {
		t.Fatal("two equally-qualified matches on the link path should be ambiguous")
	}
}

// ===========================================================================
// Type and immediate grammar
// ===========================================================================

func TestDecoder_ParseType_PointerPrefixes(t *testing.T) {
	c := &cursor{data: []byte{byte(TagPointer), byte(TagPointer), byte(TagI32)}}
	typ, err := c.parseType()
	if err != nil {
		t.Fatalf("parseType error: %v", err)
	}
	want := NewType(TagPointer, TagPointer, TagI32)
	if !typ.Equal(want) {
		t.Fatalf("parseType() = %v, want %v", typ, want)
	}
}

func TestDecoder_ParseImmediateValue_RejectsPointerTag(t *testing.T) {
	c := &cursor{data: []byte{byte(TagPointer), 0, 0, 0, 0, 0, 0, 0, 0}}
	if _, err := c.parseImmediateValue(); err == nil {
		t.Fatal("POINTER is not a valid immediate tag and should be rejected")
	}
}

// ===========================================================================
// End-to-end: module import and dotted member resolution
// ===========================================================================

func appendDataEntry(buf []byte, name string, elem Tag, values []int32) []byte {
	buf = appendString(buf, name)
	buf = append(buf, byte(elem))
	buf = append(buf, 1, byte(len(values))) // dynamic-number: i8 discriminator, count
	for _, val := range values {
		buf = append(buf, byte(val>>24), byte(val>>16), byte(val>>8), byte(val))
	}
	return buf
}

// TestDecoder_ModuleImportDottedMemberAccess decodes a two-file program
// (S4): main.img imports lib.img, reads its "counter" global through the
// dotted name "lib.counter", and dereferences it to recover the value
// lib.img's data section materialized on the heap.
func TestDecoder_ModuleImportDottedMemberAccess(t *testing.T) {
	dir := t.TempDir()

	var lib []byte
	lib = append(lib, byteDataSection)
	lib = appendDataEntry(lib, "counter", TagI32, []int32{7})
	writeTempImage(t, dir, "lib.img", lib)

	var main []byte
	main = append(main, byteImport)
	main = appendString(main, "lib.img")
	main = append(main, 0x66, byte(TagPointer), byte(TagI32)) // VAR *i32 ptr
	main = appendString(main, "ptr")
	main = append(main, 0x66, byte(TagI32)) // VAR i32 out
	main = appendString(main, "out")
	main = append(main, 0x4B) // MOV_V_V lib.counter -> ptr
	main = appendString(main, "lib.counter")
	main = appendString(main, "ptr")
	main = append(main, 0x6E) // DEREF_V ptr -> out
	main = appendString(main, "ptr")
	main = appendString(main, "out")
	main = append(main, 0x6C) // RET_V out
	main = appendString(main, "out")
	path := writeTempImage(t, dir, "main.img", main)

	dec := NewDecoder([]string{dir})
	root, err := dec.DecodeFile(path)
	if err != nil {
		t.Fatalf("DecodeFile error: %v", err)
	}
	vm, err := NewVM(root)
	if err != nil {
		t.Fatalf("NewVM error: %v", err)
	}
	ret, err := vm.Run()
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if ret.Signed != 7 {
		t.Fatalf("lib.counter via import = %d, want 7", ret.Signed)
	}
}

func TestDecoder_HalfToFloat32_KnownValues(t *testing.T) {
	cases := map[uint16]float32{
		0x0000: 0,
		0x3C00: 1,
		0xBC00: -1,
		0x4000: 2,
	}
	for bits, want := range cases {
		if got := halfToFloat32(bits); got != want {
			t.Fatalf("halfToFloat32(0x%04X) = %v, want %v", bits, got, want)
		}
	}
}
