package rbbvm

import (
	"encoding/binary"
	"math"
	"reflect"
	"testing"
)

func TestFFI_GoArgType_RejectsNonScalarTags(t *testing.T) {
	for _, tag := range []Tag{TagVoid, TagType, TagStruct, TagName} {
		if _, err := goArgType(tag); err == nil {
			t.Fatalf("goArgType(%s) should be rejected", tag)
		}
	}
}

func TestFFI_GoArgType_ScalarMapping(t *testing.T) {
	cases := map[Tag]reflect.Kind{
		TagI32:    reflect.Int32,
		TagU64:    reflect.Uint64,
		TagF64:    reflect.Float64,
		TagPointer: reflect.Uintptr,
	}
	for tag, want := range cases {
		got, err := goArgType(tag)
		if err != nil {
			t.Fatalf("goArgType(%s) error: %v", tag, err)
		}
		if got.Kind() != want {
			t.Fatalf("goArgType(%s).Kind() = %v, want %v", tag, got.Kind(), want)
		}
	}
}

func TestFFI_EncodeDecodeNativeValue_RoundTrip(t *testing.T) {
	cases := []struct {
		elem Tag
		v    Value
	}{
		{TagI32, SignedValue(NewType(TagI32), -123456)},
		{TagU16, UnsignedValue(NewType(TagU16), 40000)},
		{TagF32, DecimalValue(NewType(TagF32), 3.5)},
		{TagF64, DecimalValue(NewType(TagF64), -2.25)},
	}
	for _, c := range cases {
		raw := make([]byte, c.elem.byteWidth())
		encodeNativeValue(c.elem, c.v, raw)
		got := decodeNativeValue(c.elem, raw)
		switch {
		case c.elem.IsSigned():
			if got.Signed != c.v.Signed {
				t.Fatalf("round trip %s: got %d, want %d", c.elem, got.Signed, c.v.Signed)
			}
		case c.elem.IsUnsigned():
			if got.Unsigned != c.v.Unsigned {
				t.Fatalf("round trip %s: got %d, want %d", c.elem, got.Unsigned, c.v.Unsigned)
			}
		default:
			if got.Decimal != c.v.Decimal {
				t.Fatalf("round trip %s: got %v, want %v", c.elem, got.Decimal, c.v.Decimal)
			}
		}
	}
}

func TestFFI_MarshalArg_PointerRequiresPointerKind(t *testing.T) {
	vm := &VM{Frames: []*Frame{NewFrame()}}
	declared := NewType(TagPointer, TagI32)
	_, _, err := marshalArg(vm, declared, SignedValue(NewType(TagI32), 5))
	if err == nil {
		t.Fatal("a non-pointer Value passed where a pointer argument is declared should error")
	}
}

func TestFFI_MarshalArg_PointerBuffersHeapRange(t *testing.T) {
	heap := NewFrame()
	base := heap.Alloc("buf", NewType(TagI32), 3)
	heap.stack[base+0] = SignedValue(NewType(TagI32), 10)
	heap.stack[base+1] = SignedValue(NewType(TagI32), 20)
	heap.stack[base+2] = SignedValue(NewType(TagI32), 30)
	vm := &VM{Frames: []*Frame{heap}}

	declared := NewType(TagPointer, TagI32)
	ptr := PointerValue(declared, base, 3)
	_, pin, err := marshalArg(vm, declared, ptr)
	if err != nil {
		t.Fatalf("marshalArg error: %v", err)
	}
	if pin == nil {
		t.Fatal("a pointer argument should produce a pinned buffer")
	}
	if len(pin.buf) != 3*4 {
		t.Fatalf("pinned buffer length = %d, want %d", len(pin.buf), 12)
	}

	// Simulate the native callee mutating the buffer in place, then verify
	// writeBack copies the change back into the heap.
	pin.buf[4] = 99 // low byte of element 1 (little-endian)
	pin.writeBack()
	got, err := heap.GetAt(base + 1)
	if err != nil {
		t.Fatalf("GetAt error: %v", err)
	}
	if got.Signed != 99 {
		t.Fatalf("heap[base+1] after writeBack = %d, want 99", got.Signed)
	}
}

func appendImmF64(buf []byte, v float64) []byte {
	buf = append(buf, byte(TagF64))
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], math.Float64bits(v))
	return append(buf, b[:]...)
}

// buildFFICallProgram assembles (S5): a program that declares an extern
// binding to libm's floor(double) and invokes it through CALLC.
//
//	extern f64 floor(f64) "libm.so.6"
//	VAR f64 result
//	PUSH -2.5
//	CALLC floor f64 1
//	PEEK 5 -> result   (5: 4 platform constants + the declared "result" slot)
//	RET result
func buildFFICallProgram() []byte {
	var img []byte
	img = append(img, byteExtern)
	img = append(img, byte(TagF64))
	img = appendString(img, "floor")
	img = append(img, byte(TagF64))
	img = append(img, byteEndArgTypes)
	img = appendString(img, "libm.so.6")

	img = append(img, 0x66, byte(TagF64))
	img = appendString(img, "result")

	img = append(img, 0x01)
	img = appendImmF64(img, -2.5)

	img = append(img, 0x84)
	img = appendString(img, "floor")
	img = append(img, byte(TagF64))
	img = appendImmI32(img, 1)

	img = append(img, 0x04)
	img = appendImmI32(img, 5)
	img = appendString(img, "result")

	img = append(img, 0x6C)
	img = appendString(img, "result")
	return img
}

// TestFFI_CallcEndToEnd_InvokesSharedLibraryFloor decodes and runs a program
// that calls into libm through a real CALLC/extern dispatch, exercising
// ffiBridge.call (Dlopen/Dlsym/purego.RegisterFunc) rather than only its
// pure marshaling helpers. Requires libm.so.6 to be resolvable on the host
// (true on any glibc Linux system), the same environment dependency a cgo
// shared-library binding would carry.
func TestFFI_CallcEndToEnd_InvokesSharedLibraryFloor(t *testing.T) {
	dec := NewDecoder(nil)
	root, err := dec.decodeImage(buildFFICallProgram(), ".")
	if err != nil {
		t.Fatalf("decodeImage error: %v", err)
	}
	vm, err := NewVM(root)
	if err != nil {
		t.Fatalf("NewVM error: %v", err)
	}
	ret, err := vm.Run()
	if err != nil {
		t.Fatalf("Run error: %v", err)
	}
	if ret.Decimal != -3 {
		t.Fatalf("floor(-2.5) via CALLC = %v, want -3", ret.Decimal)
	}
}

func TestFFI_UnmarshalResult_Signed(t *testing.T) {
	fnType := reflect.FuncOf(nil, []reflect.Type{reflect.TypeOf(int32(0))}, false)
	fn := reflect.MakeFunc(fnType, func(args []reflect.Value) []reflect.Value {
		return []reflect.Value{reflect.ValueOf(int32(-7))}
	})
	results := fn.Call(nil)
	got := unmarshalResult(NewType(TagI32), results[0])
	if got.Signed != -7 {
		t.Fatalf("unmarshalResult = %d, want -7", got.Signed)
	}
}
