// ffi.go - the foreign-function bridge: dynamic shared-library loading
// and platform-ABI marshaling, via purego rather than cgo.

package rbbvm

import (
	"encoding/binary"
	"math"
	"reflect"
	"runtime"
	"unsafe"

	"github.com/ebitengine/purego"
)

// ffiBridge loads shared libraries by path, caching handles for the
// lifetime of the VM so repeated calls do not re-open the same library.
type ffiBridge struct {
	libs map[string]uintptr
	syms map[string]uintptr // "<path>\x00<symbol>" -> resolved address
}

func newFFIBridge() *ffiBridge {
	return &ffiBridge{libs: make(map[string]uintptr), syms: make(map[string]uintptr)}
}

func (b *ffiBridge) load(path string) (uintptr, error) {
	if h, ok := b.libs[path]; ok {
		return h, nil
	}
	h, err := purego.Dlopen(path, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return 0, newFFIError("failed to load shared library %q: %v", path, err)
	}
	b.libs[path] = h
	return h, nil
}

func (b *ffiBridge) symbol(handle uintptr, path, name string) (uintptr, error) {
	key := path + "\x00" + name
	if s, ok := b.syms[key]; ok {
		return s, nil
	}
	sym, err := purego.Dlsym(handle, name)
	if err != nil {
		return 0, newFFIError("symbol %q not found in %q: %v", name, path, err)
	}
	b.syms[key] = sym
	return sym, nil
}

// call pops len(ext.ArgTypes) arguments from the currently executing
// frame, marshals them to the extern's declared native ABI, invokes it
// through purego's dynamic-signature calling convention, and returns the
// unmarshaled result.
func (b *ffiBridge) call(vm *VM, ext *Extern, fc frameCtx) (Value, error) {
	handle, err := b.load(ext.Library)
	if err != nil {
		return Value{}, err
	}
	sym, err := b.symbol(handle, ext.Library, ext.AccessName)
	if err != nil {
		return Value{}, err
	}

	args, err := vm.Frames[fc.Current].PopArgs(len(ext.ArgTypes))
	if err != nil {
		return Value{}, err
	}

	inTypes := make([]reflect.Type, len(ext.ArgTypes))
	inVals := make([]reflect.Value, len(ext.ArgTypes))
	var pins []*pinnedBuffer

	for i, at := range ext.ArgTypes {
		gt, err := goArgType(at.Head())
		if err != nil {
			return Value{}, err
		}
		inTypes[i] = gt
		v, pin, err := marshalArg(vm, at, args[i])
		if err != nil {
			return Value{}, err
		}
		inVals[i] = v
		if pin != nil {
			pins = append(pins, pin)
		}
	}

	isVoid := ext.ReturnType.Head() == TagVoid
	var outTypes []reflect.Type
	if !isVoid {
		ot, err := goArgType(ext.ReturnType.Head())
		if err != nil {
			return Value{}, err
		}
		outTypes = []reflect.Type{ot}
	}

	fnType := reflect.FuncOf(inTypes, outTypes, false)
	fnVar := reflect.New(fnType)
	purego.RegisterFunc(fnVar.Interface(), sym)
	results := fnVar.Elem().Call(inVals)

	for _, p := range pins {
		p.writeBack()
	}
	runtime.KeepAlive(pins)

	if isVoid {
		return Void(), nil
	}
	return unmarshalResult(ext.ReturnType, results[0]), nil
}

// pinnedBuffer backs a pointer-typed argument: a flat native byte buffer
// mirroring a run of heap cells, plus the information needed to copy it
// back after the call returns.
type pinnedBuffer struct {
	vm     *VM
	base   int
	extent int
	elem   Tag
	buf    []byte
}

func (p *pinnedBuffer) writeBack() {
	heap := p.vm.Frames[0]
	width := p.elem.byteWidth()
	for i := 0; i < p.extent; i++ {
		raw := p.buf[i*width : (i+1)*width]
		v := decodeNativeValue(p.elem, raw)
		heap.stack[p.base+i] = v
	}
}

// goArgType maps a VM tag to the Go type purego should use for a native
// call argument or return value.
func goArgType(t Tag) (reflect.Type, error) {
	switch t {
	case TagI8:
		return reflect.TypeOf(int8(0)), nil
	case TagI16:
		return reflect.TypeOf(int16(0)), nil
	case TagI32:
		return reflect.TypeOf(int32(0)), nil
	case TagI64:
		return reflect.TypeOf(int64(0)), nil
	case TagU8:
		return reflect.TypeOf(uint8(0)), nil
	case TagU16:
		return reflect.TypeOf(uint16(0)), nil
	case TagU32:
		return reflect.TypeOf(uint32(0)), nil
	case TagU64:
		return reflect.TypeOf(uint64(0)), nil
	case TagF32:
		return reflect.TypeOf(float32(0)), nil
	case TagF64:
		return reflect.TypeOf(float64(0)), nil
	case TagPointer:
		return reflect.TypeOf(uintptr(0)), nil
	default:
		return nil, newFFIError("unsupported extern type %s", t)
	}
}

// marshalArg converts one VM Value to the reflect.Value purego's
// generated call expects, per the ABI mapping in goArgType. A pointer
// argument is backed by a freshly encoded native buffer mirroring the
// referenced heap range; the caller must keep the returned pinnedBuffer
// alive (and write it back) for the duration of the call.
func marshalArg(vm *VM, declared Type, v Value) (reflect.Value, *pinnedBuffer, error) {
	switch declared.Head() {
	case TagI8:
		return reflect.ValueOf(int8(v.AsInt64())), nil, nil
	case TagI16:
		return reflect.ValueOf(int16(v.AsInt64())), nil, nil
	case TagI32:
		return reflect.ValueOf(int32(v.AsInt64())), nil, nil
	case TagI64:
		return reflect.ValueOf(v.AsInt64()), nil, nil
	case TagU8:
		return reflect.ValueOf(uint8(v.AsUint64())), nil, nil
	case TagU16:
		return reflect.ValueOf(uint16(v.AsUint64())), nil, nil
	case TagU32:
		return reflect.ValueOf(uint32(v.AsUint64())), nil, nil
	case TagU64:
		return reflect.ValueOf(v.AsUint64()), nil, nil
	case TagF32:
		return reflect.ValueOf(float32(v.AsFloat64())), nil, nil
	case TagF64:
		return reflect.ValueOf(v.AsFloat64()), nil, nil
	case TagPointer:
		if v.Kind != KindPointer {
			return reflect.Value{}, nil, newFFIError("extern pointer argument requires a pointer value")
		}
		elem := declared.Deref().Head()
		width := elem.byteWidth()
		if width == 0 {
			return reflect.Value{}, nil, newFFIError("unsupported pointee type %s for extern pointer argument", elem)
		}
		pin := &pinnedBuffer{vm: vm, base: v.Ptr.Index, extent: v.Ptr.Extent, elem: elem, buf: make([]byte, v.Ptr.Extent*width)}
		heap := vm.Frames[0]
		for i := 0; i < v.Ptr.Extent; i++ {
			encodeNativeValue(elem, heap.stack[v.Ptr.Index+i], pin.buf[i*width:(i+1)*width])
		}
		addr := uintptr(unsafe.Pointer(&pin.buf[0]))
		return reflect.ValueOf(addr), pin, nil
	default:
		return reflect.Value{}, nil, newFFIError("unsupported extern argument type %s", declared.Head())
	}
}

func unmarshalResult(declared Type, result reflect.Value) Value {
	t := declared.Head()
	switch {
	case t.IsSigned():
		return SignedValue(declared, result.Int())
	case t.IsUnsigned():
		return UnsignedValue(declared, result.Uint())
	case t.IsDecimal():
		return DecimalValue(declared, result.Float())
	case t == TagPointer:
		return PointerValue(declared, int(result.Uint()), 1)
	default:
		return Void()
	}
}

// encodeNativeValue writes v's scalar Body into raw in little-endian byte
// order, for the duration of a single FFI call. It does not adapt to a
// big-endian host.
func encodeNativeValue(elem Tag, v Value, raw []byte) {
	switch elem {
	case TagI8, TagU8:
		raw[0] = byte(v.AsUint64())
	case TagI16, TagU16:
		binary.LittleEndian.PutUint16(raw, uint16(v.AsUint64()))
	case TagI32, TagU32:
		binary.LittleEndian.PutUint32(raw, uint32(v.AsUint64()))
	case TagI64, TagU64:
		binary.LittleEndian.PutUint64(raw, v.AsUint64())
	case TagF32:
		binary.LittleEndian.PutUint32(raw, math.Float32bits(float32(v.AsFloat64())))
	case TagF64:
		binary.LittleEndian.PutUint64(raw, math.Float64bits(v.AsFloat64()))
	}
}

func decodeNativeValue(elem Tag, raw []byte) Value {
	t := NewType(elem)
	switch elem {
	case TagI8, TagI16, TagI32, TagI64:
		return SignedValue(t, decodeNativeSigned(elem, raw))
	case TagU8, TagU16, TagU32, TagU64:
		return UnsignedValue(t, decodeNativeUnsigned(elem, raw))
	case TagF32:
		return DecimalValue(t, float64(math.Float32frombits(binary.LittleEndian.Uint32(raw))))
	default:
		return DecimalValue(t, math.Float64frombits(binary.LittleEndian.Uint64(raw)))
	}
}

func decodeNativeSigned(elem Tag, raw []byte) int64 {
	switch elem {
	case TagI8:
		return int64(int8(raw[0]))
	case TagI16:
		return int64(int16(binary.LittleEndian.Uint16(raw)))
	case TagI32:
		return int64(int32(binary.LittleEndian.Uint32(raw)))
	default:
		return int64(binary.LittleEndian.Uint64(raw))
	}
}

func decodeNativeUnsigned(elem Tag, raw []byte) uint64 {
	switch elem {
	case TagU8:
		return uint64(raw[0])
	case TagU16:
		return uint64(binary.LittleEndian.Uint16(raw))
	case TagU32:
		return uint64(binary.LittleEndian.Uint32(raw))
	default:
		return binary.LittleEndian.Uint64(raw)
	}
}
