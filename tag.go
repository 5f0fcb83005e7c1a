// tag.go - primitive type tags for the rbbvm bytecode format

package rbbvm

import "math/bits"

// Tag identifies the primitive category of a Value or of one element of a
// Type descriptor. Tag values are part of the wire format and must not be
// renumbered.
type Tag byte

const (
	TagVoid Tag = iota
	TagI8
	TagI16
	TagI32
	TagI64
	TagU8
	TagU16
	TagU32
	TagU64
	TagF16
	TagF32
	TagF64
	TagPointer
	TagType
	TagStruct
	TagName
)

func (t Tag) String() string {
	switch t {
	case TagVoid:
		return "void"
	case TagI8:
		return "i8"
	case TagI16:
		return "i16"
	case TagI32:
		return "i32"
	case TagI64:
		return "i64"
	case TagU8:
		return "u8"
	case TagU16:
		return "u16"
	case TagU32:
		return "u32"
	case TagU64:
		return "u64"
	case TagF16:
		return "f16"
	case TagF32:
		return "f32"
	case TagF64:
		return "f64"
	case TagPointer:
		return "pointer"
	case TagType:
		return "type"
	case TagStruct:
		return "struct"
	case TagName:
		return "name"
	default:
		return "unknown"
	}
}

// IsInteger reports whether t names a fixed-width signed or unsigned tag.
func (t Tag) IsInteger() bool {
	return t >= TagI8 && t <= TagU64
}

// IsSigned reports whether t names a signed fixed-width tag.
func (t Tag) IsSigned() bool {
	return t >= TagI8 && t <= TagI64
}

// IsUnsigned reports whether t names an unsigned fixed-width tag.
func (t Tag) IsUnsigned() bool {
	return t >= TagU8 && t <= TagU64
}

// IsDecimal reports whether t names a floating-point tag.
func (t Tag) IsDecimal() bool {
	return t >= TagF16 && t <= TagF64
}

// immediateAllowed reports whether t may appear as the tag byte of an
// immediate operand in the instruction stream. VOID, TYPE, STRUCT, NAME and
// POINTER are never valid immediates.
func (t Tag) immediateAllowed() bool {
	return t.IsInteger() || t.IsDecimal()
}

// byteWidth returns the in-memory footprint, in bytes, of an immediate or
// scalar value carrying this tag. POINTER uses the host's pointer width.
// TYPE reports 1. VOID, STRUCT and NAME report 0: their true size is either
// nothing (VOID) or computed separately (STRUCT from its descriptor's cell
// count, NAME has no fixed binary width).
func (t Tag) byteWidth() int {
	switch t {
	case TagI8, TagU8:
		return 1
	case TagI16, TagU16, TagF16:
		return 2
	case TagI32, TagU32, TagF32:
		return 4
	case TagI64, TagU64, TagF64:
		return 8
	case TagPointer:
		return bits.UintSize / 8
	case TagType:
		return 1
	default:
		return 0
	}
}
