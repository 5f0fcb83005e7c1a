// typ.go - the Type descriptor: an ordered sequence of tags

package rbbvm

import "strings"

// Type is an ordered sequence of tags. A pointer type carries one or more
// leading TagPointer entries followed by a terminal tag describing what is
// pointed to, e.g. pointer-to-pointer-to-I32 is {Pointer, Pointer, I32}.
type Type struct {
	Tags []Tag
}

// NewType builds a Type from its tag sequence.
func NewType(tags ...Tag) Type {
	return Type{Tags: append([]Tag(nil), tags...)}
}

// Head returns the first (outermost) tag, or TagVoid for an empty Type.
func (t Type) Head() Tag {
	if len(t.Tags) == 0 {
		return TagVoid
	}
	return t.Tags[0]
}

// IsPointer reports whether this Type's head tag is TagPointer.
func (t Type) IsPointer() bool {
	return t.Head() == TagPointer
}

// Deref returns the Type one pointer level down. Calling Deref on a
// non-pointer Type returns it unchanged.
func (t Type) Deref() Type {
	if !t.IsPointer() || len(t.Tags) == 0 {
		return t
	}
	return Type{Tags: t.Tags[1:]}
}

// PointerTo wraps t in one additional pointer level.
func (t Type) PointerTo() Type {
	tags := make([]Tag, 0, len(t.Tags)+1)
	tags = append(tags, TagPointer)
	tags = append(tags, t.Tags...)
	return Type{Tags: tags}
}

func (t Type) String() string {
	var b strings.Builder
	for _, tag := range t.Tags {
		if tag == TagPointer {
			b.WriteByte('*')
			continue
		}
		b.WriteString(tag.String())
		break
	}
	if len(t.Tags) == 0 {
		b.WriteString("void")
	}
	return b.String()
}

// Equal reports structural equality between two Types.
func (t Type) Equal(o Type) bool {
	if len(t.Tags) != len(o.Tags) {
		return false
	}
	for i := range t.Tags {
		if t.Tags[i] != o.Tags[i] {
			return false
		}
	}
	return true
}

// size returns the cell footprint of a value of this type within a frame's
// stack. Every scalar, pointer, type, name and struct header occupies
// exactly one cell; a struct's fields occupy additional cells tracked
// separately by the Struct descriptor, not by Type itself.
func (t Type) size() int {
	return 1
}
