// decoder.go - the binary image decoder

package rbbvm

import (
	"encoding/binary"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
)

// cursor is a forward-only reader over a program image.
type cursor struct {
	data []byte
	pos  int
}

func (c *cursor) atEOF() bool { return c.pos >= len(c.data) }

func (c *cursor) peekByte() (byte, bool) {
	if c.atEOF() {
		return 0, false
	}
	return c.data[c.pos], true
}

func (c *cursor) readByte() (byte, error) {
	if c.atEOF() {
		return 0, newDecodeError(c.pos, "unexpected end of image")
	}
	b := c.data[c.pos]
	c.pos++
	return b, nil
}

func (c *cursor) readBytes(n int) ([]byte, error) {
	if c.pos+n > len(c.data) {
		return nil, newDecodeError(c.pos, "unexpected end of image reading %d bytes", n)
	}
	b := c.data[c.pos : c.pos+n]
	c.pos += n
	return b, nil
}

// parseString reads a length-prefixed UTF-8 bytecode string: one length
// byte followed by that many bytes.
func (c *cursor) parseString() (string, error) {
	l, err := c.readByte()
	if err != nil {
		return "", err
	}
	b, err := c.readBytes(int(l))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// parseType reads zero or more leading POINTER tags followed by a
// terminal tag.
func (c *cursor) parseType() (Type, error) {
	var tags []Tag
	for {
		start := c.pos
		b, err := c.readByte()
		if err != nil {
			return Type{}, err
		}
		if b > byte(TagName) {
			return Type{}, newDecodeError(start, "invalid type tag byte 0x%02x", b)
		}
		tags = append(tags, Tag(b))
		if Tag(b) != TagPointer {
			break
		}
	}
	return Type{Tags: tags}, nil
}

// parseImmediateValue reads a generic immediate: one tag byte, then a
// big-endian fixed-width value. VOID, TYPE, STRUCT, NAME and POINTER are
// invalid immediate tags.
func (c *cursor) parseImmediateValue() (Value, error) {
	start := c.pos
	b, err := c.readByte()
	if err != nil {
		return Value{}, err
	}
	tag := Tag(b)
	if b > byte(TagName) || !tag.immediateAllowed() {
		return Value{}, newDecodeError(start, "tag 0x%02x is not a valid immediate", b)
	}
	raw, err := c.readBytes(tag.byteWidth())
	if err != nil {
		return Value{}, err
	}
	switch {
	case tag.IsSigned():
		return SignedValue(NewType(tag), decodeBESigned(raw)), nil
	case tag.IsUnsigned():
		return UnsignedValue(NewType(tag), decodeBEUnsigned(raw)), nil
	default:
		return DecimalValue(NewType(tag), decodeBEFloat(tag, raw)), nil
	}
}

// parseDynamicNumber reads a data-section length field: a one-byte
// discriminator naming an integer tag (1..8, i8..u64) then a big-endian
// value of that tag's width.
func (c *cursor) parseDynamicNumber() (uint64, error) {
	start := c.pos
	w, err := c.readByte()
	if err != nil {
		return 0, err
	}
	if !Tag(w).IsInteger() {
		return 0, newDecodeError(start, "invalid dynamic-number discriminator %d", w)
	}
	raw, err := c.readBytes(Tag(w).byteWidth())
	if err != nil {
		return 0, err
	}
	return decodeBEUnsigned(raw), nil
}

func decodeBESigned(raw []byte) int64 {
	switch len(raw) {
	case 1:
		return int64(int8(raw[0]))
	case 2:
		return int64(int16(binary.BigEndian.Uint16(raw)))
	case 4:
		return int64(int32(binary.BigEndian.Uint32(raw)))
	default:
		return int64(binary.BigEndian.Uint64(raw))
	}
}

func decodeBEUnsigned(raw []byte) uint64 {
	switch len(raw) {
	case 1:
		return uint64(raw[0])
	case 2:
		return uint64(binary.BigEndian.Uint16(raw))
	case 4:
		return uint64(binary.BigEndian.Uint32(raw))
	default:
		return binary.BigEndian.Uint64(raw)
	}
}

func decodeBEFloat(tag Tag, raw []byte) float64 {
	switch tag {
	case TagF16:
		return float64(halfToFloat32(binary.BigEndian.Uint16(raw)))
	case TagF32:
		return float64(math.Float32frombits(binary.BigEndian.Uint32(raw)))
	default:
		return math.Float64frombits(binary.BigEndian.Uint64(raw))
	}
}

// halfToFloat32 converts an IEEE-754 binary16 bit pattern to float32.
// The standard library has no float16 type; no library in the retrieved
// pack provides one either, so this is a small hand-rolled bit-twiddle.
func halfToFloat32(h uint16) float32 {
	sign := uint32(h&0x8000) << 16
	exp := uint32(h&0x7C00) >> 10
	frac := uint32(h & 0x03FF)

	switch exp {
	case 0:
		if frac == 0 {
			return math.Float32frombits(sign)
		}
		for frac&0x0400 == 0 {
			frac <<= 1
			exp--
		}
		exp++
		frac &= 0x03FF
	case 0x1F:
		if frac == 0 {
			return math.Float32frombits(sign | 0x7F800000)
		}
		return math.Float32frombits(sign | 0x7F800000 | (frac << 13))
	}
	exp = exp + (127 - 15)
	return math.Float32frombits(sign | (exp << 23) | (frac << 13))
}

// operandRole distinguishes what an Immediate-kind operand's bytes encode:
// a numeric value, a literal name (bytecode string), or a reified type.
// Variable-kind operands always decode as a bytecode string naming the
// variable, regardless of role.
type operandRole byte

const (
	roleValue operandRole = iota
	roleName
	roleType
)

func operandRoleFor(op Opcode, position int) operandRole {
	switch op {
	case OpCall:
		if position == 0 {
			return roleName
		}
	case OpVar:
		switch position {
		case 0:
			return roleType
		case 1:
			return roleName
		}
	case OpInst:
		if position == 0 {
			return roleName
		}
	case OpAlloc:
		if position == 0 {
			return roleType
		}
	case OpCallc:
		switch position {
		case 0:
			return roleName
		case 1:
			return roleType
		}
	}
	return roleValue
}

// Decoder parses program images and resolves imports against a link
// search path.
type Decoder struct {
	linkPaths []string
	importing map[string]bool // canonical paths currently being decoded, for cycle detection
}

// NewDecoder returns a Decoder that resolves unqualified imports against
// linkPaths, in order.
func NewDecoder(linkPaths []string) *Decoder {
	return &Decoder{linkPaths: linkPaths, importing: make(map[string]bool)}
}

// DecodeFile reads and decodes the program image at path, recursively
// resolving and decoding any imports it declares.
func (d *Decoder) DecodeFile(path string) (*Scope, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}
	if d.importing[abs] {
		return nil, newImportError(path, "cyclic import")
	}
	d.importing[abs] = true
	defer delete(d.importing, abs)
	return d.decodeImage(data, filepath.Dir(abs))
}

func (d *Decoder) decodeImage(data []byte, baseDir string) (*Scope, error) {
	c := &cursor{data: data}
	scope := NewScope(nil)
	if err := d.parseScopeBody(c, scope, baseDir, false); err != nil {
		return nil, err
	}
	scope.finalize()
	return scope, nil
}

// parseScopeBody parses scope elements until a close byte (nested==true)
// or end of input (nested==false, the program's root scope).
func (d *Decoder) parseScopeBody(c *cursor, scope *Scope, baseDir string, nested bool) error {
	for {
		b, ok := c.peekByte()
		if !ok {
			if nested {
				return newDecodeError(c.pos, "unexpected end of image inside scope")
			}
			return nil
		}
		switch b {
		case byteClose:
			c.readByte()
			return nil
		case byteDataSection:
			c.readByte()
			return d.parseDataSection(c, scope)
		case byteFunction:
			c.readByte()
			if err := d.parseFunction(c, scope, baseDir); err != nil {
				return err
			}
		case byteScopeOrEOA:
			c.readByte()
			child := NewScope(scope)
			if err := d.parseScopeBody(c, child, baseDir, true); err != nil {
				return err
			}
			child.finalize()
			scope.Blocks = append(scope.Blocks, Block{Nested: child})
		case byteStruct:
			c.readByte()
			if err := d.parseStruct(c, scope); err != nil {
				return err
			}
		case byteImport:
			c.readByte()
			if err := d.parseImport(c, scope, baseDir); err != nil {
				return err
			}
		case byteExtern:
			c.readByte()
			if err := d.parseExtern(c, scope); err != nil {
				return err
			}
		default:
			ins, err := d.parseInstruction(c)
			if err != nil {
				return err
			}
			scope.appendInstr(ins)
		}
	}
}

func (d *Decoder) parseInstruction(c *cursor) (Instruction, error) {
	start := c.pos
	opByte, err := c.readByte()
	if err != nil {
		return Instruction{}, err
	}
	spec, ok := opcodeTable[opByte]
	if !ok {
		return Instruction{}, newDecodeError(start, "unknown opcode 0x%02x", opByte)
	}
	ops := make([]Operand, 0, len(spec.modes))
	for pos, kind := range spec.modes {
		switch kind {
		case OperandVariable, OperandVariableIndirect:
			name, err := c.parseString()
			if err != nil {
				return Instruction{}, err
			}
			ops = append(ops, Operand{Kind: kind, Name: name})
		default: // OperandImmediate
			switch operandRoleFor(spec.op, pos) {
			case roleName:
				name, err := c.parseString()
				if err != nil {
					return Instruction{}, err
				}
				ops = append(ops, Operand{Kind: OperandImmediate, Name: name})
			case roleType:
				t, err := c.parseType()
				if err != nil {
					return Instruction{}, err
				}
				ops = append(ops, Operand{Kind: OperandImmediate, Imm: Value{Kind: KindType, AsType: t}})
			default:
				v, err := c.parseImmediateValue()
				if err != nil {
					return Instruction{}, err
				}
				ops = append(ops, Operand{Kind: OperandImmediate, Imm: v})
			}
		}
	}
	return Instruction{Op: spec.op, Operands: ops}, nil
}

func (d *Decoder) parseFunction(c *cursor, scope *Scope, baseDir string) error {
	retType, err := c.parseType()
	if err != nil {
		return err
	}
	name, err := c.parseString()
	if err != nil {
		return err
	}
	var argTypes []Type
	var argNames []string
	for {
		b, ok := c.peekByte()
		if !ok {
			return newDecodeError(c.pos, "unexpected end of image in function header %q", name)
		}
		if b == byteScopeOrEOA {
			c.readByte()
			break
		}
		t, err := c.parseType()
		if err != nil {
			return err
		}
		argName, err := c.parseString()
		if err != nil {
			return err
		}
		argTypes = append(argTypes, t)
		argNames = append(argNames, argName)
	}
	body := NewScope(scope)
	if err := d.parseScopeBody(c, body, baseDir, true); err != nil {
		return err
	}
	body.finalize()
	scope.Functions[name] = &Function{
		Name:       name,
		ReturnType: retType,
		ArgTypes:   argTypes,
		ArgNames:   argNames,
		Body:       body,
	}
	return nil
}

func (d *Decoder) parseExtern(c *cursor, scope *Scope) error {
	retType, err := c.parseType()
	if err != nil {
		return err
	}
	name, err := c.parseString()
	if err != nil {
		return err
	}
	var argTypes []Type
	for {
		b, ok := c.peekByte()
		if !ok {
			return newDecodeError(c.pos, "unexpected end of image in extern header %q", name)
		}
		if b == byteEndArgTypes {
			c.readByte()
			break
		}
		t, err := c.parseType()
		if err != nil {
			return err
		}
		argTypes = append(argTypes, t)
	}
	lib, err := c.parseString()
	if err != nil {
		return err
	}
	scope.Externs[name] = &Extern{
		Name:       name,
		AccessName: name,
		ReturnType: retType,
		ArgTypes:   argTypes,
		Library:    lib,
	}
	return nil
}

func (d *Decoder) parseStruct(c *cursor, scope *Scope) error {
	name, err := c.parseString()
	if err != nil {
		return err
	}
	b, err := c.readByte()
	if err != nil {
		return err
	}
	if b != byteScopeOrEOA {
		return newDecodeError(c.pos-1, "expected struct field list start in %q", name)
	}
	var names []string
	var types []Type
	offsets := make(map[string]int)
	offset := 0
	for {
		b, ok := c.peekByte()
		if !ok {
			return newDecodeError(c.pos, "unexpected end of image in struct %q", name)
		}
		if b == byteClose {
			c.readByte()
			break
		}
		t, err := c.parseType()
		if err != nil {
			return err
		}
		fname, err := c.parseString()
		if err != nil {
			return err
		}
		names = append(names, fname)
		types = append(types, t)
		offsets[fname] = offset
		offset++
	}
	scope.Structs[name] = &Struct{Name: name, Size: offset, VarNames: names, VarTypes: types, VarOffsets: offsets}
	return nil
}

func (d *Decoder) parseImport(c *cursor, scope *Scope, baseDir string) error {
	path, err := c.parseString()
	if err != nil {
		return err
	}
	canon, err := d.resolveImportPath(path, baseDir)
	if err != nil {
		return err
	}
	if d.importing[canon] {
		return newImportError(path, "cyclic import")
	}
	data, err := os.ReadFile(canon)
	if err != nil {
		return newImportError(path, "%v", err)
	}
	d.importing[canon] = true
	imported, err := d.decodeImage(data, filepath.Dir(canon))
	delete(d.importing, canon)
	if err != nil {
		return err
	}
	name := moduleNameFromPath(path)
	scope.Modules[name] = &Module{Name: name, Scope: imported, FrameIndex: -1}
	return nil
}

func moduleNameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// resolveImportPath resolves an import string either as a path relative
// to baseDir (or absolute, or found as-is), or by a unique suffix match
// across the decoder's link search path.
func (d *Decoder) resolveImportPath(importPath, baseDir string) (string, error) {
	candidate := importPath
	if !filepath.IsAbs(candidate) {
		candidate = filepath.Join(baseDir, importPath)
	}
	if fileExists(candidate) {
		abs, err := filepath.Abs(candidate)
		if err != nil {
			return "", err
		}
		return abs, nil
	}

	var matches []string
	for _, lp := range d.linkPaths {
		_ = filepath.WalkDir(lp, func(p string, entry fs.DirEntry, err error) error {
			if err != nil || entry.IsDir() {
				return nil
			}
			if strings.HasSuffix(p, importPath) {
				matches = append(matches, p)
			}
			return nil
		})
	}
	switch len(matches) {
	case 0:
		return "", newImportError(importPath, "not found on link search path")
	case 1:
		abs, err := filepath.Abs(matches[0])
		if err != nil {
			return "", err
		}
		return abs, nil
	default:
		return "", newImportError(importPath, "ambiguous: matches %v", matches)
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// DataEntry is one declared global in a program's trailing data section:
// a named, N-element array of a single element type.
type DataEntry struct {
	Name   string
	Elem   Type
	Values []Value
}

func (d *Decoder) parseDataSection(c *cursor, scope *Scope) error {
	for !c.atEOF() {
		name, err := c.parseString()
		if err != nil {
			return err
		}
		elem, err := c.parseType()
		if err != nil {
			return err
		}
		n, err := c.parseDynamicNumber()
		if err != nil {
			return err
		}
		width := elem.Head().byteWidth()
		if width == 0 {
			return newDecodeError(c.pos, "unsupported data-section element type %s for %q", elem, name)
		}
		values := make([]Value, n)
		for k := uint64(0); k < n; k++ {
			raw, err := c.readBytes(width)
			if err != nil {
				return err
			}
			switch {
			case elem.Head().IsSigned():
				values[k] = SignedValue(elem, decodeBESigned(raw))
			case elem.Head().IsUnsigned():
				values[k] = UnsignedValue(elem, decodeBEUnsigned(raw))
			default:
				values[k] = DecimalValue(elem, decodeBEFloat(elem.Head(), raw))
			}
		}
		scope.DataEntries = append(scope.DataEntries, DataEntry{Name: name, Elem: elem, Values: values})
	}
	return nil
}

// appendInstr appends ins to the trailing code block, opening a new code
// block first if the scope is empty or its last block is a nested scope.
func (s *Scope) appendInstr(ins Instruction) {
	if len(s.Blocks) == 0 || s.Blocks[len(s.Blocks)-1].Nested != nil {
		s.Blocks = append(s.Blocks, Block{})
	}
	last := &s.Blocks[len(s.Blocks)-1]
	last.Code = append(last.Code, ins)
}

// finalize computes BlockStarts (the flat instruction index at which each
// block begins) and Slots (the same information flattened into a single
// pc-indexable sequence), after all of a scope's Blocks have been parsed.
func (s *Scope) finalize() {
	s.BlockStarts = make([]int, len(s.Blocks))
	offset := 0
	for i, b := range s.Blocks {
		s.BlockStarts[i] = offset
		if b.Nested != nil {
			offset++
			s.Slots = append(s.Slots, Slot{Nested: b.Nested})
		} else {
			offset += len(b.Code)
			for j := range b.Code {
				s.Slots = append(s.Slots, Slot{Instr: &b.Code[j]})
			}
		}
	}
}
