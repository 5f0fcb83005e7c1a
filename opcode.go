// opcode.go - instruction opcodes

package rbbvm

// Opcode is one decoded instruction's operation. The wire format encodes
// addressing mode (immediate vs. variable, vs. variable-indirect) into the
// low bits of the byte value for most families; the decoder resolves the
// byte into (Opcode, per-operand Operand.Kind) pairs so the dispatcher
// switches on operation rather than on operand shape.
type Opcode byte

const (
	OpNop Opcode = iota
	OpPush
	OpPop
	OpPeek
	OpCall
	OpAdd
	OpSub
	OpMul
	OpDiv
	OpMod
	OpJmp
	OpJe
	OpJne
	OpJg
	OpJge
	OpJl
	OpJle
	OpMov
	OpAnd
	OpOr
	OpXor
	OpNot
	OpLsh
	OpRsh
	OpVar
	OpRet
	OpDeref
	OpRef
	OpInst
	OpPmov
	OpAlloc
	OpFree
	OpCallc
)

// Terminal bytes that delimit the decoder's grammar (§4.1 of the design).
const (
	byteFunction    = 0xFF
	byteScopeOrEOA  = 0xFE
	byteClose       = 0xFD
	byteDataSection = 0xFC
	byteStruct      = 0xFB
	byteImport      = 0xFA
	byteExtern      = 0xF9
	byteEndArgTypes = 0xF8
)

// modeSpec describes one wire byte: which Opcode family it belongs to and
// the addressing mode of each of its operands.
type modeSpec struct {
	op    Opcode
	modes []OperandKind
}

var v = OperandVariable
var i = OperandImmediate
var vv = OperandVariableIndirect

// opcodeTable maps every wire byte in 0x00-0x8B to its decoded operation
// and per-operand addressing modes, per the full opcode table (every
// addressing-mode variant named individually in the binary format, folded
// here into one entry per combination actually assigned a byte value).
var opcodeTable = map[byte]modeSpec{
	0x00: {OpNop, nil},

	0x01: {OpPush, []OperandKind{i}},
	0x02: {OpPush, []OperandKind{v}},
	0x03: {OpPop, nil},
	0x04: {OpPeek, []OperandKind{i, v}},
	0x05: {OpPeek, []OperandKind{v, v}},

	0x06: {OpCall, []OperandKind{i}}, // CALL_FUNC: operand is a function-name immediate (Name-typed)
	0x07: {OpCall, []OperandKind{v}}, // CALL_VAR: operand variable holds the Name

	0x08: {OpAdd, []OperandKind{i, i, v}},
	0x09: {OpAdd, []OperandKind{v, i, v}},
	0x0A: {OpAdd, []OperandKind{i, v, v}},
	0x0B: {OpAdd, []OperandKind{v, v, v}},

	0x0C: {OpSub, []OperandKind{i, i, v}},
	0x0D: {OpSub, []OperandKind{v, i, v}},
	0x0E: {OpSub, []OperandKind{i, v, v}},
	0x0F: {OpSub, []OperandKind{v, v, v}},

	0x10: {OpMul, []OperandKind{i, i, v}},
	0x11: {OpMul, []OperandKind{v, i, v}},
	0x12: {OpMul, []OperandKind{i, v, v}},
	0x13: {OpMul, []OperandKind{v, v, v}},

	0x14: {OpDiv, []OperandKind{i, i, v}},
	0x15: {OpDiv, []OperandKind{v, i, v}},
	0x16: {OpDiv, []OperandKind{i, v, v}},
	0x17: {OpDiv, []OperandKind{v, v, v}},

	0x18: {OpJmp, []OperandKind{i}},
	0x19: {OpJmp, []OperandKind{v}},

	0x1A: {OpJne, []OperandKind{i, i, i}},
	0x1B: {OpJne, []OperandKind{v, i, i}},
	0x1C: {OpJne, []OperandKind{i, v, i}},
	0x1D: {OpJne, []OperandKind{v, v, i}},
	0x1E: {OpJne, []OperandKind{i, i, v}},
	0x1F: {OpJne, []OperandKind{v, i, v}},
	0x20: {OpJne, []OperandKind{i, v, v}},
	0x21: {OpJne, []OperandKind{v, v, v}},

	0x22: {OpJe, []OperandKind{i, i, i}},
	0x23: {OpJe, []OperandKind{v, i, i}},
	0x24: {OpJe, []OperandKind{i, v, i}},
	0x25: {OpJe, []OperandKind{v, v, i}},
	0x26: {OpJe, []OperandKind{i, i, v}},
	0x27: {OpJe, []OperandKind{v, i, v}},
	0x28: {OpJe, []OperandKind{i, v, v}},
	0x29: {OpJe, []OperandKind{v, v, v}},

	0x2A: {OpJge, []OperandKind{i, i, i}},
	0x2B: {OpJge, []OperandKind{v, i, i}},
	0x2C: {OpJge, []OperandKind{i, v, i}},
	0x2D: {OpJge, []OperandKind{v, v, i}},
	0x2E: {OpJge, []OperandKind{i, i, v}},
	0x2F: {OpJge, []OperandKind{v, i, v}},
	0x30: {OpJge, []OperandKind{i, v, v}},
	0x31: {OpJge, []OperandKind{v, v, v}},

	0x32: {OpJg, []OperandKind{i, i, i}},
	0x33: {OpJg, []OperandKind{v, i, i}},
	0x34: {OpJg, []OperandKind{i, v, i}},
	0x35: {OpJg, []OperandKind{v, v, i}},
	0x36: {OpJg, []OperandKind{i, i, v}},
	0x37: {OpJg, []OperandKind{v, i, v}},
	0x38: {OpJg, []OperandKind{i, v, v}},
	0x39: {OpJg, []OperandKind{v, v, v}},

	0x3A: {OpJle, []OperandKind{i, i, i}},
	0x3B: {OpJle, []OperandKind{v, i, i}},
	0x3C: {OpJle, []OperandKind{i, v, i}},
	0x3D: {OpJle, []OperandKind{v, v, i}},
	0x3E: {OpJle, []OperandKind{i, i, v}},
	0x3F: {OpJle, []OperandKind{v, i, v}},
	0x40: {OpJle, []OperandKind{i, v, v}},
	0x41: {OpJle, []OperandKind{v, v, v}},

	0x42: {OpJl, []OperandKind{i, i, i}},
	0x43: {OpJl, []OperandKind{v, i, i}},
	0x44: {OpJl, []OperandKind{i, v, i}},
	0x45: {OpJl, []OperandKind{v, v, i}},
	0x46: {OpJl, []OperandKind{i, i, v}},
	0x47: {OpJl, []OperandKind{v, i, v}},
	0x48: {OpJl, []OperandKind{i, v, v}},
	0x49: {OpJl, []OperandKind{v, v, v}},

	0x4A: {OpMov, []OperandKind{i, v}},
	0x4B: {OpMov, []OperandKind{v, v}},
	0x4C: {OpMov, []OperandKind{vv, v}},
	0x4D: {OpMov, []OperandKind{i, vv}},
	0x4E: {OpMov, []OperandKind{v, vv}},
	0x4F: {OpMov, []OperandKind{vv, vv}},

	0x50: {OpAnd, []OperandKind{i, i, v}},
	0x51: {OpAnd, []OperandKind{v, i, v}},
	0x52: {OpAnd, []OperandKind{i, v, v}},
	0x53: {OpAnd, []OperandKind{v, v, v}},

	0x54: {OpOr, []OperandKind{i, i, v}},
	0x55: {OpOr, []OperandKind{v, i, v}},
	0x56: {OpOr, []OperandKind{i, v, v}},
	0x57: {OpOr, []OperandKind{v, v, v}},

	0x58: {OpXor, []OperandKind{i, i, v}},
	0x59: {OpXor, []OperandKind{v, i, v}},
	0x5A: {OpXor, []OperandKind{i, v, v}},
	0x5B: {OpXor, []OperandKind{v, v, v}},

	0x5C: {OpNot, []OperandKind{i, v}},
	0x5D: {OpNot, []OperandKind{v, v}},

	0x5E: {OpLsh, []OperandKind{i, i, v}},
	0x5F: {OpLsh, []OperandKind{v, i, v}},
	0x60: {OpLsh, []OperandKind{i, v, v}},
	0x61: {OpLsh, []OperandKind{v, v, v}},

	0x62: {OpRsh, []OperandKind{i, i, v}},
	0x63: {OpRsh, []OperandKind{v, i, v}},
	0x64: {OpRsh, []OperandKind{i, v, v}},
	0x65: {OpRsh, []OperandKind{v, v, v}},

	0x66: {OpVar, []OperandKind{i, i}}, // VAR type-immediate name-immediate
	0x67: {OpVar, []OperandKind{v, i}}, // VAR type-variable name-immediate
	0x68: {OpVar, []OperandKind{i, v}}, // VAR type-immediate name-variable
	0x69: {OpVar, []OperandKind{v, v}}, // VAR type-variable name-variable

	0x6A: {OpRet, nil},
	0x6B: {OpRet, []OperandKind{i}},
	0x6C: {OpRet, []OperandKind{v}},

	0x6D: {OpDeref, []OperandKind{i, v}},
	0x6E: {OpDeref, []OperandKind{v, v}},

	0x6F: {OpRef, []OperandKind{i, v}},
	0x70: {OpRef, []OperandKind{v, v}},

	0x71: {OpInst, []OperandKind{i, v}},
	0x72: {OpInst, []OperandKind{v, v}},

	0x73: {OpMod, []OperandKind{i, i, v}},
	0x74: {OpMod, []OperandKind{v, i, v}},
	0x75: {OpMod, []OperandKind{i, v, v}},
	0x76: {OpMod, []OperandKind{v, v, v}},

	0x77: {OpPmov, []OperandKind{i, i, i}},
	0x78: {OpPmov, []OperandKind{v, i, i}},
	0x79: {OpPmov, []OperandKind{i, v, i}},
	0x7A: {OpPmov, []OperandKind{v, v, i}},

	0x7B: {OpAlloc, []OperandKind{i, i, v}},
	0x7C: {OpAlloc, []OperandKind{v, i, v}},
	0x7D: {OpAlloc, []OperandKind{i, v, v}},
	0x7E: {OpAlloc, []OperandKind{v, v, v}},

	0x7F: {OpFree, []OperandKind{v}},

	0x80: {OpFree, []OperandKind{i, i}},
	0x81: {OpFree, []OperandKind{v, i}},
	0x82: {OpFree, []OperandKind{i, v}},
	0x83: {OpFree, []OperandKind{v, v}},

	0x84: {OpCallc, []OperandKind{i, i, i}},
	0x85: {OpCallc, []OperandKind{v, i, i}},
	0x86: {OpCallc, []OperandKind{i, v, i}},
	0x87: {OpCallc, []OperandKind{v, v, i}},
	0x88: {OpCallc, []OperandKind{i, i, v}},
	0x89: {OpCallc, []OperandKind{v, i, v}},
	0x8A: {OpCallc, []OperandKind{i, v, v}},
	0x8B: {OpCallc, []OperandKind{v, v, v}},
}
