// dispatcher.go - the fetch-decode-execute loop

package rbbvm

import (
	"fmt"
	"strings"
)

// execScope runs scope's linearized Slots against the frame named by
// fc.Current, returning its implicit or explicit return value. A nested
// scope slot runs inline, interleaved at its recorded position, and does
// not push a frame; a RET anywhere beneath it unwinds straight out. On
// exit (normal or via RET) the frame's operand stack is truncated back to
// its depth on entry, dropping any variables declared within; the VM's
// root scope is the exception and keeps its declarations.
func (vm *VM) execScope(scope *Scope, fc frameCtx) (Value, bool, error) {
	frame := vm.Frames[fc.Current]
	mark := frame.Len()
	// The global scope's own declarations are the program's globals and
	// must survive past it returning; only a scope nested beneath it (a
	// function body, a block, an inner scope) truncates its locals on exit.
	root := scope == vm.Root
	truncate := func() {
		if !root {
			frame.TruncateFrom(mark)
		}
	}
	pc := 0
	for pc < len(scope.Slots) {
		slot := scope.Slots[pc]
		if slot.Nested != nil {
			ret, returned, err := vm.execScope(slot.Nested, fc)
			if err != nil {
				truncate()
				return Value{}, false, err
			}
			if returned {
				truncate()
				return ret, true, nil
			}
			pc++
			continue
		}
		next, ret, returned, err := vm.execInstruction(slot.Instr, scope, fc, pc)
		if err != nil {
			truncate()
			return Value{}, false, err
		}
		if returned {
			truncate()
			return ret, true, nil
		}
		pc = next
	}
	truncate()
	return Void(), false, nil
}

func (vm *VM) readOperand(op Operand, scope *Scope, fc frameCtx) (Value, error) {
	switch op.Kind {
	case OperandImmediate:
		return op.Imm, nil
	case OperandVariable:
		fIdx, cIdx, err := vm.Resolve(op.Name, scope, fc)
		if err != nil {
			return Value{}, err
		}
		return vm.Frames[fIdx].GetAt(cIdx)
	default: // OperandVariableIndirect
		holder, err := vm.readOperand(Operand{Kind: OperandVariable, Name: op.Name}, scope, fc)
		if err != nil {
			return Value{}, err
		}
		if holder.Kind != KindName {
			return Value{}, newTypeError("%q does not hold a name", op.Name)
		}
		return vm.readOperand(Operand{Kind: OperandVariable, Name: holder.Name}, scope, fc)
	}
}

func (vm *VM) writeOperand(op Operand, val Value, scope *Scope, fc frameCtx) error {
	name := op.Name
	if op.Kind == OperandVariableIndirect {
		holder, err := vm.readOperand(Operand{Kind: OperandVariable, Name: op.Name}, scope, fc)
		if err != nil {
			return err
		}
		if holder.Kind != KindName {
			return newTypeError("%q does not hold a name", op.Name)
		}
		name = holder.Name
	}
	if name == "_" {
		return nil
	}
	fIdx, cIdx, err := vm.Resolve(name, scope, fc)
	if err != nil {
		return err
	}
	return vm.Frames[fIdx].SetAt(cIdx, val)
}

// resolvedType reads a type-valued operand: an Immediate carries the
// reified Type directly, a Variable names a variable expected to hold one.
func (vm *VM) resolvedType(op Operand, scope *Scope, fc frameCtx) (Type, error) {
	if op.Kind == OperandImmediate {
		return op.Imm.AsType, nil
	}
	v, err := vm.readOperand(op, scope, fc)
	if err != nil {
		return Type{}, err
	}
	if v.Kind != KindType {
		return Type{}, newTypeError("%q does not hold a type", op.Name)
	}
	return v.AsType, nil
}

// resolvedName reads a name-valued operand: an Immediate carries the
// literal name string directly (Operand.Name), a Variable names a
// variable expected to hold a Name value.
func (vm *VM) resolvedName(op Operand, scope *Scope, fc frameCtx) (string, error) {
	if op.Kind == OperandImmediate {
		return op.Name, nil
	}
	v, err := vm.readOperand(op, scope, fc)
	if err != nil {
		return "", err
	}
	if v.Kind != KindName {
		return "", newTypeError("%q does not hold a name", op.Name)
	}
	return v.Name, nil
}

// valueAsPointer interprets a Value used where a heap pointer is expected.
// A proper Pointer-kind Value is used as-is; a bare numeric Value (the
// only representation available for an immediate pointer operand, since
// POINTER is not a valid generic immediate tag) is treated as a raw heap
// index with extent 1.
func valueAsPointer(v Value) Pointer {
	if v.Kind == KindPointer {
		return v.Ptr
	}
	return Pointer{Index: int(v.AsInt64()), Extent: 1}
}

func (vm *VM) execInstruction(ins *Instruction, scope *Scope, fc frameCtx, pc int) (next int, ret Value, returned bool, err error) {
	next = pc + 1
	frame := vm.Frames[fc.Current]
	ops := ins.Operands

	if vm.Debug {
		fmt.Printf("%04d: %s\n", pc, formatInstruction(ins))
	}

	switch ins.Op {
	case OpNop:

	case OpPush:
		v, e := vm.readOperand(ops[0], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		frame.Push(v)

	case OpPop:
		if _, e := frame.Pop(); e != nil {
			return 0, Value{}, false, e
		}

	case OpPeek:
		idxVal, e := vm.readOperand(ops[0], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		v, e := frame.Peek(int(idxVal.AsInt64()))
		if e != nil {
			return 0, Value{}, false, e
		}
		if e := vm.writeOperand(ops[1], v, scope, fc); e != nil {
			return 0, Value{}, false, e
		}

	case OpAdd, OpSub, OpMul, OpDiv, OpMod:
		a, e := vm.readOperand(ops[0], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		b, e := vm.readOperand(ops[1], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		res, e := Arith(arithSymbol(ins.Op), a, b)
		if e != nil {
			return 0, Value{}, false, e
		}
		if e := vm.writeOperand(ops[2], res, scope, fc); e != nil {
			return 0, Value{}, false, e
		}

	case OpAnd, OpOr, OpXor:
		a, e := vm.readOperand(ops[0], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		b, e := vm.readOperand(ops[1], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		if e := vm.writeOperand(ops[2], Bitwise(bitwiseSymbol(ins.Op), a, b), scope, fc); e != nil {
			return 0, Value{}, false, e
		}

	case OpNot:
		a, e := vm.readOperand(ops[0], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		if e := vm.writeOperand(ops[1], Not(a), scope, fc); e != nil {
			return 0, Value{}, false, e
		}

	case OpLsh, OpRsh:
		a, e := vm.readOperand(ops[0], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		b, e := vm.readOperand(ops[1], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		dir := byte('<')
		if ins.Op == OpRsh {
			dir = '>'
		}
		if e := vm.writeOperand(ops[2], Shift(dir, a, b), scope, fc); e != nil {
			return 0, Value{}, false, e
		}

	case OpJmp:
		t, e := vm.readOperand(ops[0], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		n, e := vm.jumpTarget(scope, t)
		if e != nil {
			return 0, Value{}, false, e
		}
		next = n

	case OpJe, OpJne, OpJg, OpJge, OpJl, OpJle:
		left, e := vm.readOperand(ops[0], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		right, e := vm.readOperand(ops[1], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		targetVal, e := vm.readOperand(ops[2], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		cmp := Compare(left, right)
		if !branchTaken(ins.Op, cmp) {
			break
		}
		n, e := vm.jumpTarget(scope, targetVal)
		if e != nil {
			return 0, Value{}, false, e
		}
		next = n

	case OpMov:
		v, e := vm.readOperand(ops[0], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		if e := vm.writeOperand(ops[1], v, scope, fc); e != nil {
			return 0, Value{}, false, e
		}

	case OpVar:
		t, e := vm.resolvedType(ops[0], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		name, e := vm.resolvedName(ops[1], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		frame.Declare(name, ZeroOf(t))

	case OpRet:
		if len(ops) == 0 {
			return 0, Void(), true, nil
		}
		v, e := vm.readOperand(ops[0], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		return 0, v, true, nil

	case OpDeref:
		p, e := vm.readOperand(ops[0], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		v, e := vm.Frames[0].GetAt(valueAsPointer(p).Index)
		if e != nil {
			return 0, Value{}, false, e
		}
		if e := vm.writeOperand(ops[1], v, scope, fc); e != nil {
			return 0, Value{}, false, e
		}

	case OpRef:
		if ops[0].Kind == OperandVariable {
			name := ops[0].Name
			heap := vm.Frames[0]
			if idx, ok := heap.Lookup(name); ok {
				// Already copied to the heap by an earlier REF of the same
				// variable: reuse its cell instead of pushing a duplicate.
				ptr := PointerValue(heap.stack[idx].Typ.PointerTo(), idx, 1)
				if e := vm.writeOperand(ops[1], ptr, scope, fc); e != nil {
					return 0, Value{}, false, e
				}
				break
			}
			fIdx, cIdx, e := vm.Resolve(name, scope, fc)
			if e != nil {
				return 0, Value{}, false, e
			}
			v, e := vm.Frames[fIdx].GetAt(cIdx)
			if e != nil {
				return 0, Value{}, false, e
			}
			base := len(heap.stack)
			heap.stack = append(heap.stack, v)
			heap.allocs = append(heap.allocs, name)
			heap.names = append(heap.names, name)
			heap.vars[name] = base
			if e := vm.writeOperand(ops[1], PointerValue(v.Typ.PointerTo(), base, 1), scope, fc); e != nil {
				return 0, Value{}, false, e
			}
			break
		}

		// REF_IMM: the source is a literal with no name to preserve, so it
		// always lands in a fresh anonymous heap cell.
		src, e := vm.readOperand(ops[0], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		heap := vm.Frames[0]
		base := heap.Len()
		heap.stack = append(heap.stack, src)
		heap.allocs = append(heap.allocs, "")
		if e := vm.writeOperand(ops[1], PointerValue(src.Typ.PointerTo(), base, 1), scope, fc); e != nil {
			return 0, Value{}, false, e
		}

	case OpInst:
		name, e := vm.resolvedName(ops[0], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		st, ok := lookupStructDecl(scope, name)
		if !ok {
			return 0, Value{}, false, newNameError(name)
		}
		base := frame.Len()
		for _, ft := range st.VarTypes {
			frame.Push(ZeroOf(ft))
		}
		instVal := Value{Typ: NewType(TagStruct), Kind: KindStruct, Struct: StructRef{Descriptor: st, Base: base}}
		if e := vm.writeOperand(ops[1], instVal, scope, fc); e != nil {
			return 0, Value{}, false, e
		}

	case OpPmov:
		val, e := vm.readOperand(ops[0], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		ptrVal, e := vm.readOperand(ops[1], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		offVal, e := vm.readOperand(ops[2], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		p := valueAsPointer(ptrVal)
		if e := vm.Frames[0].SetAt(p.Index+int(offVal.AsInt64()), val); e != nil {
			return 0, Value{}, false, e
		}

	case OpAlloc:
		elem, e := vm.resolvedType(ops[0], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		countVal, e := vm.readOperand(ops[1], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		owner := ops[2].Name
		base := vm.Frames[0].Alloc(owner, elem, int(countVal.AsInt64()))
		ptr := PointerValue(elem.PointerTo(), base, int(countVal.AsInt64()))
		if e := vm.writeOperand(ops[2], ptr, scope, fc); e != nil {
			return 0, Value{}, false, e
		}

	case OpFree:
		if len(ops) == 1 {
			vm.Frames[0].FreeOwner(ops[0].Name)
			break
		}
		ptrVal, e := vm.readOperand(ops[0], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		countVal, e := vm.readOperand(ops[1], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		p := valueAsPointer(ptrVal)
		if e := vm.Frames[0].FreeRange(p.Index, int(countVal.AsInt64())); e != nil {
			return 0, Value{}, false, e
		}

	case OpCall:
		name, e := vm.resolvedName(ops[0], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		v, e := vm.call(scope, fc, name)
		if e != nil {
			return 0, Value{}, false, e
		}
		frame.Push(v)

	case OpCallc:
		name, e := vm.resolvedName(ops[0], scope, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		if _, e := vm.resolvedType(ops[1], scope, fc); e != nil {
			return 0, Value{}, false, e
		}
		if _, e := vm.readOperand(ops[2], scope, fc); e != nil {
			return 0, Value{}, false, e
		}
		ext, ok := lookupExtern(scope, name)
		if !ok {
			return 0, Value{}, false, newNameError(name)
		}
		v, e := vm.ffi.call(vm, ext, fc)
		if e != nil {
			return 0, Value{}, false, e
		}
		frame.Push(v)

	default:
		return 0, Value{}, false, fmt.Errorf("%w: unhandled opcode %d", ErrDecode, ins.Op)
	}

	return next, Value{}, false, nil
}

func (vm *VM) jumpTarget(scope *Scope, t Value) (int, error) {
	n := int(t.AsInt64())
	if n < 0 || n > len(scope.Slots) {
		return 0, newBoundsError("jump target %d out of range (0..%d)", n, len(scope.Slots))
	}
	return n, nil
}

func arithSymbol(op Opcode) byte {
	switch op {
	case OpAdd:
		return '+'
	case OpSub:
		return '-'
	case OpMul:
		return '*'
	case OpDiv:
		return '/'
	default:
		return '%'
	}
}

func bitwiseSymbol(op Opcode) byte {
	switch op {
	case OpAnd:
		return '&'
	case OpOr:
		return '|'
	default:
		return '^'
	}
}

func branchTaken(op Opcode, cmp int) bool {
	switch op {
	case OpJe:
		return cmp == 0
	case OpJne:
		return cmp != 0
	case OpJg:
		return cmp > 0
	case OpJge:
		return cmp >= 0
	case OpJl:
		return cmp < 0
	case OpJle:
		return cmp <= 0
	default:
		return false
	}
}

// call resolves name against scope's function and extern tables and
// invokes it, pushing a new Frame for a VM function or delegating to the
// FFI bridge for an extern.
func (vm *VM) call(scope *Scope, fc frameCtx, name string) (Value, error) {
	if head, rest, dotted := strings.Cut(name, "."); dotted {
		if mod, ok := lookupModule(scope, head); ok {
			return vm.call(mod.Scope, fc, rest)
		}
	}
	if fn, ok := lookupFunction(scope, name); ok {
		return vm.invoke(fn, fc)
	}
	if ext, ok := lookupExtern(scope, name); ok {
		return vm.ffi.call(vm, ext, fc)
	}
	return Value{}, newNameError(name)
}

// invoke pushes a new Frame bound to fn's declared arguments (popped from
// the caller's operand stack), runs fn's body, and pops the frame before
// returning.
func (vm *VM) invoke(fn *Function, callerFC frameCtx) (Value, error) {
	caller := vm.Frames[callerFC.Current]
	args, err := caller.PopArgs(len(fn.ArgTypes))
	if err != nil {
		return Value{}, err
	}
	callee := NewFrame()
	vm.Frames = append(vm.Frames, callee)
	calleeIdx := len(vm.Frames) - 1
	for i, argName := range fn.ArgNames {
		callee.Declare(argName, Cast(args[i], fn.ArgTypes[i].Head()))
	}
	calleeFC := frameCtx{Current: calleeIdx, Module: fn.Body.HomeFrame, Global: vm.GlobalFrameIndex}
	ret, _, err := vm.execScope(fn.Body, calleeFC)
	vm.Frames = vm.Frames[:calleeIdx]
	if err != nil {
		return Value{}, err
	}
	return Cast(ret, fn.ReturnType.Head()), nil
}
