// frame.go - per-call variable environment, operand stack and the heap

package rbbvm

// Frame is a named-variable environment plus an operand stack. Frame 0 in a
// FrameStack is the pinned heap frame: the only frame a Pointer may
// address. All other frames correspond to a function activation or a
// module's globals.
type Frame struct {
	names  []string       // insertion order, mirrors vars' iteration order
	vars   map[string]int // name -> index into stack
	stack  []Value
	allocs []string // heap.allocs[i] names the owner of heap.stack[i]
}

// NewFrame returns an empty Frame.
func NewFrame() *Frame {
	return &Frame{vars: make(map[string]int)}
}

// Len returns the current operand stack depth.
func (f *Frame) Len() int { return len(f.stack) }

// Push appends v to the operand stack.
func (f *Frame) Push(v Value) { f.stack = append(f.stack, v) }

// Pop removes and returns the top of the operand stack.
func (f *Frame) Pop() (Value, error) {
	if len(f.stack) == 0 {
		return Value{}, newBoundsError("pop on empty stack")
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

// Peek returns the value at absolute stack index idx without removing it.
func (f *Frame) Peek(idx int) (Value, error) {
	if idx < 0 || idx >= len(f.stack) {
		return Value{}, newBoundsError("peek index %d out of range (len %d)", idx, len(f.stack))
	}
	return f.stack[idx], nil
}

// PopArgs removes and returns the top n values of the operand stack, in
// call order (first-pushed argument first).
func (f *Frame) PopArgs(n int) ([]Value, error) {
	if n > len(f.stack) {
		return nil, newBoundsError("pop %d args from stack of depth %d", n, len(f.stack))
	}
	start := len(f.stack) - n
	args := append([]Value(nil), f.stack[start:]...)
	f.stack = f.stack[:start]
	return args, nil
}

// Declare creates a new named variable bound to v and returns its index.
// Declare gives `_` no special treatment; writes to `_`, the discard
// sentinel, are dropped by Set and by the dispatcher before any lookup.
func (f *Frame) Declare(name string, v Value) int {
	idx := len(f.stack)
	f.stack = append(f.stack, v)
	f.names = append(f.names, name)
	f.vars[name] = idx
	return idx
}

// Lookup returns the index of a named variable in this frame, and whether
// it exists.
func (f *Frame) Lookup(name string) (int, bool) {
	idx, ok := f.vars[name]
	return idx, ok
}

// Get returns the current value of a named variable.
func (f *Frame) Get(name string) (Value, error) {
	idx, ok := f.vars[name]
	if !ok {
		return Value{}, newNameError(name)
	}
	return f.stack[idx], nil
}

// Set writes v into a named variable, casting its Body to the variable's
// declared tag. `_` silently discards the write.
func (f *Frame) Set(name string, v Value) error {
	if name == "_" {
		return nil
	}
	idx, ok := f.vars[name]
	if !ok {
		return newNameError(name)
	}
	declared := f.stack[idx].Typ
	cast := Cast(v, declared.Head())
	cast.Typ = declared
	f.stack[idx] = cast
	return nil
}

// SetAt writes v into the variable at absolute stack index idx, casting to
// that slot's declared tag. Used by struct-field and module-member writes
// resolved to an absolute index rather than a local name.
func (f *Frame) SetAt(idx int, v Value) error {
	if idx < 0 || idx >= len(f.stack) {
		return newBoundsError("set at index %d out of range (len %d)", idx, len(f.stack))
	}
	declared := f.stack[idx].Typ
	cast := Cast(v, declared.Head())
	cast.Typ = declared
	f.stack[idx] = cast
	return nil
}

// GetAt reads the value at absolute stack index idx.
func (f *Frame) GetAt(idx int) (Value, error) {
	if idx < 0 || idx >= len(f.stack) {
		return Value{}, newBoundsError("get at index %d out of range (len %d)", idx, len(f.stack))
	}
	return f.stack[idx], nil
}

// TruncateFrom drops this frame's operand stack, names and vars back to
// the snapshot length mark, removing any variable whose index fell within
// the truncated region. This implements the corrected scope-exit cleanup:
// scope-local variables must not leak into the enclosing scope's
// namespace, only truncating the operand stack (as the buggy reference
// implementation does) is not enough.
func (f *Frame) TruncateFrom(mark int) {
	if mark >= len(f.stack) {
		return
	}
	f.stack = f.stack[:mark]
	kept := f.names[:0:0]
	for _, name := range f.names {
		idx, ok := f.vars[name]
		if !ok {
			continue
		}
		if idx >= mark {
			delete(f.vars, name)
			continue
		}
		kept = append(kept, name)
	}
	f.names = kept
}

// Alloc appends count default-initialized cells of element type elem to
// this frame's stack, recording owner as their allocs entry, and returns
// the base index of the new range. Intended for use on the heap frame
// (frame 0); the dispatcher enforces that ALLOC always targets it.
func (f *Frame) Alloc(owner string, elem Type, count int) int {
	base := len(f.stack)
	zero := ZeroOf(elem)
	for i := 0; i < count; i++ {
		f.stack = append(f.stack, zero)
		f.allocs = append(f.allocs, owner)
	}
	return base
}

// FreeOwner removes every cell owned by owner from this frame, compacting
// the stack and allocs vectors in place.
func (f *Frame) FreeOwner(owner string) {
	f.freeWhere(func(i int) bool { return f.allocs[i] == owner })
}

// FreeRange removes count cells starting at index base.
func (f *Frame) FreeRange(base, count int) error {
	if base < 0 || base+count > len(f.stack) {
		return newBoundsError("free range [%d, %d) out of heap bounds (len %d)", base, base+count, len(f.stack))
	}
	f.freeWhere(func(i int) bool { return i >= base && i < base+count })
	return nil
}

func (f *Frame) freeWhere(match func(i int) bool) {
	newStack := f.stack[:0:0]
	newAllocs := f.allocs[:0:0]
	for i := range f.stack {
		if match(i) {
			continue
		}
		newStack = append(newStack, f.stack[i])
		newAllocs = append(newAllocs, f.allocs[i])
	}
	f.stack = newStack
	f.allocs = newAllocs
}
