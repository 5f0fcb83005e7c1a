// resolver.go - name resolution across frames, modules and struct paths

package rbbvm

import "strings"

// frameCtx carries the three frames a name search walks: the currently
// executing call frame, the home frame of the lexically enclosing module
// (or the root program itself), and the root program's own global frame.
type frameCtx struct {
	Current int
	Module  int
	Global  int
}

// Resolve locates the (frame, cell) a name refers to, searching current
// frame, then module frame, then global frame for a plain identifier, and
// recursing through struct fields or module members for a dotted path.
func (vm *VM) Resolve(name string, scope *Scope, fc frameCtx) (frameIdx, cellIdx int, err error) {
	if !strings.Contains(name, ".") {
		return vm.resolveSimple(name, fc)
	}
	head, rest, _ := strings.Cut(name, ".")
	if fIdx, cIdx, err := vm.resolveSimple(head, fc); err == nil {
		v := vm.Frames[fIdx].stack[cIdx]
		if v.Kind == KindStruct && v.Struct.Descriptor != nil {
			return vm.resolveStructPath(fIdx, v.Struct, rest)
		}
	}
	if mod, ok := lookupModule(scope, head); ok {
		mfc := frameCtx{Current: mod.FrameIndex, Module: mod.FrameIndex, Global: vm.GlobalFrameIndex}
		return vm.Resolve(rest, mod.Scope, mfc)
	}
	return 0, 0, newNameError(name)
}

func (vm *VM) resolveSimple(name string, fc frameCtx) (int, int, error) {
	if idx, ok := vm.Frames[fc.Current].Lookup(name); ok {
		return fc.Current, idx, nil
	}
	if fc.Module != fc.Current {
		if idx, ok := vm.Frames[fc.Module].Lookup(name); ok {
			return fc.Module, idx, nil
		}
	}
	if fc.Global != fc.Current && fc.Global != fc.Module {
		if idx, ok := vm.Frames[fc.Global].Lookup(name); ok {
			return fc.Global, idx, nil
		}
	}
	return 0, 0, newNameError(name)
}

func (vm *VM) resolveStructPath(frameIdx int, ref StructRef, path string) (int, int, error) {
	head, rest, hasMore := strings.Cut(path, ".")
	off, ok := ref.Descriptor.VarOffsets[head]
	if !ok {
		return 0, 0, newNameError(head)
	}
	idx := ref.Base + off
	if !hasMore {
		return frameIdx, idx, nil
	}
	v := vm.Frames[frameIdx].stack[idx]
	if v.Kind != KindStruct || v.Struct.Descriptor == nil {
		return 0, 0, newTypeError("%q is not a struct field", head)
	}
	return vm.resolveStructPath(frameIdx, v.Struct, rest)
}

// lookupModule walks scope and its lexical ancestors for a module
// declaration named name.
func lookupModule(scope *Scope, name string) (*Module, bool) {
	for s := scope; s != nil; s = s.Parent {
		if m, ok := s.Modules[name]; ok {
			return m, true
		}
	}
	return nil, false
}

// lookupFunction walks scope and its lexical ancestors for a function
// declaration named name.
func lookupFunction(scope *Scope, name string) (*Function, bool) {
	for s := scope; s != nil; s = s.Parent {
		if f, ok := s.Functions[name]; ok {
			return f, true
		}
	}
	return nil, false
}

// lookupExtern walks scope and its lexical ancestors for an extern
// declaration named name.
func lookupExtern(scope *Scope, name string) (*Extern, bool) {
	for s := scope; s != nil; s = s.Parent {
		if e, ok := s.Externs[name]; ok {
			return e, true
		}
	}
	return nil, false
}

// lookupStructDecl resolves a (possibly dotted, module-qualified) struct
// type name to its descriptor, for INST.
func lookupStructDecl(scope *Scope, name string) (*Struct, bool) {
	if !strings.Contains(name, ".") {
		for s := scope; s != nil; s = s.Parent {
			if st, ok := s.Structs[name]; ok {
				return st, true
			}
		}
		return nil, false
	}
	head, rest, _ := strings.Cut(name, ".")
	mod, ok := lookupModule(scope, head)
	if !ok {
		return nil, false
	}
	return lookupStructDecl(mod.Scope, rest)
}
