// vm.go - machine setup: frame stack construction, module linking,
// environment injection

package rbbvm

// VM holds the whole linked, runnable state of a decoded program: its
// frame stack (frame 0 pinned as the heap), the scope tree, and the
// foreign-function bridge used by CALLC and Extern calls.
type VM struct {
	Frames           []*Frame
	GlobalFrameIndex int
	Root             *Scope

	ffi *ffiBridge

	Debug bool // enables disassembly-view tracing of each executed instruction
}

// NewVM links a decoded root Scope into a fresh VM: allocates the heap
// frame and the program's own global frame, injects the PLATFORM_*
// constants, materializes every data section, and recursively links
// imported modules into their own frames.
func NewVM(root *Scope) (*VM, error) {
	vm := &VM{Root: root, ffi: newFFIBridge()}
	vm.Frames = append(vm.Frames, NewFrame()) // frame 0: heap
	global := NewFrame()
	vm.Frames = append(vm.Frames, global)
	vm.GlobalFrameIndex = 1

	injectPlatformConstants(global)

	if err := vm.linkScope(root, vm.GlobalFrameIndex); err != nil {
		return nil, err
	}
	return vm, nil
}

func injectPlatformConstants(global *Frame) {
	i32 := NewType(TagI32)
	global.Declare("PLATFORM_LINUX", SignedValue(i32, PlatformLinux))
	global.Declare("PLATFORM_WIN32", SignedValue(i32, PlatformWin32))
	global.Declare("PLATFORM_OTHER", SignedValue(i32, PlatformOther))
	global.Declare("PLATFORM", SignedValue(i32, hostPlatform()))
}

// linkScope assigns scope (and everything nested within it, including
// function bodies) to home, materializes its data section, and links any
// modules it imports into freshly allocated frames of their own.
func (vm *VM) linkScope(scope *Scope, home int) error {
	scope.HomeFrame = home
	vm.materializeData(scope, home)

	for _, b := range scope.Blocks {
		if b.Nested != nil {
			if err := vm.linkScope(b.Nested, home); err != nil {
				return err
			}
		}
	}
	for _, fn := range scope.Functions {
		if err := vm.linkScope(fn.Body, home); err != nil {
			return err
		}
	}
	for _, mod := range scope.Modules {
		frame := NewFrame()
		vm.Frames = append(vm.Frames, frame)
		mod.FrameIndex = len(vm.Frames) - 1
		if err := vm.linkScope(mod.Scope, mod.FrameIndex); err != nil {
			return err
		}
	}
	return nil
}

// materializeData appends every DataEntry's elements to the heap frame
// and binds a pointer variable of the same name in home's frame.
func (vm *VM) materializeData(scope *Scope, home int) {
	heap := vm.Frames[0]
	for _, entry := range scope.DataEntries {
		base := heap.Alloc(entry.Name, entry.Elem, len(entry.Values))
		for i, v := range entry.Values {
			heap.stack[base+i] = v
		}
		vm.Frames[home].Declare(entry.Name, PointerValue(entry.Elem.PointerTo(), base, len(entry.Values)))
	}
}

// Run executes the root scope to completion and returns its implicit
// return value (Void if it never executed a RET carrying a value).
func (vm *VM) Run() (Value, error) {
	fc := frameCtx{Current: vm.GlobalFrameIndex, Module: vm.GlobalFrameIndex, Global: vm.GlobalFrameIndex}
	ret, _, err := vm.execScope(vm.Root, fc)
	return ret, err
}
