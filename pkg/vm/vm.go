// Package vm implements smog's bytecode virtual machine: a stack-based
// dispatch loop over CallFrames, closure capture and upvalue resolution,
// and the native-call protocol.
//
// The VM is an explicit value passed to Interpret, never a process-wide
// singleton — this is a deliberate departure from the reference
// implementation's global `vm` variable (see the REDESIGN FLAGS this
// corpus was built against), because threading it explicitly is what
// lets pkg/gc treat both VM state and in-progress compiler state as
// roots without a hidden back-channel between the two packages.
package vm

import (
	"fmt"
	"io"
	"os"

	"github.com/kristofer/smogvm/pkg/bytecode"
	"github.com/kristofer/smogvm/pkg/compiler"
	"github.com/kristofer/smogvm/pkg/gc"
	"github.com/kristofer/smogvm/pkg/table"
	"github.com/kristofer/smogvm/pkg/value"
)

// InterpretResult is the three-valued outcome of Interpret.
type InterpretResult int

const (
	OK InterpretResult = iota
	CompileError
	RuntimeErrorResult
)

func (r InterpretResult) String() string {
	switch r {
	case OK:
		return "OK"
	case CompileError:
		return "COMPILE_ERROR"
	case RuntimeErrorResult:
		return "RUNTIME_ERROR"
	default:
		return "UNKNOWN"
	}
}

const (
	maxFrames = 64
	stackMax  = maxFrames * 256
)

// CallFrame is one executing closure's activation record: its
// instruction pointer into the closure's function's chunk, and the
// index into the VM's operand stack where slot 0 (the closure itself)
// begins.
type CallFrame struct {
	closure *value.Closure
	ip      int
	slots   int
}

// VM is the stack-based interpreter. Construct one with New and drive it
// with Interpret; a VM may be reused across multiple Interpret calls —
// globals and the heap persist, the operand stack does not.
type VM struct {
	heap *gc.Heap

	stack []value.Value
	top   int

	frames     [maxFrames]CallFrame
	frameCount int

	openUpvalues *value.Upvalue

	globals *table.Table

	stdout io.Writer
	stderr io.Writer

	debugger *Debugger
}

// Option configures a VM at construction time.
type Option func(*VM)

// WithStdout redirects PRINT output (default os.Stdout).
func WithStdout(w io.Writer) Option { return func(vm *VM) { vm.stdout = w } }

// WithStderr redirects compile/runtime diagnostics (default os.Stderr).
func WithStderr(w io.Writer) Option { return func(vm *VM) { vm.stderr = w } }

// WithDebugger attaches a Debugger that traces execution and can stop at
// breakpoints.
func WithDebugger(d *Debugger) Option { return func(vm *VM) { vm.debugger = d } }

// WithStressGC forces a collection before every allocation, used to
// exercise GC soundness under maximum collection pressure.
func WithStressGC(stress bool) Option { return func(vm *VM) { vm.heap.StressGC = stress } }

// WithGCLogger installs a callback that receives one line of GC trace
// output per mark/blacken/free/collect event.
func WithGCLogger(fn func(string)) Option {
	return func(vm *VM) {
		vm.heap.LogGC = true
		vm.heap.SetLogger(fn)
	}
}

// New returns a fresh VM with an empty stack, empty globals, and its own
// heap.
func New(opts ...Option) *VM {
	vm := &VM{
		stack:   make([]value.Value, stackMax),
		globals: table.New(),
		heap:    gc.New(),
		stdout:  os.Stdout,
		stderr:  os.Stderr,
	}
	vm.heap.SetVMRoots(vm)
	for _, opt := range opts {
		opt(vm)
	}
	return vm
}

// Heap exposes the VM's object heap, for callers (tests, the CLI) that
// need to intern constants or inspect GC accounting directly.
func (vm *VM) Heap() *gc.Heap { return vm.heap }

// MarkRoots implements gc.RootMarker: the operand stack, every frame's
// closure, every open upvalue, and both keys and values of the globals
// table are roots. The string intern table is deliberately not marked
// here — it is a weak set, per the GC design.
func (vm *VM) MarkRoots(mark func(value.Value)) {
	for i := 0; i < vm.top; i++ {
		mark(vm.stack[i])
	}
	for i := 0; i < vm.frameCount; i++ {
		mark(value.Obj(vm.frames[i].closure))
	}
	for uv := vm.openUpvalues; uv != nil; uv = uv.Next {
		mark(value.Obj(uv))
	}
	for _, e := range vm.globals.Entries() {
		mark(e.Key)
		mark(e.Value)
	}
}

func (vm *VM) resetStack() {
	vm.top = 0
	vm.frameCount = 0
	vm.openUpvalues = nil
}

// push stores v at the top of the operand stack. The stack is a fixed
// stackMax-sized array allocated once in New, never grown, so that
// *value.Value pointers handed out as Upvalue locations stay valid for
// the life of the VM.
func (vm *VM) push(v value.Value) {
	vm.stack[vm.top] = v
	vm.top++
}

func (vm *VM) pop() value.Value {
	vm.top--
	return vm.stack[vm.top]
}

func (vm *VM) peek(distance int) value.Value {
	return vm.stack[vm.top-1-distance]
}

// DefineNative interns name and registers fn as a global callable. Both
// the interned name and the freshly allocated Native are kept on the
// operand stack until the global table holds them, so an intervening GC
// triggered by either allocation cannot collect them first.
func (vm *VM) DefineNative(name string, fn value.NativeFn) {
	nameObj := vm.heap.InternString(name)
	vm.push(value.Obj(nameObj))
	native := vm.heap.NewNative(nameObj, fn)
	vm.push(value.Obj(native))
	vm.globals.Set(value.Obj(nameObj), vm.peek(0))
	vm.pop()
	vm.pop()
}

// Interpret compiles and runs source against this VM.
func (vm *VM) Interpret(source string) InterpretResult {
	fn, ok := compiler.New(source, vm.heap, vm.stderr).Compile()
	if !ok {
		return CompileError
	}
	return vm.InterpretFunction(fn)
}

// CompileOnly compiles source without running it, for the "compile"
// subcommand's source-to-bytecode path.
func (vm *VM) CompileOnly(source string) (*value.Function, bool) {
	return compiler.New(source, vm.heap, vm.stderr).Compile()
}

// InterpretFunction runs an already-compiled function — either the
// result of CompileOnly or one deserialized from a .sg file.
func (vm *VM) InterpretFunction(fn *value.Function) InterpretResult {
	vm.push(value.Obj(fn))
	closure := vm.heap.NewClosure(fn)
	vm.pop()
	vm.push(value.Obj(closure))
	if err := vm.callValue(value.Obj(closure), 0); err != nil {
		fmt.Fprintln(vm.stderr, err.Error())
		return RuntimeErrorResult
	}

	if err := vm.run(); err != nil {
		fmt.Fprintln(vm.stderr, err.Error())
		return RuntimeErrorResult
	}
	return OK
}

// run is the dispatch loop: it reads bytes from the current frame's
// chunk until a RETURN unwinds the last frame, or a runtime error aborts
// execution.
func (vm *VM) run() error {
	frame := &vm.frames[vm.frameCount-1]

	readByte := func() byte {
		b := frame.closure.Function.Chunk.Code[frame.ip]
		frame.ip++
		return b
	}
	readUint16 := func() uint16 {
		v := bytecode.ReadUint16(&frame.closure.Function.Chunk, frame.ip)
		frame.ip += 2
		return v
	}
	readUint24 := func() int {
		v := bytecode.ReadUint24(&frame.closure.Function.Chunk, frame.ip)
		frame.ip += 3
		return v
	}
	readConstant := func(idx int) value.Value {
		return frame.closure.Function.Chunk.Constants[idx]
	}

	for {
		vm.debugger.trace(vm, frame)
		vm.debugger.checkBreak(bytecode.GetLine(&frame.closure.Function.Chunk, frame.ip))

		op := bytecode.Op(readByte())
		switch op {
		case bytecode.OpConst:
			vm.push(readConstant(int(readByte())))

		case bytecode.OpConstLong:
			vm.push(readConstant(readUint24()))

		case bytecode.OpNil:
			vm.push(value.Nil)
		case bytecode.OpTrue:
			vm.push(value.Bool(true))
		case bytecode.OpFalse:
			vm.push(value.Bool(false))
		case bytecode.OpPop:
			vm.pop()

		case bytecode.OpGetLocal:
			slot := int(readByte())
			vm.push(vm.stack[frame.slots+slot])
		case bytecode.OpSetLocal:
			slot := int(readByte())
			vm.stack[frame.slots+slot] = vm.peek(0)

		case bytecode.OpGetUpvalue:
			slot := int(readByte())
			vm.push(*frame.closure.Upvalues[slot].Location)
		case bytecode.OpSetUpvalue:
			slot := int(readByte())
			*frame.closure.Upvalues[slot].Location = vm.peek(0)

		case bytecode.OpGetGlobal:
			name := readConstant(int(readByte())).AsString()
			v, ok := vm.globals.Get(value.Obj(name))
			if !ok {
				return vm.runtimeError("Undefined variable '%s'.", name.Chars)
			}
			vm.push(v)

		case bytecode.OpDefineGlobal:
			name := readConstant(int(readByte())).AsString()
			vm.globals.Set(value.Obj(name), vm.peek(0))
			vm.pop()

		case bytecode.OpSetGlobal:
			name := readConstant(int(readByte())).AsString()
			if vm.globals.Set(value.Obj(name), vm.peek(0)) {
				vm.globals.Delete(value.Obj(name))
				return vm.runtimeError("Undefined variable '%s'.", name.Chars)
			}

		case bytecode.OpEqual:
			b := vm.pop()
			a := vm.pop()
			vm.push(value.Bool(value.Equal(a, b)))

		case bytecode.OpGreater:
			if err := vm.binaryNumber(func(a, b float64) value.Value { return value.Bool(a > b) }); err != nil {
				return err
			}
		case bytecode.OpLess:
			if err := vm.binaryNumber(func(a, b float64) value.Value { return value.Bool(a < b) }); err != nil {
				return err
			}

		case bytecode.OpAdd:
			switch {
			case vm.peek(0).IsString() && vm.peek(1).IsString():
				vm.concatenate()
			case vm.peek(0).IsNumber() && vm.peek(1).IsNumber():
				b := vm.pop().AsNumber()
				a := vm.pop().AsNumber()
				vm.push(value.Number(a + b))
			default:
				return vm.runtimeError("Operands must be two numbers or two strings.")
			}

		case bytecode.OpSubtract:
			if err := vm.binaryNumber(func(a, b float64) value.Value { return value.Number(a - b) }); err != nil {
				return err
			}
		case bytecode.OpMultiply:
			if err := vm.binaryNumber(func(a, b float64) value.Value { return value.Number(a * b) }); err != nil {
				return err
			}
		case bytecode.OpDivide:
			if err := vm.binaryNumber(func(a, b float64) value.Value { return value.Number(a / b) }); err != nil {
				return err
			}

		case bytecode.OpNot:
			vm.push(value.Bool(vm.pop().IsFalsey()))

		case bytecode.OpNegate:
			if !vm.peek(0).IsNumber() {
				return vm.runtimeError("Operand must be a number.")
			}
			vm.push(value.Number(-vm.pop().AsNumber()))

		case bytecode.OpPrint:
			fmt.Fprintln(vm.stdout, vm.pop())

		case bytecode.OpJump:
			frame.ip += int(readUint16())

		case bytecode.OpJumpIfFalse:
			offset := readUint16()
			if vm.peek(0).IsFalsey() {
				frame.ip += int(offset)
			}

		case bytecode.OpLoop:
			frame.ip -= int(readUint16())

		case bytecode.OpCall:
			argCount := int(readByte())
			if err := vm.callValue(vm.peek(argCount), argCount); err != nil {
				return err
			}
			frame = &vm.frames[vm.frameCount-1]

		case bytecode.OpClosure:
			fn := readConstant(int(readByte())).AsObject().(*value.Function)
			closure := vm.heap.NewClosure(fn)
			vm.push(value.Obj(closure))
			for i := 0; i < closure.Function.UpvalueCount; i++ {
				isLocal := readByte()
				index := int(readByte())
				if isLocal != 0 {
					closure.Upvalues[i] = vm.captureUpvalue(frame.slots + index)
				} else {
					closure.Upvalues[i] = frame.closure.Upvalues[index]
				}
			}

		case bytecode.OpCloseUpvalue:
			vm.closeUpvalues(vm.top - 1)
			vm.pop()

		case bytecode.OpReturn:
			result := vm.pop()
			vm.closeUpvalues(frame.slots)
			vm.frameCount--
			if vm.frameCount == 0 {
				vm.pop()
				return nil
			}
			vm.top = frame.slots
			vm.push(result)
			frame = &vm.frames[vm.frameCount-1]

		default:
			return vm.runtimeError("Unknown opcode %d.", op)
		}
	}
}

// callValue dispatches a CALL instruction's callee: a Closure pushes a
// new CallFrame, a Native runs immediately and leaves its result on the
// stack in place of the callee and its arguments, anything else is not
// callable.
func (vm *VM) callValue(callee value.Value, argCount int) error {
	if callee.IsObject() {
		switch obj := callee.AsObject().(type) {
		case *value.Closure:
			return vm.call(obj, argCount)
		case *value.Native:
			args := vm.stack[vm.top-argCount : vm.top]
			result, err := obj.Fn(args)
			if err != nil {
				return vm.runtimeError("%s", err.Error())
			}
			vm.top -= argCount + 1
			vm.push(result)
			return nil
		}
	}
	return vm.runtimeError("Can only call functions and classes.")
}

// call pushes a new CallFrame for closure, checking arity and frame-stack
// depth first.
func (vm *VM) call(closure *value.Closure, argCount int) error {
	if argCount != closure.Function.Arity {
		return vm.runtimeError("Expected %d arguments but got %d.", closure.Function.Arity, argCount)
	}
	if vm.frameCount == maxFrames {
		return vm.runtimeError("Stack overflow.")
	}

	frame := &vm.frames[vm.frameCount]
	frame.closure = closure
	frame.ip = 0
	frame.slots = vm.top - argCount - 1
	vm.frameCount++
	return nil
}

func (vm *VM) binaryNumber(op func(a, b float64) value.Value) error {
	if !vm.peek(0).IsNumber() || !vm.peek(1).IsNumber() {
		return vm.runtimeError("Operands must be numbers.")
	}
	b := vm.pop().AsNumber()
	a := vm.pop().AsNumber()
	vm.push(op(a, b))
	return nil
}

// concatenate pops two String operands and pushes their interned
// concatenation. Both operands stay on the stack (peeked, not popped)
// until InternString returns, so a GC triggered by that allocation
// cannot collect either one mid-concatenation.
func (vm *VM) concatenate() {
	b := vm.peek(0).AsString()
	a := vm.peek(1).AsString()
	result := vm.heap.InternString(a.Chars + b.Chars)
	vm.pop()
	vm.pop()
	vm.push(value.Obj(result))
}

// captureUpvalue finds or creates the open Upvalue for the stack slot at
// index slot, keeping the VM's open-upvalue list sorted by descending
// slot so a single linear walk finds any existing upvalue for a slot
// before creating a new one.
func (vm *VM) captureUpvalue(slot int) *value.Upvalue {
	var prev *value.Upvalue
	uv := vm.openUpvalues
	for uv != nil && uv.Slot > slot {
		prev = uv
		uv = uv.Next
	}
	if uv != nil && uv.Slot == slot {
		return uv
	}

	created := vm.heap.NewUpvalue(&vm.stack[slot], slot)
	created.Next = uv
	if prev == nil {
		vm.openUpvalues = created
	} else {
		prev.Next = created
	}
	return created
}

// closeUpvalues hoists every open upvalue at or above fromSlot into its
// own Closed field, severing its Location pointer into the stack before
// those slots are overwritten by the next call or block exit.
func (vm *VM) closeUpvalues(fromSlot int) {
	for vm.openUpvalues != nil && vm.openUpvalues.Slot >= fromSlot {
		uv := vm.openUpvalues
		uv.Closed = *uv.Location
		uv.Location = &uv.Closed
		vm.openUpvalues = uv.Next
	}
}

func (vm *VM) runtimeError(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	trace := make([]StackFrame, 0, vm.frameCount)
	for i := vm.frameCount - 1; i >= 0; i-- {
		f := &vm.frames[i]
		line := bytecode.GetLine(&f.closure.Function.Chunk, f.ip-1)
		name := "script"
		if f.closure.Function.Name != nil {
			name = f.closure.Function.Name.Chars
		}
		trace = append(trace, StackFrame{Name: name, Line: line})
	}
	vm.resetStack()
	return &RuntimeError{Message: msg, Trace: trace}
}
