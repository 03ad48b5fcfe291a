package vm

import (
	"fmt"
	"io"

	"github.com/kristofer/smogvm/pkg/bytecode"
)

// Debugger is an optional collaborator attached to a VM that prints the
// operand stack and the about-to-execute instruction before every
// dispatch step, and can halt execution at a chosen source line. It
// turns the reference interpreter's DEBUG_TRACE_EXECUTION build flag
// into a runtime option instead of a compile-time one, since Go has no
// preprocessor.
type Debugger struct {
	out         io.Writer
	breakpoints map[int]bool
	hit         func(line int)
}

// NewDebugger returns a Debugger that writes trace output to out.
func NewDebugger(out io.Writer) *Debugger {
	return &Debugger{out: out, breakpoints: make(map[int]bool)}
}

// Break registers a breakpoint at the given source line.
func (d *Debugger) Break(line int) { d.breakpoints[line] = true }

// OnBreak installs a callback invoked when execution reaches a line with
// a breakpoint, before the instruction at that line executes.
func (d *Debugger) OnBreak(fn func(line int)) { d.hit = fn }

// trace prints the current operand stack and disassembles the next
// instruction in frame's chunk, mirroring DEBUG_TRACE_EXECUTION.
func (d *Debugger) trace(vm *VM, frame *CallFrame) {
	if d == nil || d.out == nil {
		return
	}
	fmt.Fprint(d.out, "          ")
	for i := 0; i < vm.top; i++ {
		fmt.Fprintf(d.out, "[ %s ]", vm.stack[i])
	}
	fmt.Fprintln(d.out)
	bytecode.DisassembleInstruction(d.out, &frame.closure.Function.Chunk, frame.ip)
}

func (d *Debugger) checkBreak(line int) {
	if d == nil || d.hit == nil {
		return
	}
	if d.breakpoints[line] {
		d.hit(line)
	}
}
