package bytecode

import (
	"fmt"
	"io"

	"github.com/kristofer/smogvm/pkg/value"
)

// Disassemble prints every instruction in chunk to w under the given
// name, one line per instruction. It is purely diagnostic: nothing in
// pkg/compiler calls into this file, and pkg/vm reaches it only through
// its optional execution tracer, which calls DisassembleInstruction. The
// CLI's "disassemble" subcommand is the only caller of Disassemble.
func Disassemble(w io.Writer, chunk *value.Chunk, name string) {
	fmt.Fprintf(w, "== %s ==\n", name)
	for offset := 0; offset < len(chunk.Code); {
		offset = DisassembleInstruction(w, chunk, offset)
	}
}

// DisassembleInstruction prints the single instruction at offset and
// returns the offset of the next instruction.
func DisassembleInstruction(w io.Writer, chunk *value.Chunk, offset int) int {
	fmt.Fprintf(w, "%04d ", offset)
	line := GetLine(chunk, offset)
	if offset > 0 && line == GetLine(chunk, offset-1) {
		fmt.Fprint(w, "   | ")
	} else {
		fmt.Fprintf(w, "%4d ", line)
	}

	op := Op(chunk.Code[offset])
	switch op {
	case OpConst:
		return constantInstruction(w, op, chunk, offset)
	case OpConstLong:
		return constantLongInstruction(w, op, chunk, offset)
	case OpGetLocal, OpSetLocal, OpGetUpvalue, OpSetUpvalue, OpCall:
		return byteInstruction(w, op, chunk, offset)
	case OpGetGlobal, OpSetGlobal, OpDefineGlobal:
		return constantInstruction(w, op, chunk, offset)
	case OpJump, OpJumpIfFalse:
		return jumpInstruction(w, op, 1, chunk, offset)
	case OpLoop:
		return jumpInstruction(w, op, -1, chunk, offset)
	case OpClosure:
		return closureInstruction(w, chunk, offset)
	case OpNil, OpTrue, OpFalse, OpPop, OpEqual, OpGreater, OpLess,
		OpAdd, OpSubtract, OpMultiply, OpDivide, OpNot, OpNegate,
		OpPrint, OpCloseUpvalue, OpReturn:
		fmt.Fprintf(w, "%s\n", op)
		return offset + 1
	default:
		fmt.Fprintf(w, "Unknown opcode %d\n", op)
		return offset + 1
	}
}

func constantInstruction(w io.Writer, op Op, chunk *value.Chunk, offset int) int {
	idx := chunk.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d '%s'\n", op, idx, chunk.Constants[idx])
	return offset + 2
}

func constantLongInstruction(w io.Writer, op Op, chunk *value.Chunk, offset int) int {
	idx := ReadUint24(chunk, offset+1)
	fmt.Fprintf(w, "%-16s %4d '%s'\n", op, idx, chunk.Constants[idx])
	return offset + 4
}

func byteInstruction(w io.Writer, op Op, chunk *value.Chunk, offset int) int {
	slot := chunk.Code[offset+1]
	fmt.Fprintf(w, "%-16s %4d\n", op, slot)
	return offset + 2
}

func jumpInstruction(w io.Writer, op Op, sign int, chunk *value.Chunk, offset int) int {
	jump := int(ReadUint16(chunk, offset+1))
	fmt.Fprintf(w, "%-16s %4d -> %d\n", op, offset, offset+3+sign*jump)
	return offset + 3
}

func closureInstruction(w io.Writer, chunk *value.Chunk, offset int) int {
	idx := chunk.Code[offset+1]
	offset += 2
	fmt.Fprintf(w, "%-16s %4d '%s'\n", OpClosure, idx, chunk.Constants[idx])
	fn, ok := chunk.Constants[idx].AsObject().(*value.Function)
	if !ok {
		return offset
	}
	for i := 0; i < fn.UpvalueCount; i++ {
		isLocal := chunk.Code[offset]
		index := chunk.Code[offset+1]
		kind := "upvalue"
		if isLocal != 0 {
			kind = "local"
		}
		fmt.Fprintf(w, "%04d      |                     %s %d\n", offset, kind, index)
		offset += 2
	}
	return offset
}
