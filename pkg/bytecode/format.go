// Package bytecode's format.go implements the .sg binary file format: a
// serialization of a compiled top-level Function (and every function
// nested in its constant pool) so `smog compile` can persist bytecode and
// `smog run`/`smog disassemble` can load it back without re-parsing
// source. This is supplemental tooling around the core, not part of it —
// pkg/compiler and pkg/vm never call into this file. Deserialization
// still allocates through a *gc.Heap, the same heap pkg/vm marks and
// sweeps, so a loaded function upholds the same string-interning
// invariant a freshly compiled one does.
//
// Binary layout:
//
//	Header:   magic "SMOG" (4 bytes), format version (uint32 BE)
//	Function: arity (uint8), upvalue count (uint8), name (string-or-absent),
//	          chunk
//	Chunk:    code length (uint32 BE) + code bytes,
//	          line run count (uint32 BE) + (count uint32, line uint32) pairs,
//	          constant count (uint32 BE) + constants
//	Constant: type tag (1 byte) + type-specific payload
//	          0x01 number (float64 BE)
//	          0x02 string (uint32 BE length + UTF-8 bytes)
//	          0x03 bool (1 byte)
//	          0x04 nil (no payload)
//	          0x05 function (nested Function, recursive)
package bytecode

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/kristofer/smogvm/pkg/gc"
	"github.com/kristofer/smogvm/pkg/value"
)

// MagicNumber identifies a .sg file.
const MagicNumber uint32 = 0x534D4F47 // "SMOG"

// FormatVersion is the current .sg format version.
const FormatVersion uint32 = 1

const (
	tagNumber byte = iota + 1
	tagString
	tagBool
	tagNil
	tagFunction
)

// WriteFunction serializes fn (and, recursively, every Function appearing
// in its constant pool) to w as a .sg file.
func WriteFunction(w io.Writer, fn *value.Function) error {
	if err := binary.Write(w, binary.BigEndian, MagicNumber); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, FormatVersion); err != nil {
		return err
	}
	return writeFunction(w, fn)
}

func writeFunction(w io.Writer, fn *value.Function) error {
	if _, err := w.Write([]byte{byte(fn.Arity), byte(fn.UpvalueCount)}); err != nil {
		return err
	}
	name := ""
	if fn.Name != nil {
		name = fn.Name.Chars
	}
	if err := writeString(w, name); err != nil {
		return err
	}
	return writeChunk(w, &fn.Chunk)
}

func writeChunk(w io.Writer, chunk *value.Chunk) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(chunk.Code))); err != nil {
		return err
	}
	if _, err := w.Write(chunk.Code); err != nil {
		return err
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(chunk.Lines))); err != nil {
		return err
	}
	for _, run := range chunk.Lines {
		if err := binary.Write(w, binary.BigEndian, uint32(run.Count)); err != nil {
			return err
		}
		if err := binary.Write(w, binary.BigEndian, uint32(run.Line)); err != nil {
			return err
		}
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(chunk.Constants))); err != nil {
		return err
	}
	for _, c := range chunk.Constants {
		if err := writeConstant(w, c); err != nil {
			return err
		}
	}
	return nil
}

func writeConstant(w io.Writer, v value.Value) error {
	switch {
	case v.IsNumber():
		if _, err := w.Write([]byte{tagNumber}); err != nil {
			return err
		}
		return binary.Write(w, binary.BigEndian, math.Float64bits(v.AsNumber()))
	case v.IsString():
		if _, err := w.Write([]byte{tagString}); err != nil {
			return err
		}
		return writeString(w, v.AsString().Chars)
	case v.IsBool():
		b := byte(0)
		if v.AsBool() {
			b = 1
		}
		_, err := w.Write([]byte{tagBool, b})
		return err
	case v.IsNil():
		_, err := w.Write([]byte{tagNil})
		return err
	case v.IsObject():
		if fn, ok := v.AsObject().(*value.Function); ok {
			if _, err := w.Write([]byte{tagFunction}); err != nil {
				return err
			}
			return writeFunction(w, fn)
		}
		return fmt.Errorf("bytecode: cannot serialize constant of type %s", v.TypeName())
	default:
		return fmt.Errorf("bytecode: cannot serialize constant of type %s", v.TypeName())
	}
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// ReadFunction deserializes a .sg file from r into a fresh *value.Function
// tree, allocating every Function and interning every string constant
// through heap so the result upholds the same heap-membership and
// string-interning invariants as a freshly compiled function — two
// string constants with equal bytes, wherever they appear in the tree,
// come back as the same *value.String.
func ReadFunction(r io.Reader, heap *gc.Heap) (*value.Function, error) {
	var magic, version uint32
	if err := binary.Read(r, binary.BigEndian, &magic); err != nil {
		return nil, err
	}
	if magic != MagicNumber {
		return nil, fmt.Errorf("bytecode: not a .sg file (bad magic %08x)", magic)
	}
	if err := binary.Read(r, binary.BigEndian, &version); err != nil {
		return nil, err
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("bytecode: unsupported .sg format version %d", version)
	}
	return readFunction(r, heap)
}

func readFunction(r io.Reader, heap *gc.Heap) (*value.Function, error) {
	var head [2]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		return nil, err
	}
	name, err := readString(r)
	if err != nil {
		return nil, err
	}
	chunk, err := readChunk(r, heap)
	if err != nil {
		return nil, err
	}
	fn := heap.NewFunction()
	fn.Arity = int(head[0])
	fn.UpvalueCount = int(head[1])
	fn.Chunk = *chunk
	if name != "" {
		fn.Name = heap.InternString(name)
	}
	return fn, nil
}

func readChunk(r io.Reader, heap *gc.Heap) (*value.Chunk, error) {
	var codeLen uint32
	if err := binary.Read(r, binary.BigEndian, &codeLen); err != nil {
		return nil, err
	}
	code := make([]byte, codeLen)
	if _, err := io.ReadFull(r, code); err != nil {
		return nil, err
	}

	var runCount uint32
	if err := binary.Read(r, binary.BigEndian, &runCount); err != nil {
		return nil, err
	}
	lines := make([]value.LineRun, runCount)
	for i := range lines {
		var count, line uint32
		if err := binary.Read(r, binary.BigEndian, &count); err != nil {
			return nil, err
		}
		if err := binary.Read(r, binary.BigEndian, &line); err != nil {
			return nil, err
		}
		lines[i] = value.LineRun{Count: int(count), Line: int(line)}
	}

	var constCount uint32
	if err := binary.Read(r, binary.BigEndian, &constCount); err != nil {
		return nil, err
	}
	constants := make([]value.Value, constCount)
	for i := range constants {
		v, err := readConstant(r, heap)
		if err != nil {
			return nil, err
		}
		constants[i] = v
	}

	return &value.Chunk{Code: code, Lines: lines, Constants: constants}, nil
}

func readConstant(r io.Reader, heap *gc.Heap) (value.Value, error) {
	var tag [1]byte
	if _, err := io.ReadFull(r, tag[:]); err != nil {
		return value.Nil, err
	}
	switch tag[0] {
	case tagNumber:
		var bits uint64
		if err := binary.Read(r, binary.BigEndian, &bits); err != nil {
			return value.Nil, err
		}
		return value.Number(math.Float64frombits(bits)), nil
	case tagString:
		s, err := readString(r)
		if err != nil {
			return value.Nil, err
		}
		return value.Obj(heap.InternString(s)), nil
	case tagBool:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return value.Nil, err
		}
		return value.Bool(b[0] != 0), nil
	case tagNil:
		return value.Nil, nil
	case tagFunction:
		fn, err := readFunction(r, heap)
		if err != nil {
			return value.Nil, err
		}
		return value.Obj(fn), nil
	default:
		return value.Nil, fmt.Errorf("bytecode: unknown constant tag %d", tag[0])
	}
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
