package compiler

import (
	"bytes"
	"testing"

	"github.com/kristofer/smogvm/pkg/bytecode"
	"github.com/kristofer/smogvm/pkg/gc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func compileOK(t *testing.T, src string) (*bytes.Buffer, []byte) {
	t.Helper()
	var stderr bytes.Buffer
	fn, ok := New(src, gc.New(), &stderr).Compile()
	require.True(t, ok, "expected compile success, stderr: %s", stderr.String())
	require.NotNil(t, fn)
	return &stderr, fn.Chunk.Code
}

func compileFail(t *testing.T, src string) string {
	t.Helper()
	var stderr bytes.Buffer
	_, ok := New(src, gc.New(), &stderr).Compile()
	require.False(t, ok, "expected compile failure")
	return stderr.String()
}

func TestArithmeticPrecedence(t *testing.T) {
	_, code := compileOK(t, "1 + 2 * 3;")
	// CONST 1, CONST 2, CONST 3, MULTIPLY, ADD, POP, NIL, RETURN
	assert.Equal(t, byte(bytecode.OpConst), code[0])
	assert.Equal(t, byte(bytecode.OpConst), code[2])
	assert.Equal(t, byte(bytecode.OpConst), code[4])
	assert.Equal(t, byte(bytecode.OpMultiply), code[6])
	assert.Equal(t, byte(bytecode.OpAdd), code[7])
	assert.Equal(t, byte(bytecode.OpPop), code[8])
	assert.Equal(t, byte(bytecode.OpNil), code[9])
	assert.Equal(t, byte(bytecode.OpReturn), code[10])
}

func TestGlobalVarDeclarationAndRead(t *testing.T) {
	_, code := compileOK(t, "var x = 1; print x;")
	assert.Equal(t, byte(bytecode.OpConst), code[0]) // the literal 1
	assert.Equal(t, byte(bytecode.OpDefineGlobal), code[2])
	assert.Equal(t, byte(bytecode.OpGetGlobal), code[4])
	assert.Equal(t, byte(bytecode.OpPrint), code[6])
}

func TestLocalVariableUsesGetSetLocal(t *testing.T) {
	_, code := compileOK(t, "{ var x = 1; x = x + 1; print x; }")
	assert.Contains(t, code, byte(bytecode.OpSetLocal))
	assert.Contains(t, code, byte(bytecode.OpGetLocal))
}

func TestIfStatementEmitsJumps(t *testing.T) {
	_, code := compileOK(t, "if (true) { print 1; } else { print 2; }")
	hasJumpIfFalse, hasJump := false, false
	for _, b := range code {
		switch b {
		case byte(bytecode.OpJumpIfFalse):
			hasJumpIfFalse = true
		case byte(bytecode.OpJump):
			hasJump = true
		}
	}
	assert.True(t, hasJumpIfFalse, "expected a conditional JUMP_IF_FALSE")
	assert.True(t, hasJump, "expected an unconditional JUMP over the else branch")
}

func TestWhileLoopEmitsLoop(t *testing.T) {
	_, code := compileOK(t, "while (true) { print 1; }")
	found := false
	for _, b := range code {
		if b == byte(bytecode.OpLoop) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestClosureCapturesUpvalue(t *testing.T) {
	src := `
fun outer() {
  var x = 1;
  fun inner() {
    return x;
  }
  return inner;
}
`
	_, code := compileOK(t, src)
	found := false
	for _, b := range code {
		if b == byte(bytecode.OpClosure) {
			found = true
		}
	}
	assert.True(t, found)
}

func TestDuplicateLocalIsCompileError(t *testing.T) {
	out := compileFail(t, "{ var a = 1; var a = 2; }")
	assert.Contains(t, out, "Already a variable with this name in this scope.")
}

func TestReadLocalInOwnInitializerIsCompileError(t *testing.T) {
	out := compileFail(t, "{ var a = a; }")
	assert.Contains(t, out, "Can't read local variable in its own initializer.")
}

func TestReturnFromTopLevelIsCompileError(t *testing.T) {
	out := compileFail(t, "return 1;")
	assert.Contains(t, out, "Can't return from top-level code.")
}

func TestTooManyLocalsIsCompileError(t *testing.T) {
	var src bytes.Buffer
	src.WriteString("{\n")
	for i := 0; i < 257; i++ {
		src.WriteString("var v")
		src.WriteString(itoa(i))
		src.WriteString(" = 0;\n")
	}
	src.WriteString("}\n")
	out := compileFail(t, src.String())
	assert.Contains(t, out, "Too many local variables in function.")
}

func TestTooManyParametersIsCompileError(t *testing.T) {
	var params bytes.Buffer
	for i := 0; i < 256; i++ {
		if i > 0 {
			params.WriteString(", ")
		}
		params.WriteString("p")
		params.WriteString(itoa(i))
	}
	src := "fun f(" + params.String() + ") { return 0; }"
	out := compileFail(t, src)
	assert.Contains(t, out, "Can't have more than 255 parameters.")
}

func TestInvalidAssignmentTargetIsCompileError(t *testing.T) {
	out := compileFail(t, "1 + 2 = 3;")
	assert.Contains(t, out, "Invalid assignment target.")
}

func TestErrorMessageFormatAtEnd(t *testing.T) {
	out := compileFail(t, "var x =")
	assert.Contains(t, out, "Error at end:")
}

func TestErrorMessageFormatAtToken(t *testing.T) {
	out := compileFail(t, "var 1 = 2;")
	assert.Contains(t, out, "Error at '1':")
}

func itoa(i int) string {
	if i == 0 {
		return "0"
	}
	digits := []byte{}
	for i > 0 {
		digits = append([]byte{byte('0' + i%10)}, digits...)
		i /= 10
	}
	return string(digits)
}
