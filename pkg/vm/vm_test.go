package vm

import (
	"bytes"
	"strings"
	"testing"

	"github.com/kristofer/smogvm/pkg/bytecode"
	"github.com/kristofer/smogvm/pkg/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestVM() (*VM, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	v := New(WithStdout(&stdout), WithStderr(&stderr))
	return v, &stdout, &stderr
}

func TestArithmeticPrecedence(t *testing.T) {
	v, stdout, stderr := newTestVM()
	result := v.Interpret("print 1 + 2 * 3;")
	require.Equal(t, OK, result, "stderr: %s", stderr.String())
	assert.Equal(t, "7\n", stdout.String())
}

func TestStringInterningEquality(t *testing.T) {
	v, stdout, stderr := newTestVM()
	result := v.Interpret(`var a = "hi" + "there"; var b = "hi" + "there"; print a == b;`)
	require.Equal(t, OK, result, "stderr: %s", stderr.String())
	assert.Equal(t, "true\n", stdout.String())
}

func TestClosureCounterUpvalue(t *testing.T) {
	src := `
fun makeCounter() {
  var count = 0;
  fun increment() {
    count = count + 1;
    return count;
  }
  return increment;
}

var counter = makeCounter();
print counter();
print counter();
print counter();
`
	v, stdout, stderr := newTestVM()
	result := v.Interpret(src)
	require.Equal(t, OK, result, "stderr: %s", stderr.String())
	assert.Equal(t, "1\n2\n3\n", stdout.String())
}

func TestCStyleForLoop(t *testing.T) {
	v, stdout, stderr := newTestVM()
	result := v.Interpret("for (var i = 0; i < 3; i = i + 1) { print i; }")
	require.Equal(t, OK, result, "stderr: %s", stderr.String())
	assert.Equal(t, "0\n1\n2\n", stdout.String())
}

func TestRecursiveFibonacci(t *testing.T) {
	src := `
fun fib(n) {
  if (n < 2) return n;
  return fib(n - 1) + fib(n - 2);
}
print fib(10);
`
	v, stdout, stderr := newTestVM()
	result := v.Interpret(src)
	require.Equal(t, OK, result, "stderr: %s", stderr.String())
	assert.Equal(t, "55\n", stdout.String())
}

func TestTypeMismatchRuntimeError(t *testing.T) {
	v, _, stderr := newTestVM()
	result := v.Interpret(`print 1 + "two";`)
	assert.Equal(t, RuntimeErrorResult, result)
	assert.Contains(t, stderr.String(), "Operands must be two numbers or two strings.")
}

func TestUndefinedVariableRuntimeError(t *testing.T) {
	v, _, stderr := newTestVM()
	result := v.Interpret("print nope;")
	assert.Equal(t, RuntimeErrorResult, result)
	assert.Contains(t, stderr.String(), "Undefined variable 'nope'.")
}

func TestRuntimeErrorIncludesStackTrace(t *testing.T) {
	src := `
fun a() { return 1 + "x"; }
fun b() { return a(); }
b();
`
	v, _, stderr := newTestVM()
	result := v.Interpret(src)
	require.Equal(t, RuntimeErrorResult, result)
	out := stderr.String()
	assert.Contains(t, out, "in a()")
	assert.Contains(t, out, "in b()")
	assert.Contains(t, out, "in script")
}

func TestWrongArityRuntimeError(t *testing.T) {
	v, _, stderr := newTestVM()
	result := v.Interpret("fun f(a, b) { return a + b; } f(1);")
	assert.Equal(t, RuntimeErrorResult, result)
	assert.Contains(t, stderr.String(), "Expected 2 arguments but got 1.")
}

func TestCallingNonCallableIsRuntimeError(t *testing.T) {
	v, _, stderr := newTestVM()
	result := v.Interpret("var x = 1; x();")
	assert.Equal(t, RuntimeErrorResult, result)
	assert.Contains(t, stderr.String(), "Can only call functions and classes.")
}

func TestDeepRecursionOverflowsStack(t *testing.T) {
	src := `
fun recurse(n) {
  return recurse(n + 1);
}
recurse(0);
`
	v, _, stderr := newTestVM()
	result := v.Interpret(src)
	assert.Equal(t, RuntimeErrorResult, result)
	assert.Contains(t, stderr.String(), "Stack overflow.")
}

func TestFalseyZeroAndNilAndFalse(t *testing.T) {
	v, stdout, stderr := newTestVM()
	result := v.Interpret(`
if (0) { print "zero is truthy"; } else { print "zero is falsey"; }
if (nah) { print "nil is truthy"; } else { print "nil is falsey"; }
if (false) { print "false is truthy"; } else { print "false is falsey"; }
if ("") { print "empty string is truthy"; } else { print "empty string is falsey"; }
`)
	require.Equal(t, OK, result, "stderr: %s", stderr.String())
	lines := strings.Split(strings.TrimRight(stdout.String(), "\n"), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "zero is falsey", lines[0])
	assert.Equal(t, "nil is falsey", lines[1])
	assert.Equal(t, "false is falsey", lines[2])
	assert.Equal(t, "empty string is truthy", lines[3])
}

func TestGlobalsPersistAcrossInterpretCalls(t *testing.T) {
	v, stdout, stderr := newTestVM()
	require.Equal(t, OK, v.Interpret("var x = 10;"))
	require.Equal(t, OK, v.Interpret("print x + 5;"), "stderr: %s", stderr.String())
	assert.Equal(t, "15\n", stdout.String())
}

func TestNativeFunctionCall(t *testing.T) {
	v, stdout, stderr := newTestVM()
	v.DefineNative("double", func(args []value.Value) (value.Value, error) {
		return value.Number(args[0].AsNumber() * 2), nil
	})
	result := v.Interpret("print double(21);")
	require.Equal(t, OK, result, "stderr: %s", stderr.String())
	assert.Equal(t, "42\n", stdout.String())
}

func TestAndOrShortCircuit(t *testing.T) {
	src := `
fun sideEffect(v) {
  print v;
  return v;
}
print false and sideEffect(nah);
print true or sideEffect(nah);
`
	v, stdout, stderr := newTestVM()
	result := v.Interpret(src)
	require.Equal(t, OK, result, "stderr: %s", stderr.String())
	// sideEffect must never run: its print never fires for either branch.
	assert.Equal(t, "false\ntrue\n", stdout.String())
}

func TestCompileErrorResult(t *testing.T) {
	v, _, stderr := newTestVM()
	result := v.Interpret("var = 1;")
	assert.Equal(t, CompileError, result)
	assert.NotEmpty(t, stderr.String())
}

func TestDebuggerTraceDoesNotAffectResult(t *testing.T) {
	var trace bytes.Buffer
	v, stdout, stderr := newTestVM()
	v.debugger = NewDebugger(&trace)
	result := v.Interpret("print 1 + 1;")
	require.Equal(t, OK, result, "stderr: %s", stderr.String())
	assert.Equal(t, "2\n", stdout.String())
	assert.NotEmpty(t, trace.String())
}

func TestBytecodeRoundTripPreservesStringInterning(t *testing.T) {
	v, stdout, stderr := newTestVM()
	fn, ok := v.CompileOnly(`var a = "foo"; var b = "foo"; print a == b;`)
	require.True(t, ok, "stderr: %s", stderr.String())

	var buf bytes.Buffer
	require.NoError(t, bytecode.WriteFunction(&buf, fn))

	loaded, err := bytecode.ReadFunction(&buf, v.Heap())
	require.NoError(t, err)

	result := v.InterpretFunction(loaded)
	require.Equal(t, OK, result, "stderr: %s", stderr.String())
	assert.Equal(t, "true\n", stdout.String())
}

func TestInterpretResultString(t *testing.T) {
	assert.Equal(t, "OK", OK.String())
	assert.Equal(t, "COMPILE_ERROR", CompileError.String())
	assert.Equal(t, "RUNTIME_ERROR", RuntimeErrorResult.String())
	assert.Equal(t, "UNKNOWN", InterpretResult(99).String())
}
