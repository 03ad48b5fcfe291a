package bytecode

import (
	"bytes"
	"testing"

	"github.com/kristofer/smogvm/pkg/gc"
	"github.com/kristofer/smogvm/pkg/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildSimpleFunction() *value.Function {
	fn := &value.Function{Arity: 1, UpvalueCount: 0, Name: value.NewStringHeader("add")}
	idx := AddConstant(&fn.Chunk, value.Number(1))
	Write(&fn.Chunk, OpConst, 1)
	WriteByte(&fn.Chunk, byte(idx), 1)
	Write(&fn.Chunk, OpReturn, 1)
	return fn
}

func TestWriteReadFunctionRoundTrip(t *testing.T) {
	fn := buildSimpleFunction()

	var buf bytes.Buffer
	require.NoError(t, WriteFunction(&buf, fn))

	got, err := ReadFunction(&buf, gc.New())
	require.NoError(t, err)

	assert.Equal(t, fn.Arity, got.Arity)
	assert.Equal(t, fn.UpvalueCount, got.UpvalueCount)
	require.NotNil(t, got.Name)
	assert.Equal(t, "add", got.Name.Chars)
	assert.Equal(t, fn.Chunk.Code, got.Chunk.Code)
	assert.Equal(t, fn.Chunk.Lines, got.Chunk.Lines)
	require.Len(t, got.Chunk.Constants, 1)
	assert.Equal(t, 1.0, got.Chunk.Constants[0].AsNumber())
}

func TestWriteReadNestedFunction(t *testing.T) {
	inner := buildSimpleFunction()
	outer := &value.Function{Arity: 0}
	idx := AddConstant(&outer.Chunk, value.Obj(inner))
	Write(&outer.Chunk, OpClosure, 1)
	WriteByte(&outer.Chunk, byte(idx), 1)
	Write(&outer.Chunk, OpReturn, 1)

	var buf bytes.Buffer
	require.NoError(t, WriteFunction(&buf, outer))

	got, err := ReadFunction(&buf, gc.New())
	require.NoError(t, err)
	require.Len(t, got.Chunk.Constants, 1)

	nested, ok := got.Chunk.Constants[0].AsObject().(*value.Function)
	require.True(t, ok)
	assert.Equal(t, inner.Arity, nested.Arity)
	assert.Equal(t, "add", nested.Name.Chars)
}

func TestWriteReadAnonymousFunctionHasNilName(t *testing.T) {
	fn := &value.Function{Arity: 0}
	var buf bytes.Buffer
	require.NoError(t, WriteFunction(&buf, fn))

	got, err := ReadFunction(&buf, gc.New())
	require.NoError(t, err)
	assert.Nil(t, got.Name)
}

func TestReadFunctionRejectsBadMagic(t *testing.T) {
	_, err := ReadFunction(bytes.NewReader([]byte{0, 0, 0, 0, 0, 0, 0, 1}), gc.New())
	assert.Error(t, err)
}

func TestWriteConstantVariants(t *testing.T) {
	fn := &value.Function{}
	AddConstant(&fn.Chunk, value.Number(3.5))
	AddConstant(&fn.Chunk, value.Obj(value.NewStringHeader("hi")))
	AddConstant(&fn.Chunk, value.Bool(true))
	AddConstant(&fn.Chunk, value.Nil)

	var buf bytes.Buffer
	require.NoError(t, WriteFunction(&buf, fn))

	got, err := ReadFunction(&buf, gc.New())
	require.NoError(t, err)
	require.Len(t, got.Chunk.Constants, 4)
	assert.Equal(t, 3.5, got.Chunk.Constants[0].AsNumber())
	assert.Equal(t, "hi", got.Chunk.Constants[1].AsString().Chars)
	assert.Equal(t, true, got.Chunk.Constants[2].AsBool())
	assert.True(t, got.Chunk.Constants[3].IsNil())
}

// TestReadFunctionInternsStringConstants reproduces the bug where
// deserialized string constants bypassed the heap's intern table: two
// constant-pool strings with identical bytes must come back as the
// same *value.String, or == on them at runtime is false when it
// should be true.
func TestReadFunctionInternsStringConstants(t *testing.T) {
	fn := &value.Function{}
	AddConstant(&fn.Chunk, value.Obj(value.NewStringHeader("foo")))
	AddConstant(&fn.Chunk, value.Obj(value.NewStringHeader("foo")))

	var buf bytes.Buffer
	require.NoError(t, WriteFunction(&buf, fn))

	heap := gc.New()
	got, err := ReadFunction(&buf, heap)
	require.NoError(t, err)
	require.Len(t, got.Chunk.Constants, 2)

	a := got.Chunk.Constants[0].AsString()
	b := got.Chunk.Constants[1].AsString()
	assert.Same(t, a, b, "deserialized string constants with equal bytes must be the same interned object")
}
