package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/godecompiler/pkg/classfile"
)

func TestFromCodeAttributeParametersInstance(t *testing.T) {
	m := &classfile.MethodInfo{
		Name:       "compute",
		Descriptor: "(ILjava/lang/String;[JD)I",
		Code:       &classfile.CodeAttribute{MaxStack: 2, MaxLocals: 8, Code: []byte{0x00}},
	}

	mb := FromCodeAttribute("com/example/Foo", m, false)

	require.False(t, mb.IsStatic)
	require.Len(t, mb.Parameters, 5)
	assert.Equal(t, Parameter{Slot: 0, Name: "this", Type: "com/example/Foo"}, mb.Parameters[0])
	assert.Equal(t, "I", mb.Parameters[1].Type)
	assert.Equal(t, 1, mb.Parameters[1].Slot)
	assert.Equal(t, "Ljava/lang/String;", mb.Parameters[2].Type)
	assert.Equal(t, 2, mb.Parameters[2].Slot)
	assert.Equal(t, "[J", mb.Parameters[3].Type)
	assert.Equal(t, 3, mb.Parameters[3].Slot)
	// [J (long array, a reference) only occupies one slot; D occupies two.
	assert.Equal(t, "D", mb.Parameters[4].Type)
	assert.Equal(t, 4, mb.Parameters[4].Slot)
}

func TestFromCodeAttributeStaticNoThis(t *testing.T) {
	m := &classfile.MethodInfo{
		Name:        "main",
		Descriptor:  "([Ljava/lang/String;)V",
		AccessFlags: classfile.AccStatic,
		Code:        &classfile.CodeAttribute{Code: []byte{0x00}},
	}

	mb := FromCodeAttribute("com/example/Foo", m, false)

	require.True(t, mb.IsStatic)
	require.Len(t, mb.Parameters, 1)
	assert.Equal(t, "[Ljava/lang/String;", mb.Parameters[0].Type)
	assert.Equal(t, 0, mb.Parameters[0].Slot)
}

func TestFromCodeAttributeCarriesRawExceptionTable(t *testing.T) {
	m := &classfile.MethodInfo{
		Name:       "risky",
		Descriptor: "()V",
		Code: &classfile.CodeAttribute{
			Code: []byte{0x00},
			ExceptionHandlers: []classfile.ExceptionHandler{
				{StartPC: 0, EndPC: 4, HandlerPC: 4},
			},
		},
	}

	mb := FromCodeAttribute("com/example/Foo", m, false)

	require.Len(t, mb.RawExceptionTable, 1)
	assert.Equal(t, uint16(0), mb.RawExceptionTable[0].StartPC)
	assert.Equal(t, uint16(4), mb.RawExceptionTable[0].EndPC)
}
