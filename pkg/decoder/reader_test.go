package decoder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/godecompiler/pkg/classfile"
	"github.com/daimatz/godecompiler/pkg/decompctx"
	"github.com/daimatz/godecompiler/pkg/ir"
	"github.com/daimatz/godecompiler/pkg/metadata"
)

// fakeScope satisfies metadata.Scope for bytecode that never touches the
// constant pool; any call is a test bug.
type fakeScope struct{}

func (fakeScope) ResolveType(uint16) (*ir.TypeOperand, error)             { panic("unused") }
func (fakeScope) ResolveField(uint16) (*ir.FieldOperand, error)           { panic("unused") }
func (fakeScope) ResolveMethod(uint16, bool) (*ir.MethodOperand, error)   { panic("unused") }
func (fakeScope) ResolveConstant(uint16) (*ir.ConstantOperand, error)     { panic("unused") }
func (fakeScope) ResolveDynamicCallSite(uint16) (*ir.DynamicCallSiteOperand, error) {
	panic("unused")
}

var _ metadata.Scope = fakeScope{}

func testDecodeCtx() *decompctx.Context {
	return decompctx.New("Test", "method", false, decompctx.Settings{})
}

func TestDecodeStraightLine(t *testing.T) {
	code := []byte{byte(ir.OpIconst1), byte(ir.OpIconst2), byte(ir.OpIadd), byte(ir.OpIreturn)}
	mb := &ir.MethodBody{Code: code, MaxStack: 2, MaxLocals: 0}

	body, err := Decode(mb, fakeScope{}, testDecodeCtx())
	require.NoError(t, err)
	require.Equal(t, 4, body.CodeSize)

	var ops []ir.Opcode
	for i := body.First; i != nil; i = i.Next {
		ops = append(ops, i.OpCode)
	}
	assert.Equal(t, []ir.Opcode{ir.OpIconst1, ir.OpIconst2, ir.OpIadd, ir.OpIreturn}, ops)
	assert.Len(t, body.ByOffset, 4)
}

func TestDecodeForwardGoto(t *testing.T) {
	// nop; goto +3 (relative to the goto's own offset); nop (target)
	code := []byte{byte(ir.OpNop), byte(ir.OpGoto), 0x00, 0x03, byte(ir.OpNop)}
	mb := &ir.MethodBody{Code: code, MaxStack: 0, MaxLocals: 0}

	body, err := Decode(mb, fakeScope{}, testDecodeCtx())
	require.NoError(t, err)

	gotoInst := body.ByOffset[1]
	require.NotNil(t, gotoInst)
	require.Equal(t, ir.OpGoto, gotoInst.OpCode)

	target, ok := gotoInst.Operand.(*ir.Instruction)
	require.True(t, ok, "goto operand should resolve to the target instruction")
	assert.Equal(t, 4, target.Offset)
	assert.NotNil(t, target.Label, "a branch target must carry a label")
}

func TestDecodeMergesDeclaredLocalVariable(t *testing.T) {
	// iload 0 (explicit slot operand; slot 0 named "x" over its whole live range); ireturn
	code := []byte{byte(ir.OpIload), 0x00, byte(ir.OpIreturn)}
	mb := &ir.MethodBody{
		Code:      code,
		MaxStack:  1,
		MaxLocals: 1,
		LocalVariableTable: []classfile.LocalVariableEntry{
			{StartPC: 0, Length: 3, Name: "x", Descriptor: "I", Index: 0},
		},
	}

	body, err := Decode(mb, fakeScope{}, testDecodeCtx())
	require.NoError(t, err)

	iload := body.First
	require.Equal(t, ir.OpIload, iload.OpCode)
	lo, ok := iload.Operand.(*ir.LocalOperand)
	require.True(t, ok)
	assert.Equal(t, 0, lo.Slot)
	assert.Equal(t, "x", lo.Name, "the decoder should attach the merged local's name to the load")
	assert.Equal(t, "I", lo.Type)

	scope := body.Variables.Lookup(0, 0)
	require.NotNil(t, scope)
	assert.True(t, scope.Declared)
}
