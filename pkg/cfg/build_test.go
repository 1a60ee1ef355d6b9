package cfg_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/godecompiler/pkg/cfg"
	"github.com/daimatz/godecompiler/pkg/decompctx"
	"github.com/daimatz/godecompiler/pkg/decoder"
	"github.com/daimatz/godecompiler/pkg/ir"
	"github.com/daimatz/godecompiler/pkg/metadata"
)

type fakeScope struct{}

func (fakeScope) ResolveType(uint16) (*ir.TypeOperand, error)           { panic("unused") }
func (fakeScope) ResolveField(uint16) (*ir.FieldOperand, error)         { panic("unused") }
func (fakeScope) ResolveMethod(uint16, bool) (*ir.MethodOperand, error) { panic("unused") }
func (fakeScope) ResolveConstant(uint16) (*ir.ConstantOperand, error)   { panic("unused") }
func (fakeScope) ResolveDynamicCallSite(uint16) (*ir.DynamicCallSiteOperand, error) {
	panic("unused")
}

var _ metadata.Scope = fakeScope{}

// decodeBody builds the straight-line-with-a-conditional-branch shape:
//
//	0: iload_0
//	1: ifeq -> 5
//	4: iconst_1
//	5: ireturn
func decodeBody(t *testing.T) *decoder.DecodedBody {
	t.Helper()
	code := []byte{
		byte(ir.OpIload0),
		byte(ir.OpIfeq), 0x00, 0x04,
		byte(ir.OpIconst1),
		byte(ir.OpIreturn),
	}
	mb := &ir.MethodBody{Code: code, MaxStack: 1, MaxLocals: 1}
	ctx := decompctx.New("Test", "method", false, decompctx.Settings{})
	body, err := decoder.Decode(mb, fakeScope{}, ctx)
	require.NoError(t, err)
	return body
}

func TestBuildSplitsBlocksOnBranchAndTarget(t *testing.T) {
	body := decodeBody(t)
	g := cfg.Build(body.First, nil)

	var normal []*cfg.Node
	for _, n := range g.Nodes {
		if n.Kind == cfg.Normal {
			normal = append(normal, n)
		}
	}
	require.Len(t, normal, 3, "ifeq, its fallthrough, and its target should each start a block")

	ifeqBlock := g.NodeAt(body.ByOffset[0])
	fallthroughBlock := g.NodeAt(body.ByOffset[4])
	targetBlock := g.NodeAt(body.ByOffset[5])
	require.NotNil(t, ifeqBlock)
	require.NotNil(t, fallthroughBlock)
	require.NotNil(t, targetBlock)

	assert.Same(t, body.ByOffset[0], ifeqBlock.Start)
	assert.Same(t, body.ByOffset[1], ifeqBlock.End)

	assert.ElementsMatch(t, []*cfg.Node{fallthroughBlock, targetBlock}, ifeqBlock.Successors,
		"a conditional branch keeps both the taken and fallthrough edges")
	assert.Equal(t, []*cfg.Node{targetBlock}, fallthroughBlock.Successors)
	assert.Equal(t, []*cfg.Node{g.RegularExit}, targetBlock.Successors,
		"ireturn exits the method unconditionally")
}

func TestDominanceOverDiamond(t *testing.T) {
	body := decodeBody(t)
	g := cfg.Build(body.First, nil)

	ifeqBlock := g.NodeAt(body.ByOffset[0])
	targetBlock := g.NodeAt(body.ByOffset[5])

	assert.True(t, ifeqBlock.Dominates(targetBlock))
	assert.True(t, g.Entry.Dominates(ifeqBlock))
	assert.True(t, ifeqBlock.Dominates(ifeqBlock), "dominance is reflexive")
}
