package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daimatz/godecompiler/pkg/decompctx"
	"github.com/daimatz/godecompiler/pkg/ir"
)

func testCtx() *decompctx.Context {
	return decompctx.New("Test", "method", false, decompctx.Settings{})
}

// chain links instructions in offset order, the way visitor_test.go does.
func chain(insts ...*ir.Instruction) *ir.Instruction {
	for i := 0; i < len(insts)-1; i++ {
		insts[i].Next = insts[i+1]
		insts[i+1].Prev = insts[i]
	}
	return insts[0]
}

func buildAndAssemble(t *testing.T, ctx *decompctx.Context, first *ir.Instruction, handlers []*ir.ExceptionHandler, paramSlots []ir.FrameValue, isConstructor bool) []*Node {
	t.Helper()
	a, err := AnalyzeStack(ctx, first, handlers, paramSlots, isConstructor)
	require.NoError(t, err)
	RewriteStack(ctx, a)
	locals := SplitVariables(ctx, a, nil, nil, ctx.Optimize)
	wireLocalLoads(a, locals)
	return Assemble(ctx, a, handlers, locals)
}

func TestEmptyBody(t *testing.T) {
	ctx := testCtx()
	nodes := buildAndAssemble(t, ctx, nil, nil, nil, false)
	assert.Empty(t, nodes)
}

func TestStraightLineAdd(t *testing.T) {
	// iconst_1, iconst_2, iadd, ireturn
	c1 := &ir.Instruction{Offset: 0, EndOffset: 1, OpCode: ir.OpIconst1}
	c2 := &ir.Instruction{Offset: 1, EndOffset: 2, OpCode: ir.OpIconst2}
	add := &ir.Instruction{Offset: 2, EndOffset: 3, OpCode: ir.OpIadd}
	ret := &ir.Instruction{Offset: 3, EndOffset: 4, OpCode: ir.OpIreturn}
	first := chain(c1, c2, add, ret)

	ctx := testCtx()
	nodes := buildAndAssemble(t, ctx, first, nil, nil, false)

	// No temporaries should survive: a single top-level Return(Add(LdC,LdC)).
	require.Len(t, nodes, 1)
	retNode := nodes[0]
	assert.Equal(t, FromOpcode(ir.OpIreturn), retNode.Code)
	require.Len(t, retNode.Arguments, 1)
	addNode := retNode.Arguments[0]
	assert.Equal(t, FromOpcode(ir.OpIadd), addNode.Code)
	require.Len(t, addNode.Arguments, 2)
	assert.Equal(t, FromOpcode(ir.OpIconst1), addNode.Arguments[0].Code)
	assert.Equal(t, FromOpcode(ir.OpIconst2), addNode.Arguments[1].Code)
}

func TestForwardBranch(t *testing.T) {
	// iload_0, ifeq -> L1, iconst_1, ireturn, L1: iconst_0, ireturn
	iload0 := &ir.Instruction{Offset: 0, EndOffset: 1, OpCode: ir.OpIload0}
	ifeq := &ir.Instruction{Offset: 1, EndOffset: 4, OpCode: ir.OpIfeq}
	c1 := &ir.Instruction{Offset: 4, EndOffset: 5, OpCode: ir.OpIconst1}
	r1 := &ir.Instruction{Offset: 5, EndOffset: 6, OpCode: ir.OpIreturn}
	c0 := &ir.Instruction{Offset: 6, EndOffset: 7, OpCode: ir.OpIconst0, Label: &ir.Label{Name: "Label_0006"}}
	r2 := &ir.Instruction{Offset: 7, EndOffset: 8, OpCode: ir.OpIreturn}
	first := chain(iload0, ifeq, c1, r1, c0, r2)
	ifeq.Operand = c0

	ctx := testCtx()
	nodes := buildAndAssemble(t, ctx, first, nil, []ir.FrameValue{{Kind: ir.Integer}}, false)

	var returns int
	var sawLabel bool
	for _, n := range nodes {
		if n.Kind == NodeLabel {
			sawLabel = true
			assert.Equal(t, "Label_0006", n.Label.Name)
		}
		if n.Kind == NodeExpression && n.Code == FromOpcode(ir.OpIreturn) {
			returns++
		}
	}
	assert.True(t, sawLabel, "expected the ifeq target's label to appear")
	assert.Equal(t, 2, returns, "expected two reachable return expressions")
}

func TestTryCatchIdentityRethrow(t *testing.T) {
	// try: aload_1; athrow           (throw some already-held Throwable)
	// catch (Throwable): astore_1; aload_1; athrow   (identity rethrow)
	tryLoad := &ir.Instruction{Offset: 0, EndOffset: 1, OpCode: ir.OpAload1}
	tryThrow := &ir.Instruction{Offset: 1, EndOffset: 2, OpCode: ir.OpAthrow}
	handlerStore := &ir.Instruction{Offset: 2, EndOffset: 3, OpCode: ir.OpAstore1}
	handlerLoad := &ir.Instruction{Offset: 3, EndOffset: 4, OpCode: ir.OpAload1}
	handlerThrow := &ir.Instruction{Offset: 4, EndOffset: 5, OpCode: ir.OpAthrow}
	first := chain(tryLoad, tryThrow, handlerStore, handlerLoad, handlerThrow)

	handler := &ir.ExceptionHandler{
		Kind:         ir.Catch,
		TryBlock:     ir.ExceptionBlock{First: tryLoad, Last: tryThrow},
		HandlerBlock: ir.ExceptionBlock{First: handlerStore, Last: handlerThrow},
		CatchType:    "java/lang/Throwable",
	}
	handlers := []*ir.ExceptionHandler{handler}

	ctx := testCtx()
	pruned := PruneHandlers(ctx, handlers)
	nodes := buildAndAssemble(t, ctx, first, pruned, []ir.FrameValue{{Kind: ir.Top}, {Kind: ir.Reference, Type: "java/lang/Throwable"}}, false)

	require.Len(t, nodes, 1)
	tcb := nodes[0]
	require.Equal(t, NodeTryCatchBlock, tcb.Kind)
	require.Len(t, tcb.CatchBlocks, 1)
	cb := tcb.CatchBlocks[0]
	assert.Equal(t, "java/lang/Throwable", cb.ExceptionType)
	require.NotNil(t, cb.ExceptionVariable, "identity rethrow must bind the caught exception to a variable")

	require.NotEmpty(t, cb.Body.Body)
	throwNode := cb.Body.Body[len(cb.Body.Body)-1]
	assert.Equal(t, FromOpcode(ir.OpAthrow), throwNode.Code)
	require.Len(t, throwNode.Arguments, 1)
	loadArg := throwNode.Arguments[0]
	v, ok := loadArg.Operand.(*ir.Variable)
	require.True(t, ok)
	assert.Same(t, cb.ExceptionVariable, v, "rethrow must load the exact variable the exception was caught into")
}

func TestDupInFieldStore(t *testing.T) {
	// this.y = this.x, compiled as: aload_0, dup, getfield x, putfield y
	aload0 := &ir.Instruction{Offset: 0, EndOffset: 1, OpCode: ir.OpAload0}
	dup := &ir.Instruction{Offset: 1, EndOffset: 2, OpCode: ir.OpDup}
	getX := &ir.Instruction{Offset: 2, EndOffset: 5, OpCode: ir.OpGetfield,
		Operand: &ir.FieldOperand{ClassName: "Test", FieldName: "x", Descriptor: "I"}}
	putY := &ir.Instruction{Offset: 5, EndOffset: 8, OpCode: ir.OpPutfield,
		Operand: &ir.FieldOperand{ClassName: "Test", FieldName: "y", Descriptor: "I"}}
	ret := &ir.Instruction{Offset: 8, EndOffset: 9, OpCode: ir.OpReturn}
	first := chain(aload0, dup, getX, putY, ret)

	ctx := testCtx()
	nodes := buildAndAssemble(t, ctx, first, nil, []ir.FrameValue{{Kind: ir.Reference, Type: "Test"}}, false)

	for _, n := range nodes {
		require.NotEqual(t, FromOpcode(ir.OpDup), n.Code, "dup must not survive in the emitted AST")
	}

	// this is consumed twice (by getfield and by putfield), so unlike a
	// single-use value it keeps a real temporary: Store(stack_XX, Load
	// aload_0); the getfield and putfield nodes each load that temporary.
	var thisTemp *ir.Variable
	loads := 0
	var walk func(n *Node)
	walk = func(n *Node) {
		if n == nil {
			return
		}
		if n.Kind == NodeExpression && n.Code == AstCodeLoad {
			if v, ok := n.Operand.(*ir.Variable); ok && v.Type == "Test" {
				if thisTemp == nil {
					thisTemp = v
				}
				assert.Same(t, thisTemp, v, "both this-loads must share one temporary")
				loads++
			}
		}
		for _, arg := range n.Arguments {
			walk(arg)
		}
	}
	for _, n := range nodes {
		walk(n)
	}
	assert.Equal(t, 2, loads, "the this reference should be loaded twice from one temp")
	assert.NotNil(t, thisTemp)
}

func TestPruneFinallyDuplicatingOuterCatch(t *testing.T) {
	// An outer try/catch wraps a nested try whose own finally handler sits
	// between them; a third, separate finally handler's try-block is that
	// finally's own handler body, re-entering the exact same handler code
	// as the outer catch (the compiler's way of running the finally body
	// before rethrowing through the enclosing catch). That third handler
	// is the redundant one: the outer catch already covers it.
	outerTryStart := &ir.Instruction{Offset: 0, EndOffset: 1, OpCode: ir.OpNop}
	innerTryStart := &ir.Instruction{Offset: 1, EndOffset: 2, OpCode: ir.OpNop}
	innerTryEnd := &ir.Instruction{Offset: 2, EndOffset: 3, OpCode: ir.OpNop}
	outerTryEnd := &ir.Instruction{Offset: 3, EndOffset: 4, OpCode: ir.OpNop}
	catchStart := &ir.Instruction{Offset: 4, EndOffset: 5, OpCode: ir.OpNop}
	catchEnd := &ir.Instruction{Offset: 5, EndOffset: 6, OpCode: ir.OpReturn}
	finallyStart := &ir.Instruction{Offset: 6, EndOffset: 7, OpCode: ir.OpNop}
	finallyEnd := &ir.Instruction{Offset: 7, EndOffset: 8, OpCode: ir.OpAthrow}
	chain(outerTryStart, innerTryStart, innerTryEnd, outerTryEnd, catchStart, catchEnd, finallyStart, finallyEnd)

	outer := &ir.ExceptionHandler{
		Kind:         ir.Catch,
		TryBlock:     ir.ExceptionBlock{First: outerTryStart, Last: outerTryEnd},
		HandlerBlock: ir.ExceptionBlock{First: catchStart, Last: catchEnd},
		CatchType:    "java/lang/Exception",
	}
	innerFinally := &ir.ExceptionHandler{
		Kind:         ir.Finally,
		TryBlock:     ir.ExceptionBlock{First: innerTryStart, Last: innerTryEnd},
		HandlerBlock: ir.ExceptionBlock{First: finallyStart, Last: finallyEnd},
	}
	redundant := &ir.ExceptionHandler{
		Kind:         ir.Finally,
		TryBlock:     ir.ExceptionBlock{First: finallyStart, Last: finallyEnd},
		HandlerBlock: ir.ExceptionBlock{First: catchStart, Last: catchEnd},
	}

	ctx := testCtx()
	pruned := PruneHandlers(ctx, []*ir.ExceptionHandler{outer, innerFinally, redundant})

	require.Len(t, pruned, 2, "the redundant re-entry into the outer catch should be dropped")
	assert.NotContains(t, pruned, redundant)
	assert.Contains(t, pruned, outer)
	assert.Contains(t, pruned, innerFinally)
}

func TestPruneHandlersIsIdempotent(t *testing.T) {
	tryStart := &ir.Instruction{Offset: 0, EndOffset: 1, OpCode: ir.OpNop}
	tryEnd := &ir.Instruction{Offset: 1, EndOffset: 2, OpCode: ir.OpNop}
	handlerStart := &ir.Instruction{Offset: 2, EndOffset: 3, OpCode: ir.OpNop}
	handlerEnd := &ir.Instruction{Offset: 3, EndOffset: 4, OpCode: ir.OpReturn}
	chain(tryStart, tryEnd, handlerStart, handlerEnd)

	h := &ir.ExceptionHandler{
		Kind:         ir.Catch,
		TryBlock:     ir.ExceptionBlock{First: tryStart, Last: tryEnd},
		HandlerBlock: ir.ExceptionBlock{First: handlerStart, Last: handlerEnd},
		CatchType:    "java/lang/Exception",
	}

	ctx := testCtx()
	once := PruneHandlers(ctx, []*ir.ExceptionHandler{h})
	twice := PruneHandlers(ctx, once)

	require.Len(t, once, 1)
	require.Len(t, twice, 1)
	assert.Equal(t, once[0].TryBlock, twice[0].TryBlock)
	assert.Equal(t, once[0].HandlerBlock, twice[0].HandlerBlock)
}
