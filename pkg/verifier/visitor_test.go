package verifier

import (
	"testing"

	"github.com/daimatz/godecompiler/pkg/ir"
)

// chain links instructions in offset order for a minimal straight-line body.
func chain(insts ...*ir.Instruction) *ir.Instruction {
	for i := 0; i < len(insts)-1; i++ {
		insts[i].Next = insts[i+1]
		insts[i+1].Prev = insts[i]
	}
	return insts[0]
}

func TestVisitorStraightLineAdd(t *testing.T) {
	// iload_0, iload_1, iadd, ireturn
	iload0 := &ir.Instruction{Offset: 0, OpCode: ir.OpIload0}
	iload1 := &ir.Instruction{Offset: 1, OpCode: ir.OpIload1}
	iadd := &ir.Instruction{Offset: 2, OpCode: ir.OpIadd}
	ireturn := &ir.Instruction{Offset: 3, OpCode: ir.OpIreturn}
	first := chain(iload0, iload1, iadd, ireturn)

	res, err := New().Run(first, []ir.FrameValue{{Kind: ir.Integer}, {Kind: ir.Integer}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.PostStack[iload0]) != 1 || res.PostStack[iload0][0].Kind != ir.Integer {
		t.Errorf("post-stack after iload_0 = %v, want [Integer]", res.PostStack[iload0])
	}
	if len(res.PostStack[iload1]) != 2 {
		t.Errorf("post-stack after iload_1 = %v, want 2 entries", res.PostStack[iload1])
	}
	if len(res.PreStack[iadd]) != 2 {
		t.Errorf("pre-stack at iadd = %v, want 2 entries", res.PreStack[iadd])
	}
	if len(res.PostStack[iadd]) != 1 || res.PostStack[iadd][0].Kind != ir.Integer {
		t.Errorf("post-stack after iadd = %v, want [Integer]", res.PostStack[iadd])
	}
	if len(res.PreStack[ireturn]) != 1 {
		t.Errorf("pre-stack at ireturn = %v, want 1 entry", res.PreStack[ireturn])
	}
}

func TestVisitorForwardBranchMerge(t *testing.T) {
	// iconst_0
	// ifeq -> L1
	// iconst_1
	// goto L2
	// L1: iconst_2
	// L2: ireturn
	//
	// Both edges reach the merge point with exactly one Integer on the
	// stack, matching the depth every verifiable join point requires.
	iconst0 := &ir.Instruction{Offset: 0, OpCode: ir.OpIconst0}
	ifeq := &ir.Instruction{Offset: 1, OpCode: ir.OpIfeq}
	iconst1 := &ir.Instruction{Offset: 2, OpCode: ir.OpIconst1}
	gotoL2 := &ir.Instruction{Offset: 3, OpCode: ir.OpGoto}
	iconst2 := &ir.Instruction{Offset: 4, OpCode: ir.OpIconst2}
	target := &ir.Instruction{Offset: 5, OpCode: ir.OpIreturn}
	first := chain(iconst0, ifeq, iconst1, gotoL2, iconst2, target)
	ifeq.Operand = iconst2
	gotoL2.Operand = target

	res, err := New().Run(first, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(res.PreStack[target]) != 1 || res.PreStack[target][0].Kind != ir.Integer {
		t.Errorf("pre-stack at merge target = %v, want [Integer]", res.PreStack[target])
	}
}

func TestVisitorTracksNewInitialization(t *testing.T) {
	// new Foo; dup; invokespecial Foo.<init>()V; astore_0
	newInst := &ir.Instruction{Offset: 0, OpCode: ir.OpNew, Operand: &ir.TypeOperand{TypeName: "Foo"}}
	dup := &ir.Instruction{Offset: 1, OpCode: ir.OpDup}
	initCall := &ir.Instruction{Offset: 2, OpCode: ir.OpInvokespecial, Operand: &ir.MethodOperand{ClassName: "Foo", MethodName: "<init>", Descriptor: "()V"}}
	astore0 := &ir.Instruction{Offset: 3, OpCode: ir.OpAstore0}
	first := chain(newInst, dup, initCall, astore0)

	res, err := New().Run(first, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	typeName, ok := res.Initializations[newInst]
	if !ok {
		t.Fatalf("expected %v to be recorded as initialized", newInst)
	}
	if typeName != "Foo" {
		t.Errorf("initialized type = %q, want Foo", typeName)
	}

	if len(res.PostStack[initCall]) != 1 || res.PostStack[initCall][0].Kind != ir.Uninitialized {
		t.Errorf("post-stack after <init> = %v, want the remaining duplicated Uninitialized(new) entry", res.PostStack[initCall])
	}
}
