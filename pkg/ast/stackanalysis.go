package ast

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/daimatz/godecompiler/pkg/cfg"
	"github.com/daimatz/godecompiler/pkg/decompctx"
	"github.com/daimatz/godecompiler/pkg/ir"
	"github.com/daimatz/godecompiler/pkg/verifier"
)

// analysisState is the fixed-point worklist's view of one ByteCode: its
// arrived stack/variable slots, filled in as predecessors contribute.
type analysisState struct {
	stack     []*StackSlot
	variables []*VariableSlot
}

// AnalyzeStack runs the Stack Analyzer (§4.5): a fixed-point worklist
// propagating StackSlot/VariableSlot state, consulting the external
// verifier for per-instruction types and initialization, over the
// ByteCode arena built for a pruned handler list. It mutates each
// reachable ByteCode's StackBefore/VariablesBefore and drops unreachable
// ones from the returned arena.
func AnalyzeStack(ctx *decompctx.Context, first *ir.Instruction, handlers []*ir.ExceptionHandler, parameterSlots []ir.FrameValue, isConstructor bool) (*arena, error) {
	a := buildArena(first)
	if a.first() == nil {
		return a, nil
	}

	g := cfg.Build(first, handlers)

	v := verifier.New()
	initialLocals := append([]ir.FrameValue(nil), parameterSlots...)
	if isConstructor && len(initialLocals) > 0 {
		initialLocals[0] = ir.FrameValue{Kind: ir.UninitializedThis}
	}
	verified, err := v.Run(first, initialLocals)
	if err != nil {
		return nil, errors.Wrap(err, "stack analysis: running verifier")
	}

	states := make(map[*ByteCode]*analysisState, len(a.order))

	// Seed the entry ByteCode.
	entry := a.first()
	states[entry] = &analysisState{
		stack:     nil,
		variables: seedVariables(initialLocals, entry),
	}

	// Seed each handler's first ByteCode with the implicit LoadException
	// push and an all-unknown variable table (§4.5 "Initial state").
	for _, hd := range handlers {
		hbc := a.at(hd.HandlerBlock.First)
		if hbc == nil || states[hbc] != nil {
			continue
		}
		catchType := hd.CatchType
		if catchType == "" {
			catchType = "java/lang/Throwable"
		}
		// The implicit push needs its own producer identity distinct from
		// hbc (the real instruction that then consumes it, typically an
		// astore): aliasing the two would make hbc its own reaching
		// definition once the rewriter starts asking "does this producer
		// have exactly one use" about it.
		phantom := &ByteCode{Index: -1, Inst: hd.HandlerBlock.First, IsExceptionValue: true, Operand: catchType}
		loadExc := newStackSlot(ir.FrameValue{Kind: ir.Reference, Type: catchType}, phantom)
		states[hbc] = &analysisState{
			stack:     []*StackSlot{loadExc},
			variables: allUnknownVariables(len(initialLocals)),
		}
	}

	worklist := make([]*ByteCode, 0, len(a.order))
	queued := map[*ByteCode]bool{}
	push := func(bc *ByteCode) {
		if !queued[bc] {
			queued[bc] = true
			worklist = append(worklist, bc)
		}
	}
	for bc := range states {
		push(bc)
	}

	for len(worklist) > 0 {
		bc := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		queued[bc] = false

		st := states[bc]
		bc.StackBefore = st.stack
		bc.VariablesBefore = st.variables

		newStack, err := stepStack(bc, st.stack, verified)
		if err != nil {
			return nil, errors.Wrapf(err, "stack analysis at offset %#x", bc.Inst.Offset)
		}
		newVariables := stepVariables(bc, st.variables, verified)

		for _, succ := range successorByteCodes(bc, a, g) {
			if states[succ] == nil {
				states[succ] = &analysisState{
					stack:     cloneStackSlots(newStack),
					variables: cloneVariableSlots(newVariables),
				}
				ctx.Log.Debug().Int("at", succ.Inst.Offset).Msg("stack analyzer: first visit")
				push(succ)
				continue
			}
			mergedStack, stackChanged, err := mergeStacks(states[succ].stack, newStack)
			if err != nil {
				return nil, errors.Wrapf(err, "stack analysis merging into offset %#x", succ.Inst.Offset)
			}
			mergedVars, varsChanged := mergeVariables(states[succ].variables, newVariables)
			if stackChanged || varsChanged {
				states[succ].stack = mergedStack
				states[succ].variables = mergedVars
				push(succ)
			}
		}
	}

	// Post-pass: drop unreachable ByteCodes (§4.5 post-pass).
	var reachable []*ByteCode
	for _, bc := range a.order {
		if bc.Reachable() || bc.StackBefore != nil {
			reachable = append(reachable, bc)
		} else {
			ctx.Log.Warn().Int("at", bc.Inst.Offset).Msg("stack analyzer: dropping unreachable instruction")
		}
	}
	relink(reachable)
	a.order = reachable
	return a, nil
}

func seedVariables(locals []ir.FrameValue, def *ByteCode) []*VariableSlot {
	vars := make([]*VariableSlot, len(locals))
	for i, v := range locals {
		vars[i] = newVariableSlot(v, def)
	}
	return vars
}

func allUnknownVariables(n int) []*VariableSlot {
	vars := make([]*VariableSlot, n)
	for i := range vars {
		vars[i] = &VariableSlot{Value: ir.FrameValue{Kind: ir.Top}, Definitions: newByteCodeSet()}
	}
	return vars
}

// stepStack computes the post-step stack (§4.5 "Step"): dup/swap
// rearrange existing slots (carrying over their definitions verbatim so
// the rewriter can later erase the dup/swap itself); everything else pops
// popCount slots and pushes pushCount fresh ones typed from the verifier.
func stepStack(bc *ByteCode, pre []*StackSlot, verified *verifier.Result) ([]*StackSlot, error) {
	switch bc.OpCode {
	case ir.OpDup:
		return dupInsert(pre, 1, 0)
	case ir.OpDupX1:
		return dupInsert(pre, 1, 1)
	case ir.OpDupX2:
		return dupInsert(pre, 1, 2)
	case ir.OpDup2:
		return dupInsert(pre, 2, 0)
	case ir.OpDup2X1:
		return dupInsert(pre, 2, 1)
	case ir.OpDup2X2:
		return dupInsert(pre, 2, 2)
	case ir.OpSwap:
		if len(pre) < 2 {
			return nil, fmt.Errorf("swap needs 2 stack slots, have %d", len(pre))
		}
		out := cloneStackSlots(pre)
		n := len(out)
		out[n-1], out[n-2] = out[n-2], out[n-1]
		return out, nil
	}

	verifierPre := verified.PreStack[bc.Inst]
	verifierPost := verified.PostStack[bc.Inst]
	pop, push := deriveArity(verifierPre, verifierPost)
	bc.PopCount, bc.PushCount = pop, push
	if pop > len(pre) {
		return nil, fmt.Errorf("stack underflow popping %d with only %d present", pop, len(pre))
	}
	out := cloneStackSlots(pre[:len(pre)-pop])
	for i := 0; i < push; i++ {
		typ := ir.FrameValue{Kind: ir.Top}
		if idx := len(verifierPost) - push + i; idx >= 0 && idx < len(verifierPost) {
			typ = verifierPost[idx]
		}
		out = append(out, newStackSlot(typ, bc))
	}
	return out, nil
}

// deriveArity infers pop/push counts generically: the longest common
// prefix of pre/post is the part of the stack the instruction left alone;
// everything past it on pre was popped, everything past it on post was
// pushed. Valid for any instruction that doesn't reorder existing slots
// (i.e. everything except dup/swap, which are special-cased above).
func deriveArity(pre, post []ir.FrameValue) (pop, push int) {
	n := len(pre)
	if len(post) < n {
		n = len(post)
	}
	common := 0
	for common < n && pre[common] == post[common] {
		common++
	}
	return len(pre) - common, len(post) - common
}

func dupInsert(pre []*StackSlot, words, depth int) ([]*StackSlot, error) {
	if len(pre) < words+depth {
		return nil, fmt.Errorf("dup needs %d stack slots, have %d", words+depth, len(pre))
	}
	out := cloneStackSlots(pre)
	n := len(out)
	copies := make([]*StackSlot, words)
	for i := 0; i < words; i++ {
		copies[i] = out[n-words+i].clone()
	}
	insertAt := n - words - depth
	tail := append([]*StackSlot{}, out[insertAt:]...)
	out = append(out[:insertAt], copies...)
	out = append(out, tail...)
	return out, nil
}

// stepVariables computes the post-step variable table (§4.5): an
// Uninitialized(new) slot whose new-site has since been initialized
// becomes a concrete Reference; a store instruction overwrites its slot.
func stepVariables(bc *ByteCode, pre []*VariableSlot, verified *verifier.Result) []*VariableSlot {
	out := cloneVariableSlots(pre)
	for i, slot := range out {
		if slot.Value.Kind != ir.Uninitialized || slot.Value.AtInstruction == nil {
			continue
		}
		if typeName, ok := verified.Initializations[slot.Value.AtInstruction]; ok {
			out[i] = newVariableSlot(ir.FrameValue{Kind: ir.Reference, Type: typeName}, bc)
		}
	}

	if lo, ok := bc.Operand.(*ir.LocalOperand); ok && bc.OpCode.IsStore() {
		out = setStoreSlot(out, lo.Slot, bc.OpCode.IsWideTwoSlot(), bc, verified)
	} else if slot, _, isStore, ok2 := bc.OpCode.IsMacroLoadStore(); ok2 && isStore {
		out = setStoreSlot(out, slot, bc.OpCode.IsWideTwoSlot(), bc, verified)
	}
	return out
}

func setStoreSlot(vars []*VariableSlot, slot int, wide bool, bc *ByteCode, verified *verifier.Result) []*VariableSlot {
	for slot+1 >= len(vars) {
		vars = append(vars, &VariableSlot{Value: ir.FrameValue{Kind: ir.Top}, Definitions: newByteCodeSet()})
	}
	post := verified.PostStack[bc.Inst]
	typ := ir.FrameValue{Kind: ir.Top}
	if len(post) > 0 {
		typ = post[len(post)-1]
	}
	vars[slot] = newVariableSlot(typ, bc)
	if wide {
		vars[slot+1] = newVariableSlot(ir.FrameValue{Kind: ir.Top}, bc)
	}
	return vars
}

func cloneStackSlots(s []*StackSlot) []*StackSlot {
	out := make([]*StackSlot, len(s))
	for i, sl := range s {
		out[i] = sl.clone()
	}
	return out
}

func cloneVariableSlots(s []*VariableSlot) []*VariableSlot {
	out := make([]*VariableSlot, len(s))
	for i, sl := range s {
		out[i] = sl.clone()
	}
	return out
}

// mergeStacks implements §4.5's stack merge: lengths must match (a
// genuine mismatch is the structural error §3 calls out); per slot, union
// the definitions, reporting whether anything grew.
func mergeStacks(prev, incoming []*StackSlot) ([]*StackSlot, bool, error) {
	if prev == nil {
		return cloneStackSlots(incoming), true, nil
	}
	if len(prev) != len(incoming) {
		return nil, false, fmt.Errorf("inconsistent stack depth at join: %d vs %d", len(prev), len(incoming))
	}
	out := cloneStackSlots(prev)
	changed := false
	for i := range out {
		before := out[i].Definitions.Cardinality()
		out[i].Definitions = out[i].Definitions.Union(incoming[i].Definitions)
		if out[i].Definitions.Cardinality() != before {
			changed = true
		}
	}
	return out, changed, nil
}

// mergeVariables implements §4.5's variable merge: if the target was
// initialized and the incoming is uninitialized, the result regresses to
// uninitialized (control can reach here without having run the
// constructor); otherwise union definitions as with the stack.
func mergeVariables(prev, incoming []*VariableSlot) ([]*VariableSlot, bool) {
	if prev == nil {
		return cloneVariableSlots(incoming), true
	}
	n := len(prev)
	if len(incoming) > n {
		n = len(incoming)
	}
	out := make([]*VariableSlot, n)
	changed := n != len(prev)
	for i := 0; i < n; i++ {
		var p, inc *VariableSlot
		if i < len(prev) {
			p = prev[i]
		}
		if i < len(incoming) {
			inc = incoming[i]
		}
		switch {
		case p == nil:
			out[i] = inc.clone()
			changed = true
		case inc == nil:
			out[i] = p.clone()
		case !p.IsUninitialized() && inc.IsUninitialized():
			out[i] = &VariableSlot{Value: inc.Value, Definitions: p.Definitions.Union(inc.Definitions)}
			changed = true
		default:
			out[i] = p.clone()
			before := out[i].Definitions.Cardinality()
			out[i].Definitions = out[i].Definitions.Union(inc.Definitions)
			if out[i].Definitions.Cardinality() != before {
				changed = true
			}
		}
	}
	return out, changed
}

// successorByteCodes implements §4.5's merge-target rule: fall through to
// Next while inside a CFG block, otherwise follow the block's Normal-kind
// CFG successors only (exception edges to handler blocks are not
// propagated into — handlers get their own seeded LoadException state).
func successorByteCodes(bc *ByteCode, a *arena, g *cfg.Graph) []*ByteCode {
	node := g.NodeAt(bc.Inst)
	if node == nil || bc.Inst != node.End {
		if bc.Next != nil {
			return []*ByteCode{bc.Next}
		}
		return nil
	}
	var out []*ByteCode
	for _, succ := range node.Successors {
		if succ.Kind != cfg.Normal || succ.Start == nil {
			continue
		}
		if sbc := a.at(succ.Start); sbc != nil {
			out = append(out, sbc)
		}
	}
	return out
}

func relink(order []*ByteCode) {
	for i, bc := range order {
		if i > 0 {
			bc.Prev = order[i-1]
		} else {
			bc.Prev = nil
		}
		if i+1 < len(order) {
			bc.Next = order[i+1]
		} else {
			bc.Next = nil
		}
	}
}
