package ast

import (
	"fmt"

	"github.com/daimatz/godecompiler/pkg/decompctx"
	"github.com/daimatz/godecompiler/pkg/ir"
)

// RewriteStack eliminates the operand stack (§4.6). A slot whose sole
// definition reaches exactly one use is not materialized as a variable at
// all: its producer's expression tree is spliced directly into the
// consumer (§2's "coalesces temporaries when a single definition reaches a
// single use"). Every other slot — a genuine control-flow merge of
// multiple definitions, or a single definition fed to more than one use
// (e.g. a DUP'd reference) — gets a real temporary, wired onto every
// consumer's loadFrom and the producer's storeTo. This is the mechanism by
// which DUP/SWAP, already erased from the stack-slot lists by the Stack
// Analyzer's definitions-copying rule, end up erased from the emitted AST
// too (§8 invariant 6).
func RewriteStack(ctx *decompctx.Context, a *arena) {
	useCount := map[*ByteCode]int{}
	for _, bc := range a.order {
		for _, slot := range consumedSlots(bc) {
			if defs := slot.Definitions.ToSlice(); len(defs) == 1 {
				useCount[defs[0]]++
			}
		}
	}

	producerTemps := map[*ByteCode][]*ir.Variable{}

	for _, bc := range a.order {
		for _, slot := range consumedSlots(bc) {
			if slot.LoadFrom != nil || slot.InlineFrom != nil {
				continue // already wired (shared producer seen from an earlier consumer)
			}
			defs := slot.Definitions.ToSlice()
			if len(defs) == 0 {
				continue
			}
			// A producer that is itself a branch target keeps its own
			// temporary rather than being inlined: something may jump
			// straight to it, and a visible statement anchors that.
			if len(defs) == 1 && useCount[defs[0]] == 1 && defs[0].Label == nil {
				slot.InlineFrom = defs[0]
				continue
			}
			v := tempForProducers(producerTemps, defs, slot.Value)
			slot.LoadFrom = v
		}
	}
	coalesce(ctx, producerTemps)
}

func consumedSlots(bc *ByteCode) []*StackSlot {
	pop := bc.PopCount
	if pop == 0 {
		return nil
	}
	if pop > len(bc.StackBefore) {
		pop = len(bc.StackBefore)
	}
	return bc.StackBefore[len(bc.StackBefore)-pop:]
}

// tempForProducers returns the shared temporary standing for a reaching-
// definition set. For a sole producer it is a `stack_%02X_%d` reused on
// every later slot with the same producer and type. A multi-definition set
// gets a fresh temporary on every call, recorded against each producer in
// the set.
func tempForProducers(producerTemps map[*ByteCode][]*ir.Variable, defs []*ByteCode, value ir.FrameValue) *ir.Variable {
	if len(defs) == 1 {
		bc := defs[0]
		existing := producerTemps[bc]
		for _, v := range existing {
			if v.Type == typeNameFor(value) {
				return v
			}
		}
		v := &ir.Variable{
			Name:      fmt.Sprintf("stack_%02X_%d", bc.Inst.Offset, len(existing)),
			Type:      typeNameFor(value),
			Origin:    ir.OriginGenerated,
			Generated: true,
		}
		producerTemps[bc] = append(existing, v)
		return v
	}
	// Multiple reaching defs (a join point): synthesize one shared
	// temporary keyed off the first def's offset; every producer in the
	// set is recorded against it so later loads resolve consistently.
	bc := defs[0]
	v := &ir.Variable{
		Name:      fmt.Sprintf("stack_%02X_%d", bc.Inst.Offset, len(producerTemps[bc])),
		Type:      typeNameFor(value),
		Origin:    ir.OriginGenerated,
		Generated: true,
	}
	for _, d := range defs {
		producerTemps[d] = append(producerTemps[d], v)
	}
	return v
}

func typeNameFor(v ir.FrameValue) string {
	switch v.Kind {
	case ir.Integer:
		return "I"
	case ir.Float:
		return "F"
	case ir.Long:
		return "J"
	case ir.Double:
		return "D"
	case ir.Null:
		return "java/lang/Object"
	case ir.Reference:
		return v.Type
	default:
		return "java/lang/Object"
	}
}

// coalesce implements §4.6's "Coalescing": when a producer's storeTo has
// more than one temporary and eligibleForCoalesce accepts them (all of one
// type), collapse the set into a single `expr_XX`.
func coalesce(ctx *decompctx.Context, producerTemps map[*ByteCode][]*ir.Variable) {
	for bc, temps := range producerTemps {
		if len(temps) <= 1 {
			bc.StoreTo = temps
			continue
		}
		if !eligibleForCoalesce(bc, temps) {
			bc.StoreTo = temps
			continue
		}
		shared := &ir.Variable{
			Name:      fmt.Sprintf("expr_%02X", bc.Inst.Offset),
			Type:      temps[0].Type,
			Origin:    ir.OriginGenerated,
			Generated: true,
		}
		ctx.Log.Debug().Int("at", bc.Inst.Offset).Msg("rewriter: coalescing dup temporaries")
		bc.StoreTo = []*ir.Variable{shared}
		for i := range temps {
			*temps[i] = *shared
		}
	}
}

// eligibleForCoalesce checks only that every temporary has the same type.
// It does not check how many sites load each temporary (a sole-producer
// temporary is shared by every consumer of that producer and type, as
// with a dup'd value) or whether a temporary is also recorded against
// other producers (a join-point temporary is).
func eligibleForCoalesce(bc *ByteCode, temps []*ir.Variable) bool {
	_ = bc
	if len(temps) == 0 {
		return false
	}
	t0 := temps[0].Type
	for _, t := range temps[1:] {
		if t.Type != t0 {
			return false
		}
	}
	return true
}
