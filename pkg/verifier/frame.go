// Package verifier is a pragmatic StackMappingVisitor (§6): a type-level
// abstract interpreter over decoded instructions that yields, per
// instruction, the operand stack just before it executes and an
// initialization map recording which `new` sites have had their
// constructor run by a given point. No reference source ships this
// collaborator (it sits behind the core's §6 interface only), so this is
// a self-contained implementation rather than a port.
package verifier

import "github.com/daimatz/godecompiler/pkg/ir"

// state is one instruction's abstract machine state: the operand stack
// plus the local variable slots, both as FrameValue sequences.
type state struct {
	stack  []ir.FrameValue
	locals []ir.FrameValue
}

// clone keeps both slices non-nil, so a state that has been reached (even
// with an empty stack and no locals) is never mistaken by merge for the
// zero state of an instruction not reached yet.
func (s state) clone() state {
	return state{stack: append([]ir.FrameValue{}, s.stack...), locals: append([]ir.FrameValue{}, s.locals...)}
}

// merge combines two states reaching the same join point, widening
// mismatches to Top the way a real verifier does, and reports whether the
// result differs from prev (so the fixed-point loop knows to keep
// iterating). changed is always computed from the actual merged content,
// never from a raw length comparison, so convergence is guaranteed even
// when two predecessors disagree on depth (which a well-formed method
// body never does, but a malformed one might).
func merge(prev, incoming state) (state, bool) {
	if prev.stack == nil && prev.locals == nil {
		return incoming.clone(), true
	}
	stack, stackChanged := mergeSlice(prev.stack, incoming.stack)
	locals, localsChanged := mergeSlice(prev.locals, incoming.locals)
	return state{stack: stack, locals: locals}, stackChanged || localsChanged
}

// mergeSlice widens to the longer of the two inputs (missing slots on
// either side read as Top) and reports whether the result differs from a.
func mergeSlice(a, b []ir.FrameValue) ([]ir.FrameValue, bool) {
	n := len(a)
	if len(b) > n {
		n = len(b)
	}
	out := make([]ir.FrameValue, n)
	changed := n != len(a)
	for i := 0; i < n; i++ {
		var av, bv ir.FrameValue
		if i < len(a) {
			av = a[i]
		}
		if i < len(b) {
			bv = b[i]
		}
		merged, _ := mergeValue(av, bv)
		out[i] = merged
		if merged != av {
			changed = true
		}
	}
	return out, changed
}

func mergeValue(a, b ir.FrameValue) (ir.FrameValue, bool) {
	if a == b {
		return a, false
	}
	if a.Kind == ir.Top && b.Kind == ir.Top {
		return a, false
	}
	// An uninitialized value merged with anything but an identical
	// uninitialized value collapses to Top: the verifier can no longer say
	// what's live there.
	return ir.FrameValue{Kind: ir.Top}, true
}
