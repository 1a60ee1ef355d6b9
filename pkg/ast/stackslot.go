package ast

import (
	mapset "github.com/deckarep/golang-set/v2"

	"github.com/daimatz/godecompiler/pkg/ir"
)

// ByteCodeSet is the set of producing/reaching ByteCodes a StackSlot or
// VariableSlot tracks (§3: "Never null definitions; set semantics by
// instruction identity"). golang-set/v2 gives genuine set semantics keyed
// on the *ByteCode pointer identity, replacing the hand-rolled array-union
// helper the original Java uses (SPEC_FULL §5B).
type ByteCodeSet = mapset.Set[*ByteCode]

func newByteCodeSet(seed ...*ByteCode) ByteCodeSet {
	s := mapset.NewThreadUnsafeSet[*ByteCode]()
	for _, b := range seed {
		s.Add(b)
	}
	return s
}

// StackSlot is one operand-stack entry during abstract interpretation
// (§3): the abstract value, the set of ByteCodes that may have produced
// it (never nil), and an optional back-reference to the Variable the
// rewriter decided to load it from.
type StackSlot struct {
	Value       ir.FrameValue
	Definitions ByteCodeSet
	LoadFrom    *ir.Variable

	// InlineFrom is set instead of LoadFrom when this slot's sole
	// definition reaches exactly one use (§2 "coalesces temporaries when a
	// single definition reaches a single use"): rather than materializing
	// a temporary, the assembler splices the producer's own expression
	// tree directly in as the argument.
	InlineFrom *ByteCode
}

func newStackSlot(value ir.FrameValue, def *ByteCode) *StackSlot {
	return &StackSlot{Value: value, Definitions: newByteCodeSet(def)}
}

func (s *StackSlot) clone() *StackSlot {
	return &StackSlot{Value: s.Value, Definitions: s.Definitions.Clone(), LoadFrom: s.LoadFrom, InlineFrom: s.InlineFrom}
}

// VariableSlot is one local-variable-table entry during abstract
// interpretation (§3): the abstract value and the set of defining
// ByteCodes (stores, or the method entry for parameters).
type VariableSlot struct {
	Value       ir.FrameValue
	Definitions ByteCodeSet
}

func newVariableSlot(value ir.FrameValue, def *ByteCode) *VariableSlot {
	return &VariableSlot{Value: value, Definitions: newByteCodeSet(def)}
}

func (s *VariableSlot) clone() *VariableSlot {
	return &VariableSlot{Value: s.Value, Definitions: s.Definitions.Clone()}
}

// IsUninitialized reports whether this slot holds an object awaiting its
// constructor call (§3: "Uninitialized iff value ∈ {Uninitialized,
// UninitializedThis}").
func (s *VariableSlot) IsUninitialized() bool {
	return s.Value.Kind == ir.Uninitialized || s.Value.Kind == ir.UninitializedThis
}
