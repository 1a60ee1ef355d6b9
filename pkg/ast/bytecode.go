// Package ast implements the AST-builder half of the core (spec.md §4.4–
// §4.8): Handler Pruner, Stack Analyzer, Stack-to-Variable Rewriter, Local
// Variable Splitter, and AST Assembler. It consumes the decoder's linear
// Instruction list and the cfg/verifier external collaborators and
// produces a tree of Nodes.
package ast

import "github.com/daimatz/godecompiler/pkg/ir"

// ByteCode is the mutable per-instruction analysis working record (§3): a
// pointer to the decoded Instruction, cached opcode/operand, pop/push
// arities, doubly linked neighbors (relinked by the Stack Analyzer after it
// drops unreachable records, independently of the Instruction list
// underneath), and the stackBefore/variablesBefore state that analysis
// fills in.
//
// ByteCodes are allocated in an arena keyed by their originating
// Instruction and kept in instruction order (§9 Design Notes).
type ByteCode struct {
	Index int // position in the arena's original order; -1 for a phantom exception value. Sets key on the *ByteCode pointer, not on Index.

	Inst             *ir.Instruction
	OpCode           ir.Opcode
	Operand          any
	SecondaryOperand any

	PopCount, PushCount int

	// IsExceptionValue marks a phantom ByteCode standing for a handler's
	// implicit caught-exception push (§4.5 "Initial state" for a handler
	// entry): it has no real Instruction of its own to execute, only an
	// Inst borrowed for offset bookkeeping and an Operand carrying the
	// catch type. It is never added to an arena's order — only ever
	// referenced as a StackSlot.Definitions/InlineFrom target.
	IsExceptionValue bool

	Label *ir.Label

	Prev, Next *ByteCode

	// StackBefore/VariablesBefore are nil prior to analysis; a non-nil
	// StackBefore marks the record reachable (§3 invariant 1).
	StackBefore     []*StackSlot
	VariablesBefore []*VariableSlot

	// StoreTo is populated by the rewriter (§4.6): the temporaries this
	// ByteCode's result is written into, one per slot it pushes.
	StoreTo []*ir.Variable
}

func (b *ByteCode) String() string {
	if b == nil {
		return "<nil>"
	}
	return b.Inst.String()
}

// Reachable reports whether analysis assigned this ByteCode a stack state.
func (b *ByteCode) Reachable() bool { return b.StackBefore != nil }

// arena builds the ByteCode working-record list from a decoded Instruction
// chain, one ByteCode per Instruction, preserving order and linking.
type arena struct {
	byInst map[*ir.Instruction]*ByteCode
	order  []*ByteCode
}

func buildArena(first *ir.Instruction) *arena {
	a := &arena{byInst: make(map[*ir.Instruction]*ByteCode)}
	idx := 0
	var prev *ByteCode
	for i := first; i != nil; i = i.Next {
		bc := &ByteCode{Index: idx, Inst: i, OpCode: i.OpCode, Operand: i.Operand, Label: i.Label}
		idx++
		a.byInst[i] = bc
		a.order = append(a.order, bc)
		if prev != nil {
			prev.Next = bc
			bc.Prev = prev
		}
		prev = bc
	}
	return a
}

func (a *arena) first() *ByteCode {
	if len(a.order) == 0 {
		return nil
	}
	return a.order[0]
}

func (a *arena) at(i *ir.Instruction) *ByteCode { return a.byInst[i] }
