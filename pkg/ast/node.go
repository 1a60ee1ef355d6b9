package ast

import "github.com/daimatz/godecompiler/pkg/ir"

// AstCode is the Expression "verb" (§3). For anything that already exists
// as a bytecode opcode (arithmetic, field/method access, branches,
// returns, new/cast/instanceof, ...) AstCode is just that ir.Opcode; the
// synthetic codes below extend the range past the last real opcode value
// for the handful of AST-only operations the builder introduces (Load a
// Variable, Store into one, the implicit per-handler LoadException, and
// the structured-exit marker Leave).
type AstCode int

const (
	synthenticBase AstCode = 0x1000 + iota
	AstCodeLoad
	AstCodeStore
	AstCodeLoadException
	AstCodeLeave
)

// FromOpcode lifts a decoded opcode into the AstCode space unchanged.
func FromOpcode(op ir.Opcode) AstCode { return AstCode(op) }

func (c AstCode) String() string {
	switch c {
	case AstCodeLoad:
		return "Load"
	case AstCodeStore:
		return "Store"
	case AstCodeLoadException:
		return "LoadException"
	case AstCodeLeave:
		return "Leave"
	}
	if c < synthenticBase {
		return ir.Opcode(c).String()
	}
	return "AstCode(?)"
}

// Range is a source-offset span a generated Expression traces back to
// (§3, §8 invariant 8: monotone, start < end ≤ codeSize).
type Range struct {
	Start, End int
}

// NodeKind tags the AST variant (§3, §9 "abstract variant types").
type NodeKind int

const (
	NodeLabel NodeKind = iota
	NodeExpression
	NodeBlock
	NodeTryCatchBlock
)

// Node is the tagged-variant AST node (§3, §9): Label, Expression, Block,
// or TryCatchBlock, distinguished by Kind with only the fields relevant to
// that kind populated. Pattern-matching on Kind replaces virtual dispatch.
type Node struct {
	Kind NodeKind

	// NodeLabel
	Label *ir.Label

	// NodeExpression
	Code      AstCode
	Operand   any
	Arguments []*Node
	Ranges    []Range

	// NodeBlock
	Body []*Node

	// NodeTryCatchBlock
	TryBlock     *Node // always a Block
	CatchBlocks  []*CatchBlock
	FinallyBlock *Node // Block, nil if none
}

// CatchBlock is one catch clause of a TryCatchBlock (§3).
type CatchBlock struct {
	Body            *Node // Block
	CaughtTypes     []string
	ExceptionType   string // common supertype across CaughtTypes when multi-catch
	ExceptionVariable *ir.Variable // nil when the handler never needs one
}

func label(l *ir.Label) *Node { return &Node{Kind: NodeLabel, Label: l} }

func block(body []*Node) *Node { return &Node{Kind: NodeBlock, Body: body} }

func expr(code AstCode, operand any, ranges []Range, args ...*Node) *Node {
	return &Node{Kind: NodeExpression, Code: code, Operand: operand, Ranges: ranges, Arguments: args}
}

func loadExpr(v *ir.Variable) *Node {
	return &Node{Kind: NodeExpression, Code: AstCodeLoad, Operand: v}
}

func storeExpr(v *ir.Variable, value *Node) *Node {
	return &Node{Kind: NodeExpression, Code: AstCodeStore, Operand: v, Arguments: []*Node{value}}
}
