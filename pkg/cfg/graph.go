// Package cfg is a minimal control-flow graph builder with dominance and
// dominance-frontier computation: one of the external collaborators §6
// specifies only through its interface. No reference implementation ships
// in original_source/ (MethodReader.java and AstBuilder.java both consume
// a CFG, neither builds one), so this is a pragmatic, self-contained
// implementation rather than something ported from a grounding source.
package cfg

import "github.com/daimatz/godecompiler/pkg/ir"

// NodeKind tags a cfg Node's role (§6).
type NodeKind int

const (
	Normal NodeKind = iota
	EntryPoint
	RegularExit
	ExceptionalExit
	CatchHandler
	FinallyHandler
	EndFinally
)

// Node is a basic block: a maximal run of instructions with one entry and
// one (fall-through/branch) exit, plus the dominance info computed over
// the graph it belongs to.
type Node struct {
	Kind       NodeKind
	Start, End *ir.Instruction // End is inclusive, nil for entry/exit pseudo-nodes

	Successors   []*Node
	Predecessors []*Node

	Dominator         *Node
	DominanceFrontier map[*Node]bool
}

// Graph is a built control-flow graph over one method body's instructions.
type Graph struct {
	Entry           *Node
	RegularExit     *Node
	ExceptionalExit *Node
	Nodes           []*Node

	// byStart maps a block-leader instruction to its Node.
	byStart map[*ir.Instruction]*Node
}

// NodeAt returns the Node whose range contains inst, or nil.
func (g *Graph) NodeAt(inst *ir.Instruction) *Node {
	if n, ok := g.byStart[inst]; ok {
		return n
	}
	for _, n := range g.Nodes {
		if n.Start == nil {
			continue
		}
		for i := n.Start; i != nil; i = i.Next {
			if i == inst {
				return n
			}
			if i == n.End {
				break
			}
		}
	}
	return nil
}

// Dominates reports whether a dominates b (reflexive: a node dominates itself).
func (a *Node) Dominates(b *Node) bool {
	for n := b; n != nil; n = n.Dominator {
		if n == a {
			return true
		}
		if n.Dominator == n {
			break
		}
	}
	return false
}
