package cfg

import "github.com/daimatz/godecompiler/pkg/ir"

// Build constructs a Graph over the instruction list headed by first,
// with exception edges installed from handlers (catch/finally blocks'
// first instruction becomes a CatchHandler/FinallyHandler node, reachable
// from every instruction inside the corresponding try range). Mirrors
// §4.3 step 1 ("Build a CFG over the decoded instructions") plus, for the
// handler-end search, the exception edges the original's
// ControlFlowGraphBuilder installs so handler bodies are part of the
// graph at all.
func Build(first *ir.Instruction, handlers []*ir.ExceptionHandler) *Graph {
	g := &Graph{byStart: make(map[*ir.Instruction]*Node)}
	g.Entry = &Node{Kind: EntryPoint, DominanceFrontier: map[*Node]bool{}}
	g.RegularExit = &Node{Kind: RegularExit, DominanceFrontier: map[*Node]bool{}}
	g.ExceptionalExit = &Node{Kind: ExceptionalExit, DominanceFrontier: map[*Node]bool{}}
	g.Nodes = append(g.Nodes, g.Entry, g.RegularExit, g.ExceptionalExit)

	if first == nil {
		g.Entry.Successors = []*Node{g.RegularExit}
		g.RegularExit.Predecessors = []*Node{g.Entry}
		return g
	}

	leaders := map[*ir.Instruction]bool{first: true}
	for i := first; i != nil; i = i.Next {
		if target, ok := branchTarget(i); ok {
			leaders[target] = true
		}
		for _, t := range switchTargets(i) {
			leaders[t] = true
		}
		if isBranch(i) && i.Next != nil {
			leaders[i.Next] = true
		}
	}
	for _, h := range handlers {
		if h.HandlerBlock.First != nil {
			leaders[h.HandlerBlock.First] = true
		}
		if h.TryBlock.First != nil {
			leaders[h.TryBlock.First] = true
		}
	}

	// Build blocks in instruction order.
	var blockStarts []*ir.Instruction
	for i := first; i != nil; i = i.Next {
		if leaders[i] {
			blockStarts = append(blockStarts, i)
		}
	}
	for idx, start := range blockStarts {
		var end *ir.Instruction
		for i := start; i != nil; i = i.Next {
			end = i
			if i.Next == nil || leaders[i.Next] {
				break
			}
		}
		kind := Normal
		for _, h := range handlers {
			if h.HandlerBlock.First == start {
				if h.IsFinally() {
					kind = FinallyHandler
				} else {
					kind = CatchHandler
				}
			}
		}
		n := &Node{Kind: kind, Start: start, End: end, DominanceFrontier: map[*Node]bool{}}
		g.Nodes = append(g.Nodes, n)
		g.byStart[start] = n
		_ = idx
	}

	link := func(a, b *Node) {
		a.Successors = append(a.Successors, b)
		b.Predecessors = append(b.Predecessors, a)
	}

	link(g.Entry, g.byStart[first])

	for _, start := range blockStarts {
		n := g.byStart[start]
		last := n.End
		target, hasTarget := branchTarget(last)
		targets := switchTargets(last)

		switch {
		case hasTarget && isUnconditionalBranch(last):
			link(n, g.byStart[target])
		case hasTarget:
			link(n, g.byStart[target])
			if last.Next != nil {
				link(n, g.byStart[last.Next])
			}
		case len(targets) > 0:
			for _, t := range targets {
				link(n, g.byStart[t])
			}
		case last.OpCode.IsUnconditionalControl():
			if last.OpCode == ir.OpAthrow {
				link(n, g.ExceptionalExit)
			} else {
				link(n, g.RegularExit)
			}
		default:
			if last.Next != nil {
				link(n, g.byStart[last.Next])
			} else {
				link(n, g.RegularExit)
			}
		}
	}

	// Exception edges: every block wholly inside a try range can transfer
	// to its handler.
	for _, h := range handlers {
		handlerNode := g.byStart[h.HandlerBlock.First]
		if handlerNode == nil {
			continue
		}
		for _, start := range blockStarts {
			n := g.byStart[start]
			if n.Start.Offset >= h.TryBlock.First.Offset && n.Start.Offset < h.TryBlock.Last.EndOffset {
				link(n, handlerNode)
			}
		}
	}

	computeDominance(g)
	computeDominanceFrontier(g)
	return g
}

func isBranch(i *ir.Instruction) bool {
	_, ok := branchTarget(i)
	return ok || len(switchTargets(i)) > 0 || i.OpCode.IsUnconditionalControl()
}

func isUnconditionalBranch(i *ir.Instruction) bool {
	return i.OpCode == ir.OpGoto || i.OpCode == ir.OpGotoW
}

func branchTarget(i *ir.Instruction) (*ir.Instruction, bool) {
	if i == nil {
		return nil, false
	}
	if t, ok := i.Operand.(*ir.Instruction); ok {
		return t, true
	}
	return nil, false
}

func switchTargets(i *ir.Instruction) []*ir.Instruction {
	if i == nil {
		return nil
	}
	if sw, ok := i.Operand.(*ir.SwitchInfo); ok {
		targets := append([]*ir.Instruction{sw.Default}, sw.Targets...)
		return targets
	}
	return nil
}
