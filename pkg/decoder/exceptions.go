package decoder

import (
	"math"

	"github.com/daimatz/godecompiler/pkg/cfg"
	"github.com/daimatz/godecompiler/pkg/ir"
)

// handlerRange tracks one raw exception-table entry's reconstructed handler
// range while it's being widened by normalizeExceptionTable (§4.3).
type handlerRange struct {
	raw        ir.RawExceptionEntry
	rangeStart int
	rangeEnd   int
}

// normalizeExceptionTable reconstructs each raw exception-table entry's true
// handler end and try end from control flow, since neither is given
// directly by the class file (§4.3). Catch types are already resolved
// strings on the raw entries by the time they reach here.
func normalizeExceptionTable(first *ir.Instruction, byOffset map[int]*ir.Instruction, rawEntries []ir.RawExceptionEntry) ([]*ir.ExceptionHandler, error) {
	if first == nil || len(rawEntries) == 0 {
		return nil, nil
	}

	var bodyEnd *ir.Instruction
	for i := first; i != nil; i = i.Next {
		bodyEnd = i
	}

	entries := make([]*handlerRange, len(rawEntries))
	for i, e := range rawEntries {
		entries[i] = &handlerRange{raw: e, rangeStart: int(e.HandlerPC), rangeEnd: math.MaxInt}
	}

	// Step 1-2: CFG with no exception edges, dominance + dominance frontier
	// (computeDominance/computeDominanceFrontier run inside cfg.Build).
	g := cfg.Build(first, nil)

	nodeLookup := make(map[*ir.Instruction]*cfg.Node)
	for _, n := range g.Nodes {
		if n.Kind != cfg.Normal {
			continue
		}
		for i := n.Start; i != nil; i = i.Next {
			nodeLookup[i] = n
			if i == n.End {
				break
			}
		}
	}

	// A node is a dominator-tree leaf when no other node's immediate
	// dominator is it.
	isDominatorLeaf := func(n *cfg.Node) bool {
		for _, other := range g.Nodes {
			if other != n && other.Dominator == n {
				return false
			}
		}
		return true
	}

	findNearestHandler := func(entry *handlerRange) *handlerRange {
		nearest := entry
		for _, h := range entries {
			if h.raw.StartPC == entry.raw.StartPC && h.raw.EndPC == entry.raw.EndPC && h.rangeStart < nearest.rangeStart {
				nearest = h
			}
		}
		return nearest
	}

	var findHandlerEnd func(n, tryEnd *cfg.Node, visited map[*cfg.Node]bool) *cfg.Node
	findHandlerEnd = func(n, tryEnd *cfg.Node, visited map[*cfg.Node]bool) *cfg.Node {
		if visited[n] {
			return nil
		}
		visited[n] = true

		for _, succ := range n.Successors {
			if succ.Kind != cfg.Normal {
				continue
			}
			if tryEnd != nil && tryEnd.Dominates(succ) {
				continue
			}
			if !isDominatorLeaf(succ) {
				continue
			}
			if result := findHandlerEnd(succ, tryEnd, visited); result != nil {
				return result
			}
			if !succ.DominanceFrontier[g.RegularExit] {
				return succ
			}
		}
		return nil
	}

	for i, entry := range entries {
		minOffset := math.MaxInt

		// Step 5: locate tryEnd, with the trailing-GOTO-into-catch adjustment.
		var tryEnd *cfg.Node
		for _, n := range g.Nodes {
			if n.End == nil || n.End.Offset != int(entry.raw.EndPC) {
				continue
			}
			previousInstruction := n.Start.Prev
			nearest := findNearestHandler(entry)
			firstHandlerInstruction := byOffset[nearest.rangeStart]

			if n.End.OpCode == ir.OpGoto && n.End.Next == firstHandlerInstruction {
				tryEnd = nodeLookup[n.End]
			} else if previousInstruction != nil {
				tryEnd = nodeLookup[previousInstruction]
			}
			break
		}

		// Step 3-4: walk successors from the handler's entry node to find
		// handler end, lower-bounded by the nearest enclosing handler start.
		for _, n := range g.Nodes {
			if n.Kind != cfg.Normal || n.Start == nil || n.Start.Offset != entry.rangeStart {
				continue
			}

			end := findHandlerEnd(n, tryEnd, map[*cfg.Node]bool{})
			if end != nil && end.Kind == cfg.Normal {
				minOffset = end.End.EndOffset
			} else {
				minOffset = n.End.EndOffset
			}

			for k, other := range entries {
				if k != i &&
					int(entry.raw.StartPC) >= int(other.raw.StartPC) &&
					int(entry.raw.HandlerPC) < int(other.raw.HandlerPC) &&
					int(entry.raw.EndPC) <= int(other.raw.EndPC) &&
					other.rangeStart < minOffset {
					minOffset = other.rangeStart
				}
			}
			break
		}

		if minOffset != math.MaxInt {
			entry.rangeEnd = minOffset
		}
	}

	handlers := make([]*ir.ExceptionHandler, 0, len(entries))
	for _, entry := range entries {
		startOffset := int(entry.raw.StartPC)
		endOffset := int(entry.raw.EndPC)
		handlerStart := entry.rangeStart
		handlerEnd := entry.rangeEnd

		firstInstruction := byOffset[startOffset]
		handlerFirstInstruction := byOffset[handlerStart]
		lastInstruction := instructionEndingAt(byOffset, endOffset, bodyEnd)
		handlerLastInstruction := instructionEndingAt(byOffset, handlerEnd, bodyEnd)

		kind := ir.Catch
		if entry.raw.CatchType == "" {
			kind = ir.Finally
		}

		handlers = append(handlers, &ir.ExceptionHandler{
			Kind:         kind,
			TryBlock:     ir.ExceptionBlock{First: firstInstruction, Last: lastInstruction},
			HandlerBlock: ir.ExceptionBlock{First: handlerFirstInstruction, Last: handlerLastInstruction},
			CatchType:    entry.raw.CatchType,
		})
	}

	return handlers, nil
}

// instructionEndingAt resolves a reconstructed end offset (exclusive) to
// the instruction that precedes it, synthesizing a trailing NOP when the
// offset lies beyond the last real instruction (§4.3 final paragraph).
func instructionEndingAt(byOffset map[int]*ir.Instruction, offset int, bodyEnd *ir.Instruction) *ir.Instruction {
	if bodyEnd == nil {
		return nil
	}
	switch {
	case offset <= bodyEnd.Offset:
		if at, ok := byOffset[offset]; ok {
			return at.Prev
		}
		return bodyEnd
	case offset == bodyEnd.EndOffset:
		return bodyEnd
	default:
		return &ir.Instruction{Offset: offset, EndOffset: offset, OpCode: ir.OpNop}
	}
}
