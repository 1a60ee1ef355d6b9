package ast

import (
	"sort"

	"github.com/daimatz/godecompiler/pkg/decompctx"
	"github.com/daimatz/godecompiler/pkg/ir"
)

// PruneHandlers canonicalizes a normalized exception-handler list through
// the seven successive, individually idempotent passes of §4.4. Re-running
// it on its own output is a fixed point (§8 invariant 7), since every pass
// below only removes/clamps, never reintroduces, the condition it targets.
func PruneHandlers(ctx *decompctx.Context, handlers []*ir.ExceptionHandler) []*ir.ExceptionHandler {
	h := append([]*ir.ExceptionHandler(nil), handlers...)
	h = pruneSelfHandlingFinally(ctx, h)
	h = pruneGapClosing(ctx, h)
	h = pruneSiblingTryAlignment(h)
	h = pruneCatchToNextCatchAlignment(h)
	h = pruneRedundantFinally(ctx, h)
	h = pruneFinallyDuplicatesOuterCatch(ctx, h)
	h = pruneTryEndExtension(h)
	return h
}

func sameBlock(a, b ir.ExceptionBlock) bool {
	return a.First == b.First && a.Last == b.Last
}

// pass 1: a finally whose handler begins at the same instruction as its
// try, and whose try-last precedes its handler-end, is self-handling: the
// normalizer mistook the handler's own body for a try range. Drop it.
func pruneSelfHandlingFinally(ctx *decompctx.Context, handlers []*ir.ExceptionHandler) []*ir.ExceptionHandler {
	out := make([]*ir.ExceptionHandler, 0, len(handlers))
	for _, hd := range handlers {
		if hd.IsFinally() && hd.HandlerBlock.First == hd.TryBlock.First &&
			hd.TryBlock.Last.Offset < hd.HandlerBlock.Last.EndOffset {
			ctx.Log.Debug().Int("handler", hd.HandlerBlock.First.Offset).Msg("pruner: dropping self-handling finally")
			continue
		}
		out = append(out, hd)
	}
	return out
}

// pass 2: two handlers with identical handler blocks whose try-ranges are
// adjacent save for a single unconditional branch between them (a compiler
// artifact splitting one logical try into two) merge into one.
func pruneGapClosing(ctx *decompctx.Context, handlers []*ir.ExceptionHandler) []*ir.ExceptionHandler {
	merged := append([]*ir.ExceptionHandler(nil), handlers...)
	for {
		mergedAny := false
		for i := 0; i < len(merged); i++ {
			for j := 0; j < len(merged); j++ {
				if i == j {
					continue
				}
				a, b := merged[i], merged[j]
				if !sameBlock(a.HandlerBlock, b.HandlerBlock) {
					continue
				}
				if a.TryBlock.Last == nil || a.TryBlock.Last.Next == nil {
					continue
				}
				gap := a.TryBlock.Last.Next
				if gap.OpCode.IsUnconditionalControl() && gap.Next == b.TryBlock.First {
					a.TryBlock.Last = b.TryBlock.Last
					ctx.Log.Debug().Msg("pruner: gap-closing adjacent try ranges")
					merged = append(merged[:j], merged[j+1:]...)
					mergedAny = true
					break
				}
			}
			if mergedAny {
				break
			}
		}
		if !mergedAny {
			break
		}
	}
	return merged
}

// pass 3: every handler sharing a try-block is rewritten to end exactly
// one instruction before the earliest sibling handler begins.
func pruneSiblingTryAlignment(handlers []*ir.ExceptionHandler) []*ir.ExceptionHandler {
	groups := groupByTryStart(handlers)
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		earliest := group[0]
		for _, hd := range group[1:] {
			if hd.HandlerBlock.First.Offset < earliest.HandlerBlock.First.Offset {
				earliest = hd
			}
		}
		boundary := earliest.HandlerBlock.First.Prev
		if boundary == nil {
			continue
		}
		for _, hd := range group {
			hd.TryBlock.Last = boundary
		}
	}
	return handlers
}

// pass 4: among siblings sharing a try-block, a catch that precedes
// another sibling (by handler-start order) has its handler clamped to end
// just before the next sibling's handler begins.
func pruneCatchToNextCatchAlignment(handlers []*ir.ExceptionHandler) []*ir.ExceptionHandler {
	groups := groupByTryStart(handlers)
	for _, group := range groups {
		sort.Slice(group, func(i, j int) bool {
			return group[i].HandlerBlock.First.Offset < group[j].HandlerBlock.First.Offset
		})
		for i := 0; i < len(group)-1; i++ {
			if !group[i].IsCatch() {
				continue
			}
			next := group[i+1].HandlerBlock.First
			if boundary := next.Prev; boundary != nil {
				group[i].HandlerBlock.Last = boundary
			}
		}
	}
	return handlers
}

func groupByTryStart(handlers []*ir.ExceptionHandler) [][]*ir.ExceptionHandler {
	byStart := map[*ir.Instruction][]*ir.ExceptionHandler{}
	var order []*ir.Instruction
	for _, hd := range handlers {
		if _, ok := byStart[hd.TryBlock.First]; !ok {
			order = append(order, hd.TryBlock.First)
		}
		byStart[hd.TryBlock.First] = append(byStart[hd.TryBlock.First], hd)
	}
	groups := make([][]*ir.ExceptionHandler, 0, len(order))
	for _, start := range order {
		groups = append(groups, byStart[start])
	}
	return groups
}

// findHandlers returns every handler sharing the exact same try-block.
func findHandlers(tryBlock ir.ExceptionBlock, handlers []*ir.ExceptionHandler) []*ir.ExceptionHandler {
	var out []*ir.ExceptionHandler
	for _, hd := range handlers {
		if sameBlock(hd.TryBlock, tryBlock) {
			out = append(out, hd)
		}
	}
	return out
}

// findInnermostExceptionHandler returns the handler, other than exclude,
// whose try-block most tightly encloses offset: the one whose try-start is
// latest among those still containing it.
func findInnermostExceptionHandler(offset int, exclude *ir.ExceptionHandler, handlers []*ir.ExceptionHandler) *ir.ExceptionHandler {
	var result *ir.ExceptionHandler
	for _, hd := range handlers {
		if hd == exclude {
			continue
		}
		if hd.TryBlock.First.Offset <= offset && offset < hd.TryBlock.Last.EndOffset &&
			(result == nil || hd.TryBlock.First.Offset > result.TryBlock.First.Offset) {
			result = hd
		}
	}
	return result
}

// pass 5: a finally shares its try-block with one or more catch siblings;
// if one of those catches' handler bodies contains a second finally whose
// handler is identical to the first, the compiler duplicated the same
// finally body once per catch alternative. Drop the duplicate.
func pruneRedundantFinally(ctx *decompctx.Context, handlers []*ir.ExceptionHandler) []*ir.ExceptionHandler {
	drop := map[*ir.ExceptionHandler]bool{}
	for _, outer := range handlers {
		if drop[outer] || !outer.IsFinally() {
			continue
		}
		for _, sibling := range findHandlers(outer.TryBlock, handlers) {
			if sibling == outer || sibling.IsFinally() {
				continue
			}
			for _, inner := range handlers {
				if inner == outer || inner == sibling || !inner.IsFinally() || drop[inner] {
					continue
				}
				if inner.TryBlock.First == sibling.HandlerBlock.First && sameBlock(inner.HandlerBlock, outer.HandlerBlock) {
					drop[inner] = true
					ctx.Log.Debug().Msg("pruner: dropping redundant nested finally")
				}
			}
		}
	}
	out := make([]*ir.ExceptionHandler, 0, len(handlers))
	for _, hd := range handlers {
		if !drop[hd] {
			out = append(out, hd)
		}
	}
	return out
}

// pass 6: a finally's try-block is innermost-enclosed by some catch. If a
// third handler's try-block is exactly that finally's handler body, and its
// own handler-block is identical to the innermost catch's, the finally body
// just re-enters the already-enclosing catch; drop that third handler.
func pruneFinallyDuplicatesOuterCatch(ctx *decompctx.Context, handlers []*ir.ExceptionHandler) []*ir.ExceptionHandler {
	drop := map[*ir.ExceptionHandler]bool{}
	live := func(hd *ir.ExceptionHandler) bool { return !drop[hd] }

	for _, handler := range handlers {
		if !live(handler) || !handler.IsFinally() {
			continue
		}
		handlerBlock := handler.HandlerBlock

		var current []*ir.ExceptionHandler
		for _, hd := range handlers {
			if live(hd) {
				current = append(current, hd)
			}
		}
		innermost := findInnermostExceptionHandler(handler.TryBlock.First.Offset, handler, current)
		if innermost == nil || innermost == handler || innermost.IsFinally() {
			continue
		}

		for _, sibling := range handlers {
			if !live(sibling) || sibling == handler || sibling == innermost {
				continue
			}
			if sameBlock(sibling.TryBlock, handlerBlock) && sameBlock(sibling.HandlerBlock, innermost.HandlerBlock) {
				drop[sibling] = true
				ctx.Log.Debug().Msg("pruner: dropping handler re-entering an enclosing catch from inside a finally")
			}
		}
	}

	out := make([]*ir.ExceptionHandler, 0, len(handlers))
	for _, hd := range handlers {
		if !drop[hd] {
			out = append(out, hd)
		}
	}
	return out
}

// pass 7: if the instruction right after a handler-group's try-last is an
// unconditional branch, a throw, or a non-RETURN return, and it directly
// precedes the first sibling handler, fold it into the try block. All
// siblings sharing that try-block move in lock-step.
func pruneTryEndExtension(handlers []*ir.ExceptionHandler) []*ir.ExceptionHandler {
	groups := groupByTryStart(handlers)
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		earliestHandlerStart := group[0].HandlerBlock.First
		for _, hd := range group[1:] {
			if hd.HandlerBlock.First.Offset < earliestHandlerStart.Offset {
				earliestHandlerStart = hd.HandlerBlock.First
			}
		}
		tryLast := group[0].TryBlock.Last
		candidate := tryLast.Next
		if candidate == nil || candidate.Next != earliestHandlerStart {
			continue
		}
		extends := candidate.OpCode == ir.OpGoto || candidate.OpCode == ir.OpGotoW ||
			candidate.OpCode == ir.OpAthrow || candidate.OpCode.IsReturnLike()
		if !extends {
			continue
		}
		for _, hd := range group {
			hd.TryBlock.Last = candidate
		}
	}
	return handlers
}
