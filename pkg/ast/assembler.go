package ast

import (
	"fmt"
	"sort"

	"github.com/daimatz/godecompiler/pkg/decompctx"
	"github.com/daimatz/godecompiler/pkg/ir"
)

// loadMap resolves the per-(ByteCode,slot) Variable the splitter decided a
// local-variable reference should read from or write to.
type loadMap = map[*ByteCode]map[int]*ir.Variable

// assembler holds the shared, read-only inputs threaded through the
// recursive range procedure (§4.8).
type assembler struct {
	ctx      *decompctx.Context
	arena    *arena
	handlers []*ir.ExceptionHandler
	locals   loadMap
}

// Assemble implements the AST Assembler (§4.8): a recursive procedure
// over the full ByteCode range with the pruned handler list active,
// producing the top-level Node sequence.
func Assemble(ctx *decompctx.Context, a *arena, handlers []*ir.ExceptionHandler, locals loadMap) []*Node {
	asm := &assembler{ctx: ctx, arena: a, handlers: handlers, locals: locals}
	if a.first() == nil {
		return nil
	}
	return asm.run(a.order, handlers)
}

// run is the recursive range procedure. codeRange is the ordered slice of
// ByteCodes in [start, end); active is the set of handlers still live at
// this nesting level.
func (a *assembler) run(codeRange []*ByteCode, active []*ir.ExceptionHandler) []*Node {
	if len(codeRange) == 0 {
		return nil
	}

	overlapping := handlersOverlapping(codeRange, active)
	if len(overlapping) == 0 {
		return a.linear(codeRange)
	}

	tryStart := earliestWidestTryStart(overlapping)
	siblings := siblingsSharingTryStart(overlapping, tryStart)
	tryEndInst := maxHandlerTryEnd(siblings)

	remaining := removeNested(active, tryStart, tryEndInst)

	head, tryRange, tail := splitRange(codeRange, tryStart, tryEndInst)

	var out []*Node
	out = append(out, a.linear(head)...)

	var nestedInTry []*ir.ExceptionHandler
	for _, hd := range handlersNestedIn(active, tryRange) {
		if hd.TryBlock.First != tryStart {
			nestedInTry = append(nestedInTry, hd)
		}
	}
	tryBody := a.run(tryRange, nestedInTry)
	if !endsInUnconditionalControl(tryRange) {
		tryBody = append(tryBody, &Node{Kind: NodeExpression, Code: AstCodeLeave})
	}
	tcb := &Node{Kind: NodeTryCatchBlock, TryBlock: block(tryBody)}

	sort.Slice(siblings, func(i, j int) bool {
		return siblings[i].HandlerBlock.First.Offset < siblings[j].HandlerBlock.First.Offset
	})

	seenStarts := map[*ir.Instruction]*CatchBlock{}
	inHandler := map[*ByteCode]bool{}
	for _, hd := range siblings {
		handlerRange := rangeForBlock(a.arena, hd.HandlerBlock)
		for _, bc := range handlerRange {
			inHandler[bc] = true
		}
		nestedInHandler := handlersNestedIn(remaining, handlerRange)
		body := a.run(handlerRange, nestedInHandler)

		if hd.IsCatch() {
			if existing, ok := seenStarts[hd.HandlerBlock.First]; ok {
				existing.CaughtTypes = append(existing.CaughtTypes, hd.CatchType)
				existing.ExceptionType = commonSupertype(existing.CaughtTypes)
				continue
			}
			cb := &CatchBlock{
				Body:            block(body),
				CaughtTypes:     []string{hd.CatchType},
				ExceptionType:   hd.CatchType,
				ExceptionVariable: a.catchExceptionVariable(hd, handlerRange),
			}
			seenStarts[hd.HandlerBlock.First] = cb
			tcb.CatchBlocks = append(tcb.CatchBlocks, cb)
		} else {
			tcb.FinallyBlock = block(a.finallyBody(hd, handlerRange, body))
		}
	}

	out = append(out, tcb)
	// The handler bodies were emitted inside tcb; the tail is what is left.
	var rest []*ByteCode
	for _, bc := range tail {
		if !inHandler[bc] {
			rest = append(rest, bc)
		}
	}
	out = append(out, a.run(rest, remaining)...)
	return out
}

// linear implements §4.8's "Linear AST for a ByteCode range": emit each
// ByteCode's label if any, skip dup*/swap, build an Expression with its
// loaded arguments, and wrap in Store(s) for whatever it produced. A
// ByteCode whose sole pushed value was coalesced away by the rewriter
// (single definition, single use, §4.6) is never emitted as a standalone
// statement — its expression is spliced directly into the one consumer
// that needed it instead.
func (a *assembler) linear(codeRange []*ByteCode) []*Node {
	inlinedAway := map[*ByteCode]bool{}
	for _, bc := range codeRange {
		if isDupOrSwap(bc.OpCode) {
			continue
		}
		for _, slot := range consumedSlots(bc) {
			if slot.InlineFrom != nil {
				inlinedAway[slot.InlineFrom] = true
			}
		}
	}

	memo := map[*ByteCode]*Node{}
	var nodeFor func(bc *ByteCode) *Node
	nodeFor = func(bc *ByteCode) *Node {
		if n, ok := memo[bc]; ok {
			return n
		}
		if bc.IsExceptionValue {
			n := expr(AstCodeLoadException, bc.Operand, []Range{{Start: bc.Inst.Offset, End: bc.Inst.EndOffset}})
			memo[bc] = n
			return n
		}
		var args []*Node
		consumed := consumedSlots(bc)
		for i, slot := range consumed {
			if i > 0 && consumed[i-1].Value.IsTwoSlot() {
				continue // upper half of a long/double carries no separate load
			}
			switch {
			case slot.InlineFrom != nil:
				args = append(args, nodeFor(slot.InlineFrom))
			case slot.LoadFrom != nil:
				args = append(args, loadExpr(slot.LoadFrom))
			}
		}
		n := expr(FromOpcode(bc.OpCode), bc.Operand, []Range{{Start: bc.Inst.Offset, End: bc.Inst.EndOffset}}, args...)
		memo[bc] = n
		return n
	}

	var out []*Node
	for _, bc := range codeRange {
		if bc.Label != nil {
			out = append(out, label(bc.Label))
		}
		if isDupOrSwap(bc.OpCode) || inlinedAway[bc] {
			continue
		}

		e := nodeFor(bc)

		switch len(bc.StoreTo) {
		case 0:
			out = append(out, e)
		case 1:
			out = append(out, storeExpr(bc.StoreTo[0], e))
		default:
			tmp := &ir.Variable{Name: fmt.Sprintf("tmp_%02X", bc.Inst.Offset), Type: bc.StoreTo[0].Type, Origin: ir.OriginGenerated, Generated: true}
			out = append(out, storeExpr(tmp, e))
			for i := len(bc.StoreTo) - 1; i >= 0; i-- {
				out = append(out, storeExpr(bc.StoreTo[i], loadExpr(tmp)))
			}
		}
	}
	return out
}

func isDupOrSwap(op ir.Opcode) bool {
	switch op {
	case ir.OpDup, ir.OpDupX1, ir.OpDupX2, ir.OpDup2, ir.OpDup2X1, ir.OpDup2X2, ir.OpSwap:
		return true
	}
	return false
}

func handlersOverlapping(codeRange []*ByteCode, active []*ir.ExceptionHandler) []*ir.ExceptionHandler {
	if len(codeRange) == 0 {
		return nil
	}
	lo, hi := codeRange[0].Inst.Offset, codeRange[len(codeRange)-1].Inst.EndOffset
	var out []*ir.ExceptionHandler
	for _, hd := range active {
		if hd.TryBlock.First.Offset < hi && lo < hd.TryBlock.Last.EndOffset {
			out = append(out, hd)
		}
	}
	return out
}

func earliestWidestTryStart(handlers []*ir.ExceptionHandler) *ir.Instruction {
	best := handlers[0].TryBlock.First
	for _, hd := range handlers[1:] {
		if hd.TryBlock.First.Offset < best.Offset {
			best = hd.TryBlock.First
		}
	}
	return best
}

func siblingsSharingTryStart(handlers []*ir.ExceptionHandler, start *ir.Instruction) []*ir.ExceptionHandler {
	var out []*ir.ExceptionHandler
	for _, hd := range handlers {
		if hd.TryBlock.First == start {
			out = append(out, hd)
		}
	}
	return out
}

func maxHandlerTryEnd(siblings []*ir.ExceptionHandler) *ir.Instruction {
	best := siblings[0].TryBlock.Last
	for _, hd := range siblings[1:] {
		if hd.TryBlock.Last.EndOffset > best.EndOffset {
			best = hd.TryBlock.Last
		}
	}
	return best
}

// removeNested drops from active every handler strictly nested inside
// [tryStart, tryEnd) — they get re-surfaced by the recursive call that
// builds the try body instead.
func removeNested(active []*ir.ExceptionHandler, tryStart, tryEnd *ir.Instruction) []*ir.ExceptionHandler {
	var out []*ir.ExceptionHandler
	for _, hd := range active {
		if hd.TryBlock.First.Offset >= tryStart.Offset && hd.TryBlock.Last.EndOffset <= tryEnd.EndOffset && hd.TryBlock.First != tryStart {
			continue
		}
		out = append(out, hd)
	}
	return out
}

func handlersNestedIn(active []*ir.ExceptionHandler, codeRange []*ByteCode) []*ir.ExceptionHandler {
	if len(codeRange) == 0 {
		return nil
	}
	lo, hi := codeRange[0].Inst.Offset, codeRange[len(codeRange)-1].Inst.EndOffset
	var out []*ir.ExceptionHandler
	for _, hd := range active {
		if hd.TryBlock.First.Offset >= lo && hd.TryBlock.Last.EndOffset <= hi {
			out = append(out, hd)
		}
	}
	return out
}

// splitRange partitions codeRange by Instruction offset into the part
// before tryStart, [tryStart, tryEnd] (tryEnd is the try block's last
// instruction and belongs to the body), and everything after tryEnd.
func splitRange(codeRange []*ByteCode, tryStart, tryEnd *ir.Instruction) (head, body, tail []*ByteCode) {
	for _, bc := range codeRange {
		switch {
		case bc.Inst.Offset < tryStart.Offset:
			head = append(head, bc)
		case bc.Inst.Offset <= tryEnd.Offset:
			body = append(body, bc)
		default:
			tail = append(tail, bc)
		}
	}
	return
}

func rangeForBlock(a *arena, b ir.ExceptionBlock) []*ByteCode {
	var out []*ByteCode
	for i := b.First; i != nil; i = i.Next {
		if bc := a.at(i); bc != nil {
			out = append(out, bc)
		}
		if i == b.Last {
			break
		}
	}
	return out
}

func endsInUnconditionalControl(codeRange []*ByteCode) bool {
	if len(codeRange) == 0 {
		return false
	}
	return codeRange[len(codeRange)-1].OpCode.IsUnconditionalControl()
}

// catchExceptionVariable implements §4.8 step 3's catch-variable rule: if
// the handler's first instruction stores the implicit exception value
// straight into a local (the common `catch (T t) { ... }` shape), that
// local is the exception variable; else a generated ex_XX when the
// context's settings say to always materialize one.
func (a *assembler) catchExceptionVariable(hd *ir.ExceptionHandler, handlerRange []*ByteCode) *ir.Variable {
	if len(handlerRange) == 0 {
		return nil
	}
	entry := handlerRange[0]
	if entry.OpCode.IsStore() {
		if v, ok := entry.Operand.(*ir.Variable); ok {
			return v
		}
	}
	if a.ctx.Settings.AlwaysGenerateExceptionVariableForCatchBlocks {
		return &ir.Variable{Name: fmt.Sprintf("ex_%02X", hd.HandlerBlock.First.Offset), Type: hd.CatchType, Origin: ir.OriginGenerated, Generated: true}
	}
	return nil
}

// finallyBody implements §4.8 step 3's finally rule. The implicit caught
// exception is just another phantom LoadException value threaded through
// the same linear() machinery as a catch handler's: the handler entry's
// own store of it (always present — a finally block must hold onto the
// exception to rethrow it at the end) already appears as the body's first
// statement, so there is nothing to prepend here.
func (a *assembler) finallyBody(hd *ir.ExceptionHandler, handlerRange []*ByteCode, body []*Node) []*Node {
	return body
}

// commonSupertype picks the AST-level "exceptionType" for a multi-catch
// alias. Without a live type hierarchy (out of scope, §1 Non-goals beyond
// pass-through type references) this falls back to Throwable once more
// than one distinct type is caught, matching a conservative supertype.
func commonSupertype(types []string) string {
	if len(types) == 0 {
		return ""
	}
	first := types[0]
	for _, t := range types[1:] {
		if t != first {
			return "java/lang/Throwable"
		}
	}
	return first
}
