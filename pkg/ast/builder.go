package ast

import (
	"github.com/pkg/errors"

	"github.com/daimatz/godecompiler/pkg/decoder"
	"github.com/daimatz/godecompiler/pkg/decompctx"
	"github.com/daimatz/godecompiler/pkg/ir"
	"github.com/daimatz/godecompiler/pkg/metadata"
)

// Build runs the full AST-builder pipeline (§2, §4.4–§4.8) over an
// already-decoded method body: prune handlers, analyze the stack to a
// fixed point, rewrite the stack into temporaries, split locals, and
// assemble the final Node tree. This is the single entry point downstream
// consumers (a future Java-source emitter, out of core scope) call.
func Build(ctx *decompctx.Context, mb *ir.MethodBody, scope metadata.Scope) ([]*Node, error) {
	decoded, err := decoder.Decode(mb, scope, ctx)
	if err != nil {
		return nil, errors.Wrap(err, "decoding method body")
	}
	if decoded.First == nil {
		return nil, nil // empty body (§8 scenario 1)
	}

	handlers := PruneHandlers(ctx, decoded.ExceptionHandlers)

	paramSlots := parameterFrameValues(mb)
	a, err := AnalyzeStack(ctx, decoded.First, handlers, paramSlots, mb.IsConstructor)
	if err != nil {
		return nil, errors.Wrap(err, "analyzing stack")
	}

	RewriteStack(ctx, a)

	declared, paramVars := buildParameterAndDeclaredLocals(mb, decoded)
	locals := SplitVariables(ctx, a, declared, paramVars, ctx.Optimize)
	wireLocalLoads(a, locals)

	return Assemble(ctx, a, handlers, locals), nil
}

// wireLocalLoads sets the Operand of each local-variable ByteCode
// (iload/istore/iinc families) to the splitter's Variable for the slot it
// touches. Stack consumption is wired separately: the rewriter sets
// LoadFrom/InlineFrom on the consumed StackSlots.
func wireLocalLoads(a *arena, locals loadMap) {
	for _, bc := range a.order {
		slot, _ := localSlotTouched(bc)
		if slot < 0 {
			continue
		}
		if v, ok := locals[bc][slot]; ok {
			bc.Operand = v
		}
	}
}

// parameterFrameValues builds the Stack Analyzer's entry-point
// variablesBefore seed (§4.5): declared parameter types in slot order,
// Long/Double occupying a Top-paired second slot, remaining slots up to
// MaxLocals left Uninitialized.
func parameterFrameValues(mb *ir.MethodBody) []ir.FrameValue {
	slots := make([]ir.FrameValue, mb.MaxLocals)
	for i := range slots {
		slots[i] = ir.FrameValue{Kind: ir.Uninitialized}
	}
	for _, p := range mb.Parameters {
		vs := frameValuesForDescriptor(p.Type)
		for i, v := range vs {
			if p.Slot+i < len(slots) {
				slots[p.Slot+i] = v
			}
		}
	}
	return slots
}

func frameValuesForDescriptor(desc string) []ir.FrameValue {
	if desc == "" {
		return []ir.FrameValue{{Kind: ir.Reference, Type: "java/lang/Object"}}
	}
	switch desc[0] {
	case 'I', 'Z', 'B', 'C', 'S':
		return []ir.FrameValue{{Kind: ir.Integer}}
	case 'F':
		return []ir.FrameValue{{Kind: ir.Float}}
	case 'J':
		return []ir.FrameValue{{Kind: ir.Long}, {Kind: ir.Top}}
	case 'D':
		return []ir.FrameValue{{Kind: ir.Double}, {Kind: ir.Top}}
	default:
		return []ir.FrameValue{{Kind: ir.Reference, Type: desc}}
	}
}

// buildParameterAndDeclaredLocals bridges the decoder's VariableTable and
// MethodBody.Parameters into the splitter's input shapes: a declaredLocal
// per LocalVariableTable entry, and a slot->Variable map for parameters
// (which the splitter never re-splits, §4.7's last paragraph).
func buildParameterAndDeclaredLocals(mb *ir.MethodBody, decoded *decoder.DecodedBody) ([]declaredLocal, map[int]*ir.Variable) {
	var declared []declaredLocal
	for _, s := range decoded.Variables.Declared() {
		declared = append(declared, declaredLocal{Slot: s.Slot, Name: s.Name, Type: s.Type})
	}

	params := map[int]*ir.Variable{}
	for _, p := range mb.Parameters {
		origin := ir.OriginParameter
		name := p.Name
		if name == "" {
			name = p.Type
		}
		params[p.Slot] = &ir.Variable{Name: name, Type: p.Type, Origin: origin, OriginalSlot: p.Slot}
	}
	return declared, params
}
