package ast

import (
	"fmt"

	"github.com/daimatz/godecompiler/pkg/decompctx"
	"github.com/daimatz/godecompiler/pkg/ir"
)

// declaredLocal is one metadata-sourced local-variable-table entry, the
// splitter's unit of input for a slot (§4.7).
type declaredLocal struct {
	Slot int
	Name string
	Type string
}

// SplitVariables implements the Local Variable Splitter (§4.7): for each
// declared metadata slot, gather its defining (store) and referencing
// (load/iinc) ByteCodes, then either emit one Variable per slot
// (unoptimized) or one per distinct definition, merging by reaching-def
// intersection at each reference (optimized). Parameters at scope-start-0
// keep their name/type and are never split.
func SplitVariables(ctx *decompctx.Context, a *arena, declared []declaredLocal, parameterSlots map[int]*ir.Variable, optimize bool) map[*ByteCode]map[int]*ir.Variable {
	bySlot := map[int][]*ByteCode{} // stores
	refsBySlot := map[int][]*ByteCode{}
	for _, bc := range a.order {
		slot, isDef := localSlotTouched(bc)
		if slot < 0 {
			continue
		}
		if isDef {
			bySlot[slot] = append(bySlot[slot], bc)
		} else {
			refsBySlot[slot] = append(refsBySlot[slot], bc)
		}
	}

	// loadVarFor[bc][slot] = the Variable a load/iinc at bc resolves to.
	loadVarFor := map[*ByteCode]map[int]*ir.Variable{}
	assign := func(bc *ByteCode, slot int, v *ir.Variable) {
		if loadVarFor[bc] == nil {
			loadVarFor[bc] = map[int]*ir.Variable{}
		}
		loadVarFor[bc][slot] = v
	}

	declaredBySlot := map[int]declaredLocal{}
	for _, d := range declared {
		declaredBySlot[d.Slot] = d
	}

	for slot, refs := range refsBySlotAllSlots(bySlot, refsBySlot) {
		if p, ok := parameterSlots[slot]; ok {
			for _, bc := range refs {
				assign(bc, slot, p)
			}
			for _, bc := range bySlot[slot] {
				assign(bc, slot, p)
			}
			continue
		}

		if !optimize {
			v := unoptimizedVariable(slot, declaredBySlot, bySlot[slot])
			for _, bc := range refs {
				assign(bc, slot, v)
			}
			for _, bc := range bySlot[slot] {
				assign(bc, slot, v)
			}
			continue
		}

		defVars := map[*ByteCode]*ir.Variable{}
		for i, def := range bySlot[slot] {
			defVars[def] = &ir.Variable{
				Name:      variableName(slot, declaredBySlot, i),
				Type:      typeForDef(def, slot),
				Origin:    localOrigin(declaredBySlot, slot),
				Generated: !hasDeclared(declaredBySlot, slot),
			}
		}
		for _, def := range bySlot[slot] {
			assign(def, slot, defVars[def])
		}
		for _, ref := range refs {
			reaching := reachingDefsForSlot(ref, slot)
			if len(reaching) == 0 {
				continue
			}
			if len(reaching) == 1 {
				assign(ref, slot, defVars[reaching[0]])
				continue
			}
			merged := mergeDefVariables(reaching, defVars)
			assign(ref, slot, merged)
			ctx.Log.Debug().Int("slot", slot).Msg("splitter: merging variables reached by multiple definitions")
		}
	}
	return loadVarFor
}

func refsBySlotAllSlots(bySlot, refsBySlot map[int][]*ByteCode) map[int][]*ByteCode {
	all := map[int][]*ByteCode{}
	for slot, v := range refsBySlot {
		all[slot] = v
	}
	for slot := range bySlot {
		if _, ok := all[slot]; !ok {
			all[slot] = nil
		}
	}
	return all
}

// localSlotTouched reports the local slot an instruction reads or writes
// and whether it's a definition (store) rather than a reference (load or
// iinc, which both defines and references but is treated as a reference
// here per the original's "reference ByteCodes (loads/increments)").
func localSlotTouched(bc *ByteCode) (slot int, isDef bool) {
	if lo, ok := bc.Operand.(*ir.LocalOperand); ok {
		if bc.OpCode == ir.OpIinc {
			return lo.Slot, false
		}
		return lo.Slot, bc.OpCode.IsStore()
	}
	if s, _, isStore, ok := bc.OpCode.IsMacroLoadStore(); ok {
		return s, isStore
	}
	return -1, false
}

func unoptimizedVariable(slot int, declared map[int]declaredLocal, defs []*ByteCode) *ir.Variable {
	name := fmt.Sprintf("var_%d", slot)
	typ := "java/lang/Object"
	origin := ir.OriginGenerated
	generated := true
	if d, ok := declared[slot]; ok {
		name, typ = d.Name, d.Type
		origin, generated = ir.OriginLocal, false
	} else if len(defs) > 0 {
		typ = typeForDef(defs[0], slot)
	}
	return &ir.Variable{Name: name, Type: typ, Origin: origin, Generated: generated, OriginalSlot: slot}
}

func variableName(slot int, declared map[int]declaredLocal, index int) string {
	if d, ok := declared[slot]; ok {
		return d.Name
	}
	return fmt.Sprintf("var_%d_%d", slot, index)
}

func hasDeclared(declared map[int]declaredLocal, slot int) bool {
	_, ok := declared[slot]
	return ok
}

func localOrigin(declared map[int]declaredLocal, slot int) ir.VariableOrigin {
	if _, ok := declared[slot]; ok {
		return ir.OriginLocal
	}
	return ir.OriginGenerated
}

func typeForDef(def *ByteCode, slot int) string {
	if def == nil || slot >= len(def.VariablesBefore) {
		return "java/lang/Object"
	}
	// The def's own post-store type lives in the *next* ByteCode's
	// variablesBefore[slot] (stores overwrite their own post-state, which
	// is only visible starting at the successor); fall back to its
	// pre-state type when there's no successor to consult.
	if def.Next != nil && slot < len(def.Next.VariablesBefore) {
		return typeNameFor(def.Next.VariablesBefore[slot].Value)
	}
	return typeNameFor(def.VariablesBefore[slot].Value)
}

// reachingDefsForSlot looks up the reaching-definition set for slot at
// ref's entry state, translating ByteCode definitions into a stable order.
func reachingDefsForSlot(ref *ByteCode, slot int) []*ByteCode {
	if slot >= len(ref.VariablesBefore) {
		return nil
	}
	return ref.VariablesBefore[slot].Definitions.ToSlice()
}

// mergeDefVariables merges every candidate variable whose definition set
// intersects the reaching-def set into one (§4.7): here, simply the set of
// per-def variables for the reaching defs themselves, since defVars are
// already one-per-definition; we union them under the first's identity by
// re-pointing every reaching def's slot in defVars at one shared Variable.
func mergeDefVariables(reaching []*ByteCode, defVars map[*ByteCode]*ir.Variable) *ir.Variable {
	first := defVars[reaching[0]]
	for _, d := range reaching[1:] {
		if v := defVars[d]; v != nil && v != first {
			*v = *first
			defVars[d] = first
		}
	}
	return first
}
