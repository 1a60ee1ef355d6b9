package decoder

import (
	"fmt"
	"sort"

	"github.com/daimatz/godecompiler/pkg/classfile"
)

// VariableScope is one (slot, byte-range) binding: either a declared entry
// from LocalVariableTable/LocalVariableTypeTable, or one inferred from the
// decoder's own slot accesses (§4.2).
type VariableScope struct {
	Slot       int
	Start, End int
	Name       string
	Type       string
	Declared   bool
}

// VariableTable is the Variable Table Merger's output: the
// `variables` collection with `ensure` plus the post-decode attribute
// merge (mergeVariables/updateScopes in the original).
type VariableTable struct {
	codeSize int
	bySlot   map[int][]*VariableScope
}

func newVariableTable(codeSize int) *VariableTable {
	return &VariableTable{codeSize: codeSize, bySlot: make(map[int][]*VariableScope)}
}

// ensure widens or creates an inferred VariableScope covering offset for
// slot, the way the decoder eagerly calls it on every Local-kind operand
// (§4.2: "The decoder calls this eagerly").
func (vt *VariableTable) ensure(slot int, offset int) {
	for _, s := range vt.bySlot[slot] {
		if !s.Declared && offset >= s.Start && offset <= s.End {
			return
		}
	}
	// Otherwise stretch the slot's first inferred scope to reach offset; a
	// new scope is started only when the slot has no inferred scope yet.
	for _, s := range vt.bySlot[slot] {
		if s.Declared {
			continue
		}
		if offset < s.Start {
			s.Start = offset
			return
		}
		if offset > s.End {
			s.End = offset
			return
		}
	}
	vt.bySlot[slot] = append(vt.bySlot[slot], &VariableScope{
		Slot: slot, Start: offset, End: offset, Name: fmt.Sprintf("var_%d", slot),
	})
}

// mergeDeclared folds in the authoritative LocalVariableTable /
// LocalVariableTypeTable entries: where a declared entry overlaps an
// inferred one in the same slot, the declared name/type wins; where it
// does not overlap, they remain distinct slot-sharing variables (§4.2).
func (vt *VariableTable) mergeDeclared(entries []classfile.LocalVariableEntry) {
	for _, e := range entries {
		start := int(e.StartPC)
		end := start + int(e.Length)
		slot := int(e.Index)

		declared := &VariableScope{
			Slot: slot, Start: start, End: end,
			Name: e.Name, Type: e.Descriptor, Declared: true,
		}

		// Remove/shrink any inferred entries this declared entry overlaps;
		// the declared entry wins that sub-range.
		var kept []*VariableScope
		for _, s := range vt.bySlot[slot] {
			if s.Declared || s.End < start || s.Start > end {
				kept = append(kept, s)
				continue
			}
			// Overlaps: if the inferred range pokes out past the declared
			// one, keep a trimmed remainder instead of dropping it outright.
			if s.Start < start {
				kept = append(kept, &VariableScope{Slot: slot, Start: s.Start, End: start, Name: s.Name, Type: s.Type})
			}
			if s.End > end {
				kept = append(kept, &VariableScope{Slot: slot, Start: end, End: s.End, Name: s.Name, Type: s.Type})
			}
		}
		kept = append(kept, declared)
		vt.bySlot[slot] = kept
	}
}

// updateScopes clamps every scope's end to the method's code size, the
// way the original's updateScopes does after attribute merge.
func (vt *VariableTable) updateScopes() {
	for _, scopes := range vt.bySlot {
		for _, s := range scopes {
			if s.End > vt.codeSize {
				s.End = vt.codeSize
			}
		}
		sort.Slice(scopes, func(i, j int) bool { return scopes[i].Start < scopes[j].Start })
	}
}

// Lookup returns the scope covering (slot, offset), preferring a declared
// entry over an inferred one when both exist. Returns nil if the slot was
// never touched at that offset (can happen for dead/unreachable code).
func (vt *VariableTable) Lookup(slot, offset int) *VariableScope {
	var best *VariableScope
	for _, s := range vt.bySlot[slot] {
		if offset < s.Start || offset > s.End {
			continue
		}
		if best == nil || (s.Declared && !best.Declared) {
			best = s
		}
	}
	return best
}

// Declared returns every declared (LocalVariableTable-sourced) scope
// across all slots, for callers building a splitter input list (§4.7).
func (vt *VariableTable) Declared() []*VariableScope {
	var out []*VariableScope
	for _, scopes := range vt.bySlot {
		for _, s := range scopes {
			if s.Declared {
				out = append(out, s)
			}
		}
	}
	return out
}

// ClaimParameter registers slot as the given parameter's scope, covering
// the whole method body ([0, codeSize)); for instance methods slot 0 is
// `this` (§4.2).
func (vt *VariableTable) ClaimParameter(slot int, name, typ string) {
	vt.bySlot[slot] = []*VariableScope{{
		Slot: slot, Start: 0, End: vt.codeSize, Name: name, Type: typ, Declared: true,
	}}
}
