package decoder

import "github.com/daimatz/godecompiler/pkg/ir"

// fixup is a deferred operand-patching action keyed by a not-yet-emitted
// instruction offset (§9 "Fixup table"). combine is append: a target
// offset may accumulate an arbitrary chain of patches (N-way fan-in, one
// per branch/switch-target operand that referenced it before it was
// decoded).
type fixup func(target *ir.Instruction)

// fixupTable is the forward-branch-resolution table: an array (here a
// map, since offsets are sparse relative to code size) indexed by target
// offset, each entry a chain of patch operations.
type fixupTable struct {
	pending map[int][]fixup
}

func newFixupTable() *fixupTable {
	return &fixupTable{pending: make(map[int][]fixup)}
}

// queue queues fn to run once the instruction at targetOffset is emitted.
func (t *fixupTable) queue(targetOffset int, fn fixup) {
	t.pending[targetOffset] = append(t.pending[targetOffset], fn)
}

// resolve applies every queued fixup for offset, if any, then forgets them.
func (t *fixupTable) resolve(offset int, inst *ir.Instruction) {
	for _, fn := range t.pending[offset] {
		fn(inst)
	}
	delete(t.pending, offset)
}

func (t *fixupTable) hasPending() bool { return len(t.pending) > 0 }
