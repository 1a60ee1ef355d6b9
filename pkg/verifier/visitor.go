package verifier

import "github.com/daimatz/godecompiler/pkg/ir"

// Result is the StackMappingVisitor's output (§6): per-instruction
// pre/post operand stacks, plus which `new` sites have had their
// constructor run by the time control reaches a given instruction.
type Result struct {
	PreStack        map[*ir.Instruction][]ir.FrameValue
	PostStack       map[*ir.Instruction][]ir.FrameValue
	Initializations map[*ir.Instruction]string // new-site instruction -> resolved type
}

// Visitor runs the fixed-point type-level interpretation over a decoded
// method body.
type Visitor struct{}

func New() *Visitor { return &Visitor{} }

// Run interprets the instruction sequence headed by first, starting with
// initialLocals (typically slot 0 = this/UninitializedThis followed by
// the declared parameter types), and returns the stack map built across
// every reachable instruction. Unreachable instructions (never named by
// any successors() edge) are simply absent from the result, same as the
// Stack Analyzer's later dead-code drop (§4.5).
func (v *Visitor) Run(first *ir.Instruction, initialLocals []ir.FrameValue) (*Result, error) {
	res := &Result{
		PreStack:        make(map[*ir.Instruction][]ir.FrameValue),
		PostStack:       make(map[*ir.Instruction][]ir.FrameValue),
		Initializations: make(map[*ir.Instruction]string),
	}
	if first == nil {
		return res, nil
	}

	order := reversePostorder(first)
	states := make(map[*ir.Instruction]state, len(order))
	states[first] = state{locals: append([]ir.FrameValue(nil), initialLocals...)}

	// Standard iterative data-flow fixed point (Kildall's algorithm):
	// repeatedly walk reverse postorder, propagating each instruction's
	// effect to its successors, until a full pass makes no change. RPO
	// guarantees every forward edge's source is processed before its
	// target within the same pass, so only loop back-edges need a second
	// pass to stabilize.
	for changed := true; changed; {
		changed = false
		for _, inst := range order {
			working := states[inst].clone()
			if _, err := apply(&working, inst); err != nil {
				return nil, err
			}
			for _, succ := range successors(inst) {
				merged, didChange := merge(states[succ], working)
				if didChange {
					states[succ] = merged
					changed = true
				}
			}
		}
	}

	for _, inst := range order {
		pre := states[inst]
		res.PreStack[inst] = append([]ir.FrameValue(nil), pre.stack...)

		working := pre.clone()
		step, err := apply(&working, inst)
		if err != nil {
			return nil, err
		}
		res.PostStack[inst] = append([]ir.FrameValue(nil), working.stack...)

		if step.initializes && step.initializedNew != nil {
			typeName := ""
			if t, ok := step.initializedNew.Operand.(*ir.TypeOperand); ok {
				typeName = t.TypeName
			}
			res.Initializations[step.initializedNew] = typeName
		}
	}

	return res, nil
}

// successors lists where control can flow after inst: the branch/switch
// targets carried in its operand, plus fall-through to Next unless inst
// always transfers control away (§4.1 resolved-operand shapes).
func successors(inst *ir.Instruction) []*ir.Instruction {
	if sw, ok := inst.Operand.(*ir.SwitchInfo); ok {
		var out []*ir.Instruction
		if sw.Default != nil {
			out = append(out, sw.Default)
		}
		return append(out, sw.Targets...)
	}

	if target, ok := inst.Operand.(*ir.Instruction); ok {
		out := []*ir.Instruction{target}
		switch inst.OpCode {
		case ir.OpGoto, ir.OpGotoW, ir.OpJsr, ir.OpJsrW:
			return out
		}
		if inst.Next != nil {
			out = append(out, inst.Next)
		}
		return out
	}

	if inst.OpCode.IsUnconditionalControl() {
		return nil
	}
	if inst.Next != nil {
		return []*ir.Instruction{inst.Next}
	}
	return nil
}

// reversePostorder walks the successor graph from first via DFS and
// returns instructions in reverse-postorder, the order Kildall's
// algorithm needs to converge in as few passes as possible.
func reversePostorder(first *ir.Instruction) []*ir.Instruction {
	visited := map[*ir.Instruction]bool{}
	var post []*ir.Instruction
	var visit func(i *ir.Instruction)
	visit = func(i *ir.Instruction) {
		if i == nil || visited[i] {
			return
		}
		visited[i] = true
		for _, s := range successors(i) {
			visit(s)
		}
		post = append(post, i)
	}
	visit(first)
	for i, j := 0, len(post)-1; i < j; i, j = i+1, j-1 {
		post[i], post[j] = post[j], post[i]
	}
	return post
}
