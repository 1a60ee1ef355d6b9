// Package decoder implements the Instruction Decoder, Variable Table
// Merger, and Exception Table Normalizer (spec §4.1–§4.3), grounded on
// original_source/.../MethodReader.java's readBody/Fixup/MultiFixup/
// processLocalVariableTable/populateExceptionHandlerInfo.
package decoder

import (
	"fmt"

	"github.com/daimatz/godecompiler/pkg/decompctx"
	"github.com/daimatz/godecompiler/pkg/ir"
	"github.com/daimatz/godecompiler/pkg/metadata"
	"github.com/pkg/errors"
)

// DecodedBody is the Instruction Decoder's output: a linked instruction
// sequence, the merged variable table, and the normalized exception
// handler list, ready for the Handler Pruner (§4.4).
type DecodedBody struct {
	First             *ir.Instruction
	ByOffset          map[int]*ir.Instruction
	Variables         *VariableTable
	ExceptionHandlers []*ir.ExceptionHandler
	CodeSize          int
}

// atypeNames maps newarray's u1 array-type code to its primitive name.
var atypeNames = map[uint8]string{
	4: "boolean", 5: "char", 6: "float", 7: "double",
	8: "byte", 9: "short", 10: "int", 11: "long",
}

// Decode runs the full reader pipeline: decode (§4.1), variable merge
// (§4.2), exception normalization (§4.3).
func Decode(mb *ir.MethodBody, scope metadata.Scope, ctx *decompctx.Context) (*DecodedBody, error) {
	d := &decodeState{
		mb:       mb,
		scope:    scope,
		ctx:      ctx,
		cur:      &cursor{code: mb.Code},
		fixups:   newFixupTable(),
		byOffset: make(map[int]*ir.Instruction),
		vars:     newVariableTable(len(mb.Code)),
		labels:   make(map[int]*ir.Label),
	}
	for _, p := range mb.Parameters {
		d.vars.ClaimParameter(p.Slot, p.Name, p.Type)
	}

	if err := d.run(); err != nil {
		return nil, err
	}

	d.vars.mergeDeclared(mb.LocalVariableTable)
	d.vars.mergeDeclared(mb.LocalVariableTypeTable)
	d.vars.updateScopes()
	d.reresolveVariableOperands()

	handlers, err := normalizeExceptionTable(d.first, d.byOffset, mb.RawExceptionTable)
	if err != nil {
		return nil, err
	}

	return &DecodedBody{
		First:             d.first,
		ByOffset:          d.byOffset,
		Variables:         d.vars,
		ExceptionHandlers: handlers,
		CodeSize:          len(mb.Code),
	}, nil
}

type decodeState struct {
	mb    *ir.MethodBody
	scope metadata.Scope
	ctx   *decompctx.Context
	cur   *cursor

	fixups   *fixupTable
	byOffset map[int]*ir.Instruction
	vars     *VariableTable
	labels   map[int]*ir.Label

	first, prev *ir.Instruction
	synthetics  []*ir.Instruction
}

func (d *decodeState) labelFor(offset int) *ir.Label {
	if l, ok := d.labels[offset]; ok {
		return l
	}
	l := &ir.Label{Name: fmt.Sprintf("Label_%04d", offset)}
	d.labels[offset] = l
	return l
}

func (d *decodeState) append(inst *ir.Instruction) {
	d.byOffset[inst.Offset] = inst
	if d.first == nil {
		d.first = inst
	}
	if d.prev != nil {
		d.prev.Next = inst
		inst.Prev = d.prev
	}
	d.prev = inst
	d.fixups.resolve(inst.Offset, inst)
}

func (d *decodeState) run() error {
	for !d.cur.atEnd() {
		offset := d.cur.pc
		opByte := d.cur.u8()
		op := ir.Opcode(opByte)
		wide := false
		if op == ir.OpWide {
			if d.cur.atEnd() {
				return errors.Errorf("truncated wide prefix at offset %d", offset)
			}
			wide = true
			op = ir.Opcode(d.cur.u8())
		}

		inst := &ir.Instruction{Offset: offset, OpCode: op}
		operand, err := d.decodeOperand(inst, op, wide)
		if err != nil {
			return errors.Wrapf(err, "decoding opcode %s at offset %d", op, offset)
		}
		inst.Operand = operand
		inst.EndOffset = d.cur.pc

		if slot, isLoad, isStore, ok := op.IsMacroLoadStore(); ok {
			d.vars.ensure(slot, offset)
			_ = isLoad
			_ = isStore
		}

		d.append(inst)
	}

	// Any fixups still pending reference offsets beyond the method body
	// that were never reached as real instructions — shouldn't happen
	// given the dangling-forward-branch rule synthesizes a NOP for those,
	// but guard against it as a structural error rather than silently
	// dropping patches.
	if d.fixups.hasPending() {
		return errors.New("unresolved forward branch fixups after decode")
	}
	d.appendSynthetics()
	return nil
}

func (d *decodeState) decodeOperand(inst *ir.Instruction, op ir.Opcode, wide bool) (any, error) {
	switch op.Kind() {
	case ir.OperandNone:
		return nil, nil

	case ir.OperandPrimitiveTypeCode:
		if err := d.cur.requireAtLeast(1); err != nil {
			return nil, err
		}
		code := d.cur.u8()
		name, ok := atypeNames[code]
		if !ok {
			return nil, fmt.Errorf("unknown newarray type code %d", code)
		}
		return &ir.TypeOperand{TypeName: name}, nil

	case ir.OperandTypeReferenceU1:
		if err := d.cur.requireAtLeast(1); err != nil {
			return nil, err
		}
		code := d.cur.u8()
		name, ok := atypeNames[code]
		if !ok {
			return nil, fmt.Errorf("unknown newarray type code %d", code)
		}
		return &ir.TypeOperand{TypeName: name}, nil

	case ir.OperandTypeReference:
		if err := d.cur.requireAtLeast(2); err != nil {
			return nil, err
		}
		idx := d.cur.u16()
		t, err := d.scope.ResolveType(idx)
		if err != nil {
			return nil, err
		}
		if op == ir.OpMultianewarray {
			if err := d.cur.requireAtLeast(1); err != nil {
				return nil, err
			}
			t.Dimensions = int(d.cur.u8())
		}
		return t, nil

	case ir.OperandFieldReference:
		if err := d.cur.requireAtLeast(2); err != nil {
			return nil, err
		}
		idx := d.cur.u16()
		return d.scope.ResolveField(idx)

	case ir.OperandMethodReference:
		if err := d.cur.requireAtLeast(2); err != nil {
			return nil, err
		}
		idx := d.cur.u16()
		m, err := d.scope.ResolveMethod(idx, op == ir.OpInvokeinterface)
		if err != nil {
			return nil, err
		}
		if op == ir.OpInvokeinterface {
			if err := d.cur.requireAtLeast(2); err != nil {
				return nil, err
			}
			d.cur.skip(2) // count (u1) + zero (u1), discarded per §4.1
		}
		return m, nil

	case ir.OperandDynamicCallSite:
		if err := d.cur.requireAtLeast(4); err != nil {
			return nil, err
		}
		idx := d.cur.u16()
		d.cur.skip(2) // two trailing zero bytes, discarded per §4.1/§5C
		return d.scope.ResolveDynamicCallSite(idx)

	case ir.OperandBranchTarget:
		return d.decodeBranchTarget(inst, op)

	case ir.OperandI1:
		if err := d.cur.requireAtLeast(1); err != nil {
			return nil, err
		}
		return int32(d.cur.i8()), nil

	case ir.OperandI2:
		if err := d.cur.requireAtLeast(2); err != nil {
			return nil, err
		}
		return int32(d.cur.i16()), nil

	case ir.OperandI8:
		if err := d.cur.requireAtLeast(4); err != nil {
			return nil, err
		}
		return d.cur.i32(), nil

	case ir.OperandConstant:
		if err := d.cur.requireAtLeast(1); err != nil {
			return nil, err
		}
		idx := uint16(d.cur.u8())
		return d.scope.ResolveConstant(idx)

	case ir.OperandWideConstant:
		if err := d.cur.requireAtLeast(2); err != nil {
			return nil, err
		}
		idx := d.cur.u16()
		return d.scope.ResolveConstant(idx)

	case ir.OperandSwitch:
		return d.decodeSwitch(inst, op)

	case ir.OperandLocal:
		return d.decodeLocal(wide)

	case ir.OperandLocalI1:
		return d.decodeIinc(wide)

	case ir.OperandLocalI2:
		return d.decodeLocal(true)
	}
	return nil, fmt.Errorf("unrecognized opcode %s", op)
}

func (d *decodeState) decodeLocal(wide bool) (any, error) {
	var slot int
	if wide {
		if err := d.cur.requireAtLeast(2); err != nil {
			return nil, err
		}
		slot = int(d.cur.u16())
	} else {
		if err := d.cur.requireAtLeast(1); err != nil {
			return nil, err
		}
		slot = int(d.cur.u8())
	}
	if slot < 0 {
		return &ir.ErrorOperand{Message: "negative variable slot"}, nil
	}
	d.vars.ensure(slot, d.cur.pc)
	return &ir.LocalOperand{Slot: slot, Wide: wide}, nil
}

func (d *decodeState) decodeIinc(wide bool) (any, error) {
	var slot int
	var delta int32
	if wide {
		if err := d.cur.requireAtLeast(4); err != nil {
			return nil, err
		}
		slot = int(d.cur.u16())
		delta = int32(d.cur.i16())
	} else {
		if err := d.cur.requireAtLeast(2); err != nil {
			return nil, err
		}
		slot = int(d.cur.u8())
		delta = int32(d.cur.i8())
	}
	if slot < 0 {
		return &ir.ErrorOperand{Message: "negative variable slot"}, nil
	}
	d.vars.ensure(slot, d.cur.pc)
	return &ir.LocalOperand{Slot: slot, Delta: delta, Wide: wide}, nil
}

// decodeBranchTarget implements §4.1's target resolution rule. goto_w and
// jsr_w carry a 4-byte offset; every other branch opcode carries 2.
func (d *decodeState) decodeBranchTarget(inst *ir.Instruction, op ir.Opcode) (any, error) {
	wide32 := op == ir.OpGotoW || op == ir.OpJsrW
	var delta int32
	if wide32 {
		if err := d.cur.requireAtLeast(4); err != nil {
			return nil, err
		}
		delta = d.cur.i32()
	} else {
		if err := d.cur.requireAtLeast(2); err != nil {
			return nil, err
		}
		delta = int32(d.cur.i16())
	}
	target := inst.Offset + int(delta)
	return d.resolveTarget(inst, target)
}

// resolveTarget applies §4.1's four-way rule, returning the operand value
// to store (a *ir.Instruction, possibly pending via fixup — in which case
// the returned value is a placeholder *ir.Instruction that the fixup
// mutates in place is not possible since Go values are copied, so instead
// we return nil here and let the fixup assign inst.Operand directly).
func (d *decodeState) resolveTarget(inst *ir.Instruction, target int) (any, error) {
	switch {
	case target < inst.Offset:
		existing, ok := d.byOffset[target]
		if !ok {
			return nil, fmt.Errorf("branch at offset %d targets %d, which was not decoded as an instruction boundary", inst.Offset, target)
		}
		if existing.Label == nil {
			existing.Label = d.labelFor(target)
		}
		return existing, nil

	case target == inst.Offset:
		// Self-branch: bind to the current instruction, once it exists.
		// inst.Operand is assigned by the caller right after this returns,
		// so queue a same-tick fixup that runs after append() links inst in.
		d.fixups.queue(target, func(self *ir.Instruction) {
			self.Operand = self
		})
		return nil, nil

	case target > d.codeSizeLimit():
		return d.syntheticNopAt(target), nil

	default: // offset < target <= size: forward fixup
		d.fixups.queue(target, func(real *ir.Instruction) {
			if real.Label == nil {
				real.Label = d.labelFor(target)
			}
			inst.Operand = real
		})
		return nil, nil
	}
}

func (d *decodeState) codeSizeLimit() int { return len(d.mb.Code) }

// syntheticNopAt returns the (possibly already-created) synthetic NOP that
// models a dangling forward branch past the end of the method body,
// reusing one instance when multiple branches dangle to the same offset.
// Linking into the main Next/Prev chain is deferred to appendSynthetics,
// run once decoding finishes, so it never races with the main loop's own
// tail-tracking.
func (d *decodeState) syntheticNopAt(target int) *ir.Instruction {
	if existing, ok := d.byOffset[target]; ok {
		return existing
	}
	nop := &ir.Instruction{Offset: target, EndOffset: target, OpCode: ir.OpNop, Label: d.labelFor(target)}
	d.ctx.Log.Warn().Int("offset", target).Msg("dangling forward branch beyond method body, synthesizing NOP")
	d.byOffset[target] = nop
	d.synthetics = append(d.synthetics, nop)
	return nop
}

// appendSynthetics links every dangling-branch NOP created during
// decoding onto the tail of the real instruction sequence, in creation
// order.
func (d *decodeState) appendSynthetics() {
	for _, nop := range d.synthetics {
		if d.prev != nil {
			d.prev.Next = nop
			nop.Prev = d.prev
		} else {
			d.first = nop
		}
		d.prev = nop
	}
	d.synthetics = nil
}

func (d *decodeState) decodeSwitch(inst *ir.Instruction, op ir.Opcode) (any, error) {
	// Pad to 4-byte alignment measured from the start of the code array.
	pad := (4 - (d.cur.pc % 4)) % 4
	if err := d.cur.requireAtLeast(pad + 4); err != nil {
		return nil, err
	}
	d.cur.skip(pad)

	defaultDelta := d.cur.i32()
	sw := &ir.SwitchInfo{}

	defTarget, err := d.resolveSwitchTarget(inst, defaultDelta, func(t *ir.Instruction) { sw.Default = t })
	if err != nil {
		return nil, err
	}
	sw.Default = defTarget

	if op == ir.OpTableswitch {
		if err := d.cur.requireAtLeast(8); err != nil {
			return nil, err
		}
		sw.Low = d.cur.i32()
		sw.High = d.cur.i32()
		count := int(sw.High - sw.Low + 1)
		if count < 0 {
			return nil, fmt.Errorf("tableswitch at offset %d has high < low", inst.Offset)
		}
		if err := d.cur.requireAtLeast(count * 4); err != nil {
			return nil, err
		}
		sw.Targets = make([]*ir.Instruction, count)
		for i := 0; i < count; i++ {
			idx := i
			delta := d.cur.i32()
			t, err := d.resolveSwitchTarget(inst, delta, func(tgt *ir.Instruction) { sw.Targets[idx] = tgt })
			if err != nil {
				return nil, err
			}
			sw.Targets[idx] = t
		}
	} else {
		if err := d.cur.requireAtLeast(4); err != nil {
			return nil, err
		}
		npairs := int(d.cur.i32())
		if npairs < 0 {
			return nil, fmt.Errorf("lookupswitch at offset %d has negative npairs", inst.Offset)
		}
		if err := d.cur.requireAtLeast(npairs * 8); err != nil {
			return nil, err
		}
		sw.Keys = make([]int32, npairs)
		sw.Targets = make([]*ir.Instruction, npairs)
		for i := 0; i < npairs; i++ {
			idx := i
			sw.Keys[i] = d.cur.i32()
			delta := d.cur.i32()
			t, err := d.resolveSwitchTarget(inst, delta, func(tgt *ir.Instruction) { sw.Targets[idx] = tgt })
			if err != nil {
				return nil, err
			}
			sw.Targets[idx] = t
		}
	}

	return sw, nil
}

// resolveSwitchTarget resolves one switch target offset, wiring a fixup
// (via the supplied setter) when the target hasn't been decoded yet.
func (d *decodeState) resolveSwitchTarget(inst *ir.Instruction, delta int32, set func(*ir.Instruction)) (*ir.Instruction, error) {
	target := inst.Offset + int(delta)
	switch {
	case target < inst.Offset:
		existing, ok := d.byOffset[target]
		if !ok {
			return nil, fmt.Errorf("switch at offset %d targets %d, which was not decoded as an instruction boundary", inst.Offset, target)
		}
		if existing.Label == nil {
			existing.Label = d.labelFor(target)
		}
		return existing, nil
	case target == inst.Offset:
		d.fixups.queue(target, func(self *ir.Instruction) { set(self) })
		return nil, nil
	case target > d.codeSizeLimit():
		return d.syntheticNopAt(target), nil
	default:
		d.fixups.queue(target, func(real *ir.Instruction) {
			if real.Label == nil {
				real.Label = d.labelFor(target)
			}
			set(real)
		})
		return nil, nil
	}
}

// reresolveVariableOperands attaches the merged variable name/type to
// every LocalOperand, using offset+encoded-size for stores since the
// stored value becomes visible only after the store completes (§4.1 post-pass).
func (d *decodeState) reresolveVariableOperands() {
	for i := d.first; i != nil; i = i.Next {
		lo, ok := i.Operand.(*ir.LocalOperand)
		if !ok {
			continue
		}
		effective := i.Offset
		if i.OpCode.IsStore() {
			effective = i.EndOffset
		}
		if scope := d.vars.Lookup(lo.Slot, effective); scope != nil {
			lo.Name = scope.Name
			lo.Type = scope.Type
		}
	}
}
