package verifier

import (
	"fmt"

	"github.com/daimatz/godecompiler/pkg/ir"
)

// stepResult carries what a single instruction does to the operand stack
// plus, for invokespecial <init>, the `new` site it initializes.
type stepResult struct {
	initializes    bool
	initializedNew *ir.Instruction // nil when initializing UninitializedThis rather than a `new`
}

// apply mutates st to reflect executing inst from its current state,
// mirroring the teacher's interpreter switch (pkg/vm/instructions.go) but
// at the type level instead of the value level: every case here has a
// direct counterpart there.
func apply(st *state, inst *ir.Instruction) (stepResult, error) {
	op := inst.OpCode

	pop := func(n int) ([]ir.FrameValue, error) {
		if len(st.stack) < n {
			return nil, fmt.Errorf("stack underflow at offset %d (%s): need %d, have %d", inst.Offset, op, n, len(st.stack))
		}
		popped := append([]ir.FrameValue(nil), st.stack[len(st.stack)-n:]...)
		st.stack = st.stack[:len(st.stack)-n]
		return popped, nil
	}
	push := func(vs ...ir.FrameValue) { st.stack = append(st.stack, vs...) }

	if slot, isLoad, isStore, ok := op.IsMacroLoadStore(); ok {
		return stepResult{}, applyLocalAccess(st, op, slot, isLoad, isStore, pop, push)
	}

	switch op {
	case ir.OpNop, ir.OpGoto, ir.OpGotoW:
		// no stack effect

	case ir.OpAconstNull:
		push(ir.FrameValue{Kind: ir.Null})

	case ir.OpIconstM1, ir.OpIconst0, ir.OpIconst1, ir.OpIconst2, ir.OpIconst3, ir.OpIconst4, ir.OpIconst5,
		ir.OpBipush, ir.OpSipush:
		push(ir.FrameValue{Kind: ir.Integer})

	case ir.OpLconst0, ir.OpLconst1:
		push(ir.FrameValue{Kind: ir.Long}, ir.FrameValue{Kind: ir.Top})

	case ir.OpFconst0, ir.OpFconst1, ir.OpFconst2:
		push(ir.FrameValue{Kind: ir.Float})

	case ir.OpDconst0, ir.OpDconst1:
		push(ir.FrameValue{Kind: ir.Double}, ir.FrameValue{Kind: ir.Top})

	case ir.OpLdc, ir.OpLdcW:
		push(valueForConstant(inst.Operand))

	case ir.OpLdc2W:
		v := valueForConstant(inst.Operand)
		push(v, ir.FrameValue{Kind: ir.Top})

	case ir.OpIload, ir.OpLload, ir.OpFload, ir.OpDload, ir.OpAload:
		lo, _ := inst.Operand.(*ir.LocalOperand)
		if lo == nil {
			return stepResult{}, fmt.Errorf("load at offset %d missing local operand", inst.Offset)
		}
		return stepResult{}, applyLocalAccess(st, op, lo.Slot, true, false, pop, push)

	case ir.OpIstore, ir.OpLstore, ir.OpFstore, ir.OpDstore, ir.OpAstore:
		lo, _ := inst.Operand.(*ir.LocalOperand)
		if lo == nil {
			return stepResult{}, fmt.Errorf("store at offset %d missing local operand", inst.Offset)
		}
		return stepResult{}, applyLocalAccess(st, op, lo.Slot, false, true, pop, push)

	case ir.OpIinc:
		// no stack effect

	case ir.OpIaload, ir.OpBaload, ir.OpCaload, ir.OpSaload:
		if _, err := pop(2); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Integer})
	case ir.OpLaload:
		if _, err := pop(2); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Long}, ir.FrameValue{Kind: ir.Top})
	case ir.OpFaload:
		if _, err := pop(2); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Float})
	case ir.OpDaload:
		if _, err := pop(2); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Double}, ir.FrameValue{Kind: ir.Top})
	case ir.OpAaload:
		if _, err := pop(2); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Reference})

	case ir.OpIastore, ir.OpBastore, ir.OpCastore, ir.OpSastore, ir.OpFastore, ir.OpAastore:
		if _, err := pop(3); err != nil {
			return stepResult{}, err
		}
	case ir.OpLastore, ir.OpDastore:
		if _, err := pop(4); err != nil {
			return stepResult{}, err
		}

	case ir.OpPop:
		if _, err := pop(1); err != nil {
			return stepResult{}, err
		}
	case ir.OpPop2:
		if _, err := pop(2); err != nil {
			return stepResult{}, err
		}

	case ir.OpDup:
		v, err := pop(1)
		if err != nil {
			return stepResult{}, err
		}
		push(v[0], v[0])
	case ir.OpDupX1:
		v, err := pop(2)
		if err != nil {
			return stepResult{}, err
		}
		push(v[1], v[0], v[1])
	case ir.OpDupX2:
		v, err := pop(3)
		if err != nil {
			return stepResult{}, err
		}
		push(v[2], v[0], v[1], v[2])
	case ir.OpDup2:
		v, err := pop(2)
		if err != nil {
			return stepResult{}, err
		}
		push(v[0], v[1], v[0], v[1])
	case ir.OpDup2X1:
		v, err := pop(3)
		if err != nil {
			return stepResult{}, err
		}
		push(v[1], v[2], v[0], v[1], v[2])
	case ir.OpDup2X2:
		v, err := pop(4)
		if err != nil {
			return stepResult{}, err
		}
		push(v[2], v[3], v[0], v[1], v[2], v[3])
	case ir.OpSwap:
		v, err := pop(2)
		if err != nil {
			return stepResult{}, err
		}
		push(v[1], v[0])

	case ir.OpIadd, ir.OpIsub, ir.OpImul, ir.OpIdiv, ir.OpIrem,
		ir.OpIand, ir.OpIor, ir.OpIxor, ir.OpIshl, ir.OpIshr, ir.OpIushr:
		if _, err := pop(2); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Integer})
	case ir.OpIneg:
		if _, err := pop(1); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Integer})

	case ir.OpLadd, ir.OpLsub, ir.OpLmul, ir.OpLdiv, ir.OpLrem, ir.OpLand, ir.OpLor, ir.OpLxor:
		if _, err := pop(4); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Long}, ir.FrameValue{Kind: ir.Top})
	case ir.OpLshl, ir.OpLshr, ir.OpLushr:
		// long value (2 slots) + int shift amount (1 slot)
		if _, err := pop(3); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Long}, ir.FrameValue{Kind: ir.Top})
	case ir.OpLneg:
		if _, err := pop(2); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Long}, ir.FrameValue{Kind: ir.Top})

	case ir.OpFadd, ir.OpFsub, ir.OpFmul, ir.OpFdiv, ir.OpFrem:
		if _, err := pop(2); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Float})
	case ir.OpFneg:
		if _, err := pop(1); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Float})

	case ir.OpDadd, ir.OpDsub, ir.OpDmul, ir.OpDdiv, ir.OpDrem:
		if _, err := pop(4); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Double}, ir.FrameValue{Kind: ir.Top})
	case ir.OpDneg:
		if _, err := pop(2); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Double}, ir.FrameValue{Kind: ir.Top})

	case ir.OpLcmp:
		if _, err := pop(4); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Integer})
	case ir.OpFcmpl, ir.OpFcmpg:
		if _, err := pop(2); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Integer})
	case ir.OpDcmpl, ir.OpDcmpg:
		if _, err := pop(4); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Integer})

	case ir.OpI2l:
		if _, err := pop(1); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Long}, ir.FrameValue{Kind: ir.Top})
	case ir.OpI2f:
		if _, err := pop(1); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Float})
	case ir.OpI2d:
		if _, err := pop(1); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Double}, ir.FrameValue{Kind: ir.Top})
	case ir.OpI2b, ir.OpI2c, ir.OpI2s:
		if _, err := pop(1); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Integer})

	case ir.OpL2i:
		if _, err := pop(2); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Integer})
	case ir.OpL2f:
		if _, err := pop(2); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Float})
	case ir.OpL2d:
		if _, err := pop(2); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Double}, ir.FrameValue{Kind: ir.Top})

	case ir.OpF2i:
		if _, err := pop(1); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Integer})
	case ir.OpF2l:
		if _, err := pop(1); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Long}, ir.FrameValue{Kind: ir.Top})
	case ir.OpF2d:
		if _, err := pop(1); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Double}, ir.FrameValue{Kind: ir.Top})

	case ir.OpD2i:
		if _, err := pop(2); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Integer})
	case ir.OpD2l:
		if _, err := pop(2); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Long}, ir.FrameValue{Kind: ir.Top})
	case ir.OpD2f:
		if _, err := pop(2); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Float})

	case ir.OpIfeq, ir.OpIfne, ir.OpIflt, ir.OpIfge, ir.OpIfgt, ir.OpIfle,
		ir.OpIfnull, ir.OpIfnonnull:
		if _, err := pop(1); err != nil {
			return stepResult{}, err
		}
	case ir.OpIfIcmpeq, ir.OpIfIcmpne, ir.OpIfIcmplt, ir.OpIfIcmpge, ir.OpIfIcmpgt, ir.OpIfIcmple,
		ir.OpIfAcmpeq, ir.OpIfAcmpne:
		if _, err := pop(2); err != nil {
			return stepResult{}, err
		}

	case ir.OpTableswitch, ir.OpLookupswitch:
		if _, err := pop(1); err != nil {
			return stepResult{}, err
		}

	case ir.OpIreturn, ir.OpFreturn, ir.OpAreturn:
		if _, err := pop(1); err != nil {
			return stepResult{}, err
		}
	case ir.OpLreturn, ir.OpDreturn:
		if _, err := pop(2); err != nil {
			return stepResult{}, err
		}
	case ir.OpReturn:
		// no stack effect

	case ir.OpGetstatic:
		f, _ := inst.Operand.(*ir.FieldOperand)
		if f == nil {
			return stepResult{}, fmt.Errorf("getstatic at offset %d missing field operand", inst.Offset)
		}
		push(valuesForDescriptor(f.Descriptor)...)
	case ir.OpPutstatic:
		f, _ := inst.Operand.(*ir.FieldOperand)
		if f == nil {
			return stepResult{}, fmt.Errorf("putstatic at offset %d missing field operand", inst.Offset)
		}
		if _, err := pop(len(valuesForDescriptor(f.Descriptor))); err != nil {
			return stepResult{}, err
		}
	case ir.OpGetfield:
		f, _ := inst.Operand.(*ir.FieldOperand)
		if f == nil {
			return stepResult{}, fmt.Errorf("getfield at offset %d missing field operand", inst.Offset)
		}
		if _, err := pop(1); err != nil {
			return stepResult{}, err
		}
		push(valuesForDescriptor(f.Descriptor)...)
	case ir.OpPutfield:
		f, _ := inst.Operand.(*ir.FieldOperand)
		if f == nil {
			return stepResult{}, fmt.Errorf("putfield at offset %d missing field operand", inst.Offset)
		}
		if _, err := pop(1 + len(valuesForDescriptor(f.Descriptor))); err != nil {
			return stepResult{}, err
		}

	case ir.OpInvokevirtual, ir.OpInvokespecial, ir.OpInvokestatic, ir.OpInvokeinterface:
		m, _ := inst.Operand.(*ir.MethodOperand)
		if m == nil {
			return stepResult{}, fmt.Errorf("%s at offset %d missing method operand", op, inst.Offset)
		}
		argSlots := methodParamSlots(m.Descriptor)
		hasReceiver := op != ir.OpInvokestatic
		total := argSlots
		if hasReceiver {
			total++
		}
		popped, err := pop(total)
		if err != nil {
			return stepResult{}, err
		}
		result := stepResult{}
		if op == ir.OpInvokespecial && m.MethodName == "<init>" && hasReceiver {
			receiver := popped[0]
			switch receiver.Kind {
			case ir.Uninitialized:
				result = stepResult{initializes: true, initializedNew: receiver.AtInstruction}
			case ir.UninitializedThis:
				result = stepResult{initializes: true}
			}
		}
		push(valuesForDescriptor(methodReturnDescriptor(m.Descriptor))...)
		return result, nil

	case ir.OpInvokedynamic:
		d, _ := inst.Operand.(*ir.DynamicCallSiteOperand)
		if d == nil {
			return stepResult{}, fmt.Errorf("invokedynamic at offset %d missing call site operand", inst.Offset)
		}
		if _, err := pop(methodParamSlots(d.Descriptor)); err != nil {
			return stepResult{}, err
		}
		push(valuesForDescriptor(methodReturnDescriptor(d.Descriptor))...)

	case ir.OpNew:
		push(ir.FrameValue{Kind: ir.Uninitialized, AtInstruction: inst})

	case ir.OpNewarray:
		if _, err := pop(1); err != nil {
			return stepResult{}, err
		}
		t, _ := inst.Operand.(*ir.TypeOperand)
		typeName := "array"
		if t != nil {
			typeName = "[" + t.TypeName
		}
		push(ir.FrameValue{Kind: ir.Reference, Type: typeName})

	case ir.OpAnewarray:
		if _, err := pop(1); err != nil {
			return stepResult{}, err
		}
		t, _ := inst.Operand.(*ir.TypeOperand)
		typeName := "array"
		if t != nil {
			typeName = "[L" + t.TypeName + ";"
		}
		push(ir.FrameValue{Kind: ir.Reference, Type: typeName})

	case ir.OpMultianewarray:
		t, _ := inst.Operand.(*ir.TypeOperand)
		dims := 1
		if t != nil && t.Dimensions > 0 {
			dims = t.Dimensions
		}
		if _, err := pop(dims); err != nil {
			return stepResult{}, err
		}
		typeName := "array"
		if t != nil {
			typeName = t.TypeName
		}
		push(ir.FrameValue{Kind: ir.Reference, Type: typeName})

	case ir.OpArraylength:
		if _, err := pop(1); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Integer})

	case ir.OpAthrow:
		if _, err := pop(1); err != nil {
			return stepResult{}, err
		}

	case ir.OpCheckcast:
		v, err := pop(1)
		if err != nil {
			return stepResult{}, err
		}
		t, _ := inst.Operand.(*ir.TypeOperand)
		typeName := v[0].Type
		if t != nil {
			typeName = t.TypeName
		}
		push(ir.FrameValue{Kind: ir.Reference, Type: typeName})

	case ir.OpInstanceof:
		if _, err := pop(1); err != nil {
			return stepResult{}, err
		}
		push(ir.FrameValue{Kind: ir.Integer})

	case ir.OpMonitorenter, ir.OpMonitorexit:
		if _, err := pop(1); err != nil {
			return stepResult{}, err
		}

	case ir.OpJsr, ir.OpJsrW:
		push(ir.FrameValue{Kind: ir.Reference, Type: "returnAddress"})
	case ir.OpRet:
		// no stack effect; operates on a local slot only

	default:
		return stepResult{}, fmt.Errorf("verifier: unhandled opcode %s at offset %d", op, inst.Offset)
	}

	return stepResult{}, nil
}

// applyLocalAccess handles every load/store form, including the
// macro xload_n/xstore_n opcodes that carry their slot implicitly.
func applyLocalAccess(st *state, op ir.Opcode, slot int, isLoad, isStore bool, pop func(int) ([]ir.FrameValue, error), push func(...ir.FrameValue)) error {
	wide := op.IsWideTwoSlot()
	if isLoad {
		if slot >= len(st.locals) {
			return fmt.Errorf("load from slot %d beyond local variable table (size %d)", slot, len(st.locals))
		}
		v := st.locals[slot]
		if wide {
			push(v, ir.FrameValue{Kind: ir.Top})
		} else {
			push(v)
		}
		return nil
	}
	if isStore {
		n := 1
		if wide {
			n = 2
		}
		popped, err := pop(n)
		if err != nil {
			return err
		}
		for slot+len(popped) > len(st.locals) {
			st.locals = append(st.locals, ir.FrameValue{Kind: ir.Top})
		}
		st.locals[slot] = popped[0]
		if wide {
			st.locals[slot+1] = ir.FrameValue{Kind: ir.Top}
		}
		return nil
	}
	return fmt.Errorf("local access opcode %s is neither load nor store", op)
}

// valueForConstant maps a resolved ldc/ldc_w/ldc2_w constant to its
// FrameValue, based on the concrete Go type the metadata scope resolved it
// to (§6 ResolveConstant).
func valueForConstant(operand any) ir.FrameValue {
	co, ok := operand.(*ir.ConstantOperand)
	if !ok || co == nil {
		return ir.FrameValue{Kind: ir.Reference, Type: "java/lang/Object"}
	}
	switch co.Value.(type) {
	case int32:
		return ir.FrameValue{Kind: ir.Integer}
	case int64:
		return ir.FrameValue{Kind: ir.Long}
	case float32:
		return ir.FrameValue{Kind: ir.Float}
	case float64:
		return ir.FrameValue{Kind: ir.Double}
	case string:
		return ir.FrameValue{Kind: ir.Reference, Type: "java/lang/String"}
	default:
		return ir.FrameValue{Kind: ir.Reference, Type: "java/lang/Object"}
	}
}
