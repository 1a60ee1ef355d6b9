package ir

import "fmt"

// Instruction is a single decoded bytecode instruction. Offset is stable
// and unique within a method body; instructions are linked in a doubly
// linked sequence preserving read order (§3).
type Instruction struct {
	Offset    int
	EndOffset int
	OpCode    Opcode
	Operand   any // one of the Operand* types below, or nil
	Label     *Label

	Prev, Next *Instruction
}

func (i *Instruction) String() string {
	if i == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%04X: %s", i.Offset, i.OpCode)
}

func (op Opcode) String() string {
	if name, ok := opcodeNames[op]; ok {
		return name
	}
	return fmt.Sprintf("op_%02X", uint8(op))
}

// Label marks an instruction as a forward-branch or join target. A fresh
// Label is attached the first time something refers to an instruction by
// offset before or instead of falling through to it.
type Label struct {
	Name string // "Label_%04d" on the target offset, per original_source convention
}

// SwitchInfo is the operand of tableswitch/lookupswitch.
type SwitchInfo struct {
	Default *Instruction
	// Tableswitch: Keys is nil, Targets[i] corresponds to key Low+i.
	Low, High int32
	Keys      []int32 // nil for tableswitch
	Targets   []*Instruction
}

// ErrorOperand replaces a malformed operand (e.g. a negative variable
// slot) that the decoder recovers from per §4.1's "keep decoding" rule.
type ErrorOperand struct {
	Message string
}

// LocalOperand is the operand of a Local/LocalI1/LocalI2-kind opcode: a
// variable slot index plus, for iinc, a signed delta.
type LocalOperand struct {
	Slot  int
	Delta int32 // only meaningful for IINC
	Wide  bool

	// Name/Type are filled in by the Variable Table Merger (§4.2) once a
	// LocalVariableTable scope covering this reference is known; empty
	// until then (an unnamed/unscoped local, or a class with no debug
	// table at all).
	Name string
	Type string
}

// ConstantOperand is a resolved constant-pool value (Integer/Float/Long/
// Double/String/Class/MethodHandle/MethodType), produced by the external
// metadata scope.
type ConstantOperand struct {
	Value any
}

// TypeOperand is a resolved type reference (new/anewarray/checkcast/
// instanceof/multianewarray) or, for newarray, a primitive array type code.
type TypeOperand struct {
	TypeName   string // fully qualified internal name, or primitive name
	Dimensions int    // multianewarray's trailing u1, else 0/1 implied by caller
}

// FieldOperand is a resolved field reference.
type FieldOperand struct {
	ClassName  string
	FieldName  string
	Descriptor string
}

// MethodOperand is a resolved method reference.
type MethodOperand struct {
	ClassName   string
	MethodName  string
	Descriptor  string
	IsInterface bool
}

// DynamicCallSiteOperand is a resolved invokedynamic call site.
type DynamicCallSiteOperand struct {
	BootstrapMethodRef int
	MethodName         string
	Descriptor         string
}

var opcodeNames = buildOpcodeNames()

func buildOpcodeNames() map[Opcode]string {
	// Built from the teacher's Op<Name> symbol table conventions; the
	// spelled-out lowercase form matches standard JVM mnemonics.
	return map[Opcode]string{
		OpNop: "nop", OpAconstNull: "aconst_null",
		OpIconstM1: "iconst_m1", OpIconst0: "iconst_0", OpIconst1: "iconst_1",
		OpIconst2: "iconst_2", OpIconst3: "iconst_3", OpIconst4: "iconst_4", OpIconst5: "iconst_5",
		OpLconst0: "lconst_0", OpLconst1: "lconst_1",
		OpFconst0: "fconst_0", OpFconst1: "fconst_1", OpFconst2: "fconst_2",
		OpDconst0: "dconst_0", OpDconst1: "dconst_1",
		OpBipush: "bipush", OpSipush: "sipush",
		OpLdc: "ldc", OpLdcW: "ldc_w", OpLdc2W: "ldc2_w",
		OpIload: "iload", OpLload: "lload", OpFload: "fload", OpDload: "dload", OpAload: "aload",
		OpIstore: "istore", OpLstore: "lstore", OpFstore: "fstore", OpDstore: "dstore", OpAstore: "astore",
		OpIaload: "iaload", OpLaload: "laload", OpFaload: "faload", OpDaload: "daload",
		OpAaload: "aaload", OpBaload: "baload", OpCaload: "caload", OpSaload: "saload",
		OpIastore: "iastore", OpLastore: "lastore", OpFastore: "fastore", OpDastore: "dastore",
		OpAastore: "aastore", OpBastore: "bastore", OpCastore: "castore", OpSastore: "sastore",
		OpPop: "pop", OpPop2: "pop2", OpDup: "dup", OpDupX1: "dup_x1", OpDupX2: "dup_x2",
		OpDup2: "dup2", OpDup2X1: "dup2_x1", OpDup2X2: "dup2_x2", OpSwap: "swap",
		OpIadd: "iadd", OpLadd: "ladd", OpFadd: "fadd", OpDadd: "dadd",
		OpIsub: "isub", OpLsub: "lsub", OpFsub: "fsub", OpDsub: "dsub",
		OpImul: "imul", OpLmul: "lmul", OpFmul: "fmul", OpDmul: "dmul",
		OpIdiv: "idiv", OpLdiv: "ldiv", OpFdiv: "fdiv", OpDdiv: "ddiv",
		OpIrem: "irem", OpLrem: "lrem", OpFrem: "frem", OpDrem: "drem",
		OpIneg: "ineg", OpLneg: "lneg", OpFneg: "fneg", OpDneg: "dneg",
		OpIshl: "ishl", OpLshl: "lshl", OpIshr: "ishr", OpLshr: "lshr",
		OpIushr: "iushr", OpLushr: "lushr",
		OpIand: "iand", OpLand: "land", OpIor: "ior", OpLor: "lor", OpIxor: "ixor", OpLxor: "lxor",
		OpIinc: "iinc",
		OpI2l:  "i2l", OpI2f: "i2f", OpI2d: "i2d", OpL2i: "l2i", OpL2f: "l2f", OpL2d: "l2d",
		OpF2i: "f2i", OpF2l: "f2l", OpF2d: "f2d", OpD2i: "d2i", OpD2l: "d2l", OpD2f: "d2f",
		OpI2b: "i2b", OpI2c: "i2c", OpI2s: "i2s",
		OpLcmp: "lcmp", OpFcmpl: "fcmpl", OpFcmpg: "fcmpg", OpDcmpl: "dcmpl", OpDcmpg: "dcmpg",
		OpIfeq: "ifeq", OpIfne: "ifne", OpIflt: "iflt", OpIfge: "ifge", OpIfgt: "ifgt", OpIfle: "ifle",
		OpIfIcmpeq: "if_icmpeq", OpIfIcmpne: "if_icmpne", OpIfIcmplt: "if_icmplt",
		OpIfIcmpge: "if_icmpge", OpIfIcmpgt: "if_icmpgt", OpIfIcmple: "if_icmple",
		OpIfAcmpeq: "if_acmpeq", OpIfAcmpne: "if_acmpne",
		OpGoto: "goto", OpJsr: "jsr", OpRet: "ret",
		OpTableswitch: "tableswitch", OpLookupswitch: "lookupswitch",
		OpIreturn: "ireturn", OpLreturn: "lreturn", OpFreturn: "freturn",
		OpDreturn: "dreturn", OpAreturn: "areturn", OpReturn: "return",
		OpGetstatic: "getstatic", OpPutstatic: "putstatic",
		OpGetfield: "getfield", OpPutfield: "putfield",
		OpInvokevirtual: "invokevirtual", OpInvokespecial: "invokespecial",
		OpInvokestatic: "invokestatic", OpInvokeinterface: "invokeinterface",
		OpInvokedynamic: "invokedynamic",
		OpNew:           "new", OpNewarray: "newarray", OpAnewarray: "anewarray",
		OpArraylength: "arraylength", OpAthrow: "athrow",
		OpCheckcast: "checkcast", OpInstanceof: "instanceof",
		OpMonitorenter: "monitorenter", OpMonitorexit: "monitorexit",
		OpWide: "wide", OpMultianewarray: "multianewarray",
		OpIfnull: "ifnull", OpIfnonnull: "ifnonnull",
		OpGotoW: "goto_w", OpJsrW: "jsr_w",
	}
}
