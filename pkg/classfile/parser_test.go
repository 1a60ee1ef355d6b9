package classfile

import (
	"bytes"
	"encoding/binary"
	"testing"
)

// cpBuilder accumulates constant pool entries and the bytes they serialize
// to, handing back 1-based indices as they're added. Real .class files are
// painful to hand-assemble without this bit of bookkeeping.
type cpBuilder struct {
	buf     bytes.Buffer
	next    uint16
	strings map[string]uint16
}

func newCPBuilder() *cpBuilder {
	return &cpBuilder{next: 1, strings: make(map[string]uint16)}
}

func (b *cpBuilder) utf8(s string) uint16 {
	if idx, ok := b.strings[s]; ok {
		return idx
	}
	idx := b.next
	b.next++
	binary.Write(&b.buf, binary.BigEndian, uint8(TagUtf8))
	binary.Write(&b.buf, binary.BigEndian, uint16(len(s)))
	b.buf.WriteString(s)
	b.strings[s] = idx
	return idx
}

func (b *cpBuilder) class(name string) uint16 {
	nameIdx := b.utf8(name)
	idx := b.next
	b.next++
	binary.Write(&b.buf, binary.BigEndian, uint8(TagClass))
	binary.Write(&b.buf, binary.BigEndian, nameIdx)
	return idx
}

// buildMinimalClass assembles a .class file for a class "Add" with a single
// method `add(II)I` whose Code attribute decodes iload_1, iload_2, iadd,
// ireturn and carries a two-entry LocalVariableTable naming its parameters.
func buildMinimalClass(t *testing.T) []byte {
	t.Helper()

	cp := newCPBuilder()
	thisClass := cp.class("Add")
	superClass := cp.class("java/lang/Object")
	nameIdx := cp.utf8("add")
	descIdx := cp.utf8("(II)I")
	codeAttrName := cp.utf8("Code")
	lvtAttrName := cp.utf8("LocalVariableTable")
	aName := cp.utf8("a")
	bName := cp.utf8("b")
	iDesc := cp.utf8("I")

	var buf bytes.Buffer
	w := func(v any) { binary.Write(&buf, binary.BigEndian, v) }

	w(uint32(classMagic))
	w(uint16(0))  // minor
	w(uint16(61)) // major
	w(cp.next)    // constant_pool_count = highest index + 1
	buf.Write(cp.buf.Bytes())

	w(uint16(AccSuper))
	w(thisClass)
	w(superClass)
	w(uint16(0)) // interfaces_count
	w(uint16(0)) // fields_count

	w(uint16(1)) // methods_count
	w(uint16(AccPublic))
	w(nameIdx)
	w(descIdx)
	w(uint16(1)) // attributes_count

	code := []byte{0x1B, 0x1C, 0x60, 0xAC} // iload_1, iload_2, iadd, ireturn

	var lvt bytes.Buffer
	lw := func(v any) { binary.Write(&lvt, binary.BigEndian, v) }
	lw(uint16(2))
	lw(uint16(0))
	lw(uint16(len(code)))
	lw(aName)
	lw(iDesc)
	lw(uint16(1))
	lw(uint16(0))
	lw(uint16(len(code)))
	lw(bName)
	lw(iDesc)
	lw(uint16(2))

	var codeAttr bytes.Buffer
	cw := func(v any) { binary.Write(&codeAttr, binary.BigEndian, v) }
	cw(uint16(2))         // max_stack
	cw(uint16(3))         // max_locals
	cw(uint32(len(code))) // code_length
	codeAttr.Write(code)
	cw(uint16(0)) // exception_table_length
	cw(uint16(1)) // Code's own attributes_count
	cw(lvtAttrName)
	cw(uint32(lvt.Len()))
	codeAttr.Write(lvt.Bytes())

	w(codeAttrName)
	w(uint32(codeAttr.Len()))
	buf.Write(codeAttr.Bytes())

	w(uint16(0)) // class attributes_count

	return buf.Bytes()
}

func TestParseMinimalClass(t *testing.T) {
	data := buildMinimalClass(t)

	cf, err := Parse(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cf.MajorVersion != 61 {
		t.Errorf("major version: got %d, want 61", cf.MajorVersion)
	}

	className, err := cf.ClassName()
	if err != nil {
		t.Fatalf("ClassName: %v", err)
	}
	if className != "Add" {
		t.Errorf("class name: got %q, want %q", className, "Add")
	}
	if cf.SuperClassName() != "java/lang/Object" {
		t.Errorf("super class: got %q, want java/lang/Object", cf.SuperClassName())
	}

	addMethod := cf.FindMethod("add", "(II)I")
	if addMethod == nil {
		t.Fatal("add(II)I method not found")
	}
	if addMethod.Code == nil {
		t.Fatal("add method has no Code attribute")
	}
	if len(addMethod.Code.Code) != 4 {
		t.Errorf("code length: got %d, want 4", len(addMethod.Code.Code))
	}
	if addMethod.Code.MaxLocals != 3 {
		t.Errorf("max locals: got %d, want 3", addMethod.Code.MaxLocals)
	}

	if len(addMethod.Code.LocalVariables) != 2 {
		t.Fatalf("local variable count: got %d, want 2", len(addMethod.Code.LocalVariables))
	}
	if addMethod.Code.LocalVariables[0].Name != "a" || addMethod.Code.LocalVariables[0].Index != 1 {
		t.Errorf("local 0: got %+v", addMethod.Code.LocalVariables[0])
	}
	if addMethod.Code.LocalVariables[1].Name != "b" || addMethod.Code.LocalVariables[1].Index != 2 {
		t.Errorf("local 1: got %+v", addMethod.Code.LocalVariables[1])
	}

	if cf.FindMethodByName("add") == nil {
		t.Error("FindMethodByName(add) returned nil")
	}
	if cf.FindMethod("missing", "()V") != nil {
		t.Error("FindMethod should return nil for unknown method")
	}
}

func TestParseInvalidMagic(t *testing.T) {
	_, err := Parse(bytes.NewReader([]byte{0xDE, 0xAD, 0xBE, 0xEF}))
	if err == nil {
		t.Error("expected error for invalid magic number, got nil")
	}
}

func TestParseTruncated(t *testing.T) {
	data := buildMinimalClass(t)
	_, err := Parse(bytes.NewReader(data[:len(data)-20]))
	if err == nil {
		t.Error("expected error parsing truncated class file, got nil")
	}
}
