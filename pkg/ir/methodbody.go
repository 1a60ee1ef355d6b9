package ir

import "github.com/daimatz/godecompiler/pkg/classfile"

// Parameter is a declared method parameter: a slot index plus its declared
// type, as carried by MethodBody (§6 Input).
type Parameter struct {
	Slot int
	Name string
	Type string
}

// RawExceptionEntry is one exception_table entry as read off the class
// file, before normalization (§4.3 input).
type RawExceptionEntry struct {
	StartPC, EndPC, HandlerPC uint16
	CatchType                 string // "" for finally
}

// MethodBody is the External Interfaces §6 input handle: code bytes, max
// stack/locals, parameters, declaring type, optional variable tables, and
// the raw exception table.
type MethodBody struct {
	DeclaringType string
	Name          string
	Descriptor    string
	IsStatic      bool
	IsConstructor bool

	Code      []byte
	MaxStack  int
	MaxLocals int

	Parameters []Parameter

	LocalVariableTable     []classfile.LocalVariableEntry
	LocalVariableTypeTable []classfile.LocalVariableEntry

	RawExceptionTable []RawExceptionEntry
}

// FromCodeAttribute builds a MethodBody from a parsed classfile method,
// resolving the parameter slots/types from its descriptor. Reference
// types in the descriptor are kept in internal form (Lfoo/Bar;) since the
// core does not need a pretty-printer.
func FromCodeAttribute(declaringType string, m *classfile.MethodInfo, isCtor bool) *MethodBody {
	mb := &MethodBody{
		DeclaringType: declaringType,
		Name:          m.Name,
		Descriptor:    m.Descriptor,
		IsStatic:      m.AccessFlags&classfile.AccStatic != 0,
		IsConstructor: isCtor,
	}
	if m.Code != nil {
		mb.Code = m.Code.Code
		mb.MaxStack = int(m.Code.MaxStack)
		mb.MaxLocals = int(m.Code.MaxLocals)
		mb.LocalVariableTable = m.Code.LocalVariables
		mb.LocalVariableTypeTable = m.Code.LocalVariableTypes
		for _, h := range m.Code.ExceptionHandlers {
			ct := ""
			_ = h.CatchType // resolved externally via metadata scope by the caller
			mb.RawExceptionTable = append(mb.RawExceptionTable, RawExceptionEntry{
				StartPC: h.StartPC, EndPC: h.EndPC, HandlerPC: h.HandlerPC, CatchType: ct,
			})
		}
	}

	slot := 0
	if !mb.IsStatic {
		mb.Parameters = append(mb.Parameters, Parameter{Slot: slot, Name: "this", Type: declaringType})
		slot++
	}
	for _, t := range parseDescriptorParams(m.Descriptor) {
		mb.Parameters = append(mb.Parameters, Parameter{Slot: slot, Type: t})
		if t == "J" || t == "D" {
			slot += 2
		} else {
			slot++
		}
	}
	return mb
}

// parseDescriptorParams splits a method descriptor's parameter section
// "(...)":R into individual field-descriptor strings.
func parseDescriptorParams(descriptor string) []string {
	if len(descriptor) == 0 || descriptor[0] != '(' {
		return nil
	}
	var params []string
	i := 1
	for i < len(descriptor) && descriptor[i] != ')' {
		start := i
		for descriptor[i] == '[' {
			i++
		}
		switch descriptor[i] {
		case 'L':
			for descriptor[i] != ';' {
				i++
			}
			i++
		default:
			i++
		}
		params = append(params, descriptor[start:i])
	}
	return params
}
