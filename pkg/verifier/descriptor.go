package verifier

import "github.com/daimatz/godecompiler/pkg/ir"

// valuesForDescriptor maps a field or return-type descriptor to the
// FrameValue(s) it pushes: zero values for "V", one for everything else,
// two (value + Top) for J/D.
func valuesForDescriptor(desc string) []ir.FrameValue {
	if desc == "" || desc == "V" {
		return nil
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
	default: // L...; or [...
		return []ir.FrameValue{{Kind: ir.Reference, Type: desc}}
	}
}

// methodParamSlots reports how many stack slots a method descriptor's
// parameter list consumes (category-2 types count twice).
func methodParamSlots(desc string) int {
	slots := 0
	i := 1 // skip '('
	for i < len(desc) && desc[i] != ')' {
		switch desc[i] {
		case 'J', 'D':
			slots += 2
			i++
		case 'L':
			for i < len(desc) && desc[i] != ';' {
				i++
			}
			i++
			slots++
		case '[':
			for i < len(desc) && desc[i] == '[' {
				i++
			}
			if i < len(desc) && desc[i] == 'L' {
				for i < len(desc) && desc[i] != ';' {
					i++
				}
			}
			i++
			slots++
		default:
			i++
			slots++
		}
	}
	return slots
}

// methodReturnDescriptor extracts the part of desc after the closing ')'.
func methodReturnDescriptor(desc string) string {
	for i := 0; i < len(desc); i++ {
		if desc[i] == ')' {
			return desc[i+1:]
		}
	}
	return "V"
}
