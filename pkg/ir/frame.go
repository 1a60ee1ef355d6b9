package ir

import "fmt"

// FrameValueKind enumerates the abstract value kinds a stack or variable
// slot can hold (§3). Long and Double occupy two adjacent slots; the
// second slot holds Top.
type FrameValueKind int

const (
	Top FrameValueKind = iota
	Integer
	Float
	Long
	Double
	Null
	UninitializedThis
	Uninitialized
	Reference
)

// FrameValue is the abstract value at a stack or variable slot.
type FrameValue struct {
	Kind FrameValueKind
	Type string // concrete type name, meaningful for Reference/Uninitialized-after-init

	// AtInstruction is set when Kind == Uninitialized: the `new` instruction
	// whose result this slot holds before its constructor runs.
	AtInstruction *Instruction
}

func (v FrameValue) String() string {
	switch v.Kind {
	case Top:
		return "Top"
	case Integer:
		return "Integer"
	case Float:
		return "Float"
	case Long:
		return "Long"
	case Double:
		return "Double"
	case Null:
		return "Null"
	case UninitializedThis:
		return "UninitializedThis"
	case Uninitialized:
		return fmt.Sprintf("Uninitialized(%s)", v.AtInstruction)
	case Reference:
		return "Reference(" + v.Type + ")"
	}
	return "?"
}

// IsTwoSlot reports whether v occupies two adjacent slots (Long/Double).
func (v FrameValue) IsTwoSlot() bool {
	return v.Kind == Long || v.Kind == Double
}

// IsUninitialized reports whether v is one of the uninitialized kinds.
func (v FrameValue) IsUninitialized() bool {
	return v.Kind == Uninitialized || v.Kind == UninitializedThis
}
