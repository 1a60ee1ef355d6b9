package ir

// ExceptionBlock is a half-open instruction range [First, Last] (inclusive)
// referencing Instruction identities by offset (§3).
type ExceptionBlock struct {
	First, Last *Instruction
}

// Contains reports whether offset falls within [First.Offset, Last.EndOffset).
func (b ExceptionBlock) Contains(offset int) bool {
	if b.First == nil || b.Last == nil {
		return false
	}
	return offset >= b.First.Offset && offset < b.Last.EndOffset
}

// Overlaps reports whether two blocks share any instruction range.
func (b ExceptionBlock) Overlaps(o ExceptionBlock) bool {
	if b.First == nil || b.Last == nil || o.First == nil || o.Last == nil {
		return false
	}
	return b.First.Offset < o.Last.EndOffset && o.First.Offset < b.Last.EndOffset
}

// HandlerKind tags an ExceptionHandler as Catch or Finally (§3).
type HandlerKind int

const (
	Catch HandlerKind = iota
	Finally
)

// ExceptionHandler is the tagged variant {Catch(try,handler,catchType),
// Finally(try,handler)} (§3).
type ExceptionHandler struct {
	Kind         HandlerKind
	TryBlock     ExceptionBlock
	HandlerBlock ExceptionBlock
	CatchType    string // "" for Finally, or for a Catch whose type is unresolved (any)

	// CaughtTypes is not filled in by any pass here: the AST Assembler's
	// multi-catch detection (§4.8 step 3) accumulates aliased catch types
	// on ast.CatchBlock.CaughtTypes instead.
	CaughtTypes []string
}

func (h *ExceptionHandler) IsFinally() bool { return h.Kind == Finally }
func (h *ExceptionHandler) IsCatch() bool   { return h.Kind == Catch }
