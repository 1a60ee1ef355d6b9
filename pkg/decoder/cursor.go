package decoder

import "fmt"

// cursor is a forward-only big-endian byte reader over a method's code
// array. Adapted from the teacher's pkg/vm/frame.go Read* helpers (same
// sign-extension and advance-by-width rules), stripped of the stack/local
// bookkeeping a decode-only reader has no use for.
type cursor struct {
	code []byte
	pc   int
}

func (c *cursor) atEnd() bool { return c.pc >= len(c.code) }

func (c *cursor) u8() uint8 {
	v := c.code[c.pc]
	c.pc++
	return v
}

func (c *cursor) i8() int8 { return int8(c.u8()) }

func (c *cursor) u16() uint16 {
	v := uint16(c.code[c.pc])<<8 | uint16(c.code[c.pc+1])
	c.pc += 2
	return v
}

func (c *cursor) i16() int16 { return int16(c.u16()) }

func (c *cursor) u32() uint32 {
	v := uint32(c.code[c.pc])<<24 | uint32(c.code[c.pc+1])<<16 |
		uint32(c.code[c.pc+2])<<8 | uint32(c.code[c.pc+3])
	c.pc += 4
	return v
}

func (c *cursor) i32() int32 { return int32(c.u32()) }

func (c *cursor) skip(n int) { c.pc += n }

func (c *cursor) remaining() int { return len(c.code) - c.pc }

func (c *cursor) requireAtLeast(n int) error {
	if c.remaining() < n {
		return fmt.Errorf("truncated bytecode at offset %d: need %d bytes, have %d", c.pc, n, c.remaining())
	}
	return nil
}
