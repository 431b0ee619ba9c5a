package bytecode

import (
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
)

// ChunkFlags contains compilation flags for a chunk.
type ChunkFlags uint16

const (
	// ChunkFlagDebug indicates debug information is present.
	ChunkFlagDebug ChunkFlags = 1 << 0

	// ChunkFlagHasCaptures indicates the function captures variables.
	ChunkFlagHasCaptures ChunkFlags = 1 << 1
)

// VarSource indicates where a captured variable originates.
type VarSource uint8

const (
	// VarSourceLocal indicates a local slot of the enclosing function.
	VarSourceLocal VarSource = 0

	// VarSourceCapture indicates a variable the enclosing function itself captured.
	VarSourceCapture VarSource = 1
)

// String returns a human-readable name for VarSource.
func (v VarSource) String() string {
	switch v {
	case VarSourceLocal:
		return "local"
	case VarSourceCapture:
		return "capture"
	default:
		return fmt.Sprintf("VarSource(%d)", v)
	}
}

// CaptureDescriptor describes a captured variable of a function.
type CaptureDescriptor struct {
	Name   string    `cbor:"name"`
	Source VarSource `cbor:"source"`
	Index  uint16    `cbor:"index"` // slot or capture index in the enclosing function
}

// ConstKind tags a constant pool entry.
type ConstKind uint8

const (
	ConstInt ConstKind = iota
	ConstFloat
	ConstString
	ConstChar
)

// Constant is a literal in the constant pool. Chars are stored in Int.
type Constant struct {
	Kind  ConstKind `cbor:"k"`
	Int   int64     `cbor:"i,omitempty"`
	Float float64   `cbor:"f,omitempty"`
	Str   string    `cbor:"s,omitempty"`
}

func IntConst(v int64) Constant     { return Constant{Kind: ConstInt, Int: v} }
func FloatConst(v float64) Constant { return Constant{Kind: ConstFloat, Float: v} }
func StringConst(v string) Constant { return Constant{Kind: ConstString, Str: v} }
func CharConst(r rune) Constant     { return Constant{Kind: ConstChar, Int: int64(r)} }

// String renders the constant as an assembler literal.
func (c Constant) String() string {
	switch c.Kind {
	case ConstInt:
		return strconv.FormatInt(c.Int, 10)
	case ConstFloat:
		s := strconv.FormatFloat(c.Float, 'g', -1, 64)
		if _, err := strconv.ParseInt(s, 10, 64); err == nil {
			s += ".0"
		}
		return s
	case ConstString:
		return strconv.Quote(c.Str)
	case ConstChar:
		return strconv.QuoteRune(rune(c.Int))
	default:
		return fmt.Sprintf("<const kind %d>", c.Kind)
	}
}

// SourceLocation maps bytecode position to source location for debugging.
type SourceLocation struct {
	BytecodeOffset uint32 `cbor:"offset"`
	Line           uint32 `cbor:"line"`   // 1-based
	Column         uint16 `cbor:"column"` // 1-based, 0 if unknown
}

// Chunk is the compiled body of one function.
type Chunk struct {
	Name  string     `cbor:"name"`
	Flags ChunkFlags `cbor:"flags"`

	// Code section
	Code []byte `cbor:"code"`

	// Literal pool referenced by OpConst
	Constants []Constant `cbor:"constants,omitempty"`

	// Identifier pool referenced by global, attribute and method instructions
	Names []string `cbor:"names,omitempty"`

	// Nested function bodies referenced by OpMakeClosure
	Functions []*Chunk `cbor:"functions,omitempty"`

	// Parameters occupy the first ParamCount local slots
	ParamCount uint8    `cbor:"params"`
	ParamNames []string `cbor:"param_names,omitempty"`

	LocalCount uint16 `cbor:"locals"`

	CaptureInfo []CaptureDescriptor `cbor:"captures,omitempty"`

	// Debug information (optional, present if ChunkFlagDebug is set)
	SourceMap []SourceLocation `cbor:"source_map,omitempty"`
	VarNames  []string         `cbor:"var_names,omitempty"`
}

// NewChunk creates a new empty chunk.
func NewChunk(name string) *Chunk {
	return &Chunk{
		Name: name,
		Code: make([]byte, 0, 64),
	}
}

// AddConstant adds a literal to the pool and returns its index.
// If an identical constant already exists, returns the existing index.
func (c *Chunk) AddConstant(k Constant) uint16 {
	for i, existing := range c.Constants {
		if existing == k {
			return uint16(i)
		}
	}
	idx := uint16(len(c.Constants))
	c.Constants = append(c.Constants, k)
	return idx
}

// AddName adds an identifier to the name pool and returns its index.
func (c *Chunk) AddName(name string) uint16 {
	for i, s := range c.Names {
		if s == name {
			return uint16(i)
		}
	}
	idx := uint16(len(c.Names))
	c.Names = append(c.Names, name)
	return idx
}

// AddFunction appends a nested function and returns its index.
func (c *Chunk) AddFunction(fn *Chunk) uint16 {
	idx := uint16(len(c.Functions))
	c.Functions = append(c.Functions, fn)
	return idx
}

// Emit appends a single-byte opcode to the code section.
func (c *Chunk) Emit(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	return offset
}

// EmitWithOperand appends an opcode with operand bytes.
func (c *Chunk) EmitWithOperand(op Opcode, operands ...byte) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op))
	c.Code = append(c.Code, operands...)
	return offset
}

// EmitU8 emits an instruction with a one-byte operand.
func (c *Chunk) EmitU8(op Opcode, v uint8) int {
	return c.EmitWithOperand(op, v)
}

// EmitU16 emits an instruction with a two-byte operand.
func (c *Chunk) EmitU16(op Opcode, v uint16) int {
	return c.EmitWithOperand(op, byte(v>>8), byte(v))
}

// EmitConstant emits an OpConst instruction for the given literal.
func (c *Chunk) EmitConstant(k Constant) int {
	return c.EmitU16(OpConst, c.AddConstant(k))
}

// EmitName emits an instruction whose operand is a name pool index.
func (c *Chunk) EmitName(op Opcode, name string) int {
	return c.EmitU16(op, c.AddName(name))
}

// EmitCallMethod emits OpCallMethod for the named method.
func (c *Chunk) EmitCallMethod(name string, argc uint8) int {
	idx := c.AddName(name)
	return c.EmitWithOperand(OpCallMethod, byte(idx>>8), byte(idx), argc)
}

// EmitJump emits a jump instruction with a placeholder offset.
// Returns the offset of the placeholder for later patching.
func (c *Chunk) EmitJump(op Opcode) int {
	offset := len(c.Code)
	c.Code = append(c.Code, byte(op), 0xFF, 0xFF)
	return offset + 1
}

// PatchJump patches a jump instruction's offset to jump to the current position.
func (c *Chunk) PatchJump(placeholderOffset int) {
	c.PatchJumpTo(placeholderOffset, len(c.Code))
}

// PatchJumpTo patches a jump to go to a specific offset.
func (c *Chunk) PatchJumpTo(placeholderOffset int, target int) {
	delta := target - (placeholderOffset + 2)
	c.Code[placeholderOffset] = byte(delta >> 8)
	c.Code[placeholderOffset+1] = byte(delta)
}

// EmitLoop emits a backward jump to the given loop start.
func (c *Chunk) EmitLoop(loopStart int) {
	delta := loopStart - (len(c.Code) + 3)
	c.Code = append(c.Code, byte(OpJump), byte(delta>>8), byte(delta))
}

// CurrentOffset returns the current offset in the code section.
func (c *Chunk) CurrentOffset() int {
	return len(c.Code)
}

// ReadU16 decodes the big-endian operand at offset.
func (c *Chunk) ReadU16(offset int) uint16 {
	return binary.BigEndian.Uint16(c.Code[offset:])
}

// ReadI16 decodes the signed big-endian operand at offset.
func (c *Chunk) ReadI16(offset int) int16 {
	return int16(binary.BigEndian.Uint16(c.Code[offset:]))
}

// JumpTarget returns the absolute target of the jump instruction at offset.
func (c *Chunk) JumpTarget(offset int) int {
	return offset + 3 + int(c.ReadI16(offset+1))
}

// AddCapture adds a capture descriptor and returns its index.
func (c *Chunk) AddCapture(name string, source VarSource, index uint16) uint16 {
	idx := uint16(len(c.CaptureInfo))
	c.CaptureInfo = append(c.CaptureInfo, CaptureDescriptor{
		Name:   name,
		Source: source,
		Index:  index,
	})
	c.Flags |= ChunkFlagHasCaptures
	return idx
}

// AddSourceLocation records that code from bytecodeOffset onward was
// produced by the given source position. Offsets must be added in
// non-decreasing order; a repeated offset replaces the previous entry.
func (c *Chunk) AddSourceLocation(bytecodeOffset uint32, line uint32, column uint16) {
	c.Flags |= ChunkFlagDebug
	loc := SourceLocation{BytecodeOffset: bytecodeOffset, Line: line, Column: column}
	if n := len(c.SourceMap); n > 0 && c.SourceMap[n-1].BytecodeOffset == bytecodeOffset {
		c.SourceMap[n-1] = loc
		return
	}
	c.SourceMap = append(c.SourceMap, loc)
}

// Lookup returns the source location covering a bytecode offset: the last
// mapping at or before it.
func (c *Chunk) Lookup(offset uint32) (SourceLocation, bool) {
	i := sort.Search(len(c.SourceMap), func(i int) bool {
		return c.SourceMap[i].BytecodeOffset > offset
	})
	if i == 0 {
		return SourceLocation{}, false
	}
	return c.SourceMap[i-1], true
}

// VarName returns the debug name of a local slot, or "".
func (c *Chunk) VarName(slot int) string {
	if slot < len(c.VarNames) {
		return c.VarNames[slot]
	}
	if slot < len(c.ParamNames) {
		return c.ParamNames[slot]
	}
	return ""
}
