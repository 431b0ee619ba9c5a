package bytecode

import "fmt"

// Opcode represents a bytecode instruction.
// Opcodes are organized into ranges by category for easy identification.
type Opcode byte

const (
	// ========================================================================
	// Stack manipulation (0x00-0x0F)
	// ========================================================================

	OpNop  Opcode = 0x00 // No operation
	OpPop  Opcode = 0x01 // Drop top of stack
	OpDup  Opcode = 0x02 // Duplicate the handle on top of stack
	OpSwap Opcode = 0x03 // Swap top two stack elements
	OpRot  Opcode = 0x04 // Rotate top three: a b c -> b c a

	// ========================================================================
	// Constants (0x10-0x1F)
	// ========================================================================

	OpConst      Opcode = 0x10 // Push new object from pool: OpConst <index:u16>
	OpConstUnit  Opcode = 0x11 // Push unit
	OpConstTrue  Opcode = 0x12 // Push true
	OpConstFalse Opcode = 0x13 // Push false

	// ========================================================================
	// Local variables (0x20-0x2F)
	// ========================================================================

	OpLoadLocal  Opcode = 0x20 // Push local: OpLoadLocal <slot:u16>
	OpStoreLocal Opcode = 0x21 // Pop into local: OpStoreLocal <slot:u16>

	// ========================================================================
	// Captured variables (0x30-0x3F) - cells shared with the defining frame
	// ========================================================================

	OpLoadCapture  Opcode = 0x30 // Push captured value: OpLoadCapture <index:u16>
	OpStoreCapture Opcode = 0x31 // Pop into capture: OpStoreCapture <index:u16>

	// ========================================================================
	// Globals (0x40-0x4F)
	// ========================================================================

	OpLoadGlobal  Opcode = 0x40 // Push global: OpLoadGlobal <name:u16>
	OpStoreGlobal Opcode = 0x41 // Pop into global: OpStoreGlobal <name:u16>

	// ========================================================================
	// Arithmetic (0x50-0x5F)
	// ========================================================================

	OpAdd Opcode = 0x50 // Pop two, push sum (a + b where b is TOS)
	OpSub Opcode = 0x51 // Pop two, push difference
	OpMul Opcode = 0x52 // Pop two, push product
	OpDiv Opcode = 0x53 // Pop two, push quotient
	OpMod Opcode = 0x54 // Pop two, push remainder
	OpNeg Opcode = 0x55 // Negate top of stack

	// ========================================================================
	// Comparison (0x60-0x67)
	// ========================================================================

	OpEq Opcode = 0x60
	OpNe Opcode = 0x61
	OpLt Opcode = 0x62
	OpLe Opcode = 0x63
	OpGt Opcode = 0x64
	OpGe Opcode = 0x65

	// ========================================================================
	// Logical operations (0x68-0x6F)
	// ========================================================================

	OpNot Opcode = 0x68 // Push true if TOS is falsy
	OpAnd Opcode = 0x69 // Truthiness AND (both operands evaluated)
	OpOr  Opcode = 0x6A // Truthiness OR

	// ========================================================================
	// String operations (0x70-0x7F)
	// ========================================================================

	OpToString Opcode = 0x70 // Replace TOS with its display string
	OpFormat   Opcode = 0x71 // Concatenate display strings: OpFormat <count:u8>

	// ========================================================================
	// Control flow (0x80-0x8F)
	// ========================================================================

	OpJump      Opcode = 0x80 // Unconditional jump: OpJump <offset:i16>
	OpJumpTrue  Opcode = 0x81 // Pop, jump if truthy: OpJumpTrue <offset:i16>
	OpJumpFalse Opcode = 0x82 // Pop, jump if falsy: OpJumpFalse <offset:i16>

	// ========================================================================
	// Calls and attributes (0x90-0x9F)
	// ========================================================================

	OpCall       Opcode = 0x90 // Call callee below args: OpCall <argc:u8>
	OpCallMethod Opcode = 0x91 // Method on receiver below args: OpCallMethod <name:u16> <argc:u8>
	OpGetAttr    Opcode = 0x92 // Replace object with attribute: OpGetAttr <name:u16>
	OpSetAttr    Opcode = 0x93 // Pop object and value: OpSetAttr <name:u16>

	// ========================================================================
	// Closures (0xA0-0xAF)
	// ========================================================================

	OpMakeClosure Opcode = 0xA0 // Push function: OpMakeClosure <function:u16>

	// ========================================================================
	// Collections (0xB0-0xBF)
	// ========================================================================

	OpBuildList  Opcode = 0xB0 // Pop n, push list: OpBuildList <count:u16>
	OpBuildTuple Opcode = 0xB1 // Pop n, push tuple: OpBuildTuple <count:u16>
	OpBuildSet   Opcode = 0xB2 // Pop n, push set: OpBuildSet <count:u16>
	OpBuildDict  Opcode = 0xB3 // Pop n key/value pairs, push dict: OpBuildDict <count:u16>
	OpIndexGet   Opcode = 0xB4 // obj index -> value
	OpIndexSet   Opcode = 0xB5 // obj index value ->
	OpMakeSlice  Opcode = 0xB6 // start stop step -> slice

	// ========================================================================
	// Iteration (0xC0-0xCF)
	// ========================================================================

	OpGetIter Opcode = 0xC0 // Replace iterable with an iterator
	OpForIter Opcode = 0xC1 // Advance iterator or pop it and jump: OpForIter <offset:i16>

	// ========================================================================
	// Shell (0xD0-0xDF)
	// ========================================================================

	OpSh Opcode = 0xD0 // Replace command text with a subprocess object

	// ========================================================================
	// Return (0xF0-0xFF)
	// ========================================================================

	OpReturn     Opcode = 0xF0 // Return top of stack
	OpReturnUnit Opcode = 0xF1 // Return unit
)

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name       string // Human-readable name
	StackPop   int    // How many values popped from stack (-1 = variable)
	StackPush  int    // How many values pushed to stack (-1 = variable)
	OperandLen int    // Number of operand bytes following the opcode
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Stack manipulation
	OpNop:  {"NOP", 0, 0, 0},
	OpPop:  {"POP", 1, 0, 0},
	OpDup:  {"DUP", 1, 2, 0},
	OpSwap: {"SWAP", 2, 2, 0},
	OpRot:  {"ROT", 3, 3, 0},

	// Constants
	OpConst:      {"CONST", 0, 1, 2},
	OpConstUnit:  {"CONST_UNIT", 0, 1, 0},
	OpConstTrue:  {"CONST_TRUE", 0, 1, 0},
	OpConstFalse: {"CONST_FALSE", 0, 1, 0},

	// Locals
	OpLoadLocal:  {"LOAD_LOCAL", 0, 1, 2},
	OpStoreLocal: {"STORE_LOCAL", 1, 0, 2},

	// Captures
	OpLoadCapture:  {"LOAD_CAPTURE", 0, 1, 2},
	OpStoreCapture: {"STORE_CAPTURE", 1, 0, 2},

	// Globals
	OpLoadGlobal:  {"LOAD_GLOBAL", 0, 1, 2},
	OpStoreGlobal: {"STORE_GLOBAL", 1, 0, 2},

	// Arithmetic
	OpAdd: {"ADD", 2, 1, 0},
	OpSub: {"SUB", 2, 1, 0},
	OpMul: {"MUL", 2, 1, 0},
	OpDiv: {"DIV", 2, 1, 0},
	OpMod: {"MOD", 2, 1, 0},
	OpNeg: {"NEG", 1, 1, 0},

	// Comparison
	OpEq: {"EQ", 2, 1, 0},
	OpNe: {"NE", 2, 1, 0},
	OpLt: {"LT", 2, 1, 0},
	OpLe: {"LE", 2, 1, 0},
	OpGt: {"GT", 2, 1, 0},
	OpGe: {"GE", 2, 1, 0},

	// Logical
	OpNot: {"NOT", 1, 1, 0},
	OpAnd: {"AND", 2, 1, 0},
	OpOr:  {"OR", 2, 1, 0},

	// String
	OpToString: {"TO_STRING", 1, 1, 0},
	OpFormat:   {"FORMAT", -1, 1, 1},

	// Control flow
	OpJump:      {"JUMP", 0, 0, 2},
	OpJumpTrue:  {"JUMP_TRUE", 1, 0, 2},
	OpJumpFalse: {"JUMP_FALSE", 1, 0, 2},

	// Calls
	OpCall:       {"CALL", -1, 1, 1},        // Pops callee + argc args
	OpCallMethod: {"CALL_METHOD", -1, 1, 3}, // name:u16 + argc:u8
	OpGetAttr:    {"GET_ATTR", 1, 1, 2},
	OpSetAttr:    {"SET_ATTR", 2, 0, 2},

	// Closures
	OpMakeClosure: {"MAKE_CLOSURE", 0, 1, 2},

	// Collections
	OpBuildList:  {"BUILD_LIST", -1, 1, 2},
	OpBuildTuple: {"BUILD_TUPLE", -1, 1, 2},
	OpBuildSet:   {"BUILD_SET", -1, 1, 2},
	OpBuildDict:  {"BUILD_DICT", -1, 1, 2},
	OpIndexGet:   {"INDEX_GET", 2, 1, 0},
	OpIndexSet:   {"INDEX_SET", 3, 0, 0},
	OpMakeSlice:  {"MAKE_SLICE", 3, 1, 0},

	// Iteration
	OpGetIter: {"GET_ITER", 1, 1, 0},
	OpForIter: {"FOR_ITER", 1, -1, 2}, // Pushes back iterator + value, or nothing

	// Shell
	OpSh: {"SH", 1, 1, 0},

	// Return
	OpReturn:     {"RETURN", 1, 0, 0},
	OpReturnUnit: {"RETURN_UNIT", 0, 0, 0},
}

// opcodeByName is the reverse of opcodeInfoTable, used by the assembler.
var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[info.Name] = op
	}
	return m
}()

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// LookupOpcode returns the opcode with the given mnemonic.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

// IsValid reports whether op is a defined opcode.
func (op Opcode) IsValid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	return GetOpcodeInfo(op).OperandLen
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsJump returns true if this opcode carries a relative jump offset.
func (op Opcode) IsJump() bool {
	return (op >= OpJump && op <= OpJumpFalse) || op == OpForIter
}

// IsReturn returns true if this opcode terminates the frame.
func (op Opcode) IsReturn() bool {
	return op == OpReturn || op == OpReturnUnit
}

// StackEffect returns how many values an instruction pops and pushes, given
// its decoded count operand (argc, element count) where one applies. FOR_ITER
// reports its continuing effect: it leaves the iterator and pushes one value.
func (op Opcode) StackEffect(count int) (pop, push int) {
	info := GetOpcodeInfo(op)
	switch op {
	case OpFormat, OpBuildList, OpBuildTuple, OpBuildSet:
		return count, 1
	case OpBuildDict:
		return 2 * count, 1
	case OpCall, OpCallMethod:
		return count + 1, 1
	case OpForIter:
		return 1, 2
	}
	return info.StackPop, info.StackPush
}

// AllOpcodes returns a slice of all defined opcodes.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
