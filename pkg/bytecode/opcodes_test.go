package bytecode

import (
	"strings"
	"testing"
)

func TestAllOpcodesHaveMetadata(t *testing.T) {
	for _, op := range AllOpcodes() {
		info := GetOpcodeInfo(op)
		if info.Name == "" || strings.HasPrefix(info.Name, "UNKNOWN") {
			t.Errorf("Opcode 0x%02X has no metadata", byte(op))
		}
	}
}

func TestOpcodeNamesAreUnique(t *testing.T) {
	seen := make(map[string]Opcode)
	for _, op := range AllOpcodes() {
		name := op.String()
		if prev, dup := seen[name]; dup {
			t.Errorf("opcodes 0x%02X and 0x%02X share name %s", byte(prev), byte(op), name)
		}
		seen[name] = op
	}
}

func TestLookupOpcodeRoundTrip(t *testing.T) {
	for _, op := range AllOpcodes() {
		got, ok := LookupOpcode(op.String())
		if !ok || got != op {
			t.Errorf("LookupOpcode(%q) = 0x%02X, %v", op.String(), byte(got), ok)
		}
	}
	if _, ok := LookupOpcode("SEND"); ok {
		t.Error("LookupOpcode should not know SEND")
	}
}

func TestOpcodeString(t *testing.T) {
	tests := []struct {
		op   Opcode
		want string
	}{
		{OpNop, "NOP"},
		{OpConst, "CONST"},
		{OpLoadCapture, "LOAD_CAPTURE"},
		{OpCallMethod, "CALL_METHOD"},
		{OpMakeClosure, "MAKE_CLOSURE"},
		{OpForIter, "FOR_ITER"},
		{OpSh, "SH"},
		{OpReturnUnit, "RETURN_UNIT"},
	}

	for _, tt := range tests {
		if got := tt.op.String(); got != tt.want {
			t.Errorf("Opcode(0x%02X).String() = %q, want %q", byte(tt.op), got, tt.want)
		}
	}
}

func TestUnknownOpcode(t *testing.T) {
	op := Opcode(0xEE)
	if !strings.HasPrefix(op.String(), "UNKNOWN") {
		t.Errorf("Unknown opcode should return UNKNOWN, got %q", op.String())
	}
	if op.IsValid() {
		t.Error("0xEE should not be valid")
	}
}

func TestOpcodeOperandLen(t *testing.T) {
	tests := []struct {
		op   Opcode
		want int
	}{
		{OpPop, 0},
		{OpConst, 2},
		{OpLoadLocal, 2},
		{OpFormat, 1},
		{OpCall, 1},
		{OpCallMethod, 3},
		{OpJumpFalse, 2},
		{OpBuildDict, 2},
		{OpForIter, 2},
	}
	for _, tt := range tests {
		if got := tt.op.OperandLen(); got != tt.want {
			t.Errorf("%s.OperandLen() = %d, want %d", tt.op, got, tt.want)
		}
		if got := tt.op.InstructionLen(); got != tt.want+1 {
			t.Errorf("%s.InstructionLen() = %d, want %d", tt.op, got, tt.want+1)
		}
	}
}

func TestOpcodeCategories(t *testing.T) {
	for _, op := range []Opcode{OpJump, OpJumpTrue, OpJumpFalse, OpForIter} {
		if !op.IsJump() {
			t.Errorf("%s should be a jump", op)
		}
	}
	if OpCall.IsJump() {
		t.Error("CALL is not a jump")
	}
	if !OpReturn.IsReturn() || !OpReturnUnit.IsReturn() || OpPop.IsReturn() {
		t.Error("IsReturn misclassifies")
	}
}

func TestStackEffect(t *testing.T) {
	tests := []struct {
		op        Opcode
		count     int
		pop, push int
	}{
		{OpAdd, 0, 2, 1},
		{OpCall, 2, 3, 1},
		{OpCallMethod, 1, 2, 1},
		{OpBuildList, 4, 4, 1},
		{OpBuildDict, 2, 4, 1},
		{OpFormat, 3, 3, 1},
		{OpIndexSet, 0, 3, 0},
		{OpForIter, 0, 1, 2},
	}
	for _, tt := range tests {
		pop, push := tt.op.StackEffect(tt.count)
		if pop != tt.pop || push != tt.push {
			t.Errorf("%s.StackEffect(%d) = (%d, %d), want (%d, %d)", tt.op, tt.count, pop, push, tt.pop, tt.push)
		}
	}
}
