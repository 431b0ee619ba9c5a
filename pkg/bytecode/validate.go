package bytecode

import "fmt"

// ValidationError reports a malformed instruction stream.
type ValidationError struct {
	Function string
	Offset   int
	Msg      string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid bytecode in %s at %04X: %s", e.Function, e.Offset, e.Msg)
}

// Validate checks a chunk and all nested functions: every opcode is known,
// operands stay inside the code and reference existing pool entries, jumps
// land on instruction boundaries, and every path sees a consistent operand
// stack depth that never goes negative.
func Validate(c *Chunk) error {
	return validateChunk(c, nil)
}

func validateChunk(c *Chunk, parent *Chunk) error {
	fail := func(offset int, format string, args ...any) error {
		return &ValidationError{Function: c.Name, Offset: offset, Msg: fmt.Sprintf(format, args...)}
	}

	if int(c.ParamCount) > int(c.LocalCount) {
		return fail(0, "%d params but only %d local slots", c.ParamCount, c.LocalCount)
	}
	for i, cap := range c.CaptureInfo {
		if parent == nil {
			return fail(0, "top-level function cannot capture %q", cap.Name)
		}
		switch cap.Source {
		case VarSourceLocal:
			if cap.Index >= parent.LocalCount {
				return fail(0, "capture %d: local slot %d out of range", i, cap.Index)
			}
		case VarSourceCapture:
			if int(cap.Index) >= len(parent.CaptureInfo) {
				return fail(0, "capture %d: enclosing capture %d out of range", i, cap.Index)
			}
		default:
			return fail(0, "capture %d: unknown source %d", i, cap.Source)
		}
	}

	// First pass: decode boundaries and operands.
	starts := make(map[int]bool)
	offset := 0
	for offset < len(c.Code) {
		op := Opcode(c.Code[offset])
		if !op.IsValid() {
			return fail(offset, "unknown opcode 0x%02X", byte(op))
		}
		starts[offset] = true
		end := offset + op.InstructionLen()
		if end > len(c.Code) {
			return fail(offset, "%s operand runs past end of code", op)
		}
		if err := checkOperands(c, op, offset); err != nil {
			return fail(offset, "%s", err)
		}
		offset = end
	}
	for off := range starts {
		op := Opcode(c.Code[off])
		if !op.IsJump() {
			continue
		}
		target := c.JumpTarget(off)
		if target != len(c.Code) && !starts[target] {
			return fail(off, "%s target %04X is not an instruction boundary", op, target)
		}
	}

	if err := checkStackDepth(c, fail); err != nil {
		return err
	}

	for _, fn := range c.Functions {
		if err := validateChunk(fn, c); err != nil {
			return err
		}
	}
	return nil
}

func checkOperands(c *Chunk, op Opcode, offset int) error {
	switch op {
	case OpConst:
		if idx := c.ReadU16(offset + 1); int(idx) >= len(c.Constants) {
			return fmt.Errorf("constant %d out of range", idx)
		}
	case OpLoadLocal, OpStoreLocal:
		if slot := c.ReadU16(offset + 1); slot >= c.LocalCount {
			return fmt.Errorf("local slot %d out of range", slot)
		}
	case OpLoadCapture, OpStoreCapture:
		if idx := c.ReadU16(offset + 1); int(idx) >= len(c.CaptureInfo) {
			return fmt.Errorf("capture %d out of range", idx)
		}
	case OpLoadGlobal, OpStoreGlobal, OpGetAttr, OpSetAttr, OpCallMethod:
		if idx := c.ReadU16(offset + 1); int(idx) >= len(c.Names) {
			return fmt.Errorf("name %d out of range", idx)
		}
	case OpMakeClosure:
		if idx := c.ReadU16(offset + 1); int(idx) >= len(c.Functions) {
			return fmt.Errorf("function %d out of range", idx)
		}
	}
	return nil
}

// countOperand returns the element or argument count an instruction carries.
func countOperand(c *Chunk, op Opcode, offset int) int {
	switch op {
	case OpFormat, OpCall:
		return int(c.Code[offset+1])
	case OpCallMethod:
		return int(c.Code[offset+3])
	case OpBuildList, OpBuildTuple, OpBuildSet, OpBuildDict:
		return int(c.ReadU16(offset + 1))
	}
	return 0
}

func checkStackDepth(c *Chunk, fail func(int, string, ...any) error) error {
	if len(c.Code) == 0 {
		return nil
	}
	depth := make(map[int]int)
	work := []int{0}
	depth[0] = 0

	visit := func(from, to, d int) error {
		if to == len(c.Code) {
			return nil
		}
		if prev, seen := depth[to]; seen {
			if prev != d {
				return fail(to, "inconsistent stack depth %d vs %d (from %04X)", prev, d, from)
			}
			return nil
		}
		depth[to] = d
		work = append(work, to)
		return nil
	}

	for len(work) > 0 {
		off := work[len(work)-1]
		work = work[:len(work)-1]
		d := depth[off]
		op := Opcode(c.Code[off])
		pop, push := op.StackEffect(countOperand(c, op, off))
		if d < pop {
			return fail(off, "%s needs %d operands, stack has %d", op, pop, d)
		}
		next := off + op.InstructionLen()

		switch {
		case op.IsReturn():
			continue
		case op == OpJump:
			if err := visit(off, c.JumpTarget(off), d); err != nil {
				return err
			}
		case op == OpForIter:
			// continue with iterator + value, or exit with the iterator popped
			if err := visit(off, next, d+1); err != nil {
				return err
			}
			if err := visit(off, c.JumpTarget(off), d-1); err != nil {
				return err
			}
		case op.IsJump():
			after := d - pop + push
			if err := visit(off, next, after); err != nil {
				return err
			}
			if err := visit(off, c.JumpTarget(off), after); err != nil {
				return err
			}
		default:
			if err := visit(off, next, d-pop+push); err != nil {
				return err
			}
		}
	}
	return nil
}
