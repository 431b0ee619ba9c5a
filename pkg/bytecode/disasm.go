package bytecode

import (
	"fmt"
	"strings"
)

// Disassemble returns a listing of the program and all nested functions.
func (p *Program) Disassemble() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "; Technetium program %s (format %s)\n", p.Name, p.Format)
	if p.Main != nil {
		sb.WriteString("\n")
		p.Main.disassembleTree(&sb, p.Main.Name)
	}
	return sb.String()
}

// Disassemble returns a human-readable listing of this chunk only.
func (c *Chunk) Disassemble() string {
	var sb strings.Builder
	c.disassembleOne(&sb, c.Name)
	return sb.String()
}

func (c *Chunk) disassembleTree(sb *strings.Builder, path string) {
	c.disassembleOne(sb, path)
	for _, fn := range c.Functions {
		sb.WriteString("\n")
		fn.disassembleTree(sb, path+"/"+fn.Name)
	}
}

func (c *Chunk) disassembleOne(sb *strings.Builder, path string) {
	fmt.Fprintf(sb, "; === %s ===\n", path)
	if c.ParamCount > 0 {
		fmt.Fprintf(sb, "; Parameters (%d): %s\n", c.ParamCount, strings.Join(c.ParamNames, ", "))
	}
	if c.LocalCount > 0 {
		fmt.Fprintf(sb, "; Locals: %d slots\n", c.LocalCount)
	}
	if c.Flags != 0 {
		sb.WriteString(";")
		if c.Flags&ChunkFlagDebug != 0 {
			sb.WriteString(" [DEBUG]")
		}
		if c.Flags&ChunkFlagHasCaptures != 0 {
			sb.WriteString(" [CAPTURES]")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	if len(c.Constants) > 0 {
		sb.WriteString("; Constants:\n")
		for i, k := range c.Constants {
			display := k.String()
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			fmt.Fprintf(sb, ";   [%3d] %s\n", i, display)
		}
		sb.WriteString("\n")
	}

	if len(c.Names) > 0 {
		sb.WriteString("; Names:\n")
		for i, name := range c.Names {
			fmt.Fprintf(sb, ";   [%3d] %s\n", i, name)
		}
		sb.WriteString("\n")
	}

	if len(c.CaptureInfo) > 0 {
		sb.WriteString("; Captures:\n")
		for i, cap := range c.CaptureInfo {
			fmt.Fprintf(sb, ";   [%3d] %s (%s, slot=%d)\n", i, cap.Name, cap.Source, cap.Index)
		}
		sb.WriteString("\n")
	}

	sb.WriteString("; Code:\n")
	offset := 0
	for offset < len(c.Code) {
		line, n := c.disassembleInstruction(offset)
		if loc, ok := c.Lookup(uint32(offset)); ok && c.Flags&ChunkFlagDebug != 0 {
			fmt.Fprintf(sb, "%04X  %-30s ; line %d:%d\n", offset, line, loc.Line, loc.Column)
		} else {
			fmt.Fprintf(sb, "%04X  %s\n", offset, line)
		}
		offset += n
	}
}

// disassembleInstruction disassembles a single instruction at the given offset.
// Returns the formatted string and the instruction length.
func (c *Chunk) disassembleInstruction(offset int) (string, int) {
	op := Opcode(c.Code[offset])
	info := GetOpcodeInfo(op)
	n := op.InstructionLen()
	if offset+n > len(c.Code) {
		return fmt.Sprintf("%s <truncated>", info.Name), len(c.Code) - offset
	}

	switch op {
	case OpConst:
		idx := c.ReadU16(offset + 1)
		if int(idx) < len(c.Constants) {
			return fmt.Sprintf("CONST %d ; %s", idx, c.Constants[idx]), n
		}
		return fmt.Sprintf("CONST %d", idx), n

	case OpLoadLocal, OpStoreLocal:
		slot := c.ReadU16(offset + 1)
		if name := c.VarName(int(slot)); name != "" {
			return fmt.Sprintf("%s %d ; %s", info.Name, slot, name), n
		}
		return fmt.Sprintf("%s %d", info.Name, slot), n

	case OpLoadCapture, OpStoreCapture:
		idx := c.ReadU16(offset + 1)
		if int(idx) < len(c.CaptureInfo) {
			return fmt.Sprintf("%s %d ; %s", info.Name, idx, c.CaptureInfo[idx].Name), n
		}
		return fmt.Sprintf("%s %d", info.Name, idx), n

	case OpLoadGlobal, OpStoreGlobal, OpGetAttr, OpSetAttr:
		idx := c.ReadU16(offset + 1)
		return fmt.Sprintf("%s %d ; %s", info.Name, idx, c.name(idx)), n

	case OpCallMethod:
		idx := c.ReadU16(offset + 1)
		argc := c.Code[offset+3]
		return fmt.Sprintf("CALL_METHOD %d %d ; %s", idx, argc, c.name(idx)), n

	case OpMakeClosure:
		idx := c.ReadU16(offset + 1)
		if int(idx) < len(c.Functions) {
			return fmt.Sprintf("MAKE_CLOSURE %d ; %s", idx, c.Functions[idx].Name), n
		}
		return fmt.Sprintf("MAKE_CLOSURE %d", idx), n

	case OpJump, OpJumpTrue, OpJumpFalse, OpForIter:
		delta := c.ReadI16(offset + 1)
		return fmt.Sprintf("%s %+d -> %04X", info.Name, delta, c.JumpTarget(offset)), n

	case OpFormat, OpCall:
		return fmt.Sprintf("%s %d", info.Name, c.Code[offset+1]), n

	case OpBuildList, OpBuildTuple, OpBuildSet, OpBuildDict:
		return fmt.Sprintf("%s %d", info.Name, c.ReadU16(offset+1)), n
	}

	return info.Name, n
}

func (c *Chunk) name(idx uint16) string {
	if int(idx) < len(c.Names) {
		return c.Names[idx]
	}
	return "?"
}
