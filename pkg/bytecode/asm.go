package bytecode

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// AssembleError reports a problem in assembler source.
type AssembleError struct {
	Line int
	Msg  string
}

func (e *AssembleError) Error() string {
	return fmt.Sprintf("asm:%d: %s", e.Line, e.Msg)
}

// Assemble builds a program from textual assembly, the same listing syntax
// the disassembler prints, minus offsets:
//
//	; comment
//	.func NAME [PARAM...]     open a function (nested if one is open)
//	.locals N                 reserve local slots
//	.var SLOT NAME            debug name for a local slot
//	.capture local|capture INDEX NAME
//	.line LINE[:COLUMN]       source position of following instructions
//	.source "TEXT"            append a line of source text to the program
//	.end                      close the current function
//	label:
//	OPNAME [OPERANDS...]
//
// CONST takes a literal (42, 1.5, "text", 'c'); global, attribute and
// CALL_METHOD operands are identifiers; jumps take labels; MAKE_CLOSURE
// takes the name of a nested function. Text before any .func belongs to an
// implicit function named "main".
func Assemble(name, src string) (*Program, error) {
	a := &assembler{prog: NewProgram(name, nil)}
	sc := bufio.NewScanner(strings.NewReader(src))
	for sc.Scan() {
		a.line++
		if err := a.assembleLine(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if len(a.open) > 0 {
		if a.open[0].implicit && len(a.open) == 1 {
			if err := a.closeFunc(); err != nil {
				return nil, err
			}
		} else {
			return nil, a.errorf("function %q is missing .end", a.current().chunk.Name)
		}
	}
	if a.prog.Main == nil {
		return nil, a.errorf("no code")
	}
	if err := Validate(a.prog.Main); err != nil {
		return nil, err
	}
	return a.prog, nil
}

type fixup struct {
	at    int // placeholder offset
	label string
	line  int
}

type closureRef struct {
	at   int // operand offset
	name string
	line int
}

type asmFunc struct {
	chunk    *Chunk
	implicit bool
	labels   map[string]int
	jumps    []fixup
	closures []closureRef
	declared int // .locals
	maxSlot  int
	line     uint32
	column   uint16
	pending  bool
}

type assembler struct {
	prog *Program
	open []*asmFunc
	line int
}

func (a *assembler) errorf(format string, args ...any) error {
	return &AssembleError{Line: a.line, Msg: fmt.Sprintf(format, args...)}
}

func (a *assembler) current() *asmFunc {
	return a.open[len(a.open)-1]
}

func (a *assembler) ensureFunc() *asmFunc {
	if len(a.open) == 0 {
		if a.prog.Main != nil {
			return nil
		}
		a.openFunc("main", nil, true)
	}
	return a.current()
}

func (a *assembler) openFunc(name string, params []string, implicit bool) {
	c := NewChunk(name)
	c.ParamCount = uint8(len(params))
	c.ParamNames = params
	a.open = append(a.open, &asmFunc{
		chunk:    c,
		implicit: implicit,
		labels:   make(map[string]int),
		maxSlot:  len(params) - 1,
	})
}

func (a *assembler) closeFunc() error {
	f := a.current()
	a.open = a.open[:len(a.open)-1]
	c := f.chunk

	for _, j := range f.jumps {
		target, ok := f.labels[j.label]
		if !ok {
			return &AssembleError{Line: j.line, Msg: fmt.Sprintf("undefined label %q", j.label)}
		}
		c.PatchJumpTo(j.at, target)
	}
	for _, ref := range f.closures {
		idx := -1
		for i, fn := range c.Functions {
			if fn.Name == ref.name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return &AssembleError{Line: ref.line, Msg: fmt.Sprintf("undefined function %q", ref.name)}
		}
		c.Code[ref.at] = byte(idx >> 8)
		c.Code[ref.at+1] = byte(idx)
	}

	locals := f.maxSlot + 1
	if f.declared > locals {
		locals = f.declared
	}
	c.LocalCount = uint16(locals)

	if len(a.open) == 0 {
		a.prog.Main = c
	} else {
		a.current().chunk.AddFunction(c)
	}
	return nil
}

func (a *assembler) assembleLine(raw string) error {
	fields, err := splitFields(raw)
	if err != nil {
		return a.errorf("%v", err)
	}
	if len(fields) == 0 {
		return nil
	}
	head := fields[0]

	if strings.HasPrefix(head, ".") {
		return a.directive(head, fields[1:])
	}
	if strings.HasSuffix(head, ":") && len(fields) == 1 {
		f := a.ensureFunc()
		if f == nil {
			return a.errorf("label outside of a function")
		}
		label := strings.TrimSuffix(head, ":")
		if _, dup := f.labels[label]; dup {
			return a.errorf("duplicate label %q", label)
		}
		f.labels[label] = f.chunk.CurrentOffset()
		return nil
	}
	return a.instruction(head, fields[1:])
}

func (a *assembler) directive(name string, args []string) error {
	switch name {
	case ".func":
		if len(args) < 1 {
			return a.errorf(".func needs a name")
		}
		if len(a.open) == 0 && a.prog.Main != nil {
			return a.errorf("only one top-level function is allowed")
		}
		a.openFunc(args[0], args[1:], false)
		return nil

	case ".end":
		if len(a.open) == 0 || a.current().implicit {
			return a.errorf(".end without .func")
		}
		return a.closeFunc()

	case ".source":
		if len(args) != 1 {
			return a.errorf(".source needs one string")
		}
		text, err := strconv.Unquote(args[0])
		if err != nil {
			return a.errorf(".source: %v", err)
		}
		a.prog.Source = append(a.prog.Source, text)
		return nil
	}

	f := a.ensureFunc()
	if f == nil {
		return a.errorf("%s outside of a function", name)
	}

	switch name {
	case ".locals":
		if len(args) != 1 {
			return a.errorf(".locals needs a count")
		}
		n, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return a.errorf(".locals: %v", err)
		}
		f.declared = int(n)

	case ".var":
		if len(args) != 2 {
			return a.errorf(".var needs a slot and a name")
		}
		slot, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return a.errorf(".var: %v", err)
		}
		c := f.chunk
		for len(c.VarNames) <= int(slot) {
			c.VarNames = append(c.VarNames, c.VarName(len(c.VarNames)))
		}
		c.VarNames[slot] = args[1]
		f.noteSlot(int(slot))

	case ".capture":
		if len(args) != 3 {
			return a.errorf(".capture needs a source, an index and a name")
		}
		var src VarSource
		switch args[0] {
		case "local":
			src = VarSourceLocal
		case "capture":
			src = VarSourceCapture
		default:
			return a.errorf(".capture: unknown source %q", args[0])
		}
		idx, err := strconv.ParseUint(args[1], 10, 16)
		if err != nil {
			return a.errorf(".capture: %v", err)
		}
		f.chunk.AddCapture(args[2], src, uint16(idx))

	case ".line":
		if len(args) != 1 {
			return a.errorf(".line needs LINE[:COLUMN]")
		}
		lineStr, colStr, hasCol := strings.Cut(args[0], ":")
		line, err := strconv.ParseUint(lineStr, 10, 32)
		if err != nil {
			return a.errorf(".line: %v", err)
		}
		var col uint64
		if hasCol {
			if col, err = strconv.ParseUint(colStr, 10, 16); err != nil {
				return a.errorf(".line: %v", err)
			}
		}
		f.line, f.column, f.pending = uint32(line), uint16(col), true

	default:
		return a.errorf("unknown directive %s", name)
	}
	return nil
}

func (f *asmFunc) noteSlot(slot int) {
	if slot > f.maxSlot {
		f.maxSlot = slot
	}
}

func (a *assembler) instruction(mnemonic string, args []string) error {
	op, ok := LookupOpcode(strings.ToUpper(mnemonic))
	if !ok {
		return a.errorf("unknown instruction %q", mnemonic)
	}
	f := a.ensureFunc()
	if f == nil {
		return a.errorf("instruction outside of a function")
	}
	c := f.chunk

	want := 0
	switch op {
	case OpCallMethod:
		want = 2
	default:
		if op.OperandLen() > 0 {
			want = 1
		}
	}
	if len(args) != want {
		return a.errorf("%s takes %d operand(s), got %d", op, want, len(args))
	}

	if f.pending {
		c.AddSourceLocation(uint32(c.CurrentOffset()), f.line, f.column)
		f.pending = false
	}

	switch op {
	case OpConst:
		k, err := parseLiteral(args[0])
		if err != nil {
			return a.errorf("CONST: %v", err)
		}
		c.EmitConstant(k)

	case OpLoadLocal, OpStoreLocal:
		slot, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return a.errorf("%s: %v", op, err)
		}
		f.noteSlot(int(slot))
		c.EmitU16(op, uint16(slot))

	case OpLoadCapture, OpStoreCapture:
		idx, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return a.errorf("%s: %v", op, err)
		}
		c.EmitU16(op, uint16(idx))

	case OpLoadGlobal, OpStoreGlobal, OpGetAttr, OpSetAttr:
		c.EmitName(op, args[0])

	case OpCallMethod:
		argc, err := strconv.ParseUint(args[1], 10, 8)
		if err != nil {
			return a.errorf("CALL_METHOD: %v", err)
		}
		c.EmitCallMethod(args[0], uint8(argc))

	case OpFormat, OpCall:
		n, err := strconv.ParseUint(args[0], 10, 8)
		if err != nil {
			return a.errorf("%s: %v", op, err)
		}
		c.EmitU8(op, uint8(n))

	case OpBuildList, OpBuildTuple, OpBuildSet, OpBuildDict:
		n, err := strconv.ParseUint(args[0], 10, 16)
		if err != nil {
			return a.errorf("%s: %v", op, err)
		}
		c.EmitU16(op, uint16(n))

	case OpJump, OpJumpTrue, OpJumpFalse, OpForIter:
		at := c.EmitJump(op)
		f.jumps = append(f.jumps, fixup{at: at, label: args[0], line: a.line})

	case OpMakeClosure:
		at := c.EmitU16(op, 0) + 1
		f.closures = append(f.closures, closureRef{at: at, name: args[0], line: a.line})

	default:
		c.Emit(op)
	}
	return nil
}

// parseLiteral parses a CONST operand.
func parseLiteral(s string) (Constant, error) {
	switch {
	case strings.HasPrefix(s, `"`):
		v, err := strconv.Unquote(s)
		if err != nil {
			return Constant{}, err
		}
		return StringConst(v), nil
	case strings.HasPrefix(s, "'"):
		v, err := strconv.Unquote(s)
		if err != nil {
			return Constant{}, err
		}
		r, size := utf8.DecodeRuneInString(v)
		if size != len(v) {
			return Constant{}, fmt.Errorf("char literal %s holds more than one character", s)
		}
		return CharConst(r), nil
	case strings.ContainsAny(s, ".eE") && !strings.HasPrefix(s, "0x"):
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Constant{}, err
		}
		return FloatConst(v), nil
	default:
		v, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return Constant{}, err
		}
		return IntConst(v), nil
	}
}

// splitFields splits a line on whitespace, keeping quoted literals intact
// and dropping ';' comments.
func splitFields(line string) ([]string, error) {
	var fields []string
	i := 0
	for i < len(line) {
		ch := line[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == ',':
			i++
		case ch == ';':
			return fields, nil
		case ch == '"' || ch == '\'':
			lit, err := strconv.QuotedPrefix(line[i:])
			if err != nil {
				return nil, fmt.Errorf("bad literal at column %d", i+1)
			}
			fields = append(fields, lit)
			i += len(lit)
		default:
			j := i
			for j < len(line) && line[j] != ' ' && line[j] != '\t' && line[j] != ',' && line[j] != ';' {
				j++
			}
			fields = append(fields, line[i:j])
			i = j
		}
	}
	return fields, nil
}
