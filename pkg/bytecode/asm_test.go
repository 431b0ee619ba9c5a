package bytecode

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAssembleCounter(t *testing.T) {
	prog := loadCounter(t)

	main := prog.Main
	require.Equal(t, "main", main.Name)
	assert.Equal(t, uint16(3), main.LocalCount)
	assert.Equal(t, []string{"range"}, main.Names)
	require.Len(t, main.Functions, 1)

	inc := main.Functions[0]
	assert.Equal(t, "inc", inc.Name)
	require.Len(t, inc.CaptureInfo, 1)
	assert.Equal(t, CaptureDescriptor{Name: "n", Source: VarSourceLocal, Index: 0}, inc.CaptureInfo[0])
	assert.NotZero(t, inc.Flags&ChunkFlagHasCaptures)

	line, ok := prog.SourceLine(3)
	require.True(t, ok)
	assert.Equal(t, "for i in range(0, 3) { inc() }", line)
	_, ok = prog.SourceLine(4)
	assert.False(t, ok)

	loc, ok := inc.Lookup(0)
	require.True(t, ok)
	assert.Equal(t, uint32(2), loc.Line)
	assert.Equal(t, uint16(13), loc.Column)
}

func TestAssembleImplicitMain(t *testing.T) {
	prog, err := Assemble("inline", `
    CONST 40
    CONST 2
    ADD
    RETURN
`)
	require.NoError(t, err)
	assert.Equal(t, "main", prog.Main.Name)
	assert.Equal(t, []Constant{IntConst(40), IntConst(2)}, prog.Main.Constants)
}

func TestAssembleLiterals(t *testing.T) {
	tests := []struct {
		src  string
		want Constant
	}{
		{"42", IntConst(42)},
		{"-3", IntConst(-3)},
		{"0x10", IntConst(16)},
		{"1.5", FloatConst(1.5)},
		{"1e3", FloatConst(1000)},
		{`"a b; c"`, StringConst("a b; c")},
		{`'x'`, CharConst('x')},
		{`'\n'`, CharConst('\n')},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := parseLiteral(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSplitFields(t *testing.T) {
	fields, err := splitFields(`  CALL_METHOD push, 1 ; trailing "comment"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"CALL_METHOD", "push", "1"}, fields)

	fields, err = splitFields(`CONST "semi ; colon"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"CONST", `"semi ; colon"`}, fields)

	_, err = splitFields(`CONST "unterminated`)
	assert.Error(t, err)
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		line int
	}{
		{"unknown instruction", "FROB", 1},
		{"operand count", "CONST", 1},
		{"undefined label", "JUMP nowhere\nRETURN_UNIT", 1},
		{"duplicate label", "a:\na:\nRETURN_UNIT", 2},
		{"undefined function", ".func main\nMAKE_CLOSURE ghost\nRETURN\n.end", 2},
		{"missing end", ".func main\nRETURN_UNIT", 2},
		{"stray end", ".end", 1},
		{"bad capture source", ".func main\n.func f\n.capture global 0 x\n.end\n.end", 3},
		{"multi-char literal", "CONST 'ab'", 1},
		{"unknown directive", ".frob", 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Assemble("bad", tt.src)
			var aerr *AssembleError
			require.True(t, errors.As(err, &aerr), "got %v", err)
			assert.Equal(t, tt.line, aerr.Line)
		})
	}
}

func TestAssembleRunsValidator(t *testing.T) {
	_, err := Assemble("bad", "ADD\nRETURN")
	var verr *ValidationError
	require.True(t, errors.As(err, &verr), "got %v", err)
	assert.Equal(t, "main", verr.Function)
}
