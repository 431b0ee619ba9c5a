package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/technetium/vm"
)

func writeProgram(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))
	return path
}

func runTech(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(append([]string{"--no-color"}, args...), &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

const helloProgram = `
.source "println(\"hello\")"
.line 1:1
	LOAD_GLOBAL println
	CONST "hello"
	CALL 1
	POP
	RETURN_UNIT
`

func TestVersion(t *testing.T) {
	code, stdout, _ := runTech(t, "--version")
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "tech version "+version)
}

func TestUsage(t *testing.T) {
	code, _, stderr := runTech(t)
	assert.Equal(t, exitUsage, code)
	assert.Contains(t, stderr, "Usage: tech")

	code, _, _ = runTech(t, "--bogus")
	assert.Equal(t, exitUsage, code)
}

func TestRunAssembly(t *testing.T) {
	path := writeProgram(t, t.TempDir(), "hello.tasm", helloProgram)
	code, stdout, stderr := runTech(t, path)
	assert.Equal(t, 0, code, stderr)
	assert.Equal(t, "hello\n", stdout)
}

func TestScriptArguments(t *testing.T) {
	path := writeProgram(t, t.TempDir(), "args.tasm", `
		LOAD_GLOBAL println
		LOAD_GLOBAL args
		CALL 0
		CALL 1
		POP
		RETURN_UNIT
	`)
	code, stdout, _ := runTech(t, path, "x", "--flag")
	assert.Equal(t, 0, code)
	assert.Equal(t, "[x, --flag]\n", stdout)
}

func TestExitStatus(t *testing.T) {
	path := writeProgram(t, t.TempDir(), "exit.tasm", `
		LOAD_GLOBAL exit
		CONST 4
		CALL 1
		RETURN
	`)
	code, _, stderr := runTech(t, path)
	assert.Equal(t, 4, code)
	assert.Empty(t, stderr)
}

func TestRuntimeErrorRendering(t *testing.T) {
	path := writeProgram(t, t.TempDir(), "div.tasm", `
.source "1 / 0"
.line 1:1
	CONST 1
	CONST 0
	DIV
	RETURN
`)
	code, _, stderr := runTech(t, path)
	assert.Equal(t, vm.Errorf(vm.KindDivisionByZero, "").Code(), code)
	assert.Contains(t, stderr, "Runtime Error: DivisionByZeroError: ")
	assert.Contains(t, stderr, `main at line 1, col 1: "1 / 0"`)
}

func TestEncodeThenRun(t *testing.T) {
	dir := t.TempDir()
	src := writeProgram(t, dir, "hello.tasm", helloProgram)
	out := filepath.Join(dir, "hello.tcb")

	code, stdout, stderr := runTech(t, "-o", out, src)
	require.Equal(t, 0, code, stderr)
	assert.Empty(t, stdout)
	assert.FileExists(t, out)

	code, stdout, _ = runTech(t, out)
	assert.Equal(t, 0, code)
	assert.Equal(t, "hello\n", stdout)
}

func TestDisassemble(t *testing.T) {
	path := writeProgram(t, t.TempDir(), "hello.tasm", helloProgram)
	code, stdout, _ := runTech(t, "-d", path)
	assert.Equal(t, 0, code)
	assert.Contains(t, stdout, "; Technetium program hello")
	assert.Contains(t, stdout, "LOAD_GLOBAL")
}

func TestLoadFailures(t *testing.T) {
	dir := t.TempDir()

	code, _, stderr := runTech(t, writeProgram(t, dir, "prog.txt", "RETURN_UNIT"))
	assert.Equal(t, exitLoad, code)
	assert.Contains(t, stderr, "unknown program type")

	code, _, _ = runTech(t, writeProgram(t, dir, "bad.tasm", "NOT_AN_OPCODE"))
	assert.Equal(t, exitLoad, code)

	code, _, _ = runTech(t, filepath.Join(dir, "missing.tasm"))
	assert.Equal(t, exitLoad, code)
}

func TestManifestConfig(t *testing.T) {
	dir := t.TempDir()
	path := writeProgram(t, dir, "hello.tasm", helloProgram)

	cfg := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cfg, "tech.toml"), []byte("[runtime]\nrequires = \">= 99.0\"\n"), 0644))
	code, _, stderr := runTech(t, "--config", cfg, path)
	assert.Equal(t, exitLoad, code)
	assert.Contains(t, stderr, "does not satisfy")

	// A tech.toml next to the program is found without --config.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tech.toml"), []byte("[runtime]\ntrace = true\n"), 0644))
	code, stdout, stderr := runTech(t, path)
	assert.Equal(t, 0, code)
	assert.Equal(t, "hello\n", stdout)
	assert.Contains(t, stderr, "LOAD_GLOBAL")
}
