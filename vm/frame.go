package vm

import (
	"fmt"
	"sync/atomic"

	"github.com/chazu/technetium/pkg/bytecode"
)

// FrameState tracks a frame through its lifetime.
type FrameState uint8

const (
	FrameRunning FrameState = iota
	FrameReturned
	FrameUnwinding
)

func (s FrameState) String() string {
	switch s {
	case FrameRunning:
		return "running"
	case FrameReturned:
		return "returned"
	case FrameUnwinding:
		return "unwinding"
	}
	return "unknown"
}

// frameIDs is the only process-wide mutable state of the package.
var frameIDs atomic.Uint64

// nextFrameID returns a frame id never handed out before in this process.
func nextFrameID() uint64 {
	return frameIDs.Add(1)
}

// Frame is one function activation.
type Frame struct {
	ID     uint64
	Parent uint64 // 0 for the top-level frame
	State  FrameState

	chunk *bytecode.Chunk

	// locals[i] holds the slot value. Once a closure captures slot i, the
	// value lives in cells[i] instead and locals[i] is empty.
	locals   []Handle
	cells    []Handle
	captures []Handle

	stack []Handle
	pc    int
}

func newFrame(parent uint64, chunk *bytecode.Chunk, captures []Handle) *Frame {
	return &Frame{
		ID:       nextFrameID(),
		Parent:   parent,
		chunk:    chunk,
		locals:   make([]Handle, chunk.LocalCount),
		cells:    make([]Handle, chunk.LocalCount),
		captures: captures,
		stack:    make([]Handle, 0, 16),
	}
}

// Name returns the name of the function the frame executes.
func (f *Frame) Name() string {
	return f.chunk.Name
}

// PC returns the offset of the next instruction.
func (f *Frame) PC() int {
	return f.pc
}

// Depth returns the operand stack depth.
func (f *Frame) Depth() int {
	return len(f.stack)
}

func (f *Frame) fail(format string, args ...any) {
	panic(&InternalError{Function: f.chunk.Name, Offset: f.pc, Msg: fmt.Sprintf(format, args...)})
}

// push takes over h's reference.
func (f *Frame) push(h Handle) {
	f.stack = append(f.stack, h)
}

// pop transfers the top reference to the caller.
func (f *Frame) pop() Handle {
	n := len(f.stack)
	if n == 0 {
		f.fail("operand stack underflow")
	}
	h := f.stack[n-1]
	f.stack[n-1] = Handle{}
	f.stack = f.stack[:n-1]
	return h
}

// popN transfers the top n references, deepest first.
func (f *Frame) popN(n int) []Handle {
	if n > len(f.stack) {
		f.fail("operand stack underflow: need %d, have %d", n, len(f.stack))
	}
	base := len(f.stack) - n
	out := make([]Handle, n)
	copy(out, f.stack[base:])
	clear(f.stack[base:])
	f.stack = f.stack[:base]
	return out
}

// peek returns the handle n slots below the top without transferring it.
func (f *Frame) peek(n int) Handle {
	if n >= len(f.stack) {
		f.fail("operand stack underflow")
	}
	return f.stack[len(f.stack)-1-n]
}

// load returns a new reference to a local slot's value.
func (f *Frame) load(slot int) (Handle, error) {
	if f.cells[slot].IsValid() {
		return cellGet(f.cells[slot])
	}
	if !f.locals[slot].IsValid() {
		return Handle{}, nil
	}
	return f.locals[slot].Clone(), nil
}

// store takes over v's reference and drops the slot's previous value.
func (f *Frame) store(slot int, v Handle) error {
	if f.cells[slot].IsValid() {
		return cellSet(f.cells[slot], v)
	}
	old := f.locals[slot]
	f.locals[slot] = v
	old.Drop()
	return nil
}

// cell returns the cell for a local slot, moving the slot's value into a
// new cell the first time it is captured.
func (f *Frame) cell(hp *Heap, slot int) Handle {
	if !f.cells[slot].IsValid() {
		f.cells[slot] = hp.New(&Cell{Value: f.locals[slot]})
		f.locals[slot] = Handle{}
	}
	return f.cells[slot]
}

// release drops everything the frame still references.
func (f *Frame) release() {
	dropAll(f.stack)
	f.stack = nil
	dropAll(f.locals)
	f.locals = nil
	dropAll(f.cells)
	f.cells = nil
	dropAll(f.captures)
	f.captures = nil
}
