package vm

import (
	"fmt"

	"github.com/chazu/technetium/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Function: a closure over a compiled chunk
// ---------------------------------------------------------------------------

// Function is a compiled function together with the cells it captured when
// MAKE_CLOSURE ran. Captures[i] corresponds to Chunk.CaptureInfo[i].
type Function struct {
	Chunk    *bytecode.Chunk
	Captures []Handle
}

func (f *Function) TypeName() string { return "function" }

func (f *Function) Display() (string, error) {
	return fmt.Sprintf("<function %s/%d>", f.Chunk.Name, f.Chunk.ParamCount), nil
}

func (f *Function) eachHandle(fn func(Handle)) {
	for _, h := range f.Captures {
		fn(h)
	}
}

func (f *Function) detach() []Handle {
	caps := f.Captures
	f.Captures = nil
	return caps
}

// ---------------------------------------------------------------------------
// Native: a Go function callable from scripts
// ---------------------------------------------------------------------------

// NativeFunc implements a native. args are borrowed for the duration of the
// call; the returned handle is owned by the caller.
type NativeFunc func(rt Runtime, args []Handle) (Handle, error)

// Native is a function implemented in Go. MaxArgs < 0 accepts any number of
// arguments from MinArgs upward.
type Native struct {
	Name    string
	MinArgs int
	MaxArgs int
	Fn      NativeFunc
}

func (n *Native) TypeName() string { return "function" }

func (n *Native) Display() (string, error) {
	return fmt.Sprintf("<native %s>", n.Name), nil
}

func (n *Native) checkArity(argc int) error {
	if argc < n.MinArgs {
		return ArityError(n.Name, n.MinArgs, argc)
	}
	if n.MaxArgs >= 0 && argc > n.MaxArgs {
		return ArityError(n.Name, n.MaxArgs, argc)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Cell: a captured variable
// ---------------------------------------------------------------------------

// Cell holds the current value of a variable shared between a frame and the
// closures that captured it.
type Cell struct {
	Value Handle
}

func (c *Cell) TypeName() string { return "cell" }

func (c *Cell) Display() (string, error) {
	if !c.Value.IsValid() {
		return "<cell>", nil
	}
	s, err := c.Value.Display()
	if err != nil {
		return "", err
	}
	return "<cell " + s + ">", nil
}

func (c *Cell) eachHandle(fn func(Handle)) {
	if c.Value.IsValid() {
		fn(c.Value)
	}
}

func (c *Cell) detach() []Handle {
	if !c.Value.IsValid() {
		return nil
	}
	v := c.Value
	c.Value = Handle{}
	return []Handle{v}
}

// cellGet returns a new reference to the cell's value.
func cellGet(cell Handle) (Handle, error) {
	ref, err := cell.Borrow()
	if err != nil {
		return Handle{}, err
	}
	defer ref.Release()
	c := ref.Get().(*Cell)
	if !c.Value.IsValid() {
		return Handle{}, nil
	}
	return c.Value.Clone(), nil
}

// cellSet stores v, taking over its reference, and drops the old value.
func cellSet(cell Handle, v Handle) error {
	ref, err := cell.BorrowMut()
	if err != nil {
		v.Drop()
		return err
	}
	c := ref.Get().(*Cell)
	old := c.Value
	c.Value = v
	ref.Release()
	old.Drop()
	return nil
}
