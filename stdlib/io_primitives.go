package stdlib

import (
	"io"
	"strings"

	"github.com/chazu/technetium/vm"
)

// ---------------------------------------------------------------------------
// Output Primitives
// ---------------------------------------------------------------------------

func (l *library) registerIOPrimitives() {
	// print: values... - Write the values separated by tabs
	l.define("print", 0, -1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		return write(rt, rt.Stdout(), args, "")
	})

	// println: values... - Write the values separated by tabs, then a newline
	l.define("println", 0, -1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		return write(rt, rt.Stdout(), args, "\n")
	})

	l.define("eprint", 0, -1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		return write(rt, rt.Stderr(), args, "")
	})

	l.define("eprintln", 0, -1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		return write(rt, rt.Stderr(), args, "\n")
	})
}

func write(rt vm.Runtime, w io.Writer, args []vm.Handle, end string) (vm.Handle, error) {
	parts := make([]string, len(args))
	for i, a := range args {
		s, err := a.Display()
		if err != nil {
			return vm.Handle{}, err
		}
		parts[i] = s
	}
	if _, err := io.WriteString(w, strings.Join(parts, "\t")+end); err != nil {
		return vm.Handle{}, vm.IOError(err)
	}
	return rt.Heap().Unit(), nil
}
