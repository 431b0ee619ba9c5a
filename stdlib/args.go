package stdlib

import (
	"github.com/chazu/technetium/vm"
)

// textArg reads a string or char argument.
func textArg(fn string, h vm.Handle) (string, error) {
	ref, err := h.Borrow()
	if err != nil {
		return "", err
	}
	defer ref.Release()
	switch v := ref.Get().(type) {
	case *vm.Str:
		return v.S, nil
	case vm.Char:
		return string(rune(v)), nil
	}
	return "", vm.TypeErrorf("Incorrect type as argument to %s; expected string, got %s", fn, h.TypeName())
}

// intArg reads an int argument.
func intArg(fn string, h vm.Handle) (int64, error) {
	ref, err := h.Borrow()
	if err != nil {
		return 0, err
	}
	defer ref.Release()
	if i, ok := ref.Get().(vm.Int); ok {
		return int64(i), nil
	}
	return 0, vm.TypeErrorf("Incorrect type as argument to %s; expected int, got %s", fn, h.TypeName())
}

// numberArg reads an int or float argument as a float.
func numberArg(fn string, h vm.Handle) (float64, error) {
	ref, err := h.Borrow()
	if err != nil {
		return 0, err
	}
	defer ref.Release()
	switch v := ref.Get().(type) {
	case vm.Int:
		return float64(v), nil
	case vm.Float:
		return float64(v), nil
	}
	return 0, vm.TypeErrorf("Incorrect type as argument to %s; expected number, got %s", fn, h.TypeName())
}

func dropAll(hs []vm.Handle) {
	for _, h := range hs {
		h.Drop()
	}
}
