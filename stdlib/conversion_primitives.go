package stdlib

import (
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/chazu/technetium/vm"
)

// ---------------------------------------------------------------------------
// Conversion Primitives
// ---------------------------------------------------------------------------

func (l *library) registerConversionPrimitives() {
	// type: value - Name of the value's kind
	l.define("type", 1, 1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		return rt.Heap().String(args[0].TypeName()), nil
	})

	// string: value - Display form of the value
	l.define("string", 1, 1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		s, err := args[0].Display()
		if err != nil {
			return vm.Handle{}, err
		}
		return rt.Heap().String(s), nil
	})

	l.define("bool", 1, 1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		t, err := args[0].Truthy()
		if err != nil {
			return vm.Handle{}, err
		}
		return rt.Heap().Bool(t), nil
	})

	l.define("int", 1, 1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		n, err := toInt(args[0])
		if err != nil {
			return vm.Handle{}, err
		}
		return rt.Heap().Int(n), nil
	})

	l.define("float", 1, 1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		f, err := toFloat(args[0])
		if err != nil {
			return vm.Handle{}, err
		}
		return rt.Heap().Float(f), nil
	})

	l.define("char", 1, 1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		c, err := toChar(args[0])
		if err != nil {
			return vm.Handle{}, err
		}
		return rt.Heap().Char(c), nil
	})

	// hash: value - Hash of a hashable value
	l.define("hash", 1, 1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		h, err := args[0].Hash()
		if err != nil {
			return vm.Handle{}, vm.TypeErrorf("Unhashable type: %s", args[0].TypeName())
		}
		return rt.Heap().Int(int64(h)), nil
	})

	// clone: value - Deep copy of the value
	l.define("clone", 1, 1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		return vm.DeepClone(rt.Heap(), args[0])
	})

	// lock: value - Make the value immutable. Locking is shallow.
	l.define("lock", 1, 1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		if err := args[0].Lock(); err != nil {
			return vm.Handle{}, err
		}
		return rt.Heap().Unit(), nil
	})
}

func toInt(h vm.Handle) (int64, error) {
	ref, err := h.Borrow()
	if err != nil {
		return 0, err
	}
	defer ref.Release()
	switch v := ref.Get().(type) {
	case vm.Int:
		return int64(v), nil
	case vm.Float:
		f := math.Trunc(float64(v))
		if math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
			return 0, vm.Errorf(vm.KindOverflow, "float %v does not fit in an int", float64(v))
		}
		return int64(f), nil
	case vm.Bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case vm.Char:
		return int64(v), nil
	case *vm.Str:
		n, err := strconv.ParseInt(strings.TrimSpace(v.S), 10, 64)
		if err != nil {
			return 0, vm.TypeErrorf("Error converting string to int: %v", err)
		}
		return n, nil
	}
	return 0, vm.TypeErrorf("Unable to convert from %s to int", h.TypeName())
}

func toFloat(h vm.Handle) (float64, error) {
	ref, err := h.Borrow()
	if err != nil {
		return 0, err
	}
	defer ref.Release()
	switch v := ref.Get().(type) {
	case vm.Float:
		return float64(v), nil
	case vm.Int:
		return float64(v), nil
	case *vm.Str:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.S), 64)
		if err != nil {
			return 0, vm.TypeErrorf("Error converting string to float: %v", err)
		}
		return f, nil
	}
	return 0, vm.TypeErrorf("Unable to convert from %s to float", h.TypeName())
}

func toChar(h vm.Handle) (rune, error) {
	ref, err := h.Borrow()
	if err != nil {
		return 0, err
	}
	defer ref.Release()
	switch v := ref.Get().(type) {
	case vm.Char:
		return rune(v), nil
	case vm.Int:
		if v < 0 || v > utf8.MaxRune || !utf8.ValidRune(rune(v)) {
			return 0, vm.TypeErrorf("Integer does not map to character: %d", int64(v))
		}
		return rune(v), nil
	case *vm.Str:
		if n := utf8.RuneCountInString(v.S); n != 1 {
			return 0, vm.TypeErrorf("Unable to convert string of length %d to character", n)
		}
		r, _ := utf8.DecodeRuneInString(v.S)
		return r, nil
	}
	return 0, vm.TypeErrorf("Unable to convert from %s to char", h.TypeName())
}
