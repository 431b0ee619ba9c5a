package stdlib

import (
	"math"

	"github.com/chazu/technetium/vm"
)

// ---------------------------------------------------------------------------
// Math Primitives
// ---------------------------------------------------------------------------

var floatFuncs = map[string]func(float64) float64{
	"sin":    math.Sin,
	"cos":    math.Cos,
	"tan":    math.Tan,
	"sqrt":   math.Sqrt,
	"exp":    math.Exp,
	"ln":     math.Log,
	"arcsin": math.Asin,
	"arccos": math.Acos,
	"arctan": math.Atan,
}

func (l *library) registerMathPrimitives() {
	for name, fn := range floatFuncs {
		l.define(name, 1, 1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
			x, err := numberArg(name, args[0])
			if err != nil {
				return vm.Handle{}, err
			}
			return rt.Heap().Float(fn(x)), nil
		})
	}

	// abs keeps ints as ints
	l.define("abs", 1, 1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		if n, err := intArg("abs", args[0]); err == nil {
			if n == math.MinInt64 {
				return vm.Handle{}, vm.Errorf(vm.KindOverflow, "integer overflow in abs(%d)", n)
			}
			if n < 0 {
				n = -n
			}
			return rt.Heap().Int(n), nil
		}
		x, err := numberArg("abs", args[0])
		if err != nil {
			return vm.Handle{}, err
		}
		return rt.Heap().Float(math.Abs(x)), nil
	})

	// rand: - Uniform float in [0, 1)
	l.define("rand", 0, 0, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		return rt.Heap().Float(l.rng.Float64()), nil
	})

	// rand_int: lo, hi - Uniform int in [lo, hi)
	l.define("rand_int", 2, 2, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		lo, err := intArg("rand_int", args[0])
		if err != nil {
			return vm.Handle{}, err
		}
		hi, err := intArg("rand_int", args[1])
		if err != nil {
			return vm.Handle{}, err
		}
		if hi <= lo {
			return vm.Handle{}, vm.Errorf(vm.KindIndex, "rand_int: empty range [%d, %d)", lo, hi)
		}
		span := uint64(hi) - uint64(lo)
		return rt.Heap().Int(lo + int64(l.rng.Uint64N(span))), nil
	})
}
