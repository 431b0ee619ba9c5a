package stdlib

import (
	"github.com/chazu/technetium/vm"
)

// ---------------------------------------------------------------------------
// Collection and Iterator Primitives
// ---------------------------------------------------------------------------

func (l *library) registerCollectionPrimitives() {
	// range: [start,] stop [, step] - Lazy sequence of integers
	l.define("range", 1, 3, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		bounds := []int64{0, 0, 1}
		for i, a := range args {
			n, err := intArg("range", a)
			if err != nil {
				return vm.Handle{}, vm.TypeErrorf("Expected integer arguments to range")
			}
			bounds[i] = n
		}
		if len(args) == 1 {
			bounds[0], bounds[1] = 0, bounds[0]
		}
		r, err := vm.NewRange(bounds[0], bounds[1], bounds[2])
		if err != nil {
			return vm.Handle{}, err
		}
		return rt.Heap().New(r), nil
	})

	// list: iterable - Collect an iterable into a new list
	l.define("list", 1, 1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		items, err := vm.Collect(rt, args[0])
		if err != nil {
			return vm.Handle{}, err
		}
		return rt.Heap().List(items), nil
	})

	l.define("tuple", 1, 1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		items, err := vm.Collect(rt, args[0])
		if err != nil {
			return vm.Handle{}, err
		}
		return rt.Heap().Tuple(items), nil
	})

	// set: iterable - Collect into a set; every element gets locked
	l.define("set", 1, 1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		items, err := vm.Collect(rt, args[0])
		if err != nil {
			return vm.Handle{}, err
		}
		return rt.Heap().Set(items)
	})

	// dict: iterable - Build a dictionary from (key, value) pairs
	l.define("dict", 1, 1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		items, err := vm.Collect(rt, args[0])
		if err != nil {
			return vm.Handle{}, err
		}
		defer dropAll(items)
		pairs := make([]vm.Handle, 0, 2*len(items))
		for _, item := range items {
			k, v, err := unpackPair(item)
			if err != nil {
				dropAll(pairs)
				return vm.Handle{}, err
			}
			pairs = append(pairs, k, v)
		}
		return rt.Heap().Dict(pairs)
	})

	// map: iterable, fn - Lazily apply fn to each value
	l.define("map", 2, 2, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		it, err := vm.MakeIter(rt.Heap(), args[0])
		if err != nil {
			return vm.Handle{}, err
		}
		return rt.Heap().New(vm.NewMapIter(it, args[1].Clone())), nil
	})

	// filter: iterable, fn - Lazily keep the values fn finds truthy
	l.define("filter", 2, 2, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		it, err := vm.MakeIter(rt.Heap(), args[0])
		if err != nil {
			return vm.Handle{}, err
		}
		return rt.Heap().New(vm.NewFilterIter(it, args[1].Clone())), nil
	})
}

// unpackPair returns owned references to the two elements of a pair.
func unpackPair(h vm.Handle) (vm.Handle, vm.Handle, error) {
	ref, err := h.Borrow()
	if err != nil {
		return vm.Handle{}, vm.Handle{}, err
	}
	defer ref.Release()
	var items []vm.Handle
	switch v := ref.Get().(type) {
	case *vm.Tuple:
		items = v.Items
	case *vm.List:
		items = v.Items
	}
	if len(items) != 2 {
		return vm.Handle{}, vm.Handle{}, vm.TypeErrorf("dict expects (key, value) pairs, got %s", h.TypeName())
	}
	return items[0].Clone(), items[1].Clone(), nil
}
