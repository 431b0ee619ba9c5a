package vm

import (
	"math"
	"strings"

	"github.com/chazu/technetium/pkg/bytecode"
)

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

var opSymbols = map[bytecode.Opcode]string{
	bytecode.OpAdd: "+",
	bytecode.OpSub: "-",
	bytecode.OpMul: "*",
	bytecode.OpDiv: "/",
	bytecode.OpMod: "%",
	bytecode.OpLt:  "<",
	bytecode.OpLe:  "<=",
	bytecode.OpGt:  ">",
	bytecode.OpGe:  ">=",
}

// numeric classifies a pair of operands. When either is a float both are
// returned as floats.
func numeric(a, b Value) (ai, bi int64, af, bf float64, isFloat, ok bool) {
	switch x := a.(type) {
	case Int:
		switch y := b.(type) {
		case Int:
			return int64(x), int64(y), 0, 0, false, true
		case Float:
			return 0, 0, float64(x), float64(y), true, true
		}
	case Float:
		switch y := b.(type) {
		case Int:
			return 0, 0, float64(x), float64(y), true, true
		case Float:
			return 0, 0, float64(x), float64(y), true, true
		}
	}
	return 0, 0, 0, 0, false, false
}

func overflow(op bytecode.Opcode, a, b int64) error {
	return Errorf(KindOverflow, "integer overflow in %d %s %d", a, opSymbols[op], b)
}

func intArith(op bytecode.Opcode, a, b int64) (int64, error) {
	switch op {
	case bytecode.OpAdd:
		r := a + b
		if (a > 0 && b > 0 && r < 0) || (a < 0 && b < 0 && r >= 0) {
			return 0, overflow(op, a, b)
		}
		return r, nil
	case bytecode.OpSub:
		r := a - b
		if (a >= 0 && b < 0 && r < 0) || (a < 0 && b > 0 && r >= 0) {
			return 0, overflow(op, a, b)
		}
		return r, nil
	case bytecode.OpMul:
		if a == 0 || b == 0 {
			return 0, nil
		}
		r := a * b
		if r/b != a || (a == -1 && b == math.MinInt64) || (b == -1 && a == math.MinInt64) {
			return 0, overflow(op, a, b)
		}
		return r, nil
	case bytecode.OpDiv:
		if b == 0 {
			return 0, Errorf(KindDivisionByZero, "division by zero")
		}
		if a == math.MinInt64 && b == -1 {
			return 0, overflow(op, a, b)
		}
		return a / b, nil
	case bytecode.OpMod:
		if b == 0 {
			return 0, Errorf(KindDivisionByZero, "modulo by zero")
		}
		return a % b, nil
	}
	internalf("not an arithmetic opcode: %s", op)
	return 0, nil
}

func floatArith(op bytecode.Opcode, a, b float64) (float64, error) {
	switch op {
	case bytecode.OpAdd:
		return a + b, nil
	case bytecode.OpSub:
		return a - b, nil
	case bytecode.OpMul:
		return a * b, nil
	case bytecode.OpDiv:
		if b == 0 {
			return 0, Errorf(KindDivisionByZero, "division by zero")
		}
		return a / b, nil
	case bytecode.OpMod:
		if b == 0 {
			return 0, Errorf(KindDivisionByZero, "modulo by zero")
		}
		return math.Mod(a, b), nil
	}
	internalf("not an arithmetic opcode: %s", op)
	return 0, nil
}

// Arith applies an arithmetic opcode. Both operands are borrowed.
func Arith(hp *Heap, op bytecode.Opcode, a, b Handle) (Handle, error) {
	ra, err := a.Borrow()
	if err != nil {
		return Handle{}, err
	}
	defer ra.Release()
	rb, err := b.Borrow()
	if err != nil {
		return Handle{}, err
	}
	defer rb.Release()
	va, vb := ra.Get(), rb.Get()

	if ai, bi, af, bf, isFloat, ok := numeric(va, vb); ok {
		if isFloat {
			r, err := floatArith(op, af, bf)
			if err != nil {
				return Handle{}, err
			}
			return hp.Float(r), nil
		}
		r, err := intArith(op, ai, bi)
		if err != nil {
			return Handle{}, err
		}
		return hp.Int(r), nil
	}

	switch op {
	case bytecode.OpAdd:
		return concat(hp, a, b, va, vb)
	case bytecode.OpMul:
		if s, ok := va.(*Str); ok {
			if n, ok := vb.(Int); ok {
				return repeat(hp, s.S, int64(n))
			}
		}
		if n, ok := va.(Int); ok {
			if s, ok := vb.(*Str); ok {
				return repeat(hp, s.S, int64(n))
			}
		}
	}
	return Handle{}, TypeErrorf("cannot apply %s to %s and %s", opSymbols[op], a.TypeName(), b.TypeName())
}

func concat(hp *Heap, a, b Handle, va, vb Value) (Handle, error) {
	switch x := va.(type) {
	case *Str:
		rest, err := vb.Display()
		if err != nil {
			return Handle{}, err
		}
		return hp.String(x.S + rest), nil
	case *List:
		if y, ok := vb.(*List); ok {
			items := append(cloneAll(x.Items), cloneAll(y.Items)...)
			return hp.List(items), nil
		}
	case *Tuple:
		if y, ok := vb.(*Tuple); ok {
			items := append(cloneAll(x.Items), cloneAll(y.Items)...)
			return hp.Tuple(items), nil
		}
	}
	if y, ok := vb.(*Str); ok {
		head, err := va.Display()
		if err != nil {
			return Handle{}, err
		}
		return hp.String(head + y.S), nil
	}
	return Handle{}, TypeErrorf("cannot add %s and %s", a.TypeName(), b.TypeName())
}

func repeat(hp *Heap, s string, n int64) (Handle, error) {
	if n < 0 {
		return Handle{}, Errorf(KindIndex, "negative repeat count %d", n)
	}
	if n > 0 && int64(len(s))*n/n != int64(len(s)) {
		return Handle{}, Errorf(KindOverflow, "string repeat too large")
	}
	return hp.String(strings.Repeat(s, int(n))), nil
}

// Negate implements NEG.
func Negate(hp *Heap, a Handle) (Handle, error) {
	ref, err := a.Borrow()
	if err != nil {
		return Handle{}, err
	}
	defer ref.Release()
	switch v := ref.Get().(type) {
	case Int:
		if v == math.MinInt64 {
			return Handle{}, Errorf(KindOverflow, "integer overflow in -(%d)", v)
		}
		return hp.Int(-int64(v)), nil
	case Float:
		return hp.Float(-float64(v)), nil
	}
	return Handle{}, TypeErrorf("cannot negate %s", a.TypeName())
}

// ---------------------------------------------------------------------------
// Comparison
// ---------------------------------------------------------------------------

// Compare applies an ordering opcode. Numbers, strings and chars are ordered.
func Compare(op bytecode.Opcode, a, b Handle) (bool, error) {
	ra, err := a.Borrow()
	if err != nil {
		return false, err
	}
	defer ra.Release()
	rb, err := b.Borrow()
	if err != nil {
		return false, err
	}
	defer rb.Release()
	va, vb := ra.Get(), rb.Get()

	var c int
	if ai, bi, af, bf, isFloat, ok := numeric(va, vb); ok {
		if isFloat {
			if math.IsNaN(af) || math.IsNaN(bf) {
				return false, nil
			}
			c = cmpOrdered(af, bf)
		} else {
			c = cmpOrdered(ai, bi)
		}
	} else {
		switch x := va.(type) {
		case *Str:
			y, ok := vb.(*Str)
			if !ok {
				return false, TypeErrorf("cannot compare %s and %s", a.TypeName(), b.TypeName())
			}
			c = strings.Compare(x.S, y.S)
		case Char:
			y, ok := vb.(Char)
			if !ok {
				return false, TypeErrorf("cannot compare %s and %s", a.TypeName(), b.TypeName())
			}
			c = cmpOrdered(x, y)
		default:
			return false, TypeErrorf("cannot compare %s and %s", a.TypeName(), b.TypeName())
		}
	}

	switch op {
	case bytecode.OpLt:
		return c < 0, nil
	case bytecode.OpLe:
		return c <= 0, nil
	case bytecode.OpGt:
		return c > 0, nil
	case bytecode.OpGe:
		return c >= 0, nil
	}
	internalf("not a comparison opcode: %s", op)
	return false, nil
}

func cmpOrdered[T int64 | float64 | Char](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// ---------------------------------------------------------------------------
// Indexing
// ---------------------------------------------------------------------------

// IndexGet implements obj[index] for lists, tuples, strings and
// dictionaries. index may be an int or a slice, except for dictionaries.
func IndexGet(hp *Heap, obj, index Handle) (Handle, error) {
	ref, err := obj.Borrow()
	if err != nil {
		return Handle{}, err
	}
	defer ref.Release()

	if d, ok := ref.Get().(*Dict); ok {
		v, found, err := d.Get(index)
		if err != nil {
			return Handle{}, err
		}
		if !found {
			key, _ := index.Display()
			return Handle{}, Errorf(KindKey, "key not found: %s", key)
		}
		return v.Clone(), nil
	}

	if sl, ok := index.Peek().(*Slice); ok {
		sref, err := index.Borrow()
		if err != nil {
			return Handle{}, err
		}
		s := *sl
		sref.Release()
		return sliceValue(hp, obj, ref.Get(), &s)
	}

	i, err := intArg("index", index)
	if err != nil {
		return Handle{}, err
	}
	switch v := ref.Get().(type) {
	case *List:
		return itemAt(v.Items, i, "list")
	case *Tuple:
		return itemAt(v.Items, i, "tuple")
	case *Str:
		runes := []rune(v.S)
		n, ok := normalizeIndex(i, len(runes))
		if !ok {
			return Handle{}, Errorf(KindIndex, "index %d out of bounds for string of length %d", i, len(runes))
		}
		return hp.Char(runes[n]), nil
	}
	return Handle{}, TypeErrorf("%s cannot be indexed", obj.TypeName())
}

func itemAt(items []Handle, i int64, kind string) (Handle, error) {
	n, ok := normalizeIndex(i, len(items))
	if !ok {
		return Handle{}, Errorf(KindIndex, "index %d out of bounds for %s of length %d", i, kind, len(items))
	}
	return items[n].Clone(), nil
}

func sliceValue(hp *Heap, obj Handle, v Value, s *Slice) (Handle, error) {
	pick := func(items []Handle) ([]Handle, error) {
		idx, err := s.Indices(len(items))
		if err != nil {
			return nil, err
		}
		out := make([]Handle, len(idx))
		for j, i := range idx {
			out[j] = items[i].Clone()
		}
		return out, nil
	}
	switch x := v.(type) {
	case *List:
		items, err := pick(x.Items)
		if err != nil {
			return Handle{}, err
		}
		return hp.List(items), nil
	case *Tuple:
		items, err := pick(x.Items)
		if err != nil {
			return Handle{}, err
		}
		return hp.Tuple(items), nil
	case *Str:
		runes := []rune(x.S)
		idx, err := s.Indices(len(runes))
		if err != nil {
			return Handle{}, err
		}
		out := make([]rune, len(idx))
		for j, i := range idx {
			out[j] = runes[i]
		}
		return hp.String(string(out)), nil
	}
	return Handle{}, TypeErrorf("%s cannot be sliced", obj.TypeName())
}

// IndexSet implements obj[index] = value for lists and dictionaries. obj and
// index are borrowed; value's reference is taken over on success.
func IndexSet(obj, index, value Handle) error {
	switch obj.Peek().(type) {
	case *Dict:
		ref, err := obj.BorrowMut()
		if err != nil {
			return err
		}
		defer ref.Release()
		key := index.Clone()
		if err := ref.Get().(*Dict).Insert(key, value); err != nil {
			key.Drop()
			return err
		}
		return nil
	case *List:
		i, err := intArg("index", index)
		if err != nil {
			return err
		}
		ref, err := obj.BorrowMut()
		if err != nil {
			return err
		}
		l := ref.Get().(*List)
		n, ok := normalizeIndex(i, len(l.Items))
		if !ok {
			ref.Release()
			return Errorf(KindIndex, "index %d out of bounds for list of length %d", i, len(l.Items))
		}
		old := l.Items[n]
		l.Items[n] = value
		ref.Release()
		old.Drop()
		return nil
	}
	return TypeErrorf("%s does not support item assignment", obj.TypeName())
}

// MakeSlice builds a slice descriptor from start, stop and step handles, any
// of which may be unit.
func MakeSlice(hp *Heap, start, stop, step Handle) (Handle, error) {
	s := &Slice{Step: 1}
	if err := s.SetAttr("start", start); err != nil {
		return Handle{}, err
	}
	if err := s.SetAttr("stop", stop); err != nil {
		return Handle{}, err
	}
	if err := s.SetAttr("step", step); err != nil {
		return Handle{}, err
	}
	return hp.Slice(s), nil
}
