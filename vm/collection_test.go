package vm

import (
	"math"
	"reflect"
	"testing"
)

// ---------------------------------------------------------------------------
// Set
// ---------------------------------------------------------------------------

func TestSetDeduplicatesAndLocks(t *testing.T) {
	hp := NewHeap(0)
	member := hp.String("a")
	set, err := hp.Set([]Handle{hp.Int(1), hp.Float(1), member.Clone(), hp.String("a")})
	if err != nil {
		t.Fatal(err)
	}
	defer set.Drop()
	defer member.Drop()

	ref, _ := set.Borrow()
	n := ref.Get().(*Set).Len()
	ref.Release()
	if n != 2 {
		t.Errorf("Len = %d, want 2", n)
	}
	if !member.IsLocked() {
		t.Error("set member was not locked")
	}
	if s, _ := set.Display(); s != "{1, a}" {
		t.Errorf("Display = %q", s)
	}
}

func TestSetRejectsUnhashable(t *testing.T) {
	hp := NewHeap(0)
	_, err := hp.Set([]Handle{hp.Int(1), hp.List(nil), hp.Int(2)})
	if !IsKind(err, KindType) {
		t.Fatalf("err = %v, want TypeError", err)
	}
	if hp.Live() != 0 {
		t.Errorf("Live = %d after failed construction", hp.Live())
	}
}

func TestSetMethods(t *testing.T) {
	interp := New()
	hp := interp.Heap()
	set, _ := hp.Set(nil)
	defer set.Drop()

	call := func(name string, arg Handle) string {
		t.Helper()
		defer arg.Drop()
		r, err := CallMethod(interp, set, name, []Handle{arg})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		defer r.Drop()
		s, _ := r.Display()
		return s
	}

	if got := call("add", hp.Int(3)); got != "true" {
		t.Errorf("first add = %s", got)
	}
	if got := call("add", hp.Float(3)); got != "false" {
		t.Errorf("duplicate add = %s", got)
	}
	if got := call("contains", hp.Int(3)); got != "true" {
		t.Errorf("contains = %s", got)
	}
	if got := call("remove", hp.Int(3)); got != "true" {
		t.Errorf("remove = %s", got)
	}
	if got := call("contains", hp.Int(3)); got != "false" {
		t.Errorf("contains after remove = %s", got)
	}
}

// ---------------------------------------------------------------------------
// Dict
// ---------------------------------------------------------------------------

func TestDictInsertReplaceRemove(t *testing.T) {
	hp := NewHeap(0)
	key := hp.String("k")
	d, err := hp.Dict([]Handle{key.Clone(), hp.Int(1), hp.String("j"), hp.Int(2)})
	if err != nil {
		t.Fatal(err)
	}
	defer d.Drop()
	defer key.Drop()

	if !key.IsLocked() {
		t.Error("dictionary key was not locked")
	}

	ref, _ := d.BorrowMut()
	dict := ref.Get().(*Dict)
	if err := dict.Insert(hp.String("k"), hp.Int(10)); err != nil {
		t.Fatal(err)
	}
	if dict.Len() != 2 {
		t.Errorf("Len = %d after replacing, want 2", dict.Len())
	}
	v, found, err := dict.Get(key)
	if err != nil || !found {
		t.Fatalf("Get: found=%v err=%v", found, err)
	}
	if s, _ := v.Display(); s != "10" {
		t.Errorf("value = %s, want 10", s)
	}
	old, found, _ := dict.Remove(key)
	if !found {
		t.Fatal("Remove did not find the key")
	}
	old.Drop()
	ref.Release()

	if s, _ := d.Display(); s != "{j: 2}" {
		t.Errorf("Display = %q", s)
	}
}

func TestDictMethods(t *testing.T) {
	interp := New()
	hp := interp.Heap()
	d, _ := hp.Dict([]Handle{hp.String("a"), hp.Int(1), hp.String("b"), hp.Int(2)})
	defer d.Drop()

	tests := []struct {
		method string
		args   []Handle
		want   string
	}{
		{"length", nil, "2"},
		{"keys", nil, "[a, b]"},
		{"values", nil, "[1, 2]"},
		{"items", nil, "[(a, 1), (b, 2)]"},
		{"get", []Handle{hp.String("b")}, "2"},
		{"get", []Handle{hp.String("zz")}, "()"},
		{"contains", []Handle{hp.String("a")}, "true"},
	}
	for _, tt := range tests {
		r, err := CallMethod(interp, d, tt.method, tt.args)
		if err != nil {
			t.Fatalf("%s: %v", tt.method, err)
		}
		if s, _ := r.Display(); s != tt.want {
			t.Errorf("%s = %q, want %q", tt.method, s, tt.want)
		}
		r.Drop()
		dropAll(tt.args)
	}
}

// ---------------------------------------------------------------------------
// List methods
// ---------------------------------------------------------------------------

func TestListMethods(t *testing.T) {
	interp := New()
	hp := interp.Heap()
	list := hp.List([]Handle{hp.Int(1), hp.Int(2)})
	defer list.Drop()

	steps := []struct {
		method string
		args   []Handle
		want   string
		after  string
	}{
		{"push", []Handle{hp.Int(3)}, "()", "[1, 2, 3]"},
		{"insert", []Handle{hp.Int(0), hp.Int(0)}, "()", "[0, 1, 2, 3]"},
		{"insert", []Handle{hp.Int(-1), hp.Int(9)}, "()", "[0, 1, 2, 9, 3]"},
		{"pop", nil, "3", "[0, 1, 2, 9]"},
		{"append", []Handle{hp.Tuple([]Handle{hp.Int(7), hp.Int(8)})}, "()", "[0, 1, 2, 9, 7, 8]"},
		{"contains", []Handle{hp.Float(9)}, "true", "[0, 1, 2, 9, 7, 8]"},
		{"clear", nil, "()", "[]"},
		{"pop", nil, "()", "[]"},
	}
	for _, s := range steps {
		r, err := CallMethod(interp, list, s.method, s.args)
		if err != nil {
			t.Fatalf("%s: %v", s.method, err)
		}
		if got, _ := r.Display(); got != s.want {
			t.Errorf("%s returned %q, want %q", s.method, got, s.want)
		}
		if got, _ := list.Display(); got != s.after {
			t.Errorf("after %s: %q, want %q", s.method, got, s.after)
		}
		r.Drop()
		dropAll(s.args)
	}
}

func TestMethodErrors(t *testing.T) {
	interp := New()
	hp := interp.Heap()
	list := hp.List(nil)
	defer list.Drop()

	_, err := CallMethod(interp, list, "push", nil)
	rerr, ok := AsRuntimeError(err)
	if !ok || rerr.Kind != KindArity {
		t.Fatalf("err = %v, want ArityError", err)
	}
	if rerr.Expected != 1 || rerr.Actual != 0 {
		t.Errorf("Expected/Actual = %d/%d", rerr.Expected, rerr.Actual)
	}
	want := "Incorrect number of arguments given to list.push: expected 1, got 0"
	if rerr.Message != want {
		t.Errorf("message = %q, want %q", rerr.Message, want)
	}

	if _, err := CallMethod(interp, list, "frobnicate", nil); !IsKind(err, KindAttribute) {
		t.Errorf("unknown method: err = %v", err)
	}

	self := list.Clone()
	defer self.Drop()
	if _, err := CallMethod(interp, list, "append", []Handle{self}); !IsKind(err, KindBorrow) {
		t.Errorf("appending a list to itself: err = %v, want BorrowError", err)
	}
}

// ---------------------------------------------------------------------------
// Slices
// ---------------------------------------------------------------------------

func TestSliceIndices(t *testing.T) {
	tests := []struct {
		name string
		s    Slice
		n    int
		want []int
	}{
		{"all", Slice{Step: 1}, 4, []int{0, 1, 2, 3}},
		{"start", Slice{Start: 2, HasStart: true, Step: 1}, 4, []int{2, 3}},
		{"negative stop", Slice{Stop: -1, HasStop: true, Step: 1}, 4, []int{0, 1, 2}},
		{"reverse", Slice{Step: -1}, 4, []int{3, 2, 1, 0}},
		{"every other", Slice{Step: 2}, 5, []int{0, 2, 4}},
		{"clamped", Slice{Start: -10, HasStart: true, Stop: 10, HasStop: true, Step: 1}, 3, []int{0, 1, 2}},
		{"empty", Slice{Start: 3, HasStart: true, Stop: 1, HasStop: true, Step: 1}, 4, nil},
		{"reverse bounded", Slice{Start: 2, HasStart: true, Stop: 0, HasStop: true, Step: -1}, 4, []int{2, 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.s.Indices(tt.n)
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Indices(%d) = %v, want %v", tt.n, got, tt.want)
			}
		})
	}

	zero := Slice{Step: 0}
	if _, err := zero.Indices(3); !IsKind(err, KindIndex) {
		t.Errorf("zero step: err = %v", err)
	}
}

func TestSliceAttributes(t *testing.T) {
	hp := NewHeap(0)
	u, one, zero := hp.Unit(), hp.Int(1), hp.Int(0)
	defer dropAll([]Handle{u, one, zero})

	s, err := MakeSlice(hp, one, u, u)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Drop()
	if d, _ := s.Display(); d != "slice(1::1)" {
		t.Errorf("Display = %q", d)
	}
	stop, err := getAttr(hp, s, "stop")
	if err != nil {
		t.Fatal(err)
	}
	if stop.TypeName() != "unit" {
		t.Errorf("stop = %s, want unit", stop.TypeName())
	}
	stop.Drop()

	if err := setAttr(s, "step", zero); !IsKind(err, KindIndex) {
		t.Errorf("step 0: err = %v", err)
	}
}

// ---------------------------------------------------------------------------
// Deep clone
// ---------------------------------------------------------------------------

func TestDeepClone(t *testing.T) {
	hp := NewHeap(0)
	inner := hp.List([]Handle{hp.Int(1)})
	outer := hp.List([]Handle{inner.Clone(), hp.String("s")})
	defer outer.Drop()
	defer inner.Drop()

	c, err := DeepClone(hp, outer)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Drop()

	if eq, _ := c.Equal(outer); !eq {
		t.Error("clone differs from original")
	}
	ref, _ := inner.BorrowMut()
	l := ref.Get().(*List)
	l.Items = append(l.Items, hp.Int(2))
	ref.Release()
	if eq, _ := c.Equal(outer); eq {
		t.Error("clone shares its nested list with the original")
	}

	fn := hp.New(&Native{Name: "f"})
	defer fn.Drop()
	if _, err := DeepClone(hp, fn); !IsKind(err, KindType) {
		t.Errorf("cloning a native: err = %v", err)
	}
}

// ---------------------------------------------------------------------------
// Iterators
// ---------------------------------------------------------------------------

func drain(t *testing.T, rt Runtime, h Handle) []string {
	t.Helper()
	items, err := Collect(rt, h)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]string, len(items))
	for i, v := range items {
		out[i], _ = v.Display()
	}
	dropAll(items)
	return out
}

func TestRange(t *testing.T) {
	interp := New()
	tests := []struct {
		start, stop, step int64
		want              []string
	}{
		{0, 5, 2, []string{"0", "2", "4"}},
		{5, 0, -2, []string{"5", "3", "1"}},
		{3, 3, 1, []string{}},
		{math.MaxInt64 - 1, math.MaxInt64, 1, []string{"9223372036854775806"}},
	}
	for _, tt := range tests {
		r, err := NewRange(tt.start, tt.stop, tt.step)
		if err != nil {
			t.Fatal(err)
		}
		h := interp.Heap().New(r)
		got := drain(t, interp, h)
		h.Drop()
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("range(%d, %d, %d) = %v, want %v", tt.start, tt.stop, tt.step, got, tt.want)
		}
	}

	if _, err := NewRange(0, 1, 0); !IsKind(err, KindIndex) {
		t.Errorf("zero step: err = %v", err)
	}
}

func TestIteratorsAreSinglePass(t *testing.T) {
	interp := New()
	r, _ := NewRange(0, 3, 1)
	h := interp.Heap().New(r)
	defer h.Drop()

	if got := drain(t, interp, h); len(got) != 3 {
		t.Fatalf("first pass = %v", got)
	}
	if got := drain(t, interp, h); len(got) != 0 {
		t.Errorf("second pass = %v, want nothing", got)
	}
}

func TestDictIteratesKeys(t *testing.T) {
	interp := New()
	hp := interp.Heap()
	d, _ := hp.Dict([]Handle{hp.String("x"), hp.Int(1), hp.String("y"), hp.Int(2)})
	defer d.Drop()

	got := drain(t, interp, d)
	if !reflect.DeepEqual(got, []string{"x", "y"}) {
		t.Errorf("keys = %v", got)
	}
}

func TestLinesHoldsBorrow(t *testing.T) {
	interp := New()
	hp := interp.Heap()
	s := hp.String("one\r\ntwo\n")
	defer s.Drop()

	it, err := CallMethod(interp, s, "lines", nil)
	if err != nil {
		t.Fatal(err)
	}
	suffix := hp.String("!")
	defer suffix.Drop()

	if _, err := CallMethod(interp, s, "push", []Handle{suffix}); !IsKind(err, KindBorrow) {
		t.Fatalf("push during iteration: err = %v, want BorrowError", err)
	}
	got := drain(t, interp, it)
	if !reflect.DeepEqual(got, []string{"one", "two"}) {
		t.Errorf("lines = %v", got)
	}
	if _, err := CallMethod(interp, s, "push", []Handle{suffix}); err != nil {
		t.Errorf("push after iteration: %v", err)
	}
	it.Drop()
}

func TestDroppedIteratorReleasesBorrow(t *testing.T) {
	interp := New()
	hp := interp.Heap()
	s := hp.String("abc")
	defer s.Drop()

	it, err := CallMethod(interp, s, "chars", nil)
	if err != nil {
		t.Fatal(err)
	}
	it.Drop()

	suffix := hp.String("d")
	defer suffix.Drop()
	if _, err := CallMethod(interp, s, "push", []Handle{suffix}); err != nil {
		t.Errorf("push after dropping the iterator: %v", err)
	}
}

func TestMapAndFilter(t *testing.T) {
	interp := New()
	hp := interp.Heap()
	double := hp.New(&Native{Name: "double", MinArgs: 1, MaxArgs: 1, Fn: func(rt Runtime, args []Handle) (Handle, error) {
		n, err := intArg("double", args[0])
		if err != nil {
			return Handle{}, err
		}
		return rt.Heap().Int(2 * n), nil
	}})
	odd := hp.New(&Native{Name: "odd", MinArgs: 1, MaxArgs: 1, Fn: func(rt Runtime, args []Handle) (Handle, error) {
		n, err := intArg("odd", args[0])
		if err != nil {
			return Handle{}, err
		}
		return rt.Heap().Bool(n%2 != 0), nil
	}})

	r, _ := NewRange(0, 5, 1)
	src := hp.New(r)
	filtered := hp.New(NewFilterIter(src, odd))
	mapped := hp.New(NewMapIter(filtered, double))

	got := drain(t, interp, mapped)
	mapped.Drop()
	if !reflect.DeepEqual(got, []string{"2", "6"}) {
		t.Errorf("map(filter(range)) = %v", got)
	}
	if hp.Live() != 0 {
		t.Errorf("Live = %d, want 0", hp.Live())
	}
}
