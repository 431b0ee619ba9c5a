package vm

import (
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Handles and reference counts
// ---------------------------------------------------------------------------

func TestHandleCloneDrop(t *testing.T) {
	hp := NewHeap(0)
	h := hp.Int(7)
	if h.RefCount() != 1 {
		t.Fatalf("RefCount = %d, want 1", h.RefCount())
	}
	c := h.Clone()
	if !c.Same(h) || h.RefCount() != 2 {
		t.Fatalf("after Clone: same=%v refs=%d", c.Same(h), h.RefCount())
	}
	probe := h.Probe()
	c.Drop()
	if !probe.IsAlive() {
		t.Fatal("object freed while a reference remains")
	}
	h.Drop()
	if probe.IsAlive() {
		t.Error("object alive after its last reference was dropped")
	}
	if hp.Live() != 0 {
		t.Errorf("Live = %d, want 0", hp.Live())
	}
}

func TestDropReleasesChildren(t *testing.T) {
	hp := NewHeap(0)
	inner := hp.String("x")
	probe := inner.Probe()
	list := hp.List([]Handle{inner})
	list.Drop()
	if probe.IsAlive() {
		t.Error("element outlived its list")
	}
	if hp.Live() != 0 {
		t.Errorf("Live = %d, want 0", hp.Live())
	}
}

func TestUseAfterFreePanics(t *testing.T) {
	hp := NewHeap(0)
	h := hp.Int(1)
	h.Drop()
	defer func() {
		r := recover()
		if _, ok := r.(*InternalError); !ok {
			t.Fatalf("recovered %v, want *InternalError", r)
		}
	}()
	h.TypeName()
}

// ---------------------------------------------------------------------------
// Locking
// ---------------------------------------------------------------------------

func TestLockedListRejectsMutation(t *testing.T) {
	interp := New()
	hp := interp.Heap()
	list := hp.List([]Handle{hp.Int(1)})
	defer list.Drop()

	if err := list.Lock(); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	arg := hp.Int(2)
	defer arg.Drop()
	_, err := CallMethod(interp, list, "push", []Handle{arg})
	if !IsKind(err, KindLocked) {
		t.Fatalf("push on locked list: err = %v, want MutateImmutableError", err)
	}

	n, err := CallMethod(interp, list, "length", nil)
	if err != nil {
		t.Fatalf("length on locked list: %v", err)
	}
	defer n.Drop()
	if s, _ := n.Display(); s != "1" {
		t.Errorf("length = %s, want 1", s)
	}
}

func TestLockIsShallow(t *testing.T) {
	hp := NewHeap(0)
	inner := hp.List(nil)
	outer := hp.List([]Handle{inner.Clone()})
	defer outer.Drop()
	defer inner.Drop()

	if err := outer.Lock(); err != nil {
		t.Fatal(err)
	}
	if inner.IsLocked() {
		t.Error("locking a list locked its element")
	}
}

func TestLockWhileBorrowedFails(t *testing.T) {
	hp := NewHeap(0)
	h := hp.List(nil)
	defer h.Drop()
	ref, err := h.BorrowMut()
	if err != nil {
		t.Fatal(err)
	}
	if err := h.Lock(); err == nil {
		t.Error("Lock succeeded during an exclusive borrow")
	}
	ref.Release()
	if err := h.Lock(); err != nil {
		t.Errorf("Lock after release: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Equality, hashing, truthiness
// ---------------------------------------------------------------------------

func TestEqualityAndHash(t *testing.T) {
	hp := NewHeap(0)
	tests := []struct {
		name string
		a, b func() Handle
		want bool
	}{
		{"int int", func() Handle { return hp.Int(3) }, func() Handle { return hp.Int(3) }, true},
		{"int float", func() Handle { return hp.Int(3) }, func() Handle { return hp.Float(3) }, true},
		{"float fraction", func() Handle { return hp.Float(3.5) }, func() Handle { return hp.Int(3) }, false},
		{"strings", func() Handle { return hp.String("ab") }, func() Handle { return hp.String("ab") }, true},
		{"string char", func() Handle { return hp.String("a") }, func() Handle { return hp.Char('a') }, false},
		{"tuples", func() Handle { return hp.Tuple([]Handle{hp.Int(1), hp.String("x")}) },
			func() Handle { return hp.Tuple([]Handle{hp.Float(1), hp.String("x")}) }, true},
		{"unit", func() Handle { return hp.Unit() }, func() Handle { return hp.Unit() }, true},
		{"bool int", func() Handle { return hp.Bool(true) }, func() Handle { return hp.Int(1) }, false},
		{"int past float precision", func() Handle { return hp.Int(1<<53 + 1) }, func() Handle { return hp.Float(1 << 53) }, false},
		{"large int float", func() Handle { return hp.Int(1 << 53) }, func() Handle { return hp.Float(1 << 53) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, b := tt.a(), tt.b()
			defer a.Drop()
			defer b.Drop()
			eq, err := a.Equal(b)
			if err != nil {
				t.Fatal(err)
			}
			if eq != tt.want {
				t.Fatalf("Equal = %v, want %v", eq, tt.want)
			}
			if !eq {
				return
			}
			ha, err := a.Hash()
			if err != nil {
				t.Fatal(err)
			}
			hb, err := b.Hash()
			if err != nil {
				t.Fatal(err)
			}
			if ha != hb {
				t.Errorf("equal values hash differently: %x vs %x", ha, hb)
			}
		})
	}
}

func TestIdentityEquality(t *testing.T) {
	hp := NewHeap(0)
	f1 := hp.New(&Native{Name: "f"})
	f2 := hp.New(&Native{Name: "f"})
	defer f1.Drop()
	defer f2.Drop()

	if eq, _ := f1.Equal(f2); eq {
		t.Error("distinct natives compared equal")
	}
	if eq, _ := f1.Equal(f1); !eq {
		t.Error("a native is not equal to itself")
	}
}

func TestHashableHandle(t *testing.T) {
	hp := NewHeap(0)
	list := hp.List([]Handle{hp.Int(1)})
	defer list.Drop()

	_, err := NewHashable(list)
	if !IsKind(err, KindType) {
		t.Fatalf("err = %v, want TypeError", err)
	}
	want := "list cannot be used as a key: lists are mutable; lock() it first"
	if rerr, _ := AsRuntimeError(err); rerr.Message != want {
		t.Errorf("message = %q, want %q", rerr.Message, want)
	}

	if err := list.Lock(); err != nil {
		t.Fatal(err)
	}
	if _, err := NewHashable(list); err != nil {
		t.Errorf("locked list is not hashable: %v", err)
	}

	set, err := hp.Set(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer set.Drop()
	if _, err := NewHashable(set); !IsKind(err, KindType) {
		t.Errorf("set hashable: err = %v", err)
	}
}

func TestTruthiness(t *testing.T) {
	hp := NewHeap(0)
	tests := []struct {
		name string
		h    Handle
		want bool
	}{
		{"unit", hp.Unit(), false},
		{"false", hp.Bool(false), false},
		{"true", hp.Bool(true), true},
		{"zero", hp.Int(0), false},
		{"int", hp.Int(-2), true},
		{"zero float", hp.Float(0), false},
		{"float", hp.Float(0.1), true},
		{"space", hp.Char(' '), false},
		{"char", hp.Char('a'), true},
		{"empty string", hp.String(""), false},
		{"string", hp.String("0"), true},
		{"empty list", hp.List(nil), false},
		{"list", hp.List([]Handle{hp.Unit()}), true},
		{"empty tuple", hp.Tuple(nil), false},
		{"native", hp.New(&Native{Name: "f"}), true},
	}
	for _, tt := range tests {
		got, err := tt.h.Truthy()
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if got != tt.want {
			t.Errorf("%s: Truthy = %v, want %v", tt.name, got, tt.want)
		}
		tt.h.Drop()
	}
}

// ---------------------------------------------------------------------------
// Display
// ---------------------------------------------------------------------------

func TestDisplay(t *testing.T) {
	hp := NewHeap(0)
	tests := []struct {
		h    Handle
		want string
	}{
		{hp.Unit(), "()"},
		{hp.Int(-4), "-4"},
		{hp.Float(2), "2.0"},
		{hp.Float(0.25), "0.25"},
		{hp.Char('z'), "z"},
		{hp.List([]Handle{hp.Int(1), hp.String("a")}), "[1, a]"},
		{hp.Tuple([]Handle{hp.Int(1)}), "(1,)"},
		{hp.Tuple([]Handle{hp.Int(1), hp.Int(2)}), "(1, 2)"},
	}
	for _, tt := range tests {
		got, err := tt.h.Display()
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("Display = %q, want %q", got, tt.want)
		}
		tt.h.Drop()
	}
}

func TestDisplaySelfReference(t *testing.T) {
	hp := NewHeap(0)
	list := hp.List(nil)
	ref, err := list.BorrowMut()
	if err != nil {
		t.Fatal(err)
	}
	l := ref.Get().(*List)
	l.Items = append(l.Items, list.Clone())
	ref.Release()

	s, err := list.Display()
	if err != nil {
		t.Fatal(err)
	}
	if s != "[...]" {
		t.Errorf("Display = %q, want [...]", s)
	}
	list.Drop()
	hp.Collect()
	if hp.Live() != 0 {
		t.Errorf("Live = %d after collecting the cycle", hp.Live())
	}
}

// selfList returns [first, <itself>].
func selfList(t *testing.T, hp *Heap, first int64) Handle {
	t.Helper()
	list := hp.List([]Handle{hp.Int(first)})
	ref, err := list.BorrowMut()
	if err != nil {
		t.Fatal(err)
	}
	l := ref.Get().(*List)
	l.Items = append(l.Items, list.Clone())
	ref.Release()
	return list
}

func TestEqualSelfReference(t *testing.T) {
	hp := NewHeap(0)
	a := selfList(t, hp, 1)
	b := selfList(t, hp, 1)
	c := selfList(t, hp, 2)

	eq, err := a.Equal(b)
	if err != nil {
		t.Fatal(err)
	}
	if !eq {
		t.Error("two [1, ...] lists should compare equal")
	}
	if eq, err = a.Equal(c); err != nil || eq {
		t.Errorf("[1, ...] == [2, ...]: eq=%v err=%v", eq, err)
	}
	// The comparison leaves no state behind.
	if eq, err = a.Equal(b); err != nil || !eq {
		t.Errorf("second comparison: eq=%v err=%v", eq, err)
	}

	for _, h := range []Handle{a, b, c} {
		h.Drop()
	}
	hp.Collect()
	if hp.Live() != 0 {
		t.Errorf("Live = %d after collecting the cycles", hp.Live())
	}
}

func TestHashSelfReference(t *testing.T) {
	hp := NewHeap(0)
	list := selfList(t, hp, 1)
	if err := list.Lock(); err != nil {
		t.Fatal(err)
	}

	if _, err := list.Hash(); !IsKind(err, KindType) {
		t.Errorf("Hash err = %v, want TypeError", err)
	}
	set := NewSet()
	if err := set.Add(list.Clone()); !IsKind(err, KindType) {
		t.Errorf("Add err = %v, want TypeError", err)
	}
	// The failed Add left its reference with us.
	list.Drop()
	list.Drop()

	hp.Collect()
	if hp.Live() != 0 {
		t.Errorf("Live = %d after collecting the cycle", hp.Live())
	}
}

func TestKeyContentsLockedOnInsert(t *testing.T) {
	hp := NewHeap(0)

	inner := hp.String("a")
	set := NewSet()
	defer set.release()
	if err := set.Add(hp.Tuple([]Handle{inner.Clone()})); err != nil {
		t.Fatal(err)
	}
	if _, err := inner.BorrowMut(); !IsKind(err, KindLocked) {
		t.Errorf("mutating a string inside a set member: err = %v, want MutateImmutableError", err)
	}
	lookup := hp.Tuple([]Handle{hp.String("a")})
	defer lookup.Drop()
	if found, err := set.Contains(lookup); err != nil || !found {
		t.Errorf("Contains((a,)) = %v, %v", found, err)
	}
	inner.Drop()

	text := hp.String("k")
	key := hp.List([]Handle{text.Clone()})
	if err := key.Lock(); err != nil {
		t.Fatal(err)
	}
	dict := NewDict()
	defer dict.release()
	if err := dict.Insert(key, hp.Int(1)); err != nil {
		t.Fatal(err)
	}
	if !text.IsLocked() {
		t.Error("string inside a locked list key was left mutable")
	}
	text.Drop()
}

// ---------------------------------------------------------------------------
// Cycle collection
// ---------------------------------------------------------------------------

func TestCollectReclaimsCycles(t *testing.T) {
	hp := NewHeap(0)
	a := hp.List(nil)
	b := hp.List([]Handle{a.Clone()})
	ref, _ := a.BorrowMut()
	ref.Get().(*List).Items = []Handle{b.Clone()}
	ref.Release()

	pa, pb := a.Probe(), b.Probe()
	a.Drop()
	b.Drop()
	if !pa.IsAlive() || !pb.IsAlive() {
		t.Fatal("reference counting alone reclaimed a cycle")
	}

	stats := hp.Collect()
	if stats.Garbage != 2 {
		t.Errorf("Garbage = %d, want 2", stats.Garbage)
	}
	if pa.IsAlive() || pb.IsAlive() {
		t.Error("cycle survived collection")
	}
}

func TestCollectKeepsReachable(t *testing.T) {
	hp := NewHeap(0)
	root := hp.List(nil)
	defer root.Drop()
	child := hp.List([]Handle{root.Clone()})
	ref, _ := root.BorrowMut()
	ref.Get().(*List).Items = []Handle{child}
	ref.Release()

	hp.Collect()
	if hp.Live() != 2 {
		t.Errorf("Live = %d, want 2", hp.Live())
	}
	if s, _ := root.Display(); !strings.HasPrefix(s, "[[") {
		t.Errorf("root damaged by collection: %s", s)
	}
}

func TestCollectRespectsExclusiveBorrow(t *testing.T) {
	hp := NewHeap(0)
	a := hp.List(nil)
	ref, _ := a.BorrowMut()
	ref.Get().(*List).Items = []Handle{a.Clone()}
	probe := a.Probe()
	a.Drop()

	hp.Collect()
	if !probe.IsAlive() {
		t.Fatal("collected an object under an exclusive borrow")
	}
	ref.Release()
	hp.Collect()
	if probe.IsAlive() {
		t.Error("cycle survived once the borrow was released")
	}
}
