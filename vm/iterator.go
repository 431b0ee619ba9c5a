package vm

import "fmt"

// Iterators are single pass. GET_ITER on an iterator returns the iterator
// itself; restarting a sequence requires asking its source for a new one.

var iteratorMethods methodTable

func init() {
	iteratorMethods = methodTable{
		// next returns the next value, or unit once exhausted.
		"next": {arity: 0, mut: true, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			h, ok, err := v.(Iterator).Next(rt)
			if err != nil {
				return Handle{}, err
			}
			if !ok {
				return rt.Heap().Unit(), nil
			}
			return h, nil
		}},
	}
}

// ---------------------------------------------------------------------------
// Sequence iterators
// ---------------------------------------------------------------------------

// SeqIter walks a list or tuple by index, re-reading the parent on every
// step, so elements appended during iteration are visited.
type SeqIter struct {
	parent Handle
	index  int
	kind   string
}

func (it *SeqIter) TypeName() string         { return it.kind }
func (it *SeqIter) Display() (string, error) { return "<" + it.kind + ">", nil }
func (it *SeqIter) methods() methodTable     { return iteratorMethods }

func (it *SeqIter) Next(rt Runtime) (Handle, bool, error) {
	if !it.parent.IsValid() {
		return Handle{}, false, nil
	}
	ref, err := it.parent.Borrow()
	if err != nil {
		return Handle{}, false, err
	}
	var items []Handle
	switch p := ref.Get().(type) {
	case *List:
		items = p.Items
	case *Tuple:
		items = p.Items
	}
	if it.index >= len(items) {
		ref.Release()
		parent := it.parent
		it.parent = Handle{}
		parent.Drop()
		return Handle{}, false, nil
	}
	h := items[it.index].Clone()
	it.index++
	ref.Release()
	return h, true, nil
}

func (it *SeqIter) eachHandle(fn func(Handle)) {
	if it.parent.IsValid() {
		fn(it.parent)
	}
}

func (it *SeqIter) detach() []Handle {
	if !it.parent.IsValid() {
		return nil
	}
	p := it.parent
	it.parent = Handle{}
	return []Handle{p}
}

// snapshotIter yields handles captured when iteration started.
type snapshotIter struct {
	items []Handle
	kind  string
}

func newSnapshotIter(kind string, items []Handle) *snapshotIter {
	return &snapshotIter{items: items, kind: kind}
}

func (it *snapshotIter) TypeName() string         { return it.kind }
func (it *snapshotIter) Display() (string, error) { return "<" + it.kind + ">", nil }
func (it *snapshotIter) methods() methodTable     { return iteratorMethods }

func (it *snapshotIter) Next(Runtime) (Handle, bool, error) {
	if len(it.items) == 0 {
		return Handle{}, false, nil
	}
	h := it.items[0]
	it.items[0] = Handle{}
	it.items = it.items[1:]
	return h, true, nil
}

func (it *snapshotIter) eachHandle(fn func(Handle)) {
	for _, h := range it.items {
		fn(h)
	}
}

func (it *snapshotIter) detach() []Handle {
	items := it.items
	it.items = nil
	return items
}

// ---------------------------------------------------------------------------
// Range
// ---------------------------------------------------------------------------

// Range yields start, start+step, ... up to but excluding stop.
type Range struct {
	Start, Stop, Step int64
	cur               int64
	done              bool
}

// NewRange validates the step and returns a fresh range.
func NewRange(start, stop, step int64) (*Range, error) {
	if step == 0 {
		return nil, Errorf(KindIndex, "range step cannot be zero")
	}
	return &Range{Start: start, Stop: stop, Step: step, cur: start}, nil
}

func (r *Range) TypeName() string { return "range" }

func (r *Range) Display() (string, error) {
	if r.Step == 1 {
		return fmt.Sprintf("range(%d, %d)", r.Start, r.Stop), nil
	}
	return fmt.Sprintf("range(%d, %d, %d)", r.Start, r.Stop, r.Step), nil
}

func (r *Range) methods() methodTable { return iteratorMethods }

func (r *Range) Next(rt Runtime) (Handle, bool, error) {
	if r.done || (r.Step > 0 && r.cur >= r.Stop) || (r.Step < 0 && r.cur <= r.Stop) {
		r.done = true
		return Handle{}, false, nil
	}
	v := r.cur
	next := v + r.Step
	if (r.Step > 0 && next < v) || (r.Step < 0 && next > v) {
		// the following value would overflow; this one is the last
		r.done = true
	}
	r.cur = next
	return rt.Heap().Int(v), true, nil
}

func (r *Range) GetAttr(hp *Heap, name string) (Handle, error) {
	switch name {
	case "start":
		return hp.Int(r.Start), nil
	case "stop":
		return hp.Int(r.Stop), nil
	case "step":
		return hp.Int(r.Step), nil
	}
	return Handle{}, Errorf(KindAttribute, "range has no attribute %s", name)
}

// ---------------------------------------------------------------------------
// Map and filter
// ---------------------------------------------------------------------------

// MapIter applies fn to every value of an inner iterator.
type MapIter struct {
	inner Handle
	fn    Handle
}

// NewMapIter takes over both references.
func NewMapIter(inner, fn Handle) *MapIter {
	return &MapIter{inner: inner, fn: fn}
}

func (*MapIter) TypeName() string         { return "iterator(map)" }
func (*MapIter) Display() (string, error) { return "<iterator(map)>", nil }
func (it *MapIter) methods() methodTable  { return iteratorMethods }

func (it *MapIter) Next(rt Runtime) (Handle, bool, error) {
	if !it.inner.IsValid() {
		return Handle{}, false, nil
	}
	v, ok, err := advance(rt, it.inner)
	if err != nil || !ok {
		return Handle{}, false, err
	}
	defer v.Drop()
	out, err := rt.Call(it.fn, []Handle{v})
	if err != nil {
		return Handle{}, false, err
	}
	return out, true, nil
}

func (it *MapIter) eachHandle(fn func(Handle)) {
	for _, h := range []Handle{it.inner, it.fn} {
		if h.IsValid() {
			fn(h)
		}
	}
}

func (it *MapIter) detach() []Handle {
	out := []Handle{it.inner, it.fn}
	it.inner, it.fn = Handle{}, Handle{}
	return validHandles(out)
}

// FilterIter yields the values of an inner iterator for which fn is truthy.
type FilterIter struct {
	inner Handle
	fn    Handle
}

// NewFilterIter takes over both references.
func NewFilterIter(inner, fn Handle) *FilterIter {
	return &FilterIter{inner: inner, fn: fn}
}

func (*FilterIter) TypeName() string         { return "iterator(filter)" }
func (*FilterIter) Display() (string, error) { return "<iterator(filter)>", nil }
func (it *FilterIter) methods() methodTable  { return iteratorMethods }

func (it *FilterIter) Next(rt Runtime) (Handle, bool, error) {
	if !it.inner.IsValid() {
		return Handle{}, false, nil
	}
	for {
		v, ok, err := advance(rt, it.inner)
		if err != nil || !ok {
			return Handle{}, false, err
		}
		keep, err := rt.Call(it.fn, []Handle{v})
		if err != nil {
			v.Drop()
			return Handle{}, false, err
		}
		t, err := keep.Truthy()
		keep.Drop()
		if err != nil {
			v.Drop()
			return Handle{}, false, err
		}
		if t {
			return v, true, nil
		}
		v.Drop()
	}
}

func (it *FilterIter) eachHandle(fn func(Handle)) {
	for _, h := range []Handle{it.inner, it.fn} {
		if h.IsValid() {
			fn(h)
		}
	}
}

func (it *FilterIter) detach() []Handle {
	out := []Handle{it.inner, it.fn}
	it.inner, it.fn = Handle{}, Handle{}
	return validHandles(out)
}

func validHandles(hs []Handle) []Handle {
	out := hs[:0]
	for _, h := range hs {
		if h.IsValid() {
			out = append(out, h)
		}
	}
	return out
}

// ---------------------------------------------------------------------------
// Protocol helpers
// ---------------------------------------------------------------------------

// advance calls Next on the iterator behind h under an exclusive borrow.
func advance(rt Runtime, h Handle) (Handle, bool, error) {
	ref, err := h.BorrowMut()
	if err != nil {
		return Handle{}, false, err
	}
	defer ref.Release()
	it, ok := ref.Get().(Iterator)
	if !ok {
		return Handle{}, false, TypeErrorf("%s is not an iterator", h.TypeName())
	}
	return it.Next(rt)
}

// MakeIter returns an iterator over h: h itself if it already is one, or a
// fresh iterator from an iterable value.
func MakeIter(hp *Heap, h Handle) (Handle, error) {
	if _, ok := h.Peek().(Iterator); ok {
		return h.Clone(), nil
	}
	ref, err := h.Borrow()
	if err != nil {
		return Handle{}, err
	}
	defer ref.Release()
	src, ok := ref.Get().(Iterable)
	if !ok {
		return Handle{}, TypeErrorf("value of type %s is not iterable", h.TypeName())
	}
	it, err := src.Iter(hp, h)
	if err != nil {
		return Handle{}, err
	}
	return hp.New(it), nil
}

// Collect drains any iterable into a slice of owned handles.
func Collect(rt Runtime, h Handle) ([]Handle, error) {
	it, err := MakeIter(rt.Heap(), h)
	if err != nil {
		return nil, err
	}
	defer it.Drop()
	var out []Handle
	for {
		v, ok, err := advance(rt, it)
		if err != nil {
			dropAll(out)
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, v)
	}
}
