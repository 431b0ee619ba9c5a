package vm

import (
	"fmt"
	"strings"

	"github.com/elliotchance/orderedmap/v3"
)

// ---------------------------------------------------------------------------
// List
// ---------------------------------------------------------------------------

// List is an ordered mutable sequence. It is hashable only once locked.
type List struct {
	Items []Handle
}

func (l *List) TypeName() string         { return "list" }
func (l *List) Display() (string, error) { return joinDisplay("[", l.Items, "]") }
func (l *List) Truthy() bool             { return len(l.Items) > 0 }

func (l *List) Equal(other Value) (bool, error) {
	o, ok := other.(*List)
	if !ok {
		return false, nil
	}
	return equalItems(l.Items, o.Items)
}

func (l *List) Hash(locked bool) (uint64, error) {
	if !locked {
		return 0, TypeErrorf("list is not hashable unless locked")
	}
	return hashSequence(tagList, l.Items)
}

func (l *List) DeepClone(hp *Heap) (Value, error) {
	items, err := deepCloneItems(hp, l.Items)
	if err != nil {
		return nil, err
	}
	return &List{Items: items}, nil
}

func (l *List) Iter(hp *Heap, self Handle) (Value, error) {
	return &SeqIter{parent: self.Clone(), kind: "iterator(list)"}, nil
}

func (l *List) eachHandle(fn func(Handle)) {
	for _, h := range l.Items {
		fn(h)
	}
}

func (l *List) detach() []Handle {
	items := l.Items
	l.Items = nil
	return items
}

// ---------------------------------------------------------------------------
// Tuple
// ---------------------------------------------------------------------------

// Tuple is a fixed sequence. It is hashable when all of its elements are.
type Tuple struct {
	Items []Handle
}

func (t *Tuple) TypeName() string { return "tuple" }
func (t *Tuple) Truthy() bool     { return len(t.Items) > 0 }

func (t *Tuple) Display() (string, error) {
	if len(t.Items) == 1 {
		return joinDisplay("(", t.Items, ",)")
	}
	return joinDisplay("(", t.Items, ")")
}

func (t *Tuple) Equal(other Value) (bool, error) {
	o, ok := other.(*Tuple)
	if !ok {
		return false, nil
	}
	return equalItems(t.Items, o.Items)
}

func (t *Tuple) Hash(bool) (uint64, error) {
	return hashSequence(tagTuple, t.Items)
}

func (t *Tuple) DeepClone(hp *Heap) (Value, error) {
	items, err := deepCloneItems(hp, t.Items)
	if err != nil {
		return nil, err
	}
	return &Tuple{Items: items}, nil
}

func (t *Tuple) Iter(hp *Heap, self Handle) (Value, error) {
	return &SeqIter{parent: self.Clone(), kind: "iterator(tuple)"}, nil
}

func (t *Tuple) eachHandle(fn func(Handle)) {
	for _, h := range t.Items {
		fn(h)
	}
}

func (t *Tuple) detach() []Handle {
	items := t.Items
	t.Items = nil
	return items
}

// ---------------------------------------------------------------------------
// Set
// ---------------------------------------------------------------------------

// Set is a hash set of hashable handles, kept in insertion order.
type Set struct {
	buckets *orderedmap.OrderedMap[uint64, []HashableHandle]
	n       int
}

// NewSet returns an empty set.
func NewSet() *Set {
	return &Set{buckets: orderedmap.NewOrderedMap[uint64, []HashableHandle]()}
}

func (s *Set) TypeName() string { return "set" }
func (s *Set) Truthy() bool     { return s.n > 0 }

// Len returns the number of members.
func (s *Set) Len() int { return s.n }

func (s *Set) Display() (string, error) {
	return joinDisplay("{", s.Members(), "}")
}

// Members returns the members in insertion order. The handles are borrowed.
func (s *Set) Members() []Handle {
	out := make([]Handle, 0, s.n)
	for _, bucket := range s.buckets.AllFromFront() {
		for _, k := range bucket {
			out = append(out, k.Handle)
		}
	}
	return out
}

func (s *Set) find(k HashableHandle) (int, error) {
	bucket, _ := s.buckets.Get(k.hash)
	for i, m := range bucket {
		eq, err := m.Equal(k.Handle)
		if err != nil {
			return -1, err
		}
		if eq {
			return i, nil
		}
	}
	return -1, nil
}

// Add inserts h, locking it and the elements it hashes. Add takes over h's reference unless it returns
// an error; a member already present is kept and h is dropped.
func (s *Set) Add(h Handle) error {
	k, err := NewHashable(h)
	if err != nil {
		return err
	}
	i, err := s.find(k)
	if err != nil {
		return err
	}
	if i >= 0 {
		h.Drop()
		return nil
	}
	if err := lockKey(h); err != nil {
		return err
	}
	bucket, _ := s.buckets.Get(k.hash)
	s.buckets.Set(k.hash, append(bucket, k))
	s.n++
	return nil
}

// Contains reports whether an equal member is present. h is borrowed.
func (s *Set) Contains(h Handle) (bool, error) {
	k, err := NewHashable(h)
	if err != nil {
		return false, err
	}
	i, err := s.find(k)
	return i >= 0, err
}

// Remove deletes an equal member. h is borrowed.
func (s *Set) Remove(h Handle) (bool, error) {
	k, err := NewHashable(h)
	if err != nil {
		return false, err
	}
	i, err := s.find(k)
	if err != nil || i < 0 {
		return false, err
	}
	bucket, _ := s.buckets.Get(k.hash)
	bucket[i].Drop()
	bucket = append(bucket[:i], bucket[i+1:]...)
	if len(bucket) == 0 {
		s.buckets.Delete(k.hash)
	} else {
		s.buckets.Set(k.hash, bucket)
	}
	s.n--
	return true, nil
}

func (s *Set) Equal(other Value) (bool, error) {
	o, ok := other.(*Set)
	if !ok || o.n != s.n {
		return false, nil
	}
	for _, m := range s.Members() {
		found, err := o.Contains(m)
		if err != nil || !found {
			return false, err
		}
	}
	return true, nil
}

func (s *Set) DeepClone(hp *Heap) (Value, error) {
	out := NewSet()
	for _, m := range s.Members() {
		c, err := DeepClone(hp, m)
		if err != nil {
			out.release()
			return nil, err
		}
		err = lockKey(c)
		if err == nil {
			err = out.Add(c)
		}
		if err != nil {
			c.Drop()
			out.release()
			return nil, err
		}
	}
	return out, nil
}

func (s *Set) Iter(hp *Heap, self Handle) (Value, error) {
	return newSnapshotIter("iterator(set)", cloneAll(s.Members())), nil
}

func (s *Set) eachHandle(fn func(Handle)) {
	for _, m := range s.Members() {
		fn(m)
	}
}

func (s *Set) detach() []Handle {
	out := s.Members()
	s.buckets = orderedmap.NewOrderedMap[uint64, []HashableHandle]()
	s.n = 0
	return out
}

func (s *Set) release() {
	for _, h := range s.detach() {
		h.Drop()
	}
}

// ---------------------------------------------------------------------------
// Dict
// ---------------------------------------------------------------------------

type dictEntry struct {
	key   HashableHandle
	value Handle
}

// Dict maps hashable keys to values.
type Dict struct {
	buckets *orderedmap.OrderedMap[uint64, []*dictEntry]
	n       int
}

// NewDict returns an empty dictionary.
func NewDict() *Dict {
	return &Dict{buckets: orderedmap.NewOrderedMap[uint64, []*dictEntry]()}
}

func (d *Dict) TypeName() string { return "dictionary" }
func (d *Dict) Truthy() bool     { return d.n > 0 }

// Len returns the number of entries.
func (d *Dict) Len() int { return d.n }

func (d *Dict) entries() []*dictEntry {
	out := make([]*dictEntry, 0, d.n)
	for _, bucket := range d.buckets.AllFromFront() {
		out = append(out, bucket...)
	}
	return out
}

func (d *Dict) Display() (string, error) {
	var sb strings.Builder
	sb.WriteString("{")
	for i, e := range d.entries() {
		if i > 0 {
			sb.WriteString(", ")
		}
		k, err := e.key.Display()
		if err != nil {
			return "", err
		}
		v, err := e.value.Display()
		if err != nil {
			return "", err
		}
		sb.WriteString(k)
		sb.WriteString(": ")
		sb.WriteString(v)
	}
	sb.WriteString("}")
	return sb.String(), nil
}

func (d *Dict) lookup(k HashableHandle) (*dictEntry, int, error) {
	bucket, _ := d.buckets.Get(k.hash)
	for i, e := range bucket {
		eq, err := e.key.Equal(k.Handle)
		if err != nil {
			return nil, -1, err
		}
		if eq {
			return e, i, nil
		}
	}
	return nil, -1, nil
}

// Insert sets key to value, locking the key and the elements it hashes. It takes over both references
// unless it returns an error.
func (d *Dict) Insert(key, value Handle) error {
	k, err := NewHashable(key)
	if err != nil {
		return err
	}
	e, _, err := d.lookup(k)
	if err != nil {
		return err
	}
	if e != nil {
		old := e.value
		e.value = value
		key.Drop()
		old.Drop()
		return nil
	}
	if err := lockKey(key); err != nil {
		return err
	}
	bucket, _ := d.buckets.Get(k.hash)
	d.buckets.Set(k.hash, append(bucket, &dictEntry{key: k, value: value}))
	d.n++
	return nil
}

// Get returns the value stored under key. Both handles are borrowed.
func (d *Dict) Get(key Handle) (Handle, bool, error) {
	k, err := NewHashable(key)
	if err != nil {
		return Handle{}, false, err
	}
	e, _, err := d.lookup(k)
	if err != nil || e == nil {
		return Handle{}, false, err
	}
	return e.value, true, nil
}

// Remove deletes key and returns its value, which the caller now owns.
func (d *Dict) Remove(key Handle) (Handle, bool, error) {
	k, err := NewHashable(key)
	if err != nil {
		return Handle{}, false, err
	}
	e, i, err := d.lookup(k)
	if err != nil || e == nil {
		return Handle{}, false, err
	}
	bucket, _ := d.buckets.Get(k.hash)
	bucket = append(bucket[:i], bucket[i+1:]...)
	if len(bucket) == 0 {
		d.buckets.Delete(k.hash)
	} else {
		d.buckets.Set(k.hash, bucket)
	}
	d.n--
	e.key.Drop()
	return e.value, true, nil
}

// Keys returns the keys in insertion order. The handles are borrowed.
func (d *Dict) Keys() []Handle {
	out := make([]Handle, 0, d.n)
	for _, e := range d.entries() {
		out = append(out, e.key.Handle)
	}
	return out
}

// Values returns the values in insertion order. The handles are borrowed.
func (d *Dict) Values() []Handle {
	out := make([]Handle, 0, d.n)
	for _, e := range d.entries() {
		out = append(out, e.value)
	}
	return out
}

func (d *Dict) Equal(other Value) (bool, error) {
	o, ok := other.(*Dict)
	if !ok || o.n != d.n {
		return false, nil
	}
	for _, e := range d.entries() {
		v, found, err := o.Get(e.key.Handle)
		if err != nil || !found {
			return false, err
		}
		eq, err := e.value.Equal(v)
		if err != nil || !eq {
			return false, err
		}
	}
	return true, nil
}

func (d *Dict) DeepClone(hp *Heap) (Value, error) {
	out := NewDict()
	for _, e := range d.entries() {
		k, err := DeepClone(hp, e.key.Handle)
		if err != nil {
			out.release()
			return nil, err
		}
		v, err := DeepClone(hp, e.value)
		if err != nil {
			k.Drop()
			out.release()
			return nil, err
		}
		err = lockKey(k)
		if err == nil {
			err = out.Insert(k, v)
		}
		if err != nil {
			k.Drop()
			v.Drop()
			out.release()
			return nil, err
		}
	}
	return out, nil
}

// Iter iterates the keys.
func (d *Dict) Iter(hp *Heap, self Handle) (Value, error) {
	return newSnapshotIter("iterator(dictionary)", cloneAll(d.Keys())), nil
}

func (d *Dict) eachHandle(fn func(Handle)) {
	for _, e := range d.entries() {
		fn(e.key.Handle)
		fn(e.value)
	}
}

func (d *Dict) detach() []Handle {
	entries := d.entries()
	out := make([]Handle, 0, 2*len(entries))
	for _, e := range entries {
		out = append(out, e.key.Handle, e.value)
	}
	d.buckets = orderedmap.NewOrderedMap[uint64, []*dictEntry]()
	d.n = 0
	return out
}

func (d *Dict) release() {
	for _, h := range d.detach() {
		h.Drop()
	}
}

// ---------------------------------------------------------------------------
// Slice
// ---------------------------------------------------------------------------

// Slice is a start/stop/step descriptor. Missing bounds take defaults that
// depend on the direction of the step.
type Slice struct {
	Start, Stop       int64
	HasStart, HasStop bool
	Step              int64
}

func (s *Slice) TypeName() string { return "slice" }

func (s *Slice) Display() (string, error) {
	var start, stop string
	if s.HasStart {
		start = fmt.Sprint(s.Start)
	}
	if s.HasStop {
		stop = fmt.Sprint(s.Stop)
	}
	return fmt.Sprintf("slice(%s:%s:%d)", start, stop, s.Step), nil
}

func (s *Slice) Equal(other Value) (bool, error) {
	o, ok := other.(*Slice)
	return ok && *o == *s, nil
}

func (s *Slice) DeepClone(*Heap) (Value, error) {
	c := *s
	return &c, nil
}

func (s *Slice) GetAttr(hp *Heap, name string) (Handle, error) {
	switch name {
	case "start":
		if !s.HasStart {
			return hp.Unit(), nil
		}
		return hp.Int(s.Start), nil
	case "stop":
		if !s.HasStop {
			return hp.Unit(), nil
		}
		return hp.Int(s.Stop), nil
	case "step":
		return hp.Int(s.Step), nil
	}
	return Handle{}, Errorf(KindAttribute, "slice has no attribute %s", name)
}

func (s *Slice) SetAttr(name string, v Handle) error {
	n, isUnit, err := optionalInt("slice."+name, v)
	if err != nil {
		return err
	}
	switch name {
	case "start":
		s.Start, s.HasStart = n, !isUnit
	case "stop":
		s.Stop, s.HasStop = n, !isUnit
	case "step":
		if isUnit {
			n = 1
		}
		if n == 0 {
			return Errorf(KindIndex, "slice step cannot be zero")
		}
		s.Step = n
	default:
		return Errorf(KindAttribute, "slice has no attribute %s", name)
	}
	return nil
}

// Indices resolves the slice against a sequence of length n.
func (s *Slice) Indices(n int) ([]int, error) {
	step := int(s.Step)
	if step == 0 {
		return nil, Errorf(KindIndex, "slice step cannot be zero")
	}
	adjust := func(v int64, has bool, def int) int {
		if !has {
			return def
		}
		i := int(v)
		if i < 0 {
			i += n
			if i < 0 {
				if step < 0 {
					return -1
				}
				return 0
			}
		} else if i >= n {
			if step < 0 {
				return n - 1
			}
			return n
		}
		return i
	}

	var start, stop int
	if step > 0 {
		start = adjust(s.Start, s.HasStart, 0)
		stop = adjust(s.Stop, s.HasStop, n)
	} else {
		start = adjust(s.Start, s.HasStart, n-1)
		stop = adjust(s.Stop, s.HasStop, -1)
	}

	var out []int
	for i := start; (step > 0 && i < stop) || (step < 0 && i > stop); i += step {
		out = append(out, i)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func joinDisplay(open string, items []Handle, close string) (string, error) {
	var sb strings.Builder
	sb.WriteString(open)
	for i, h := range items {
		if i > 0 {
			sb.WriteString(", ")
		}
		s, err := h.Display()
		if err != nil {
			return "", err
		}
		sb.WriteString(s)
	}
	sb.WriteString(close)
	return sb.String(), nil
}

func equalItems(a, b []Handle) (bool, error) {
	if len(a) != len(b) {
		return false, nil
	}
	for i := range a {
		eq, err := a[i].Equal(b[i])
		if err != nil || !eq {
			return false, err
		}
	}
	return true, nil
}

func cloneAll(items []Handle) []Handle {
	out := make([]Handle, len(items))
	for i, h := range items {
		out[i] = h.Clone()
	}
	return out
}

func dropAll(items []Handle) {
	for _, h := range items {
		h.Drop()
	}
}

func deepCloneItems(hp *Heap, items []Handle) ([]Handle, error) {
	out := make([]Handle, 0, len(items))
	for _, h := range items {
		c, err := DeepClone(hp, h)
		if err != nil {
			dropAll(out)
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// DeepClone copies the value behind h and everything it contains.
func DeepClone(hp *Heap, h Handle) (Handle, error) {
	ref, err := h.Borrow()
	if err != nil {
		return Handle{}, err
	}
	defer ref.Release()
	c, ok := ref.Get().(Cloner)
	if !ok {
		return Handle{}, TypeErrorf("values of type %s cannot be cloned", h.TypeName())
	}
	v, err := c.DeepClone(hp)
	if err != nil {
		return Handle{}, err
	}
	return hp.New(v), nil
}

// optionalInt reads an int argument that may be unit.
func optionalInt(name string, h Handle) (n int64, isUnit bool, err error) {
	ref, err := h.Borrow()
	if err != nil {
		return 0, false, err
	}
	defer ref.Release()
	switch v := ref.Get().(type) {
	case Int:
		return int64(v), false, nil
	case Unit:
		return 0, true, nil
	}
	return 0, false, TypeErrorf("%s expects an int or unit, got %s", name, h.TypeName())
}
