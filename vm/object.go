package vm

import (
	"fmt"
	"slices"

	"github.com/chazu/technetium/pkg/memory"
	"github.com/chazu/technetium/pkg/refcell"
)

// ---------------------------------------------------------------------------
// Object: a value behind a reference cell
// ---------------------------------------------------------------------------

// Object is the heap cell every value lives in. It is reference counted by
// the Handles pointing at it and registered with the heap's memory manager.
type Object struct {
	cell     *refcell.Cell[Value]
	value    Value // the value in cell; never replaced
	refs     int
	id       memory.ID
	typeName string
	heap     *Heap

	displaying bool
	hashing    bool
	comparing  []*Object // objects this one is being compared against
	freed      bool
}

// RefCount implements memory.Tracked.
func (o *Object) RefCount() int {
	return o.refs
}

// References implements memory.Tracked. An object whose cell is exclusively
// borrowed reports nothing, which keeps everything it holds alive.
func (o *Object) References(yield func(memory.ID)) {
	v, err := o.cell.Peek()
	if err != nil {
		return
	}
	if c, ok := v.(container); ok {
		c.eachHandle(func(h Handle) {
			if h.obj != nil {
				yield(h.obj.id)
			}
		})
	}
}

// BreakCycle implements memory.Tracked.
func (o *Object) BreakCycle() {
	for _, h := range o.detach() {
		h.Drop()
	}
}

func (o *Object) detach() []Handle {
	v, err := o.cell.Peek()
	if err != nil {
		return nil
	}
	if c, ok := v.(container); ok {
		return c.detach()
	}
	return nil
}

func (o *Object) free() {
	o.freed = true
	o.heap.mem.Free(o.id)
	for _, h := range o.detach() {
		h.Drop()
	}
}

// ---------------------------------------------------------------------------
// Handle: the shared reference
// ---------------------------------------------------------------------------

// Handle is a counted reference to an Object. Every Handle stored somewhere
// (operand stack, local slot, container, global) owns one count; Clone adds
// one and Drop gives it back. The zero Handle refers to nothing.
type Handle struct {
	obj *Object
}

func (h Handle) live() *Object {
	if h.obj == nil {
		internalf("use of empty handle")
	}
	if h.obj.freed {
		internalf("use of freed object %s (%s)", h.obj.id, h.obj.typeName)
	}
	return h.obj
}

// IsValid reports whether the handle refers to an object.
func (h Handle) IsValid() bool {
	return h.obj != nil
}

// Clone returns a new owning reference to the same object.
func (h Handle) Clone() Handle {
	h.live().refs++
	return h
}

// Drop releases this reference. The object is freed with its last reference.
// Dropping the zero Handle does nothing.
func (h Handle) Drop() {
	if h.obj == nil {
		return
	}
	o := h.live()
	o.refs--
	if o.refs == 0 {
		o.free()
	}
}

// Same reports whether both handles refer to the same object.
func (h Handle) Same(other Handle) bool {
	return h.obj == other.obj
}

// ID returns the memory manager ID of the object.
func (h Handle) ID() memory.ID {
	return h.live().id
}

// RefCount returns the number of live references to the object.
func (h Handle) RefCount() int {
	return h.live().refs
}

// Probe returns a liveness probe that does not keep the object alive.
func (h Handle) Probe() memory.Probe {
	o := h.live()
	return o.heap.mem.Probe(o.id)
}

// TypeName returns the type name of the referenced value.
func (h Handle) TypeName() string {
	return h.live().typeName
}

// Lock freezes the object: later exclusive borrows fail. Locking is shallow;
// values held by a locked container keep their own state.
func (h Handle) Lock() error {
	o := h.live()
	return borrowError(o.cell.Lock(), o.typeName)
}

// IsLocked reports whether the object is frozen.
func (h Handle) IsLocked() bool {
	return h.live().cell.IsLocked()
}

// Borrow takes a shared borrow of the value.
func (h Handle) Borrow() (*refcell.Ref[Value], error) {
	o := h.live()
	ref, err := o.cell.Borrow()
	return ref, borrowError(err, o.typeName)
}

// BorrowMut takes an exclusive borrow of the value.
func (h Handle) BorrowMut() (*refcell.RefMut[Value], error) {
	o := h.live()
	ref, err := o.cell.BorrowMut()
	return ref, borrowError(err, o.typeName)
}

// Peek returns the value without borrowing it. Only the dynamic type of the
// result may be relied on; its contents must be read under a borrow.
func (h Handle) Peek() Value {
	return h.live().value
}

// Equal compares two values: by content for kinds that support it, by
// identity otherwise. A pair met again while comparing self-referencing
// containers counts as equal.
func (h Handle) Equal(other Handle) (bool, error) {
	if h.Same(other) {
		return true, nil
	}
	o, p := h.live(), other.live()
	if slices.Contains(o.comparing, p) {
		return true, nil
	}
	a, err := h.Borrow()
	if err != nil {
		return false, err
	}
	defer a.Release()
	b, err := other.Borrow()
	if err != nil {
		return false, err
	}
	defer b.Release()

	eq, ok := a.Get().(Equaler)
	if !ok {
		return false, nil
	}
	o.comparing = append(o.comparing, p)
	defer func() { o.comparing = o.comparing[:len(o.comparing)-1] }()
	return eq.Equal(b.Get())
}

// Hash hashes the value, failing for unhashable kinds and for containers
// that reach themselves.
func (h Handle) Hash() (uint64, error) {
	o := h.live()
	if o.hashing {
		return 0, TypeErrorf("cannot hash %s that contains itself", o.typeName)
	}
	ref, err := h.Borrow()
	if err != nil {
		return 0, err
	}
	defer ref.Release()
	hs, ok := ref.Get().(Hasher)
	if !ok {
		return 0, TypeErrorf("value of type %s is not hashable", o.typeName)
	}
	o.hashing = true
	defer func() { o.hashing = false }()
	return hs.Hash(o.cell.IsLocked())
}

// Display returns the textual form of the value. A container that reaches
// itself again while displaying renders as "...".
func (h Handle) Display() (string, error) {
	o := h.live()
	if o.displaying {
		return "...", nil
	}
	ref, err := h.Borrow()
	if err != nil {
		return "", err
	}
	defer ref.Release()
	o.displaying = true
	defer func() { o.displaying = false }()
	return ref.Get().Display()
}

// Truthy applies the truthiness rules to the value.
func (h Handle) Truthy() (bool, error) {
	ref, err := h.Borrow()
	if err != nil {
		return false, err
	}
	defer ref.Release()
	return truthy(ref.Get()), nil
}

func (h Handle) String() string {
	if h.obj == nil {
		return "Handle{}"
	}
	return fmt.Sprintf("Handle{%s %s refs=%d}", h.obj.typeName, h.obj.id, h.obj.refs)
}

// ---------------------------------------------------------------------------
// HashableHandle
// ---------------------------------------------------------------------------

// HashableHandle is a Handle whose hash was computed when it was made, so
// using it as a set member or dictionary key cannot fail on hashing.
type HashableHandle struct {
	Handle
	hash uint64
}

// NewHashable takes over h's reference and verifies it can be hashed. On
// failure the reference is still owned by the caller.
func NewHashable(h Handle) (HashableHandle, error) {
	sum, err := h.Hash()
	if err != nil {
		if rerr, ok := AsRuntimeError(err); ok && rerr.Kind == KindType {
			rerr.Message = fmt.Sprintf("%s cannot be used as a key: %s", h.TypeName(), hashHint(h))
		}
		return HashableHandle{}, err
	}
	return HashableHandle{Handle: h, hash: sum}, nil
}

func hashHint(h Handle) string {
	switch h.TypeName() {
	case "list":
		return "lists are mutable; lock() it first"
	case "set", "dictionary":
		return h.TypeName() + " values are never hashable"
	}
	return "value is not hashable"
}

// lockKey freezes a new key and every element its hash was computed from,
// so the stored hash cannot go stale.
func lockKey(h Handle) error {
	if err := h.Lock(); err != nil {
		return err
	}
	ref, err := h.Borrow()
	if err != nil {
		return err
	}
	defer ref.Release()
	var items []Handle
	switch v := ref.Get().(type) {
	case *Tuple:
		items = v.Items
	case *List:
		items = v.Items
	}
	for _, item := range items {
		if err := lockKey(item); err != nil {
			return err
		}
	}
	return nil
}

// HashSum returns the precomputed hash.
func (k HashableHandle) HashSum() uint64 {
	return k.hash
}

// Clone returns a new owning reference with the same hash.
func (k HashableHandle) Clone() HashableHandle {
	return HashableHandle{Handle: k.Handle.Clone(), hash: k.hash}
}
