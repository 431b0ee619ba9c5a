package vm

import (
	"github.com/chazu/technetium/pkg/memory"
	"github.com/chazu/technetium/pkg/refcell"
)

// Heap allocates objects and owns the memory manager that tracks them.
type Heap struct {
	mem     *memory.Manager
	scanner *memory.Scanner
	site    string
}

// NewHeap returns a heap whose cycle scanner runs every scanInterval
// allocations. A non-positive interval disables periodic scans.
func NewHeap(scanInterval int) *Heap {
	m := memory.NewManager()
	return &Heap{
		mem:     m,
		scanner: memory.NewScanner(m, scanInterval),
	}
}

// Manager returns the memory manager behind the heap.
func (hp *Heap) Manager() *memory.Manager {
	return hp.mem
}

// Scanner returns the cycle scanner.
func (hp *Heap) Scanner() *memory.Scanner {
	return hp.scanner
}

// Live returns the number of live objects.
func (hp *Heap) Live() int {
	return hp.mem.Live()
}

// Safepoint gives the cycle scanner a chance to run. It must only be called
// when no borrow guard is held across the call.
func (hp *Heap) Safepoint() *memory.CollectStats {
	return hp.scanner.Tick()
}

// Collect runs a cycle scan immediately.
func (hp *Heap) Collect() *memory.CollectStats {
	return hp.scanner.CollectNow()
}

// setSite records the source location attached to subsequent allocations.
func (hp *Heap) setSite(site string) {
	hp.site = site
}

// New allocates an object holding v and returns its first reference.
func (hp *Heap) New(v Value) Handle {
	o := &Object{
		cell:     refcell.New(v),
		value:    v,
		refs:     1,
		typeName: v.TypeName(),
		heap:     hp,
	}
	o.id = hp.mem.Alloc(o, memory.Meta{Kind: o.typeName, Site: hp.site})
	return Handle{obj: o}
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

func (hp *Heap) Unit() Handle                { return hp.New(Unit{}) }
func (hp *Heap) Bool(b bool) Handle          { return hp.New(Bool(b)) }
func (hp *Heap) Int(i int64) Handle          { return hp.New(Int(i)) }
func (hp *Heap) Float(f float64) Handle      { return hp.New(Float(f)) }
func (hp *Heap) Char(r rune) Handle          { return hp.New(Char(r)) }
func (hp *Heap) String(s string) Handle      { return hp.New(&Str{S: s}) }
func (hp *Heap) List(items []Handle) Handle  { return hp.New(&List{Items: items}) }
func (hp *Heap) Tuple(items []Handle) Handle { return hp.New(&Tuple{Items: items}) }

// Set builds a set from items, taking over their references. Duplicates are
// dropped; members are locked.
func (hp *Heap) Set(items []Handle) (Handle, error) {
	s := NewSet()
	for i, h := range items {
		if err := s.Add(h); err != nil {
			s.release()
			for _, rest := range items[i:] {
				rest.Drop()
			}
			return Handle{}, err
		}
	}
	return hp.New(s), nil
}

// Dict builds a dictionary from alternating keys and values, taking over
// their references. Keys are locked; a repeated key keeps the last value.
func (hp *Heap) Dict(pairs []Handle) (Handle, error) {
	if len(pairs)%2 != 0 {
		internalf("odd number of dictionary operands: %d", len(pairs))
	}
	d := NewDict()
	for i := 0; i < len(pairs); i += 2 {
		if err := d.Insert(pairs[i], pairs[i+1]); err != nil {
			d.release()
			for _, rest := range pairs[i:] {
				rest.Drop()
			}
			return Handle{}, err
		}
	}
	return hp.New(d), nil
}

// Slice allocates a slice descriptor.
func (hp *Heap) Slice(s *Slice) Handle { return hp.New(s) }

// Strings allocates a list of strings.
func (hp *Heap) Strings(ss []string) Handle {
	items := make([]Handle, len(ss))
	for i, s := range ss {
		items[i] = hp.String(s)
	}
	return hp.List(items)
}
