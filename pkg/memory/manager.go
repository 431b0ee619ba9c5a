// Package memory issues and tracks the backing storage of object cells.
//
// The Manager is an arena: every tracked object gets a slot and an ID made of
// the slot index and a generation counter, so a stale ID never aliases a new
// object that reuses the slot. Object lifetime is driven by reference counts
// held by the objects themselves; the manager only records what is live,
// attaches debug metadata and, on request, reclaims unreachable reference
// cycles by trial deletion.
package memory

import (
	"fmt"
	"sort"
	"time"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("technetium.memory")

// ID identifies an allocation. The zero ID is never issued.
type ID uint64

// Index returns the arena slot of the allocation.
func (id ID) Index() uint32 { return uint32(id) }

// Generation returns the reuse generation of the slot at allocation time.
func (id ID) Generation() uint32 { return uint32(id >> 32) }

func (id ID) String() string {
	return fmt.Sprintf("#%d.%d", id.Index(), id.Generation())
}

func makeID(index, gen uint32) ID {
	return ID(uint64(gen)<<32 | uint64(index))
}

// Tracked is implemented by objects whose storage the manager tracks.
type Tracked interface {
	// RefCount returns the number of live handles to the object.
	RefCount() int
	// References yields the IDs of every tracked object this object holds a
	// handle to, once per handle.
	References(yield func(ID))
	// BreakCycle drops every handle the object holds.
	BreakCycle()
}

// Meta is debug metadata attached to an allocation.
type Meta struct {
	Kind string // value kind at allocation time
	Site string // source location that produced the value, if known
}

type slot struct {
	obj  Tracked
	gen  uint32
	meta Meta
	live bool
}

// Stats are cumulative allocation counters.
type Stats struct {
	Allocated uint64
	Freed     uint64
	Live      int
	Peak      int
	Collected uint64
}

// Manager is the allocation arena. It is not safe for concurrent use.
type Manager struct {
	slots []slot
	free  []uint32
	stats Stats
}

// NewManager returns an empty arena.
func NewManager() *Manager {
	return &Manager{
		slots: make([]slot, 0, 256),
	}
}

// Alloc registers obj and returns its ID.
func (m *Manager) Alloc(obj Tracked, meta Meta) ID {
	var idx uint32
	if n := len(m.free); n > 0 {
		idx = m.free[n-1]
		m.free = m.free[:n-1]
	} else {
		idx = uint32(len(m.slots))
		m.slots = append(m.slots, slot{})
	}

	s := &m.slots[idx]
	s.gen++
	s.obj = obj
	s.meta = meta
	s.live = true

	m.stats.Allocated++
	m.stats.Live++
	if m.stats.Live > m.stats.Peak {
		m.stats.Peak = m.stats.Live
	}
	return makeID(idx, s.gen)
}

// Free releases the slot behind id. It returns false if id is stale.
func (m *Manager) Free(id ID) bool {
	s := m.lookup(id)
	if s == nil {
		return false
	}
	s.obj = nil
	s.meta = Meta{}
	s.live = false
	m.free = append(m.free, id.Index())

	m.stats.Freed++
	m.stats.Live--
	return true
}

func (m *Manager) lookup(id ID) *slot {
	idx := id.Index()
	if int(idx) >= len(m.slots) {
		return nil
	}
	s := &m.slots[idx]
	if !s.live || s.gen != id.Generation() {
		return nil
	}
	return s
}

// IsLive reports whether id still names a live allocation.
func (m *Manager) IsLive(id ID) bool {
	return m.lookup(id) != nil
}

// Get returns the object behind id.
func (m *Manager) Get(id ID) (Tracked, bool) {
	s := m.lookup(id)
	if s == nil {
		return nil, false
	}
	return s.obj, true
}

// Meta returns the debug metadata of a live allocation.
func (m *Manager) Meta(id ID) (Meta, bool) {
	s := m.lookup(id)
	if s == nil {
		return Meta{}, false
	}
	return s.meta, true
}

// Annotate records the source site of a live allocation.
func (m *Manager) Annotate(id ID, site string) {
	if s := m.lookup(id); s != nil {
		s.meta.Site = site
	}
}

// Live returns the number of live allocations.
func (m *Manager) Live() int {
	return m.stats.Live
}

// Stats returns a copy of the cumulative counters.
func (m *Manager) Stats() Stats {
	return m.stats
}

// Each calls fn for every live allocation in slot order.
func (m *Manager) Each(fn func(ID, Meta)) {
	for i := range m.slots {
		s := &m.slots[i]
		if s.live {
			fn(makeID(uint32(i), s.gen), s.meta)
		}
	}
}

// CollectStats describes one cycle collection.
type CollectStats struct {
	Scanned   int
	Garbage   int
	Collected int
	Duration  time.Duration
	Timestamp time.Time
}

// Collect reclaims reference cycles that nothing outside the arena can
// reach. For every live object it subtracts the references held by other
// tracked objects from its refcount; objects left with a positive count are
// held from outside (stack, frames, globals, native code) and everything they
// reach survives. The rest have BreakCycle called on them, which drops their
// handles and lets reference counting free them.
func (m *Manager) Collect() *CollectStats {
	start := time.Now()
	stats := &CollectStats{Timestamp: start}

	n := len(m.slots)
	external := make([]int, n)
	for i := range m.slots {
		if s := &m.slots[i]; s.live {
			external[i] = s.obj.RefCount()
			stats.Scanned++
		}
	}
	for i := range m.slots {
		if s := &m.slots[i]; s.live {
			s.obj.References(func(child ID) {
				if m.IsLive(child) {
					external[child.Index()]--
				}
			})
		}
	}

	reachable := make([]bool, n)
	var work []uint32
	for i := range m.slots {
		if m.slots[i].live && external[i] > 0 {
			reachable[i] = true
			work = append(work, uint32(i))
		}
	}
	for len(work) > 0 {
		idx := work[len(work)-1]
		work = work[:len(work)-1]
		m.slots[idx].obj.References(func(child ID) {
			if !m.IsLive(child) || reachable[child.Index()] {
				return
			}
			reachable[child.Index()] = true
			work = append(work, child.Index())
		})
	}

	var garbage []ID
	for i := range m.slots {
		if s := &m.slots[i]; s.live && !reachable[i] {
			garbage = append(garbage, makeID(uint32(i), s.gen))
		}
	}
	sort.Slice(garbage, func(i, j int) bool { return garbage[i] < garbage[j] })
	stats.Garbage = len(garbage)

	for _, id := range garbage {
		if s := m.lookup(id); s != nil {
			s.obj.BreakCycle()
		}
	}
	for _, id := range garbage {
		if !m.IsLive(id) {
			stats.Collected++
		}
	}

	m.stats.Collected += uint64(stats.Collected)
	stats.Duration = time.Since(start)
	if stats.Garbage > 0 {
		log.Debugf("cycle scan: scanned=%d garbage=%d collected=%d in %s",
			stats.Scanned, stats.Garbage, stats.Collected, stats.Duration)
	}
	return stats
}
