package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// node is a minimal refcounted object for exercising the arena.
type node struct {
	m     *Manager
	id    ID
	refs  int
	edges []*node
}

func newNode(m *Manager) *node {
	n := &node{m: m, refs: 1}
	n.id = m.Alloc(n, Meta{Kind: "node"})
	return n
}

func (n *node) retain() *node { n.refs++; return n }

func (n *node) release() {
	n.refs--
	if n.refs > 0 {
		return
	}
	edges := n.edges
	n.edges = nil
	n.m.Free(n.id)
	for _, e := range edges {
		e.release()
	}
}

func (n *node) link(to *node) { n.edges = append(n.edges, to.retain()) }

func (n *node) RefCount() int { return n.refs }

func (n *node) References(yield func(ID)) {
	for _, e := range n.edges {
		yield(e.id)
	}
}

func (n *node) BreakCycle() {
	edges := n.edges
	n.edges = nil
	for _, e := range edges {
		e.release()
	}
}

// ============ Arena Tests ============

func TestAllocAndFree(t *testing.T) {
	m := NewManager()
	a := newNode(m)
	b := newNode(m)

	assert.NotEqual(t, a.id, b.id)
	assert.True(t, m.IsLive(a.id))
	assert.Equal(t, 2, m.Live())

	assert.True(t, m.Free(a.id))
	assert.False(t, m.IsLive(a.id))
	assert.False(t, m.Free(a.id), "double free must be rejected")
	assert.Equal(t, 1, m.Live())
}

func TestSlotReuseBumpsGeneration(t *testing.T) {
	m := NewManager()
	a := newNode(m)
	old := a.id
	a.release()

	b := newNode(m)
	assert.Equal(t, old.Index(), b.id.Index())
	assert.NotEqual(t, old.Generation(), b.id.Generation())
	assert.False(t, m.IsLive(old))
	assert.True(t, m.IsLive(b.id))

	_, ok := m.Get(old)
	assert.False(t, ok)
}

func TestMetaAndAnnotate(t *testing.T) {
	m := NewManager()
	a := newNode(m)

	m.Annotate(a.id, "main:3")
	meta, ok := m.Meta(a.id)
	require.True(t, ok)
	assert.Equal(t, "node", meta.Kind)
	assert.Equal(t, "main:3", meta.Site)

	var seen []ID
	m.Each(func(id ID, _ Meta) { seen = append(seen, id) })
	assert.Equal(t, []ID{a.id}, seen)
}

func TestStats(t *testing.T) {
	m := NewManager()
	a := newNode(m)
	b := newNode(m)
	a.release()
	b.release()
	newNode(m)

	s := m.Stats()
	assert.Equal(t, uint64(3), s.Allocated)
	assert.Equal(t, uint64(2), s.Freed)
	assert.Equal(t, 1, s.Live)
	assert.Equal(t, 2, s.Peak)
}

func TestProbe(t *testing.T) {
	m := NewManager()
	a := newNode(m)
	p := m.Probe(a.id)

	assert.True(t, p.IsAlive())
	a.release()
	assert.False(t, p.IsAlive())
	assert.False(t, Probe{}.IsAlive())
}

// ============ Cycle Collection Tests ============

func TestCollectReclaimsUnreachableCycle(t *testing.T) {
	m := NewManager()
	a := newNode(m)
	b := newNode(m)
	a.link(b)
	b.link(a)
	pa, pb := m.Probe(a.id), m.Probe(b.id)

	// drop the external handles; the pair now only holds itself up
	a.release()
	b.release()
	require.True(t, pa.IsAlive())
	require.True(t, pb.IsAlive())

	stats := m.Collect()
	assert.Equal(t, 2, stats.Garbage)
	assert.Equal(t, 2, stats.Collected)
	assert.False(t, pa.IsAlive())
	assert.False(t, pb.IsAlive())
	assert.Equal(t, 0, m.Live())
}

func TestCollectKeepsExternallyReachableCycle(t *testing.T) {
	m := NewManager()
	root := newNode(m)
	a := newNode(m)
	b := newNode(m)
	root.link(a)
	a.link(b)
	b.link(a)
	a.release()
	b.release()

	stats := m.Collect()
	assert.Equal(t, 0, stats.Garbage)
	assert.Equal(t, 3, m.Live())

	root.release()
	stats = m.Collect()
	assert.Equal(t, 2, stats.Collected)
	assert.Equal(t, 0, m.Live())
}

func TestCollectSelfLoop(t *testing.T) {
	m := NewManager()
	a := newNode(m)
	a.link(a)
	a.release()

	m.Collect()
	assert.Equal(t, 0, m.Live())
}

func TestScannerTick(t *testing.T) {
	m := NewManager()
	s := NewScanner(m, 3)

	assert.Nil(t, s.Tick())
	newNode(m)
	newNode(m)
	assert.Nil(t, s.Tick())
	newNode(m)
	stats := s.Tick()
	require.NotNil(t, stats)
	assert.Equal(t, 3, stats.Scanned)
	assert.Equal(t, uint64(1), s.SweepCount())
	assert.Same(t, stats, s.LastStats())

	assert.Nil(t, s.Tick(), "interval restarts after a scan")
}

func TestScannerDisabled(t *testing.T) {
	m := NewManager()
	s := NewScanner(m, 0)
	assert.False(t, s.IsEnabled())
	newNode(m)
	assert.Nil(t, s.Tick())

	s.SetEnabled(true)
	assert.False(t, s.IsEnabled(), "zero interval cannot be enabled")

	assert.NotNil(t, s.CollectNow())
}
