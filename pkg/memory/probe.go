package memory

// Probe observes whether an allocation is still live without holding a
// reference to it.
type Probe struct {
	m  *Manager
	id ID
}

// Probe returns a liveness probe for id.
func (m *Manager) Probe(id ID) Probe {
	return Probe{m: m, id: id}
}

// ID returns the observed allocation.
func (p Probe) ID() ID {
	return p.id
}

// IsAlive returns true until the allocation has been freed.
func (p Probe) IsAlive() bool {
	return p.m != nil && p.m.IsLive(p.id)
}
