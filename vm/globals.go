package vm

import (
	"slices"

	"github.com/elliotchance/orderedmap/v3"
)

// Globals is the name table shared by every frame of one run. A name keeps
// resolving to the same object until it is rebound.
type Globals struct {
	names *orderedmap.OrderedMap[string, Handle]
}

// NewGlobals returns an empty table.
func NewGlobals() *Globals {
	return &Globals{names: orderedmap.NewOrderedMap[string, Handle]()}
}

// Get returns the handle bound to name. The handle is borrowed.
func (g *Globals) Get(name string) (Handle, bool) {
	return g.names.Get(name)
}

// Set binds name to v, taking over its reference and dropping the previous
// binding.
func (g *Globals) Set(name string, v Handle) {
	old, had := g.names.Get(name)
	g.names.Set(name, v)
	if had {
		old.Drop()
	}
}

// Delete unbinds name.
func (g *Globals) Delete(name string) bool {
	old, had := g.names.Get(name)
	if !had {
		return false
	}
	g.names.Delete(name)
	old.Drop()
	return true
}

// Names returns the bound names in binding order.
func (g *Globals) Names() []string {
	return slices.Collect(g.names.Keys())
}

// Len returns the number of bound names.
func (g *Globals) Len() int {
	return g.names.Len()
}

// Clear unbinds every name.
func (g *Globals) Clear() {
	old := g.names
	g.names = orderedmap.NewOrderedMap[string, Handle]()
	for _, h := range old.AllFromFront() {
		h.Drop()
	}
}
