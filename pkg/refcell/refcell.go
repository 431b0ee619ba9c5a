// Package refcell provides a runtime-checked interior mutability container
// with a one-way freeze.
//
// A Cell is either Unlocked, tracking outstanding shared and exclusive
// borrows, or Locked. Locking is irreversible: a locked cell still hands out
// shared borrows but never an exclusive one. Cells are not safe for use by
// multiple goroutines; the engine that owns them is single-threaded.
package refcell

import (
	"errors"
	"fmt"
)

var (
	// ErrBorrowConflict is returned when a borrow would violate the
	// shared-xor-exclusive rule.
	ErrBorrowConflict = errors.New("borrow conflict")

	// ErrLocked is returned when an exclusive borrow is requested on a
	// locked cell.
	ErrLocked = errors.New("value is locked")

	// ErrLockBusy is returned by Lock while an exclusive borrow is outstanding.
	ErrLockBusy = fmt.Errorf("%w: cannot lock while mutably borrowed", ErrLocked)
)

// State is the lock state of a cell.
type State uint8

const (
	Unlocked State = iota
	Locked
)

func (s State) String() string {
	switch s {
	case Unlocked:
		return "unlocked"
	case Locked:
		return "locked"
	default:
		return fmt.Sprintf("State(%d)", s)
	}
}

// Cell holds one value plus its borrow state.
type Cell[T any] struct {
	value     T
	shared    int
	exclusive bool
	state     State
}

// New returns an unlocked cell with no outstanding borrows.
func New[T any](value T) *Cell[T] {
	return &Cell[T]{value: value}
}

// Borrow acquires a shared borrow. It fails only while an exclusive borrow
// is outstanding; locking never prevents reads.
func (c *Cell[T]) Borrow() (*Ref[T], error) {
	if c.exclusive {
		return nil, fmt.Errorf("%w: already mutably borrowed", ErrBorrowConflict)
	}
	c.shared++
	return &Ref[T]{cell: c}, nil
}

// BorrowMut acquires an exclusive borrow.
func (c *Cell[T]) BorrowMut() (*RefMut[T], error) {
	if c.state == Locked {
		return nil, ErrLocked
	}
	if c.exclusive {
		return nil, fmt.Errorf("%w: already mutably borrowed", ErrBorrowConflict)
	}
	if c.shared > 0 {
		return nil, fmt.Errorf("%w: already borrowed", ErrBorrowConflict)
	}
	c.exclusive = true
	return &RefMut[T]{cell: c}, nil
}

// Lock freezes the cell. Outstanding shared borrows are tolerated, and
// locking an already locked cell is a no-op.
func (c *Cell[T]) Lock() error {
	if c.state == Locked {
		return nil
	}
	if c.exclusive {
		return ErrLockBusy
	}
	c.state = Locked
	return nil
}

// IsLocked reports whether Lock has succeeded on this cell.
func (c *Cell[T]) IsLocked() bool {
	return c.state == Locked
}

// State returns the lock state.
func (c *Cell[T]) State() State {
	return c.state
}

// Shared returns the number of outstanding shared borrows.
func (c *Cell[T]) Shared() int {
	return c.shared
}

// IsMutBorrowed reports whether an exclusive borrow is outstanding.
func (c *Cell[T]) IsMutBorrowed() bool {
	return c.exclusive
}

// Peek returns the value without registering a borrow. It is meant for
// bookkeeping code that runs when no guards can be live; it still refuses
// while an exclusive borrow is outstanding.
func (c *Cell[T]) Peek() (T, error) {
	if c.exclusive {
		var zero T
		return zero, fmt.Errorf("%w: already mutably borrowed", ErrBorrowConflict)
	}
	return c.value, nil
}

func (c *Cell[T]) String() string {
	return fmt.Sprintf("Cell{%s shared=%d exclusive=%t}", c.state, c.shared, c.exclusive)
}

// Ref is a shared borrow guard.
type Ref[T any] struct {
	cell     *Cell[T]
	released bool
}

// Get returns the borrowed value.
func (r *Ref[T]) Get() T {
	if r.released {
		panic("refcell: use of released shared borrow")
	}
	return r.cell.value
}

// Release gives the borrow back. Calling it more than once is harmless.
func (r *Ref[T]) Release() {
	if r == nil || r.released {
		return
	}
	r.released = true
	r.cell.shared--
}

// RefMut is an exclusive borrow guard.
type RefMut[T any] struct {
	cell     *Cell[T]
	released bool
}

// Get returns the borrowed value.
func (r *RefMut[T]) Get() T {
	if r.released {
		panic("refcell: use of released exclusive borrow")
	}
	return r.cell.value
}

// Set replaces the value held by the cell.
func (r *RefMut[T]) Set(value T) {
	if r.released {
		panic("refcell: use of released exclusive borrow")
	}
	r.cell.value = value
}

// Release gives the borrow back. Calling it more than once is harmless.
func (r *RefMut[T]) Release() {
	if r == nil || r.released {
		return
	}
	r.released = true
	r.cell.exclusive = false
}

// With runs fn under a shared borrow, releasing it on every exit path.
func With[T, R any](c *Cell[T], fn func(T) (R, error)) (R, error) {
	ref, err := c.Borrow()
	if err != nil {
		var zero R
		return zero, err
	}
	defer ref.Release()
	return fn(ref.Get())
}

// WithMut runs fn under an exclusive borrow, releasing it on every exit path.
func WithMut[T, R any](c *Cell[T], fn func(*RefMut[T]) (R, error)) (R, error) {
	ref, err := c.BorrowMut()
	if err != nil {
		var zero R
		return zero, err
	}
	defer ref.Release()
	return fn(ref)
}
