// Package vm implements the technetium virtual machine.
//
// This package contains:
//   - Reference counted objects behind runtime-checked reference cells
//   - Value kinds: scalars, text, lists, tuples, sets, dictionaries, slices
//   - Lazy iterators and per-kind method tables
//   - Frames, the Global Table and the bytecode dispatch loop
//   - The runtime error taxonomy
//   - The subprocess lifecycle object behind sh
package vm
