package vm

import (
	"encoding/binary"
	"math"
	"strconv"
	"unicode"

	"github.com/zeebo/xxh3"
)

// Value is the capability every runtime value implements. Values live inside
// an Object's reference cell and are reached through Handles; methods are
// called while the caller holds a borrow on the containing cell.
type Value interface {
	// TypeName returns the script-visible name of the value's kind.
	TypeName() string
	// Display returns the textual form used by print and string conversion.
	Display() (string, error)
}

// Equaler is implemented by values compared by content. Values without it
// compare by identity.
type Equaler interface {
	Equal(other Value) (bool, error)
}

// Hasher is implemented by values that may be used as set members and
// dictionary keys. locked reports whether the value's cell is frozen.
type Hasher interface {
	Hash(locked bool) (uint64, error)
}

// Truther overrides the default truthiness (true).
type Truther interface {
	Truthy() bool
}

// Attributer exposes named attributes to GET_ATTR.
type Attributer interface {
	GetAttr(hp *Heap, name string) (Handle, error)
}

// AttrSetter accepts SET_ATTR. The caller holds an exclusive borrow.
type AttrSetter interface {
	SetAttr(name string, v Handle) error
}

// Iterable values produce a fresh iterator for GET_ITER. self is the handle
// of the value's own object.
type Iterable interface {
	Iter(hp *Heap, self Handle) (Value, error)
}

// Iterator values are advanced by FOR_ITER under an exclusive borrow. Next
// returns an owned handle, or ok=false once exhausted.
type Iterator interface {
	Next(rt Runtime) (h Handle, ok bool, err error)
}

// Cloner is implemented by values supporting deep copies.
type Cloner interface {
	DeepClone(hp *Heap) (Value, error)
}

// container is implemented by values that hold handles. The memory manager
// walks handles through it and breaks cycles by detaching them.
type container interface {
	eachHandle(fn func(Handle))
	// detach removes and returns every handle the value holds, and releases
	// any borrow guards it keeps.
	detach() []Handle
}

// ---------------------------------------------------------------------------
// Scalars
// ---------------------------------------------------------------------------

// Unit is the void value.
type Unit struct{}

// Bool is a boolean.
type Bool bool

// Int is a 64-bit signed integer.
type Int int64

// Float is a double precision float.
type Float float64

// Char is a unicode scalar value.
type Char rune

func (Unit) TypeName() string  { return "unit" }
func (Bool) TypeName() string  { return "boolean" }
func (Int) TypeName() string   { return "int" }
func (Float) TypeName() string { return "float" }
func (Char) TypeName() string  { return "char" }

func (Unit) Display() (string, error) { return "()", nil }

func (b Bool) Display() (string, error) {
	return strconv.FormatBool(bool(b)), nil
}

func (i Int) Display() (string, error) {
	return strconv.FormatInt(int64(i), 10), nil
}

func (f Float) Display() (string, error) {
	return formatFloat(float64(f)), nil
}

func (c Char) Display() (string, error) {
	return string(rune(c)), nil
}

func formatFloat(f float64) string {
	switch {
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	case math.IsNaN(f):
		return "NaN"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if _, err := strconv.ParseInt(s, 10, 64); err == nil {
		s += ".0"
	}
	return s
}

func (Unit) Truthy() bool    { return false }
func (b Bool) Truthy() bool  { return bool(b) }
func (i Int) Truthy() bool   { return i != 0 }
func (f Float) Truthy() bool { return f != 0 }
func (c Char) Truthy() bool  { return !unicode.IsSpace(rune(c)) }

func (Unit) Equal(other Value) (bool, error) {
	_, ok := other.(Unit)
	return ok, nil
}

func (b Bool) Equal(other Value) (bool, error) {
	o, ok := other.(Bool)
	return ok && o == b, nil
}

func (i Int) Equal(other Value) (bool, error) {
	switch o := other.(type) {
	case Int:
		return i == o, nil
	case Float:
		return intEqualsFloat(int64(i), float64(o)), nil
	}
	return false, nil
}

func (f Float) Equal(other Value) (bool, error) {
	switch o := other.(type) {
	case Float:
		return f == o, nil
	case Int:
		return intEqualsFloat(int64(o), float64(f)), nil
	}
	return false, nil
}

// intEqualsFloat compares exactly, without rounding i to a float.
func intEqualsFloat(i int64, f float64) bool {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return false
	}
	return int64(f) == i
}

func (c Char) Equal(other Value) (bool, error) {
	o, ok := other.(Char)
	return ok && o == c, nil
}

func (Unit) Hash(bool) (uint64, error) { return hashTagged(tagUnit, nil), nil }

func (b Bool) Hash(bool) (uint64, error) {
	if b {
		return hashTagged(tagBool, []byte{1}), nil
	}
	return hashTagged(tagBool, []byte{0}), nil
}

func (i Int) Hash(bool) (uint64, error) { return hashInt(int64(i)), nil }

// Hash hashes integral floats like the equal Int so mixed keys collide.
func (f Float) Hash(bool) (uint64, error) {
	v := float64(f)
	if v == math.Trunc(v) && v >= math.MinInt64 && v < math.MaxInt64 {
		return hashInt(int64(v)), nil
	}
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
	return hashTagged(tagFloat, buf[:]), nil
}

func (c Char) Hash(bool) (uint64, error) {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(c))
	return hashTagged(tagChar, buf[:]), nil
}

func (v Unit) DeepClone(*Heap) (Value, error)  { return v, nil }
func (v Bool) DeepClone(*Heap) (Value, error)  { return v, nil }
func (v Int) DeepClone(*Heap) (Value, error)   { return v, nil }
func (v Float) DeepClone(*Heap) (Value, error) { return v, nil }
func (v Char) DeepClone(*Heap) (Value, error)  { return v, nil }

// ---------------------------------------------------------------------------
// Hashing
// ---------------------------------------------------------------------------

const (
	tagUnit byte = iota + 1
	tagBool
	tagInt
	tagFloat
	tagChar
	tagString
	tagTuple
	tagList
)

func hashTagged(tag byte, b []byte) uint64 {
	buf := make([]byte, 0, len(b)+1)
	buf = append(buf, tag)
	buf = append(buf, b...)
	return xxh3.Hash(buf)
}

func hashInt(i int64) uint64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(i))
	return hashTagged(tagInt, buf[:])
}

func hashSequence(tag byte, items []Handle) (uint64, error) {
	buf := make([]byte, 0, 8*len(items))
	for _, h := range items {
		sum, err := h.Hash()
		if err != nil {
			return 0, err
		}
		buf = binary.BigEndian.AppendUint64(buf, sum)
	}
	return hashTagged(tag, buf), nil
}

// truthy applies the default truthiness rules.
func truthy(v Value) bool {
	if t, ok := v.(Truther); ok {
		return t.Truthy()
	}
	return true
}
