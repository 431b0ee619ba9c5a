package vm

import (
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/chazu/technetium/pkg/refcell"
)

// ---------------------------------------------------------------------------
// Str: mutable text
// ---------------------------------------------------------------------------

// Str is mutable text. It is always hashable; inserting it as a key locks it.
type Str struct {
	S string
}

func (s *Str) TypeName() string               { return "string" }
func (s *Str) Display() (string, error)       { return s.S, nil }
func (s *Str) Truthy() bool                   { return s.S != "" }
func (s *Str) Hash(bool) (uint64, error)      { return hashTagged(tagString, []byte(s.S)), nil }
func (s *Str) DeepClone(*Heap) (Value, error) { return &Str{S: s.S}, nil }

func (s *Str) Equal(other Value) (bool, error) {
	o, ok := other.(*Str)
	return ok && o.S == s.S, nil
}

// Iter iterates the characters of the string.
func (s *Str) Iter(hp *Heap, self Handle) (Value, error) {
	it, err := newCharsIter(self)
	if err != nil {
		return nil, err
	}
	return it, nil
}

// Len returns the number of characters.
func (s *Str) Len() int {
	return utf8.RuneCountInString(s.S)
}

func (s *Str) methods() methodTable { return strMethods }

var strMethods methodTable

func init() {
	strMethods = methodTable{
		"length": {arity: 0, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			return rt.Heap().Int(int64(v.(*Str).Len())), nil
		}},
		"escape": {arity: 0, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			q := strconv.Quote(v.(*Str).S)
			return rt.Heap().String(q[1 : len(q)-1]), nil
		}},
		"contains": {arity: 1, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			needle, err := textArg("string.contains", args[0])
			if err != nil {
				return Handle{}, err
			}
			return rt.Heap().Bool(strings.Contains(v.(*Str).S, needle)), nil
		}},
		"starts_with": {arity: 1, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			prefix, err := textArg("string.starts_with", args[0])
			if err != nil {
				return Handle{}, err
			}
			return rt.Heap().Bool(strings.HasPrefix(v.(*Str).S, prefix)), nil
		}},
		"ends_with": {arity: 1, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			suffix, err := textArg("string.ends_with", args[0])
			if err != nil {
				return Handle{}, err
			}
			return rt.Heap().Bool(strings.HasSuffix(v.(*Str).S, suffix)), nil
		}},
		"upper": {arity: 0, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			return rt.Heap().String(strings.ToUpper(v.(*Str).S)), nil
		}},
		"lower": {arity: 0, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			return rt.Heap().String(strings.ToLower(v.(*Str).S)), nil
		}},
		"trim": {arity: 0, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			return rt.Heap().String(strings.TrimSpace(v.(*Str).S)), nil
		}},
		"split": {arity: 1, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			sep, err := textArg("string.split", args[0])
			if err != nil {
				return Handle{}, err
			}
			return rt.Heap().Strings(strings.Split(v.(*Str).S, sep)), nil
		}},
		"lines": {arity: 0, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			it, err := newLinesIter(self)
			if err != nil {
				return Handle{}, err
			}
			return rt.Heap().New(it), nil
		}},
		"chars": {arity: 0, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			it, err := newCharsIter(self)
			if err != nil {
				return Handle{}, err
			}
			return rt.Heap().New(it), nil
		}},
		"push": {arity: 1, mut: true, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			text, err := textArg("string.push", args[0])
			if err != nil {
				return Handle{}, err
			}
			v.(*Str).S += text
			return rt.Heap().Unit(), nil
		}},
	}
}

// textArg reads a string or char argument.
func textArg(name string, h Handle) (string, error) {
	ref, err := h.Borrow()
	if err != nil {
		return "", err
	}
	defer ref.Release()
	switch v := ref.Get().(type) {
	case *Str:
		return v.S, nil
	case Char:
		return string(rune(v)), nil
	}
	return "", TypeErrorf("%s expects a string or char, got %s", name, h.TypeName())
}

// ---------------------------------------------------------------------------
// Text iterators
// ---------------------------------------------------------------------------

// textIter walks a string while holding a shared borrow on it, so the text
// cannot be mutated until the iterator is exhausted or freed.
type textIter struct {
	parent Handle
	guard  *refcell.Ref[Value]
	text   string
	pos    int
}

func openText(parent Handle) (textIter, error) {
	guard, err := parent.Borrow()
	if err != nil {
		return textIter{}, err
	}
	s, ok := guard.Get().(*Str)
	if !ok {
		guard.Release()
		return textIter{}, TypeErrorf("expected string, got %s", parent.TypeName())
	}
	return textIter{parent: parent.Clone(), guard: guard, text: s.S}, nil
}

func (t *textIter) finish() {
	t.guard.Release()
	t.pos = len(t.text)
}

func (t *textIter) eachHandle(fn func(Handle)) {
	if t.parent.IsValid() {
		fn(t.parent)
	}
}

func (t *textIter) detach() []Handle {
	t.guard.Release()
	t.pos = len(t.text)
	if !t.parent.IsValid() {
		return nil
	}
	p := t.parent
	t.parent = Handle{}
	return []Handle{p}
}

// LinesIter yields the lines of a string without their terminators.
type LinesIter struct {
	textIter
}

func newLinesIter(parent Handle) (*LinesIter, error) {
	t, err := openText(parent)
	if err != nil {
		return nil, err
	}
	return &LinesIter{textIter: t}, nil
}

func (*LinesIter) TypeName() string         { return "iterator(lines)" }
func (*LinesIter) Display() (string, error) { return "<iterator(lines)>", nil }
func (it *LinesIter) methods() methodTable  { return iteratorMethods }

func (it *LinesIter) Next(rt Runtime) (Handle, bool, error) {
	if it.pos >= len(it.text) {
		it.finish()
		return Handle{}, false, nil
	}
	rest := it.text[it.pos:]
	line := rest
	if i := strings.IndexByte(rest, '\n'); i >= 0 {
		line = rest[:i]
		it.pos += i + 1
	} else {
		it.pos = len(it.text)
	}
	line = strings.TrimSuffix(line, "\r")
	return rt.Heap().String(line), true, nil
}

// CharsIter yields the characters of a string.
type CharsIter struct {
	textIter
}

func newCharsIter(parent Handle) (*CharsIter, error) {
	t, err := openText(parent)
	if err != nil {
		return nil, err
	}
	return &CharsIter{textIter: t}, nil
}

func (*CharsIter) TypeName() string         { return "iterator(chars)" }
func (*CharsIter) Display() (string, error) { return "<iterator(chars)>", nil }
func (it *CharsIter) methods() methodTable  { return iteratorMethods }

func (it *CharsIter) Next(rt Runtime) (Handle, bool, error) {
	if it.pos >= len(it.text) {
		it.finish()
		return Handle{}, false, nil
	}
	r, size := utf8.DecodeRuneInString(it.text[it.pos:])
	it.pos += size
	return rt.Heap().Char(r), true, nil
}
