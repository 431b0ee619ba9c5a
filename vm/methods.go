package vm

// method is one entry of a kind's method table. fn runs while the receiver
// is borrowed: exclusively when mut is set, shared otherwise. Arguments are
// borrowed; the result is owned by the caller.
type method struct {
	arity int
	mut   bool
	fn    func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error)
}

type methodTable map[string]method

// methodHolder is implemented by values with script-callable methods.
type methodHolder interface {
	methods() methodTable
}

// CallMethod invokes the named method on recv. args are borrowed.
func CallMethod(rt Runtime, recv Handle, name string, args []Handle) (Handle, error) {
	holder, ok := recv.Peek().(methodHolder)
	if !ok {
		return Handle{}, Errorf(KindAttribute, "%s has no method %s", recv.TypeName(), name)
	}
	m, ok := holder.methods()[name]
	if !ok {
		return Handle{}, Errorf(KindAttribute, "%s has no method %s", recv.TypeName(), name)
	}
	if len(args) != m.arity {
		return Handle{}, ArityError(recv.TypeName()+"."+name, m.arity, len(args))
	}
	if m.mut {
		ref, err := recv.BorrowMut()
		if err != nil {
			return Handle{}, err
		}
		defer ref.Release()
		return m.fn(rt, recv, ref.Get(), args)
	}
	ref, err := recv.Borrow()
	if err != nil {
		return Handle{}, err
	}
	defer ref.Release()
	return m.fn(rt, recv, ref.Get(), args)
}

// ---------------------------------------------------------------------------
// Collection methods
// ---------------------------------------------------------------------------

func (l *List) methods() methodTable  { return listMethods }
func (t *Tuple) methods() methodTable { return tupleMethods }
func (s *Set) methods() methodTable   { return setMethods }
func (d *Dict) methods() methodTable  { return dictMethods }

var (
	listMethods  methodTable
	tupleMethods methodTable
	setMethods   methodTable
	dictMethods  methodTable
)

func init() {
	listMethods = methodTable{
		"length": {arity: 0, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			return rt.Heap().Int(int64(len(v.(*List).Items))), nil
		}},
		"contains": {arity: 1, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			found, err := containsItem(v.(*List).Items, args[0])
			if err != nil {
				return Handle{}, err
			}
			return rt.Heap().Bool(found), nil
		}},
		"push": {arity: 1, mut: true, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			l := v.(*List)
			l.Items = append(l.Items, args[0].Clone())
			return rt.Heap().Unit(), nil
		}},
		"pop": {arity: 0, mut: true, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			l := v.(*List)
			if len(l.Items) == 0 {
				return rt.Heap().Unit(), nil
			}
			last := l.Items[len(l.Items)-1]
			l.Items[len(l.Items)-1] = Handle{}
			l.Items = l.Items[:len(l.Items)-1]
			return last, nil
		}},
		// append adds every value of an iterable.
		"append": {arity: 1, mut: true, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			items, err := Collect(rt, args[0])
			if err != nil {
				return Handle{}, err
			}
			l := v.(*List)
			l.Items = append(l.Items, items...)
			return rt.Heap().Unit(), nil
		}},
		"insert": {arity: 2, mut: true, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			l := v.(*List)
			n, err := intArg("list.insert", args[0])
			if err != nil {
				return Handle{}, err
			}
			i, ok := normalizeIndex(n, len(l.Items)+1)
			if !ok {
				return Handle{}, Errorf(KindIndex, "index %d out of bounds for list of length %d", n, len(l.Items))
			}
			l.Items = append(l.Items, Handle{})
			copy(l.Items[i+1:], l.Items[i:])
			l.Items[i] = args[1].Clone()
			return rt.Heap().Unit(), nil
		}},
		"clear": {arity: 0, mut: true, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			dropAll(v.(*List).detach())
			return rt.Heap().Unit(), nil
		}},
	}

	tupleMethods = methodTable{
		"length": {arity: 0, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			return rt.Heap().Int(int64(len(v.(*Tuple).Items))), nil
		}},
		"contains": {arity: 1, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			found, err := containsItem(v.(*Tuple).Items, args[0])
			if err != nil {
				return Handle{}, err
			}
			return rt.Heap().Bool(found), nil
		}},
	}

	// ============ set ============

	setMethods = methodTable{
		"length": {arity: 0, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			return rt.Heap().Int(int64(v.(*Set).Len())), nil
		}},
		"contains": {arity: 1, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			found, err := v.(*Set).Contains(args[0])
			if err != nil {
				return Handle{}, err
			}
			return rt.Heap().Bool(found), nil
		}},
		// add locks the value; it reports whether the value was new.
		"add": {arity: 1, mut: true, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			s := v.(*Set)
			before := s.Len()
			h := args[0].Clone()
			if err := s.Add(h); err != nil {
				h.Drop()
				return Handle{}, err
			}
			return rt.Heap().Bool(s.Len() > before), nil
		}},
		"remove": {arity: 1, mut: true, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			removed, err := v.(*Set).Remove(args[0])
			if err != nil {
				return Handle{}, err
			}
			return rt.Heap().Bool(removed), nil
		}},
	}

	// ============ dictionary ============

	dictMethods = methodTable{
		"length": {arity: 0, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			return rt.Heap().Int(int64(v.(*Dict).Len())), nil
		}},
		"contains": {arity: 1, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			_, found, err := v.(*Dict).Get(args[0])
			if err != nil {
				return Handle{}, err
			}
			return rt.Heap().Bool(found), nil
		}},
		// get returns unit for a missing key.
		"get": {arity: 1, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			val, found, err := v.(*Dict).Get(args[0])
			if err != nil {
				return Handle{}, err
			}
			if !found {
				return rt.Heap().Unit(), nil
			}
			return val.Clone(), nil
		}},
		"remove": {arity: 1, mut: true, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			val, found, err := v.(*Dict).Remove(args[0])
			if err != nil {
				return Handle{}, err
			}
			if !found {
				return rt.Heap().Unit(), nil
			}
			return val, nil
		}},
		"keys": {arity: 0, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			return rt.Heap().List(cloneAll(v.(*Dict).Keys())), nil
		}},
		"values": {arity: 0, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			return rt.Heap().List(cloneAll(v.(*Dict).Values())), nil
		}},
		"items": {arity: 0, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			hp := rt.Heap()
			entries := v.(*Dict).entries()
			out := make([]Handle, len(entries))
			for i, e := range entries {
				out[i] = hp.Tuple([]Handle{e.key.Handle.Clone(), e.value.Clone()})
			}
			return hp.List(out), nil
		}},
	}
}

func containsItem(items []Handle, needle Handle) (bool, error) {
	for _, h := range items {
		eq, err := h.Equal(needle)
		if err != nil {
			return false, err
		}
		if eq {
			return true, nil
		}
	}
	return false, nil
}

// intArg reads an int argument.
func intArg(name string, h Handle) (int64, error) {
	ref, err := h.Borrow()
	if err != nil {
		return 0, err
	}
	defer ref.Release()
	i, ok := ref.Get().(Int)
	if !ok {
		return 0, TypeErrorf("%s expects an int, got %s", name, h.TypeName())
	}
	return int64(i), nil
}

// normalizeIndex resolves a possibly negative index against length n.
func normalizeIndex(i int64, n int) (int, bool) {
	if i < 0 {
		i += int64(n)
	}
	if i < 0 || i >= int64(n) {
		return 0, false
	}
	return int(i), true
}
