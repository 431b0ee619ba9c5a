package vm

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/technetium/pkg/bytecode"
	"github.com/chazu/technetium/pkg/memory"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("technetium.vm")

// DefaultMaxDepth is the default limit on nested calls.
const DefaultMaxDepth = 1024

// Runtime is what natives and methods see of the interpreter.
type Runtime interface {
	Heap() *Heap
	Globals() *Globals
	// Call invokes a function or native. args are borrowed; the result is
	// owned by the caller.
	Call(fn Handle, args []Handle) (Handle, error)
	Stdout() io.Writer
	Stderr() io.Writer
	Stdin() io.Reader
	Dir() string
	SetDir(dir string) error
	Environ() []string
	Args() []string
	ScriptPath() string
	Program() *bytecode.Program
	Context() context.Context
	Processes() *ProcessTable
}

// ---------------------------------------------------------------------------
// Options
// ---------------------------------------------------------------------------

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithTrace prints every executed instruction to the stderr writer.
func WithTrace(on bool) Option {
	return func(i *Interpreter) { i.trace = on }
}

// WithMaxDepth limits nested calls. Non-positive values keep the default.
func WithMaxDepth(n int) Option {
	return func(i *Interpreter) {
		if n > 0 {
			i.maxDepth = n
		}
	}
}

func WithStdout(w io.Writer) Option { return func(i *Interpreter) { i.stdout = w } }
func WithStderr(w io.Writer) Option { return func(i *Interpreter) { i.stderr = w } }
func WithStdin(r io.Reader) Option  { return func(i *Interpreter) { i.stdin = r } }

// WithDir sets the working directory for subprocesses and relative paths.
func WithDir(dir string) Option { return func(i *Interpreter) { i.dir = dir } }

// WithEnv sets the environment handed to subprocesses.
func WithEnv(env []string) Option { return func(i *Interpreter) { i.env = env } }

// WithArgs sets the script arguments returned by args().
func WithArgs(args []string) Option { return func(i *Interpreter) { i.args = args } }

// WithScriptPath records the path of the running script.
func WithScriptPath(path string) Option { return func(i *Interpreter) { i.scriptPath = path } }

// WithScanInterval sets the number of allocations between cycle scans; zero
// disables periodic scanning.
func WithScanInterval(n int) Option { return func(i *Interpreter) { i.scanInterval = n } }

// WithContext sets the context subprocesses are started under.
func WithContext(ctx context.Context) Option { return func(i *Interpreter) { i.ctx = ctx } }

// ---------------------------------------------------------------------------
// Interpreter
// ---------------------------------------------------------------------------

// Interpreter executes programs. It is confined to one goroutine.
type Interpreter struct {
	RunID uuid.UUID

	heap    *Heap
	globals *Globals
	procs   *ProcessTable
	prog    *bytecode.Program
	frames  []*Frame

	trace        bool
	maxDepth     int
	scanInterval int
	stdout       io.Writer
	stderr       io.Writer
	stdin        io.Reader
	dir          string
	env          []string
	args         []string
	scriptPath   string
	ctx          context.Context
}

// New creates an interpreter with an empty Global Table.
func New(opts ...Option) *Interpreter {
	i := &Interpreter{
		RunID:        uuid.New(),
		globals:      NewGlobals(),
		procs:        NewProcessTable(),
		maxDepth:     DefaultMaxDepth,
		scanInterval: memory.DefaultScanInterval,
		stdout:       os.Stdout,
		stderr:       os.Stderr,
		stdin:        os.Stdin,
		ctx:          context.Background(),
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.dir == "" {
		if wd, err := os.Getwd(); err == nil {
			i.dir = wd
		}
	}
	if i.env == nil {
		i.env = os.Environ()
	}
	i.heap = NewHeap(i.scanInterval)
	return i
}

func (i *Interpreter) Heap() *Heap                { return i.heap }
func (i *Interpreter) Globals() *Globals          { return i.globals }
func (i *Interpreter) Stdout() io.Writer          { return i.stdout }
func (i *Interpreter) Stderr() io.Writer          { return i.stderr }
func (i *Interpreter) Stdin() io.Reader           { return i.stdin }
func (i *Interpreter) Dir() string                { return i.dir }
func (i *Interpreter) Environ() []string          { return i.env }
func (i *Interpreter) Args() []string             { return i.args }
func (i *Interpreter) ScriptPath() string         { return i.scriptPath }
func (i *Interpreter) Program() *bytecode.Program { return i.prog }
func (i *Interpreter) Context() context.Context   { return i.ctx }
func (i *Interpreter) Processes() *ProcessTable   { return i.procs }

// SetDir changes the working directory. Relative paths resolve against the
// current one.
func (i *Interpreter) SetDir(dir string) error {
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(i.dir, dir)
	}
	info, err := os.Stat(dir)
	if err != nil {
		return IOError(err)
	}
	if !info.IsDir() {
		return Errorf(KindIO, "%s is not a directory", dir)
	}
	i.dir = dir
	return nil
}

// Depth returns the number of active frames.
func (i *Interpreter) Depth() int {
	return len(i.frames)
}

// Define binds name in the Global Table, taking over v's reference.
func (i *Interpreter) Define(name string, v Handle) {
	i.globals.Set(name, v)
}

// DefineNative binds a native function. maxArgs < 0 means variadic.
func (i *Interpreter) DefineNative(name string, minArgs, maxArgs int, fn NativeFunc) {
	i.Define(name, i.heap.New(&Native{Name: name, MinArgs: minArgs, MaxArgs: maxArgs, Fn: fn}))
}

// Run executes the program's main function and returns its result.
func (i *Interpreter) Run(prog *bytecode.Program) (Handle, error) {
	if err := bytecode.Validate(prog.Main); err != nil {
		return Handle{}, err
	}
	i.prog = prog
	if fp, err := prog.Fingerprint(); err == nil {
		log.Infof("run %s: program %s fingerprint %016x", i.RunID, prog.Name, fp)
	}
	f := newFrame(0, prog.Main, nil)
	return i.runFrame(f)
}

// Shutdown kills subprocesses that are still running, unbinds every global
// and reclaims what is left.
func (i *Interpreter) Shutdown() {
	if n := i.procs.KillAll(); n > 0 {
		log.Infof("run %s: killed %d running processes", i.RunID, n)
	}
	i.globals.Clear()
	stats := i.heap.Collect()
	log.Debugf("run %s: shutdown with %d live objects (%d collected)", i.RunID, i.heap.Live(), stats.Collected)
}

// Call implements Runtime.
func (i *Interpreter) Call(fn Handle, args []Handle) (Handle, error) {
	var parent uint64
	if n := len(i.frames); n > 0 {
		parent = i.frames[n-1].ID
	}
	return i.call(parent, fn, args)
}

func (i *Interpreter) call(parent uint64, callee Handle, args []Handle) (Handle, error) {
	switch fn := callee.Peek().(type) {
	case *Native:
		if err := fn.checkArity(len(args)); err != nil {
			return Handle{}, err
		}
		return fn.Fn(i, args)
	case *Function:
		ref, err := callee.Borrow()
		if err != nil {
			return Handle{}, err
		}
		chunk := fn.Chunk
		captures := cloneAll(fn.Captures)
		ref.Release()

		if len(args) != int(chunk.ParamCount) {
			dropAll(captures)
			return Handle{}, ArityError(chunk.Name, int(chunk.ParamCount), len(args))
		}
		if len(i.frames) >= i.maxDepth {
			dropAll(captures)
			return Handle{}, Errorf(KindRecursion, "maximum call depth of %d exceeded", i.maxDepth)
		}
		f := newFrame(parent, chunk, captures)
		for slot, a := range args {
			f.locals[slot] = a.Clone()
		}
		return i.runFrame(f)
	}
	return Handle{}, TypeErrorf("value of type %s is not callable", callee.TypeName())
}

func (i *Interpreter) runFrame(f *Frame) (Handle, error) {
	i.frames = append(i.frames, f)
	if i.trace {
		log.Debugf("frame %d (%s) entered from %d", f.ID, f.Name(), f.Parent)
	}
	defer func() {
		i.frames[len(i.frames)-1] = nil
		i.frames = i.frames[:len(i.frames)-1]
		f.release()
		if i.trace {
			log.Debugf("frame %d (%s) %s", f.ID, f.Name(), f.State)
		}
	}()
	return i.execute(f)
}

// unwind marks the frame as unwinding and adds its location to err's trace.
func (i *Interpreter) unwind(f *Frame, offset int, err error) error {
	f.State = FrameUnwinding
	rerr, ok := AsRuntimeError(err)
	if !ok {
		rerr = &RuntimeError{Kind: KindIO, Message: err.Error(), Err: err}
	}
	entry := TraceEntry{FrameID: f.ID, Parent: f.Parent, Function: f.Name(), Offset: offset}
	if loc, ok := f.chunk.Lookup(uint32(offset)); ok {
		entry.Line = int(loc.Line)
		entry.Column = int(loc.Column)
		if i.prog != nil {
			entry.Source, _ = i.prog.SourceLine(entry.Line)
		}
	}
	rerr.Trace = append(rerr.Trace, entry)
	return rerr
}

// ---------------------------------------------------------------------------
// Dispatch loop
// ---------------------------------------------------------------------------

func (i *Interpreter) execute(f *Frame) (Handle, error) {
	hp := i.heap
	c := f.chunk
	code := c.Code

	for f.pc < len(code) {
		hp.Safepoint()

		start := f.pc
		op := bytecode.Opcode(code[start])
		if i.trace {
			fmt.Fprintf(i.stderr, "[%04x] %-16s sp=%d\n", start, op, len(f.stack))
			hp.setSite(fmt.Sprintf("%s@%04x", c.Name, start))
		}
		f.pc += op.InstructionLen()

		var err error
		switch op {
		// ============ Stack ============

		case bytecode.OpNop:

		case bytecode.OpPop:
			f.pop().Drop()

		case bytecode.OpDup:
			f.push(f.peek(0).Clone())

		case bytecode.OpSwap:
			b, a := f.pop(), f.pop()
			f.push(b)
			f.push(a)

		case bytecode.OpRot:
			top := f.popN(3)
			f.push(top[1])
			f.push(top[2])
			f.push(top[0])

		// ============ Constants ============

		case bytecode.OpConst:
			f.push(i.constant(c.Constants[c.ReadU16(start+1)]))

		case bytecode.OpConstUnit:
			f.push(hp.Unit())

		case bytecode.OpConstTrue:
			f.push(hp.Bool(true))

		case bytecode.OpConstFalse:
			f.push(hp.Bool(false))

		// ============ Variables ============

		case bytecode.OpLoadLocal:
			slot := int(c.ReadU16(start + 1))
			var h Handle
			h, err = f.load(slot)
			if err == nil && !h.IsValid() {
				err = Errorf(KindUnboundName, "variable %s used before assignment", slotName(c, slot))
			}
			if err == nil {
				f.push(h)
			}

		case bytecode.OpStoreLocal:
			err = f.store(int(c.ReadU16(start+1)), f.pop())

		case bytecode.OpLoadCapture:
			idx := int(c.ReadU16(start + 1))
			var h Handle
			h, err = cellGet(f.captures[idx])
			if err == nil && !h.IsValid() {
				err = Errorf(KindUnboundName, "variable %s used before assignment", c.CaptureInfo[idx].Name)
			}
			if err == nil {
				f.push(h)
			}

		case bytecode.OpStoreCapture:
			err = cellSet(f.captures[c.ReadU16(start+1)], f.pop())

		case bytecode.OpLoadGlobal:
			name := c.Names[c.ReadU16(start+1)]
			h, ok := i.globals.Get(name)
			if !ok {
				err = Errorf(KindUnboundName, "name %s is not defined", name)
				break
			}
			f.push(h.Clone())

		case bytecode.OpStoreGlobal:
			i.globals.Set(c.Names[c.ReadU16(start+1)], f.pop())

		// ============ Operators ============

		case bytecode.OpAdd, bytecode.OpSub, bytecode.OpMul, bytecode.OpDiv, bytecode.OpMod:
			b, a := f.pop(), f.pop()
			var r Handle
			r, err = Arith(hp, op, a, b)
			a.Drop()
			b.Drop()
			if err == nil {
				f.push(r)
			}

		case bytecode.OpNeg:
			a := f.pop()
			var r Handle
			r, err = Negate(hp, a)
			a.Drop()
			if err == nil {
				f.push(r)
			}

		case bytecode.OpEq, bytecode.OpNe:
			b, a := f.pop(), f.pop()
			var eq bool
			eq, err = a.Equal(b)
			a.Drop()
			b.Drop()
			if err == nil {
				f.push(hp.Bool(eq == (op == bytecode.OpEq)))
			}

		case bytecode.OpLt, bytecode.OpLe, bytecode.OpGt, bytecode.OpGe:
			b, a := f.pop(), f.pop()
			var r bool
			r, err = Compare(op, a, b)
			a.Drop()
			b.Drop()
			if err == nil {
				f.push(hp.Bool(r))
			}

		case bytecode.OpNot:
			a := f.pop()
			var t bool
			t, err = a.Truthy()
			a.Drop()
			if err == nil {
				f.push(hp.Bool(!t))
			}

		case bytecode.OpAnd, bytecode.OpOr:
			b, a := f.pop(), f.pop()
			var ta, tb bool
			ta, err = a.Truthy()
			if err == nil {
				tb, err = b.Truthy()
			}
			a.Drop()
			b.Drop()
			if err == nil {
				if op == bytecode.OpAnd {
					f.push(hp.Bool(ta && tb))
				} else {
					f.push(hp.Bool(ta || tb))
				}
			}

		// ============ Strings ============

		case bytecode.OpToString:
			a := f.pop()
			var s string
			s, err = a.Display()
			a.Drop()
			if err == nil {
				f.push(hp.String(s))
			}

		case bytecode.OpFormat:
			parts := f.popN(int(code[start+1]))
			var sb strings.Builder
			for _, p := range parts {
				var s string
				if s, err = p.Display(); err != nil {
					break
				}
				sb.WriteString(s)
			}
			dropAll(parts)
			if err == nil {
				f.push(hp.String(sb.String()))
			}

		// ============ Control flow ============

		case bytecode.OpJump:
			f.pc = c.JumpTarget(start)

		case bytecode.OpJumpTrue, bytecode.OpJumpFalse:
			cond := f.pop()
			var t bool
			t, err = cond.Truthy()
			cond.Drop()
			if err == nil && t == (op == bytecode.OpJumpTrue) {
				f.pc = c.JumpTarget(start)
			}

		// ============ Calls and attributes ============

		case bytecode.OpCall:
			args := f.popN(int(code[start+1]))
			callee := f.pop()
			var r Handle
			r, err = i.call(f.ID, callee, args)
			dropAll(args)
			callee.Drop()
			if err == nil {
				f.push(r)
			}

		case bytecode.OpCallMethod:
			name := c.Names[c.ReadU16(start+1)]
			args := f.popN(int(code[start+3]))
			recv := f.pop()
			var r Handle
			r, err = CallMethod(i, recv, name, args)
			dropAll(args)
			recv.Drop()
			if err == nil {
				f.push(r)
			}

		case bytecode.OpGetAttr:
			obj := f.pop()
			var r Handle
			r, err = getAttr(hp, obj, c.Names[c.ReadU16(start+1)])
			obj.Drop()
			if err == nil {
				f.push(r)
			}

		case bytecode.OpSetAttr:
			v, obj := f.pop(), f.pop()
			err = setAttr(obj, c.Names[c.ReadU16(start+1)], v)
			v.Drop()
			obj.Drop()

		// ============ Closures ============

		case bytecode.OpMakeClosure:
			f.push(i.makeClosure(f, c.Functions[c.ReadU16(start+1)]))

		// ============ Collections ============

		case bytecode.OpBuildList:
			f.push(hp.List(f.popN(int(c.ReadU16(start + 1)))))

		case bytecode.OpBuildTuple:
			f.push(hp.Tuple(f.popN(int(c.ReadU16(start + 1)))))

		case bytecode.OpBuildSet:
			var r Handle
			if r, err = hp.Set(f.popN(int(c.ReadU16(start + 1)))); err == nil {
				f.push(r)
			}

		case bytecode.OpBuildDict:
			var r Handle
			if r, err = hp.Dict(f.popN(2 * int(c.ReadU16(start+1)))); err == nil {
				f.push(r)
			}

		case bytecode.OpIndexGet:
			index, obj := f.pop(), f.pop()
			var r Handle
			r, err = IndexGet(hp, obj, index)
			index.Drop()
			obj.Drop()
			if err == nil {
				f.push(r)
			}

		case bytecode.OpIndexSet:
			v, index, obj := f.pop(), f.pop(), f.pop()
			if err = IndexSet(obj, index, v); err != nil {
				v.Drop()
			}
			index.Drop()
			obj.Drop()

		case bytecode.OpMakeSlice:
			step, hi, lo := f.pop(), f.pop(), f.pop()
			var r Handle
			r, err = MakeSlice(hp, lo, hi, step)
			dropAll([]Handle{lo, hi, step})
			if err == nil {
				f.push(r)
			}

		// ============ Iteration ============

		case bytecode.OpGetIter:
			src := f.pop()
			var it Handle
			it, err = MakeIter(hp, src)
			src.Drop()
			if err == nil {
				f.push(it)
			}

		case bytecode.OpForIter:
			var v Handle
			var ok bool
			v, ok, err = advance(i, f.peek(0))
			if err != nil {
				break
			}
			if ok {
				f.push(v)
			} else {
				f.pop().Drop()
				f.pc = c.JumpTarget(start)
			}

		// ============ Shell ============

		case bytecode.OpSh:
			cmd := f.pop()
			var text string
			text, err = textArg("sh", cmd)
			cmd.Drop()
			if err == nil {
				f.push(hp.New(NewShell(i, text)))
			}

		// ============ Return ============

		case bytecode.OpReturn:
			f.State = FrameReturned
			return f.pop(), nil

		case bytecode.OpReturnUnit:
			f.State = FrameReturned
			return hp.Unit(), nil

		default:
			f.fail("unknown opcode 0x%02X", byte(op))
		}

		if err != nil {
			return Handle{}, i.unwind(f, start, err)
		}
	}
	f.State = FrameReturned
	return hp.Unit(), nil
}

func (i *Interpreter) constant(k bytecode.Constant) Handle {
	switch k.Kind {
	case bytecode.ConstInt:
		return i.heap.Int(k.Int)
	case bytecode.ConstFloat:
		return i.heap.Float(k.Float)
	case bytecode.ConstString:
		return i.heap.String(k.Str)
	case bytecode.ConstChar:
		return i.heap.Char(rune(k.Int))
	}
	internalf("unknown constant kind %d", k.Kind)
	return Handle{}
}

// makeClosure captures the cells named by fn's capture descriptors.
func (i *Interpreter) makeClosure(f *Frame, fn *bytecode.Chunk) Handle {
	caps := make([]Handle, len(fn.CaptureInfo))
	for j, d := range fn.CaptureInfo {
		switch d.Source {
		case bytecode.VarSourceLocal:
			caps[j] = f.cell(i.heap, int(d.Index)).Clone()
		case bytecode.VarSourceCapture:
			caps[j] = f.captures[d.Index].Clone()
		}
	}
	return i.heap.New(&Function{Chunk: fn, Captures: caps})
}

func slotName(c *bytecode.Chunk, slot int) string {
	if name := c.VarName(slot); name != "" {
		return name
	}
	return fmt.Sprintf("#%d", slot)
}

func getAttr(hp *Heap, obj Handle, name string) (Handle, error) {
	ref, err := obj.Borrow()
	if err != nil {
		return Handle{}, err
	}
	defer ref.Release()
	a, ok := ref.Get().(Attributer)
	if !ok {
		return Handle{}, Errorf(KindAttribute, "%s has no attribute %s", obj.TypeName(), name)
	}
	return a.GetAttr(hp, name)
}

func setAttr(obj Handle, name string, v Handle) error {
	if _, ok := obj.Peek().(AttrSetter); !ok {
		return Errorf(KindAttribute, "cannot set attribute %s on %s", name, obj.TypeName())
	}
	ref, err := obj.BorrowMut()
	if err != nil {
		return err
	}
	defer ref.Release()
	return ref.Get().(AttrSetter).SetAttr(name, v)
}
