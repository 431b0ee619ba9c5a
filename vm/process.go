package vm

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"
)

var processLog = commonlog.GetLogger("technetium.process")

// ProcessState is the lifecycle state of a subprocess.
type ProcessState uint8

const (
	ProcessCreated ProcessState = iota
	ProcessRunning
	ProcessExited
	ProcessKilled
	ProcessFailed
)

func (s ProcessState) String() string {
	switch s {
	case ProcessCreated:
		return "created"
	case ProcessRunning:
		return "running"
	case ProcessExited:
		return "exited"
	case ProcessKilled:
		return "killed"
	case ProcessFailed:
		return "failed"
	}
	return fmt.Sprintf("ProcessState(%d)", s)
}

// syncBuffer is a bytes.Buffer safe for one writer goroutine and readers on
// another.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Process runs one shell command. It moves from Created to Running on Start,
// and to Exited, Killed or Failed once waited for. A process is never
// restarted.
type Process struct {
	ID      uuid.UUID
	Command string
	Dir     string
	Env     []string

	mu     sync.Mutex
	state  ProcessState
	code   int
	err    error
	killed bool
	cancel context.CancelFunc
	group  *errgroup.Group

	stdout syncBuffer
	stderr syncBuffer
}

// NewProcess returns a process in the Created state.
func NewProcess(command, dir string, env []string) *Process {
	return &Process{
		ID:      uuid.New(),
		Command: command,
		Dir:     dir,
		Env:     env,
	}
}

// State returns the current state.
func (p *Process) State() ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ExitCode returns the exit code once the process exited, and false before.
func (p *Process) ExitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.code, p.state == ProcessExited
}

// Err returns why the process failed, if it did.
func (p *Process) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stdout returns what the command has written to standard output so far.
func (p *Process) Stdout() string { return p.stdout.String() }

// Stderr returns what the command has written to standard error so far.
func (p *Process) Stderr() string { return p.stderr.String() }

// Start parses the command and runs it in the background.
func (p *Process) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != ProcessCreated {
		return Errorf(KindChildProcess, "process %s already started (%s)", p.ID, p.state)
	}

	file, err := syntax.NewParser().Parse(strings.NewReader(p.Command), "")
	if err != nil {
		return p.failLocked(err)
	}
	runner, err := interp.New(
		interp.Dir(p.Dir),
		interp.Env(expand.ListEnviron(p.Env...)),
		interp.StdIO(nil, &p.stdout, &p.stderr),
	)
	if err != nil {
		return p.failLocked(err)
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.group, ctx = errgroup.WithContext(ctx)
	p.group.Go(func() error {
		return runner.Run(ctx, file)
	})
	p.state = ProcessRunning
	processLog.Debugf("process %s started: %s", p.ID, p.Command)
	return nil
}

func (p *Process) failLocked(err error) error {
	p.state = ProcessFailed
	p.err = err
	processLog.Debugf("process %s failed: %s", p.ID, err)
	return &RuntimeError{Kind: KindChildProcess, Message: err.Error(), Err: err}
}

// Wait blocks until the command finishes and returns its exit code. Waiting
// on a finished process returns the recorded outcome again.
func (p *Process) Wait() (int, error) {
	p.mu.Lock()
	switch p.state {
	case ProcessCreated:
		p.mu.Unlock()
		return 0, Errorf(KindChildProcess, "process %s was never started", p.ID)
	case ProcessRunning:
	default:
		defer p.mu.Unlock()
		return p.outcomeLocked()
	}
	group := p.group
	p.mu.Unlock()

	err := group.Wait()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != ProcessRunning {
		return p.outcomeLocked()
	}
	p.cancel()
	var exit interp.ExitStatus
	switch {
	case p.killed:
		p.state = ProcessKilled
		p.code = -1
	case err == nil:
		p.state = ProcessExited
	case errors.As(err, &exit):
		p.state = ProcessExited
		p.code = int(exit)
	default:
		p.state = ProcessFailed
		p.err = err
	}
	processLog.Debugf("process %s %s (code %d)", p.ID, p.state, p.code)
	return p.outcomeLocked()
}

func (p *Process) outcomeLocked() (int, error) {
	switch p.state {
	case ProcessKilled:
		return p.code, Errorf(KindChildProcess, "process %s was killed", p.ID)
	case ProcessFailed:
		return 0, &RuntimeError{Kind: KindChildProcess, Message: p.err.Error(), Err: p.err}
	}
	return p.code, nil
}

// Terminate cancels a running command. The process becomes Killed once
// waited for. Terminating a process that is not running does nothing.
func (p *Process) Terminate() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != ProcessRunning {
		return
	}
	p.killed = true
	p.cancel()
}

// ---------------------------------------------------------------------------
// ProcessTable
// ---------------------------------------------------------------------------

// ProcessTable tracks the processes started by one interpreter so they can
// be killed at shutdown. Process goroutines may finish concurrently with the
// interpreter, hence the concurrent map.
type ProcessTable struct {
	procs *xsync.Map[uuid.UUID, *Process]
}

func NewProcessTable() *ProcessTable {
	return &ProcessTable{procs: xsync.NewMap[uuid.UUID, *Process]()}
}

func (t *ProcessTable) Track(p *Process) {
	t.procs.Store(p.ID, p)
}

func (t *ProcessTable) Untrack(p *Process) {
	t.procs.Delete(p.ID)
}

func (t *ProcessTable) Len() int {
	return t.procs.Size()
}

// KillAll terminates and waits for every tracked process that is still
// running, and returns how many were killed.
func (t *ProcessTable) KillAll() int {
	n := 0
	t.procs.Range(func(id uuid.UUID, p *Process) bool {
		if p.State() == ProcessRunning {
			p.Terminate()
			_, _ = p.Wait()
			n++
		}
		t.procs.Delete(id)
		return true
	})
	return n
}
