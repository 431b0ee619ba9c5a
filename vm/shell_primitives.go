package vm

import "strconv"

// Shell is the script-visible handle on a subprocess.
type Shell struct {
	Proc *Process
}

// NewShell wraps a new Created process for command, run in the runtime's
// current directory and environment.
func NewShell(rt Runtime, command string) *Shell {
	return &Shell{Proc: NewProcess(command, rt.Dir(), rt.Environ())}
}

func (s *Shell) TypeName() string { return "sh" }

func (s *Shell) Display() (string, error) {
	return "sh(" + strconv.Quote(s.Proc.Command) + ")", nil
}

func (s *Shell) GetAttr(hp *Heap, name string) (Handle, error) {
	switch name {
	case "command":
		return hp.String(s.Proc.Command), nil
	case "id":
		return hp.String(s.Proc.ID.String()), nil
	}
	return Handle{}, Errorf(KindAttribute, "sh has no attribute %s", name)
}

func (s *Shell) methods() methodTable { return shellMethods }

func (s *Shell) spawn(rt Runtime) error {
	if err := s.Proc.Start(rt.Context()); err != nil {
		return err
	}
	rt.Processes().Track(s.Proc)
	return nil
}

// join starts the process if needed and waits for it. A killed process is
// not an error here; its state says what happened.
func (s *Shell) join(rt Runtime) error {
	switch s.Proc.State() {
	case ProcessCreated:
		if err := s.spawn(rt); err != nil {
			return err
		}
	case ProcessKilled:
		return nil
	}
	_, err := s.Proc.Wait()
	rt.Processes().Untrack(s.Proc)
	if err != nil && s.Proc.State() == ProcessKilled {
		return nil
	}
	return err
}

var shellMethods methodTable

func init() {
	unit := func(rt Runtime, err error) (Handle, error) {
		if err != nil {
			return Handle{}, err
		}
		return rt.Heap().Unit(), nil
	}

	shellMethods = methodTable{
		"spawn": {arity: 0, mut: true, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			return unit(rt, v.(*Shell).spawn(rt))
		}},
		"join": {arity: 0, mut: true, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			return unit(rt, v.(*Shell).join(rt))
		}},
		// run is join followed by exit_code.
		"run": {arity: 0, mut: true, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			s := v.(*Shell)
			if err := s.join(rt); err != nil {
				return Handle{}, err
			}
			code, ok := s.Proc.ExitCode()
			if !ok {
				return Handle{}, Errorf(KindChildProcess, "process was %s", s.Proc.State())
			}
			return rt.Heap().Int(int64(code)), nil
		}},
		"kill": {arity: 0, mut: true, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			s := v.(*Shell)
			if s.Proc.State() != ProcessRunning {
				return Handle{}, Errorf(KindChildProcess, "kill() called on a process that is not running")
			}
			s.Proc.Terminate()
			_, _ = s.Proc.Wait()
			rt.Processes().Untrack(s.Proc)
			return rt.Heap().Unit(), nil
		}},
		"stdout": {arity: 0, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			return rt.Heap().String(v.(*Shell).Proc.Stdout()), nil
		}},
		"stderr": {arity: 0, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			return rt.Heap().String(v.(*Shell).Proc.Stderr()), nil
		}},
		"exit_code": {arity: 0, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			code, ok := v.(*Shell).Proc.ExitCode()
			if !ok {
				return Handle{}, Errorf(KindChildProcess, "exit_code() called before the process exited")
			}
			return rt.Heap().Int(int64(code)), nil
		}},
		"state": {arity: 0, fn: func(rt Runtime, self Handle, v Value, args []Handle) (Handle, error) {
			return rt.Heap().String(v.(*Shell).Proc.State().String()), nil
		}},
	}
}
