package stdlib

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"

	"github.com/chazu/technetium/vm"
)

// ---------------------------------------------------------------------------
// Shell and System Primitives
// ---------------------------------------------------------------------------

func (l *library) registerSystemPrimitives() {
	// sh: command - A subprocess for command, not yet started
	l.define("sh", 1, 1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		cmd, err := textArg("sh", args[0])
		if err != nil {
			return vm.Handle{}, err
		}
		return rt.Heap().New(vm.NewShell(rt, cmd)), nil
	})

	// cd: path - Change the directory later subprocesses start in
	l.define("cd", 1, 1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		dir, err := textArg("cd", args[0])
		if err != nil {
			return vm.Handle{}, err
		}
		if err := rt.SetDir(dir); err != nil {
			return vm.Handle{}, err
		}
		return rt.Heap().Unit(), nil
	})

	l.define("os", 0, 0, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		return rt.Heap().String(runtime.GOOS), nil
	})

	l.define("hostname", 0, 0, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		name, err := os.Hostname()
		if err != nil {
			return vm.Handle{}, vm.IOError(err)
		}
		return rt.Heap().String(name), nil
	})

	// args: - Command-line arguments after the program path
	l.define("args", 0, 0, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		return rt.Heap().Strings(rt.Args()), nil
	})

	l.define("script_path", 0, 0, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		return rt.Heap().String(rt.ScriptPath()), nil
	})

	l.define("tech_version", 0, 0, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		return rt.Heap().String(l.opts.Version), nil
	})

	// which: name - Path of an executable on PATH, or unit
	l.define("which", 1, 1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		name, err := textArg("which", args[0])
		if err != nil {
			return vm.Handle{}, err
		}
		path, err := interp.LookPathDir(rt.Dir(), expand.ListEnviron(rt.Environ()...), name)
		if err != nil {
			return rt.Heap().Unit(), nil
		}
		return rt.Heap().String(path), nil
	})

	// ---------------------------------------------------------------------------
	// Paths
	// ---------------------------------------------------------------------------

	l.define("exists", 1, 1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		path, err := pathArg(rt, "exists", args[0])
		if err != nil {
			return vm.Handle{}, err
		}
		_, err = os.Stat(path)
		return rt.Heap().Bool(err == nil), nil
	})

	l.define("is_directory", 1, 1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		path, err := pathArg(rt, "is_directory", args[0])
		if err != nil {
			return vm.Handle{}, err
		}
		info, err := os.Stat(path)
		return rt.Heap().Bool(err == nil && info.IsDir()), nil
	})

	// canonicalize: path - Absolute path with symlinks resolved
	l.define("canonicalize", 1, 1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		path, err := pathArg(rt, "canonicalize", args[0])
		if err != nil {
			return vm.Handle{}, err
		}
		resolved, err := filepath.EvalSymlinks(path)
		if err != nil {
			return vm.Handle{}, vm.IOError(err)
		}
		return rt.Heap().String(resolved), nil
	})

	// ---------------------------------------------------------------------------
	// Control
	// ---------------------------------------------------------------------------

	// assert: cond [, message] - Raise a user error unless cond is truthy
	l.define("assert", 1, 2, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		ok, err := args[0].Truthy()
		if err != nil {
			return vm.Handle{}, err
		}
		if ok {
			return rt.Heap().Unit(), nil
		}
		msg := "assertion failed"
		if len(args) == 2 {
			if msg, err = args[1].Display(); err != nil {
				return vm.Handle{}, err
			}
		}
		return vm.Handle{}, vm.Errorf(vm.KindUserRaised, "%s", msg)
	})

	// exit: status - Stop the program. A non-int status exits 1 if truthy.
	l.define("exit", 1, 1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		if n, err := intArg("exit", args[0]); err == nil {
			return vm.Handle{}, vm.ExitRequest(int(n))
		}
		t, err := args[0].Truthy()
		if err != nil {
			return vm.Handle{}, err
		}
		if t {
			return vm.Handle{}, vm.ExitRequest(1)
		}
		return vm.Handle{}, vm.ExitRequest(0)
	})

	// sleep: seconds - Pause; interrupted when the run is cancelled
	l.define("sleep", 1, 1, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		secs, err := numberArg("sleep", args[0])
		if err != nil {
			return vm.Handle{}, err
		}
		if secs < 0 {
			return vm.Handle{}, vm.Errorf(vm.KindIndex, "sleep duration cannot be negative")
		}
		timer := time.NewTimer(time.Duration(secs * float64(time.Second)))
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-rt.Context().Done():
			return vm.Handle{}, vm.IOError(rt.Context().Err())
		}
		return rt.Heap().Unit(), nil
	})
}

// pathArg reads a path argument and resolves it against the runtime's
// working directory.
func pathArg(rt vm.Runtime, fn string, h vm.Handle) (string, error) {
	p, err := textArg(fn, h)
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(rt.Dir(), p)
	}
	return p, nil
}
