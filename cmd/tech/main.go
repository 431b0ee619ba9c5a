// tech runs technetium programs.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/pflag"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/technetium/manifest"
	"github.com/chazu/technetium/pkg/bytecode"
	"github.com/chazu/technetium/stdlib"
	"github.com/chazu/technetium/vm"
)

var version = "0.4.0"

var log = commonlog.GetLogger("technetium.cli")

const usage = `Usage: tech [flags] PROGRAM [ARGS...]

Runs a technetium program. PROGRAM is either assembly text (.tasm) or an
encoded program (.tcb). Arguments after PROGRAM are passed to the script.

Configuration is read from the nearest tech.toml above PROGRAM, or from
the directory given with --config.

Options:
`

// Exit codes for failures that happen outside the program.
const (
	exitUsage    = 2
	exitLoad     = 3
	exitInternal = 70
)

type options struct {
	disasm    bool
	output    string
	trace     bool
	verbose   int
	configDir string
	noColor   bool
	version   bool
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(argv []string, stdout, stderr io.Writer) int {
	var opts options
	fs := pflag.NewFlagSet("tech", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.SetInterspersed(false)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}
	fs.BoolVarP(&opts.disasm, "disasm", "d", false, "Print the disassembled program instead of running it.")
	fs.StringVarP(&opts.output, "output", "o", "", "Write the encoded program to `FILE` instead of running it.")
	fs.BoolVarP(&opts.trace, "trace", "t", false, "Trace every executed instruction to stderr.")
	fs.CountVarP(&opts.verbose, "verbose", "v", "Increase log verbosity (repeatable).")
	fs.StringVar(&opts.configDir, "config", "", "Load tech.toml from `DIR` instead of searching for it.")
	fs.BoolVar(&opts.noColor, "no-color", false, "Disable colored output.")
	fs.BoolVar(&opts.version, "version", false, "Show the tech version.")

	if err := fs.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return exitUsage
	}

	if opts.version {
		fmt.Fprintf(stdout, "tech version %s (program format %s)\n", version, bytecode.FormatVersion)
		return 0
	}

	commonlog.Configure(opts.verbose-1, nil)

	if fs.NArg() == 0 {
		fs.Usage()
		return exitUsage
	}
	path := fs.Arg(0)

	m, err := loadManifest(opts.configDir, filepath.Dir(path))
	if err != nil {
		return fail(stderr, exitLoad, err)
	}
	if opts.noColor || !m.Output.Color {
		color.NoColor = true
	}
	if err := m.CheckVersion(version); err != nil {
		return fail(stderr, exitLoad, err)
	}

	prog, err := loadProgram(path)
	if err != nil {
		return fail(stderr, exitLoad, err)
	}

	if opts.disasm || opts.output != "" {
		return emit(stdout, stderr, prog, opts)
	}

	env, err := m.Environ()
	if err != nil {
		return fail(stderr, exitLoad, err)
	}
	scriptPath, err := filepath.Abs(path)
	if err != nil {
		return fail(stderr, exitLoad, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	interp := vm.New(
		vm.WithTrace(opts.trace || m.Runtime.Trace),
		vm.WithMaxDepth(m.Runtime.MaxFrameDepth),
		vm.WithScanInterval(m.Runtime.ScanInterval),
		vm.WithDir(m.ShellDir()),
		vm.WithEnv(env),
		vm.WithArgs(fs.Args()[1:]),
		vm.WithScriptPath(scriptPath),
		vm.WithContext(ctx),
		vm.WithStdout(stdout),
		vm.WithStderr(stderr),
	)
	defer interp.Shutdown()
	stdlib.Install(interp, stdlib.Options{Version: version})

	return execute(interp, prog, stderr)
}

// loadManifest reads the configuration from configDir, or searches upward
// from searchDir when configDir is empty.
func loadManifest(configDir, searchDir string) (*manifest.Manifest, error) {
	if configDir != "" {
		return manifest.Load(configDir)
	}
	m, err := manifest.FindAndLoad(searchDir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		log.Debug("no tech.toml found, using defaults")
		return manifest.Default(), nil
	}
	log.Debugf("using %s", filepath.Join(m.Dir, manifest.FileName))
	return m, nil
}

// loadProgram assembles or decodes the program at path.
func loadProgram(path string) (*bytecode.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	switch filepath.Ext(path) {
	case ".tasm":
		return bytecode.Assemble(name, string(data))
	case ".tcb":
		return bytecode.Decode(data)
	}
	return nil, fmt.Errorf("%s: unknown program type (want .tasm or .tcb)", path)
}

// emit handles the disassemble and encode modes.
func emit(stdout, stderr io.Writer, prog *bytecode.Program, opts options) int {
	if opts.disasm {
		header, body, _ := strings.Cut(prog.Disassemble(), "\n")
		color.New(color.FgCyan, color.Bold).Fprintln(stdout, header)
		fmt.Fprint(stdout, body)
	}
	if opts.output != "" {
		data, err := bytecode.Encode(prog)
		if err != nil {
			return fail(stderr, exitLoad, err)
		}
		if err := os.WriteFile(opts.output, data, 0644); err != nil {
			return fail(stderr, exitLoad, err)
		}
		log.Infof("wrote %s (%d bytes)", opts.output, len(data))
	}
	return 0
}

// execute runs prog and maps the outcome to an exit code.
func execute(interp *vm.Interpreter, prog *bytecode.Program, stderr io.Writer) (code int) {
	defer func() {
		if r := recover(); r != nil {
			ie, ok := r.(*vm.InternalError)
			if !ok {
				panic(r)
			}
			color.New(color.FgRed, color.Bold).Fprintf(stderr, "%s\n", ie)
			code = exitInternal
		}
	}()

	result, err := interp.Run(prog)
	if err != nil {
		return renderError(stderr, err)
	}
	result.Drop()
	return 0
}

// renderError prints an uncaught error and returns the exit code for it.
func renderError(w io.Writer, err error) int {
	rerr, ok := vm.AsRuntimeError(err)
	if !ok {
		return fail(w, exitLoad, err)
	}
	if rerr.Kind == vm.KindExit {
		return rerr.Code()
	}

	color.New(color.FgRed, color.Bold).Fprintf(w, "Runtime Error: %s", rerr.Kind)
	fmt.Fprintf(w, ": %s\n", rerr.Message)
	if len(rerr.Trace) > 0 {
		color.New(color.FgYellow).Fprintln(w, "Trace (most recent call first):")
		fmt.Fprint(w, rerr.TraceString())
	}
	return rerr.Code()
}

func fail(w io.Writer, code int, err error) int {
	color.New(color.FgRed).Fprintf(w, "Error: %v\n", err)
	return code
}
