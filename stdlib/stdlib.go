// Package stdlib binds the technetium standard library into an interpreter's
// Global Table.
//
// Every function follows the native calling convention: arguments are
// borrowed handles, the result is an owned handle, and failures are
// *vm.RuntimeError values.
package stdlib

import (
	"math/rand/v2"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/technetium/vm"
)

var log = commonlog.GetLogger("technetium.stdlib")

// Options configures the library.
type Options struct {
	// Version is returned by tech_version().
	Version string
	// Seed seeds rand and rand_int. Zero picks a seed from the clock.
	Seed uint64
}

type library struct {
	interp *vm.Interpreter
	opts   Options
	rng    *rand.Rand
}

// Install binds every standard function into interp's Global Table.
func Install(interp *vm.Interpreter, opts Options) {
	seed := opts.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	l := &library{
		interp: interp,
		opts:   opts,
		rng:    rand.New(rand.NewPCG(seed, seed>>1|1)),
	}

	l.registerIOPrimitives()
	l.registerConversionPrimitives()
	l.registerCollectionPrimitives()
	l.registerSystemPrimitives()
	l.registerTextPrimitives()
	l.registerMathPrimitives()

	log.Debugf("installed %d globals", interp.Globals().Len())
}

func (l *library) define(name string, minArgs, maxArgs int, fn vm.NativeFunc) {
	l.interp.DefineNative(name, minArgs, maxArgs, fn)
}
