package stdlib

import (
	"path/filepath"
	"strings"

	"github.com/chazu/technetium/vm"
)

// ---------------------------------------------------------------------------
// Text Primitives
// ---------------------------------------------------------------------------

func (l *library) registerTextPrimitives() {
	// strip_prefix: text, prefix - text without prefix, or unit if absent
	l.define("strip_prefix", 2, 2, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		return strip(rt, "strip_prefix", args, strings.CutPrefix)
	})

	// strip_suffix: text, suffix - text without suffix, or unit if absent
	l.define("strip_suffix", 2, 2, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		return strip(rt, "strip_suffix", args, strings.CutSuffix)
	})

	// strip_path_prefix: path, prefix - path relative to prefix, or unit if
	// path is not inside prefix
	l.define("strip_path_prefix", 2, 2, func(rt vm.Runtime, args []vm.Handle) (vm.Handle, error) {
		return strip(rt, "strip_path_prefix", args, cutPathPrefix)
	})
}

func strip(rt vm.Runtime, fn string, args []vm.Handle, cut func(s, affix string) (string, bool)) (vm.Handle, error) {
	s, err := textArg(fn, args[0])
	if err != nil {
		return vm.Handle{}, err
	}
	affix, err := textArg(fn, args[1])
	if err != nil {
		return vm.Handle{}, err
	}
	rest, ok := cut(s, affix)
	if !ok {
		return rt.Heap().Unit(), nil
	}
	return rt.Heap().String(rest), nil
}

// cutPathPrefix strips whole leading path components.
func cutPathPrefix(path, prefix string) (string, bool) {
	path, prefix = filepath.Clean(path), filepath.Clean(prefix)
	rel, err := filepath.Rel(prefix, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	if rel == "." {
		return "", true
	}
	return rel, true
}
