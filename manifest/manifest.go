// Package manifest handles tech.toml engine configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/Masterminds/semver/v3"
	"github.com/joho/godotenv"

	"github.com/chazu/technetium/pkg/memory"
	"github.com/chazu/technetium/vm"
)

// FileName is the name of the configuration file.
const FileName = "tech.toml"

// Manifest represents a tech.toml configuration.
type Manifest struct {
	Runtime Runtime `toml:"runtime"`
	Shell   Shell   `toml:"shell"`
	Output  Output  `toml:"output"`

	// Dir is the directory containing the tech.toml file (set at load time).
	Dir string `toml:"-"`
}

// Runtime configures the interpreter.
type Runtime struct {
	// Requires is a semver constraint on the engine version, e.g. ">= 0.4".
	Requires      string `toml:"requires"`
	Trace         bool   `toml:"trace"`
	MaxFrameDepth int    `toml:"max-frame-depth"`

	// ScanInterval is the number of allocations between cycle scans; 0
	// disables scanning.
	ScanInterval int `toml:"scan-interval"`
}

// Shell configures the environment subprocesses start with.
type Shell struct {
	Dir        string `toml:"dir"`
	EnvFile    string `toml:"env-file"`
	InheritEnv bool   `toml:"inherit-env"`
}

// Output configures user-facing output.
type Output struct {
	Color bool `toml:"color"`
}

// Default returns the configuration used when no tech.toml exists.
func Default() *Manifest {
	dir, _ := os.Getwd()
	return &Manifest{
		Runtime: Runtime{
			MaxFrameDepth: vm.DefaultMaxDepth,
			ScanInterval:  memory.DefaultScanInterval,
		},
		Shell:  Shell{InheritEnv: true},
		Output: Output{Color: true},
		Dir:    dir,
	}
}

// Load parses a tech.toml file from the given directory. Keys the file
// leaves out keep their defaults.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s in %s", undecoded[0], path)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	if m.Runtime.MaxFrameDepth <= 0 {
		return nil, fmt.Errorf("%s: max-frame-depth must be positive, got %d", path, m.Runtime.MaxFrameDepth)
	}
	if m.Runtime.ScanInterval < 0 {
		return nil, fmt.Errorf("%s: scan-interval cannot be negative, got %d", path, m.Runtime.ScanInterval)
	}
	if m.Runtime.Requires != "" {
		if _, err := semver.NewConstraint(m.Runtime.Requires); err != nil {
			return nil, fmt.Errorf("%s: invalid requires constraint %q: %w", path, m.Runtime.Requires, err)
		}
	}

	return m, nil
}

// FindAndLoad walks up from startDir to find a tech.toml file, then loads
// and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// CheckVersion reports an error if version does not satisfy the configured
// requires constraint.
func (m *Manifest) CheckVersion(version string) error {
	if m.Runtime.Requires == "" {
		return nil
	}
	c, err := semver.NewConstraint(m.Runtime.Requires)
	if err != nil {
		return err
	}
	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("engine version %q: %w", version, err)
	}
	if !c.Check(v) {
		return fmt.Errorf("engine version %s does not satisfy %q", v, m.Runtime.Requires)
	}
	return nil
}

// ShellDir returns the absolute directory subprocesses start in.
func (m *Manifest) ShellDir() string {
	switch {
	case m.Shell.Dir == "":
		return m.Dir
	case filepath.IsAbs(m.Shell.Dir):
		return m.Shell.Dir
	}
	return filepath.Join(m.Dir, m.Shell.Dir)
}

// Environ builds the subprocess environment: the process environment when
// inherit-env is set, overridden by the variables of env-file.
func (m *Manifest) Environ() ([]string, error) {
	var env []string
	if m.Shell.InheritEnv {
		env = os.Environ()
	}
	if m.Shell.EnvFile == "" {
		return env, nil
	}

	path := m.Shell.EnvFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(m.Dir, path)
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read env file %s: %w", path, err)
	}

	env = slices.DeleteFunc(env, func(kv string) bool {
		k, _, _ := strings.Cut(kv, "=")
		_, overridden := vars[k]
		return overridden
	})
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		env = append(env, k+"="+vars[k])
	}
	return env, nil
}
