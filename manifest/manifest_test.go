package manifest

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/chazu/technetium/pkg/memory"
	"github.com/chazu/technetium/vm"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[runtime]
requires = ">= 0.3"
trace = true
max-frame-depth = 256
scan-interval = 0

[shell]
dir = "work"
env-file = ".env"
inherit-env = false

[output]
color = false
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if !m.Runtime.Trace {
		t.Error("runtime trace = false, want true")
	}
	if m.Runtime.MaxFrameDepth != 256 {
		t.Errorf("max-frame-depth = %d, want 256", m.Runtime.MaxFrameDepth)
	}
	if m.Runtime.ScanInterval != 0 {
		t.Errorf("scan-interval = %d, want 0", m.Runtime.ScanInterval)
	}
	if m.Shell.EnvFile != ".env" {
		t.Errorf("env-file = %q, want .env", m.Shell.EnvFile)
	}
	if m.Shell.InheritEnv {
		t.Error("inherit-env = true, want false")
	}
	if m.Output.Color {
		t.Error("color = true, want false")
	}
	if want := filepath.Join(m.Dir, "work"); m.ShellDir() != want {
		t.Errorf("ShellDir() = %q, want %q", m.ShellDir(), want)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[runtime]\ntrace = true\n")

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Runtime.MaxFrameDepth != vm.DefaultMaxDepth {
		t.Errorf("max-frame-depth = %d, want %d", m.Runtime.MaxFrameDepth, vm.DefaultMaxDepth)
	}
	if m.Runtime.ScanInterval != memory.DefaultScanInterval {
		t.Errorf("scan-interval = %d, want %d", m.Runtime.ScanInterval, memory.DefaultScanInterval)
	}
	if !m.Shell.InheritEnv {
		t.Error("inherit-env should default to true")
	}
	if !m.Output.Color {
		t.Error("color should default to true")
	}
	if m.ShellDir() != m.Dir {
		t.Errorf("ShellDir() = %q, want manifest dir %q", m.ShellDir(), m.Dir)
	}
}

func TestLoadManifestErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"syntax", "[runtime\n", "parse error"},
		{"unknown key", "[runtime]\nspeed = 3\n", "unknown key runtime.speed"},
		{"zero depth", "[runtime]\nmax-frame-depth = 0\n", "max-frame-depth must be positive"},
		{"negative interval", "[runtime]\nscan-interval = -1\n", "scan-interval cannot be negative"},
		{"bad constraint", "[runtime]\nrequires = \"not a version\"\n", "invalid requires constraint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeManifest(t, dir, tt.content)
			_, err := Load(dir)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadManifestMissing(t *testing.T) {
	if _, err := Load(t.TempDir()); err == nil {
		t.Fatal("expected error for missing tech.toml")
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeManifest(t, root, "[runtime]\ntrace = true\n")

	sub := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	m, err := FindAndLoad(sub)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("expected manifest, got nil")
	}
	if !m.Runtime.Trace {
		t.Error("found the wrong manifest")
	}

	wantDir, _ := filepath.Abs(root)
	if m.Dir != wantDir {
		t.Errorf("manifest dir = %q, want %q", m.Dir, wantDir)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	m, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m != nil {
		t.Errorf("expected nil manifest, got %+v", m)
	}
}

func TestCheckVersion(t *testing.T) {
	m := Default()
	if err := m.CheckVersion("0.1.0"); err != nil {
		t.Errorf("no constraint should accept any version: %v", err)
	}

	m.Runtime.Requires = ">= 0.3, < 1.0"
	if err := m.CheckVersion("0.4.2"); err != nil {
		t.Errorf("0.4.2 should satisfy: %v", err)
	}
	if err := m.CheckVersion("1.2.0"); err == nil {
		t.Error("1.2.0 should not satisfy")
	}
	if err := m.CheckVersion("dev"); err == nil {
		t.Error("unparseable version should fail")
	}
}

func TestEnviron(t *testing.T) {
	t.Setenv("TECH_MANIFEST_KEEP", "kept")
	t.Setenv("TECH_MANIFEST_OVERRIDE", "old")

	dir := t.TempDir()
	envFile := "TECH_MANIFEST_OVERRIDE=new\nTECH_MANIFEST_ADDED=\"two words\"\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(envFile), 0644); err != nil {
		t.Fatal(err)
	}

	m := Default()
	m.Dir = dir
	m.Shell.EnvFile = ".env"

	env, err := m.Environ()
	if err != nil {
		t.Fatalf("Environ failed: %v", err)
	}
	for _, want := range []string{
		"TECH_MANIFEST_KEEP=kept",
		"TECH_MANIFEST_OVERRIDE=new",
		"TECH_MANIFEST_ADDED=two words",
	} {
		if !slices.Contains(env, want) {
			t.Errorf("environment missing %q", want)
		}
	}
	if slices.Contains(env, "TECH_MANIFEST_OVERRIDE=old") {
		t.Error("env file should override the inherited value")
	}

	m.Shell.InheritEnv = false
	env, err = m.Environ()
	if err != nil {
		t.Fatalf("Environ failed: %v", err)
	}
	if len(env) != 2 {
		t.Errorf("isolated environment = %v, want only the env file's 2 variables", env)
	}
}

func TestEnvironMissingFile(t *testing.T) {
	m := Default()
	m.Dir = t.TempDir()
	m.Shell.EnvFile = "nope.env"
	if _, err := m.Environ(); err == nil {
		t.Fatal("expected error for missing env file")
	}
}
