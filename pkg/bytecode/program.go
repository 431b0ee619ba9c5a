package bytecode

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
	"github.com/fxamacker/cbor/v2"
	"github.com/mitchellh/hashstructure/v2"
)

// FormatVersion is the program interchange format this package writes.
// Bump the major version when making incompatible changes.
const FormatVersion = "1.0.0"

// supportedFormats is the range of format versions Decode accepts.
const supportedFormats = "^1.0.0"

// Program is what a compiler hands to the VM: the top-level function, and
// optionally the source text for diagnostics.
type Program struct {
	Format string   `cbor:"format"`
	Name   string   `cbor:"name"`
	Source []string `cbor:"source,omitempty" hash:"ignore"`
	Main   *Chunk   `cbor:"main"`
}

// NewProgram wraps a top-level chunk.
func NewProgram(name string, main *Chunk) *Program {
	return &Program{
		Format: FormatVersion,
		Name:   name,
		Main:   main,
	}
}

// SourceLine returns a 1-based source line, if the program carries source.
func (p *Program) SourceLine(line int) (string, bool) {
	if line < 1 || line > len(p.Source) {
		return "", false
	}
	return p.Source[line-1], true
}

// Fingerprint hashes the program's code, pools and debug tables. Two
// programs with the same fingerprint execute identically.
func (p *Program) Fingerprint() (uint64, error) {
	return hashstructure.Hash(p, hashstructure.FormatV2, nil)
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Encode serializes a program to canonical CBOR.
func Encode(p *Program) ([]byte, error) {
	if p.Main == nil {
		return nil, fmt.Errorf("bytecode: program %q has no main function", p.Name)
	}
	if p.Format == "" {
		p.Format = FormatVersion
	}
	return cborEncMode.Marshal(p)
}

// Decode deserializes a program, checks its format version and validates
// every function in it.
func Decode(data []byte) (*Program, error) {
	var p Program
	if err := cbor.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal program: %w", err)
	}
	if err := checkFormat(p.Format); err != nil {
		return nil, err
	}
	if p.Main == nil {
		return nil, fmt.Errorf("bytecode: program %q has no main function", p.Name)
	}
	if err := Validate(p.Main); err != nil {
		return nil, err
	}
	return &p, nil
}

func checkFormat(format string) error {
	v, err := semver.NewVersion(format)
	if err != nil {
		return fmt.Errorf("bytecode: bad format version %q: %w", format, err)
	}
	c, err := semver.NewConstraint(supportedFormats)
	if err != nil {
		return err
	}
	if !c.Check(v) {
		return fmt.Errorf("bytecode: format version %s is not supported (want %s)", v, supportedFormats)
	}
	return nil
}
