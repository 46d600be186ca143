// Package manifest handles crunch.toml project configuration.
package manifest

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"

	"github.com/chazu/crunch/vm"
)

// FileName is the manifest file looked up by Load and FindAndLoad.
const FileName = "crunch.toml"

// Manifest represents a crunch.toml project configuration.
type Manifest struct {
	Project Project   `toml:"project"`
	VM      VMConfig  `toml:"vm"`
	Log     LogConfig `toml:"log"`

	// Dir is the directory containing the crunch.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
	Entry   string `toml:"entry"` // program file, relative to Dir
}

// VMConfig mirrors vm.Options. Unset fields keep the VM defaults.
type VMConfig struct {
	Registers    int    `toml:"registers,omitempty"`
	HeapLimit    *int   `toml:"heap-limit,omitempty"`
	MaxCallDepth int    `toml:"max-call-depth,omitempty"`
	JIT          bool   `toml:"jit"`
	HotThreshold uint64 `toml:"hot-threshold,omitempty"`
	Trace        bool   `toml:"trace"`
}

// LogConfig configures commonlog for the CLI.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file,omitempty"`
}

// Load parses a crunch.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes manifest text. Keys it does not know are an error so
// that typos in [vm] do not silently fall back to defaults.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}

	// Defaults
	if m.Project.Entry == "" && m.Project.Name != "" {
		m.Project.Entry = m.Project.Name + ".crunched"
	}
	if m.VM.Registers < 0 || m.VM.Registers > vm.NumRegisters {
		return nil, fmt.Errorf("vm.registers must be between 1 and %d, got %d", vm.NumRegisters, m.VM.Registers)
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a crunch.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
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

// EntryPath returns the absolute path of the entry program.
func (m *Manifest) EntryPath() string {
	if filepath.IsAbs(m.Project.Entry) {
		return m.Project.Entry
	}
	return filepath.Join(m.Dir, m.Project.Entry)
}

// Options builds VM options for the entry program.
func (m *Manifest) Options() vm.Options {
	b := vm.NewOptionBuilder(m.EntryPath()).
		JIT(m.VM.JIT).
		HotThreshold(m.VM.HotThreshold).
		Trace(m.VM.Trace)
	if m.VM.Registers > 0 {
		b.Registers(m.VM.Registers)
	}
	if m.VM.HeapLimit != nil {
		b.HeapLimit(*m.VM.HeapLimit)
	}
	if m.VM.MaxCallDepth > 0 {
		b.MaxCallDepth(m.VM.MaxCallDepth)
	}
	return b.Build()
}

// Write stores the manifest as crunch.toml in dir.
func (m *Manifest) Write(dir string) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(m); err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	path := filepath.Join(dir, FileName)
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		return fmt.Errorf("cannot write %s: %w", path, err)
	}
	return nil
}
