package bytecode

import (
	"bytes"
	"fmt"
	"os"

	"github.com/chazu/crunch/vm"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("crunch.bytecode")

// FormatVersion is the current program file version. Increment when
// making incompatible changes to the format.
const FormatVersion uint16 = 1

// Magic bytes for program files: "CRNC".
var Magic = []byte{'C', 'R', 'N', 'C'}

// Extension is the conventional file extension for compiled programs.
const Extension = ".crunched"

// Program is a decoded program file.
type Program struct {
	ID        uuid.UUID
	Version   uint16
	Main      []vm.Instruction
	Functions [][]vm.Instruction

	// heap constants held alive from Decode until Install
	pins *decoder
}

// NewProgram creates a program with a fresh ID.
func NewProgram(main []vm.Instruction, functions ...[]vm.Instruction) *Program {
	return &Program{
		ID:        uuid.New(),
		Version:   FormatVersion,
		Main:      main,
		Functions: functions,
	}
}

// envelope is the CBOR shape of a program file.
type envelope struct {
	Magic     []byte     `cbor:"1,keyasint"`
	Version   uint16     `cbor:"2,keyasint"`
	ID        []byte     `cbor:"3,keyasint"`
	Main      [][]byte   `cbor:"4,keyasint"`
	Functions [][][]byte `cbor:"5,keyasint,omitempty"`
}

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("bytecode: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// Encode serializes p. c is the collector owning any heap string constants
// in p; it may be nil when every constant is a borrowed value.
func Encode(p *Program, c *vm.Collector) ([]byte, error) {
	main, err := encodeCode(p.Main, c)
	if err != nil {
		return nil, fmt.Errorf("bytecode: main: %w", err)
	}
	env := envelope{
		Magic:   Magic,
		Version: p.Version,
		ID:      p.ID[:],
		Main:    main,
	}
	for i, fn := range p.Functions {
		raw, err := encodeCode(fn, c)
		if err != nil {
			return nil, fmt.Errorf("bytecode: function %d: %w", i, err)
		}
		env.Functions = append(env.Functions, raw)
	}
	return cborEncMode.Marshal(&env)
}

// Decode parses a program file. String constants are allocated in c so
// they share the VM heap's lifetime; a nil c decodes them as borrowed
// strings, which is enough for inspection. Constants allocated in c stay
// pinned until Install hands them to the VM, so allocation pressure in
// between cannot reclaim them.
func Decode(data []byte, c *vm.Collector) (*Program, error) {
	var env envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("bytecode: unmarshal program: %w", err)
	}
	if !bytes.Equal(env.Magic, Magic) {
		return nil, fmt.Errorf("bytecode: bad magic %q", env.Magic)
	}
	if env.Version == 0 || env.Version > FormatVersion {
		return nil, fmt.Errorf("bytecode: unsupported format version %d (max %d)", env.Version, FormatVersion)
	}
	id, err := uuid.FromBytes(env.ID)
	if err != nil {
		return nil, fmt.Errorf("bytecode: program id: %w", err)
	}

	d := &decoder{c: c}
	p := &Program{ID: id, Version: env.Version, pins: d}
	if p.Main, err = d.code(env.Main); err != nil {
		d.unpin()
		return nil, fmt.Errorf("bytecode: main: %w", err)
	}
	for i, raw := range env.Functions {
		fn, err := d.code(raw)
		if err != nil {
			d.unpin()
			return nil, fmt.Errorf("bytecode: function %d: %w", i, err)
		}
		p.Functions = append(p.Functions, fn)
	}

	log.Debugf("decoded program %s: %d main instructions, %d functions", p.ID, len(p.Main), len(p.Functions))
	return p, nil
}

// ReadFile loads and decodes a program file.
func ReadFile(path string, c *vm.Collector) (*Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("bytecode: %w", err)
	}
	return Decode(data, c)
}

// WriteFile encodes p and writes it to path.
func WriteFile(path string, p *Program, c *vm.Collector) error {
	data, err := Encode(p, c)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("bytecode: %w", err)
	}
	return nil
}

// Install loads the program's function table into m and releases the pins
// Decode took. From here the VM roots function constants through its
// function table and main's constants once Interpret or RunCompiled
// starts, so install immediately before running.
func (p *Program) Install(m *vm.VM) {
	m.SetFunctions(p.Functions)
	if p.pins != nil {
		p.pins.unpin()
	}
}

// Pinned returns the number of heap constants still held for Install.
func (p *Program) Pinned() int {
	if p.pins == nil {
		return 0
	}
	return len(p.pins.pinned)
}
