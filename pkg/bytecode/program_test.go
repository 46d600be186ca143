package bytecode

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/crunch/vm"
)

func sampleProgram() *Program {
	return NewProgram(
		[]vm.Instruction{
			vm.Load(vm.I32(3), 0), vm.Load(vm.I32(1), 1), vm.Load(vm.I32(0), 2),
			vm.JumpPoint(0),
			vm.Print(0), vm.Sub(0, 1), vm.OpToReg(0),
			vm.GreaterThan(0, 2), vm.JumpComp(-5),
			vm.Func(0),
		},
		[]vm.Instruction{vm.Load(vm.Str(" liftoff"), 7), vm.Print(7), vm.Return()},
	)
}

func TestInstructionRoundTrip(t *testing.T) {
	code := []vm.Instruction{
		vm.Load(vm.U128(1, 2), 9), vm.Load(vm.Null(), 0), vm.Move(1, 2),
		vm.CompToReg(3), vm.OpToReg(4), vm.Drop(5),
		vm.Add(1, 2), vm.Div(3, 4), vm.Not(6), vm.LessThan(7, 8),
		vm.Print(255), vm.Jump(-12), vm.JumpComp(40), vm.JumpPoint(3),
		vm.Func(1 << 20), vm.Return(), vm.Yield(), vm.Collect(),
		vm.Halt(), vm.NoOp(), vm.Illegal(),
	}
	for _, in := range code {
		b, err := EncodeInstruction(in, nil)
		if err != nil {
			t.Fatalf("EncodeInstruction(%s): %v", in, err)
		}
		got, err := DecodeInstruction(b, nil)
		if err != nil {
			t.Fatalf("DecodeInstruction(%s): %v", in, err)
		}
		if got.String() != in.String() || got.Op != in.Op || got.A != in.A || got.B != in.B ||
			got.Offset != in.Offset || got.Index != in.Index {
			t.Errorf("round trip of %s gave %s", in, got)
		}
	}
}

func TestDecodeInstructionErrors(t *testing.T) {
	bad := [][]byte{
		{},
		{0x77},                        // unknown opcode
		{byte(vm.OpMove), 1},          // missing register
		{byte(vm.OpPrint), 1, 2},      // extra byte
		{byte(vm.OpJump), 1, 2, 3},    // short offset
		{byte(vm.OpLoad), 0},          // no constant
		{byte(vm.OpLoad), 0, 0x04, 1}, // truncated constant
	}
	for _, b := range bad {
		if _, err := DecodeInstruction(b, nil); err == nil {
			t.Errorf("DecodeInstruction(% x) succeeded", b)
		}
	}
}

func TestProgramRoundTrip(t *testing.T) {
	p := sampleProgram()
	data, err := Encode(p, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	c := vm.NewCollector(0)
	got, err := Decode(data, c)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.ID != p.ID || got.Version != FormatVersion {
		t.Errorf("header = %s v%d, want %s v%d", got.ID, got.Version, p.ID, FormatVersion)
	}
	if len(got.Main) != len(p.Main) || len(got.Functions) != 1 {
		t.Fatalf("decoded %d main instructions and %d functions", len(got.Main), len(got.Functions))
	}
	// decoded strings live on the heap
	if c.Live() != 1 {
		t.Errorf("live heap strings = %d, want 1", c.Live())
	}

	// canonical encoding is deterministic
	again, err := Encode(got, c)
	if err != nil {
		t.Fatalf("re-Encode: %v", err)
	}
	if !bytes.Equal(again, data) {
		t.Error("re-encoding a decoded program changed its bytes")
	}
}

func TestDecodedProgramRuns(t *testing.T) {
	data, err := Encode(sampleProgram(), nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var out bytes.Buffer
	m := vm.New(vm.DefaultOptions(), &out)
	p, err := Decode(data, m.Collector())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	p.Install(m)
	if err := vm.Interpret(p.Main, m); err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if out.String() != "321 liftoff" {
		t.Errorf("output = %q", out.String())
	}
}

func TestDecodeKeepsConstantsUnderHeapPressure(t *testing.T) {
	p := NewProgram(
		[]vm.Instruction{vm.Load(vm.Str("a"), 0), vm.Print(0), vm.Load(vm.Str("b"), 0), vm.Print(0), vm.Func(0)},
		[]vm.Instruction{vm.Load(vm.Str("c"), 0), vm.Print(0)},
	)
	data, err := Encode(p, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	var out bytes.Buffer
	m := vm.New(vm.NewOptionBuilder("").HeapLimit(4).Build(), &out)
	// unreachable payloads fill the heap so decoding has to collect
	for _, junk := range []string{"x", "y"} {
		if _, err := vm.Alloc(m.Collector(), junk); err != nil {
			t.Fatalf("Alloc: %v", err)
		}
	}

	got, err := Decode(data, m.Collector())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.Collector().Stats().Collections == 0 {
		t.Fatal("decoding did not collect")
	}
	if got.Pinned() != 3 || m.Collector().Pinned() != 3 {
		t.Errorf("pinned = %d in program, %d in heap, want 3", got.Pinned(), m.Collector().Pinned())
	}

	got.Install(m)
	if got.Pinned() != 0 || m.Collector().Pinned() != 0 {
		t.Errorf("pins left after Install: %d in program, %d in heap", got.Pinned(), m.Collector().Pinned())
	}
	if err := vm.Interpret(got.Main, m); err != nil {
		t.Fatalf("Interpret: %v", err)
	}
	if out.String() != "abc" {
		t.Errorf("output = %q, want %q", out.String(), "abc")
	}
}

func TestDecodeFailsWhenConstantsExceedHeap(t *testing.T) {
	p := NewProgram([]vm.Instruction{
		vm.Load(vm.Str("a"), 0), vm.Load(vm.Str("b"), 1), vm.Load(vm.Str("c"), 2),
	})
	data, err := Encode(p, nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	c := vm.NewCollector(2)
	if _, err := Decode(data, c); vm.KindOf(err) != vm.KindAllocation {
		t.Fatalf("err = %v, want an allocation error", err)
	}
	if c.Pinned() != 0 {
		t.Errorf("a failed decode left %d pins", c.Pinned())
	}
}

func TestDecodeRejectsBadEnvelope(t *testing.T) {
	good, err := Encode(sampleProgram(), nil)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"not cbor", []byte{0xFF, 0x00}, "unmarshal"},
		{"wrong magic", mustEncode(t, envelope{Magic: []byte("NOPE"), Version: 1, ID: make([]byte, 16)}), "magic"},
		{"future version", mustEncode(t, envelope{Magic: Magic, Version: FormatVersion + 1, ID: make([]byte, 16)}), "version"},
		{"short id", mustEncode(t, envelope{Magic: Magic, Version: 1, ID: []byte{1}}), "id"},
		{"bad instruction", mustEncode(t, envelope{Magic: Magic, Version: 1, ID: make([]byte, 16), Main: [][]byte{{0x77}}}), "opcode"},
		{"truncated", good[:len(good)/2], "unmarshal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want mention of %q", err, tt.want)
			}
		})
	}
}

func mustEncode(t *testing.T, env envelope) []byte {
	t.Helper()
	data, err := cborEncMode.Marshal(&env)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return data
}

func TestEncodeRejectsBoxedIntegers(t *testing.T) {
	c := vm.NewCollector(0)
	boxed, err := vm.U128(^uint64(0), ^uint64(0)).AddUpflowing(vm.U128(0, 1), c)
	if err != nil {
		t.Fatalf("AddUpflowing: %v", err)
	}
	p := NewProgram([]vm.Instruction{vm.Load(boxed, 0)})
	if _, err := Encode(p, c); vm.KindOf(err) != vm.KindUnsupportedOperation {
		t.Errorf("err = %v, want unsupported operation", err)
	}
}

func TestReadWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "countdown"+Extension)
	p := sampleProgram()
	if err := WriteFile(path, p, nil); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	got, err := ReadFile(path, nil)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if got.ID != p.ID {
		t.Errorf("ID = %s, want %s", got.ID, p.ID)
	}

	if _, err := ReadFile(filepath.Join(t.TempDir(), "missing"+Extension), nil); err == nil {
		t.Error("ReadFile on a missing file succeeded")
	}
}
