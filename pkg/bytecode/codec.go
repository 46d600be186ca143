package bytecode

import (
	"encoding/binary"
	"fmt"

	"github.com/chazu/crunch/vm"
)

// EncodeInstruction returns the byte form of one instruction.
func EncodeInstruction(in vm.Instruction, c *vm.Collector) ([]byte, error) {
	info, ok := vm.GetOpcodeInfo(in.Op)
	if !ok {
		return nil, fmt.Errorf("bytecode: cannot encode unknown opcode 0x%02X", byte(in.Op))
	}

	buf := []byte{byte(in.Op)}
	switch info.Operands {
	case vm.OperandsValueReg:
		val, err := vm.EncodeValue(in.Value, c)
		if err != nil {
			return nil, fmt.Errorf("bytecode: encode %s constant: %w", info.Name, err)
		}
		buf = append(buf, byte(in.A))
		buf = append(buf, val...)
	case vm.OperandsReg:
		buf = append(buf, byte(in.A))
	case vm.OperandsRegReg:
		buf = append(buf, byte(in.A), byte(in.B))
	case vm.OperandsOffset:
		buf = binary.LittleEndian.AppendUint32(buf, uint32(in.Offset))
	case vm.OperandsIndex:
		buf = binary.LittleEndian.AppendUint32(buf, in.Index)
	}
	return buf, nil
}

// operandLen is the exact operand size for fixed shapes.
var operandLen = map[vm.Operands]int{
	vm.OperandsNone:   0,
	vm.OperandsReg:    1,
	vm.OperandsRegReg: 2,
	vm.OperandsOffset: 4,
	vm.OperandsIndex:  4,
}

// DecodeInstruction parses one instruction occupying all of b. String
// constants are allocated in c; a nil c decodes them as borrowed strings.
func DecodeInstruction(b []byte, c *vm.Collector) (vm.Instruction, error) {
	if len(b) == 0 {
		return vm.Instruction{}, fmt.Errorf("bytecode: empty instruction")
	}
	op := vm.Opcode(b[0])
	info, ok := vm.GetOpcodeInfo(op)
	if !ok {
		return vm.Instruction{}, fmt.Errorf("bytecode: unknown opcode 0x%02X", b[0])
	}
	operands := b[1:]

	in := vm.Instruction{Op: op}
	if info.Operands == vm.OperandsValueReg {
		if len(operands) < 2 {
			return vm.Instruction{}, fmt.Errorf("bytecode: %s needs a register and a value", info.Name)
		}
		val, err := vm.DecodeValue(operands[1:], c)
		if err != nil {
			return vm.Instruction{}, fmt.Errorf("bytecode: decode %s constant: %w", info.Name, err)
		}
		in.A = vm.Register(operands[0])
		in.Value = val
		return in, nil
	}

	if want := operandLen[info.Operands]; len(operands) != want {
		return vm.Instruction{}, fmt.Errorf("bytecode: %s expects %d operand bytes, got %d", info.Name, want, len(operands))
	}
	switch info.Operands {
	case vm.OperandsReg:
		in.A = vm.Register(operands[0])
	case vm.OperandsRegReg:
		in.A, in.B = vm.Register(operands[0]), vm.Register(operands[1])
	case vm.OperandsOffset:
		in.Offset = int32(binary.LittleEndian.Uint32(operands))
	case vm.OperandsIndex:
		in.Index = binary.LittleEndian.Uint32(operands)
	}
	return in, nil
}

func encodeCode(code []vm.Instruction, c *vm.Collector) ([][]byte, error) {
	out := make([][]byte, len(code))
	for i, in := range code {
		b, err := EncodeInstruction(in, c)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		out[i] = b
	}
	return out, nil
}

// decoder pins each heap constant as soon as it is allocated. Until the
// program is installed nothing else roots its constants, and a collection
// forced by a later allocation would otherwise reclaim them.
type decoder struct {
	c      *vm.Collector
	pinned []vm.Ref
}

func (d *decoder) code(raw [][]byte) ([]vm.Instruction, error) {
	code := make([]vm.Instruction, len(raw))
	for i, b := range raw {
		in, err := DecodeInstruction(b, d.c)
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		if r := in.Value.Ref(); d.c != nil && !r.IsZero() {
			d.c.Pin(r)
			d.pinned = append(d.pinned, r)
		}
		code[i] = in
	}
	return code, nil
}

// unpin drops every pin taken so far.
func (d *decoder) unpin() {
	for _, r := range d.pinned {
		d.c.Unpin(r)
	}
	d.pinned = nil
}
