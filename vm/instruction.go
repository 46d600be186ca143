package vm

import (
	"fmt"
	"strings"
)

// Register indexes the VM register file.
type Register uint8

// NumRegisters is the size of a full register file.
const NumRegisters = 256

func (r Register) String() string {
	return fmt.Sprintf("r%d", uint8(r))
}

// Opcode identifies an instruction. The interpreter and the JIT consume the
// same set.
type Opcode byte

const (
	// Registers (0x00-0x0F)
	OpLoad      Opcode = 0x00 // Load <value> <reg>
	OpMove      Opcode = 0x01 // Move <src> <dst>
	OpCompToReg Opcode = 0x02 // CompToReg <reg>: store the cached comparison
	OpOpToReg   Opcode = 0x03 // OpToReg <reg>: store the cached arithmetic result
	OpDrop      Opcode = 0x04 // Drop <reg>

	// Arithmetic (0x10-0x1F), result cached until OpToReg
	OpAdd  Opcode = 0x10
	OpSub  Opcode = 0x11
	OpMult Opcode = 0x12
	OpDiv  Opcode = 0x13

	// Bitwise (0x20-0x2F), result cached until OpToReg
	OpAnd Opcode = 0x20
	OpOr  Opcode = 0x21
	OpXor Opcode = 0x22
	OpNot Opcode = 0x23

	// Comparison (0x30-0x3F), result cached in the comparison flag
	OpEq          Opcode = 0x30
	OpNotEq       Opcode = 0x31
	OpGreaterThan Opcode = 0x32
	OpLessThan    Opcode = 0x33

	// Output (0x40)
	OpPrint Opcode = 0x40

	// Control flow (0x50-0x5F)
	OpJump      Opcode = 0x50 // Jump <offset:i32>
	OpJumpComp  Opcode = 0x51 // JumpComp <offset:i32>: jump when the comparison flag is set
	OpJumpPoint Opcode = 0x52 // JumpPoint <id>: jump target marker
	OpFunc      Opcode = 0x53 // Func <index>
	OpReturn    Opcode = 0x54
	OpYield     Opcode = 0x55

	// VM control (0xF0-0xFF)
	OpCollect Opcode = 0xF0
	OpHalt    Opcode = 0xF1
	OpNoOp    Opcode = 0xF2
	OpIllegal Opcode = 0xFF
)

// Operands describes which Instruction fields an opcode uses.
type Operands uint8

const (
	OperandsNone     Operands = iota
	OperandsValueReg          // Value, A
	OperandsReg               // A
	OperandsRegReg            // A, B
	OperandsOffset            // Offset
	OperandsIndex             // Index
)

// OpcodeInfo provides metadata about each opcode for listing and decoding.
type OpcodeInfo struct {
	Name     string
	Operands Operands
}

var opcodeInfoTable = map[Opcode]OpcodeInfo{
	OpLoad:      {"LOAD", OperandsValueReg},
	OpMove:      {"MOVE", OperandsRegReg},
	OpCompToReg: {"COMP_TO_REG", OperandsReg},
	OpOpToReg:   {"OP_TO_REG", OperandsReg},
	OpDrop:      {"DROP", OperandsReg},

	OpAdd:  {"ADD", OperandsRegReg},
	OpSub:  {"SUB", OperandsRegReg},
	OpMult: {"MULT", OperandsRegReg},
	OpDiv:  {"DIV", OperandsRegReg},

	OpAnd: {"AND", OperandsRegReg},
	OpOr:  {"OR", OperandsRegReg},
	OpXor: {"XOR", OperandsRegReg},
	OpNot: {"NOT", OperandsReg},

	OpEq:          {"EQ", OperandsRegReg},
	OpNotEq:       {"NOT_EQ", OperandsRegReg},
	OpGreaterThan: {"GREATER_THAN", OperandsRegReg},
	OpLessThan:    {"LESS_THAN", OperandsRegReg},

	OpPrint: {"PRINT", OperandsReg},

	OpJump:      {"JUMP", OperandsOffset},
	OpJumpComp:  {"JUMP_COMP", OperandsOffset},
	OpJumpPoint: {"JUMP_POINT", OperandsIndex},
	OpFunc:      {"FUNC", OperandsIndex},
	OpReturn:    {"RETURN", OperandsNone},
	OpYield:     {"YIELD", OperandsNone},

	OpCollect: {"COLLECT", OperandsNone},
	OpHalt:    {"HALT", OperandsNone},
	OpNoOp:    {"NOOP", OperandsNone},
	OpIllegal: {"ILLEGAL", OperandsNone},
}

// GetOpcodeInfo returns metadata for an opcode and whether it is known.
func GetOpcodeInfo(op Opcode) (OpcodeInfo, bool) {
	info, ok := opcodeInfoTable[op]
	return info, ok
}

func (op Opcode) String() string {
	if info, ok := opcodeInfoTable[op]; ok {
		return info.Name
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))
}

// Instruction is one decoded, immutable instruction.
type Instruction struct {
	Op     Opcode
	Value  Value    // constant for OpLoad
	A      Register // destination, source or left operand
	B      Register // second register operand
	Offset int32    // relative jump offset
	Index  uint32   // jump point id or function index
}

// IsJump reports whether the instruction transfers control by offset.
func (i Instruction) IsJump() bool {
	return i.Op == OpJump || i.Op == OpJumpComp
}

func (i Instruction) String() string {
	info, ok := opcodeInfoTable[i.Op]
	if !ok {
		return i.Op.String()
	}
	var sb strings.Builder
	sb.WriteString(info.Name)
	switch info.Operands {
	case OperandsValueReg:
		fmt.Fprintf(&sb, " %s, %s", i.Value, i.A)
	case OperandsReg:
		fmt.Fprintf(&sb, " %s", i.A)
	case OperandsRegReg:
		fmt.Fprintf(&sb, " %s, %s", i.A, i.B)
	case OperandsOffset:
		fmt.Fprintf(&sb, " %+d", i.Offset)
	case OperandsIndex:
		fmt.Fprintf(&sb, " %d", i.Index)
	}
	return sb.String()
}

// ---------------------------------------------------------------------------
// Instruction constructors
// ---------------------------------------------------------------------------

func Load(v Value, reg Register) Instruction {
	return Instruction{Op: OpLoad, Value: v, A: reg}
}

// Move copies src into dst. The source keeps its value.
func Move(src, dst Register) Instruction {
	return Instruction{Op: OpMove, A: src, B: dst}
}

func CompToReg(reg Register) Instruction { return Instruction{Op: OpCompToReg, A: reg} }
func OpToReg(reg Register) Instruction   { return Instruction{Op: OpOpToReg, A: reg} }
func Drop(reg Register) Instruction      { return Instruction{Op: OpDrop, A: reg} }

func Add(left, right Register) Instruction  { return Instruction{Op: OpAdd, A: left, B: right} }
func Sub(left, right Register) Instruction  { return Instruction{Op: OpSub, A: left, B: right} }
func Mult(left, right Register) Instruction { return Instruction{Op: OpMult, A: left, B: right} }
func Div(left, right Register) Instruction  { return Instruction{Op: OpDiv, A: left, B: right} }

func And(left, right Register) Instruction { return Instruction{Op: OpAnd, A: left, B: right} }
func Or(left, right Register) Instruction  { return Instruction{Op: OpOr, A: left, B: right} }
func Xor(left, right Register) Instruction { return Instruction{Op: OpXor, A: left, B: right} }
func Not(reg Register) Instruction         { return Instruction{Op: OpNot, A: reg} }

func Eq(left, right Register) Instruction    { return Instruction{Op: OpEq, A: left, B: right} }
func NotEq(left, right Register) Instruction { return Instruction{Op: OpNotEq, A: left, B: right} }
func GreaterThan(left, right Register) Instruction {
	return Instruction{Op: OpGreaterThan, A: left, B: right}
}
func LessThan(left, right Register) Instruction {
	return Instruction{Op: OpLessThan, A: left, B: right}
}

func Print(reg Register) Instruction { return Instruction{Op: OpPrint, A: reg} }

// Jump moves the instruction pointer by offset, relative to the jump itself.
func Jump(offset int32) Instruction { return Instruction{Op: OpJump, Offset: offset} }

// JumpComp jumps like Jump when the last comparison was true.
func JumpComp(offset int32) Instruction { return Instruction{Op: OpJumpComp, Offset: offset} }

func JumpPoint(id uint32) Instruction { return Instruction{Op: OpJumpPoint, Index: id} }
func Func(index uint32) Instruction   { return Instruction{Op: OpFunc, Index: index} }

func Return() Instruction  { return Instruction{Op: OpReturn} }
func Yield() Instruction   { return Instruction{Op: OpYield} }
func Collect() Instruction { return Instruction{Op: OpCollect} }
func Halt() Instruction    { return Instruction{Op: OpHalt} }
func NoOp() Instruction    { return Instruction{Op: OpNoOp} }
func Illegal() Instruction { return Instruction{Op: OpIllegal} }
