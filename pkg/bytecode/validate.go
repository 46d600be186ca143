package bytecode

import (
	"errors"
	"fmt"

	"github.com/chazu/crunch/vm"
)

// Problem is one defect found by Validate.
type Problem struct {
	Function int // -1 for main
	Index    int
	Message  string
}

func (p Problem) Error() string {
	where := "main"
	if p.Function >= 0 {
		where = fmt.Sprintf("fn%d", p.Function)
	}
	return fmt.Sprintf("%s:%04d: %s", where, p.Index, p.Message)
}

// Validate reports every structural defect in p: unknown opcodes, jumps
// that leave their function, calls to undefined functions, Illegal
// instructions and registers outside a file of the given size. The
// returned error joins one Problem per defect.
func Validate(p *Program, registers int) error {
	if registers <= 0 || registers > vm.NumRegisters {
		registers = vm.NumRegisters
	}
	var problems []error
	check := func(fn int, code []vm.Instruction) {
		for i, in := range code {
			for _, msg := range checkInstruction(in, i, len(code), len(p.Functions), registers) {
				problems = append(problems, Problem{Function: fn, Index: i, Message: msg})
			}
		}
	}
	check(-1, p.Main)
	for i, fn := range p.Functions {
		check(i, fn)
	}
	return errors.Join(problems...)
}

func checkInstruction(in vm.Instruction, at, size, functions, registers int) []string {
	info, ok := vm.GetOpcodeInfo(in.Op)
	if !ok {
		return []string{fmt.Sprintf("unknown opcode 0x%02X", byte(in.Op))}
	}

	var msgs []string
	reg := func(r vm.Register) {
		if int(r) >= registers {
			msgs = append(msgs, fmt.Sprintf("%s uses %s outside %d registers", info.Name, r, registers))
		}
	}
	switch info.Operands {
	case vm.OperandsValueReg, vm.OperandsReg:
		reg(in.A)
	case vm.OperandsRegReg:
		reg(in.A)
		reg(in.B)
	}

	switch in.Op {
	case vm.OpJump, vm.OpJumpComp:
		target := at + int(in.Offset)
		if target < 0 || target > size {
			msgs = append(msgs, fmt.Sprintf("%s %+d lands outside %d instructions", info.Name, in.Offset, size))
		}
	case vm.OpFunc:
		if int64(in.Index) >= int64(functions) {
			msgs = append(msgs, fmt.Sprintf("call to function %d, only %d defined", in.Index, functions))
		}
	case vm.OpIllegal:
		msgs = append(msgs, "illegal instruction")
	}
	return msgs
}

// CheckCompiles reports, per function, whether the JIT can compile it.
// The interpreter runs code the JIT rejects, so these are not defects.
func CheckCompiles(p *Program) map[int]error {
	failures := make(map[int]error)
	if _, err := vm.Compile(p.Main); err != nil {
		failures[-1] = err
	}
	for i, fn := range p.Functions {
		if _, err := vm.Compile(fn); err != nil {
			failures[i] = err
		}
	}
	return failures
}
