package bytecode

import (
	"fmt"
	"strings"

	"github.com/chazu/crunch/vm"
)

// Disassemble returns a human-readable listing of the program.
func (p *Program) Disassemble() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("; crunch program %s\n", p.ID))
	sb.WriteString(fmt.Sprintf("; format v%d, %d functions\n", p.Version, len(p.Functions)))

	sb.WriteString("\n")
	DisassembleCode(&sb, "main", p.Main)
	for i, fn := range p.Functions {
		sb.WriteString("\n")
		DisassembleCode(&sb, fmt.Sprintf("fn%d", i), fn)
	}
	return sb.String()
}

// DisassembleCode writes a listing of one instruction vector under a name
// header. Jumps are annotated with their absolute target.
func DisassembleCode(sb *strings.Builder, name string, code []vm.Instruction) {
	sb.WriteString(fmt.Sprintf("; === %s (%d instructions) ===\n", name, len(code)))
	for i, in := range code {
		line := in.String()
		if in.IsJump() {
			sb.WriteString(fmt.Sprintf("%04d  %-30s ; -> %04d\n", i, line, i+int(in.Offset)))
			continue
		}
		sb.WriteString(fmt.Sprintf("%04d  %s\n", i, line))
	}
}
