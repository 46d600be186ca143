package vm

// ---------------------------------------------------------------------------
// Trampolines: the calls compiled code makes back into the runtime
// ---------------------------------------------------------------------------
//
// A trampoline gets the VM and the instruction it was compiled from, which
// carries every operand explicitly. It never reaches into the VM by
// offset, and it reports failure by returning an owned *Error.

type trampoline func(m *VM, in *Instruction) *Error

var trampolines [256]trampoline

func init() {
	trampolines[OpLoad] = trampolineLoad
	trampolines[OpMove] = trampolineMove
	trampolines[OpCompToReg] = trampolineCompToReg
	trampolines[OpOpToReg] = trampolineOpToReg
	trampolines[OpDrop] = trampolineDrop
	trampolines[OpAdd] = trampolineBinary
	trampolines[OpSub] = trampolineBinary
	trampolines[OpMult] = trampolineBinary
	trampolines[OpDiv] = trampolineBinary
	trampolines[OpAnd] = trampolineBinary
	trampolines[OpOr] = trampolineBinary
	trampolines[OpXor] = trampolineBinary
	trampolines[OpNot] = trampolineNot
	trampolines[OpEq] = trampolineCompare
	trampolines[OpNotEq] = trampolineCompare
	trampolines[OpGreaterThan] = trampolineCompare
	trampolines[OpLessThan] = trampolineCompare
	trampolines[OpPrint] = trampolinePrint
	trampolines[OpFunc] = trampolineFunc
	trampolines[OpReturn] = trampolineReturn
	trampolines[OpYield] = trampolineYield
	trampolines[OpCollect] = trampolineCollect
	trampolines[OpHalt] = trampolineHalt
	trampolines[OpIllegal] = trampolineIllegal
}

// trampolineFor returns the call target for op. Opcodes without one fail
// when reached, as they do in the interpreter.
func trampolineFor(op Opcode) trampoline {
	if t := trampolines[op]; t != nil {
		return t
	}
	return trampolineUnknown
}

func trampolineLoad(m *VM, in *Instruction) *Error      { return m.execLoad(in) }
func trampolineMove(m *VM, in *Instruction) *Error      { return m.execMove(in) }
func trampolineCompToReg(m *VM, in *Instruction) *Error { return m.execCompToReg(in) }
func trampolineOpToReg(m *VM, in *Instruction) *Error   { return m.execOpToReg(in) }
func trampolineDrop(m *VM, in *Instruction) *Error      { return m.execDrop(in) }
func trampolineBinary(m *VM, in *Instruction) *Error    { return m.execBinary(in) }
func trampolineNot(m *VM, in *Instruction) *Error       { return m.execNot(in) }
func trampolineCompare(m *VM, in *Instruction) *Error   { return m.execCompare(in) }
func trampolinePrint(m *VM, in *Instruction) *Error     { return m.execPrint(in) }
func trampolineCollect(m *VM, in *Instruction) *Error   { return m.execCollect(in) }
func trampolineIllegal(m *VM, in *Instruction) *Error   { return m.execIllegal(in) }

func trampolineUnknown(m *VM, in *Instruction) *Error {
	return newError(KindInvalidInstruction, "unknown opcode 0x%02X at %s:%d", byte(in.Op), m.where(), m.ip)
}

func trampolineHalt(m *VM, in *Instruction) *Error {
	m.finished = true
	return nil
}

// trampolineReturn pops the caller saved by trampolineFunc, or finishes the
// program when there is none.
func trampolineReturn(m *VM, in *Instruction) *Error {
	m.popFrame()
	m.returning = true
	return nil
}

// trampolineYield suspends the VM with ip at the next instruction, as the
// interpreter leaves it.
func trampolineYield(m *VM, in *Instruction) *Error {
	m.ip++
	m.yielded = true
	return nil
}

// trampolineFunc runs the callee before the compiled caller continues. The
// callee runs compiled when Options.JIT is set and it compiles, and
// interpreted otherwise. A callee that yields returns with its frames still
// saved, and the caller's exec records its own continuation.
func trampolineFunc(m *VM, in *Instruction) *Error {
	index := in.Index
	code, err := m.function(index)
	if err != nil {
		return err
	}
	if err := m.pushFrame(m.ip + 1); err != nil {
		return err
	}
	m.profiler.RecordInvocation(int(index))
	base := len(m.frames)
	m.code, m.current, m.ip = code, int(index), 0

	if f := m.compiledCallee(index, code); f != nil {
		return f.activate(m, 0, base)
	}
	return m.loop(base)
}
