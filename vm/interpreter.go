package vm

// ---------------------------------------------------------------------------
// Instruction semantics
// ---------------------------------------------------------------------------
//
// Every opcode that does not transfer control has exactly one handler. The
// interpreter dispatches to it directly and compiled code reaches the same
// handler through its trampoline, so both paths agree on every result.

type handler func(m *VM, in *Instruction) *Error

var handlers [256]handler

func init() {
	handlers[OpLoad] = (*VM).execLoad
	handlers[OpMove] = (*VM).execMove
	handlers[OpCompToReg] = (*VM).execCompToReg
	handlers[OpOpToReg] = (*VM).execOpToReg
	handlers[OpDrop] = (*VM).execDrop
	for _, op := range []Opcode{OpAdd, OpSub, OpMult, OpDiv, OpAnd, OpOr, OpXor} {
		handlers[op] = (*VM).execBinary
	}
	handlers[OpNot] = (*VM).execNot
	for _, op := range []Opcode{OpEq, OpNotEq, OpGreaterThan, OpLessThan} {
		handlers[op] = (*VM).execCompare
	}
	handlers[OpPrint] = (*VM).execPrint
	handlers[OpCollect] = (*VM).execCollect
	handlers[OpJumpPoint] = (*VM).execNoOp
	handlers[OpNoOp] = (*VM).execNoOp
	handlers[OpIllegal] = (*VM).execIllegal
}

func (m *VM) execLoad(in *Instruction) *Error {
	dst, err := m.slot(in.A)
	if err != nil {
		return err
	}
	// boxed constants are copied so dropping the register leaves the
	// instruction intact
	return m.overwrite(dst, in.Value)
}

func (m *VM) execMove(in *Instruction) *Error {
	src, err := m.slot(in.A)
	if err != nil {
		return err
	}
	dst, err := m.slot(in.B)
	if err != nil {
		return err
	}
	if src == dst {
		return nil
	}
	return m.overwrite(dst, *src)
}

// overwrite stores a copy of v in dst. The value being replaced is no
// longer a root while the copy is allocated, so a collection under
// pressure can reclaim it; dst keeps it if the copy fails.
func (m *VM) overwrite(dst *Value, v Value) *Error {
	old := *dst
	*dst = Value{}
	c, err := v.clone(m.collector)
	if err != nil {
		*dst = old
		return asError(err)
	}
	*dst = c
	return nil
}

func (m *VM) execCompToReg(in *Instruction) *Error {
	dst, err := m.slot(in.A)
	if err != nil {
		return err
	}
	*dst = Bool(m.prevComp)
	return nil
}

func (m *VM) execOpToReg(in *Instruction) *Error {
	dst, err := m.slot(in.A)
	if err != nil {
		return err
	}
	if m.prevOp.IsNone() {
		return newError(KindNullValue, "no pending operation result to store in %s", in.A)
	}
	*dst = m.prevOp
	m.prevOp = Value{}
	return nil
}

func (m *VM) execDrop(in *Instruction) *Error {
	slot, err := m.slot(in.A)
	if err != nil {
		return err
	}
	return asError(slot.Drop(m.collector))
}

func (m *VM) operands(in *Instruction) (Value, Value, *Error) {
	left, err := m.slot(in.A)
	if err != nil {
		return Value{}, Value{}, err
	}
	right, err := m.slot(in.B)
	if err != nil {
		return Value{}, Value{}, err
	}
	return *left, *right, nil
}

func (m *VM) execBinary(in *Instruction) *Error {
	left, right, err := m.operands(in)
	if err != nil {
		return err
	}
	var (
		result Value
		oerr   error
	)
	c := m.collector
	switch in.Op {
	case OpAdd:
		result, oerr = left.AddUpflowing(right, c)
	case OpSub:
		result, oerr = left.SubUpflowing(right, c)
	case OpMult:
		result, oerr = left.MultUpflowing(right, c)
	case OpDiv:
		result, oerr = left.DivUpflowing(right, c)
	case OpAnd:
		result, oerr = left.BitAnd(right, c)
	case OpOr:
		result, oerr = left.BitOr(right, c)
	case OpXor:
		result, oerr = left.BitXor(right, c)
	}
	if oerr != nil {
		return asError(oerr)
	}
	m.prevOp = result
	return nil
}

func (m *VM) execNot(in *Instruction) *Error {
	src, err := m.slot(in.A)
	if err != nil {
		return err
	}
	result, oerr := src.BitNot(m.collector)
	if oerr != nil {
		return asError(oerr)
	}
	m.prevOp = result
	return nil
}

func (m *VM) execCompare(in *Instruction) *Error {
	left, right, err := m.operands(in)
	if err != nil {
		return err
	}
	c := m.collector
	switch in.Op {
	case OpEq, OpNotEq:
		eq, cerr := left.IsEqual(right, c)
		if cerr != nil {
			return asError(cerr)
		}
		m.prevComp = eq == (in.Op == OpEq)
	case OpGreaterThan, OpLessThan:
		order, ok, cerr := left.Compare(right, c)
		if cerr != nil {
			return asError(cerr)
		}
		if in.Op == OpGreaterThan {
			m.prevComp = ok && order > 0
		} else {
			m.prevComp = ok && order < 0
		}
	}
	return nil
}

func (m *VM) execPrint(in *Instruction) *Error {
	src, err := m.slot(in.A)
	if err != nil {
		return err
	}
	if src.IsNone() {
		return newError(KindNullValue, "cannot print %s: it holds no value", in.A)
	}
	s, serr := src.ToString(m.collector)
	if serr != nil {
		return asError(serr)
	}
	if _, werr := m.out.WriteString(s); werr != nil {
		return newError(KindUnsupportedOperation, "write output: %v", werr)
	}
	return nil
}

func (m *VM) execCollect(in *Instruction) *Error {
	m.collector.Collect(m.roots())
	return nil
}

func (m *VM) execNoOp(in *Instruction) *Error {
	return nil
}

func (m *VM) execIllegal(in *Instruction) *Error {
	return newError(KindInvalidInstruction, "illegal instruction at %s:%d", m.where(), m.ip)
}

// ---------------------------------------------------------------------------
// Interpreter loop
// ---------------------------------------------------------------------------

// Interpret runs code on m from its first instruction until it halts, falls
// off the end, fails, or yields. A yielded VM continues with Resume.
func Interpret(code []Instruction, m *VM) error {
	m.reset(code)
	vmLog.Debugf("vm %s interpreting %d instructions", m.ID, len(code))
	return m.finish(m.loop(0))
}

// Resume continues a VM suspended by Yield, in whichever mode it yielded.
func (m *VM) Resume() error {
	if !m.yielded {
		return newError(KindUnsupportedOperation, "vm %s is not suspended", m.ID)
	}
	m.yielded = false
	return m.finish(m.resume())
}

// resume continues the innermost suspended activation, compiled or
// interpreted, then each compiled caller waiting on it in turn, until the
// program ends, fails or yields again.
func (m *VM) resume() *Error {
	for {
		k := m.compiledCaller()
		var cont *continuation
		if k >= 0 {
			cont = m.frames[k].cont
		}
		var err *Error
		if f := m.suspended; f != nil {
			m.suspended = nil
			err = f.activate(m, m.resumeStep, m.resumeDepth)
		} else {
			err = m.loop(k + 1)
		}
		if err != nil || m.yielded || m.finished || cont == nil {
			return err
		}
		// the callee returned into its compiled caller
		m.suspended, m.resumeStep, m.resumeDepth = cont.fn, cont.step, cont.depth
	}
}

// finish flushes output and turns a nil *Error into a nil error.
func (m *VM) finish(err *Error) error {
	ferr := m.Flush()
	if err != nil {
		vmLog.Debugf("vm %s failed at %s:%d: %s", m.ID, m.where(), m.ip, err)
		return err
	}
	return ferr
}

// loop executes until the program finishes or yields, or until a Return
// pops the frame stack below base.
func (m *VM) loop(base int) *Error {
	for !m.finished && !m.yielded {
		if m.ip >= len(m.code) {
			// falling off the end returns to the caller
			m.popFrame()
			if len(m.frames) < base {
				return nil
			}
			continue
		}

		in := &m.code[m.ip]
		if m.Options.Trace {
			vmLog.Debugf("%s:%04d %s", m.where(), m.ip, in)
		}

		switch in.Op {
		case OpJump:
			if err := m.jump(in.Offset); err != nil {
				return err
			}
		case OpJumpComp:
			if m.prevComp {
				if err := m.jump(in.Offset); err != nil {
					return err
				}
			} else {
				m.ip++
			}
		case OpFunc:
			if err := m.enter(in.Index); err != nil {
				return err
			}
		case OpReturn:
			m.popFrame()
			if len(m.frames) < base {
				return nil
			}
		case OpYield:
			m.ip++
			m.yielded = true
		case OpHalt:
			m.finished = true
		default:
			h := handlers[in.Op]
			if h == nil {
				return newError(KindInvalidInstruction, "unknown opcode 0x%02X at %s:%d", byte(in.Op), m.where(), m.ip)
			}
			if err := h(m, in); err != nil {
				return err
			}
			m.ip++
		}
	}
	return nil
}

// jump moves ip relative to the current instruction. Landing one past the
// last instruction is allowed and falls off the end.
func (m *VM) jump(offset int32) *Error {
	target := int64(m.ip) + int64(offset)
	if target < 0 || target > int64(len(m.code)) {
		return newError(KindInvalidInstruction,
			"jump from %s:%d by %+d lands outside %d instructions", m.where(), m.ip, offset, len(m.code))
	}
	m.ip = int(target)
	return nil
}

// enter saves the caller and starts function index at its first
// instruction.
func (m *VM) enter(index uint32) *Error {
	code, err := m.function(index)
	if err != nil {
		return err
	}
	if err := m.pushFrame(m.ip + 1); err != nil {
		return err
	}
	m.profiler.RecordInvocation(int(index))
	m.code, m.current, m.ip = code, int(index), 0
	return nil
}
