package vm

import (
	"time"

	"github.com/tliron/commonlog"
)

var jitLog = commonlog.GetLogger("crunch.jit")

// ---------------------------------------------------------------------------
// JIT: threaded compilation of an instruction vector
// ---------------------------------------------------------------------------
//
// Compile lowers an instruction vector into a vector of steps. A step is
// either a direct call into the trampoline for one opcode, a branch to a
// resolved step index, or the trailing success return. Value, arithmetic
// and heap semantics live only in the trampolines; the compiled code does
// control flow and nothing else.
//
// Jump targets are resolved the way a single-pass assembler backpatches
// labels:
//
//	forward jump   register a pending label for origin+offset
//	jump point     bind every pending label aimed here, or else publish the
//	               position as a backward target
//	backward jump  consume the published target at origin+offset
//
// Any label still pending, or any backward target never consumed, fails
// compilation.

// NativeFunc is the entry point of compiled code. A nil status means
// success. A non-nil status is an error the callee hands over to its
// caller, which returns it exactly once.
type NativeFunc func(m *VM) *Error

type stepKind uint8

const (
	stepCall       stepKind = iota // call a trampoline, then check status
	stepBranch                     // unconditional branch
	stepBranchComp                 // branch when the comparison flag is set
	stepExit                       // default success return
)

// label is a branch target, bound to a step index once its jump point has
// been compiled.
type label struct {
	step  int
	bound bool
}

type step struct {
	kind   stepKind
	at     int // index of the source instruction
	in     *Instruction
	call   trampoline
	target *label
}

// frontJump is a forward jump awaiting its jump point.
type frontJump struct {
	origin int
	offset int
	label  *label
}

// CompiledFunction is the compiled form of one instruction vector.
type CompiledFunction struct {
	code    []Instruction
	steps   []step
	entry   NativeFunc
	elapsed time.Duration
}

// Compile translates code into a CompiledFunction. It fails with a
// compile error when a jump cannot be resolved.
func Compile(code []Instruction) (*CompiledFunction, error) {
	start := time.Now()
	jitLog.Infof("compiling %d instructions", len(code))

	f := &CompiledFunction{
		code:  code,
		steps: make([]step, 0, len(code)+1),
	}

	var front []frontJump
	back := make(map[int]*label)

	for counter := range code {
		in := &code[counter]
		switch in.Op {
		case OpJump, OpJumpComp:
			kind := stepBranch
			if in.Op == OpJumpComp {
				kind = stepBranchComp
			}
			var target *label
			if in.Offset < 0 {
				pos := counter + int(in.Offset)
				lbl, ok := back[pos]
				if !ok {
					return nil, newError(KindCompileError,
						"backward jump at %d to %d: no jump point there", counter, pos)
				}
				delete(back, pos)
				target = lbl
			} else {
				target = &label{}
				front = append(front, frontJump{origin: counter, offset: int(in.Offset), label: target})
			}
			f.steps = append(f.steps, step{kind: kind, at: counter, in: in, target: target})

		case OpJumpPoint:
			// a jump point compiles to nothing; its label is the next step
			here := len(f.steps)
			bound := false
			pending := front[:0]
			for _, j := range front {
				if j.origin+j.offset == counter {
					j.label.step, j.label.bound = here, true
					bound = true
					continue
				}
				pending = append(pending, j)
			}
			front = pending
			if !bound {
				back[counter] = &label{step: here, bound: true}
			}

		case OpNoOp:

		default:
			f.steps = append(f.steps, step{kind: stepCall, at: counter, in: in, call: trampolineFor(in.Op)})
		}
	}

	if len(front) > 0 || len(back) > 0 {
		jitLog.Errorf("leftover loops: %d unresolved forward jumps, %d unused jump points", len(front), len(back))
		return nil, newError(KindCompileError,
			"leftover loops: %d unresolved forward jumps, %d unused jump points", len(front), len(back))
	}

	f.steps = append(f.steps, step{kind: stepExit, at: len(code)})
	f.entry = func(m *VM) *Error {
		return f.exec(m, 0, 0)
	}
	f.elapsed = time.Since(start)

	jitLog.Infof("compiled %d instructions into %d steps in %s", len(code), len(f.steps), f.elapsed)
	return f, nil
}

// Instructions returns the source the function was compiled from.
func (f *CompiledFunction) Instructions() []Instruction { return f.code }

// Steps returns the number of compiled steps, including the trailing return.
func (f *CompiledFunction) Steps() int { return len(f.steps) }

// Entry returns the native entry point.
func (f *CompiledFunction) Entry() NativeFunc { return f.entry }

// CompileTime returns how long compilation took.
func (f *CompiledFunction) CompileTime() time.Duration { return f.elapsed }

// Run executes the compiled function on m. A VM that yielded while running
// f resumes where it stopped; any other VM starts from the top.
func (f *CompiledFunction) Run(m *VM) error {
	if m.yielded && m.running == f {
		return m.Resume()
	}
	m.reset(f.code)
	m.running = f
	return m.finish(f.activate(m, 0, 0))
}

// RunCompiled runs f on the VM.
func (m *VM) RunCompiled(f *CompiledFunction) error {
	return f.Run(m)
}

// activate runs f from step pc as an activation entered with depth frames
// saved, then settles how it ended. Falling off the end of a callee
// restores its caller; falling off the entry code finishes the program. A
// yielded activation is left for Resume.
func (f *CompiledFunction) activate(m *VM, pc, depth int) *Error {
	status := f.exec(m, pc, depth)
	if status != nil || m.yielded {
		return status
	}
	switch {
	case m.returning:
		m.returning = false
	case m.finished:
	case depth > 0:
		m.popFrame()
	default:
		m.finished = true
	}
	return nil
}

// exec is the compiled code itself: it walks the steps from pc, returning
// the first failing trampoline status. When a step yields, exec records
// where f continues and returns nil.
func (f *CompiledFunction) exec(m *VM, pc, depth int) *Error {
	steps := f.steps
	for pc < len(steps) {
		s := &steps[pc]
		switch s.kind {
		case stepCall:
			m.ip = s.at
			if m.Options.Trace {
				vmLog.Debugf("jit %s:%04d %s", m.where(), s.at, s.in)
			}
			saved := len(m.frames)
			if status := s.call(m, s.in); status != nil {
				return status
			}
			pc++
			if m.finished || m.returning {
				return nil
			}
			if m.yielded {
				f.suspend(m, s.in.Op, pc, depth, saved)
				return nil
			}
		case stepBranch:
			pc = s.target.step
		case stepBranchComp:
			if m.prevComp {
				pc = s.target.step
			} else {
				pc++
			}
		case stepExit:
			return nil
		}
	}
	return nil
}

// suspend records where f continues after a yield. A Yield of its own
// makes f the innermost activation; a callee that yielded leaves its frame
// at index saved, and f waits on that frame.
func (f *CompiledFunction) suspend(m *VM, op Opcode, pc, depth, saved int) {
	if op == OpFunc && len(m.frames) > saved {
		m.frames[saved].cont = &continuation{fn: f, step: pc, depth: depth}
		return
	}
	m.suspended, m.resumeStep, m.resumeDepth = f, pc, depth
}

// compiledCallee returns the cached compiled form of function index when
// Options.JIT is set and the function is hot. Functions that fail to
// compile are interpreted.
func (m *VM) compiledCallee(index uint32, code []Instruction) *CompiledFunction {
	if !m.Options.JIT || !m.profiler.IsHot(int(index)) {
		return nil
	}
	if f, seen := m.compiled[int(index)]; seen {
		return f
	}
	f, err := Compile(code)
	if err != nil {
		jitLog.Warningf("function %d will be interpreted: %s", index, err)
		f = nil
	}
	m.compiled[int(index)] = f
	return f
}
