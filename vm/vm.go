package vm

import (
	"bufio"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var vmLog = commonlog.GetLogger("crunch.vm")

// ---------------------------------------------------------------------------
// VM: register machine state
// ---------------------------------------------------------------------------

// Frame is a saved caller, pushed by Func and popped by Return.
type Frame struct {
	Code []Instruction
	Func int // function index, -1 for the entry code
	IP   int // instruction to continue at

	// cont is set when the caller is compiled code suspended inside the
	// call that pushed this frame.
	cont *continuation
}

// continuation is a compiled activation waiting on a callee that yielded.
// It continues at step, and was entered with depth frames saved.
type continuation struct {
	fn    *CompiledFunction
	step  int
	depth int
}

// VM is one execution of a crunch program. A VM belongs to a single
// goroutine: neither the interpreter nor compiled code takes locks, and two
// executions of the same VM must never overlap.
type VM struct {
	ID        uuid.UUID
	Options   Options
	Functions [][]Instruction

	registers []Value
	frames    []Frame
	code      []Instruction
	current   int
	ip        int

	finished  bool
	returning bool
	yielded   bool

	// prevOp holds the last arithmetic or bitwise result until OpToReg
	// commits it. prevComp holds the last comparison.
	prevOp   Value
	prevComp bool

	collector *Collector
	out       *bufio.Writer
	started   time.Time

	// compiled callees by function index; a nil entry records a failed
	// compilation so it is not retried
	compiled map[int]*CompiledFunction
	profiler *Profiler

	// suspended is the innermost compiled activation a Yield left,
	// resumed at resumeStep with resumeDepth frames below it. running is
	// the compiled entry point of the current execution, if any.
	suspended   *CompiledFunction
	resumeStep  int
	resumeDepth int
	running     *CompiledFunction
}

// New creates a VM writing program output to out. A nil out discards it.
func New(opts Options, out io.Writer) *VM {
	opts = opts.normalized()
	if out == nil {
		out = io.Discard
	}
	m := &VM{
		ID:        uuid.New(),
		Options:   opts,
		registers: make([]Value, opts.Registers),
		current:   -1,
		collector: NewCollector(opts.HeapLimit),
		out:       bufio.NewWriter(out),
		started:   time.Now(),
		compiled:  make(map[int]*CompiledFunction),
		profiler:  NewProfiler(opts.HotThreshold),
	}
	m.collector.SetRootSource(m.roots)
	m.profiler.OnHot = func(p *FunctionProfile) {
		vmLog.Debugf("function %d is hot after %d calls", p.Index, p.Invocations)
	}
	vmLog.Debugf("vm %s created: %d registers, heap limit %d", m.ID, opts.Registers, opts.HeapLimit)
	return m
}

// SetFunctions installs the callable function table used by Func.
func (m *VM) SetFunctions(fns [][]Instruction) {
	m.Functions = fns
	m.compiled = make(map[int]*CompiledFunction)
	m.profiler.Reset()
}

// Register returns the value held by r, or None when r is outside the
// register file.
func (m *VM) Register(r Register) Value {
	if int(r) >= len(m.registers) {
		return None()
	}
	return m.registers[r]
}

// SetRegister stores v in r. The VM does not copy boxed payloads: v must
// belong to this VM's collector.
func (m *VM) SetRegister(r Register, v Value) error {
	slot, err := m.slot(r)
	if err != nil {
		return err
	}
	*slot = v
	return nil
}

// Collector returns the heap owning this VM's boxed values.
func (m *VM) Collector() *Collector { return m.collector }

// Profiler returns the function invocation profile of this VM.
func (m *VM) Profiler() *Profiler { return m.profiler }

// Yielded reports whether execution is suspended at a Yield.
func (m *VM) Yielded() bool { return m.yielded }

// Finished reports whether execution ran to completion or halted.
func (m *VM) Finished() bool { return m.finished }

// IP returns the index of the next instruction in the current code.
func (m *VM) IP() int { return m.ip }

// Depth returns the number of saved frames.
func (m *VM) Depth() int { return len(m.frames) }

// Elapsed returns the time since the VM was created.
func (m *VM) Elapsed() time.Duration { return time.Since(m.started) }

// Flush writes buffered program output to the sink.
func (m *VM) Flush() error {
	if err := m.out.Flush(); err != nil {
		return fmt.Errorf("flush output: %w", err)
	}
	return nil
}

// Close flushes output and releases every heap payload.
func (m *VM) Close() error {
	err := m.Flush()
	for i := range m.registers {
		m.registers[i] = Value{}
	}
	m.prevOp = Value{}
	m.collector.pins = nil
	m.collector.Collect(nil)
	return err
}

// slot returns the storage for r, failing when r is outside the register
// file configured by Options.Registers.
func (m *VM) slot(r Register) (*Value, *Error) {
	if int(r) >= len(m.registers) {
		return nil, newError(KindInvalidInstruction,
			"register %s is outside the register file of %d", r, len(m.registers))
	}
	return &m.registers[r], nil
}

// roots enumerates every heap reference the VM can still reach: registers,
// the pending result, and boxed constants in code that may run again.
func (m *VM) roots() []Ref {
	var refs []Ref
	for _, v := range m.registers {
		if v.IsBoxed() {
			refs = append(refs, v.ref)
		}
	}
	if m.prevOp.IsBoxed() {
		refs = append(refs, m.prevOp.ref)
	}
	refs = appendConstantRefs(refs, m.code)
	for _, f := range m.frames {
		refs = appendConstantRefs(refs, f.Code)
	}
	for _, fn := range m.Functions {
		refs = appendConstantRefs(refs, fn)
	}
	return refs
}

func appendConstantRefs(refs []Ref, code []Instruction) []Ref {
	for i := range code {
		if code[i].Op == OpLoad && code[i].Value.IsBoxed() {
			refs = append(refs, code[i].Value.ref)
		}
	}
	return refs
}

// reset prepares the VM to run code from its first instruction. Registers
// and the heap survive; control state does not.
func (m *VM) reset(code []Instruction) {
	m.code = code
	m.current = -1
	m.ip = 0
	m.frames = m.frames[:0]
	m.finished = false
	m.returning = false
	m.yielded = false
	m.suspended = nil
	m.resumeStep = 0
	m.resumeDepth = 0
	m.running = nil
}

// compiledCaller returns the index of the innermost frame whose caller is
// a suspended compiled activation, or -1.
func (m *VM) compiledCaller() int {
	for i := len(m.frames) - 1; i >= 0; i-- {
		if m.frames[i].cont != nil {
			return i
		}
	}
	return -1
}

// function returns the code of function index.
func (m *VM) function(index uint32) ([]Instruction, *Error) {
	if uint64(index) >= uint64(len(m.Functions)) {
		return nil, newError(KindInvalidInstruction,
			"call to function %d, only %d defined", index, len(m.Functions))
	}
	return m.Functions[index], nil
}

// pushFrame saves the caller and fails once MaxCallDepth frames are saved.
func (m *VM) pushFrame(resume int) *Error {
	if len(m.frames) >= m.Options.MaxCallDepth {
		return newError(KindStackOverflow, "call depth exceeds %d", m.Options.MaxCallDepth)
	}
	m.frames = append(m.frames, Frame{Code: m.code, Func: m.current, IP: resume})
	return nil
}

// popFrame restores the most recent caller. With no caller left the
// program is finished.
func (m *VM) popFrame() {
	n := len(m.frames)
	if n == 0 {
		m.finished = true
		return
	}
	f := m.frames[n-1]
	m.frames = m.frames[:n-1]
	m.code, m.current, m.ip = f.Code, f.Func, f.IP
}

func (m *VM) where() string {
	if m.current < 0 {
		return "main"
	}
	return fmt.Sprintf("fn%d", m.current)
}
