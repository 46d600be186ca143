package vm

// ---------------------------------------------------------------------------
// Options: VM configuration
// ---------------------------------------------------------------------------

// Options configures a VM. The zero value is not useful; start from
// DefaultOptions or an OptionBuilder.
type Options struct {
	// Registers is the size of the register file, 1..NumRegisters.
	Registers int

	// HeapLimit caps the number of live heap payloads. Zero means
	// unbounded. Every payload counts: decoded string constants, the copy a
	// register holds after Load or Move, and boxed arithmetic results. The
	// value a Load or Move overwrites is reclaimable while its copy is
	// allocated.
	HeapLimit int

	// MaxCallDepth caps the return stack.
	MaxCallDepth int

	// JIT compiles callees entered through Func and caches them per
	// function index.
	JIT bool

	// HotThreshold is how many calls a function takes before compiled
	// code compiles it. Zero means DefaultHotThreshold.
	HotThreshold uint64

	// Trace logs every executed instruction at debug level.
	Trace bool

	// File is the program the VM was built for, used in diagnostics.
	File string
}

// Default limits.
const (
	DefaultHeapLimit    = 1 << 20
	DefaultMaxCallDepth = 1024
)

// DefaultOptions returns options with a full register file.
func DefaultOptions() Options {
	return Options{
		Registers:    NumRegisters,
		HeapLimit:    DefaultHeapLimit,
		MaxCallDepth: DefaultMaxCallDepth,
	}
}

// normalized clamps out-of-range fields to usable values.
func (o Options) normalized() Options {
	if o.Registers <= 0 || o.Registers > NumRegisters {
		o.Registers = NumRegisters
	}
	if o.HeapLimit < 0 {
		o.HeapLimit = 0
	}
	if o.MaxCallDepth <= 0 {
		o.MaxCallDepth = DefaultMaxCallDepth
	}
	if o.HotThreshold == 0 {
		o.HotThreshold = DefaultHotThreshold
	}
	return o
}

// OptionBuilder assembles Options fluently:
//
//	opts := vm.NewOptionBuilder("main.crunched").JIT(true).Build()
type OptionBuilder struct {
	opts Options
}

// NewOptionBuilder starts from DefaultOptions for the given program file.
func NewOptionBuilder(file string) *OptionBuilder {
	o := DefaultOptions()
	o.File = file
	return &OptionBuilder{opts: o}
}

func (b *OptionBuilder) Registers(n int) *OptionBuilder {
	b.opts.Registers = n
	return b
}

func (b *OptionBuilder) HeapLimit(n int) *OptionBuilder {
	b.opts.HeapLimit = n
	return b
}

func (b *OptionBuilder) MaxCallDepth(n int) *OptionBuilder {
	b.opts.MaxCallDepth = n
	return b
}

func (b *OptionBuilder) JIT(on bool) *OptionBuilder {
	b.opts.JIT = on
	return b
}

func (b *OptionBuilder) HotThreshold(n uint64) *OptionBuilder {
	b.opts.HotThreshold = n
	return b
}

func (b *OptionBuilder) Trace(on bool) *OptionBuilder {
	b.opts.Trace = on
	return b
}

// Build returns the assembled options with out-of-range fields clamped.
func (b *OptionBuilder) Build() Options {
	return b.opts.normalized()
}
