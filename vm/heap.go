package vm

import (
	"math"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var heapLog = commonlog.GetLogger("crunch.heap")

// ---------------------------------------------------------------------------
// Handles
// ---------------------------------------------------------------------------

// Ref names a slot in a Collector. It pairs the slot index with the
// generation the slot had when the payload was allocated, so a reference
// that outlives its payload is detected instead of reading a reused slot.
// The zero Ref never names a live slot.
type Ref struct {
	index uint32
	gen   uint32
}

// IsZero reports whether r is the zero reference.
func (r Ref) IsZero() bool {
	return r.index == 0
}

// Word packs the reference into a single machine word.
func (r Ref) Word() uint64 {
	return uint64(r.gen)<<32 | uint64(r.index)
}

// RefFromWord is the inverse of Ref.Word.
func RefFromWord(w uint64) Ref {
	return Ref{index: uint32(w), gen: uint32(w >> 32)}
}

// Handle is a typed capability for a payload owned by a Collector. A handle
// does not own its payload: copying a handle aliases it, and dropping any
// copy releases the payload for all of them.
type Handle[T any] struct {
	ref Ref
}

// HandleOf reinterprets an untyped reference as a typed handle. The payload
// type is checked on every Fetch.
func HandleOf[T any](r Ref) Handle[T] {
	return Handle[T]{ref: r}
}

// Ref returns the untyped reference behind the handle.
func (h Handle[T]) Ref() Ref {
	return h.ref
}

// Fetch returns the current payload. It fails with an invalid-handle error
// once the handle has been dropped or collected.
func (h Handle[T]) Fetch(c *Collector) (T, error) {
	var zero T
	p, err := c.lookup(h.ref)
	if err != nil {
		return zero, err
	}
	v, ok := p.(T)
	if !ok {
		return zero, newError(KindInvalidHandle, "handle %d does not hold a %T payload", h.ref.index, zero)
	}
	return v, nil
}

// Drop releases the payload. Later Fetch or Drop calls on any copy of the
// handle fail with an invalid-handle error.
func (h Handle[T]) Drop(c *Collector) error {
	return c.release(h.ref)
}

// Alloc stores payload in the collector and returns a handle to it.
func Alloc[T any](c *Collector, payload T) (Handle[T], error) {
	r, err := c.allocate(payload)
	if err != nil {
		return Handle[T]{}, err
	}
	return Handle[T]{ref: r}, nil
}

// ---------------------------------------------------------------------------
// Collector
// ---------------------------------------------------------------------------

// CollectStats describes a single collection pass.
type CollectStats struct {
	Marked   int
	Freed    int
	Live     int
	Duration time.Duration
}

// HeapStats describes the collector over its whole lifetime.
type HeapStats struct {
	Live        int
	Capacity    int
	Allocations uint64
	Collections uint64
	LastCollect CollectStats
}

type slot struct {
	payload interface{}
	gen     uint32
	live    bool
	marked  bool
}

// Collector owns every heap-boxed payload (big integers and strings) for
// one VM. It is not safe for concurrent use: it belongs to a single VM and
// runs only on that VM's execution thread.
type Collector struct {
	id    uuid.UUID
	slots []slot
	free  []uint32
	live  int
	limit int

	// roots supplies the current root set when allocation pressure forces a
	// collection. Nil means pressure collections are not possible.
	roots func() []Ref

	// pins counts holds on payloads that must survive collection whatever
	// the root set says
	pins map[Ref]int

	allocations uint64
	collections uint64
	last        CollectStats
}

// NewCollector creates a collector holding at most limit live payloads.
// A limit of zero or less means unbounded.
func NewCollector(limit int) *Collector {
	return &Collector{
		id: uuid.New(),
		// slot 0 is reserved so the zero Ref is always invalid
		slots: make([]slot, 1, 64),
		limit: limit,
	}
}

// ID identifies the collector in diagnostics.
func (c *Collector) ID() uuid.UUID {
	return c.id
}

// SetRootSource installs the function used to enumerate roots when an
// allocation hits the limit.
func (c *Collector) SetRootSource(roots func() []Ref) {
	c.roots = roots
}

// Pin keeps the payload behind r alive across every collection until a
// matching Unpin. Pins nest.
func (c *Collector) Pin(r Ref) {
	if r.IsZero() {
		return
	}
	if c.pins == nil {
		c.pins = make(map[Ref]int)
	}
	c.pins[r]++
}

// Unpin releases one Pin of r.
func (c *Collector) Unpin(r Ref) {
	n, ok := c.pins[r]
	if !ok {
		return
	}
	if n <= 1 {
		delete(c.pins, r)
		return
	}
	c.pins[r] = n - 1
}

// Pinned returns the number of distinct pinned references.
func (c *Collector) Pinned() int {
	return len(c.pins)
}

// Live returns the number of live payloads.
func (c *Collector) Live() int {
	return c.live
}

// Stats returns lifetime statistics.
func (c *Collector) Stats() HeapStats {
	return HeapStats{
		Live:        c.live,
		Capacity:    len(c.slots) - 1,
		Allocations: c.allocations,
		Collections: c.collections,
		LastCollect: c.last,
	}
}

// Valid reports whether r names a live payload.
func (c *Collector) Valid(r Ref) bool {
	_, err := c.lookup(r)
	return err == nil
}

func (c *Collector) allocate(payload interface{}) (Ref, error) {
	if c == nil {
		return Ref{}, newError(KindAllocation, "no collector to allocate in")
	}
	if c.limit > 0 && c.live >= c.limit {
		if c.roots != nil {
			heapLog.Debugf("heap %s at limit %d, collecting", c.id, c.limit)
			c.Collect(c.roots())
		}
		if c.live >= c.limit {
			return Ref{}, newError(KindAllocation, "heap limit of %d payloads reached", c.limit)
		}
	}

	var index uint32
	if n := len(c.free); n > 0 {
		index = c.free[n-1]
		c.free = c.free[:n-1]
	} else {
		if uint64(len(c.slots)) >= math.MaxUint32 {
			return Ref{}, newError(KindAllocation, "heap slot table exhausted")
		}
		c.slots = append(c.slots, slot{gen: 1})
		index = uint32(len(c.slots) - 1)
	}

	s := &c.slots[index]
	s.payload = payload
	s.live = true
	s.marked = false
	c.live++
	c.allocations++

	return Ref{index: index, gen: s.gen}, nil
}

func (c *Collector) lookup(r Ref) (interface{}, error) {
	if c == nil {
		return nil, newError(KindInvalidHandle, "handle %d used without a collector", r.index)
	}
	if r.index == 0 || int(r.index) >= len(c.slots) {
		return nil, newError(KindInvalidHandle, "handle %d was never allocated", r.index)
	}
	s := &c.slots[r.index]
	if !s.live || s.gen != r.gen {
		return nil, newError(KindInvalidHandle, "handle %d (generation %d) has been released", r.index, r.gen)
	}
	return s.payload, nil
}

func (c *Collector) release(r Ref) error {
	if _, err := c.lookup(r); err != nil {
		return err
	}
	c.freeSlot(r.index)
	return nil
}

func (c *Collector) freeSlot(index uint32) {
	s := &c.slots[index]
	s.payload = nil
	s.live = false
	s.marked = false
	// bumping the generation invalidates every outstanding Ref to this slot
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	c.free = append(c.free, index)
	c.live--
}

// Collect marks every payload reachable from roots or pinned, and releases
// the rest. Roots that are stale or zero are ignored.
func (c *Collector) Collect(roots []Ref) CollectStats {
	start := time.Now()
	stats := CollectStats{}

	for _, r := range roots {
		c.mark(r, &stats)
	}
	for r := range c.pins {
		c.mark(r, &stats)
	}

	for i := 1; i < len(c.slots); i++ {
		s := &c.slots[i]
		if !s.live {
			continue
		}
		if s.marked {
			s.marked = false
			continue
		}
		c.freeSlot(uint32(i))
		stats.Freed++
	}

	stats.Live = c.live
	stats.Duration = time.Since(start)
	c.collections++
	c.last = stats

	heapLog.Debugf("heap %s collected: marked=%d freed=%d live=%d in %s",
		c.id, stats.Marked, stats.Freed, stats.Live, stats.Duration)
	return stats
}

func (c *Collector) mark(r Ref, stats *CollectStats) {
	if r.index == 0 || int(r.index) >= len(c.slots) {
		return
	}
	s := &c.slots[r.index]
	if s.live && s.gen == r.gen && !s.marked {
		s.marked = true
		stats.Marked++
	}
}

// ---------------------------------------------------------------------------
// Typed payload helpers used by the value model
// ---------------------------------------------------------------------------

func (c *Collector) allocString(s string) (Value, error) {
	h, err := Alloc(c, s)
	if err != nil {
		return Value{}, err
	}
	return Value{Type: ValGcString, ref: h.Ref()}, nil
}

// allocBig boxes a copy of n. Unsigned boxes must never hold a negative n.
func (c *Collector) allocBig(n *big.Int, signed bool) (Value, error) {
	h, err := Alloc(c, new(big.Int).Set(n))
	if err != nil {
		return Value{}, err
	}
	t := ValGcUint
	if signed {
		t = ValGcInt
	}
	return Value{Type: t, ref: h.Ref()}, nil
}

func (c *Collector) fetchString(r Ref) (string, error) {
	if c == nil {
		return "", newError(KindInvalidHandle, "no collector for heap string")
	}
	return HandleOf[string](r).Fetch(c)
}

// fetchBig returns a private copy of the boxed integer.
func (c *Collector) fetchBig(r Ref) (*big.Int, error) {
	if c == nil {
		return nil, newError(KindInvalidHandle, "no collector for heap integer")
	}
	n, err := HandleOf[*big.Int](r).Fetch(c)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(n), nil
}
