package vm

import (
	"math"
	"math/big"
)

// ---------------------------------------------------------------------------
// Width tiers
// ---------------------------------------------------------------------------

// intTier describes one fixed-width integer variant and its place in the
// promotion chain of its signedness (8 -> 16 -> 32 -> 64 -> 128).
type intTier struct {
	typ    ValueType
	bits   uint
	signed bool
	rank   int
	min    *big.Int
	max    *big.Int
}

var (
	unsignedChain = []ValueType{ValByte, ValU16, ValU32, ValU64, ValU128}
	signedChain   = []ValueType{ValIByte, ValI16, ValI32, ValI64, ValI128}

	tiers = map[ValueType]*intTier{}

	two128 = new(big.Int).Lsh(big.NewInt(1), 128)
	mask64 = new(big.Int).SetUint64(math.MaxUint64)
)

func init() {
	widths := []uint{8, 16, 32, 64, 128}
	for rank, bits := range widths {
		umax := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), bits), big.NewInt(1))
		tiers[unsignedChain[rank]] = &intTier{
			typ: unsignedChain[rank], bits: bits, rank: rank,
			min: new(big.Int), max: umax,
		}

		smax := new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), bits-1), big.NewInt(1))
		smin := new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), bits-1))
		tiers[signedChain[rank]] = &intTier{
			typ: signedChain[rank], bits: bits, signed: true, rank: rank,
			min: smin, max: smax,
		}
	}
}

func tierOf(t ValueType) (*intTier, bool) {
	tier, ok := tiers[t]
	return tier, ok
}

func (t *intTier) chain() []ValueType {
	if t.signed {
		return signedChain
	}
	return unsignedChain
}

func (t *intTier) fits(n *big.Int) bool {
	return n.Cmp(t.min) >= 0 && n.Cmp(t.max) <= 0
}

// toBig returns the exact value of a fixed-width integer.
func (v Value) toBig() *big.Int {
	switch v.Type {
	case ValByte, ValU16, ValU32, ValU64:
		return new(big.Int).SetUint64(v.lo)
	case ValIByte, ValI16, ValI32, ValI64:
		return big.NewInt(int64(v.lo))
	case ValU128, ValI128:
		n := new(big.Int).SetUint64(v.hi)
		n.Lsh(n, 64)
		n.Or(n, new(big.Int).SetUint64(v.lo))
		if v.Type == ValI128 && v.hi>>63 == 1 {
			n.Sub(n, two128)
		}
		return n
	}
	return new(big.Int)
}

// fromBig builds a fixed-width value of type t. n must fit t.
func fromBig(t ValueType, n *big.Int) Value {
	tier := tiers[t]
	if tier.bits <= 64 {
		if tier.signed {
			return Value{Type: t, lo: uint64(n.Int64())}
		}
		return Value{Type: t, lo: n.Uint64()}
	}
	u := new(big.Int).Set(n)
	if u.Sign() < 0 {
		u.Add(u, two128)
	}
	lo := new(big.Int).And(u, mask64).Uint64()
	hi := new(big.Int).Rsh(u, 64).Uint64()
	return Value{Type: t, hi: hi, lo: lo}
}

// settle places an exact result in the narrowest tier at or above the
// operands' tier. Results wider than 128 bits are boxed.
func (t *intTier) settle(n *big.Int, c *Collector) (Value, error) {
	chain := t.chain()
	for _, typ := range chain[t.rank:] {
		if tiers[typ].fits(n) {
			return fromBig(typ, n), nil
		}
	}
	return c.allocBig(n, t.signed)
}

func (t *intTier) settleUint(n uint64) Value {
	for _, typ := range unsignedChain[t.rank:] {
		if tiers[typ].bits >= 64 || n <= tiers[typ].max.Uint64() {
			return Value{Type: typ, lo: n}
		}
	}
	return Value{Type: ValU64, lo: n}
}

func (t *intTier) settleInt(n int64) Value {
	for _, typ := range signedChain[t.rank:] {
		tier := tiers[typ]
		if tier.bits >= 64 || (n >= tier.min.Int64() && n <= tier.max.Int64()) {
			return Value{Type: typ, lo: uint64(n)}
		}
	}
	return Value{Type: ValI64, lo: uint64(n)}
}

// ---------------------------------------------------------------------------
// Upflowing arithmetic
// ---------------------------------------------------------------------------

type arithOp uint8

const (
	opAdd arithOp = iota
	opSub
	opMult
	opDiv
)

var arithVerbs = [...]string{
	opAdd:  "added",
	opSub:  "subtracted",
	opMult: "multiplied",
	opDiv:  "divided",
}

// AddUpflowing adds two values of the same variant. Integer overflow
// promotes the result to the next wider width of the same signedness;
// beyond 128 bits the result is boxed as a big integer. Adding strings
// concatenates them into a new heap string.
func (v Value) AddUpflowing(other Value, c *Collector) (Value, error) {
	return v.upflowing(opAdd, other, c)
}

// SubUpflowing subtracts other from v with the same promotion rules as
// AddUpflowing. An unsigned result below zero is an overflow error.
func (v Value) SubUpflowing(other Value, c *Collector) (Value, error) {
	return v.upflowing(opSub, other, c)
}

// MultUpflowing multiplies with the same promotion rules as AddUpflowing.
func (v Value) MultUpflowing(other Value, c *Collector) (Value, error) {
	return v.upflowing(opMult, other, c)
}

// DivUpflowing divides v by other, truncating toward zero. Integer division
// by zero fails; the only overflowing case, MIN / -1, promotes.
func (v Value) DivUpflowing(other Value, c *Collector) (Value, error) {
	return v.upflowing(opDiv, other, c)
}

func (v Value) upflowing(op arithOp, other Value, c *Collector) (Value, error) {
	if v.Type == ValNone || other.Type == ValNone {
		return Value{}, newError(KindNullValue,
			"Values of types '%s' and '%s' cannot be %s", v.Name(), other.Name(), arithVerbs[op])
	}

	if v.isString() && other.isString() && op == opAdd {
		return concat(v, other, c)
	}
	if v.Type != other.Type {
		return Value{}, incompatible(v, other, arithVerbs[op])
	}

	switch v.Type {
	case ValF32:
		return F32(float32(floatArith(op, float64(v.Float32()), float64(other.Float32()), 32))), nil
	case ValF64:
		return F64(floatArith(op, v.Float64(), other.Float64(), 64)), nil
	case ValGcInt, ValGcUint:
		return bigArith(op, v, other, c)
	}

	tier, ok := tierOf(v.Type)
	if !ok {
		return Value{}, incompatible(v, other, arithVerbs[op])
	}

	if tier.bits <= 32 {
		if tier.signed {
			return smallSigned(op, tier, int64(v.lo), int64(other.lo))
		}
		return smallUnsigned(op, tier, v.lo, other.lo)
	}

	r, err := exactArith(op, v.toBig(), other.toBig(), tier.signed, v.Name())
	if err != nil {
		return Value{}, err
	}
	return tier.settle(r, c)
}

// smallUnsigned handles widths up to 32 bits, whose exact results always
// fit in 64 bits.
func smallUnsigned(op arithOp, tier *intTier, x, y uint64) (Value, error) {
	var r uint64
	switch op {
	case opAdd:
		r = x + y
	case opSub:
		if x < y {
			return Value{}, newError(KindOverflow,
				"The attempted subtract is too large to fit in a '%s'", tier.typ)
		}
		r = x - y
	case opMult:
		r = x * y
	case opDiv:
		if y == 0 {
			return Value{}, newError(KindDivideByZero, "attempted to divide a '%s' by zero", tier.typ)
		}
		r = x / y
	}
	return tier.settleUint(r), nil
}

func smallSigned(op arithOp, tier *intTier, x, y int64) (Value, error) {
	var r int64
	switch op {
	case opAdd:
		r = x + y
	case opSub:
		r = x - y
	case opMult:
		r = x * y
	case opDiv:
		if y == 0 {
			return Value{}, newError(KindDivideByZero, "attempted to divide a '%s' by zero", tier.typ)
		}
		r = x / y
	}
	return tier.settleInt(r), nil
}

func exactArith(op arithOp, x, y *big.Int, signed bool, name string) (*big.Int, error) {
	r := new(big.Int)
	switch op {
	case opAdd:
		r.Add(x, y)
	case opSub:
		r.Sub(x, y)
	case opMult:
		r.Mul(x, y)
	case opDiv:
		if y.Sign() == 0 {
			return nil, newError(KindDivideByZero, "attempted to divide a '%s' by zero", name)
		}
		r.Quo(x, y)
	}
	if !signed && r.Sign() < 0 {
		return nil, newError(KindOverflow, "The attempted subtract is too large to fit in a '%s'", name)
	}
	return r, nil
}

// bigArith operates on two boxed integers. The result is always boxed.
func bigArith(op arithOp, v, other Value, c *Collector) (Value, error) {
	x, err := c.fetchBig(v.ref)
	if err != nil {
		return Value{}, err
	}
	y, err := c.fetchBig(other.ref)
	if err != nil {
		return Value{}, err
	}
	signed := v.Type == ValGcInt
	r, err := exactArith(op, x, y, signed, v.Name())
	if err != nil {
		return Value{}, err
	}
	return c.allocBig(r, signed)
}

// floatArith is plain IEEE-754 arithmetic at the operand width. Floats
// never promote.
func floatArith(op arithOp, x, y float64, bits int) float64 {
	var r float64
	switch op {
	case opAdd:
		r = x + y
	case opSub:
		r = x - y
	case opMult:
		r = x * y
	case opDiv:
		r = x / y
	}
	if bits == 32 {
		return float64(float32(r))
	}
	return r
}

func concat(v, other Value, c *Collector) (Value, error) {
	left, err := v.StringContent(c)
	if err != nil {
		return Value{}, err
	}
	right, err := other.StringContent(c)
	if err != nil {
		return Value{}, err
	}
	return c.allocString(left + right)
}

func incompatible(v, other Value, verb string) *Error {
	return newError(KindIncompatibleTypes,
		"Values of types '%s' and '%s' cannot be %s", v.Name(), other.Name(), verb)
}

// ---------------------------------------------------------------------------
// Ordering
// ---------------------------------------------------------------------------

// Compare orders two values of the same variant. It returns -1, 0 or 1 and
// whether the pair is ordered at all: a NaN operand makes the pair
// unordered, so every ordered comparison with it is false.
func (v Value) Compare(other Value, c *Collector) (int, bool, error) {
	if v.Type == ValNone || other.Type == ValNone {
		return 0, false, newError(KindNullValue,
			"Values of types '%s' and '%s' cannot be compared", v.Name(), other.Name())
	}

	if v.isString() && other.isString() {
		left, err := v.StringContent(c)
		if err != nil {
			return 0, false, err
		}
		right, err := other.StringContent(c)
		if err != nil {
			return 0, false, err
		}
		return compareOrdered(left, right), true, nil
	}
	if v.Type != other.Type {
		return 0, false, incompatible(v, other, "compared")
	}

	switch v.Type {
	case ValByte, ValU16, ValU32, ValU64, ValPointer, ValBool, ValChar:
		return compareOrdered(v.lo, other.lo), true, nil
	case ValIByte, ValI16, ValI32, ValI64:
		return compareOrdered(int64(v.lo), int64(other.lo)), true, nil
	case ValU128, ValI128:
		return v.toBig().Cmp(other.toBig()), true, nil
	case ValF32, ValF64:
		x, y := v.Float64(), other.Float64()
		if v.Type == ValF32 {
			x, y = float64(v.Float32()), float64(other.Float32())
		}
		if math.IsNaN(x) || math.IsNaN(y) {
			return 0, false, nil
		}
		return compareOrdered(x, y), true, nil
	case ValGcInt, ValGcUint:
		x, err := c.fetchBig(v.ref)
		if err != nil {
			return 0, false, err
		}
		y, err := c.fetchBig(other.ref)
		if err != nil {
			return 0, false, err
		}
		return x.Cmp(y), true, nil
	case ValNull:
		return 0, true, nil
	}
	return 0, false, incompatible(v, other, "compared")
}

type ordered interface {
	~int64 | ~uint64 | ~float64 | ~string
}

func compareOrdered[T ordered](x, y T) int {
	switch {
	case x < y:
		return -1
	case x > y:
		return 1
	}
	return 0
}
