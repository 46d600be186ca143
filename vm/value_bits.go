package vm

import "math/big"

// ---------------------------------------------------------------------------
// Bitwise operations
// ---------------------------------------------------------------------------

type bitOp uint8

const (
	bitOr bitOp = iota
	bitXor
	bitAnd
)

var bitVerbs = [...]string{
	bitOr:  "bit ord",
	bitXor: "bit xored",
	bitAnd: "bit anded",
}

// BitOr applies | to two values of the same variant. Bitwise operations
// never widen.
func (v Value) BitOr(other Value, c *Collector) (Value, error) {
	return v.bitwise(bitOr, other, c)
}

// BitXor applies ^ to two values of the same variant.
func (v Value) BitXor(other Value, c *Collector) (Value, error) {
	return v.bitwise(bitXor, other, c)
}

// BitAnd applies & to two values of the same variant.
func (v Value) BitAnd(other Value, c *Collector) (Value, error) {
	return v.bitwise(bitAnd, other, c)
}

func applyWord(op bitOp, x, y uint64) uint64 {
	switch op {
	case bitOr:
		return x | y
	case bitXor:
		return x ^ y
	}
	return x & y
}

func (v Value) bitwise(op bitOp, other Value, c *Collector) (Value, error) {
	verb := bitVerbs[op]
	if v.Type == ValNone || other.Type == ValNone {
		return Value{}, newError(KindNullValue,
			"Values of types '%s' and '%s' cannot be %s", v.Name(), other.Name(), verb)
	}
	if v.Type != other.Type {
		return Value{}, incompatible(v, other, verb)
	}

	switch v.Type {
	case ValByte, ValU16, ValU32, ValU64, ValU128,
		ValIByte, ValI16, ValI32, ValI64, ValI128, ValBool:
		// sign-extended words stay sign-extended under |, ^ and &
		return Value{
			Type: v.Type,
			lo:   applyWord(op, v.lo, other.lo),
			hi:   applyWord(op, v.hi, other.hi),
		}, nil

	case ValGcInt, ValGcUint:
		x, err := c.fetchBig(v.ref)
		if err != nil {
			return Value{}, err
		}
		y, err := c.fetchBig(other.ref)
		if err != nil {
			return Value{}, err
		}
		r := new(big.Int)
		switch op {
		case bitOr:
			r.Or(x, y)
		case bitXor:
			r.Xor(x, y)
		case bitAnd:
			r.And(x, y)
		}
		return c.allocBig(r, v.Type == ValGcInt)

	case ValF32, ValF64:
		return Value{}, newError(KindUnsupportedOperation,
			"Values of types '%s' and '%s' cannot be %s", v.Name(), other.Name(), verb)
	}

	return Value{}, incompatible(v, other, verb)
}

// BitNot applies ^ (bitwise complement) to an integer or ! to a bool.
// Complementing an arbitrary-precision unsigned integer has no finite
// result and is unsupported.
func (v Value) BitNot(c *Collector) (Value, error) {
	switch v.Type {
	case ValNone:
		return Value{}, newError(KindNullValue, "Cannot apply the bitwise not to the type %s", v.Name())

	case ValByte, ValU16, ValU32:
		tier := tiers[v.Type]
		return Value{Type: v.Type, lo: ^v.lo & tier.max.Uint64()}, nil

	case ValU64, ValIByte, ValI16, ValI32, ValI64:
		return Value{Type: v.Type, lo: ^v.lo}, nil

	case ValU128, ValI128:
		return Value{Type: v.Type, lo: ^v.lo, hi: ^v.hi}, nil

	case ValBool:
		return Bool(!v.AsBool()), nil

	case ValGcInt:
		x, err := c.fetchBig(v.ref)
		if err != nil {
			return Value{}, err
		}
		return c.allocBig(new(big.Int).Not(x), true)

	case ValGcUint, ValF32, ValF64:
		return Value{}, newError(KindUnsupportedOperation, "Cannot apply the bitwise not to the type %s", v.Name())
	}

	return Value{}, newError(KindIncompatibleTypes, "Cannot apply the bitwise not to the type %s", v.Name())
}
