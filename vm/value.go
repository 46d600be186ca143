package vm

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
)

// ValueType is the discriminant of a Value. For every variant with a byte
// encoding the ValueType equals the encoding tag.
type ValueType uint8

const (
	ValNone ValueType = iota
	ValNull
	ValByte
	ValU16
	ValU32
	ValU64
	ValU128
	ValIByte
	ValI16
	ValI32
	ValI64
	ValI128
	ValF32
	ValF64
	ValPointer
	ValBool
	ValChar
	ValStr

	// Heap-boxed variants. These have no byte encoding.
	ValGcUint
	ValGcInt
	ValGcString
)

var typeNames = [...]string{
	ValNone:     "NoneType",
	ValNull:     "null",
	ValByte:     "byte",
	ValU16:      "uint16",
	ValU32:      "uint",
	ValU64:      "uint64",
	ValU128:     "uint128",
	ValIByte:    "ibyte",
	ValI16:      "int16",
	ValI32:      "int",
	ValI64:      "int64",
	ValI128:     "int128",
	ValF32:      "float",
	ValF64:      "float64",
	ValPointer:  "ptr",
	ValBool:     "bool",
	ValChar:     "char",
	ValStr:      "str",
	ValGcUint:   "biguint",
	ValGcInt:    "bigint",
	ValGcString: "str",
}

func (t ValueType) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("ValueType(%d)", uint8(t))
}

// Value is the tagged runtime datum held in registers.
//
// Fixed-width integers up to 64 bits live in lo; signed values are stored
// sign-extended. 128-bit integers use hi:lo in two's complement. Floats,
// bools, chars and pointers also use lo. Heap-boxed variants carry a Ref
// into the VM's Collector and borrowed strings carry the Go string itself.
// The zero Value is None.
type Value struct {
	Type ValueType
	lo   uint64
	hi   uint64
	ref  Ref
	str  string
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------

// None returns the absence/tombstone sentinel.
func None() Value { return Value{} }

// Null returns the explicit null value.
func Null() Value { return Value{Type: ValNull} }

func Byte(v uint8) Value     { return Value{Type: ValByte, lo: uint64(v)} }
func U16(v uint16) Value     { return Value{Type: ValU16, lo: uint64(v)} }
func U32(v uint32) Value     { return Value{Type: ValU32, lo: uint64(v)} }
func U64(v uint64) Value     { return Value{Type: ValU64, lo: v} }
func IByte(v int8) Value     { return Value{Type: ValIByte, lo: uint64(int64(v))} }
func I16(v int16) Value      { return Value{Type: ValI16, lo: uint64(int64(v))} }
func I32(v int32) Value      { return Value{Type: ValI32, lo: uint64(int64(v))} }
func I64(v int64) Value      { return Value{Type: ValI64, lo: uint64(v)} }
func F32(v float32) Value    { return Value{Type: ValF32, lo: uint64(math.Float32bits(v))} }
func F64(v float64) Value    { return Value{Type: ValF64, lo: math.Float64bits(v)} }
func Bool(v bool) Value      { return Value{Type: ValBool, lo: boolWord(v)} }
func Char(v rune) Value      { return Value{Type: ValChar, lo: uint64(uint32(v))} }
func Str(v string) Value     { return Value{Type: ValStr, str: v} }
func Pointer(w uint64) Value { return Value{Type: ValPointer, lo: w} }

// U128 builds an unsigned 128-bit value from its high and low words.
func U128(hi, lo uint64) Value { return Value{Type: ValU128, hi: hi, lo: lo} }

// I128 builds a signed 128-bit value from its two's-complement words.
func I128(hi, lo uint64) Value { return Value{Type: ValI128, hi: hi, lo: lo} }

// I128From sign-extends v into a signed 128-bit value.
func I128From(v int64) Value {
	hi := uint64(0)
	if v < 0 {
		hi = math.MaxUint64
	}
	return Value{Type: ValI128, hi: hi, lo: uint64(v)}
}

func boolWord(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Name returns the stable, user-facing type name.
func (v Value) Name() string {
	return v.Type.String()
}

func (v Value) IsNone() bool { return v.Type == ValNone }
func (v Value) IsNull() bool { return v.Type == ValNull }

// IsBoxed reports whether the payload lives in a Collector.
func (v Value) IsBoxed() bool {
	return v.Type == ValGcUint || v.Type == ValGcInt || v.Type == ValGcString
}

// Ref returns the heap reference of a boxed value, or the zero Ref.
func (v Value) Ref() Ref {
	if v.IsBoxed() {
		return v.ref
	}
	return Ref{}
}

// Uint64 returns the payload of an unsigned fixed-width value up to 64 bits
// or the word of a pointer.
func (v Value) Uint64() uint64 { return v.lo }

// Int64 returns the payload of a signed fixed-width value up to 64 bits.
func (v Value) Int64() int64 { return int64(v.lo) }

// Words returns the (hi, lo) words of a 128-bit value.
func (v Value) Words() (hi, lo uint64) { return v.hi, v.lo }

func (v Value) Float32() float32 { return math.Float32frombits(uint32(v.lo)) }
func (v Value) Float64() float64 { return math.Float64frombits(v.lo) }
func (v Value) AsBool() bool     { return v.lo != 0 }
func (v Value) AsChar() rune     { return rune(uint32(v.lo)) }

// AsStr returns the content of a borrowed string.
func (v Value) AsStr() string { return v.str }

// StringContent returns the text of either string variant.
func (v Value) StringContent(c *Collector) (string, error) {
	switch v.Type {
	case ValStr:
		return v.str, nil
	case ValGcString:
		return c.fetchString(v.ref)
	}
	return "", newError(KindIncompatibleTypes, "value of type '%s' is not a string", v.Name())
}

// BigInt returns the exact integer held by any integer variant.
func (v Value) BigInt(c *Collector) (*big.Int, error) {
	if v.Type == ValGcInt || v.Type == ValGcUint {
		return c.fetchBig(v.ref)
	}
	if _, ok := tierOf(v.Type); ok {
		return v.toBig(), nil
	}
	return nil, newError(KindIncompatibleTypes, "value of type '%s' is not an integer", v.Name())
}

func (v Value) isString() bool {
	return v.Type == ValStr || v.Type == ValGcString
}

// ---------------------------------------------------------------------------
// Equality, rendering and release
// ---------------------------------------------------------------------------

// IsEqual compares two values. It fails with a null-value error when either
// side is None. Floats use IEEE-754 equality, so NaN is unequal to
// everything including itself. Pairs that are not comparable compare
// unequal rather than failing.
func (v Value) IsEqual(other Value, c *Collector) (bool, error) {
	if v.Type == ValNone || other.Type == ValNone {
		return false, newError(KindNullValue,
			"Values of types '%s' and '%s' cannot be equal", v.Name(), other.Name())
	}

	if v.isString() && other.isString() {
		left, err := v.StringContent(c)
		if err != nil {
			return false, err
		}
		right, err := other.StringContent(c)
		if err != nil {
			return false, err
		}
		return left == right, nil
	}

	if v.Type != other.Type {
		return false, nil
	}

	switch v.Type {
	case ValF32:
		return v.Float32() == other.Float32(), nil
	case ValF64:
		return v.Float64() == other.Float64(), nil
	case ValGcInt, ValGcUint:
		left, err := c.fetchBig(v.ref)
		if err != nil {
			return false, err
		}
		right, err := c.fetchBig(other.ref)
		if err != nil {
			return false, err
		}
		return left.Cmp(right) == 0, nil
	case ValNull:
		return true, nil
	}
	return v.lo == other.lo && v.hi == other.hi, nil
}

// ToString renders the value the way Print writes it.
func (v Value) ToString(c *Collector) (string, error) {
	switch v.Type {
	case ValByte, ValU16, ValU32, ValU64:
		return strconv.FormatUint(v.lo, 10), nil
	case ValIByte, ValI16, ValI32, ValI64:
		return strconv.FormatInt(int64(v.lo), 10), nil
	case ValU128, ValI128:
		return v.toBig().String(), nil
	case ValF32:
		return formatFloat(float64(v.Float32()), 32), nil
	case ValF64:
		return formatFloat(v.Float64(), 64), nil
	case ValBool:
		return strconv.FormatBool(v.AsBool()), nil
	case ValPointer:
		return fmt.Sprintf("0x%x", v.lo), nil
	case ValChar:
		return string(v.AsChar()), nil
	case ValStr:
		return v.str, nil
	case ValGcString:
		return c.fetchString(v.ref)
	case ValGcInt, ValGcUint:
		n, err := c.fetchBig(v.ref)
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case ValNull:
		return "null", nil
	case ValNone:
		return "NoneType", nil
	}
	return "", newError(KindUnsupportedOperation, "cannot render value of type %d", v.Type)
}

func formatFloat(f float64, bits int) string {
	switch {
	case math.IsNaN(f):
		return "NaN"
	case math.IsInf(f, 1):
		return "inf"
	case math.IsInf(f, -1):
		return "-inf"
	}
	return strconv.FormatFloat(f, 'f', -1, bits)
}

// String implements fmt.Stringer for diagnostics. It never touches a
// collector, so boxed values render as their handle.
func (v Value) String() string {
	switch v.Type {
	case ValGcString, ValGcInt, ValGcUint:
		return fmt.Sprintf("%s(#%d)", v.Name(), v.ref.index)
	case ValStr:
		return strconv.Quote(v.str)
	case ValChar:
		return strconv.QuoteRune(v.AsChar())
	}
	s, _ := v.ToString(nil)
	return v.Name() + "(" + s + ")"
}

// Drop releases any heap payload the value owns and turns it into None.
func (v *Value) Drop(c *Collector) error {
	if v.IsBoxed() {
		if err := c.release(v.ref); err != nil {
			return err
		}
	}
	*v = Value{}
	return nil
}

// clone returns a value with its own heap payload, so the copy can be
// dropped without affecting v.
func (v Value) clone(c *Collector) (Value, error) {
	switch v.Type {
	case ValGcString:
		s, err := c.fetchString(v.ref)
		if err != nil {
			return Value{}, err
		}
		return c.allocString(s)
	case ValGcInt, ValGcUint:
		n, err := c.fetchBig(v.ref)
		if err != nil {
			return Value{}, err
		}
		return c.allocBig(n, v.Type == ValGcInt)
	}
	return v, nil
}
