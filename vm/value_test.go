package vm

import (
	"errors"
	"math"
	"math/big"
	"testing"
)

func TestAddUpflowingStaysAtWidth(t *testing.T) {
	got, err := Byte(4).AddUpflowing(Byte(1), nil)
	if err != nil {
		t.Fatalf("AddUpflowing: %v", err)
	}
	if got.Type != ValByte || got.Uint64() != 5 {
		t.Errorf("Byte(4)+Byte(1) = %s, want byte(5)", got)
	}
}

func TestAddUpflowingPromotes(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Value
		wantType ValueType
		want     string
	}{
		{"byte to u16", Byte(200), Byte(100), ValU16, "300"},
		{"u16 to u32", U16(65535), U16(1), ValU32, "65536"},
		{"u32 to u64", U32(math.MaxUint32), U32(1), ValU64, "4294967296"},
		{"u64 to u128", U64(math.MaxUint64), U64(1), ValU128, "18446744073709551616"},
		{"ibyte to i16", IByte(100), IByte(100), ValI16, "200"},
		{"ibyte negative", IByte(-100), IByte(-100), ValI16, "-200"},
		{"i32 to i64", I32(math.MaxInt32), I32(1), ValI64, "2147483648"},
		{"i64 to i128", I64(math.MinInt64), I64(-1), ValI128, "-9223372036854775809"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.a.AddUpflowing(tt.b, nil)
			if err != nil {
				t.Fatalf("AddUpflowing: %v", err)
			}
			if got.Type != tt.wantType {
				t.Errorf("type = %s, want %s", got.Type, tt.wantType)
			}
			s, _ := got.ToString(nil)
			if s != tt.want {
				t.Errorf("value = %s, want %s", s, tt.want)
			}
		})
	}
}

func TestUpflowingPastWidestWidthBoxes(t *testing.T) {
	c := NewCollector(0)
	top := U128(math.MaxUint64, math.MaxUint64)
	got, err := top.AddUpflowing(U128(0, 1), c)
	if err != nil {
		t.Fatalf("AddUpflowing: %v", err)
	}
	if got.Type != ValGcUint {
		t.Fatalf("type = %s, want biguint", got.Type)
	}
	n, err := got.BigInt(c)
	if err != nil {
		t.Fatalf("BigInt: %v", err)
	}
	want := new(big.Int).Lsh(big.NewInt(1), 128)
	if n.Cmp(want) != 0 {
		t.Errorf("value = %s, want %s", n, want)
	}

	// boxed arithmetic stays boxed
	sum, err := got.AddUpflowing(got, c)
	if err != nil {
		t.Fatalf("boxed AddUpflowing: %v", err)
	}
	s, _ := sum.ToString(c)
	if s != new(big.Int).Lsh(big.NewInt(1), 129).String() {
		t.Errorf("boxed sum = %s", s)
	}
}

func TestArithmeticErrors(t *testing.T) {
	tests := []struct {
		name string
		run  func() (Value, error)
		kind ErrorKind
	}{
		{"none left", func() (Value, error) { return None().AddUpflowing(Byte(1), nil) }, KindNullValue},
		{"none right", func() (Value, error) { return Byte(1).AddUpflowing(None(), nil) }, KindNullValue},
		{"mismatch", func() (Value, error) { return Byte(1).AddUpflowing(U16(1), nil) }, KindIncompatibleTypes},
		{"bool add", func() (Value, error) { return Bool(true).AddUpflowing(Bool(true), nil) }, KindIncompatibleTypes},
		{"unsigned below zero", func() (Value, error) { return Byte(1).SubUpflowing(Byte(2), nil) }, KindOverflow},
		{"u64 below zero", func() (Value, error) { return U64(1).SubUpflowing(U64(2), nil) }, KindOverflow},
		{"divide by zero", func() (Value, error) { return I32(1).DivUpflowing(I32(0), nil) }, KindDivideByZero},
		{"wide divide by zero", func() (Value, error) { return U128(0, 1).DivUpflowing(U128(0, 0), nil) }, KindDivideByZero},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.run()
			if err == nil {
				t.Fatal("expected error")
			}
			if KindOf(err) != tt.kind {
				t.Errorf("kind = %s, want %s (%v)", KindOf(err), tt.kind, err)
			}
		})
	}
}

func TestSignedDivisionOverflowPromotes(t *testing.T) {
	got, err := IByte(math.MinInt8).DivUpflowing(IByte(-1), nil)
	if err != nil {
		t.Fatalf("DivUpflowing: %v", err)
	}
	if got.Type != ValI16 || got.Int64() != 128 {
		t.Errorf("MIN/-1 = %s, want int16(128)", got)
	}
}

func TestFloatArithmetic(t *testing.T) {
	got, err := F64(1.5).MultUpflowing(F64(2), nil)
	if err != nil {
		t.Fatalf("MultUpflowing: %v", err)
	}
	if got.Type != ValF64 || got.Float64() != 3 {
		t.Errorf("1.5*2 = %s", got)
	}

	inf, err := F32(1).DivUpflowing(F32(0), nil)
	if err != nil {
		t.Fatalf("float division by zero should not fail: %v", err)
	}
	if s, _ := inf.ToString(nil); s != "inf" {
		t.Errorf("1/0 renders as %q, want inf", s)
	}
}

func TestStringConcatenation(t *testing.T) {
	c := NewCollector(0)
	got, err := Str("foo").AddUpflowing(Str("bar"), c)
	if err != nil {
		t.Fatalf("AddUpflowing: %v", err)
	}
	if got.Type != ValGcString {
		t.Fatalf("type = %s, want a heap string", got.Type)
	}
	again, err := got.AddUpflowing(Str("!"), c)
	if err != nil {
		t.Fatalf("mixed concat: %v", err)
	}
	s, err := again.ToString(c)
	if err != nil || s != "foobar!" {
		t.Errorf("concat = %q, %v", s, err)
	}
	if c.Live() != 2 {
		t.Errorf("live = %d, want 2", c.Live())
	}
}

func TestIsEqual(t *testing.T) {
	c := NewCollector(0)
	heap, _ := c.allocString("abc")

	tests := []struct {
		name string
		a, b Value
		want bool
	}{
		{"same ints", I32(7), I32(7), true},
		{"different ints", I32(7), I32(8), false},
		{"mismatched widths", Byte(7), U16(7), false},
		{"null", Null(), Null(), true},
		{"borrowed and heap strings", Str("abc"), heap, true},
		{"nan", F64(math.NaN()), F64(math.NaN()), false},
		{"signed zeros", F64(0), F64(math.Copysign(0, -1)), true},
		{"chars", Char('x'), Char('x'), true},
		{"i128", I128From(-1), I128From(-1), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.a.IsEqual(tt.b, c)
			if err != nil {
				t.Fatalf("IsEqual: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsEqual = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsEqualNoneFails(t *testing.T) {
	for _, pair := range [][2]Value{{None(), I32(1)}, {I32(1), None()}, {None(), None()}} {
		ok, err := pair[0].IsEqual(pair[1], nil)
		if !errors.Is(err, ErrNullValue) {
			t.Errorf("%s == %s: err = %v, want a null-value error", pair[0], pair[1], err)
		}
		if ok {
			t.Errorf("%s == %s reported true", pair[0], pair[1])
		}
	}
}

func TestCompare(t *testing.T) {
	order, ok, err := I64(-3).Compare(I64(2), nil)
	if err != nil || !ok || order != -1 {
		t.Errorf("Compare(-3, 2) = %d, %v, %v", order, ok, err)
	}
	order, ok, err = U128(1, 0).Compare(U128(0, math.MaxUint64), nil)
	if err != nil || !ok || order != 1 {
		t.Errorf("Compare on u128 = %d, %v, %v", order, ok, err)
	}
	_, ok, err = F32(float32(math.NaN())).Compare(F32(1), nil)
	if err != nil || ok {
		t.Errorf("NaN comparison should be unordered, got ok=%v err=%v", ok, err)
	}
	if _, _, err := Byte(1).Compare(I32(1), nil); KindOf(err) != KindIncompatibleTypes {
		t.Errorf("mismatched Compare err = %v", err)
	}
}

func TestBitwise(t *testing.T) {
	got, err := Byte(0b1100).BitAnd(Byte(0b1010), nil)
	if err != nil || got.Uint64() != 0b1000 {
		t.Errorf("BitAnd = %s, %v", got, err)
	}
	got, err = I16(-1).BitXor(I16(0x0F), nil)
	if err != nil || got.Int64() != -16 {
		t.Errorf("BitXor = %s, %v", got, err)
	}
	got, err = Bool(true).BitOr(Bool(false), nil)
	if err != nil || !got.AsBool() {
		t.Errorf("BitOr on bools = %s, %v", got, err)
	}
	got, err = Byte(0x0F).BitNot(nil)
	if err != nil || got.Type != ValByte || got.Uint64() != 0xF0 {
		t.Errorf("BitNot(byte 0x0F) = %s, %v", got, err)
	}
	got, err = I32(0).BitNot(nil)
	if err != nil || got.Int64() != -1 {
		t.Errorf("BitNot(int 0) = %s, %v", got, err)
	}

	if _, err := F64(1).BitAnd(F64(1), nil); KindOf(err) != KindUnsupportedOperation {
		t.Errorf("float BitAnd err = %v", err)
	}
	if _, err := Byte(1).BitOr(U16(1), nil); KindOf(err) != KindIncompatibleTypes {
		t.Errorf("mismatched BitOr err = %v", err)
	}
	if _, err := None().BitNot(nil); KindOf(err) != KindNullValue {
		t.Errorf("BitNot(None) err = %v", err)
	}
}

func TestBoxedBitwise(t *testing.T) {
	c := NewCollector(0)
	a, _ := c.allocBig(new(big.Int).Lsh(big.NewInt(1), 130), false)
	b, _ := c.allocBig(big.NewInt(1), false)
	got, err := a.BitOr(b, c)
	if err != nil {
		t.Fatalf("BitOr: %v", err)
	}
	n, _ := got.BigInt(c)
	want := new(big.Int).Add(new(big.Int).Lsh(big.NewInt(1), 130), big.NewInt(1))
	if n.Cmp(want) != 0 {
		t.Errorf("BitOr = %s, want %s", n, want)
	}
	if _, err := a.BitNot(c); KindOf(err) != KindUnsupportedOperation {
		t.Errorf("BitNot(biguint) err = %v", err)
	}
}

func TestNames(t *testing.T) {
	tests := map[string]Value{
		"byte":     Byte(1),
		"uint16":   U16(1),
		"int":      I32(1),
		"float":    F32(1),
		"float64":  F64(1),
		"bool":     Bool(true),
		"char":     Char('a'),
		"str":      Str("a"),
		"null":     Null(),
		"NoneType": None(),
	}
	for want, v := range tests {
		if got := v.Name(); got != want {
			t.Errorf("Name() = %q, want %q", got, want)
		}
	}
}

func TestValueDrop(t *testing.T) {
	c := NewCollector(0)
	v, _ := c.allocString("gone")
	ref := v.Ref()
	if err := v.Drop(c); err != nil {
		t.Fatalf("Drop: %v", err)
	}
	if !v.IsNone() {
		t.Errorf("dropped value is %s, want None", v)
	}
	if c.Valid(ref) {
		t.Error("payload still live after Drop")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	values := []Value{
		None(), Null(), Byte(0xAB), U16(0xBEEF), U32(0xDEADBEEF), U64(math.MaxUint64),
		U128(0x0102030405060708, 0x090A0B0C0D0E0F10),
		IByte(-5), I16(-300), I32(math.MinInt32), I64(math.MinInt64), I128From(-42),
		F32(1.25), F64(-2.5e300), Pointer(0xFEEDFACE), Bool(true), Bool(false), Char('é'),
	}
	for _, v := range values {
		b, err := EncodeValue(v, nil)
		if err != nil {
			t.Fatalf("EncodeValue(%s): %v", v, err)
		}
		if ValueType(b[0]) != v.Type {
			t.Errorf("tag of %s = 0x%02X", v, b[0])
		}
		got, err := DecodeValue(b, nil)
		if err != nil {
			t.Fatalf("DecodeValue(%s): %v", v, err)
		}
		if got.Type != v.Type || got.lo != v.lo || got.hi != v.hi {
			t.Errorf("round trip of %s gave %s", v, got)
		}
	}
}

func TestEncodeDecodeStrings(t *testing.T) {
	c := NewCollector(0)
	b, err := EncodeValue(Str("héllo"), c)
	if err != nil {
		t.Fatalf("EncodeValue: %v", err)
	}
	if b[0] != 0x11 || string(b[1:]) != "héllo" {
		t.Errorf("encoding = % x", b)
	}

	got, err := DecodeValue(b, c)
	if err != nil {
		t.Fatalf("DecodeValue: %v", err)
	}
	// a collector turns the borrowed constant into a heap string that
	// keeps the borrowed type name
	if got.Type != ValGcString || !got.IsBoxed() {
		t.Errorf("decoded type = %d, want a heap string", got.Type)
	}
	if got.Name() != "str" {
		t.Errorf("decoded name = %q, want %q", got.Name(), "str")
	}
	if c.Live() != 1 {
		t.Errorf("live payloads after decode = %d, want 1", c.Live())
	}
	if s, _ := got.StringContent(c); s != "héllo" {
		t.Errorf("decoded content = %q", s)
	}

	// heap strings encode like borrowed ones
	again, err := EncodeValue(got, c)
	if err != nil || string(again) != string(b) {
		t.Errorf("heap string encoding = % x, %v", again, err)
	}

	borrowed, err := DecodeValue(b, nil)
	if err != nil || borrowed.Type != ValStr || borrowed.AsStr() != "héllo" {
		t.Errorf("decode without collector = %s, %v", borrowed, err)
	}
}

func TestEncodeDecodeRejects(t *testing.T) {
	c := NewCollector(0)
	boxed, _ := c.allocBig(big.NewInt(1), true)
	if _, err := EncodeValue(boxed, c); KindOf(err) != KindUnsupportedOperation {
		t.Errorf("encoding a bigint: err = %v", err)
	}

	bad := [][]byte{
		{},
		{0x04, 1, 2},          // truncated u32
		{0x02, 1, 2},          // trailing byte
		{0x12},                // heap tag has no encoding
		{0x11, 0xFF, 0xFE},    // invalid UTF-8
		{0x10, 0, 0xD8, 0, 0}, // surrogate code point
	}
	for _, b := range bad {
		if _, err := DecodeValue(b, c); KindOf(err) != KindInvalidInstruction {
			t.Errorf("DecodeValue(% x): err = %v, want invalid instruction", b, err)
		}
	}
}
