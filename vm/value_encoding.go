package vm

import (
	"encoding/binary"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Value byte encoding: the per-constant format used by program files
// ---------------------------------------------------------------------------
//
// Every encoded value is a one-byte tag (equal to the ValueType) followed by
// a little-endian fixed-width payload. Strings are the tag followed by the
// raw UTF-8 bytes; their length is the rest of the buffer.

// payloadWidth maps an encodable tag to its payload size. -1 means the
// payload runs to the end of the buffer.
var payloadWidth = map[ValueType]int{
	ValNone:    0,
	ValNull:    0,
	ValByte:    1,
	ValU16:     2,
	ValU32:     4,
	ValU64:     8,
	ValU128:    16,
	ValIByte:   1,
	ValI16:     2,
	ValI32:     4,
	ValI64:     8,
	ValI128:    16,
	ValF32:     4,
	ValF64:     8,
	ValPointer: 8,
	ValBool:    1,
	ValChar:    4,
	ValStr:     -1,
}

// EncodeValue returns the byte encoding of v. Heap strings encode with the
// same tag and content as borrowed strings; heap integers have no encoding.
func EncodeValue(v Value, c *Collector) ([]byte, error) {
	switch v.Type {
	case ValStr, ValGcString:
		s, err := v.StringContent(c)
		if err != nil {
			return nil, err
		}
		buf := make([]byte, 0, len(s)+1)
		buf = append(buf, byte(ValStr))
		return append(buf, s...), nil
	case ValGcInt, ValGcUint:
		return nil, newError(KindUnsupportedOperation, "values of type '%s' have no byte encoding", v.Name())
	}

	width, ok := payloadWidth[v.Type]
	if !ok {
		return nil, newError(KindUnsupportedOperation, "values of type %d have no byte encoding", v.Type)
	}

	buf := make([]byte, 1+width)
	buf[0] = byte(v.Type)
	switch width {
	case 1:
		buf[1] = byte(v.lo)
	case 2:
		binary.LittleEndian.PutUint16(buf[1:], uint16(v.lo))
	case 4:
		binary.LittleEndian.PutUint32(buf[1:], uint32(v.lo))
	case 8:
		binary.LittleEndian.PutUint64(buf[1:], v.lo)
	case 16:
		binary.LittleEndian.PutUint64(buf[1:], v.lo)
		binary.LittleEndian.PutUint64(buf[9:], v.hi)
	}
	return buf, nil
}

// DecodeValue parses one encoded value occupying all of b.
//
// A string decodes differently depending on c. With a collector it is
// allocated in c and comes back as a ValGcString, not the ValStr that was
// encoded: Name still reports "str" and the value encodes to the same
// bytes, but the caller now holds a heap payload subject to c's limit and
// collections. With a nil collector it decodes as a borrowed ValStr.
func DecodeValue(b []byte, c *Collector) (Value, error) {
	if len(b) == 0 {
		return Value{}, newError(KindInvalidInstruction, "cannot decode a value from an empty buffer")
	}

	t := ValueType(b[0])
	width, ok := payloadWidth[t]
	if !ok {
		return Value{}, newError(KindInvalidInstruction, "unknown value tag 0x%02X", b[0])
	}
	payload := b[1:]

	if t == ValStr {
		if !utf8.Valid(payload) {
			return Value{}, newError(KindInvalidInstruction, "string constant is not valid UTF-8")
		}
		if c == nil {
			return Str(string(payload)), nil
		}
		return c.allocString(string(payload))
	}

	if len(payload) != width {
		return Value{}, newError(KindInvalidInstruction,
			"value tag 0x%02X expects %d payload bytes, got %d", b[0], width, len(payload))
	}

	v := Value{Type: t}
	switch t {
	case ValByte, ValBool:
		v.lo = uint64(payload[0])
	case ValIByte:
		v.lo = uint64(int64(int8(payload[0])))
	case ValU16:
		v.lo = uint64(binary.LittleEndian.Uint16(payload))
	case ValI16:
		v.lo = uint64(int64(int16(binary.LittleEndian.Uint16(payload))))
	case ValU32, ValF32:
		v.lo = uint64(binary.LittleEndian.Uint32(payload))
	case ValI32:
		v.lo = uint64(int64(int32(binary.LittleEndian.Uint32(payload))))
	case ValU64, ValI64, ValF64, ValPointer:
		v.lo = binary.LittleEndian.Uint64(payload)
	case ValU128, ValI128:
		v.lo = binary.LittleEndian.Uint64(payload[:8])
		v.hi = binary.LittleEndian.Uint64(payload[8:])
	case ValChar:
		r := rune(binary.LittleEndian.Uint32(payload))
		if !utf8.ValidRune(r) {
			return Value{}, newError(KindInvalidInstruction, "0x%X is not a valid char", uint32(r))
		}
		v.lo = uint64(uint32(r))
	}

	if t == ValBool {
		v.lo = boolWord(payload[0] > 0)
	}
	return v, nil
}
