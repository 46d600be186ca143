// Package bytecode reads and writes compiled crunch programs.
//
// A program file (conventionally with the .crunched extension) is a CBOR
// map holding a magic tag, a format version, a program ID, the entry code
// and the callable function table. Each instruction is stored as its own
// CBOR byte string:
//
//	[opcode] [operands]
//
// where the operand bytes follow the opcode's shape in the vm opcode table:
//
//	value, reg   [reg] [encoded value]   (the value runs to the end)
//	reg          [reg]
//	reg, reg     [a] [b]
//	offset       [int32 little-endian]
//	index        [uint32 little-endian]
//
// Constants use the per-value byte encoding from vm.EncodeValue.
//
// Validate checks a decoded program for problems the interpreter would
// only discover at run time, and Disassemble renders a listing.
package bytecode
