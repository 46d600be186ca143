// Package vm implements the crunch register machine.
//
// This package contains:
//   - Tagged value representation with upflowing integer arithmetic
//   - Generational-handle heap and mark-and-sweep Collector
//   - Instruction set and the switch-dispatch interpreter
//   - Threaded JIT compiler sharing the interpreter's opcode handlers
//   - Call profiler gating callee compilation
package vm
