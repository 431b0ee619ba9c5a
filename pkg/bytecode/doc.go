// Package bytecode defines the instruction set executed by the technetium VM
// and the containers a compiler uses to hand code over to it.
//
// # Architecture Overview
//
//   - Opcodes: a one-byte stack instruction set grouped into ranges by
//     category. Every opcode has an OpcodeInfo entry documenting its operand
//     length and its operand-stack arity; the VM relies on that contract.
//
//   - Chunk: the compiled body of one function. It carries the code, a
//     literal pool, an identifier pool, nested function bodies for closures,
//     capture descriptors and a source map (the debug symbol table).
//
//   - Program: the top-level chunk plus optional source text, serialized with
//     canonical CBOR for interchange between a compiler and the VM.
//
//   - Validate: rejects malformed instruction streams before execution
//     (unknown opcodes, dangling pool references, misaligned jumps, and
//     operand stack underflow or depth mismatches on any path).
//
//   - Assemble / Disassemble: a textual form of chunks for tests and tooling.
//
// # Encoding
//
// Operands are big-endian. Jump offsets are signed 16-bit deltas measured
// from the end of the jump instruction. Binary operators take their right
// operand from the top of the stack.
//
// # Example
//
//	c := bytecode.NewChunk("main")
//	c.EmitConstant(bytecode.IntConst(40))
//	c.EmitConstant(bytecode.IntConst(2))
//	c.Emit(bytecode.OpAdd)
//	c.Emit(bytecode.OpReturn)
//	prog := bytecode.NewProgram("answer", c)
package bytecode
