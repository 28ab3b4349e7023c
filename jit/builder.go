package jit

// Convenience constructors over Inst, used by tests and the cmd/ubpfjit
// demo programs to build small eBPF instruction streams without
// spelling out opcode bytes by hand. Modeled on the Block-style
// per-mnemonic builder methods used for the same purpose elsewhere in
// the retrieval pack (a fixed opcode per mnemonic, register and
// immediate operands filled in by the caller).

func aluImm(class Class, op ALUOp, dst Register, imm int32) Inst {
	return Inst{OpCode: opcode(class, SrcImm, uint8(op)), Dst: dst, Imm: imm}
}

func aluReg(class Class, op ALUOp, dst, src Register) Inst {
	return Inst{OpCode: opcode(class, SrcReg, uint8(op)), Dst: dst, Src: src}
}

func Mov64Imm(dst Register, imm int32) Inst { return aluImm(ClassAlu64, ALUMov, dst, imm) }
func Mov64Reg(dst, src Register) Inst       { return aluReg(ClassAlu64, ALUMov, dst, src) }
func Mov32Imm(dst Register, imm int32) Inst { return aluImm(ClassAlu, ALUMov, dst, imm) }
func Mov32Reg(dst, src Register) Inst       { return aluReg(ClassAlu, ALUMov, dst, src) }

func Add64Imm(dst Register, imm int32) Inst { return aluImm(ClassAlu64, ALUAdd, dst, imm) }
func Add64Reg(dst, src Register) Inst       { return aluReg(ClassAlu64, ALUAdd, dst, src) }
func Sub64Imm(dst Register, imm int32) Inst { return aluImm(ClassAlu64, ALUSub, dst, imm) }
func Sub64Reg(dst, src Register) Inst       { return aluReg(ClassAlu64, ALUSub, dst, src) }
func Add32Imm(dst Register, imm int32) Inst { return aluImm(ClassAlu, ALUAdd, dst, imm) }
func Add32Reg(dst, src Register) Inst       { return aluReg(ClassAlu, ALUAdd, dst, src) }
func Sub32Imm(dst Register, imm int32) Inst { return aluImm(ClassAlu, ALUSub, dst, imm) }
func Sub32Reg(dst, src Register) Inst       { return aluReg(ClassAlu, ALUSub, dst, src) }

func And64Imm(dst Register, imm int32) Inst { return aluImm(ClassAlu64, ALUAnd, dst, imm) }
func Or64Imm(dst Register, imm int32) Inst  { return aluImm(ClassAlu64, ALUOr, dst, imm) }
func Xor64Imm(dst Register, imm int32) Inst { return aluImm(ClassAlu64, ALUXor, dst, imm) }

func DivReg(dst, src Register) Inst   { return aluReg(ClassAlu64, ALUDiv, dst, src) }
func DivImm(dst Register, imm int32) Inst { return aluImm(ClassAlu64, ALUDiv, dst, imm) }
func ModReg(dst, src Register) Inst   { return aluReg(ClassAlu64, ALUMod, dst, src) }
func ModImm(dst Register, imm int32) Inst { return aluImm(ClassAlu64, ALUMod, dst, imm) }
func MulReg(dst, src Register) Inst   { return aluReg(ClassAlu64, ALUMul, dst, src) }
func MulImm(dst Register, imm int32) Inst { return aluImm(ClassAlu64, ALUMul, dst, imm) }

// BE64 byte-swaps the 64-bit value in dst. BE16/BE32 are the 16/32-bit
// forms; imm carries the width, per the eBPF ISA's single BE opcode.
func BE16(dst Register) Inst { return Inst{OpCode: OpBE, Dst: dst, Imm: 16} }
func BE32(dst Register) Inst { return Inst{OpCode: OpBE, Dst: dst, Imm: 32} }
func BE64(dst Register) Inst { return Inst{OpCode: OpBE, Dst: dst, Imm: 64} }

// LDDW returns the two instruction slots that together load a 64-bit
// immediate into dst; both must be appended to the program in order.
func LDDW(dst Register, imm uint64) [2]Inst {
	return [2]Inst{
		{OpCode: OpLDDW, Dst: dst, Imm: int32(uint32(imm))},
		{OpCode: 0, Imm: int32(uint32(imm >> 32))},
	}
}

func JA(offset int16) Inst { return Inst{OpCode: OpJA, Offset: offset} }

func jumpImm(op JumpOp, dst Register, imm int32, offset int16) Inst {
	return Inst{OpCode: opcode(ClassJmp, SrcImm, uint8(op)), Dst: dst, Imm: imm, Offset: offset}
}

func jumpReg(op JumpOp, dst, src Register, offset int16) Inst {
	return Inst{OpCode: opcode(ClassJmp, SrcReg, uint8(op)), Dst: dst, Src: src, Offset: offset}
}

func JEqImm(dst Register, imm int32, offset int16) Inst  { return jumpImm(JumpEq, dst, imm, offset) }
func JEqReg(dst, src Register, offset int16) Inst         { return jumpReg(JumpEq, dst, src, offset) }
func JGtImm(dst Register, imm int32, offset int16) Inst  { return jumpImm(JumpGt, dst, imm, offset) }
func JGtReg(dst, src Register, offset int16) Inst         { return jumpReg(JumpGt, dst, src, offset) }
func JNeImm(dst Register, imm int32, offset int16) Inst  { return jumpImm(JumpNe, dst, imm, offset) }
func JNeReg(dst, src Register, offset int16) Inst         { return jumpReg(JumpNe, dst, src, offset) }
func JSetImm(dst Register, imm int32, offset int16) Inst { return jumpImm(JumpSet, dst, imm, offset) }
func JSetReg(dst, src Register, offset int16) Inst        { return jumpReg(JumpSet, dst, src, offset) }

// Call invokes the extern function at ext_funcs[imm].
func Call(imm int32) Inst { return Inst{OpCode: OpCall, Imm: imm} }

// Exit returns from the program with r0 as the result.
func Exit() Inst { return Inst{OpCode: OpExit} }

func LoadReg(size Size, dst, src Register, offset int16) Inst {
	return Inst{OpCode: opcodeMem(ClassLdx, size), Dst: dst, Src: src, Offset: offset}
}

func StoreReg(size Size, dst, src Register, offset int16) Inst {
	return Inst{OpCode: opcodeMem(ClassStx, size), Dst: dst, Src: src, Offset: offset}
}

func StoreImm(size Size, dst Register, offset int16, imm int32) Inst {
	return Inst{OpCode: opcodeMem(ClassSt, size), Dst: dst, Offset: offset, Imm: imm}
}
