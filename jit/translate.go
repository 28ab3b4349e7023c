package jit

import "github.com/pkg/errors"

// UBPFStackSize is the size, in bytes, of the scratch stack space the
// prologue carves out of RSP for the translated program's own use,
// matching upstream uBPF's fixed stack budget.
const UBPFStackSize = 512

// stagingBufSize is the size of the writable buffer translation emits
// into before it is copied into an executable mapping. Conservative:
// a real eBPF program is capped at a few thousand instructions and no
// single instruction lowers to more than a few dozen bytes.
const stagingBufSize = 64 * 1024

// x86-64 Jcc condition codes (the low nibble of 0F 8x), one per eBPF
// jump condition that compares via CMP.
const (
	ccE  = 0x4 // ZF=1 (EQ)
	ccA  = 0x7 // unsigned >
	ccAE = 0x3 // unsigned >=
	ccB  = 0x2 // unsigned <
	ccBE = 0x6 // unsigned <=
	ccNE = 0x5
	ccG  = 0xf // signed >
	ccGE = 0xd
	ccL  = 0xc
	ccLE = 0xe
)

// translate lowers vm's instruction stream into s, emitting a
// standard prologue, one code block per eBPF instruction, and a
// shared epilogue plus divide-by-zero trampoline. It mirrors the
// original JIT's translate() instruction by instruction.
func translate(vm *VM, abi ABI, s *state) error {
	reg := func(r Register) X86Reg { return abi.Physical(r) }

	for _, nv := range abi.NonVolatile {
		s.asm.EmitPush(nv)
	}

	if reg(1) != abi.ParamRegs[0] {
		s.asm.EmitMov(abi.ParamRegs[0], reg(1))
	}
	s.asm.EmitMov(RSP, reg(10))
	s.asm.EmitAlu64Imm32(subSub, RSP, UBPFStackSize)

	insts := vm.Insts
	for i := 0; i < len(insts); i++ {
		inst := insts[i]
		s.markPC(i)

		dst := reg(inst.Dst)
		src := reg(inst.Src)
		targetPC := int32(i) + int32(inst.Offset) + 1

		switch inst.OpCode {
		// 32-bit ALU
		case opcode(ClassAlu, SrcImm, uint8(ALUAdd)):
			s.asm.EmitAlu32Imm32(subAdd, dst, inst.Imm)
		case opcode(ClassAlu, SrcReg, uint8(ALUAdd)):
			s.asm.EmitAlu32Reg(opAddEvGv, src, dst)
		case opcode(ClassAlu, SrcImm, uint8(ALUSub)):
			s.asm.EmitAlu32Imm32(subSub, dst, inst.Imm)
		case opcode(ClassAlu, SrcReg, uint8(ALUSub)):
			s.asm.EmitAlu32Reg(opSubEvGv, src, dst)
		case opcode(ClassAlu, SrcImm, uint8(ALUMul)),
			opcode(ClassAlu, SrcReg, uint8(ALUMul)),
			opcode(ClassAlu, SrcImm, uint8(ALUDiv)),
			opcode(ClassAlu, SrcReg, uint8(ALUDiv)),
			opcode(ClassAlu, SrcImm, uint8(ALUMod)),
			opcode(ClassAlu, SrcReg, uint8(ALUMod)):
			emitMulDivMod(s, int32(i), inst.OpCode, src, dst, inst.Imm)
		case opcode(ClassAlu, SrcImm, uint8(ALUOr)):
			s.asm.EmitAlu32Imm32(subOr, dst, inst.Imm)
		case opcode(ClassAlu, SrcReg, uint8(ALUOr)):
			s.asm.EmitAlu32Reg(opOrEvGv, src, dst)
		case opcode(ClassAlu, SrcImm, uint8(ALUAnd)):
			s.asm.EmitAlu32Imm32(subAnd, dst, inst.Imm)
		case opcode(ClassAlu, SrcReg, uint8(ALUAnd)):
			s.asm.EmitAlu32Reg(opAndEvGv, src, dst)
		case opcode(ClassAlu, SrcImm, uint8(ALULsh)):
			s.asm.EmitAlu32Imm8(subShl, dst, int8(inst.Imm))
		case opcode(ClassAlu, SrcReg, uint8(ALULsh)):
			s.asm.EmitMov(src, RCX)
			s.asm.EmitShiftCL32(subShl, dst)
		case opcode(ClassAlu, SrcImm, uint8(ALURsh)):
			s.asm.EmitAlu32Imm8(subShr, dst, int8(inst.Imm))
		case opcode(ClassAlu, SrcReg, uint8(ALURsh)):
			s.asm.EmitMov(src, RCX)
			s.asm.EmitShiftCL32(subShr, dst)
		case opcode(ClassAlu, SrcImm, uint8(ALUNeg)), opcode(ClassAlu, SrcReg, uint8(ALUNeg)):
			s.asm.EmitUnary32(subNeg, dst)
		case opcode(ClassAlu, SrcImm, uint8(ALUXor)):
			s.asm.EmitAlu32Imm32(subXor, dst, inst.Imm)
		case opcode(ClassAlu, SrcReg, uint8(ALUXor)):
			s.asm.EmitAlu32Reg(opXorEvGv, src, dst)
		case opcode(ClassAlu, SrcImm, uint8(ALUMov)):
			s.asm.EmitMovImm32(dst, inst.Imm)
		case opcode(ClassAlu, SrcReg, uint8(ALUMov)):
			s.asm.EmitAlu32Reg(opMovEvGv, src, dst)
		case opcode(ClassAlu, SrcImm, uint8(ALUArsh)):
			s.asm.EmitAlu32Imm8(subSar, dst, int8(inst.Imm))
		case opcode(ClassAlu, SrcReg, uint8(ALUArsh)):
			s.asm.EmitMov(src, RCX)
			s.asm.EmitShiftCL32(subSar, dst)

		case OpLE:
			// Host is little-endian; converting to little-endian is a no-op.
		case OpBE:
			switch inst.Imm {
			case 16:
				s.asm.EmitRol16And(dst)
			case 32:
				s.asm.EmitBswap(dst, false)
			case 64:
				s.asm.EmitBswap(dst, true)
			default:
				return errors.Errorf("Unknown instruction at PC %d: opcode %02x", i, inst.OpCode)
			}

		// 64-bit ALU
		case opcode(ClassAlu64, SrcImm, uint8(ALUAdd)):
			s.asm.EmitAlu64Imm32(subAdd, dst, inst.Imm)
		case opcode(ClassAlu64, SrcReg, uint8(ALUAdd)):
			s.asm.EmitAlu64Reg(opAddEvGv, src, dst)
		case opcode(ClassAlu64, SrcImm, uint8(ALUSub)):
			s.asm.EmitAlu64Imm32(subSub, dst, inst.Imm)
		case opcode(ClassAlu64, SrcReg, uint8(ALUSub)):
			s.asm.EmitAlu64Reg(opSubEvGv, src, dst)
		case opcode(ClassAlu64, SrcImm, uint8(ALUMul)),
			opcode(ClassAlu64, SrcReg, uint8(ALUMul)),
			opcode(ClassAlu64, SrcImm, uint8(ALUDiv)),
			opcode(ClassAlu64, SrcReg, uint8(ALUDiv)),
			opcode(ClassAlu64, SrcImm, uint8(ALUMod)),
			opcode(ClassAlu64, SrcReg, uint8(ALUMod)):
			emitMulDivMod(s, int32(i), inst.OpCode, src, dst, inst.Imm)
		case opcode(ClassAlu64, SrcImm, uint8(ALUOr)):
			s.asm.EmitAlu64Imm32(subOr, dst, inst.Imm)
		case opcode(ClassAlu64, SrcReg, uint8(ALUOr)):
			s.asm.EmitAlu64Reg(opOrEvGv, src, dst)
		case opcode(ClassAlu64, SrcImm, uint8(ALUAnd)):
			s.asm.EmitAlu64Imm32(subAnd, dst, inst.Imm)
		case opcode(ClassAlu64, SrcReg, uint8(ALUAnd)):
			s.asm.EmitAlu64Reg(opAndEvGv, src, dst)
		case opcode(ClassAlu64, SrcImm, uint8(ALULsh)):
			s.asm.EmitAlu64Imm8(subShl, dst, int8(inst.Imm))
		case opcode(ClassAlu64, SrcReg, uint8(ALULsh)):
			s.asm.EmitMov(src, RCX)
			s.asm.EmitShiftCL64(subShl, dst)
		case opcode(ClassAlu64, SrcImm, uint8(ALURsh)):
			s.asm.EmitAlu64Imm8(subShr, dst, int8(inst.Imm))
		case opcode(ClassAlu64, SrcReg, uint8(ALURsh)):
			s.asm.EmitMov(src, RCX)
			s.asm.EmitShiftCL64(subShr, dst)
		case opcode(ClassAlu64, SrcImm, uint8(ALUNeg)), opcode(ClassAlu64, SrcReg, uint8(ALUNeg)):
			s.asm.EmitUnary64(subNeg, dst)
		case opcode(ClassAlu64, SrcImm, uint8(ALUXor)):
			s.asm.EmitAlu64Imm32(subXor, dst, inst.Imm)
		case opcode(ClassAlu64, SrcReg, uint8(ALUXor)):
			s.asm.EmitAlu64Reg(opXorEvGv, src, dst)
		case opcode(ClassAlu64, SrcImm, uint8(ALUMov)):
			s.asm.EmitLoadImm(dst, int64(inst.Imm))
		case opcode(ClassAlu64, SrcReg, uint8(ALUMov)):
			s.asm.EmitMov(src, dst)
		case opcode(ClassAlu64, SrcImm, uint8(ALUArsh)):
			s.asm.EmitAlu64Imm8(subSar, dst, int8(inst.Imm))
		case opcode(ClassAlu64, SrcReg, uint8(ALUArsh)):
			s.asm.EmitMov(src, RCX)
			s.asm.EmitShiftCL64(subSar, dst)

		// Jumps
		case OpJA:
			s.addFixup(s.asm.EmitJmp(), targetPC)
		case opcode(ClassJmp, SrcImm, uint8(JumpEq)):
			s.asm.EmitCmpImm32(dst, inst.Imm)
			s.addFixup(s.asm.EmitJcc(ccE), targetPC)
		case opcode(ClassJmp, SrcReg, uint8(JumpEq)):
			s.asm.EmitCmp(src, dst)
			s.addFixup(s.asm.EmitJcc(ccE), targetPC)
		case opcode(ClassJmp, SrcImm, uint8(JumpGt)):
			s.asm.EmitCmpImm32(dst, inst.Imm)
			s.addFixup(s.asm.EmitJcc(ccA), targetPC)
		case opcode(ClassJmp, SrcReg, uint8(JumpGt)):
			s.asm.EmitCmp(src, dst)
			s.addFixup(s.asm.EmitJcc(ccA), targetPC)
		case opcode(ClassJmp, SrcImm, uint8(JumpGe)):
			s.asm.EmitCmpImm32(dst, inst.Imm)
			s.addFixup(s.asm.EmitJcc(ccAE), targetPC)
		case opcode(ClassJmp, SrcReg, uint8(JumpGe)):
			s.asm.EmitCmp(src, dst)
			s.addFixup(s.asm.EmitJcc(ccAE), targetPC)
		case opcode(ClassJmp, SrcImm, uint8(JumpLt)):
			s.asm.EmitCmpImm32(dst, inst.Imm)
			s.addFixup(s.asm.EmitJcc(ccB), targetPC)
		case opcode(ClassJmp, SrcReg, uint8(JumpLt)):
			s.asm.EmitCmp(src, dst)
			s.addFixup(s.asm.EmitJcc(ccB), targetPC)
		case opcode(ClassJmp, SrcImm, uint8(JumpLe)):
			s.asm.EmitCmpImm32(dst, inst.Imm)
			s.addFixup(s.asm.EmitJcc(ccBE), targetPC)
		case opcode(ClassJmp, SrcReg, uint8(JumpLe)):
			s.asm.EmitCmp(src, dst)
			s.addFixup(s.asm.EmitJcc(ccBE), targetPC)
		case opcode(ClassJmp, SrcImm, uint8(JumpSet)):
			s.asm.EmitTestImm64(dst, inst.Imm)
			s.addFixup(s.asm.EmitJcc(ccNE), targetPC)
		case opcode(ClassJmp, SrcReg, uint8(JumpSet)):
			s.asm.EmitTest64(src, dst)
			s.addFixup(s.asm.EmitJcc(ccNE), targetPC)
		case opcode(ClassJmp, SrcImm, uint8(JumpNe)):
			s.asm.EmitCmpImm32(dst, inst.Imm)
			s.addFixup(s.asm.EmitJcc(ccNE), targetPC)
		case opcode(ClassJmp, SrcReg, uint8(JumpNe)):
			s.asm.EmitCmp(src, dst)
			s.addFixup(s.asm.EmitJcc(ccNE), targetPC)
		case opcode(ClassJmp, SrcImm, uint8(JumpSgt)):
			s.asm.EmitCmpImm32(dst, inst.Imm)
			s.addFixup(s.asm.EmitJcc(ccG), targetPC)
		case opcode(ClassJmp, SrcReg, uint8(JumpSgt)):
			s.asm.EmitCmp(src, dst)
			s.addFixup(s.asm.EmitJcc(ccG), targetPC)
		case opcode(ClassJmp, SrcImm, uint8(JumpSge)):
			s.asm.EmitCmpImm32(dst, inst.Imm)
			s.addFixup(s.asm.EmitJcc(ccGE), targetPC)
		case opcode(ClassJmp, SrcReg, uint8(JumpSge)):
			s.asm.EmitCmp(src, dst)
			s.addFixup(s.asm.EmitJcc(ccGE), targetPC)
		case opcode(ClassJmp, SrcImm, uint8(JumpSlt)):
			s.asm.EmitCmpImm32(dst, inst.Imm)
			s.addFixup(s.asm.EmitJcc(ccL), targetPC)
		case opcode(ClassJmp, SrcReg, uint8(JumpSlt)):
			s.asm.EmitCmp(src, dst)
			s.addFixup(s.asm.EmitJcc(ccL), targetPC)
		case opcode(ClassJmp, SrcImm, uint8(JumpSle)):
			s.asm.EmitCmpImm32(dst, inst.Imm)
			s.addFixup(s.asm.EmitJcc(ccLE), targetPC)
		case opcode(ClassJmp, SrcReg, uint8(JumpSle)):
			s.asm.EmitCmp(src, dst)
			s.addFixup(s.asm.EmitJcc(ccLE), targetPC)

		case OpCall:
			s.asm.EmitMov(abi.RCXAlt, RCX)
			if int(inst.Imm) < 0 || int(inst.Imm) >= len(vm.ExtFuncs) {
				return errors.Errorf("Unknown instruction at PC %d: opcode %02x", i, inst.OpCode)
			}
			s.asm.EmitCall(int64(vm.ExtFuncs[inst.Imm]))
			if inst.Imm == vm.UnwindStackExtensionIndex {
				s.asm.EmitCmpImm32(reg(0), 0)
				s.addFixup(s.asm.EmitJcc(ccE), targetExit)
			}
		case OpExit:
			if i != len(insts)-1 {
				s.addFixup(s.asm.EmitJmp(), targetExit)
			}

		case opcodeMem(ClassLdx, SizeW):
			s.asm.EmitLoad(S32, src, dst, int32(inst.Offset))
		case opcodeMem(ClassLdx, SizeH):
			s.asm.EmitLoad(S16, src, dst, int32(inst.Offset))
		case opcodeMem(ClassLdx, SizeB):
			s.asm.EmitLoad(S8, src, dst, int32(inst.Offset))
		case opcodeMem(ClassLdx, SizeDW):
			s.asm.EmitLoad(S64, src, dst, int32(inst.Offset))

		case opcodeMem(ClassSt, SizeW):
			s.asm.EmitStoreImm32(S32, dst, int32(inst.Offset), inst.Imm)
		case opcodeMem(ClassSt, SizeH):
			s.asm.EmitStoreImm32(S16, dst, int32(inst.Offset), inst.Imm)
		case opcodeMem(ClassSt, SizeB):
			s.asm.EmitStoreImm32(S8, dst, int32(inst.Offset), inst.Imm)
		case opcodeMem(ClassSt, SizeDW):
			s.asm.EmitStoreImm32(S64, dst, int32(inst.Offset), inst.Imm)

		case opcodeMem(ClassStx, SizeW):
			s.asm.EmitStore(S32, src, dst, int32(inst.Offset))
		case opcodeMem(ClassStx, SizeH):
			s.asm.EmitStore(S16, src, dst, int32(inst.Offset))
		case opcodeMem(ClassStx, SizeB):
			s.asm.EmitStore(S8, src, dst, int32(inst.Offset))
		case opcodeMem(ClassStx, SizeDW):
			s.asm.EmitStore(S64, src, dst, int32(inst.Offset))

		case OpLDDW:
			if i+1 >= len(insts) {
				return errors.Errorf("Unknown instruction at PC %d: opcode %02x", i, inst.OpCode)
			}
			hi := insts[i+1]
			imm := uint64(uint32(inst.Imm)) | uint64(uint32(hi.Imm))<<32
			s.asm.EmitLoadImm(dst, int64(imm))
			i++

		default:
			return errors.Errorf("Unknown instruction at PC %d: opcode %02x", i, inst.OpCode)
		}
	}

	// Epilogue.
	s.exitLoc = int32(s.asm.Len())
	if reg(0) != RAX {
		s.asm.EmitMov(reg(0), RAX)
	}
	s.asm.EmitAlu64Imm32(subAdd, RSP, UBPFStackSize)
	for i := len(abi.NonVolatile) - 1; i >= 0; i-- {
		s.asm.EmitPop(abi.NonVolatile[i])
	}
	s.asm.EmitRet()

	emitDivByZeroTrampoline(s, abi, int64(errorPrintfEntryAddr()), int64(divByZeroFormatAddr()))

	return nil
}
