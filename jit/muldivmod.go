package jit

// emitMulDivMod lowers one of the twelve multiply/divide/modulus
// opcodes (32- and 64-bit, immediate and register forms) to the
// save-RAX/RDX, load-divisor-into-RCX, MUL/DIV, restore dance x86's
// implicit-operand multiply/divide instructions require. Matches the
// original JIT's muldivmod() push/pop ordering exactly: getting this
// wrong silently corrupts whichever of RAX/RDX the caller's dst
// aliases.
func emitMulDivMod(s *state, pc int32, opc uint8, src, dst X86Reg, imm int32) {
	aluOp := ALUOp(opc & aluOpMask)
	mul := aluOp == ALUMul
	div := aluOp == ALUDiv
	mod := aluOp == ALUMod
	is64 := Class(opc&classMask) == ClassAlu64

	if div || mod {
		s.asm.EmitLoadImm(RCX, int64(pc))
		if is64 {
			s.asm.EmitTest64(src, src)
		} else {
			s.asm.EmitTest32(src, src)
		}
		s.addFixup(s.asm.EmitJcc(ccE), targetDivByZero)
	}

	if dst != RAX {
		s.asm.EmitPush(RAX)
	}
	if dst != RDX {
		s.asm.EmitPush(RDX)
	}

	if imm != 0 {
		s.asm.EmitLoadImm(RCX, int64(imm))
	} else {
		s.asm.EmitMov(src, RCX)
	}

	s.asm.EmitMov(dst, RAX)

	if div || mod {
		s.asm.EmitAlu32Reg(opXorEvGv, RDX, RDX)
	}

	if is64 {
		s.asm.EmitRexW()
	}
	s.asm.EmitUnary32(mulOrDivSub(mul), RCX)

	if dst != RDX {
		if mod {
			s.asm.EmitMov(RDX, dst)
		}
		s.asm.EmitPop(RDX)
	}
	if dst != RAX {
		if div || mul {
			s.asm.EmitMov(RAX, dst)
		}
		s.asm.EmitPop(RAX)
	}
}

func mulOrDivSub(mul bool) byte {
	if mul {
		return subMul
	}
	return subDiv
}

// emitDivByZeroTrampoline emits the shared label every divide/modulus
// guard jumps to on a zero divisor. RCX holds the faulting pc
// (muldivmod loaded it there); this moves it into the third parameter
// register, loads a stream token and the diagnostic format string
// into the first two parameter registers, and calls the error_printf
// bridge before returning -1 through the normal exit path.
//
// This call always addresses the System V parameter registers (RDI,
// RSI, RDX) regardless of abi: unlike the original, where
// error_printf is a real external C function compiled under the
// host's native ABI, here the call target is this module's own fixed
// assembly bridge (errorprintf_amd64.s), which only ever reads the
// System V slots. Everything else about the generated body still
// follows abi.
func emitDivByZeroTrampoline(s *state, abi ABI, errorPrintfAddr, fmtAddr int64) {
	s.divByZeroLoc = int32(s.asm.Len())

	s.asm.EmitMov(RCX, SystemV.ParamRegs[2])
	s.asm.EmitLoadImm(SystemV.ParamRegs[0], 0)
	s.asm.EmitLoadImm(SystemV.ParamRegs[1], fmtAddr)
	s.asm.EmitCall(errorPrintfAddr)

	s.asm.EmitLoadImm(abi.Physical(R0), -1)
	s.addFixup(s.asm.EmitJmp(), targetExit)
}
