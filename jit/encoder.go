/*
   This file provides the implementation of the x86-64 in-memory
   assembler the translator lowers eBPF instructions onto. It is a
   direct descendant of the teacher's x86 in-memory assembler
   (src/python/asm_x86.go): same REX-prefix math, same ModR/M
   formatters, broadened to the opcode families an eBPF-to-x86-64 JIT
   needs (ALU immediate/shift/unary forms, sized loads and stores,
   absolute calls via a materialized immediate).
*/

package jit

import "encoding/binary"

// X86Reg is a physical x86-64 general-purpose register number
// (0..15), matching the standard ModR/M/SIB encoding order.
type X86Reg uint8

const (
	RAX X86Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	XR8
	XR9
	XR10
	XR11
	XR12
	XR13
	XR14
	XR15
)

// x86-64 one-byte and two-byte opcodes used by the encoder below.
const (
	opREXBase    = 0x40
	opPushBase   = 0x50
	opPopBase    = 0x58
	opMovRegImm  = 0xb8 // MOV r64, imm64 (+reg in low 3 bits)
	opMovEvGv    = 0x89 // MOV r/m, r  (register operand in ModRM.reg)
	opMovGvEv    = 0x8b // MOV r, r/m
	opMovzxEb    = 0xb6 // 0F B6: MOVZX r, r/m8
	opMovzxEw    = 0xb7 // 0F B7: MOVZX r, r/m16
	opMovEb      = 0x88 // MOV r/m8, r8
	opMovImm8    = 0xc6 // MOV r/m8, imm8  (group 11, /0)
	opMovImm32   = 0xc7 // MOV r/m, imm32  (group 11, /0); used for the eBPF MOV-imm forms
	opGroup1Iz   = 0x81 // ADD/OR/ADC/SBB/AND/SUB/XOR/CMP r/m, imm32
	opGroup2Ib   = 0xc1 // shift r/m, imm8
	opGroup2CL   = 0xd3 // shift r/m, CL
	opGroup3Ev   = 0xf7 // NOT/NEG/MUL/IMUL/DIV/IDIV/TEST r/m
	opAddEvGv    = 0x01
	opOrEvGv     = 0x09
	opAndEvGv    = 0x21
	opSubEvGv    = 0x29
	opXorEvGv    = 0x31
	opCmpEvGv    = 0x39 // CMP r/m, r
	opTestEvGv   = 0x85 // TEST r/m, r
	opTwoByte    = 0x0f
	opBswap      = 0xc8 // 0F C8+r: BSWAP r
	opOperand16  = 0x66
	opJmpRel32   = 0xe9
	opJccRel32   = 0x80 // 0F 80+cc
	opCallAbs    = 0xff // /2: CALL r/m
	opRet        = 0xc3
)

// ALU sub-opcodes, placed in ModR/M.reg for the 0x81/0xc1/0xd3/0xf7
// opcode families.
const (
	subAdd  = 0
	subOr   = 1
	subAnd  = 4
	subSub  = 5
	subXor  = 6
	subCmp  = 7
	subShl  = 4
	subShr  = 5
	subSar  = 7
	subTest = 0
	subNot  = 2
	subNeg  = 3
	subMul  = 4
	subDiv  = 6
	subCall = 2
)

// OperandSize is the operand width of a load/store.
type OperandSize uint8

const (
	S8 OperandSize = iota
	S16
	S32
	S64
)

// Asm is a growing x86-64 machine code buffer. Every Emit method
// appends bytes at the end (PatchRel32 alone rewrites bytes already
// emitted); none perform bounds checks, matching the staging
// buffer's sizing contract (spec §4.1: "the staging buffer is sized
// conservatively and the core assumes it suffices").
type Asm struct {
	buf []byte
}

func NewAsm(buf []byte) *Asm { return &Asm{buf: buf[:0]} }

func (a *Asm) Bytes() []byte { return a.buf }
func (a *Asm) Len() int      { return len(a.buf) }

func (a *Asm) emit1(b byte) { a.buf = append(a.buf, b) }

func (a *Asm) emit4(v int32) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	a.buf = append(a.buf, tmp[:]...)
}

func (a *Asm) emit8(v int64) {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], uint64(v))
	a.buf = append(a.buf, tmp[:]...)
}

// emitRex writes a REX prefix unconditionally.
func (a *Asm) emitRex(w bool, r, x, b X86Reg) {
	v := byte(opREXBase)
	if w {
		v |= 1 << 3
	}
	v |= byte((r>>3)&1) << 2
	v |= byte((x>>3)&1) << 1
	v |= byte((b >> 3) & 1)
	a.emit1(v)
}

// needsRex reports whether a non-W REX is required: any of r/x/b
// names an extended register (R8-R15).
func needsRex(r, x, b X86Reg) bool { return r >= XR8 || x >= XR8 || b >= XR8 }

// emitBasicRex writes a REX prefix if w is set or any operand needs
// the extension bits, matching the teacher's emitRexIfNeeded/
// emitRexIf split (byte operands force REX even without W to reach
// spl/bpl/sil/dil instead of ah/bh/ch/dh).
func (a *Asm) emitBasicRex(w bool, r, b X86Reg) {
	if w || needsRex(r, 0, b) {
		a.emitRex(w, r, 0, b)
	}
}

// emitByteRex is emitBasicRex's byte-operand variant: REX is forced
// whenever either register operand is in the 4..15 range, since those
// numbers mean spl/bpl/sil/dil (not ah/ch/dh/bh) once a REX is present.
func (a *Asm) emitByteRex(r, b X86Reg) {
	if r >= RSP || b >= RSP {
		a.emitRex(false, r, 0, b)
	}
}

func (a *Asm) modrm(mod, reg, rm byte) {
	a.emit1((mod << 6) | ((reg & 7) << 3) | (rm & 7))
}

func (a *Asm) modrmReg(reg, rm X86Reg) { a.modrm(3, byte(reg), byte(rm)) }

// modrmDisp emits a ModR/M byte (register reg, memory operand
// [base+disp]) followed by the displacement, choosing no-displacement,
// disp8, or disp32 form. mod=00/rm=101 means RIP-relative addressing
// on x86-64, so a zero displacement off RBP/R13 must still use the
// disp8 form to address [rbp+0] rather than [rip+disp32].
func (a *Asm) modrmDisp(reg, base X86Reg, disp int32) {
	basesNeedDisp8 := (base & 7) == byte(RBP)
	switch {
	case disp == 0 && !basesNeedDisp8:
		a.modrm(0, byte(reg), byte(base))
	case disp >= -128 && disp <= 127:
		a.modrm(1, byte(reg), byte(base))
		a.emit1(byte(int8(disp)))
	default:
		a.modrm(2, byte(reg), byte(base))
		a.emit4(disp)
	}
}

// EmitPush emits PUSH r64.
func (a *Asm) EmitPush(r X86Reg) {
	a.emitBasicRex(false, 0, r)
	a.emit1(opPushBase | (byte(r) & 7))
}

// EmitPop emits POP r64.
func (a *Asm) EmitPop(r X86Reg) {
	a.emitBasicRex(false, 0, r)
	a.emit1(opPopBase | (byte(r) & 7))
}

// EmitRexW emits a bare REX.W prefix with no register-extension bits,
// used ahead of the implicit-operand MUL/DIV forms (which read/write
// RAX:RDX:RCX and need only the operand-size bit widened to 64).
func (a *Asm) EmitRexW() { a.emitRex(true, 0, 0, 0) }

// EmitMov emits a 64-bit register-to-register MOV: dst = src.
func (a *Asm) EmitMov(src, dst X86Reg) {
	a.emitRex(true, src, 0, dst)
	a.emit1(opMovEvGv)
	a.modrmReg(src, dst)
}

// emitAlu32/emitAlu64 encode a register-form ALU opcode where subop
// is either a real source register (encodable ops like ADD/SUB r,r)
// or, for the group1/group3 opcode families, the sub-opcode digit
// that goes in ModR/M.reg.
func (a *Asm) emitAlu32(op byte, subopOrReg, rm X86Reg) {
	a.emitBasicRex(false, subopOrReg, rm)
	a.emit1(op)
	a.modrmReg(subopOrReg, rm)
}

func (a *Asm) emitAlu64(op byte, subopOrReg, rm X86Reg) {
	a.emitRex(true, subopOrReg, 0, rm)
	a.emit1(op)
	a.modrmReg(subopOrReg, rm)
}

// EmitAlu32Reg emits a 32-bit register-register ALU op (ADD/SUB/OR/
// AND/XOR r32, r32); upper 32 bits of dst are zeroed by the x86-64
// 32-bit operand-size form, which the translator relies on.
func (a *Asm) EmitAlu32Reg(op byte, src, dst X86Reg) { a.emitAlu32(op, src, dst) }
func (a *Asm) EmitAlu64Reg(op byte, src, dst X86Reg) { a.emitAlu64(op, src, dst) }

// emitGroupImm32 encodes an opcode/sub-opcode/imm32 triple shared by
// the group1 ALU-immediate family (0x81) and the group3 TEST-
// immediate form (0xf7 /0) — both place the sub-opcode digit in
// ModR/M.reg and a trailing imm32.
func (a *Asm) emitGroupImm32(op byte, sub byte, rm X86Reg, imm int32) {
	a.emitAlu32(op, X86Reg(sub), rm)
	a.emit4(imm)
}

func (a *Asm) emitGroupImm32_64(op byte, sub byte, rm X86Reg, imm int32) {
	a.emitAlu64(op, X86Reg(sub), rm)
	a.emit4(imm)
}

// EmitAlu32Imm32 emits a 32-bit group1 ALU op (sub-opcode `sub`) with
// a 32-bit immediate.
func (a *Asm) EmitAlu32Imm32(sub byte, dst X86Reg, imm int32) {
	a.emitGroupImm32(opGroup1Iz, sub, dst, imm)
}

func (a *Asm) EmitAlu64Imm32(sub byte, dst X86Reg, imm int32) {
	a.emitGroupImm32_64(opGroup1Iz, sub, dst, imm)
}

// EmitTestImm32/64 emits TEST r/m, imm32 (group3 /0), used by JSET's
// immediate form — a different raw opcode (0xf7) from the group1 ALU
// family despite the identical imm32 shape.
func (a *Asm) EmitTestImm32(dst X86Reg, imm int32) { a.emitGroupImm32(opGroup3Ev, subTest, dst, imm) }
func (a *Asm) EmitTestImm64(dst X86Reg, imm int32) { a.emitGroupImm32_64(opGroup3Ev, subTest, dst, imm) }

// EmitMovImm32 emits MOV r/m32, imm32 (group11 0xc7 /0) — the 32-bit
// immediate-load form used by the eBPF MOV_IMM opcode, distinct from
// the group1 ALU family despite sharing sub-opcode digit 0.
func (a *Asm) EmitMovImm32(dst X86Reg, imm int32) { a.emitGroupImm32(opMovImm32, 0, dst, imm) }

// EmitMovImm64 emits MOV r/m64, imm32 (REX.W + group11 0xc7 /0): the
// sign-extended-to-64-bits immediate load used whenever a 64-bit
// immediate fits in 32 bits.
func (a *Asm) EmitMovImm64(dst X86Reg, imm int32) { a.emitGroupImm32_64(opMovImm32, 0, dst, imm) }

// EmitAlu32Imm8 emits a 32-bit group2 shift (sub-opcode `sub`) with an
// imm8 shift count.
func (a *Asm) EmitAlu32Imm8(sub byte, dst X86Reg, imm int8) {
	a.emitAlu32(opGroup2Ib, X86Reg(sub), dst)
	a.emit1(byte(imm))
}

func (a *Asm) EmitAlu64Imm8(sub byte, dst X86Reg, imm int8) {
	a.emitAlu64(opGroup2Ib, X86Reg(sub), dst)
	a.emit1(byte(imm))
}

// EmitUnary32/64 emits a group3 unary op (NEG/NOT/MUL/DIV, sub-opcode
// `sub`) on a single register operand.
func (a *Asm) EmitUnary32(sub byte, rm X86Reg) { a.emitAlu32(opGroup3Ev, X86Reg(sub), rm) }
func (a *Asm) EmitUnary64(sub byte, rm X86Reg) { a.emitAlu64(opGroup3Ev, X86Reg(sub), rm) }

// EmitShiftCL32/64 emits a group2 shift-by-CL (sub-opcode `sub`).
func (a *Asm) EmitShiftCL32(sub byte, dst X86Reg) { a.emitAlu32(opGroup2CL, X86Reg(sub), dst) }
func (a *Asm) EmitShiftCL64(sub byte, dst X86Reg) { a.emitAlu64(opGroup2CL, X86Reg(sub), dst) }

// EmitCmp emits CMP dst, src (0x39: r/m -= r, i.e. dst - src — the
// flags a subsequent Jcc reads as "dst CC src").
func (a *Asm) EmitCmp(src, dst X86Reg) { a.emitAlu64(opCmpEvGv, src, dst) }

// EmitCmpImm32 emits CMP dst, imm32 (group1 sub-opcode 7).
func (a *Asm) EmitCmpImm32(dst X86Reg, imm int32) { a.EmitAlu64Imm32(subCmp, dst, imm) }

// EmitTest64 emits TEST dst, src (0x85, 64-bit).
func (a *Asm) EmitTest64(src, dst X86Reg) { a.emitAlu64(opTestEvGv, src, dst) }
func (a *Asm) EmitTest32(src, dst X86Reg) { a.emitAlu32(opTestEvGv, src, dst) }

// EmitLoadImm loads a 64-bit immediate using one of two encodings: the
// 7-byte sign-extended imm32 MOV (REX.W + C7 /0) when the value fits in
// a signed 32-bit immediate, otherwise the full 10-byte REX.W + MOV
// r64, imm64 form. The shorter zero-extending 32-bit MOV forms are not
// used.
func (a *Asm) EmitLoadImm(dst X86Reg, imm int64) {
	if imm >= -(1<<31) && imm < (1<<31) {
		a.EmitMovImm64(dst, int32(imm))
		return
	}
	a.emitRex(true, 0, 0, dst)
	a.emit1(opMovRegImm | (byte(dst) & 7))
	a.emit8(imm)
}

// EmitLoad emits a sized load: dst = *(base+disp), zero-extending for
// S8/S16 and moving directly for S32/S64.
func (a *Asm) EmitLoad(size OperandSize, base, dst X86Reg, disp int32) {
	switch size {
	case S8:
		a.emitBasicRex(false, dst, base)
		a.emit1(opTwoByte)
		a.emit1(opMovzxEb)
		a.modrmDisp(dst, base, disp)
	case S16:
		a.emitBasicRex(false, dst, base)
		a.emit1(opTwoByte)
		a.emit1(opMovzxEw)
		a.modrmDisp(dst, base, disp)
	case S32:
		a.emitBasicRex(false, dst, base)
		a.emit1(opMovGvEv)
		a.modrmDisp(dst, base, disp)
	case S64:
		a.emitRex(true, dst, 0, base)
		a.emit1(opMovGvEv)
		a.modrmDisp(dst, base, disp)
	}
}

// EmitStore emits a sized store: *(base+disp) = src.
func (a *Asm) EmitStore(size OperandSize, src, base X86Reg, disp int32) {
	if size == S16 {
		a.emit1(opOperand16)
	}
	if size == S8 {
		a.emitByteRex(src, base)
		a.emit1(opMovEb)
	} else if size == S64 {
		a.emitRex(true, src, 0, base)
		a.emit1(opMovEvGv)
	} else {
		a.emitBasicRex(false, src, base)
		a.emit1(opMovEvGv)
	}
	a.modrmDisp(src, base, disp)
}

// EmitStoreImm32 emits a sized immediate store: *(base+disp) = imm,
// truncated to the operand width.
func (a *Asm) EmitStoreImm32(size OperandSize, base X86Reg, disp int32, imm int32) {
	if size == S16 {
		a.emit1(opOperand16)
	}
	if size == S8 {
		a.emitBasicRex(false, 0, base)
		a.emit1(opMovImm8)
	} else if size == S64 {
		a.emitRex(true, 0, 0, base)
		a.emit1(opMovImm32)
	} else {
		a.emitBasicRex(false, 0, base)
		a.emit1(opMovImm32)
	}
	a.modrmDisp(0, base, disp)
	switch size {
	case S8:
		a.emit1(byte(imm))
	case S16:
		var tmp [2]byte
		binary.LittleEndian.PutUint16(tmp[:], uint16(imm))
		a.buf = append(a.buf, tmp[:]...)
	default:
		a.emit4(imm)
	}
}

// EmitBswap emits BSWAP dst (0F C8+r), REX.W for the 64-bit form.
func (a *Asm) EmitBswap(dst X86Reg, is64 bool) {
	a.emitBasicRex(is64, 0, dst)
	a.emit1(opTwoByte)
	a.emit1(opBswap | (byte(dst) & 7))
}

// EmitRol16And emits the 16-bit byte-swap sequence: a 16-bit ROL dst,8
// (under a 0x66 operand-size prefix), then a 32-bit AND dst,0xffff that
// clears every bit above the low 16.
func (a *Asm) EmitRol16And(dst X86Reg) {
	a.emit1(opOperand16)
	a.EmitAlu32Imm8(0 /* ROL */, dst, 8)
	a.EmitAlu32Imm32(subAnd, dst, 0xffff)
}

// fixupOffset, returned by EmitJmp/EmitJcc, is the byte offset of the
// disp32 field just emitted, which the caller records as a pending
// fixup.
type fixupOffset int

// EmitJmp emits JMP rel32 with a zero placeholder displacement and
// returns the offset of that displacement field.
func (a *Asm) EmitJmp() fixupOffset {
	a.emit1(opJmpRel32)
	loc := fixupOffset(len(a.buf))
	a.emit4(0)
	return loc
}

// EmitJcc emits Jcc rel32 (0F 80+cc) with a zero placeholder
// displacement and returns the offset of that displacement field.
func (a *Asm) EmitJcc(cc byte) fixupOffset {
	a.emit1(opTwoByte)
	a.emit1(opJccRel32 | cc)
	loc := fixupOffset(len(a.buf))
	a.emit4(0)
	return loc
}

// EmitCall materializes target in RAX and calls through it (CALL RAX,
// FF D0), avoiding any dependency on PC-relative reachability of
// external functions.
func (a *Asm) EmitCall(target int64) {
	a.EmitLoadImm(RAX, target)
	a.emit1(opCallAbs)
	a.modrm(3, subCall, byte(RAX))
}

// EmitRet emits RET.
func (a *Asm) EmitRet() { a.emit1(opRet) }

// PatchRel32 overwrites the disp32 field at loc with rel.
func (a *Asm) PatchRel32(loc fixupOffset, rel int32) {
	binary.LittleEndian.PutUint32(a.buf[loc:loc+4], uint32(rel))
}
