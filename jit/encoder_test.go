package jit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEmitRexSetsExtensionBits(t *testing.T) {
	a := NewAsm(make([]byte, 16))
	a.emitRex(true, XR8, 0, XR9)
	require.Equal(t, []byte{0x4d}, a.Bytes(), "REX.W + R + B for two extended registers")
}

func TestEmitMovImm32UsesGroup11NotGroup1(t *testing.T) {
	a := NewAsm(make([]byte, 16))
	a.EmitMovImm32(RAX, 7)
	// c7 /0 imm32, no REX needed for RAX.
	require.Equal(t, []byte{0xc7, 0xc0, 0x07, 0x00, 0x00, 0x00}, a.Bytes())
}

func TestEmitAlu64Imm32UsesGroup1(t *testing.T) {
	a := NewAsm(make([]byte, 16))
	a.EmitAlu64Imm32(subAdd, RAX, 7)
	require.Equal(t, []byte{0x48, 0x81, 0xc0, 0x07, 0x00, 0x00, 0x00}, a.Bytes())
}

func TestEmitMovImm64UsesGroup11WithRexW(t *testing.T) {
	a := NewAsm(make([]byte, 16))
	a.EmitMovImm64(RAX, -1)
	require.Equal(t, []byte{0x48, 0xc7, 0xc0, 0xff, 0xff, 0xff, 0xff}, a.Bytes())
}

func TestEmitLoadImmPicksShortFormWhenImmFits(t *testing.T) {
	a := NewAsm(make([]byte, 16))
	a.EmitLoadImm(RAX, 42)
	require.Equal(t, []byte{0x48, 0xc7, 0xc0, 0x2a, 0x00, 0x00, 0x00}, a.Bytes())
}

func TestEmitLoadImmUsesMovabsForLargeValues(t *testing.T) {
	a := NewAsm(make([]byte, 16))
	big := int64(0x1122334455667788)
	a.EmitLoadImm(RAX, big)
	require.Len(t, a.Bytes(), 10, "REX.W + b8+reg + 8 byte imm64")
	require.Equal(t, byte(0x48), a.Bytes()[0])
	require.Equal(t, byte(0xb8), a.Bytes()[1])
}

func TestModrmDispForcesDisp8OnRbpBase(t *testing.T) {
	a := NewAsm(make([]byte, 16))
	a.modrmDisp(RAX, RBP, 0)
	// mod=01 (disp8), reg=000 (RAX), rm=101 (RBP), followed by a zero disp8.
	require.Equal(t, []byte{0x45, 0x00}, a.Bytes())
}

func TestModrmDispZeroDispOmittedForNonRbpBase(t *testing.T) {
	a := NewAsm(make([]byte, 16))
	a.modrmDisp(RAX, RCX, 0)
	require.Equal(t, []byte{0x01}, a.Bytes())
}

func TestNeedsRexForExtendedRegisters(t *testing.T) {
	require.True(t, needsRex(XR8, 0, 0))
	require.True(t, needsRex(0, 0, XR15))
	require.False(t, needsRex(RAX, 0, RDI))
}

func TestPatchRel32OverwritesPlaceholder(t *testing.T) {
	a := NewAsm(make([]byte, 16))
	loc := a.EmitJmp()
	a.PatchRel32(loc, 123)
	require.Equal(t, []byte{0xe9, 123, 0, 0, 0}, a.Bytes())
}

func TestEmitCallMaterializesTargetThenCallsRax(t *testing.T) {
	a := NewAsm(make([]byte, 16))
	a.EmitCall(0x42)
	// EmitLoadImm(RAX, 0x42) then FF D0.
	require.Equal(t, []byte{0x48, 0xc7, 0xc0, 0x42, 0x00, 0x00, 0x00, 0xff, 0xd0}, a.Bytes())
}

func TestEmitLoadS32UsesMovGvEvWithDisp8(t *testing.T) {
	a := NewAsm(make([]byte, 16))
	a.EmitLoad(S32, RSI, RAX, 4)
	// 8b /r, mod=01 reg=RAX(0) rm=RSI(6), disp8=4. No REX: neither operand extended.
	require.Equal(t, []byte{0x8b, 0x46, 0x04}, a.Bytes())
}

func TestEmitLoadS8ZeroExtendsViaMovzx(t *testing.T) {
	a := NewAsm(make([]byte, 16))
	a.EmitLoad(S8, RDI, RAX, 0)
	// 0F B6 /r (MOVZX r32, r/m8), mod=00 reg=RAX(0) rm=RDI(7).
	require.Equal(t, []byte{0x0f, 0xb6, 0x07}, a.Bytes())
}

func TestEmitStoreS64SetsRexW(t *testing.T) {
	a := NewAsm(make([]byte, 16))
	a.EmitStore(S64, RAX, RDI, 0)
	// REX.W + 89 /r, mod=00 reg=RAX(0) rm=RDI(7).
	require.Equal(t, []byte{0x48, 0x89, 0x07}, a.Bytes())
}

func TestEmitStoreS16EmitsOperandSizePrefix(t *testing.T) {
	a := NewAsm(make([]byte, 16))
	a.EmitStore(S16, RAX, RDI, 0)
	require.Equal(t, []byte{0x66, 0x89, 0x07}, a.Bytes())
}

func TestEmitStoreImm32S8EncodesOneByteImmediate(t *testing.T) {
	a := NewAsm(make([]byte, 16))
	a.EmitStoreImm32(S8, RAX, 0, 5)
	// c6 /0, mod=00 reg=000 rm=RAX(0), imm8=05.
	require.Equal(t, []byte{0xc6, 0x00, 0x05}, a.Bytes())
}

func TestEmitStoreImm32S16EncodesTwoByteImmediate(t *testing.T) {
	a := NewAsm(make([]byte, 16))
	a.EmitStoreImm32(S16, RAX, 0, 0x1234)
	require.Equal(t, []byte{0x66, 0xc7, 0x00, 0x34, 0x12}, a.Bytes())
}

func TestEmitRol16AndMasksUpperBitsUnder16BitPrefix(t *testing.T) {
	a := NewAsm(make([]byte, 16))
	a.EmitRol16And(RAX)
	// 66 (operand size), c1 /0 ib (ROL eax,8), 81 /4 id (AND eax,0xffff).
	require.Equal(t, []byte{
		0x66,
		0xc1, 0xc0, 0x08,
		0x81, 0xe0, 0xff, 0xff, 0x00, 0x00,
	}, a.Bytes())
}
