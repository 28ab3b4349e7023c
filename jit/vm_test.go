//go:build amd64

package jit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func runProgram(t *testing.T, insts []Inst) (*VM, uint64) {
	t.Helper()
	vm := NewVM(insts)
	err := vm.Compile(DefaultABI())
	require.NoError(t, err)
	t.Cleanup(func() { _ = vm.Close() })

	r0, err := vm.Run(nil)
	require.NoError(t, err)
	return vm, r0
}

func TestScenarioMovExit(t *testing.T) {
	_, r0 := runProgram(t, []Inst{
		Mov64Imm(R0, 42),
		Exit(),
	})
	require.Equal(t, uint64(42), r0)
}

func TestScenarioAddSub(t *testing.T) {
	_, r0 := runProgram(t, []Inst{
		Mov64Imm(R0, 0),
		Mov64Imm(R1, 5),
		Mov64Imm(R2, 3),
		Add64Reg(R0, R1),
		Sub64Reg(R0, R2),
		Exit(),
	})
	require.Equal(t, uint64(2), r0)
}

func TestScenarioDivByZero(t *testing.T) {
	var faultPC uint32
	var calls int

	vm := NewVM([]Inst{
		Mov64Imm(R0, 10),
		Mov64Imm(R1, 0),
		DivReg(R0, R1),
		Exit(),
	})
	vm.ErrorPrintf = func(pc uint32) {
		faultPC = pc
		calls++
	}
	require.NoError(t, vm.Compile(DefaultABI()))
	t.Cleanup(func() { _ = vm.Close() })

	r0, err := vm.Run(nil)
	require.NoError(t, err)
	require.Equal(t, uint64(0xFFFFFFFFFFFFFFFF), r0)
	require.Equal(t, 1, calls, "error_printf must fire exactly once")
	require.Equal(t, uint32(2), faultPC)
}

func TestScenarioBE64(t *testing.T) {
	_, r0 := runProgram(t, []Inst{
		Mov32Imm(R0, int32(uint32(0xDEADBEEF))),
		BE64(R0),
		Exit(),
	})
	require.Equal(t, uint64(0xEFBEADDE00000000), r0)
}

func TestScenarioLDDW(t *testing.T) {
	pair := LDDW(R0, 0x1122334455667788)
	_, r0 := runProgram(t, []Inst{pair[0], pair[1], Exit()})
	require.Equal(t, uint64(0x1122334455667788), r0)
}

func TestScenarioJASkip(t *testing.T) {
	_, r0 := runProgram(t, []Inst{
		Mov64Imm(R0, 1),
		JA(1),
		Mov64Imm(R0, 2),
		Exit(),
	})
	require.Equal(t, uint64(1), r0)
}

func TestScenarioMod(t *testing.T) {
	_, r0 := runProgram(t, []Inst{
		Mov64Imm(R1, 7),
		Mov64Imm(R2, 3),
		ModReg(R1, R2),
		Mov64Reg(R0, R1),
		Exit(),
	})
	require.Equal(t, uint64(1), r0)
}

func TestCompileTwiceIsNoOp(t *testing.T) {
	vm := NewVM([]Inst{Mov64Imm(R0, 1), Exit()})
	require.NoError(t, vm.Compile(DefaultABI()))
	entry := vm.entryPoint
	require.NoError(t, vm.Compile(DefaultABI()))
	require.Equal(t, entry, vm.entryPoint, "a second Compile call must not re-jit")
	_ = vm.Close()
}

func TestCompileEmptyProgramFails(t *testing.T) {
	vm := NewVM(nil)
	err := vm.Compile(DefaultABI())
	require.Error(t, err)
}

func TestRunBeforeCompileFails(t *testing.T) {
	vm := NewVM([]Inst{Exit()})
	_, err := vm.Run(nil)
	require.Error(t, err)
}

func TestScenarioMemRoundTripDW(t *testing.T) {
	mem := make([]byte, 8)
	vm := NewVM([]Inst{
		Mov64Imm(R2, 99),
		StoreReg(SizeDW, R1, R2, 0), // *(u64*)(r1+0) = r2
		LoadReg(SizeDW, R0, R1, 0),  // r0 = *(u64*)(r1+0)
		Exit(),
	})
	require.NoError(t, vm.Compile(DefaultABI()))
	t.Cleanup(func() { _ = vm.Close() })

	r0, err := vm.Run(mem)
	require.NoError(t, err)
	require.Equal(t, uint64(99), r0)
}

func TestScenarioMemStoreImmByteZeroExtends(t *testing.T) {
	mem := make([]byte, 8)
	vm := NewVM([]Inst{
		StoreImm(SizeB, R1, 0, 0xab), // *(u8*)(r1+0) = 0xab
		LoadReg(SizeB, R0, R1, 0),    // r0 = *(u8*)(r1+0), zero-extended
		Exit(),
	})
	require.NoError(t, vm.Compile(DefaultABI()))
	t.Cleanup(func() { _ = vm.Close() })

	r0, err := vm.Run(mem)
	require.NoError(t, err)
	require.Equal(t, uint64(0xab), r0, "LDX byte must zero-extend, not sign-extend")
}

func TestScenarioBE16(t *testing.T) {
	_, r0 := runProgram(t, []Inst{
		Mov32Imm(R0, 0x0000ABCD),
		BE16(R0),
		Exit(),
	})
	require.Equal(t, uint64(0xCDAB), r0)
}

func TestCloseIsIdempotent(t *testing.T) {
	vm := NewVM([]Inst{Mov64Imm(R0, 1), Exit()})
	require.NoError(t, vm.Compile(DefaultABI()))
	require.NoError(t, vm.Close())
	require.NoError(t, vm.Close())
}
