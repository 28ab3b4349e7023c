package jit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func compileToState(t *testing.T, insts []Inst) *state {
	t.Helper()
	vm := NewVM(insts)
	s := newState(make([]byte, stagingBufSize), len(insts))
	err := translate(vm, SystemV, s)
	require.NoError(t, err)
	return s
}

func TestTranslatePCLocsCoverEveryInstruction(t *testing.T) {
	insts := []Inst{
		Mov64Imm(R0, 1),
		Add64Imm(R0, 1),
		Exit(),
	}
	s := compileToState(t, insts)

	for i := range insts {
		require.NotEqual(t, int32(-1), s.pcLocs[i], "pc %d never marked", i)
	}
	for i := 0; i < len(insts)-1; i++ {
		require.Less(t, s.pcLocs[i], s.pcLocs[i+1], "pc %d must precede pc %d in the emitted stream", i, i+1)
	}
}

func TestTranslateLDDWConsumesTwoSlotsButOneMark(t *testing.T) {
	pair := LDDW(R0, 0x1122334455667788)
	insts := []Inst{pair[0], pair[1], Exit()}
	s := compileToState(t, insts)

	require.NotEqual(t, int32(-1), s.pcLocs[0])
	require.Equal(t, int32(-1), s.pcLocs[1], "the LDDW high slot is never a jump target and stays unmarked")
	require.NotEqual(t, int32(-1), s.pcLocs[2])
}

func TestTranslateEveryFixupLandsInBounds(t *testing.T) {
	insts := []Inst{
		Mov64Imm(R0, 1),
		JA(1),
		Mov64Imm(R0, 2),
		Exit(),
	}
	s := compileToState(t, insts)
	resolveJumps(s)

	total := int32(s.asm.Len())
	for _, fx := range s.fixups {
		rel := int32(int32(s.asm.Bytes()[fx.loc]) | int32(s.asm.Bytes()[fx.loc+1])<<8 |
			int32(s.asm.Bytes()[fx.loc+2])<<16 | int32(s.asm.Bytes()[fx.loc+3])<<24)
		dest := rel + int32(fx.loc) + 4
		require.GreaterOrEqual(t, dest, int32(0))
		require.LessOrEqual(t, dest, total)
	}
}

func TestTranslateRejectsUnknownBEWidth(t *testing.T) {
	insts := []Inst{
		Inst{OpCode: OpBE, Dst: R0, Imm: 17},
		Exit(),
	}
	vm := NewVM(insts)
	s := newState(make([]byte, stagingBufSize), len(insts))
	err := translate(vm, SystemV, s)
	require.Error(t, err)
}

func TestTranslateRejectsDanglingLDDW(t *testing.T) {
	insts := []Inst{
		{OpCode: OpLDDW, Dst: R0, Imm: 1},
	}
	vm := NewVM(insts)
	s := newState(make([]byte, stagingBufSize), len(insts))
	err := translate(vm, SystemV, s)
	require.Error(t, err)
}

func TestTranslateRejectsOutOfRangeCall(t *testing.T) {
	insts := []Inst{Call(0), Exit()}
	vm := NewVM(insts)
	s := newState(make([]byte, stagingBufSize), len(insts))
	err := translate(vm, SystemV, s)
	require.Error(t, err)
}
