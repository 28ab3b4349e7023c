package jit

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveJumpsPatchesRealPCTarget(t *testing.T) {
	s := newState(make([]byte, 64), 2)

	s.markPC(0)
	s.asm.EmitPush(RAX) // 1 byte of filler so the jump isn't at offset 0
	loc := s.asm.EmitJmp()
	s.addFixup(loc, 1)

	s.markPC(1)
	targetOffset := int32(s.asm.Len())
	s.asm.EmitRet()

	resolveJumps(s)

	wantRel := targetOffset - (int32(loc) + 4)
	gotBytes := s.asm.Bytes()[int(loc) : int(loc)+4]
	got := int32(uint32(gotBytes[0]) | uint32(gotBytes[1])<<8 | uint32(gotBytes[2])<<16 | uint32(gotBytes[3])<<24)
	require.Equal(t, wantRel, got)
}

func TestResolveJumpsPatchesExitSentinel(t *testing.T) {
	s := newState(make([]byte, 64), 1)

	s.markPC(0)
	loc := s.asm.EmitJmp()
	s.addFixup(loc, targetExit)

	s.exitLoc = int32(s.asm.Len())
	s.asm.EmitRet()

	resolveJumps(s)

	wantRel := s.exitLoc - (int32(loc) + 4)
	gotBytes := s.asm.Bytes()[int(loc) : int(loc)+4]
	got := int32(uint32(gotBytes[0]) | uint32(gotBytes[1])<<8 | uint32(gotBytes[2])<<16 | uint32(gotBytes[3])<<24)
	require.Equal(t, wantRel, got)
}

func TestResolveJumpsPatchesDivByZeroSentinel(t *testing.T) {
	s := newState(make([]byte, 64), 1)

	loc := s.asm.EmitJcc(ccE)
	s.addFixup(loc, targetDivByZero)

	s.divByZeroLoc = int32(s.asm.Len())
	s.asm.EmitRet()

	resolveJumps(s)

	wantRel := s.divByZeroLoc - (int32(loc) + 4)
	gotBytes := s.asm.Bytes()[int(loc) : int(loc)+4]
	got := int32(uint32(gotBytes[0]) | uint32(gotBytes[1])<<8 | uint32(gotBytes[2])<<16 | uint32(gotBytes[3])<<24)
	require.Equal(t, wantRel, got)
}
