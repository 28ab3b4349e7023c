package jit

// Sentinel jump targets. A real program counter is always >= 0; these
// negative values mark the two synthetic labels every compiled
// program carries regardless of its eBPF source: the shared epilogue
// and the shared divide-by-zero trampoline.
const (
	targetExit      int32 = -1
	targetDivByZero int32 = -2
)

// fixup records one not-yet-resolved jump: the byte offset of its
// disp32 field, and the eBPF program counter (or sentinel target)
// that field must end up pointing at.
type fixup struct {
	loc    fixupOffset
	target int32
}

// state accumulates the output of a translation pass: the generated
// code, a source-pc-to-byte-offset map (pc_locs) used both by
// fall-through translation and by the second-pass resolver, and the
// list of fixups the resolver must patch.
type state struct {
	asm    *Asm
	pcLocs []int32
	fixups []fixup

	exitLoc     int32
	divByZeroLoc int32
}

func newState(stagingBuf []byte, numInsts int) *state {
	locs := make([]int32, numInsts+1)
	for i := range locs {
		locs[i] = -1
	}
	return &state{
		asm:     NewAsm(stagingBuf),
		pcLocs:  locs,
		exitLoc: -1,
	}
}

// markPC records that eBPF instruction pc begins at the buffer's
// current length. Called once per decoded instruction, before any of
// its bytes are emitted.
func (s *state) markPC(pc int) {
	s.pcLocs[pc] = int32(s.asm.Len())
}

// addFixup remembers that the disp32 at loc should end up holding the
// relative offset to target (an eBPF pc or a sentinel).
func (s *state) addFixup(loc fixupOffset, target int32) {
	s.fixups = append(s.fixups, fixup{loc: loc, target: target})
}
