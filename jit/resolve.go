package jit

// resolveJumps is the JIT's second pass: every pending fixup's disp32
// field is patched with the byte distance from just past that field
// to its resolved target (a decoded pc, the shared epilogue, or the
// divide-by-zero trampoline).
func resolveJumps(s *state) {
	for _, fx := range s.fixups {
		var targetLoc int32
		switch fx.target {
		case targetExit:
			targetLoc = s.exitLoc
		case targetDivByZero:
			targetLoc = s.divByZeroLoc
		default:
			targetLoc = s.pcLocs[fx.target]
		}

		rel := targetLoc - (int32(fx.loc) + 4)
		s.asm.PatchRel32(fx.loc, rel)
	}
}
