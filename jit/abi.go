package jit

import (
	"math/rand"
	"runtime"
)

// RegisterMap assigns each eBPF logical register to a physical x86-64
// register, indexed by Register (r0..r10).
type RegisterMap [numRegisters]X86Reg

// ABI is a complete calling-convention profile: which physical
// registers the generated code must save/restore, which carry
// incoming arguments, which eBPF register an incoming argument lands
// in via the register map, and the scratch register substituted for
// RCX (since RCX is reserved for shift counts and mul/div throughout
// a translated body).
type ABI struct {
	Name        string
	RegisterMap RegisterMap
	NonVolatile []X86Reg
	ParamRegs   []X86Reg
	RCXAlt      X86Reg
}

// SystemV is the System V AMD64 calling convention used by Linux,
// *BSD, and macOS.
var SystemV = ABI{
	Name: "sysv",
	RegisterMap: RegisterMap{
		R0:  RAX,
		R1:  RDI,
		R2:  RSI,
		R3:  RDX,
		R4:  XR9,
		R5:  XR8,
		R6:  RBX,
		R7:  XR13,
		R8:  XR14,
		R9:  XR15,
		R10: RBP,
	},
	NonVolatile: []X86Reg{RBP, RBX, XR13, XR14, XR15},
	ParamRegs:   []X86Reg{RDI, RSI, RDX, RCX, XR8, XR9},
	RCXAlt:      XR9,
}

// Windows64 is the Microsoft x64 calling convention.
var Windows64 = ABI{
	Name: "win64",
	RegisterMap: RegisterMap{
		R0:  RAX,
		R1:  XR10,
		R2:  RDX,
		R3:  XR8,
		R4:  XR9,
		R5:  XR14,
		R6:  XR15,
		R7:  RDI,
		R8:  RSI,
		R9:  RBX,
		R10: RBP,
	},
	NonVolatile: []X86Reg{RBP, RBX, RDI, RSI, XR12, XR13, XR14, XR15},
	ParamRegs:   []X86Reg{RCX, RDX, XR8, XR9},
	RCXAlt:      XR10,
}

// DefaultABI picks SystemV or Windows64 from the host's GOOS. Callers
// that cross-compile a JIT target different from the running host
// pass an explicit ABI to Compile instead.
func DefaultABI() ABI {
	if runtime.GOOS == "windows" {
		return Windows64
	}
	return SystemV
}

// Reshuffle returns a copy of abi with its register map permuted: for
// 0 <= seed < numRegisters the eBPF-register-to-physical-register
// assignment is rotated by seed places; otherwise it is fully
// reshuffled by a Fisher-Yates pass seeded by seed. Every reshuffled
// ABI still carries the same physical register set, non-volatile set,
// and RCXAlt — only which eBPF register maps to which physical
// register changes. This exists for tests exercising the translator
// against more than the one fixed map a single target ABI provides;
// production callers use SystemV/Windows64/DefaultABI directly.
func (a ABI) Reshuffle(seed int64) ABI {
	out := a
	regs := out.RegisterMap

	if seed >= 0 && int(seed) < numRegisters {
		n := int(seed)
		var rotated RegisterMap
		for i := 0; i < numRegisters; i++ {
			rotated[i] = regs[(i+n)%numRegisters]
		}
		out.RegisterMap = rotated
		return out
	}

	rng := rand.New(rand.NewSource(seed))
	for i := numRegisters - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		regs[i], regs[j] = regs[j], regs[i]
	}
	out.RegisterMap = regs
	return out
}

// Physical returns the physical register assigned to an eBPF logical
// register under this ABI.
func (a ABI) Physical(r Register) X86Reg { return a.RegisterMap[r] }

// IsNonVolatile reports whether r must be saved/restored by the
// generated prologue/epilogue under this ABI.
func (a ABI) IsNonVolatile(r X86Reg) bool {
	for _, nv := range a.NonVolatile {
		if nv == r {
			return true
		}
	}
	return false
}
