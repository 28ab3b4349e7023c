package jit

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"
)

// ExtFunc is a raw, already ABI-compatible native code address a
// compiled CALL opcode invokes, mirroring the original JIT's
// ext_funcs array of C function pointers exactly: a pure-Go closure
// cannot be the target of a generated x86-64 CALL instruction without
// an assembly or cgo bridge, so the host supplies the bridged address
// itself (see call_sysv_amd64.s/call_win64_amd64.s for the analogous
// direction this module bridges on its own).
type ExtFunc uintptr

// ErrorPrintf is invoked once, from Go, whenever a compiled program
// divides or modulos by zero, with the source pc of the faulting
// instruction. The stream token and format string that the generated
// code passes to the native bridge (the stream token is always 0) are
// not forwarded; pc is the only argument this hook receives.
type ErrorPrintf func(pc uint32)

// VM holds one verified eBPF program plus the host-supplied extension
// points (extern functions, diagnostics) a JIT-compiled version of it
// needs at run time.
type VM struct {
	Insts                     []Inst
	ExtFuncs                  []ExtFunc
	UnwindStackExtensionIndex int32
	ErrorPrintf               ErrorPrintf

	abi ABI

	jittedBuf  []byte // the executable mapping; nil until Compile succeeds
	entryPoint uintptr
}

// NewVM constructs a VM over an already-decoded instruction stream.
// insts must come from a verifier; this module performs no
// verification of its own.
func NewVM(insts []Inst) *VM {
	return &VM{Insts: insts, ErrorPrintf: func(uint32) {}}
}

// Jitted reports whether Compile has produced an executable mapping.
func (vm *VM) Jitted() bool { return vm.jittedBuf != nil }

// runMu serializes Run invocations process-wide: the divide-by-zero
// bridge (errorprintf_amd64.s) resolves the calling VM through a
// single package-level slot rather than a parameter, since the
// compiled entry point's signature (mem, mem_len) leaves no register
// free to carry a VM handle across a native CALL back into Go.
var runMu sync.Mutex
var runningVM *VM

// Run invokes the compiled program against mem, returning eBPF r0 (or
// -1, cast to uint64, on divide-by-zero). Compile must have succeeded
// first.
func (vm *VM) Run(mem []byte) (uint64, error) {
	if !vm.Jitted() {
		return 0, errors.New("VM has not been compiled")
	}

	var memPtr unsafe.Pointer
	if len(mem) > 0 {
		memPtr = unsafe.Pointer(&mem[0])
	}

	runMu.Lock()
	runningVM = vm
	defer func() {
		runningVM = nil
		runMu.Unlock()
	}()

	switch vm.abi.Name {
	case "win64":
		return callJittedWindows64(vm.entryPoint, memPtr, uint64(len(mem))), nil
	default:
		return callJittedSystemV(vm.entryPoint, memPtr, uint64(len(mem))), nil
	}
}

// divByZeroFormat is the literal diagnostic format string compiled
// code loads the address of before calling the error_printf bridge,
// matching the original trampoline's own stderr format byte for byte.
var divByZeroFormat = []byte("uBPF error: division by zero at PC %u\n\x00")

func divByZeroFormatAddr() uintptr { return uintptr(unsafe.Pointer(&divByZeroFormat[0])) }

// errorPrintfEntryAddr returns the address compiled code calls into
// on divide-by-zero; see errorprintf_amd64.s.
func errorPrintfEntryAddr() uintptr { return ubpfErrorPrintfAddr() }

// goErrorPrintfBridge is called by errorprintf_amd64.s (via an ABI0
// stack-argument call) from inside JIT'd machine code. It resolves
// the VM currently executing and forwards pc to its ErrorPrintf hook.
func goErrorPrintfBridge(stream, fmtPtr uintptr, pc uint64) {
	vm := runningVM
	if vm == nil || vm.ErrorPrintf == nil {
		return
	}
	vm.ErrorPrintf(uint32(pc))
}
