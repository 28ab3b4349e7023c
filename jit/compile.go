package jit

import (
	"unsafe"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Compile translates vm's instructions under abi and installs the
// result in an executable memory region: translate, resolve jumps,
// stage into a writable mapping, copy, then flip it read-execute.
// Calling Compile twice on an already-jitted VM is a no-op, matching
// the original's "if (vm->jitted) return vm->jitted" short-circuit.
func (vm *VM) Compile(abi ABI) error {
	if vm.Jitted() {
		logrus.WithField("abi", vm.abi.Name).Debug("Compile: already jitted, returning cached entry")
		return nil
	}
	if len(vm.Insts) == 0 {
		return errors.New("code has not been loaded into this VM")
	}

	logrus.WithFields(logrus.Fields{
		"abi":       abi.Name,
		"numInsts":  len(vm.Insts),
		"stagingKB": stagingBufSize / 1024,
	}).Debug("Compile: translating instruction stream")

	staging := make([]byte, stagingBufSize)
	s := newState(staging, len(vm.Insts))

	if err := translate(vm, abi, s); err != nil {
		return err
	}
	resolveJumps(s)

	code := s.asm.Bytes()
	logrus.WithField("bytes", len(code)).Debug("Compile: resolved jumps, staging executable mapping")

	mapped, err := unix.Mmap(-1, 0, len(code), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return errors.Wrap(err, "internal uBPF error: mmap failed")
	}
	copy(mapped, code)

	if err := unix.Mprotect(mapped, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(mapped)
		return errors.Wrap(err, "internal uBPF error: mprotect failed")
	}

	vm.abi = abi
	vm.jittedBuf = mapped
	vm.entryPoint = uintptr(unsafe.Pointer(&mapped[0]))

	logrus.WithFields(logrus.Fields{
		"entry": vm.entryPoint,
		"size":  len(mapped),
	}).Debug("Compile: entry point installed and mapped read-execute")
	return nil
}

// Close releases the executable mapping. A VM with no mapping (never
// compiled, or already closed) ignores Close.
func (vm *VM) Close() error {
	if vm.jittedBuf == nil {
		return nil
	}
	err := unix.Munmap(vm.jittedBuf)
	vm.jittedBuf = nil
	vm.entryPoint = 0
	return err
}
