//go:build amd64

package jit

import "unsafe"

// callJittedSystemV and callJittedWindows64 invoke a compiled entry
// point through the native calling convention its code was emitted
// for. Implemented in call_sysv_amd64.s/call_win64_amd64.s: a Go
// func value cannot itself be pointed at raw machine code on current
// Go versions (the register-based internal ABI has no stable,
// documented layout to target), so the boundary is crossed by hand
// through a tiny per-ABI assembly stub instead.
func callJittedSystemV(fn uintptr, mem unsafe.Pointer, memLen uint64) uint64
func callJittedWindows64(fn uintptr, mem unsafe.Pointer, memLen uint64) uint64

// ubpfErrorPrintfAddr returns the address of the fixed native entry
// point compiled code calls on divide-by-zero. See
// errorprintf_amd64.s.
func ubpfErrorPrintfAddr() uintptr
