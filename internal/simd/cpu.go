package simd

import "golang.org/x/sys/cpu"

// HasAVX2 reports whether the host CPU advertises AVX2. The original
// implementation uses this to pick a hand-written assembly kernel; this
// port's scan primitives are pure Go and run the same code path regardless,
// so callers only use this for diagnostics (e.g. `xsearch --version`-style
// capability reporting), not for dispatch.
func HasAVX2() bool {
	return cpu.X86.HasAVX2
}
