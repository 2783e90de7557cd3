package mem

import "runtime"

// ZeroBytes overwrites a byte slice with zeros.
//
// Best-effort defense against memory forensics: runtime.KeepAlive prevents
// the compiler from eliminating the zeroing as a dead store, but the GC may
// have already copied the slice elsewhere.
func ZeroBytes(b []byte) {
	if len(b) == 0 {
		return
	}
	for i := range b {
		b[i] = 0
	}
	runtime.KeepAlive(b)
}
