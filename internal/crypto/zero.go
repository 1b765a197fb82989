package crypto

// Zero overwrites a byte slice in memory with zeros.
// This version works on all operating systems.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Pin keeps b out of swap where the OS allows it. Failure (e.g. RLIMIT_MEMLOCK)
// only loses that protection, so it is reported but not fatal.
func Pin(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	return lockMemory(b) == nil
}

// Release zeroes b and undoes Pin.
func Release(b []byte, pinned bool) {
	Zero(b)
	if pinned {
		_ = unlockMemory(b)
	}
}
