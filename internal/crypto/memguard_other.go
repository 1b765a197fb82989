//go:build !(linux || darwin)

package crypto

func lockMemory([]byte) error   { return nil }
func unlockMemory([]byte) error { return nil }
