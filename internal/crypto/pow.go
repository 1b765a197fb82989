package crypto

import (
	"context"
	"encoding/binary"
	"math/bits"

	"golang.org/x/crypto/sha3"
)

func powDigest(challenge []byte, nonce uint64) [32]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	h := sha3.New256()
	h.Write(challenge)
	h.Write(buf[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func leadingZeroBits(b []byte) int {
	n := 0
	for _, x := range b {
		if x == 0 {
			n += 8
			continue
		}
		return n + bits.LeadingZeros8(x)
	}
	return n
}

// CheckPoW reports whether SHA3-256(challenge||nonce) starts with difficulty zero bits.
func CheckPoW(challenge []byte, nonce uint64, difficulty int) bool {
	d := powDigest(challenge, nonce)
	return leadingZeroBits(d[:]) >= difficulty
}

// SolvePoW brute-forces a nonce for CheckPoW.
func SolvePoW(ctx context.Context, challenge []byte, difficulty int) (uint64, error) {
	for nonce := uint64(0); ; nonce++ {
		if nonce&0xfff == 0 {
			if err := ctx.Err(); err != nil {
				return 0, err
			}
		}
		if CheckPoW(challenge, nonce, difficulty) {
			return nonce, nil
		}
	}
}
