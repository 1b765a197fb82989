package crypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// BoxKey is an x25519 key pair used to receive sealed messages.
type BoxKey struct {
	Public  *[32]byte
	Private *[32]byte
}

func NewBoxKey() (*BoxKey, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &BoxKey{Public: pub, Private: priv}, nil
}

func BoxKeyFromPrivate(priv []byte) (*BoxKey, error) {
	if len(priv) != 32 {
		return nil, errors.New("crypto: box private key must be 32 bytes")
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	k := &BoxKey{Public: new([32]byte), Private: new([32]byte)}
	copy(k.Public[:], pub)
	copy(k.Private[:], priv)
	return k, nil
}

func BoxPublicKey(b []byte) (*[32]byte, error) {
	if len(b) != 32 {
		return nil, errors.New("crypto: box public key must be 32 bytes")
	}
	pk := new([32]byte)
	copy(pk[:], b)
	return pk, nil
}

// SealTo encrypts msg so that only the holder of the private half of pub can read it.
func SealTo(pub *[32]byte, msg []byte) ([]byte, error) {
	return box.SealAnonymous(nil, msg, pub, rand.Reader)
}

func OpenSealed(k *BoxKey, sealed []byte) ([]byte, error) {
	out, ok := box.OpenAnonymous(nil, sealed, k.Public, k.Private)
	if !ok {
		return nil, ErrInvalidMAC
	}
	return out, nil
}

func (k *BoxKey) Zero() {
	if k.Private != nil {
		Zero(k.Private[:])
	}
}
