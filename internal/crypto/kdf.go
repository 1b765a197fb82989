package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/pbkdf2"
)

const (
	AlgArgon2id = "argon2id"
	AlgPBKDF2   = "pbkdf2-sha256"
)

var ErrUnknownKDF = errors.New("crypto: unknown password hashing algorithm")

// PasswordParams are the password-hashing parameters a server hands out at pre-login.
type PasswordParams struct {
	Algorithm   string `json:"algorithm"`
	Salt        []byte `json:"salt"`
	Iterations  uint32 `json:"iterations"`
	Memory      uint32 `json:"memory,omitempty"`      // KiB, argon2id only
	Parallelism uint8  `json:"parallelism,omitempty"` // argon2id only
}

func DefaultPasswordParams() PasswordParams {
	return PasswordParams{Algorithm: AlgArgon2id, Iterations: 3, Memory: 64 * 1024, Parallelism: 4}
}

// WithFreshSalt returns a copy of p carrying a new random 32-byte salt.
func (p PasswordParams) WithFreshSalt() (PasswordParams, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return p, err
	}
	p.Salt = salt
	return p, nil
}

func (p PasswordParams) Validate() error {
	if len(p.Salt) < 16 {
		return errors.New("crypto: password salt too short")
	}
	if p.Iterations == 0 {
		return errors.New("crypto: zero iterations")
	}
	switch p.Algorithm {
	case AlgArgon2id:
		if p.Parallelism == 0 || p.Memory < 8*uint32(p.Parallelism) {
			return errors.New("crypto: invalid argon2id memory/parallelism")
		}
	case AlgPBKDF2:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKDF, p.Algorithm)
	}
	return nil
}

// PasswordKeys is what a password turns into. AuthKey only ever answers login
// challenges; UserKey unwraps the account root keys and never leaves the client.
type PasswordKeys struct {
	AuthKey [32]byte
	UserKey [32]byte
}

func (k *PasswordKeys) Zero() {
	Zero(k.AuthKey[:])
	Zero(k.UserKey[:])
}

func DerivePasswordKeys(password []byte, p PasswordParams) (PasswordKeys, error) {
	var keys PasswordKeys
	if err := p.Validate(); err != nil {
		return keys, err
	}
	var hash []byte
	switch p.Algorithm {
	case AlgArgon2id:
		hash = argon2.IDKey(password, p.Salt, p.Iterations, p.Memory, p.Parallelism, 32)
	case AlgPBKDF2:
		hash = pbkdf2.Key(password, p.Salt, int(p.Iterations), 32, sha256.New)
	}
	defer Zero(hash)

	if _, err := io.ReadFull(hkdf.New(sha256.New, hash, nil, []byte("notes/auth/v1")), keys.AuthKey[:]); err != nil {
		return keys, err
	}
	if _, err := io.ReadFull(hkdf.New(sha256.New, hash, nil, []byte("notes/user/v1")), keys.UserKey[:]); err != nil {
		return keys, err
	}
	return keys, nil
}
