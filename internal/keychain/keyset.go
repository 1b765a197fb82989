// Package keychain holds decrypted key material for one logged-in session.
package keychain

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	cr "secure-notes/internal/crypto"
	"secure-notes/internal/wire"
)

var ErrKeyMismatch = errors.New("keychain: key material does not match record")

// Cipher is a symmetric XChaCha20-Poly1305 key.
type Cipher struct {
	key    []byte
	pinned bool
}

func NewCipher(key []byte) (*Cipher, error) {
	if len(key) != cr.KeySize {
		return nil, fmt.Errorf("keychain: cipher key must be %d bytes", cr.KeySize)
	}
	k := append([]byte(nil), key...)
	return &Cipher{key: k, pinned: cr.Pin(k)}, nil
}

func RandomCipher() (*Cipher, error) {
	k, err := cr.RandomKey()
	if err != nil {
		return nil, err
	}
	defer cr.Zero(k)
	return NewCipher(k)
}

func (c *Cipher) Seal(pt, aad []byte) ([]byte, error) { return cr.SealX(c.key, pt, aad) }
func (c *Cipher) Open(ct, aad []byte) ([]byte, error) { return cr.OpenX(c.key, ct, aad) }

// Export returns a copy of the raw key. Callers seal it immediately.
func (c *Cipher) Export() []byte { return append([]byte(nil), c.key...) }

func (c *Cipher) Destroy() {
	if c == nil {
		return
	}
	cr.Release(c.key, c.pinned)
}

// Signature pairs an ed25519 signing key with an x25519 box key so the same
// actor can both sign and receive sealed messages.
type Signature struct {
	sign ed25519.PrivateKey
	box  *cr.BoxKey
}

func NewSignature() (*Signature, error) {
	_, priv, err := cr.NewSigningKey()
	if err != nil {
		return nil, err
	}
	box, err := cr.NewBoxKey()
	if err != nil {
		return nil, err
	}
	return &Signature{sign: priv, box: box}, nil
}

// ImportSignature reverses Export: seed(32) || box private key(32).
func ImportSignature(b []byte) (*Signature, error) {
	if len(b) != 64 {
		return nil, errors.New("keychain: bad signature material length")
	}
	priv, err := cr.SigningKeyFromSeed(b[:32])
	if err != nil {
		return nil, err
	}
	box, err := cr.BoxKeyFromPrivate(b[32:])
	if err != nil {
		return nil, err
	}
	return &Signature{sign: priv, box: box}, nil
}

func (s *Signature) Export() []byte {
	out := make([]byte, 0, 64)
	out = append(out, s.sign.Seed()...)
	return append(out, s.box.Private[:]...)
}

func (s *Signature) Sign(msg []byte) []byte { return cr.Sign(s.sign, msg) }

func (s *Signature) SignPub() ed25519.PublicKey { return s.sign.Public().(ed25519.PublicKey) }

func (s *Signature) BoxPub() []byte { return append([]byte(nil), s.box.Public[:]...) }

// Open decrypts a message sealed to BoxPub.
func (s *Signature) Open(sealed []byte) ([]byte, error) { return cr.OpenSealed(s.box, sealed) }

func (s *Signature) Destroy() {
	if s == nil {
		return
	}
	cr.Zero(s.sign)
	s.box.Zero()
}

// KeySet is a symmetric cipher plus signature, addressed by a stable ID and a
// Name that notes store as their key reference.
type KeySet struct {
	ID        string
	Name      string
	Cipher    *Cipher
	Signature *Signature
	Meta      wire.KeyMeta
}

func New(meta wire.KeyMeta) (*KeySet, error) {
	c, err := RandomCipher()
	if err != nil {
		return nil, err
	}
	s, err := NewSignature()
	if err != nil {
		c.Destroy()
		return nil, err
	}
	return &KeySet{
		ID:        uuid.NewString(),
		Name:      uuid.NewString(),
		Cipher:    c,
		Signature: s,
		Meta:      meta,
	}, nil
}

type material struct {
	Sym []byte `json:"sym"`
	Sig []byte `json:"sig"`
}

// Export returns the key material in cleartext. Callers seal it immediately.
func (k *KeySet) Export() ([]byte, error) {
	return json.Marshal(material{Sym: k.Cipher.key, Sig: k.Signature.Export()})
}

func Import(id, name string, meta wire.KeyMeta, raw []byte) (*KeySet, error) {
	var m material
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("keychain: decode material: %w", err)
	}
	defer cr.Zero(m.Sym)
	defer cr.Zero(m.Sig)
	c, err := NewCipher(m.Sym)
	if err != nil {
		return nil, err
	}
	s, err := ImportSignature(m.Sig)
	if err != nil {
		c.Destroy()
		return nil, err
	}
	return &KeySet{ID: id, Name: name, Cipher: c, Signature: s, Meta: meta}, nil
}

func keyAAD(id string) []byte { return []byte("key:" + id) }

// Wrap seals the key set under root for storage on the server.
func (k *KeySet) Wrap(root *Cipher) (wire.KeyRecord, error) {
	raw, err := k.Export()
	if err != nil {
		return wire.KeyRecord{}, err
	}
	defer cr.Zero(raw)
	wrapped, err := root.Seal(raw, keyAAD(k.ID))
	if err != nil {
		return wire.KeyRecord{}, err
	}
	return wire.KeyRecord{
		ID:      k.ID,
		Name:    k.Name,
		Wrapped: wrapped,
		SignPub: k.Signature.SignPub(),
		Meta:    k.Meta,
	}, nil
}

func Unwrap(rec wire.KeyRecord, root *Cipher) (*KeySet, error) {
	raw, err := root.Open(rec.Wrapped, keyAAD(rec.ID))
	if err != nil {
		return nil, fmt.Errorf("keychain: unwrap key %s: %w", rec.ID, err)
	}
	defer cr.Zero(raw)
	ks, err := Import(rec.ID, rec.Name, rec.Meta, raw)
	if err != nil {
		return nil, err
	}
	if len(rec.SignPub) > 0 && !bytes.Equal(rec.SignPub, ks.Signature.SignPub()) {
		ks.Destroy()
		return nil, ErrKeyMismatch
	}
	return ks, nil
}

func (k *KeySet) Destroy() {
	if k == nil {
		return
	}
	k.Cipher.Destroy()
	k.Signature.Destroy()
}
