package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Envelope layout: [version||salt||nonce||ciphertext||tag]. The XChaCha key
// is derived per message from the master key and salt, so one master key can
// seal any number of records.
const (
	envelopeVersion  byte = 1
	envelopeSaltSize      = 32
	envelopeHeader        = 1 + envelopeSaltSize
	envelopeInfo          = "secure-notes/at-rest/v1"
)

var (
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
	ErrInvalidMAC         = errors.New("crypto: message authentication failed")
	ErrEnvelopeVersion    = errors.New("crypto: unsupported envelope version")
	errEmptyMasterKey     = errors.New("crypto: empty master key")
)

// Seal encrypts plaintext for storage under masterKey. aad is bound to the
// result along with the envelope header.
func Seal(masterKey, plaintext, aad []byte) ([]byte, error) {
	if len(masterKey) == 0 {
		return nil, errEmptyMasterKey
	}
	header := make([]byte, envelopeHeader)
	header[0] = envelopeVersion
	if _, err := rand.Read(header[1:]); err != nil {
		return nil, err
	}
	key, err := envelopeKey(masterKey, header[1:])
	if err != nil {
		return nil, err
	}
	defer Zero(key)

	body, err := SealX(key, plaintext, envelopeAAD(header, aad))
	if err != nil {
		return nil, err
	}
	return append(header, body...), nil
}

// Open reverses Seal.
func Open(masterKey, sealed, aad []byte) ([]byte, error) {
	if len(masterKey) == 0 {
		return nil, errEmptyMasterKey
	}
	if len(sealed) < envelopeHeader {
		return nil, ErrCiphertextTooShort
	}
	if sealed[0] != envelopeVersion {
		return nil, fmt.Errorf("%w: %d", ErrEnvelopeVersion, sealed[0])
	}
	header := sealed[:envelopeHeader]
	key, err := envelopeKey(masterKey, header[1:])
	if err != nil {
		return nil, err
	}
	defer Zero(key)
	return OpenX(key, sealed[envelopeHeader:], envelopeAAD(header, aad))
}

func envelopeKey(masterKey, salt []byte) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, salt, []byte(envelopeInfo)), key); err != nil {
		return nil, err
	}
	return key, nil
}

func envelopeAAD(header, aad []byte) []byte {
	out := make([]byte, 0, len(header)+len(aad))
	return append(append(out, header...), aad...)
}
