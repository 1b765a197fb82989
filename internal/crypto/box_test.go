package crypto

import (
	"bytes"
	"context"
	"testing"
)

func TestSealToOpenSealed(t *testing.T) {
	k, err := NewBoxKey()
	if err != nil {
		t.Fatalf("keygen: %v", err)
	}
	msg := []byte("share offer")
	sealed, err := SealTo(k.Public, msg)
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	got, err := OpenSealed(k, sealed)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatal("plaintext mismatch")
	}

	other, _ := NewBoxKey()
	if _, err := OpenSealed(other, sealed); err == nil {
		t.Fatal("expected failure with the wrong key")
	}
}

func TestBoxKeyFromPrivate(t *testing.T) {
	k, _ := NewBoxKey()
	k2, err := BoxKeyFromPrivate(k.Private[:])
	if err != nil {
		t.Fatalf("from private: %v", err)
	}
	if *k2.Public != *k.Public {
		t.Fatal("derived public key differs")
	}
}

func TestSealXOpenX(t *testing.T) {
	key, err := RandomKey()
	if err != nil {
		t.Fatalf("key: %v", err)
	}
	ct, err := SealX(key, []byte("item"), []byte("note:1:text"))
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	if _, err := OpenX(key, ct, []byte("note:1:metadata")); err == nil {
		t.Fatal("expected aad mismatch to fail")
	}
	pt, err := OpenX(key, ct, []byte("note:1:text"))
	if err != nil || string(pt) != "item" {
		t.Fatalf("open: %q %v", pt, err)
	}
	if _, err := OpenX(key, ct[:10], nil); err != ErrCiphertextTooShort {
		t.Fatalf("expected ErrCiphertextTooShort, got %v", err)
	}
}

func TestProofOfWork(t *testing.T) {
	ch := []byte("challenge")
	nonce, err := SolvePoW(context.Background(), ch, 10)
	if err != nil {
		t.Fatalf("solve: %v", err)
	}
	if !CheckPoW(ch, nonce, 10) {
		t.Fatal("solution does not verify")
	}
	if CheckPoW(ch, nonce, 64) {
		t.Fatal("solution should not satisfy an absurd difficulty")
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := SolvePoW(ctx, ch, 255); err == nil {
		t.Fatal("expected cancelled solve to fail")
	}
}

func TestLeadingZeroBits(t *testing.T) {
	cases := []struct {
		in   []byte
		want int
	}{
		{[]byte{0x80}, 0},
		{[]byte{0x01}, 7},
		{[]byte{0x00, 0x10}, 11},
		{[]byte{0x00, 0x00}, 16},
	}
	for _, c := range cases {
		if got := leadingZeroBits(c.in); got != c.want {
			t.Fatalf("leadingZeroBits(%x) = %d, want %d", c.in, got, c.want)
		}
	}
}
