package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"secure-notes/internal/wire"
)

func TestIssueAndParseToken(t *testing.T) {
	priv, _, err := GenerateEd25519()
	if err != nil {
		t.Fatalf("GenerateEd25519: %v", err)
	}
	s := NewJWTSigner(priv, "notesd-test", time.Minute)
	tok, exp, err := s.IssueToken("alice")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("token already expired")
	}
	c, err := s.ParseAndValidate(tok)
	if err != nil {
		t.Fatalf("ParseAndValidate: %v", err)
	}
	if c.Sub != "alice" || c.TokenID == "" {
		t.Fatalf("unexpected claims %+v", c)
	}

	other := NewJWTSigner(priv, "someone-else", time.Minute)
	if _, err := other.ParseAndValidate(tok); err == nil {
		t.Fatalf("expected issuer mismatch to fail")
	}
}

func TestExpiredTokenRejected(t *testing.T) {
	priv, _, _ := GenerateEd25519()
	s := NewJWTSigner(priv, "notesd-test", time.Minute)
	s.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }
	tok, _, err := s.IssueToken("alice")
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	s.now = time.Now
	if _, err := s.ParseAndValidate(tok); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestAuthRequired(t *testing.T) {
	priv, _, _ := GenerateEd25519()
	s := NewJWTSigner(priv, "notesd-test", time.Minute)
	h := AuthRequired(s)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := MustClaims(r)
		if err != nil {
			t.Errorf("MustClaims: %v", err)
		}
		_, _ = w.Write([]byte(c.Sub))
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("got %d without token", rec.Code)
	}

	tok, _, _ := s.IssueToken("bob")
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "bob" {
		t.Fatalf("got %d %q", rec.Code, rec.Body.String())
	}
}

func TestMemoryAccountStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryAccountStore()
	a := &Account{Username: "alice", AuthKey: []byte{1}, Record: wire.UserRecord{Username: "alice"}}
	if err := s.Add(ctx, a); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := s.Add(ctx, a); err != ErrAccountExists {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
	got, err := s.Find(ctx, "alice")
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	got.Record.Payload = []byte("x")
	if err := s.Update(ctx, got); err != nil {
		t.Fatalf("Update: %v", err)
	}
	again, _ := s.Find(ctx, "alice")
	if string(again.Record.Payload) != "x" {
		t.Fatalf("update not stored")
	}
	if _, err := s.Find(ctx, "nobody"); err != ErrAccountNotFound {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if err := s.Update(ctx, &Account{Username: "nobody"}); err != ErrAccountNotFound {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}
