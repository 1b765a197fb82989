// Package testenv runs an in-process sync server for integration tests.
package testenv

import (
	"context"
	"net/http/httptest"
	"testing"

	"secure-notes/internal/client"
	cr "secure-notes/internal/crypto"
	"secure-notes/internal/server"
)

// Params are password KDF parameters cheap enough for tests.
func Params() cr.PasswordParams {
	return cr.PasswordParams{Algorithm: cr.AlgArgon2id, Iterations: 1, Memory: 64, Parallelism: 1}
}

type Env struct {
	Server *server.Server
	HTTP   *httptest.Server
}

// New starts a server that is closed when t finishes. Legacy usernames
// report a possible account conversion at login.
func New(t testing.TB, legacy ...string) *Env {
	t.Helper()
	decoy := Params()
	s, err := server.New(context.Background(), server.Config{
		DecoyParams:     decoy,
		PoWDifficulty:   4,
		LegacyUsernames: legacy,
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	hs := httptest.NewServer(s.Handler())
	t.Cleanup(func() {
		hs.Close()
		_ = s.Close(context.Background())
	})
	return &Env{Server: s, HTTP: hs}
}

// ClientConfig points a client at the server with test KDF parameters and no
// throttling.
func (e *Env) ClientConfig() client.Config {
	return client.Config{
		BaseURL:           e.HTTP.URL,
		HTTPClient:        e.HTTP.Client(),
		RequestsPerSecond: 10000,
		Burst:             10000,
		Params:            Params(),
	}
}

// Signup registers username and returns a logged-in client.
func (e *Env) Signup(t testing.TB, username, password string) *client.Client {
	t.Helper()
	c := client.New(e.ClientConfig())
	if _, err := c.CreateAccount(context.Background(), username, []byte(password), nil); err != nil {
		t.Fatalf("CreateAccount(%s): %v", username, err)
	}
	t.Cleanup(c.Close)
	return c
}
