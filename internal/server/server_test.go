package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secure-notes/internal/wire"
)

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.1:4000"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	s := testServer(t)
	rec := do(t, s.Handler(), http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("health = %d %q", rec.Code, rec.Body.String())
	}
}

func TestPreLoginDecoyIsStable(t *testing.T) {
	s := testServer(t)
	var a, b wire.PreLogin
	require.NoError(t, json.NewDecoder(do(t, s.Handler(), http.MethodGet, wire.PathPreLogin+"nobody", nil).Body).Decode(&a))
	require.NoError(t, json.NewDecoder(do(t, s.Handler(), http.MethodGet, wire.PathPreLogin+"nobody", nil).Body).Decode(&b))
	assert.Equal(t, a.Params.Salt, b.Params.Salt)
	assert.NotEqual(t, a.Challenge, b.Challenge)
	assert.NotEqual(t, a.ChallengeID, b.ChallengeID)
}

func TestLoginLegacyUsernameReportsConversion(t *testing.T) {
	s := testServer(t)
	s.legacy["oldtimer"] = true
	var pre wire.PreLogin
	require.NoError(t, json.NewDecoder(do(t, s.Handler(), http.MethodGet, wire.PathPreLogin+"oldtimer", nil).Body).Decode(&pre))

	rec := do(t, s.Handler(), http.MethodPost, wire.PathLogin, wire.LoginRequest{
		Username:    "oldtimer",
		ChallengeID: pre.ChallengeID,
		Response:    make([]byte, 32),
	})
	require.Equal(t, http.StatusConflict, rec.Code)
	var er wire.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&er))
	assert.Equal(t, wire.ErrCodePossibleConversion, er.Error)
}

func TestUserCheckRequiresProofOfWork(t *testing.T) {
	s := testServer(t)
	rec := do(t, s.Handler(), http.MethodPost, wire.PathUserCheck, wire.CheckUsernameRequest{Username: "alice"})
	require.Equal(t, http.StatusPreconditionRequired, rec.Code)
	var pr wire.PoWRequired
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&pr))
	assert.Equal(t, wire.ErrCodePoWRequired, pr.Error)
	assert.NotEmpty(t, pr.Challenge)
}

func TestSignedRoutesNeedToken(t *testing.T) {
	s := testServer(t)
	rec := do(t, s.Handler(), http.MethodPost, wire.PathNoteRead, wire.Envelope{Username: "alice"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
