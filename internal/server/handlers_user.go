package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"secure-notes/internal/auth"
	cr "secure-notes/internal/crypto"
	"secure-notes/internal/wire"
)

// handlePreLogin returns KDF parameters and a one-time login challenge.
// Unknown usernames get stable decoy parameters.
func (s *Server) handlePreLogin(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	if !validUsername(username) {
		writeError(w, http.StatusBadRequest, "bad-request", "invalid username")
		return
	}
	acct, err := s.findAccount(r.Context(), username)
	if err != nil {
		writeErr(w, err)
		return
	}
	var params cr.PasswordParams
	if acct != nil {
		params = acct.Record.Params
	} else {
		params = s.cfg.DecoyParams
		params.Salt = s.decoySalt(username)
	}

	challenge, err := cr.NewChallenge()
	if err != nil {
		writeErr(w, err)
		return
	}
	id := randomID()
	now := time.Now()
	s.mu.Lock()
	for k, c := range s.challenges {
		if now.After(c.expires) {
			delete(s.challenges, k)
		}
	}
	s.challenges[id] = loginChallenge{username: username, challenge: challenge, expires: now.Add(s.cfg.ChallengeTTL)}
	s.mu.Unlock()

	writeJSON(w, wire.PreLogin{Username: username, Params: params, ChallengeID: id, Challenge: challenge})
}

func (s *Server) takeChallenge(id string) (loginChallenge, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.challenges[id]
	delete(s.challenges, id)
	if !ok || time.Now().After(c.expires) {
		return loginChallenge{}, false
	}
	return c, true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if !s.rlLoginIP.allow(getClientIP(r)) {
		tooMany(w, 60)
		return
	}
	var req wire.LoginRequest
	if !s.decode(w, r, &req) {
		return
	}
	if !s.rlLoginID.allow(req.Username) {
		tooMany(w, 60)
		return
	}

	ch, ok := s.takeChallenge(req.ChallengeID)
	if !ok || ch.username != req.Username {
		writeError(w, http.StatusUnauthorized, wire.ErrCodeBadCredentials, "unknown or expired challenge")
		return
	}
	acct, err := s.findAccount(r.Context(), req.Username)
	if err != nil {
		writeErr(w, err)
		return
	}
	if acct == nil {
		if s.legacy[req.Username] {
			writeError(w, http.StatusConflict, wire.ErrCodePossibleConversion, "account requires conversion")
			return
		}
		writeError(w, http.StatusUnauthorized, wire.ErrCodeBadCredentials, "bad credentials")
		return
	}
	authKey, err := cr.Open(s.cfg.MasterKey, acct.AuthKey, authAAD(acct.Username))
	if err != nil {
		s.log.Error().Err(err).Str("user", acct.Username).Msg("open stored auth key")
		writeErr(w, err)
		return
	}
	defer cr.Zero(authKey)
	if !cr.VerifyChallengeResponse(authKey, ch.challenge, req.Response) {
		writeError(w, http.StatusUnauthorized, wire.ErrCodeBadCredentials, "bad credentials")
		return
	}

	token, exp, err := s.signer.IssueToken(acct.Username)
	if err != nil {
		writeErr(w, err)
		return
	}
	user := acct.Record
	s.mu.Lock()
	user.Usage = s.usage[acct.Username]
	s.mu.Unlock()
	writeJSON(w, wire.LoginResponse{User: user, Token: token, ExpiresAt: exp})
}

func validAccountKeys(params cr.PasswordParams, authKey, rootWrap, signWrap []byte) bool {
	return params.Validate() == nil &&
		len(authKey) == 32 &&
		len(rootWrap) > 0 &&
		len(signWrap) > 0
}

func (s *Server) handleUserCreate(w http.ResponseWriter, r *http.Request) {
	if !s.rlCreateIP.allow(getClientIP(r)) {
		tooMany(w, 300)
		return
	}
	var req wire.CreateUserRequest
	if !s.decode(w, r, &req) {
		return
	}
	rec := req.User
	switch {
	case !validUsername(rec.Username):
		writeError(w, http.StatusBadRequest, "bad-request", "invalid username")
		return
	case !validAccountKeys(rec.Params, req.AuthKey, rec.RootKeyWrap, rec.SignWrap),
		len(rec.SignPub) != 32, len(rec.BoxPub) != 32:
		writeError(w, http.StatusBadRequest, "bad-request", "incomplete account keys")
		return
	case s.legacy[rec.Username]:
		writeError(w, http.StatusConflict, wire.ErrCodePossibleConversion, "account requires conversion")
		return
	}

	sealed, err := cr.Seal(s.cfg.MasterKey, req.AuthKey, authAAD(rec.Username))
	if err != nil {
		writeErr(w, err)
		return
	}
	rec.Usage = wire.Usage{}
	err = s.accounts.Add(r.Context(), &auth.Account{
		Username: rec.Username,
		AuthKey:  sealed,
		Record:   rec,
		Created:  time.Now().UTC(),
	})
	if errors.Is(err, auth.ErrAccountExists) {
		writeError(w, http.StatusConflict, wire.ErrCodeExists, "username taken")
		return
	}
	if err != nil {
		writeErr(w, err)
		return
	}
	s.audit.Append(rec.Username, "user/create", "")
	s.log.Info().Str("user", rec.Username).Msg("account created")
	writeJSONStatus(w, http.StatusCreated, struct{}{})
}

// powGated admits a request or answers 428 with a fresh challenge.
func (s *Server) powGated(w http.ResponseWriter, r *http.Request, sol *wire.PoWSolution) bool {
	ok, req, err := s.pow.admit(getClientIP(r), sol)
	if err != nil {
		writeErr(w, err)
		return false
	}
	if !ok {
		writeJSONStatus(w, http.StatusPreconditionRequired, req)
		return false
	}
	return true
}

func (s *Server) handleUserCheck(w http.ResponseWriter, r *http.Request) {
	var req wire.CheckUsernameRequest
	if !s.decode(w, r, &req) || !s.powGated(w, r, req.PoW) {
		return
	}
	if !validUsername(req.Username) || s.legacy[req.Username] {
		writeJSON(w, wire.CheckUsernameResponse{Available: false})
		return
	}
	acct, err := s.findAccount(r.Context(), req.Username)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, wire.CheckUsernameResponse{Available: acct == nil})
}

func (s *Server) handlePublicKey(w http.ResponseWriter, r *http.Request) {
	var req wire.PublicKeyRequest
	if !s.decode(w, r, &req) || !s.powGated(w, r, req.PoW) {
		return
	}
	acct, err := s.findAccount(r.Context(), req.Username)
	if err != nil {
		writeErr(w, err)
		return
	}
	if acct == nil {
		writeError(w, http.StatusNotFound, "not-found", "no such user")
		return
	}
	writeJSON(w, wire.PublicKeyResponse{
		Username: acct.Username,
		SignPub:  acct.Record.SignPub,
		BoxPub:   acct.Record.BoxPub,
	})
}

func (s *Server) handleUserUpdate(w http.ResponseWriter, r *http.Request, c *call) {
	var req wire.UpdateUserRequest
	if !c.decode(w, &req) {
		return
	}
	if !validAccountKeys(req.Params, req.AuthKey, req.RootKeyWrap, req.SignWrap) {
		writeError(w, http.StatusBadRequest, "bad-request", "incomplete account keys")
		return
	}
	sealed, err := cr.Seal(s.cfg.MasterKey, req.AuthKey, authAAD(c.user()))
	if err != nil {
		writeErr(w, err)
		return
	}
	acct := c.acct
	acct.AuthKey = sealed
	acct.Record.Params = req.Params
	acct.Record.RootKeyWrap = req.RootKeyWrap
	acct.Record.SignWrap = req.SignWrap
	if err := s.accounts.Update(r.Context(), acct); err != nil {
		writeErr(w, err)
		return
	}
	s.audit.Append(c.user(), "user/update", "")
	writeJSON(w, struct{}{})
}

func (s *Server) handleUserData(w http.ResponseWriter, r *http.Request, c *call) {
	var req wire.UpdateUserDataRequest
	if !c.decode(w, &req) {
		return
	}
	acct := c.acct
	acct.Record.Payload = req.Payload
	if err := s.accounts.Update(r.Context(), acct); err != nil {
		writeErr(w, err)
		return
	}
	s.audit.Append(c.user(), "user/update-data", "")
	writeJSON(w, struct{}{})
}
