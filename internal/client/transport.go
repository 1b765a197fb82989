package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	cr "secure-notes/internal/crypto"
	"secure-notes/internal/wire"
)

const maxResponseBytes = 32 << 20

type request struct {
	method string
	path   string
	body   any
	// signed wraps body in a wire.Envelope signed by the account key.
	signed    bool
	requestID string
}

func (c *Client) send(ctx context.Context, req request, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	start := time.Now()

	payload, err := c.encodeBody(req)
	if err != nil {
		return err
	}
	sealed := false
	if payload != nil && c.cfg.SealRequests {
		if payload, err = c.seal(ctx, payload); err != nil {
			return err
		}
		sealed = true
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	hr, err := http.NewRequestWithContext(ctx, req.method, strings.TrimRight(c.cfg.BaseURL, "/")+req.path, body)
	if err != nil {
		return err
	}
	if payload != nil {
		hr.Header.Set("Content-Type", "application/json")
	}
	if sealed {
		hr.Header.Set(wire.SealedBodyHeader, "1")
	}
	c.mu.RLock()
	token := c.token
	c.mu.RUnlock()
	if token != "" {
		hr.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(hr)
	if err != nil {
		return fmt.Errorf("client: %s %s: %w", req.method, req.path, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("client: read %s: %w", req.path, err)
	}

	c.log.Debug().
		Str("method", req.method).
		Str("path", req.path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("request")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.statusError(req, resp.StatusCode, raw)
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("client: decode %s response: %w", req.path, err)
	}
	return nil
}

func (c *Client) encodeBody(req request) ([]byte, error) {
	if req.body == nil && !req.signed {
		return nil, nil
	}
	inner, err := json.Marshal(req.body)
	if err != nil {
		return nil, fmt.Errorf("client: encode %s: %w", req.path, err)
	}
	if !req.signed {
		return inner, nil
	}
	username, _, sig, err := c.identity()
	if err != nil {
		return nil, err
	}
	env := wire.Envelope{
		Username:  username,
		Timestamp: c.cfg.Now().Unix(),
		RequestID: req.requestID,
		Body:      inner,
	}
	if env.RequestID == "" {
		env.RequestID = uuid.NewString()
	}
	env.Signatures = []wire.Signature{{Signer: wire.SignerUser, Sig: sig.Sign(env.Digest(req.path))}}
	return json.Marshal(env)
}

func (c *Client) seal(ctx context.Context, payload []byte) ([]byte, error) {
	pub, err := c.serverKey(ctx)
	if err != nil {
		return nil, err
	}
	return cr.SealTo(pub, payload)
}

// serverKey fetches and remembers the server's box key.
func (c *Client) serverKey(ctx context.Context) (*[32]byte, error) {
	c.mu.RLock()
	pub := c.serverBox
	c.mu.RUnlock()
	if pub != nil {
		return pub, nil
	}

	hr, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(c.cfg.BaseURL, "/")+wire.PathServerKey, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(hr)
	if err != nil {
		return nil, fmt.Errorf("client: fetch server key: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Method: http.MethodGet, Path: wire.PathServerKey, Code: resp.StatusCode}
	}
	var out wire.ServerKeyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&out); err != nil {
		return nil, fmt.Errorf("client: decode server key: %w", err)
	}
	if pub, err = cr.BoxPublicKey(out.BoxPub); err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.serverBox = pub
	c.mu.Unlock()
	return pub, nil
}

func (c *Client) statusError(req request, code int, raw []byte) error {
	var er wire.ErrorResponse
	_ = json.Unmarshal(raw, &er)

	switch {
	case code == http.StatusConflict && er.Error == wire.ErrCodeConflict:
		var conflict wire.ConflictResponse
		if err := json.Unmarshal(raw, &conflict); err == nil {
			return &ConflictError{Conflicts: conflict.Conflicts}
		}
	case code == http.StatusConflict && er.Error == wire.ErrCodePossibleConversion:
		return ErrPossibleConversion
	case code == http.StatusConflict && er.Error == wire.ErrCodeExists:
		return ErrUsernameTaken
	case code == http.StatusUnauthorized && er.Error == wire.ErrCodeBadCredentials:
		return ErrBadCredentials
	case code == http.StatusPreconditionRequired && er.Error == wire.ErrCodePoWRequired:
		var pr wire.PoWRequired
		if err := json.Unmarshal(raw, &pr); err == nil {
			return &powRequiredError{challenge: pr.Challenge, difficulty: pr.Difficulty}
		}
	}
	msg := er.Message
	if msg == "" {
		msg = er.Error
	}
	return &StatusError{Method: req.method, Path: req.path, Code: code, Message: msg}
}

const maxPoWAttempts = 8

// withPoW repeats a gated request, solving each challenge the server returns,
// until it is served. Difficulty may rise between attempts.
func (c *Client) withPoW(ctx context.Context, path string, build func(*wire.PoWSolution) any, out any) error {
	var sol *wire.PoWSolution
	for attempt := 0; attempt < maxPoWAttempts; attempt++ {
		err := c.send(ctx, request{method: http.MethodPost, path: path, body: build(sol)}, out)
		var pe *powRequiredError
		if !errors.As(err, &pe) {
			return err
		}
		c.log.Debug().Str("path", path).Int("difficulty", pe.difficulty).Msg("solving proof of work")
		nonce, err := cr.SolvePoW(ctx, pe.challenge, pe.difficulty)
		if err != nil {
			return err
		}
		sol = &wire.PoWSolution{Challenge: pe.challenge, Nonce: nonce}
	}
	return fmt.Errorf("client: %s: proof of work not accepted after %d attempts", path, maxPoWAttempts)
}
