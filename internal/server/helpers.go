package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	cr "secure-notes/internal/crypto"
	"secure-notes/internal/wire"
)

const maxBodyBytes = 16 << 20

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, errCode, msg string) {
	writeJSONStatus(w, code, wire.ErrorResponse{Error: errCode, Message: msg})
}

func tooMany(w http.ResponseWriter, retryAfterSeconds int) {
	if retryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeError(w, http.StatusTooManyRequests, "rate-limited", "too many requests")
}

// apiError carries an HTTP status out of the note store.
type apiError struct {
	code int
	msg  string
}

func (e *apiError) Error() string { return e.msg }

func badRequest(msg string) error { return &apiError{code: http.StatusBadRequest, msg: msg} }
func forbidden(msg string) error  { return &apiError{code: http.StatusForbidden, msg: msg} }
func notFound(msg string) error   { return &apiError{code: http.StatusNotFound, msg: msg} }

func writeErr(w http.ResponseWriter, err error) {
	var ae *apiError
	if errors.As(err, &ae) {
		writeError(w, ae.code, http.StatusText(ae.code), ae.msg)
		return
	}
	writeError(w, http.StatusInternalServerError, "internal", "internal error")
}

// readBody returns the request body, opening it first when the client sealed
// it to the server key.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return nil, badRequest("unreadable body")
	}
	if r.Header.Get(wire.SealedBodyHeader) == "" {
		return raw, nil
	}
	pt, err := cr.OpenSealed(s.box, raw)
	if err != nil {
		return nil, badRequest("sealed body does not open")
	}
	return pt, nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	raw, err := s.readBody(w, r)
	if err != nil {
		writeErr(w, err)
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		writeError(w, http.StatusBadRequest, "bad-request", "malformed JSON body")
		return false
	}
	return true
}

var reUsername = regexp.MustCompile(`^[A-Za-z0-9._-]{3,64}$`)

func validUsername(u string) bool { return reUsername.MatchString(u) }

// logRequests writes one structured line per request.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}
