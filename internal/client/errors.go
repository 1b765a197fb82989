package client

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"secure-notes/internal/wire"
)

var (
	ErrBadCredentials = errors.New("client: bad credentials")
	// ErrPossibleConversion means the username belongs to an account that
	// predates end-to-end encryption and may need linking.
	ErrPossibleConversion = errors.New("client: possible account conversion")
	ErrConflict           = errors.New("client: version conflict")
	ErrOffline            = errors.New("client: offline")
	ErrNotLoggedIn        = errors.New("client: not logged in")
	ErrNotCached          = errors.New("client: no cached login for user")
	ErrKeyNotFound        = errors.New("client: key not found")
	ErrUsernameTaken      = errors.New("client: username not available")
	ErrBadShare           = errors.New("client: share offer failed verification")
)

// ConflictError lists the items whose submitted version did not match.
type ConflictError struct {
	Conflicts []wire.Conflict
}

func (e *ConflictError) Error() string {
	parts := make([]string, len(e.Conflicts))
	for i, c := range e.Conflicts {
		parts[i] = fmt.Sprintf("%s/%s@%d", c.NoteID, c.Type, c.Version)
	}
	return "client: version conflict: " + strings.Join(parts, ", ")
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// Types returns the distinct item types in conflict.
func (e *ConflictError) Types() []string {
	seen := map[string]bool{}
	var out []string
	for _, c := range e.Conflicts {
		if !seen[c.Type] {
			seen[c.Type] = true
			out = append(out, c.Type)
		}
	}
	return out
}

// StatusError is any non-2xx response not mapped to a more specific error.
type StatusError struct {
	Method  string
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Code)
	}
	return fmt.Sprintf("client: %s %s: %d %s", e.Method, e.Path, e.Code, msg)
}

func (e *StatusError) IsClientError() bool { return e.Code >= 400 && e.Code < 500 }
func (e *StatusError) IsServerError() bool { return e.Code >= 500 }

// IsNotFound reports whether err is a 404 status.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusNotFound
}

type powRequiredError struct {
	challenge  []byte
	difficulty int
}

func (e *powRequiredError) Error() string {
	return fmt.Sprintf("client: proof of work required (difficulty %d)", e.difficulty)
}
