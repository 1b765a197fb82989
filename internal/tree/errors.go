package tree

import (
	"errors"

	"secure-notes/internal/client"
)

var (
	ErrNotLoaded           = errors.New("tree: not loaded")
	ErrNotFound            = errors.New("tree: note not found")
	ErrProtected           = errors.New("tree: the root note and its system notes cannot be moved or removed")
	ErrCycle               = errors.New("tree: cannot move a note into its own subtree")
	ErrShareRoot           = errors.New("tree: the root note cannot be shared")
	ErrShareAncestorShared = errors.New("tree: an ancestor is already shared")
	ErrShareNestedShared   = errors.New("tree: the subtree contains a note shared under another key")
)

// OfflineError is returned by structural operations attempted without a
// connection. It matches client.ErrOffline.
type OfflineError struct {
	Op string
}

func (e *OfflineError) Error() string { return "tree: " + e.Op + " requires a connection" }
func (e *OfflineError) Unwrap() error { return client.ErrOffline }
