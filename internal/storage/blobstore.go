// Package storage holds opaque encrypted blobs for the local cache.
package storage

import (
	"context"
	"errors"
)

var ErrNotFound = errors.New("blob not found")

var errEmptyID = errors.New("storage: empty id")

type BlobStore interface {
	Put(ctx context.Context, id string, data []byte) error
	Get(ctx context.Context, id string) ([]byte, error)
	Delete(ctx context.Context, id string) error
	// List returns the ids that start with prefix, in no particular order.
	List(ctx context.Context, prefix string) ([]string, error)
}
