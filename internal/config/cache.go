package config

import (
	"context"
	"fmt"

	"secure-notes/internal/cache"
	"secure-notes/internal/storage"
)

const (
	BackendNone   = "none"
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMongo  = "mongo"
)

// OpenCache builds the configured cache manager. The returned close function
// releases its backing store and is never nil.
func (c *Config) OpenCache(ctx context.Context) (cache.Manager, func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }
	var store storage.BlobStore
	closer := noop
	switch c.Cache.Backend {
	case BackendNone:
		return cache.Nop{}, noop, nil
	case BackendMemory:
		store = storage.NewMemoryBlobStore()
	case BackendFile:
		fs, err := storage.NewFileBlobStore(c.Cache.Dir)
		if err != nil {
			return nil, noop, err
		}
		store = fs
	case BackendSQLite:
		db, err := storage.NewSQLiteBlobStore(c.Cache.SQLitePath)
		if err != nil {
			return nil, noop, err
		}
		store = db
		closer = func(context.Context) error { return db.Close() }
	case BackendMongo:
		m, err := storage.NewMongoBlobStore(ctx, c.Cache.MongoURI, c.Cache.MongoDB, c.Cache.MongoColl)
		if err != nil {
			return nil, noop, err
		}
		store = m
		closer = m.Close
	default:
		return nil, noop, fmt.Errorf("config: unknown cache backend %q", c.Cache.Backend)
	}
	return cache.NewBlobCache(store), closer, nil
}
