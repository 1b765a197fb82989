package storage

import (
	"context"
	"encoding/base32"
	"os"
	"path/filepath"
	"strings"
)

const blobExt = ".blob"

// Ids may contain path separators, so file names are base32 encoded.
var fileNames = base32.StdEncoding.WithPadding(base32.NoPadding)

type FileBlobStore struct{ dir string }

func NewFileBlobStore(dir string) (*FileBlobStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, err
	}
	return &FileBlobStore{dir: dir}, nil
}

func (f *FileBlobStore) path(id string) string {
	return filepath.Join(f.dir, fileNames.EncodeToString([]byte(id))+blobExt)
}

// Put writes through a temp file and rename so readers never see a torn blob.
func (f *FileBlobStore) Put(_ context.Context, id string, data []byte) error {
	if id == "" {
		return errEmptyID
	}
	tmp, err := os.CreateTemp(f.dir, "put-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), f.path(id))
}

func (f *FileBlobStore) Get(_ context.Context, id string) ([]byte, error) {
	b, err := os.ReadFile(f.path(id))
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return b, err
}

func (f *FileBlobStore) Delete(_ context.Context, id string) error {
	err := os.Remove(f.path(id))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (f *FileBlobStore) List(_ context.Context, prefix string) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, blobExt) {
			continue
		}
		raw, err := fileNames.DecodeString(strings.TrimSuffix(name, blobExt))
		if err != nil {
			continue
		}
		if id := string(raw); strings.HasPrefix(id, prefix) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}
