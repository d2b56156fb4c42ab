package evallog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"
)

// LocalBackend keeps the log in a single file. The version is the SHA-256 of
// the file content. Writes go through a temp file and rename, so readers never
// observe a partial log. Writers in other processes are not excluded.
type LocalBackend struct {
	path string
	mu   sync.Mutex
}

// NewLocalBackend creates a backend for the file at path.
func NewLocalBackend(path string) *LocalBackend {
	return &LocalBackend{path: path}
}

// Name returns the backend name.
func (b *LocalBackend) Name() string {
	return "local:" + b.path
}

// Read returns the file content, or nil if the file does not exist.
func (b *LocalBackend) Read(_ context.Context) (*Blob, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "evallog: read %s", b.path)
	}
	return &Blob{Data: data, Version: contentVersion(data)}, nil
}

// Write replaces the file if its current content still hashes to base.
func (b *LocalBackend) Write(ctx context.Context, data []byte, base Version, _ string) (Version, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	current, err := b.Read(ctx)
	if err != nil {
		return NoVersion, err
	}
	var currentVersion Version
	if current != nil {
		currentVersion = current.Version
	}
	if currentVersion != base {
		return NoVersion, &ConflictError{
			Source: b.Name(),
			Base:   base,
			Err:    eris.Errorf("evallog: stored version is %q", currentVersion),
		}
	}

	dir := filepath.Dir(b.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return NoVersion, eris.Wrapf(err, "evallog: create %s", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(b.path)+".*.tmp")
	if err != nil {
		return NoVersion, eris.Wrap(err, "evallog: create temp file")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) //nolint:errcheck

	if _, err := tmp.Write(data); err != nil {
		tmp.Close() //nolint:errcheck
		return NoVersion, eris.Wrap(err, "evallog: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return NoVersion, eris.Wrap(err, "evallog: close temp file")
	}
	if err := os.Rename(tmpName, b.path); err != nil {
		return NoVersion, eris.Wrapf(err, "evallog: replace %s", b.path)
	}

	return contentVersion(data), nil
}

func contentVersion(data []byte) Version {
	sum := sha256.Sum256(data)
	return Version("sha256:" + hex.EncodeToString(sum[:]))
}
