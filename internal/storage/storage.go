// Package storage provides content-addressed blob storage for produced assets.
// Two backends are supported: a local filesystem tree and an S3-compatible
// object store. Keys follow the layout assets/YYYY/MM/UUID/filename so listings
// stay shallow and a whole generation can be removed by deleting one prefix.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a key does not exist in the backing store.
var ErrNotFound = errors.New("object not found")

// ObjectInfo describes a stored blob.
type ObjectInfo struct {
	Size        int64
	ModTime     time.Time
	ContentType string
}

// Store abstracts the asset blob store.
type Store interface {
	// Put writes data under key, replacing any existing object. The write is
	// atomic: readers never observe a partial object.
	Put(ctx context.Context, key string, data []byte, contentType string) error
	// PutFile uploads the local file at src under key.
	PutFile(ctx context.Context, key string, src string, contentType string) error
	// Open returns a reader over the whole object.
	Open(ctx context.Context, key string) (io.ReadCloser, ObjectInfo, error)
	// OpenRange returns a reader over length bytes starting at offset.
	// A negative length means "to the end of the object".
	OpenRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, ObjectInfo, error)
	// Stat returns object metadata without opening it.
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	// URL returns the externally resolvable location for key.
	URL(key string) string
}

// Probe verifies the store is writable and readable by writing a sentinel
// object and statting it back.
func Probe(ctx context.Context, s Store) error {
	const key = ".probe"
	if err := s.Put(ctx, key, []byte("ok"), "text/plain"); err != nil {
		return fmt.Errorf("probe write: %w", err)
	}
	if _, err := s.Stat(ctx, key); err != nil {
		return fmt.Errorf("probe stat: %w", err)
	}
	return nil
}

// AssetKey builds the canonical storage key for an asset file produced at the
// given time: assets/YYYY/MM/UUID/filename.
func AssetKey(at time.Time, assetUUID uuid.UUID, filename string) string {
	return path.Join(
		"assets",
		fmt.Sprintf("%04d", at.UTC().Year()),
		fmt.Sprintf("%02d", int(at.UTC().Month())),
		assetUUID.String(),
		filename,
	)
}

// AssetUUIDForJob derives a stable UUID from a job identifier, so a retried
// attempt writes to the same keys and overwrites any partial output from the
// failed attempt.
func AssetUUIDForJob(jobID string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("songforge:"+jobID))
}
