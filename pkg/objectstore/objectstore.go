// Package objectstore defines the capability-typed façade over blob
// storage that §4.1 of the design specifies: list/page, metadata,
// read/write streams, presigned URLs, and a prefix-scoped ClearDown.
// Two capability interfaces (Reader, Writer) compose into Store;
// the external source gets only Reader, the internal target and the
// report sink get both — this replaces the source system's
// compile-time read-only-vs-read/write class hierarchy (§9).
package objectstore

import (
	"context"
	"io"
	"time"

	"github.com/litp/platform/pkg/domain"
)

// ObjectMetadata describes one object without reading its body.
type ObjectMetadata struct {
	Size         int64
	ContentType  string
	ETag         string
	LastModified time.Time
	UserMetadata map[string]string
}

// ReadStream is a cancellable, caller-closed object body.
type ReadStream interface {
	io.ReadCloser
}

// WriteStream is a multipart upload in progress. Close finalises the
// upload; Abort (or a Close after an error) leaves no partial object.
type WriteStream interface {
	io.Writer
	// Close finalises the multipart upload.
	Close() error
	// Abort cancels the multipart upload, discarding any uploaded parts.
	Abort(ctx context.Context) error
}

// Reader is the read-only capability: used for the external source.
type Reader interface {
	// List returns every object under prefix in lexical key order.
	List(ctx context.Context, prefix string) ([]domain.ObjectRef, error)
	// ListPage returns up to size (<=1000) objects under prefix
	// starting after token, plus a continuation token when more remain.
	ListPage(ctx context.Context, prefix string, size int, token string) (items []domain.ObjectRef, nextToken string, err error)
	// GetMetadata returns metadata without reading the body.
	GetMetadata(ctx context.Context, key string) (ObjectMetadata, error)
	// Exists is idempotent and never errors on a missing key.
	Exists(ctx context.Context, key string) (bool, error)
	// OpenRead opens a cancellable read stream. The caller must Close it.
	OpenRead(ctx context.Context, key string) (ReadStream, error)
}

// Writer is the read/write capability: used for the internal target
// and the report sink.
type Writer interface {
	Reader
	// OpenWrite opens a multipart write stream. partSize defaults to
	// 8MiB when zero. Concurrent writes to the same key are undefined
	// ordering (last-writer-wins).
	OpenWrite(ctx context.Context, key string, contentType string, metadata map[string]string, partSize int64) (WriteStream, error)
	// Upload is a convenience wrapper over OpenWrite for small, fully
	// buffered payloads.
	Upload(ctx context.Context, key string, body []byte, contentType string, metadata map[string]string) error
	// SetMetadata replaces an object's user metadata.
	SetMetadata(ctx context.Context, key string, metadata map[string]string) error
	// Delete is idempotent: deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// ClearDown deletes every object under the store's configured
	// prefix and returns the deleted keys. Scope never escapes the prefix.
	ClearDown(ctx context.Context) ([]string, error)
	// Presign generates a GET URL valid for ttl, purely locally (no I/O).
	Presign(key string, ttl time.Duration) (string, error)
}

// Store is the full read/write façade.
type Store interface {
	Writer
}

// DefaultPartSize is used by OpenWrite when the caller passes 0.
const DefaultPartSize = 8 << 20 // 8 MiB

// DefaultPresignTTL is used by Presign callers that want §4.1's default.
const DefaultPresignTTL = 7 * 24 * time.Hour
