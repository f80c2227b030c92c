// Package objectstore abstracts blob storage for uploads and derived pipeline
// artifacts. Keys follow the document layout
// projects/{project_id}/documents/{document_id}/... and full URIs are written
// store://{bucket}/{key}.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Common errors returned by ObjectStore implementations.
var (
	ErrNotFound      = errors.New("object not found")
	ErrAccessDenied  = errors.New("access denied")
	ErrInvalidURI    = errors.New("invalid object uri")
	ErrBucketMissing = errors.New("bucket does not exist")
)

// URIScheme is the scheme used for object URIs emitted by the pipeline.
const URIScheme = "store"

// ObjectAttrs contains metadata about a stored object.
type ObjectAttrs struct {
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
	ContentType  string
}

// ObjectStore is the blob interface the pipeline components depend on.
// Implementations must be safe for concurrent use.
type ObjectStore interface {
	// GetBytes reads the full object at key. Returns ErrNotFound when absent.
	GetBytes(ctx context.Context, key string) ([]byte, error)

	// PutBytes stores data under key with the given content type.
	PutBytes(ctx context.Context, key string, data []byte, contentType string) error

	// Get streams an object; the caller must close the reader.
	Get(ctx context.Context, key string) (io.ReadCloser, ObjectAttrs, error)

	// Head returns metadata without downloading content.
	Head(ctx context.Context, key string) (ObjectAttrs, error)

	// PresignGet mints a time-limited download URL for key.
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)

	// PresignPut mints a time-limited upload URL for key.
	PresignPut(ctx context.Context, key string, ttl time.Duration, contentType string) (string, error)

	// ListPrefix returns the attrs of every object under prefix.
	ListPrefix(ctx context.Context, prefix string) ([]ObjectAttrs, error)

	// DeletePrefix removes every object under prefix and reports the count.
	DeletePrefix(ctx context.Context, prefix string) (int, error)

	// Delete removes one object. Missing objects are not an error.
	Delete(ctx context.Context, key string) error

	// Bucket is the bucket name this store is bound to, used when formatting URIs.
	Bucket() string
}

// FormatURI renders a bucket/key pair as a store:// URI.
func FormatURI(bucket, key string) string {
	return fmt.Sprintf("%s://%s/%s", URIScheme, bucket, strings.TrimPrefix(key, "/"))
}

// ParseURI splits a store:// (or legacy s3://) URI into bucket and key.
func ParseURI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, URIScheme+"://")
	if !ok {
		// Tolerate s3:// URIs arriving from upstream event sources.
		rest, ok = strings.CutPrefix(uri, "s3://")
	}
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	bucket, key, ok = strings.Cut(rest, "/")
	if !ok || bucket == "" || key == "" {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidURI, uri)
	}
	return bucket, key, nil
}

// DocumentPrefix returns the key prefix owned by a document.
func DocumentPrefix(projectID, documentID string) string {
	return fmt.Sprintf("projects/%s/documents/%s/", projectID, documentID)
}

// DerivedKey builds a key for a derived artifact next to the uploaded file.
// fileKey is the key of the original upload; rel is the artifact path relative
// to the document directory (e.g. "format-parser/result.json").
func DerivedKey(fileKey, rel string) string {
	dir := fileKey
	if i := strings.LastIndex(fileKey, "/"); i >= 0 {
		dir = fileKey[:i]
	}
	return dir + "/" + rel
}
