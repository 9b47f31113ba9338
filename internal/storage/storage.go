// Package storage defines the object store interface the transform
// pipeline works against. Implementations cover a POSIX-mounted collection
// and S3; both provide the staged-write-then-rename primitive the atomic
// replace step depends on.
package storage

import (
	"context"
	"time"

	"github.com/packfs/packfs/internal/meta"
)

// ObjectInfo describes one stored object.
type ObjectInfo struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Store is the object store boundary. All methods operate on logical
// object paths; implementations map them to their own key space.
type Store interface {
	// Stat returns metadata for an object, or an OBJECT_NOT_FOUND error.
	Stat(ctx context.Context, path string) (*ObjectInfo, error)

	// Fetch copies the remote object to a local file and returns the
	// number of bytes transferred.
	Fetch(ctx context.Context, path, localPath string) (int64, error)

	// Upload copies a local file to the remote path and returns the
	// number of bytes transferred. The destination must not be the final
	// object name; visibility under the final name only ever changes via
	// Rename.
	Upload(ctx context.Context, localPath, path string) (int64, error)

	// Rename moves an object over another name in one step: after it
	// returns, a reader of newPath sees either the old content or the new
	// content in full, never a partial write.
	Rename(ctx context.Context, oldPath, newPath string) error

	// Delete removes an object. Deleting a missing object is not an
	// error.
	Delete(ctx context.Context, path string) error

	// ReadAttrs returns the recorded attributes for an object, or nil if
	// none have been recorded.
	ReadAttrs(ctx context.Context, path string) (*meta.Attrs, error)

	// WriteAttrs records attributes for an object, replacing any previous
	// set.
	WriteAttrs(ctx context.Context, path string, attrs *meta.Attrs) error

	// Close releases backend resources.
	Close() error
}
