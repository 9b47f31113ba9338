// Package posix implements the object store interface over a collection
// mounted as a local filesystem tree. The atomic replace maps directly onto
// rename(2); attributes live in a YAML sidecar next to each object.
package posix

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"

	"github.com/packfs/packfs/internal/meta"
	"github.com/packfs/packfs/internal/storage"
	"github.com/packfs/packfs/pkg/errors"
)

const sidecarSuffix = ".meta"

// Store is a filesystem-backed object store.
type Store struct{}

// NewStore creates a POSIX store. Object paths are used as filesystem paths
// directly, so the governed collection root doubles as a directory path.
func NewStore() *Store {
	return &Store{}
}

// Stat implements storage.Store.
func (s *Store) Stat(ctx context.Context, path string) (*storage.ObjectInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NewError(errors.ErrCodeObjectNotFound,
				fmt.Sprintf("object does not exist: %s", path)).
				WithComponent("posix").WithCause(err)
		}
		return nil, remoteErr("stat", path, err)
	}
	if info.IsDir() {
		return nil, errors.NewError(errors.ErrCodeObjectNotFound,
			fmt.Sprintf("not an object: %s", path)).
			WithComponent("posix")
	}

	return &storage.ObjectInfo{
		Path:    path,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}

// Fetch implements storage.Store.
func (s *Store) Fetch(ctx context.Context, path, localPath string) (int64, error) {
	src, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, errors.NewError(errors.ErrCodeObjectNotFound,
				fmt.Sprintf("object does not exist: %s", path)).
				WithComponent("posix").WithCause(err)
		}
		return 0, remoteErr("fetch", path, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(localPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, remoteErr("fetch", localPath, err)
	}

	n, err := io.Copy(dst, src)
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(localPath)
		return 0, remoteErr("fetch", path, err)
	}
	return n, nil
}

// Upload implements storage.Store.
func (s *Store) Upload(ctx context.Context, localPath, path string) (int64, error) {
	src, err := os.Open(localPath)
	if err != nil {
		return 0, remoteErr("upload", localPath, err)
	}
	defer src.Close()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, remoteErr("upload", path, err)
	}

	dst, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, remoteErr("upload", path, err)
	}

	n, err := io.Copy(dst, src)
	if err == nil {
		err = dst.Sync()
	}
	if closeErr := dst.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return 0, remoteErr("upload", path, err)
	}
	return n, nil
}

// Rename implements storage.Store. rename(2) within one filesystem is
// atomic: a concurrent reader of newPath sees the old bytes or the new
// bytes, never a truncated mix.
func (s *Store) Rename(ctx context.Context, oldPath, newPath string) error {
	if err := os.Rename(oldPath, newPath); err != nil {
		return remoteErr("rename", newPath, err)
	}
	return nil
}

// Delete implements storage.Store. The attribute sidecar goes with the
// object.
func (s *Store) Delete(ctx context.Context, path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return remoteErr("delete", path, err)
	}
	if err := os.Remove(path + sidecarSuffix); err != nil && !os.IsNotExist(err) {
		return remoteErr("delete", path+sidecarSuffix, err)
	}
	return nil
}

// ReadAttrs implements storage.Store.
func (s *Store) ReadAttrs(ctx context.Context, path string) (*meta.Attrs, error) {
	data, err := os.ReadFile(path + sidecarSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, remoteErr("read_attrs", path, err)
	}

	var attrs meta.Attrs
	if err := yaml.Unmarshal(data, &attrs); err != nil {
		return nil, remoteErr("read_attrs", path, err)
	}
	return &attrs, nil
}

// WriteAttrs implements storage.Store.
func (s *Store) WriteAttrs(ctx context.Context, path string, attrs *meta.Attrs) error {
	data, err := yaml.Marshal(attrs)
	if err != nil {
		return remoteErr("write_attrs", path, err)
	}
	if err := os.WriteFile(path+sidecarSuffix, data, 0o644); err != nil {
		return remoteErr("write_attrs", path, err)
	}
	return nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return nil
}

func remoteErr(op, path string, cause error) error {
	return errors.NewError(errors.ErrCodeRemoteIO, cause.Error()).
		WithComponent("posix").
		WithOperation(op).
		WithContext("path", path).
		WithCause(cause)
}
