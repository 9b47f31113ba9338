// Package s3 implements the object store interface over an S3 bucket.
// Object paths map to keys; the atomic replace is a staged upload followed
// by a server-side copy over the final key, so a reader of the final key
// never observes a partial write. Attributes live in object user metadata.
package s3

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	cargoshipconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
	cargoships3 "github.com/scttfrdmn/cargoship/pkg/aws/s3"

	"github.com/packfs/packfs/internal/config"
	"github.com/packfs/packfs/internal/meta"
	"github.com/packfs/packfs/internal/storage"
	"github.com/packfs/packfs/pkg/errors"
	"github.com/packfs/packfs/pkg/logging"
)

// Store is an S3-backed object store.
type Store struct {
	client      *awss3.Client
	transporter *cargoships3.Transporter
	bucket      string
	logger      *logging.Logger
}

// NewStore creates an S3 store from configuration. When optimized uploads
// are enabled, staged uploads route through the CargoShip transporter.
func NewStore(ctx context.Context, cfg config.S3Config, logger *logging.Logger) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name cannot be empty")
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := awss3.NewFromConfig(awsCfg, func(o *awss3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}
	})

	var transporter *cargoships3.Transporter
	if cfg.EnableOptimizedUpload {
		cargoCfg := cargoshipconfig.S3Config{
			Bucket:             cfg.Bucket,
			StorageClass:       cargoshipconfig.StorageClassStandard,
			MultipartThreshold: 32 * 1024 * 1024,
			MultipartChunkSize: 16 * 1024 * 1024,
			Concurrency:        4,
		}
		transporter = cargoships3.NewTransporter(client, cargoCfg)
	}

	return &Store{
		client:      client,
		transporter: transporter,
		bucket:      cfg.Bucket,
		logger:      logger.WithComponent("s3"),
	}, nil
}

// keyFor maps a logical object path to an S3 key.
func (s *Store) keyFor(path string) string {
	return strings.TrimPrefix(path, "/")
}

// Stat implements storage.Store.
func (s *Store) Stat(ctx context.Context, path string) (*storage.ObjectInfo, error) {
	key := s.keyFor(path)
	result, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, errors.NewError(errors.ErrCodeObjectNotFound,
				fmt.Sprintf("object does not exist: %s", path)).
				WithComponent("s3").WithCause(err)
		}
		return nil, remoteErr("stat", path, err)
	}

	info := &storage.ObjectInfo{Path: path}
	if result.ContentLength != nil {
		info.Size = *result.ContentLength
	}
	if result.LastModified != nil {
		info.ModTime = *result.LastModified
	}
	return info, nil
}

// Fetch implements storage.Store.
func (s *Store) Fetch(ctx context.Context, path, localPath string) (int64, error) {
	key := s.keyFor(path)
	result, err := s.client.GetObject(ctx, &awss3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, errors.NewError(errors.ErrCodeObjectNotFound,
				fmt.Sprintf("object does not exist: %s", path)).
				WithComponent("s3").WithCause(err)
		}
		return 0, remoteErr("fetch", path, err)
	}
	defer result.Body.Close()

	dst, err := os.OpenFile(localPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return 0, remoteErr("fetch", localPath, err)
	}

	n, err := dst.ReadFrom(result.Body)
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
	key := s.keyFor(path)

	src, err := os.Open(localPath)
	if err != nil {
		return 0, remoteErr("upload", localPath, err)
	}
	defer src.Close()

	info, err := src.Stat()
	if err != nil {
		return 0, remoteErr("upload", localPath, err)
	}

	if s.transporter != nil {
		archive := cargoships3.Archive{
			Key:    key,
			Reader: src,
			Size:   info.Size(),
			Metadata: map[string]string{
				"packfs-upload": "true",
			},
		}
		result, uploadErr := s.transporter.Upload(ctx, archive)
		if uploadErr == nil {
			s.logger.Debug("optimized upload completed",
				map[string]interface{}{"key": key, "size": info.Size(), "duration": result.Duration})
			return info.Size(), nil
		}
		s.logger.Warning("optimized upload failed, falling back to PutObject",
			map[string]interface{}{"key": key, "error": uploadErr.Error()})
		if _, err := src.Seek(0, 0); err != nil {
			return 0, remoteErr("upload", localPath, err)
		}
	}

	_, err = s.client.PutObject(ctx, &awss3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(key),
		Body:          src,
		ContentLength: aws.Int64(info.Size()),
	})
	if err != nil {
		return 0, remoteErr("upload", path, err)
	}
	return info.Size(), nil
}

// Rename implements storage.Store. S3 has no rename; a server-side copy
// switches the content under the final key in one request, then the staged
// key is removed. The copy is the visibility point.
func (s *Store) Rename(ctx context.Context, oldPath, newPath string) error {
	oldKey := s.keyFor(oldPath)
	newKey := s.keyFor(newPath)

	_, err := s.client.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(newKey),
		CopySource: aws.String(url.PathEscape(s.bucket + "/" + oldKey)),
	})
	if err != nil {
		return remoteErr("rename", newPath, err)
	}

	_, err = s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(oldKey),
	})
	if err != nil {
		// The replace already committed; a dangling staged key is worth a
		// warning, not a failed job.
		s.logger.Warning("failed to remove staged key after rename",
			map[string]interface{}{"key": oldKey, "error": err.Error()})
	}
	return nil
}

// Delete implements storage.Store.
func (s *Store) Delete(ctx context.Context, path string) error {
	_, err := s.client.DeleteObject(ctx, &awss3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keyFor(path)),
	})
	if err != nil {
		return remoteErr("delete", path, err)
	}
	return nil
}

// ReadAttrs implements storage.Store.
func (s *Store) ReadAttrs(ctx context.Context, path string) (*meta.Attrs, error) {
	result, err := s.client.HeadObject(ctx, &awss3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.keyFor(path)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, remoteErr("read_attrs", path, err)
	}

	if _, ok := result.Metadata[meta.AttrCompressed]; !ok {
		return nil, nil
	}
	attrs, err := meta.FromMap(result.Metadata)
	if err != nil {
		return nil, remoteErr("read_attrs", path, err)
	}
	return attrs, nil
}

// WriteAttrs implements storage.Store. A self-copy with a metadata replace
// directive rewrites the attribute set without touching the content.
func (s *Store) WriteAttrs(ctx context.Context, path string, attrs *meta.Attrs) error {
	key := s.keyFor(path)
	_, err := s.client.CopyObject(ctx, &awss3.CopyObjectInput{
		Bucket:            aws.String(s.bucket),
		Key:               aws.String(key),
		CopySource:        aws.String(url.PathEscape(s.bucket + "/" + key)),
		Metadata:          attrs.ToMap(),
		MetadataDirective: s3types.MetadataDirectiveReplace,
	})
	if err != nil {
		return remoteErr("write_attrs", path, err)
	}
	return nil
}

// Close implements storage.Store.
func (s *Store) Close() error {
	return nil
}

func isNotFound(err error) bool {
	var notFound *s3types.NotFound
	var noSuchKey *s3types.NoSuchKey
	return stderrors.As(err, &notFound) || stderrors.As(err, &noSuchKey)
}

func remoteErr(op, path string, cause error) error {
	return errors.NewError(errors.ErrCodeRemoteIO, cause.Error()).
		WithComponent("s3").
		WithOperation(op).
		WithContext("path", path).
		WithCause(cause)
}
