package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"path/filepath"
	"time"

	"hlsgate/config"
	"hlsgate/logger"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStore keeps finished renditions in a MinIO (or any S3 compatible)
// bucket. Objects are stored as {prefix}/{file} under the bucket root.
type MinioStore struct {
	client *minio.Client
	bucket string
}

// NewMinioStore connects to MinIO and makes sure the bucket exists.
func NewMinioStore(ctx context.Context, cfg *config.Config) (*MinioStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket %s: %w", cfg.MinioBucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.MinioBucket, err)
		}
		logger.Info("[MinIO] bucket created", logger.String("bucket", cfg.MinioBucket))
	}

	logger.Info("[MinIO] connected", logger.String("endpoint", cfg.MinioEndpoint), logger.String("bucket", cfg.MinioBucket))
	return &MinioStore{client: client, bucket: cfg.MinioBucket}, nil
}

func isNoSuchKey(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NotFound"
}

func (s *MinioStore) Open(ctx context.Context, name string) (*MediaObject, error) {
	cleaned, err := CleanMediaPath(name)
	if err != nil {
		return nil, err
	}
	object, err := s.client.GetObject(ctx, s.bucket, cleaned, minio.GetObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to get object %s: %w", cleaned, err)
	}
	// GetObject is lazy; Stat performs the request.
	info, err := object.Stat()
	if err != nil {
		object.Close()
		if isNoSuchKey(err) {
			return nil, ErrObjectNotFound
		}
		return nil, fmt.Errorf("failed to stat object %s: %w", cleaned, err)
	}
	return &MediaObject{
		ReadSeekCloser: object,
		Name:           cleaned,
		Size:           info.Size,
		ModTime:        info.LastModified,
		ContentType:    ContentTypeFor(cleaned),
	}, nil
}

// Publish uploads every regular file under dir to {prefix}/{relative path}.
func (s *MinioStore) Publish(ctx context.Context, dir, prefix string) error {
	uploaded := 0
	err := filepath.WalkDir(dir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		objectName := path.Join(prefix, filepath.ToSlash(rel))
		_, err = s.client.FPutObject(ctx, s.bucket, objectName, p, minio.PutObjectOptions{
			ContentType: ContentTypeFor(objectName),
		})
		if err != nil {
			return fmt.Errorf("failed to upload %s: %w", objectName, err)
		}
		uploaded++
		return nil
	})
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("publish source %s: %w", dir, err)
		}
		return err
	}
	logger.Info("[MinIO] published output",
		logger.String("prefix", prefix),
		logger.Int("objects", uploaded))
	return nil
}

// Usage counts the objects and bytes stored below prefix.
func (s *MinioStore) Usage(ctx context.Context, prefix string) (objects int, size int64, err error) {
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return objects, size, fmt.Errorf("failed to list %s: %w", prefix, obj.Err)
		}
		objects++
		size += obj.Size
	}
	return objects, size, nil
}
