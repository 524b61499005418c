package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"ExpeditionFlow/internal/config"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// publicPrefix is readable without credentials.
const publicPrefix = "static/"

type MinioStore struct {
	client *minio.Client
	bucket string
	cfg    config.StorageConfig
	log    *zap.Logger
}

func NewMinioStore(cfg *config.Config, log *zap.Logger) (*MinioStore, error) {
	client, err := minio.New(cfg.Storage.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.Storage.AccessKey, cfg.Storage.SecretKey, ""),
		Secure: cfg.Storage.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	return &MinioStore{client: client, bucket: cfg.Storage.Bucket, cfg: cfg.Storage, log: log.Named("storage")}, nil
}

// EnsureBucket creates the bucket if needed and makes static/ publicly readable.
func (s *MinioStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		s.log.Info("bucket created", zap.String("bucket", s.bucket))
	}

	policy := fmt.Sprintf(`{"Version":"2012-10-17","Statement":[{"Effect":"Allow","Principal":{"AWS":["*"]},"Action":["s3:GetObject"],"Resource":["arn:aws:s3:::%s/%s*"]}]}`,
		s.bucket, publicPrefix)
	if err := s.client.SetBucketPolicy(ctx, s.bucket, policy); err != nil {
		return fmt.Errorf("failed to set bucket policy: %w", err)
	}
	return nil
}

func (s *MinioStore) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, s.bucket, path, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("failed to upload %s: %w", path, err)
	}
	return s.PublicURL(path), nil
}

// Rename copies the object to its new key, then removes the old one.
func (s *MinioStore) Rename(ctx context.Context, from, to string) error {
	if from == to {
		return nil
	}
	_, err := s.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: s.bucket, Object: to},
		minio.CopySrcOptions{Bucket: s.bucket, Object: from})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return fmt.Errorf("%w: %s", ErrObjectNotFound, from)
		}
		return fmt.Errorf("failed to copy %s to %s: %w", from, to, err)
	}
	if err := s.client.RemoveObject(ctx, s.bucket, from, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to remove %s: %w", from, err)
	}
	return nil
}

func (s *MinioStore) PresignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, path, clampTTL(ttl), nil)
	if err != nil {
		return "", fmt.Errorf("failed to presign %s: %w", path, err)
	}
	return u.String(), nil
}

func (s *MinioStore) PublicURL(path string) string {
	protocol := "http"
	if s.cfg.UseSSL {
		protocol = "https"
	}
	return fmt.Sprintf("%s://%s/%s/%s", protocol, s.cfg.Endpoint, s.bucket, path)
}

func (s *MinioStore) PathFromURL(rawURL string) (string, error) {
	return pathFromURL(rawURL, s.bucket)
}
