package content

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/allopze/cloudbox-wopi/internal/logger"
)

// MinIOConfig holds the connection settings for a MinIO deployment.
type MinIOConfig struct {
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	KeyPrefix string `mapstructure:"key_prefix"`
	UseSSL    bool   `mapstructure:"use_ssl"`
}

// MinIOStore keeps content in a MinIO bucket.
type MinIOStore struct {
	client    *minio.Client
	bucket    string
	keyPrefix string
}

// NewMinIOStore connects to MinIO and creates the bucket when missing.
func NewMinIOStore(ctx context.Context, cfg MinIOConfig) (*MinIOStore, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("minio endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check bucket existence: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
		logger.Info("Created MinIO bucket: %s", cfg.Bucket)
	}

	return &MinIOStore{client: client, bucket: cfg.Bucket, keyPrefix: cfg.KeyPrefix}, nil
}

func (s *MinIOStore) objectName(key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if s.keyPrefix != "" {
		k = path.Join(s.keyPrefix, k)
	}
	return k, nil
}

func isMinIONotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}

func (s *MinIOStore) Open(ctx context.Context, key string) (*Object, error) {
	name, err := s.objectName(key)
	if err != nil {
		return nil, err
	}
	info, err := s.client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{})
	if err != nil {
		if isMinIONotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to stat %s: %w", key, err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return &Object{ReadSeekCloser: obj, Size: info.Size, ModTime: info.LastModified}, nil
}

func (s *MinIOStore) Put(ctx context.Context, key string, r io.Reader, maxBytes int64) (int64, error) {
	name, err := s.objectName(key)
	if err != nil {
		return 0, err
	}
	f, n, cleanup, err := spool(ctx, r, maxBytes)
	if err != nil {
		return n, err
	}
	defer cleanup()

	_, err = s.client.PutObject(ctx, s.bucket, name, f, n, minio.PutObjectOptions{
		ContentType: "application/octet-stream",
	})
	if err != nil {
		return n, fmt.Errorf("failed to put %s: %w", key, err)
	}
	return n, nil
}

func (s *MinIOStore) Delete(ctx context.Context, key string) error {
	name, err := s.objectName(key)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucket, name, minio.RemoveObjectOptions{}); err != nil && !isMinIONotFound(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}
