package content

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

// S3API is the subset of *s3.Client methods used by S3Store.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store keeps content in an S3 bucket. Uploads are spooled locally first,
// then written with a single PutObject, which S3 applies atomically.
type S3Store struct {
	client    S3API
	bucket    string
	keyPrefix string
}

func NewS3Store(client S3API, bucket, keyPrefix string) (*S3Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("S3 bucket is required")
	}
	return &S3Store{client: client, bucket: bucket, keyPrefix: keyPrefix}, nil
}

func (s *S3Store) objectKey(key string) (string, error) {
	k, err := cleanKey(key)
	if err != nil {
		return "", err
	}
	if s.keyPrefix != "" {
		k = path.Join(s.keyPrefix, k)
	}
	return k, nil
}

func isS3NotFound(err error) bool {
	var nsk *types.NoSuchKey
	var nf *types.NotFound
	if errors.As(err, &nsk) || errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NotFound", "NoSuchKey":
			return true
		}
	}
	return false
}

func (s *S3Store) Open(ctx context.Context, key string) (*Object, error) {
	k, err := s.objectKey(key)
	if err != nil {
		return nil, err
	}
	head, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(k),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to head %s: %w", key, err)
	}

	size := aws.ToInt64(head.ContentLength)
	return &Object{
		ReadSeekCloser: &s3Reader{ctx: ctx, store: s, key: k, size: size},
		Size:           size,
		ModTime:        modTimeOrZero(head.LastModified),
	}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, r io.Reader, maxBytes int64) (int64, error) {
	k, err := s.objectKey(key)
	if err != nil {
		return 0, err
	}
	f, n, cleanup, err := spool(ctx, r, maxBytes)
	if err != nil {
		return n, err
	}
	defer cleanup()

	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(k),
		Body:          f,
		ContentLength: aws.Int64(n),
	})
	if err != nil {
		return n, fmt.Errorf("failed to put %s: %w", key, err)
	}
	return n, nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	k, err := s.objectKey(key)
	if err != nil {
		return err
	}
	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(k),
	})
	if err != nil && !isS3NotFound(err) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// s3Reader implements io.ReadSeeker with ranged GETs. A seek drops the
// current body; the next Read opens a new range at the new offset.
type s3Reader struct {
	ctx    context.Context
	store  *S3Store
	key    string
	size   int64
	offset int64
	body   io.ReadCloser
}

func (r *s3Reader) Read(p []byte) (int, error) {
	if r.offset >= r.size {
		return 0, io.EOF
	}
	if r.body == nil {
		out, err := r.store.client.GetObject(r.ctx, &s3.GetObjectInput{
			Bucket: aws.String(r.store.bucket),
			Key:    aws.String(r.key),
			Range:  aws.String(fmt.Sprintf("bytes=%d-", r.offset)),
		})
		if err != nil {
			return 0, fmt.Errorf("failed to get %s: %w", r.key, err)
		}
		r.body = out.Body
	}
	n, err := r.body.Read(p)
	r.offset += int64(n)
	return n, err
}

func (r *s3Reader) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.offset + offset
	case io.SeekEnd:
		abs = r.size + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("negative position %d", abs)
	}
	if abs != r.offset {
		r.closeBody()
		r.offset = abs
	}
	return abs, nil
}

func (r *s3Reader) Close() error {
	r.closeBody()
	return nil
}

func (r *s3Reader) closeBody() {
	if r.body != nil {
		r.body.Close()
		r.body = nil
	}
}

var _ io.ReadSeekCloser = (*s3Reader)(nil)

func modTimeOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
