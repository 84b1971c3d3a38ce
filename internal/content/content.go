// Package content stores and streams file bytes. Writes are bounded in size
// and become visible atomically: readers see either the old or the new
// content, never a partial upload.
package content

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when no content exists under a key.
	ErrNotFound = errors.New("content not found")

	// ErrPayloadTooLarge is returned when an upload exceeds its byte ceiling.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrInvalidKey is returned for keys that would escape the store.
	ErrInvalidKey = errors.New("invalid content key")
)

// Object is an open, seekable content stream. Callers must Close it.
type Object struct {
	io.ReadSeekCloser
	Size    int64
	ModTime time.Time
}

// Store is a content backend.
type Store interface {
	// Open returns a seekable stream over the content stored under key.
	Open(ctx context.Context, key string) (*Object, error)

	// Put replaces the content under key with r and returns the bytes written.
	// Reading stops with ErrPayloadTooLarge once more than maxBytes arrive;
	// maxBytes <= 0 disables the ceiling. On any error the previous content
	// is left untouched.
	Put(ctx context.Context, key string, r io.Reader, maxBytes int64) (int64, error)

	// Delete removes the content. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// KeyResolver lays out content as <user>/<file id><ext>.
type KeyResolver struct{}

func (KeyResolver) ObjectKey(userID, fileID, ext string) string {
	return path.Join(userID, fileID+ext)
}

// cleanKey normalizes a slash separated key and rejects traversal.
func cleanKey(key string) (string, error) {
	k := path.Clean("/" + key)
	k = strings.TrimPrefix(k, "/")
	if k == "" || k == "." {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return k, nil
}

// copyBounded copies src to dst, failing as soon as more than maxBytes are read.
func copyBounded(dst io.Writer, src io.Reader, maxBytes int64) (int64, error) {
	if maxBytes <= 0 {
		return io.Copy(dst, src)
	}
	n, err := io.Copy(dst, io.LimitReader(src, maxBytes+1))
	if err != nil {
		return n, err
	}
	if n > maxBytes {
		return n, ErrPayloadTooLarge
	}
	return n, nil
}

// spool buffers r into a temp file so object stores can be given a known
// length. The returned cleanup closes and removes it.
func spool(ctx context.Context, r io.Reader, maxBytes int64) (*os.File, int64, func(), error) {
	f, err := os.CreateTemp("", "wopi-spool-*")
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to create spool file: %w", err)
	}
	cleanup := func() {
		f.Close()
		os.Remove(f.Name())
	}

	n, err := copyBounded(f, &ctxReader{ctx: ctx, r: r}, maxBytes)
	if err != nil {
		cleanup()
		return nil, n, nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		cleanup()
		return nil, n, nil, fmt.Errorf("failed to rewind spool file: %w", err)
	}
	return f, n, cleanup, nil
}

// Hash returns the base64 encoded SHA-256 of the content under key.
func Hash(ctx context.Context, s Store, key string) (string, error) {
	obj, err := s.Open(ctx, key)
	if err != nil {
		return "", err
	}
	defer obj.Close()

	h := sha256.New()
	if _, err := io.Copy(h, obj); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", key, err)
	}
	return base64.StdEncoding.EncodeToString(h.Sum(nil)), nil
}
