package content

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFSStore(t *testing.T) (*FSStore, string) {
	t.Helper()
	root := t.TempDir()
	s, err := NewFSStore(root)
	require.NoError(t, err)
	return s, root
}

func readAll(t *testing.T, s Store, key string) []byte {
	t.Helper()
	obj, err := s.Open(context.Background(), key)
	require.NoError(t, err)
	defer obj.Close()
	data, err := io.ReadAll(obj)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), obj.Size)
	return data
}

// leftovers lists every file under root other than the expected ones.
func leftovers(t *testing.T, root string) []string {
	t.Helper()
	var found []string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.Contains(d.Name(), ".upload-") {
			found = append(found, p)
		}
		return nil
	})
	require.NoError(t, err)
	return found
}

func TestFSStore_PutAndOpen(t *testing.T) {
	s, _ := newTestFSStore(t)
	ctx := context.Background()

	payload := []byte("hello wopi")
	n, err := s.Put(ctx, "user-1/file-1.docx", bytes.NewReader(payload), 1024)
	require.NoError(t, err)
	assert.Equal(t, int64(len(payload)), n)
	assert.Equal(t, payload, readAll(t, s, "user-1/file-1.docx"))

	// Overwrite replaces the content.
	_, err = s.Put(ctx, "user-1/file-1.docx", strings.NewReader("v2"), 1024)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), readAll(t, s, "user-1/file-1.docx"))
}

func TestFSStore_Put_ExactlyAtLimit(t *testing.T) {
	s, root := newTestFSStore(t)

	payload := bytes.Repeat([]byte("a"), 64)
	n, err := s.Put(context.Background(), "u/f.bin", bytes.NewReader(payload), 64)
	require.NoError(t, err)
	assert.Equal(t, int64(64), n)
	assert.Empty(t, leftovers(t, root))
}

func TestFSStore_Put_OverLimit(t *testing.T) {
	s, root := newTestFSStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "u/f.bin", strings.NewReader("original"), 0)
	require.NoError(t, err)

	_, err = s.Put(ctx, "u/f.bin", bytes.NewReader(bytes.Repeat([]byte("b"), 65)), 64)
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
	assert.Empty(t, leftovers(t, root), "temp file must be removed")
	assert.Equal(t, []byte("original"), readAll(t, s, "u/f.bin"))
}

type failingReader struct{ after int }

func (r *failingReader) Read(p []byte) (int, error) {
	if r.after <= 0 {
		return 0, io.ErrUnexpectedEOF
	}
	n := min(len(p), r.after)
	for i := range n {
		p[i] = 'x'
	}
	r.after -= n
	return n, nil
}

func TestFSStore_Put_ReadErrorCleansUp(t *testing.T) {
	s, root := newTestFSStore(t)

	_, err := s.Put(context.Background(), "u/f.bin", &failingReader{after: 10}, 0)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Empty(t, leftovers(t, root))

	_, err = s.Open(context.Background(), "u/f.bin")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSStore_Put_CancelledContext(t *testing.T) {
	s, root := newTestFSStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Put(ctx, "u/f.bin", strings.NewReader("data"), 0)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, leftovers(t, root))
}

func TestFSStore_OpenMissing(t *testing.T) {
	s, _ := newTestFSStore(t)

	_, err := s.Open(context.Background(), "nope/missing.txt")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFSStore_Delete(t *testing.T) {
	s, _ := newTestFSStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "u/f.txt", strings.NewReader("x"), 0)
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "u/f.txt"))
	_, err = s.Open(ctx, "u/f.txt")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.Delete(ctx, "u/f.txt"), "deleting twice is fine")
}

func TestFSStore_KeysStayInsideRoot(t *testing.T) {
	s, root := newTestFSStore(t)

	p, err := s.path("../../etc/passwd")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(p, root), "path %s escaped root %s", p, root)

	_, err = s.path("")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestHash(t *testing.T) {
	s, _ := newTestFSStore(t)
	ctx := context.Background()

	_, err := s.Put(ctx, "u/f.txt", strings.NewReader("abc"), 0)
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("abc"))
	got, err := Hash(ctx, s, "u/f.txt")
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString(sum[:]), got)
}

func TestKeyResolver(t *testing.T) {
	assert.Equal(t, "user-1/file-1.pdf", KeyResolver{}.ObjectKey("user-1", "file-1", ".pdf"))
}
