package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "INFO", cfg.Logging.Level)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.True(t, cfg.WOPI.EditEnabled)
	assert.Equal(t, int64(100<<20), cfg.WOPI.MaxFileSize)
	assert.Equal(t, 30*time.Minute, cfg.Locks.Timeout)
	assert.Equal(t, "memory", cfg.Locks.Type)
	assert.Equal(t, "filesystem", cfg.Content.Type)
	assert.Equal(t, "./data/content", cfg.Content.Filesystem["path"])
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("CLOUDBOX_WOPI_EDIT_ENABLED", "false")
	t.Setenv("CLOUDBOX_WOPI_MAX_FILE_SIZE", "2048")
	t.Setenv("CLOUDBOX_LOCKS_TIMEOUT", "5m")
	t.Setenv("CLOUDBOX_LOGGING_LEVEL", "debug")
	t.Setenv("CLOUDBOX_CONTENT_FILESYSTEM_PATH", "/srv/wopi")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.False(t, cfg.WOPI.EditEnabled)
	assert.Equal(t, int64(2048), cfg.WOPI.MaxFileSize)
	assert.Equal(t, 5*time.Minute, cfg.Locks.Timeout)
	assert.Equal(t, "DEBUG", cfg.Logging.Level)
	assert.Equal(t, "/srv/wopi", cfg.Content.Filesystem["path"])
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wopi.yaml")
	yaml := `
wopi:
  public_url: https://drive.example.com
  max_file_size: 1048576
locks:
  type: dynamodb
  table: Locks
database:
  driver: sqlite
  dsn: /tmp/wopi.db
content:
  type: s3
  s3:
    bucket: files
    region: eu-west-1
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://drive.example.com", cfg.WOPI.PublicURL)
	assert.Equal(t, int64(1048576), cfg.WOPI.MaxFileSize)
	assert.Equal(t, "dynamodb", cfg.Locks.Type)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "files", cfg.Content.S3["bucket"])
	assert.Equal(t, "eu-west-1", cfg.Content.S3["region"])
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := map[string]map[string]string{
		"bad lock type":      {"CLOUDBOX_LOCKS_TYPE": "redis"},
		"dsn missing":        {"CLOUDBOX_DATABASE_DRIVER": "postgres"},
		"zero max file size": {"CLOUDBOX_WOPI_MAX_FILE_SIZE": "0"},
		"bad public url":     {"CLOUDBOX_WOPI_PUBLIC_URL": "not a url"},
		"kms without key":    {"CLOUDBOX_TOKEN_SECRET_SOURCE": "kms"},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			t.Chdir(t.TempDir())
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := Load("")
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
