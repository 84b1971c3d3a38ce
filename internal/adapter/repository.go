package adapter

import (
	"context"
	"time"

	"github.com/allopze/cloudbox-wopi/internal/model"
)

// FileRepository is the metadata store for files and their shares.
// This abstraction allows switching between database engines without
// changing the WOPI logic.
type FileRepository interface {
	// FindFileByID returns the file record, trashed or not.
	// Returns ErrNotFound if no record exists.
	FindFileByID(ctx context.Context, id string) (*model.File, error)

	// FindFileByName looks up a non-trashed file by owner, folder and exact name.
	// Returns ErrNotFound if no such file exists.
	FindFileByName(ctx context.Context, ownerID, folderID, name string) (*model.File, error)

	// FindSharesForFile lists every share granted on the file.
	FindSharesForFile(ctx context.Context, fileID string) ([]model.Share, error)

	// UpdateFileSize records a new content size and modification time.
	UpdateFileSize(ctx context.Context, id string, size int64, updatedAt time.Time) error

	// CreateFile inserts a new record. Returns ErrAlreadyExists on id collision.
	CreateFile(ctx context.Context, f *model.File) error

	// DeleteFile removes the record and its shares.
	DeleteFile(ctx context.Context, id string) error
}

// QuotaRepository tracks per-user storage consumption.
type QuotaRepository interface {
	// AddStorageUsed adjusts the user's counter by delta, which may be negative.
	AddStorageUsed(ctx context.Context, userID string, delta int64) error
}

// Repository is the full set of persistence operations the host needs.
type Repository interface {
	FileRepository
	QuotaRepository
}

// PathResolver maps a file identity to its key inside the content store.
type PathResolver interface {
	ObjectKey(userID, fileID, ext string) string
}
