package memory

import (
	"context"
	"sync"
	"time"

	"github.com/allopze/cloudbox-wopi/internal/adapter"
	"github.com/allopze/cloudbox-wopi/internal/model"
)

// Repository implements adapter.Repository with process-local maps.
// It backs tests and single-node development setups.
type Repository struct {
	mu          sync.RWMutex
	files       map[string]*model.File
	shares      map[string][]model.Share // keyed by file id
	storageUsed map[string]int64
}

var _ adapter.Repository = (*Repository)(nil)

func NewRepository() *Repository {
	return &Repository{
		files:       make(map[string]*model.File),
		shares:      make(map[string][]model.Share),
		storageUsed: make(map[string]int64),
	}
}

func (r *Repository) FindFileByID(_ context.Context, id string) (*model.File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.files[id]
	if !ok {
		return nil, adapter.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (r *Repository) FindFileByName(_ context.Context, ownerID, folderID, name string) (*model.File, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, f := range r.files {
		if f.Trashed || f.OwnerID != ownerID || f.FolderID != folderID || f.Name != name {
			continue
		}
		cp := *f
		return &cp, nil
	}
	return nil, adapter.ErrNotFound
}

func (r *Repository) FindSharesForFile(_ context.Context, fileID string) ([]model.Share, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	shares := r.shares[fileID]
	out := make([]model.Share, len(shares))
	copy(out, shares)
	return out, nil
}

func (r *Repository) UpdateFileSize(_ context.Context, id string, size int64, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[id]
	if !ok {
		return adapter.ErrNotFound
	}
	f.Size = size
	f.UpdatedAt = updatedAt
	return nil
}

func (r *Repository) CreateFile(_ context.Context, f *model.File) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.files[f.ID]; exists {
		return adapter.ErrAlreadyExists
	}
	cp := *f
	r.files[f.ID] = &cp
	return nil
}

func (r *Repository) DeleteFile(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.files[id]; !ok {
		return adapter.ErrNotFound
	}
	delete(r.files, id)
	delete(r.shares, id)
	return nil
}

func (r *Repository) AddStorageUsed(_ context.Context, userID string, delta int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.storageUsed[userID] += delta
	return nil
}

// AddShare grants a collaborator access to a file.
func (r *Repository) AddShare(_ context.Context, s model.Share) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.files[s.FileID]; !ok {
		return adapter.ErrNotFound
	}
	r.shares[s.FileID] = append(r.shares[s.FileID], s)
	return nil
}

// StorageUsed returns the user's current counter.
func (r *Repository) StorageUsed(userID string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.storageUsed[userID]
}
