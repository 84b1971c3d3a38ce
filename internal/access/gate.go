// Package access decides what a user may do with a file.
package access

import (
	"context"
	"fmt"

	"github.com/allopze/cloudbox-wopi/internal/adapter"
	"github.com/allopze/cloudbox-wopi/internal/model"
)

// FileFinder is the subset of the repository the gate reads.
type FileFinder interface {
	FindFileByID(ctx context.Context, id string) (*model.File, error)
	FindSharesForFile(ctx context.Context, fileID string) ([]model.Share, error)
}

// Permissions is the resolved view of one user on one file.
type Permissions struct {
	File     *model.File
	IsOwner  bool
	CanView  bool
	CanWrite bool
}

type Gate struct {
	files FileFinder
}

func NewGate(files FileFinder) *Gate {
	return &Gate{files: files}
}

// Resolve loads the file and computes the user's permissions on it.
// Missing and trashed files both yield adapter.ErrNotFound.
func (g *Gate) Resolve(ctx context.Context, fileID, userID string) (*Permissions, error) {
	f, err := g.files.FindFileByID(ctx, fileID)
	if err != nil {
		return nil, err
	}
	if f.Trashed {
		return nil, adapter.ErrNotFound
	}

	p := &Permissions{File: f}
	if f.OwnerID == userID {
		p.IsOwner = true
		p.CanView = true
		p.CanWrite = true
		return p, nil
	}

	shares, err := g.files.FindSharesForFile(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("load shares for %s: %w", fileID, err)
	}
	for _, s := range shares {
		if s.CollaboratorID != userID {
			continue
		}
		switch s.Permission {
		case model.PermissionEditor:
			p.CanView = true
			p.CanWrite = true
		case model.PermissionViewer:
			p.CanView = true
		}
	}
	return p, nil
}
