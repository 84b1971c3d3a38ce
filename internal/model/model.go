package model

import (
	"path"
	"strings"
	"time"
)

// Permission is the access level a share grants to a collaborator.
type Permission string

const (
	PermissionViewer Permission = "VIEWER"
	PermissionEditor Permission = "EDITOR"
)

// File is the metadata record of a stored file.
type File struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	FolderID  string    `json:"folder_id"` // "" for the owner's root
	Name      string    `json:"name"`
	MIMEType  string    `json:"mime_type"`
	Size      int64     `json:"size"`
	Path      string    `json:"path"` // storage key inside the content store
	UpdatedAt time.Time `json:"updated_at"`
	Trashed   bool      `json:"trashed"`
}

// Extension returns the file extension including the leading dot, or "".
func (f *File) Extension() string {
	return path.Ext(f.Name)
}

// BaseName returns the name without its extension.
func (f *File) BaseName() string {
	return strings.TrimSuffix(f.Name, f.Extension())
}

// Share grants a collaborator access to a file.
type Share struct {
	ID             string     `json:"id"`
	FileID         string     `json:"file_id"`
	CollaboratorID string     `json:"collaborator_id"`
	Permission     Permission `json:"permission"`
}

// Lock represents an exclusive WOPI lock on a file.
type Lock struct {
	FileID      string    `json:"file_id" dynamodbav:"file_id"`
	Token       string    `json:"lock_token" dynamodbav:"lock_token"`
	UserID      string    `json:"user_id" dynamodbav:"user_id"`
	RefreshedAt time.Time `json:"refreshed_at" dynamodbav:"refreshed_at"`
	ExpiresAt   int64     `json:"expires_at" dynamodbav:"expires_at"` // Unix milliseconds
}

// Active reports whether the lock is still held at now. Expiry is kept in
// whole milliseconds, so a lock may lapse up to 1ms before RefreshedAt+ttl.
func (l *Lock) Active(now time.Time) bool {
	return now.UnixMilli() < l.ExpiresAt
}
