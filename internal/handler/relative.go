package handler

import (
	"context"
	"errors"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/allopze/cloudbox-wopi/internal/adapter"
	"github.com/allopze/cloudbox-wopi/internal/content"
	"github.com/allopze/cloudbox-wopi/internal/events"
	"github.com/allopze/cloudbox-wopi/internal/logger"
	"github.com/allopze/cloudbox-wopi/internal/model"
	"github.com/allopze/cloudbox-wopi/internal/session"
	"github.com/allopze/cloudbox-wopi/internal/token"
)

// PutRelativeResponse is the PutRelativeFile JSON body.
type PutRelativeResponse struct {
	Name        string
	Url         string
	HostViewUrl string
	HostEditUrl string
}

// relativeName picks the name of the new file. An exact relative target is
// used verbatim. A suggestion starting with "." only replaces the source
// extension. Without either the name is <base>_<unix ms><ext>.
func relativeName(source *model.File, suggested, relative string, now time.Time) (string, error) {
	if suggested != "" && relative != "" {
		return "", errConflictingTargets
	}

	var name string
	switch {
	case relative != "":
		name = relative
	case strings.HasPrefix(suggested, "."):
		name = source.BaseName() + suggested
	case suggested != "":
		name = suggested
	default:
		name = source.BaseName() + "_" + strconv.FormatInt(now.UnixMilli(), 10) + source.Extension()
	}

	if !validName(name) {
		return "", errInvalidTarget
	}
	return name, nil
}

func validName(name string) bool {
	if strings.TrimSpace(name) == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}

func (h *WOPIHandler) putRelative(ctx context.Context, c *gin.Context, req *wopiRequest) error {
	if !req.perms.IsOwner {
		return errNotOwner
	}
	source := req.file()
	now := h.now()

	name, err := relativeName(source, c.GetHeader(headerSuggestedTarget), c.GetHeader(headerRelativeTarget), now)
	if err != nil {
		return err
	}
	overwrite := strings.EqualFold(c.GetHeader(headerOverwriteRelative), "true")

	existing, err := h.Repo.FindFileByName(ctx, req.userID(), source.FolderID, name)
	switch {
	case errors.Is(err, adapter.ErrNotFound):
		existing = nil
	case err != nil:
		return err
	case !overwrite, existing.ID == source.ID:
		// The open document is never replaced by its own relative copy.
		return &nameCollisionError{name: name}
	default:
		cur, err := h.Locks.GetLock(ctx, existing.ID)
		if err != nil {
			return err
		}
		if cur != nil {
			return &session.ConflictError{Err: session.ErrLockMismatch, Current: cur.Token}
		}
	}

	if h.opts.MaxFileSize > 0 && c.Request.ContentLength > h.opts.MaxFileSize {
		return content.ErrPayloadTooLarge
	}

	ext := path.Ext(name)
	f := &model.File{
		ID:        uuid.NewString(),
		OwnerID:   req.userID(),
		FolderID:  source.FolderID,
		Name:      name,
		MIMEType:  mimeTypeFor(ext),
		UpdatedAt: now,
	}
	f.Path = h.Paths.ObjectKey(f.OwnerID, f.ID, ext)

	n, err := h.Store.Put(ctx, f.Path, c.Request.Body, h.opts.MaxFileSize)
	if err != nil {
		return err
	}
	f.Size = n

	if existing != nil {
		if err := h.removeFile(ctx, existing, req.userID()); err != nil {
			h.discardContent(ctx, f.Path)
			return err
		}
	}

	if err := h.Repo.CreateFile(ctx, f); err != nil {
		h.discardContent(ctx, f.Path)
		return err
	}
	if err := h.Repo.AddStorageUsed(ctx, f.OwnerID, n); err != nil {
		logger.Warn("wopi: storage quota update for %s failed: %v", f.OwnerID, err)
	}
	h.publish(ctx, events.SubjectFileCreated, f, req.userID())

	expiresAt := now.Add(time.Hour)
	if req.claims.ExpiresAt != nil {
		expiresAt = req.claims.ExpiresAt.Time
	}
	tok, err := h.Tokens.Issue(req.userID(), req.claims.UserName, req.claims.UserEmail, f.ID, token.ScopeEdit, expiresAt)
	if err != nil {
		return err
	}

	c.JSON(http.StatusOK, PutRelativeResponse{
		Name:        f.Name,
		Url:         h.opts.PublicURL + "/wopi/files/" + f.ID + "?access_token=" + url.QueryEscape(tok),
		HostViewUrl: h.hostURL("view", f.ID),
		HostEditUrl: h.hostURL("edit", f.ID),
	})
	return nil
}

// removeFile deletes an overwritten file's bytes and record and releases its
// quota.
func (h *WOPIHandler) removeFile(ctx context.Context, f *model.File, userID string) error {
	if err := h.Store.Delete(ctx, f.Path); err != nil {
		return err
	}
	if err := h.Repo.DeleteFile(ctx, f.ID); err != nil && !errors.Is(err, adapter.ErrNotFound) {
		return err
	}
	if err := h.Repo.AddStorageUsed(ctx, f.OwnerID, -f.Size); err != nil {
		logger.Warn("wopi: storage quota update for %s failed: %v", f.OwnerID, err)
	}
	h.publish(ctx, events.SubjectFileDeleted, f, userID)
	return nil
}

func (h *WOPIHandler) discardContent(ctx context.Context, key string) {
	if err := h.Store.Delete(context.WithoutCancel(ctx), key); err != nil {
		logger.Warn("wopi: cleanup of %s failed: %v", key, err)
	}
}

func mimeTypeFor(ext string) string {
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
