// Package handler implements the WOPI host endpoints used by online office
// editors to read, write and lock files.
package handler

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/allopze/cloudbox-wopi/internal/access"
	"github.com/allopze/cloudbox-wopi/internal/adapter"
	"github.com/allopze/cloudbox-wopi/internal/content"
	"github.com/allopze/cloudbox-wopi/internal/events"
	"github.com/allopze/cloudbox-wopi/internal/logger"
	"github.com/allopze/cloudbox-wopi/internal/model"
	"github.com/allopze/cloudbox-wopi/internal/session"
	"github.com/allopze/cloudbox-wopi/internal/token"
)

// Options are the protocol switches of the WOPI host.
type Options struct {
	EditEnabled   bool
	MaxFileSize   int64
	PublicURL     string
	BrandName     string
	IncludeSHA256 bool
}

// Deps are the collaborators of WOPIHandler.
type Deps struct {
	Tokens    *token.Manager
	Gate      *access.Gate
	Locks     session.Locker
	Store     content.Store
	Repo      adapter.Repository
	Paths     adapter.PathResolver
	Publisher events.Publisher
}

// WOPIHandler serves /wopi/files.
type WOPIHandler struct {
	Deps
	opts Options
	now  func() time.Time
}

func NewWOPIHandler(deps Deps, opts Options) *WOPIHandler {
	if deps.Publisher == nil {
		deps.Publisher = events.NopPublisher{}
	}
	if deps.Paths == nil {
		deps.Paths = content.KeyResolver{}
	}
	return &WOPIHandler{Deps: deps, opts: opts, now: time.Now}
}

// RegisterRoutes mounts the WOPI endpoints on r.
func (h *WOPIHandler) RegisterRoutes(r gin.IRouter) {
	files := r.Group("/wopi/files")
	files.GET("/:id", h.CheckFileInfo)
	files.POST("/:id", h.Override)
	files.GET("/:id/contents", h.GetFile)
	files.POST("/:id/contents", h.PutFile)
}

// wopiRequest is an authenticated and authorized request on one file.
type wopiRequest struct {
	op     Operation
	fileID string
	claims *token.Claims
	perms  *access.Permissions
}

func (r *wopiRequest) file() *model.File {
	return r.perms.File
}

func (r *wopiRequest) userID() string {
	return r.claims.UserID()
}

// authorize runs the checks shared by every operation, in order: file id
// shape, token validity, token binding, scope, file access, write access.
func (h *WOPIHandler) authorize(ctx context.Context, c *gin.Context, op Operation) (*wopiRequest, error) {
	fileID := c.Param("id")
	if _, err := uuid.Parse(fileID); err != nil {
		return nil, errFileNotFound
	}

	raw := accessToken(c)
	if raw == "" {
		return nil, errMissingToken
	}
	claims, err := h.Tokens.Verify(raw)
	if err != nil {
		return nil, err
	}
	if claims.FileID != fileID {
		return nil, errTokenFileMismatch
	}
	if op == OpUnknown {
		return nil, errUnsupported
	}
	if !token.HasScope(claims, op.RequiredScope()) {
		return nil, errInsufficientScope
	}

	perms, err := h.Gate.Resolve(ctx, fileID, claims.UserID())
	if err != nil {
		return nil, err
	}
	if !perms.CanView {
		return nil, errAccessDenied
	}
	if op.RequiresWrite() {
		if !h.opts.EditEnabled {
			return nil, errEditDisabled
		}
		if !perms.CanWrite {
			return nil, errReadOnly
		}
	}
	return &wopiRequest{op: op, fileID: fileID, claims: claims, perms: perms}, nil
}

// serve authorizes the request and runs fn, translating any error.
func (h *WOPIHandler) serve(c *gin.Context, op Operation, fn func(context.Context, *gin.Context, *wopiRequest) error) {
	ctx := c.Request.Context()
	req, err := h.authorize(ctx, c, op)
	if err == nil {
		err = fn(ctx, c, req)
	}
	if err != nil {
		h.respondError(c, op, c.Param("id"), err)
	}
}

// Override dispatches POST /wopi/files/:id on X-WOPI-Override.
func (h *WOPIHandler) Override(c *gin.Context) {
	op := ParseOverride(c.GetHeader(headerOverride), c.GetHeader(headerOldLock) != "")
	switch op {
	case OpLock:
		h.serve(c, op, h.lock)
	case OpUnlock:
		h.serve(c, op, h.unlock)
	case OpRefreshLock:
		h.serve(c, op, h.refreshLock)
	case OpGetLock:
		h.serve(c, op, h.getLock)
	case OpUnlockAndRelock:
		h.serve(c, op, h.unlockAndRelock)
	case OpPutRelative:
		h.serve(c, op, h.putRelative)
	default:
		h.serve(c, OpUnknown, nil)
	}
}

// CheckFileInfoResponse is the CheckFileInfo JSON body.
type CheckFileInfoResponse struct {
	BaseFileName               string
	OwnerId                    string
	Size                       int64
	UserId                     string
	Version                    string
	UserCanWrite               bool
	ReadOnly                   bool
	UserCanNotWriteRelative    bool
	UserFriendlyName           string
	UserInfo                   string
	SupportsUpdate             bool
	SupportsLocks              bool
	SupportsGetLock            bool
	SupportsExtendedLockLength bool
	SupportsRename             bool
	SupportsDeleteFile         bool
	SupportsCoauth             bool
	LastModifiedTime           string
	FileExtension              string
	BreadcrumbBrandName        string
	BreadcrumbFolderName       string
	BreadcrumbFolderUrl        string
	HostEditUrl                string
	HostViewUrl                string
	SHA256                     string `json:",omitempty"`
}

// CheckFileInfo handles GET /wopi/files/:id.
func (h *WOPIHandler) CheckFileInfo(c *gin.Context) {
	h.serve(c, OpCheckFileInfo, h.checkFileInfo)
}

func (h *WOPIHandler) checkFileInfo(ctx context.Context, c *gin.Context, req *wopiRequest) error {
	f := req.file()
	writable := h.opts.EditEnabled && req.perms.CanWrite && token.HasScope(req.claims, token.ScopeEdit)

	resp := CheckFileInfoResponse{
		BaseFileName:               f.Name,
		OwnerId:                    f.OwnerID,
		Size:                       f.Size,
		UserId:                     req.userID(),
		Version:                    itemVersion(f.UpdatedAt),
		UserCanWrite:               writable,
		ReadOnly:                   !writable,
		UserCanNotWriteRelative:    !(writable && req.perms.IsOwner),
		UserFriendlyName:           friendlyName(req.claims),
		UserInfo:                   req.claims.UserEmail,
		SupportsUpdate:             writable,
		SupportsLocks:              writable,
		SupportsGetLock:            writable,
		SupportsExtendedLockLength: writable,
		LastModifiedTime:           f.UpdatedAt.UTC().Format(time.RFC3339),
		FileExtension:              f.Extension(),
		BreadcrumbBrandName:        h.opts.BrandName,
		BreadcrumbFolderName:       h.opts.BrandName,
		BreadcrumbFolderUrl:        h.folderURL(f.FolderID),
		HostEditUrl:                h.hostURL("edit", f.ID),
		HostViewUrl:                h.hostURL("view", f.ID),
	}

	if h.opts.IncludeSHA256 {
		sum, err := content.Hash(ctx, h.Store, f.Path)
		if err != nil {
			return err
		}
		resp.SHA256 = sum
	}

	c.JSON(http.StatusOK, resp)
	return nil
}

func friendlyName(c *token.Claims) string {
	switch {
	case c.UserName != "":
		return c.UserName
	case c.UserEmail != "":
		return c.UserEmail
	default:
		return c.UserID()
	}
}

func (h *WOPIHandler) hostURL(mode, fileID string) string {
	return h.opts.PublicURL + "/office/" + mode + "/" + fileID
}

func (h *WOPIHandler) folderURL(folderID string) string {
	if folderID == "" {
		return h.opts.PublicURL + "/files"
	}
	return h.opts.PublicURL + "/files?folder=" + url.QueryEscape(folderID)
}

// GetFile handles GET /wopi/files/:id/contents.
func (h *WOPIHandler) GetFile(c *gin.Context) {
	h.serve(c, OpGetFile, h.getFile)
}

func (h *WOPIHandler) getFile(ctx context.Context, c *gin.Context, req *wopiRequest) error {
	f := req.file()
	obj, err := h.Store.Open(ctx, f.Path)
	if err != nil {
		return err
	}
	defer obj.Close()

	if v := c.GetHeader(headerMaxExpectedSize); v != "" {
		if limit, err := strconv.ParseInt(v, 10, 64); err == nil && obj.Size > limit {
			return errSizeExceeded
		}
	}

	mimeType := f.MIMEType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	c.Header("Content-Type", mimeType)
	c.Header(headerItemVersion, itemVersion(f.UpdatedAt))
	http.ServeContent(c.Writer, c.Request, f.Name, obj.ModTime, obj)
	return nil
}

// PutFile handles POST /wopi/files/:id/contents.
func (h *WOPIHandler) PutFile(c *gin.Context) {
	switch strings.ToUpper(strings.TrimSpace(c.GetHeader(headerOverride))) {
	case "", "PUT":
		h.serve(c, OpPutFile, h.putFile)
	default:
		h.serve(c, OpUnknown, nil)
	}
}

func (h *WOPIHandler) putFile(ctx context.Context, c *gin.Context, req *wopiRequest) error {
	f := req.file()
	if h.opts.MaxFileSize > 0 && c.Request.ContentLength > h.opts.MaxFileSize {
		return content.ErrPayloadTooLarge
	}

	// A file without a lock may be written; a locked one only by the holder.
	cur, err := h.Locks.GetLock(ctx, f.ID)
	if err != nil {
		return err
	}
	if cur != nil && cur.Token != c.GetHeader(headerLock) {
		return &session.ConflictError{Err: session.ErrLockMismatch, Current: cur.Token}
	}

	n, err := h.Store.Put(ctx, f.Path, c.Request.Body, h.opts.MaxFileSize)
	if err != nil {
		return err
	}

	now := h.now()
	if err := h.Repo.UpdateFileSize(ctx, f.ID, n, now); err != nil {
		return err
	}
	if delta := n - f.Size; delta != 0 {
		if err := h.Repo.AddStorageUsed(ctx, f.OwnerID, delta); err != nil {
			logger.Warn("wopi: storage quota update for %s failed: %v", f.OwnerID, err)
		}
	}

	f.Size = n
	f.UpdatedAt = now
	h.publish(ctx, events.SubjectFileUpdated, f, req.userID())

	c.Header(headerItemVersion, itemVersion(now))
	c.Status(http.StatusOK)
	return nil
}

func (h *WOPIHandler) publish(ctx context.Context, subject string, f *model.File, userID string) {
	err := h.Publisher.Publish(ctx, subject, events.FileEvent{
		FileID:    f.ID,
		OwnerID:   f.OwnerID,
		UserID:    userID,
		Name:      f.Name,
		Size:      f.Size,
		Source:    "wopi",
		Timestamp: h.now().UTC(),
	})
	if err != nil {
		logger.Warn("wopi: publish %s for %s failed: %v", subject, f.ID, err)
	}
}
