package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/allopze/cloudbox-wopi/internal/adapter"
	"github.com/allopze/cloudbox-wopi/internal/content"
	"github.com/allopze/cloudbox-wopi/internal/logger"
	"github.com/allopze/cloudbox-wopi/internal/session"
	"github.com/allopze/cloudbox-wopi/internal/token"
)

// statusError is a request failure with a fixed HTTP status.
type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string {
	return e.msg
}

var (
	errFileNotFound       = &statusError{http.StatusNotFound, "File not found"}
	errMissingToken       = &statusError{http.StatusUnauthorized, "Missing access token"}
	errTokenFileMismatch  = &statusError{http.StatusUnauthorized, "Access token not valid for this file"}
	errInsufficientScope  = &statusError{http.StatusForbidden, "Access token scope insufficient"}
	errAccessDenied       = &statusError{http.StatusForbidden, "Access denied"}
	errEditDisabled       = &statusError{http.StatusForbidden, "Editing is disabled"}
	errReadOnly           = &statusError{http.StatusForbidden, "Write permission required"}
	errMissingLock        = &statusError{http.StatusBadRequest, "Missing X-WOPI-Lock header"}
	errMissingOldLock     = &statusError{http.StatusBadRequest, "Missing X-WOPI-OldLock header"}
	errConflictingTargets = &statusError{http.StatusBadRequest, "Both relative and suggested targets given"}
	errInvalidTarget      = &statusError{http.StatusBadRequest, "Invalid target name"}
	errSizeExceeded       = &statusError{http.StatusPreconditionFailed, "File larger than X-WOPI-MaxExpectedSize"}
	errNotOwner           = &statusError{http.StatusNotImplemented, "Only the owner can create related files"}
	errUnsupported        = &statusError{http.StatusNotImplemented, "Unsupported operation"}
)

// nameCollisionError reports that a PutRelativeFile target already exists.
type nameCollisionError struct {
	name string
}

func (e *nameCollisionError) Error() string {
	return "file " + e.name + " already exists"
}

// respondError translates err into the WOPI response. Unrecognized errors
// become a logged 500 with a generic body.
func (h *WOPIHandler) respondError(c *gin.Context, op Operation, fileID string, err error) {
	var (
		se       *statusError
		conflict *session.ConflictError
		exists   *nameCollisionError
	)
	switch {
	case errors.As(err, &se):
		c.AbortWithStatusJSON(se.status, gin.H{"error": se.msg})
	case errors.As(err, &conflict):
		setHeader(c, headerLock, conflict.Current)
		setHeader(c, headerLockFailureReason, conflict.Reason())
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": conflict.Reason()})
	case errors.As(err, &exists):
		setHeader(c, headerValidRelative, exists.name)
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": "File already exists"})
	case errors.Is(err, token.ErrInvalidToken), errors.Is(err, token.ErrExpiredToken):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid access token"})
	case errors.Is(err, adapter.ErrNotFound), errors.Is(err, content.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "File not found"})
	case errors.Is(err, content.ErrPayloadTooLarge):
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"error": "File too large"})
	default:
		logger.Error("wopi %s failed for file %s: %v", op, fileID, err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}
