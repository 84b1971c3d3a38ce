package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *WOPIHandler) lockHeader(c *gin.Context) (string, error) {
	lock := c.GetHeader(headerLock)
	if lock == "" {
		return "", errMissingLock
	}
	return lock, nil
}

func (h *WOPIHandler) lock(ctx context.Context, c *gin.Context, req *wopiRequest) error {
	lock, err := h.lockHeader(c)
	if err != nil {
		return err
	}
	if _, err := h.Locks.Lock(ctx, req.fileID, lock, req.userID()); err != nil {
		return err
	}
	c.Header(headerItemVersion, itemVersion(req.file().UpdatedAt))
	c.Status(http.StatusOK)
	return nil
}

func (h *WOPIHandler) unlock(ctx context.Context, c *gin.Context, req *wopiRequest) error {
	lock, err := h.lockHeader(c)
	if err != nil {
		return err
	}
	if err := h.Locks.Unlock(ctx, req.fileID, lock); err != nil {
		return err
	}
	c.Header(headerItemVersion, itemVersion(req.file().UpdatedAt))
	c.Status(http.StatusOK)
	return nil
}

func (h *WOPIHandler) refreshLock(ctx context.Context, c *gin.Context, req *wopiRequest) error {
	lock, err := h.lockHeader(c)
	if err != nil {
		return err
	}
	if _, err := h.Locks.RefreshLock(ctx, req.fileID, lock); err != nil {
		return err
	}
	c.Status(http.StatusOK)
	return nil
}

func (h *WOPIHandler) getLock(ctx context.Context, c *gin.Context, req *wopiRequest) error {
	cur, err := h.Locks.GetLock(ctx, req.fileID)
	if err != nil {
		return err
	}
	current := ""
	if cur != nil {
		current = cur.Token
	}
	setHeader(c, headerLock, current)
	c.Status(http.StatusOK)
	return nil
}

func (h *WOPIHandler) unlockAndRelock(ctx context.Context, c *gin.Context, req *wopiRequest) error {
	lock, err := h.lockHeader(c)
	if err != nil {
		return err
	}
	oldLock := c.GetHeader(headerOldLock)
	if oldLock == "" {
		return errMissingOldLock
	}
	if _, err := h.Locks.UnlockAndRelock(ctx, req.fileID, oldLock, lock, req.userID()); err != nil {
		return err
	}
	c.Status(http.StatusOK)
	return nil
}
