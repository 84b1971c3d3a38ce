package handler

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	headerOverride          = "X-WOPI-Override"
	headerLock              = "X-WOPI-Lock"
	headerOldLock           = "X-WOPI-OldLock"
	headerLockFailureReason = "X-WOPI-LockFailureReason"
	headerItemVersion       = "X-WOPI-ItemVersion"
	headerMaxExpectedSize   = "X-WOPI-MaxExpectedSize"
	headerSuggestedTarget   = "X-WOPI-SuggestedTarget"
	headerRelativeTarget    = "X-WOPI-RelativeTarget"
	headerOverwriteRelative = "X-WOPI-OverwriteRelativeTarget"
	headerValidRelative     = "X-WOPI-ValidRelativeTarget"
)

// accessToken extracts the WOPI access token from the access_token query
// parameter or, failing that, an "Authorization: Bearer" header.
func accessToken(c *gin.Context) string {
	if t := c.Query("access_token"); t != "" {
		return t
	}
	auth := c.GetHeader("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// setHeader writes h even when v is empty. gin's Context.Header deletes the
// header on empty values, and WOPI clients expect an empty X-WOPI-Lock.
func setHeader(c *gin.Context, h, v string) {
	c.Writer.Header().Set(h, v)
}

// itemVersion is the file version string: the last modification in unix ms.
func itemVersion(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
