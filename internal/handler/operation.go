package handler

import (
	"strings"

	"github.com/allopze/cloudbox-wopi/internal/token"
)

// Operation is a WOPI operation, parsed once per request.
type Operation int

const (
	OpUnknown Operation = iota
	OpCheckFileInfo
	OpGetFile
	OpPutFile
	OpLock
	OpUnlock
	OpRefreshLock
	OpGetLock
	OpUnlockAndRelock
	OpPutRelative
)

// ParseOverride maps an X-WOPI-Override value sent to POST /wopi/files/:id.
// A LOCK carrying X-WOPI-OldLock is an unlock-and-relock.
func ParseOverride(override string, hasOldLock bool) Operation {
	switch strings.ToUpper(strings.TrimSpace(override)) {
	case "LOCK":
		if hasOldLock {
			return OpUnlockAndRelock
		}
		return OpLock
	case "UNLOCK":
		return OpUnlock
	case "REFRESH_LOCK":
		return OpRefreshLock
	case "GET_LOCK":
		return OpGetLock
	case "UNLOCK_AND_RELOCK":
		return OpUnlockAndRelock
	case "PUT_RELATIVE":
		return OpPutRelative
	default:
		return OpUnknown
	}
}

func (o Operation) String() string {
	switch o {
	case OpCheckFileInfo:
		return "CheckFileInfo"
	case OpGetFile:
		return "GetFile"
	case OpPutFile:
		return "PutFile"
	case OpLock:
		return "Lock"
	case OpUnlock:
		return "Unlock"
	case OpRefreshLock:
		return "RefreshLock"
	case OpGetLock:
		return "GetLock"
	case OpUnlockAndRelock:
		return "UnlockAndRelock"
	case OpPutRelative:
		return "PutRelativeFile"
	default:
		return "Unknown"
	}
}

// RequiredScope is the token scope the operation needs.
func (o Operation) RequiredScope() token.Scope {
	switch o {
	case OpCheckFileInfo, OpGetFile, OpGetLock:
		return token.ScopeView
	case OpPutFile, OpLock, OpUnlock, OpRefreshLock, OpUnlockAndRelock, OpPutRelative:
		return token.ScopeEdit
	default:
		return token.ScopeEdit
	}
}

// RequiresWrite reports whether the caller needs write permission and edit
// mode must be enabled.
func (o Operation) RequiresWrite() bool {
	switch o {
	case OpPutFile, OpLock, OpUnlock, OpRefreshLock, OpUnlockAndRelock, OpPutRelative:
		return true
	case OpCheckFileInfo, OpGetFile, OpGetLock:
		return false
	default:
		return true
	}
}

// RequiresLockHeader reports whether X-WOPI-Lock must be present.
func (o Operation) RequiresLockHeader() bool {
	switch o {
	case OpLock, OpUnlock, OpRefreshLock, OpUnlockAndRelock:
		return true
	default:
		return false
	}
}
