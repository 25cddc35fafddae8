package store

import "errors"

// Sentinel errors returned by mapper and session operations. Backends should
// wrap these with fmt.Errorf("%w: ...", ErrX, cause) rather than returning
// backend-specific error types, so callers can use errors.Is regardless of
// which backend is in play.
var (
	ErrMailboxNotFound   = errors.New("store: mailbox not found")
	ErrMailboxExists     = errors.New("store: mailbox already exists")
	ErrMessageNotFound   = errors.New("store: message not found")
	ErrStorage           = errors.New("store: storage error")
	ErrNotSupported      = errors.New("store: operation not supported by this backend")
	ErrUnsupportedSearch = errors.New("store: search criterion not supported")
	ErrBadCredentials    = errors.New("store: bad credentials")
	ErrSessionClosed     = errors.New("store: session is closed")
	ErrPermissionDenied  = errors.New("store: permission denied")
)
