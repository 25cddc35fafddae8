package store

import "context"

// ACLOracle resolves access-control decisions for a mailbox path. This
// package treats ACL resolution purely as a seam: it never parses or
// stores ACL rights itself, it just asks the oracle before an operation
// that needs one.
//
// The session layer consults it; the mappers never do. CanRead governs
// mailbox visibility (MailboxExists, GetMailbox, List); messages of a
// mailbox resolved through GetMailbox are then read without a further
// check. CanWrite governs create, delete, rename, append, flag update,
// expunge and the destination of a copy.
// A nil ACLOracle means every mailbox is visible and writable to every
// user, the single-tenant default.
type ACLOracle interface {
	CanRead(ctx context.Context, mailboxPath string, user string) (bool, error)
	CanWrite(ctx context.Context, mailboxPath string, user string) (bool, error)
}

// AllowAll is the nil-object ACLOracle used when no access control is
// configured.
type AllowAll struct{}

func (AllowAll) CanRead(ctx context.Context, mailboxPath, user string) (bool, error)  { return true, nil }
func (AllowAll) CanWrite(ctx context.Context, mailboxPath, user string) (bool, error) { return true, nil }
