package store

import (
	"context"
	"regexp"
	"strings"
)

// MailboxMapper is the per-session, per-backend contract for mailbox
// lifecycle and lookup. Like MessageMapper, it assumes the caller is
// already authorized for whatever it asks for; a mapper instance is
// created scoped to one session's owner (see SessionMapperFactory), so
// List and FindByPath only ever see that owner's mailboxes.
type MailboxMapper[ID comparable] interface {
	// FindByPath looks up the mailbox whose Path equals path exactly.
	FindByPath(ctx context.Context, path string) (Mailbox[ID], bool, error)

	// FindWithPathLike returns every mailbox whose Path matches pattern,
	// where "%" stands for any run of characters other than delimiter and
	// "*" stands for any run of characters including delimiter. See
	// WildcardToRegexp.
	FindWithPathLike(ctx context.Context, pattern string, delimiter byte) ([]Mailbox[ID], error)

	// HasChildren reports whether any mailbox's Path begins with
	// mb.Path()+string(delimiter).
	HasChildren(ctx context.Context, mb Mailbox[ID], delimiter byte) (bool, error)

	// Save creates mb if mb.ID is the zero value, or updates the existing
	// record otherwise. On create, mb.ID is set to the newly assigned id.
	Save(ctx context.Context, mb *Mailbox[ID]) error

	// Delete permanently removes mb and every message in it.
	Delete(ctx context.Context, mb Mailbox[ID]) error

	// List returns every mailbox visible to the session that created this
	// mapper.
	List(ctx context.Context) ([]Mailbox[ID], error)
}

// WildcardToRegexp compiles an IMAP LIST-style mailbox pattern into a
// regexp anchored at both ends: "%" becomes "any run of characters other
// than delimiter" (matches within one hierarchy level) and "*" becomes
// "any run of characters including delimiter" (matches across levels);
// every other rune is taken literally.
func WildcardToRegexp(pattern string, delimiter byte) (*regexp.Regexp, error) {
	notDelim := `[^` + regexp.QuoteMeta(string(delimiter)) + `]*`
	var b strings.Builder
	b.WriteByte('^')
	for _, c := range pattern {
		switch c {
		case '%':
			b.WriteString(notDelim)
		case '*':
			b.WriteString(`.*`)
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteByte('$')
	return regexp.Compile(b.String())
}
