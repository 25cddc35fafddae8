package store

import "golang.org/x/exp/slices"

// Flag names a system flag using its IMAP atom spelling, so backends and the
// search evaluator can share the same vocabulary without a translation
// table.
type Flag string

const (
	FlagSeen     Flag = `\Seen`
	FlagAnswered Flag = `\Answered`
	FlagFlagged  Flag = `\Flagged`
	FlagDraft    Flag = `\Draft`
	FlagDeleted  Flag = `\Deleted`

	// FlagRecent is never stored in a Flags value. It is session-scoped: see
	// Session.MarkRecent. Flags.Has always returns false for it; the search
	// evaluator special-cases it against a session's recent-set instead.
	FlagRecent Flag = `\Recent`
)

// Flags holds the persisted system flags of a message. User-defined keyword
// flags live alongside it on Message, as a separate slice, since their
// vocabulary is open-ended and mailbox-scoped.
type Flags struct {
	Seen     bool
	Answered bool
	Flagged  bool
	Draft    bool
	Deleted  bool
}

// AllSystemFlags is a mask with every persisted system flag set, for use
// with Set.
var AllSystemFlags = Flags{Seen: true, Answered: true, Flagged: true, Draft: true, Deleted: true}

// Has reports whether f has flag set. FlagRecent is not part of Flags and
// always reports false; callers that care about \Recent must consult a
// session's recent-set directly.
func (f Flags) Has(flag Flag) bool {
	switch flag {
	case FlagSeen:
		return f.Seen
	case FlagAnswered:
		return f.Answered
	case FlagFlagged:
		return f.Flagged
	case FlagDraft:
		return f.Draft
	case FlagDeleted:
		return f.Deleted
	}
	return false
}

// Set returns a copy of f with every flag named true in mask set to val,
// leaving flags not named in mask untouched. It is the primitive behind
// both the "add these flags" and "remove these flags" forms of
// MessageMapper.UpdateFlags; a "replace wholesale" update just uses the
// wanted Flags value directly instead of calling Set.
func (f Flags) Set(mask Flags, val bool) Flags {
	r := f
	if mask.Seen {
		r.Seen = val
	}
	if mask.Answered {
		r.Answered = val
	}
	if mask.Flagged {
		r.Flagged = val
	}
	if mask.Draft {
		r.Draft = val
	}
	if mask.Deleted {
		r.Deleted = val
	}
	return r
}

// MergeKeywords returns cur with every keyword in add present exactly once,
// preserving cur's existing order and appending new ones. The bool reports
// whether the result differs from cur.
func MergeKeywords(cur, add []string) ([]string, bool) {
	changed := false
	out := cur
	for _, kw := range add {
		if slices.Contains(out, kw) {
			continue
		}
		out = append(out, kw)
		changed = true
	}
	return out, changed
}

// RemoveKeywords returns cur with every keyword in remove deleted, preserving
// order of what's left.
func RemoveKeywords(cur, remove []string) []string {
	if len(remove) == 0 {
		return cur
	}
	out := cur[:0:0]
	for _, kw := range cur {
		if slices.Contains(remove, kw) {
			continue
		}
		out = append(out, kw)
	}
	return out
}

// sameKeywords reports whether a and b contain the same set of keywords,
// order ignored, for the idempotent-update check in UpdateFlags.
func sameKeywords(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for _, kw := range a {
		if !slices.Contains(b, kw) {
			return false
		}
	}
	return true
}
