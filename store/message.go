package store

import "time"

// FetchType hints to a backend how much of a message the caller actually
// needs, so a mapper can skip loading a body it won't use. A backend is free
// to populate more than asked; it must not populate less.
type FetchType int

const (
	FetchMetadata FetchType = iota // UID, flags, size, internal date only
	FetchHeaders                   // metadata plus Headers
	FetchFull                      // metadata plus Headers and Body
)

// Header is one message header field, in source order and with its value
// already MIME-word decoded where the backend's header reader supports it.
type Header struct {
	Name  string
	Value string
}

// Message is a backend-agnostic message record, parametrized over the same
// ID type as its owning Mailbox.
type Message[ID comparable] struct {
	MailboxID ID
	UID       UID
	ModSeq    ModSeq

	InternalDate time.Time
	Size         int64

	Flags    Flags
	Keywords []string

	// Headers and Body are populated according to the FetchType the caller
	// requested; either may be nil if not asked for.
	Headers []Header
	Body    []byte
}

// PrepareExpunge trims m down to the identity and modification-sequence
// fields a MessageExpunged notification needs, discarding content a listener
// has no business holding onto after the message is gone.
func (m *Message[ID]) PrepareExpunge() {
	*m = Message[ID]{MailboxID: m.MailboxID, UID: m.UID, ModSeq: m.ModSeq}
}
