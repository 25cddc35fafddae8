package store

// UID is a message identifier that is strictly increasing within a single
// mailbox and never reused, even after the message it named is expunged.
type UID uint32

// ModSeq is a per-mailbox modification sequence number. It advances on any
// state change worth telling a client about: append, flag update, expunge.
//
// The zero value is the backend-internal "never touched" sentinel, distinct
// from the smallest value a client may legally see. Client returns the
// client-facing value, and ModSeqFromClient undoes it.
type ModSeq int64

// Client returns the value a client should be shown for m, translating the
// internal zero sentinel to 1 per the CONDSTORE convention that the lowest
// valid client-visible mod-sequence is 1, never 0.
func (m ModSeq) Client() int64 {
	if m == 0 {
		return 1
	}
	return int64(m)
}

// ModSeqFromClient undoes Client, translating a client-supplied mod-sequence
// back to the internal representation.
func ModSeqFromClient(c int64) ModSeq {
	if c == 1 {
		return 0
	}
	return ModSeq(c)
}
