package store

import (
	"bytes"

	"github.com/emersion/go-message"
)

// HeaderReader enumerates the header fields of a raw message, in source
// order. It is the seam between this package's Header-based search and
// event types and whatever MIME parsing library a backend links in;
// mailstore itself never parses a message body.
type HeaderReader interface {
	Headers(raw []byte) ([]Header, error)
}

// MIMEHeaderReader implements HeaderReader using go-message, which also
// performs RFC 2047 MIME-word decoding of header values, so callers never
// see "=?utf-8?q?...?=" in a header's Value. A raw message whose header
// section go-message cannot parse at all (such as a bare body with no
// header lines) is reported as having no headers, not as an error, so it
// can still be fetched, copied and expunged.
type MIMEHeaderReader struct{}

func (MIMEHeaderReader) Headers(raw []byte) ([]Header, error) {
	e, _ := message.Read(bytes.NewReader(raw))
	if e == nil {
		return nil, nil
	}
	var out []Header
	fields := e.Header.Fields()
	for fields.Next() {
		v, decErr := fields.Text()
		if decErr != nil {
			v = fields.Value()
		}
		out = append(out, Header{Name: fields.Key(), Value: v})
	}
	return out, nil
}
