package store

import (
	"bytes"
	"fmt"
	"io"
	"mime"
	"net/mail"
	"strings"
	"time"

	"github.com/inkwell/mailstore/storeio"
)

// CriterionKind selects which field of a Criterion is meaningful.
type CriterionKind int

const (
	CriterionAll          CriterionKind = iota
	CriterionUID                        // matches UIDRanges
	CriterionFlag                       // matches Flag/FlagSet
	CriterionSize                       // matches SizeOp/Size
	CriterionInternalDate                // matches DateOp/Date/Resolution
	CriterionHeader                      // matches HeaderName/HeaderOp/...
	CriterionText                        // matches TextScope/Substring
	CriterionConjunction                 // matches Conj/Children
)

// CompareOp is a three-way numeric comparison, used for Size.
type CompareOp int

const (
	OpLess CompareOp = iota
	OpGreater
	OpEqual
)

// DateOp is a three-way comparison against a truncated date, used for both
// InternalDate and Header(...Date) criteria.
type DateOp int

const (
	DateBefore DateOp = iota
	DateOn
	DateAfter
)

// Resolution truncates both sides of a DateOp comparison, so DateOn
// 3-Aug-2026 at ResDay matches any time during that calendar day rather
// than requiring an exact timestamp match, and DateAfter at ResDay matches
// only later days.
type Resolution int

const (
	ResSecond Resolution = iota
	ResMinute
	ResHour
	ResDay
	ResMonth
	ResYear
)

// HeaderOp selects how a Header criterion matches.
type HeaderOp int

const (
	HeaderExists   HeaderOp = iota // header field is present, value ignored
	HeaderContains                 // header field's value contains HeaderText, case-insensitively
	HeaderDate                     // header field parses as an RFC 5322 date matching DateOp/Date/Resolution
)

// TextScope selects what a Text criterion searches.
type TextScope int

const (
	TextBody TextScope = iota // decoded body only
	TextFull                  // headers and decoded body
)

// ConjKind selects how a Conjunction criterion combines its Children.
type ConjKind int

const (
	ConjAnd ConjKind = iota
	ConjOr
	ConjNor // true iff none of the children match
)

// Criterion is one node of a search query tree. Exactly the fields relevant
// to Kind are meaningful; the rest are zero and ignored.
type Criterion struct {
	Kind CriterionKind

	UIDRanges []UIDRange

	Flag    Flag
	FlagSet bool

	SizeOp CompareOp
	Size   int64

	DateOp     DateOp
	Date       time.Time
	Resolution Resolution

	HeaderName string
	HeaderOp   HeaderOp
	HeaderText string

	TextScope TextScope
	Substring string

	Conj     ConjKind
	Children []Criterion
}

// SearchQuery wraps the root Criterion of a search. A query whose Root is
// CriterionAll matches every message in the mailbox.
type SearchQuery struct {
	Root Criterion
}

// MessageView is the minimal read-only view of a message the evaluator
// needs. A backend's message iterator can implement it directly, or the
// mapper layer can wrap a fully loaded Message[ID] (see messageView).
type MessageView interface {
	UID() UID
	Flags() Flags
	Size() int64
	InternalDate() time.Time
	Headers() ([]Header, error)
	BodyReader() (io.Reader, error)
}

// Evaluate decides whether m satisfies query, given the recent-set of the
// session that issued the search (used only for FlagRecent criteria, since
// \Recent is not part of Flags). Evaluate has no side effects: it neither
// mutates m nor advances any counter.
func Evaluate(query SearchQuery, m MessageView, recent map[UID]bool) (bool, error) {
	return evalCriterion(query.Root, m, recent)
}

func evalCriterion(c Criterion, m MessageView, recent map[UID]bool) (bool, error) {
	switch c.Kind {
	case CriterionAll:
		return true, nil
	case CriterionUID:
		for _, r := range c.UIDRanges {
			if r.Contains(m.UID()) {
				return true, nil
			}
		}
		return false, nil
	case CriterionFlag:
		if c.Flag == FlagRecent {
			return recent[m.UID()] == c.FlagSet, nil
		}
		return m.Flags().Has(c.Flag) == c.FlagSet, nil
	case CriterionSize:
		return compareInt(c.SizeOp, m.Size(), c.Size)
	case CriterionInternalDate:
		return compareDate(c.DateOp, truncate(m.InternalDate(), c.Resolution), truncate(c.Date, c.Resolution)), nil
	case CriterionHeader:
		return evalHeader(c, m)
	case CriterionText:
		return evalText(c, m)
	case CriterionConjunction:
		return evalConjunction(c, m, recent)
	}
	return false, fmt.Errorf("%w: criterion kind %d", ErrUnsupportedSearch, c.Kind)
}

func evalConjunction(c Criterion, m MessageView, recent map[UID]bool) (bool, error) {
	switch c.Conj {
	case ConjAnd:
		for _, ch := range c.Children {
			ok, err := evalCriterion(ch, m, recent)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	case ConjOr:
		for _, ch := range c.Children {
			ok, err := evalCriterion(ch, m, recent)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case ConjNor:
		for _, ch := range c.Children {
			ok, err := evalCriterion(ch, m, recent)
			if err != nil {
				return false, err
			}
			if ok {
				return false, nil
			}
		}
		return true, nil
	}
	return false, fmt.Errorf("%w: conjunction kind %d", ErrUnsupportedSearch, c.Conj)
}

func compareInt(op CompareOp, a, b int64) (bool, error) {
	switch op {
	case OpLess:
		return a < b, nil
	case OpGreater:
		return a > b, nil
	case OpEqual:
		return a == b, nil
	}
	return false, fmt.Errorf("%w: compare op %d", ErrUnsupportedSearch, op)
}

func compareDate(op DateOp, a, b time.Time) bool {
	switch op {
	case DateBefore:
		return a.Before(b)
	case DateOn:
		return a.Equal(b)
	case DateAfter:
		return a.After(b)
	}
	return false
}

func truncate(t time.Time, res Resolution) time.Time {
	t = t.UTC()
	y, mo, d := t.Date()
	h, mi, s := t.Clock()
	switch res {
	case ResYear:
		return time.Date(y, 1, 1, 0, 0, 0, 0, time.UTC)
	case ResMonth:
		return time.Date(y, mo, 1, 0, 0, 0, 0, time.UTC)
	case ResDay:
		return time.Date(y, mo, d, 0, 0, 0, 0, time.UTC)
	case ResHour:
		return time.Date(y, mo, d, h, 0, 0, 0, time.UTC)
	case ResMinute:
		return time.Date(y, mo, d, h, mi, 0, 0, time.UTC)
	default:
		return time.Date(y, mo, d, h, mi, s, 0, time.UTC)
	}
}

func evalHeader(c Criterion, m MessageView) (bool, error) {
	headers, err := m.Headers()
	if err != nil {
		return false, fmt.Errorf("%w: reading headers: %v", ErrStorage, err)
	}
	name := strings.ToUpper(c.HeaderName)
	switch c.HeaderOp {
	case HeaderExists:
		for _, h := range headers {
			if strings.ToUpper(h.Name) == name {
				return true, nil
			}
		}
		return false, nil
	case HeaderContains:
		want := strings.ToUpper(c.HeaderText)
		for _, h := range headers {
			if strings.ToUpper(h.Name) == name && strings.Contains(strings.ToUpper(h.Value), want) {
				return true, nil
			}
		}
		return false, nil
	case HeaderDate:
		for _, h := range headers {
			if strings.ToUpper(h.Name) != name {
				continue
			}
			t, err := parseHeaderDate(h.Value)
			if err != nil {
				continue
			}
			if compareDate(c.DateOp, truncate(t, c.Resolution), truncate(c.Date, c.Resolution)) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, fmt.Errorf("%w: header op %d", ErrUnsupportedSearch, c.HeaderOp)
}

func evalText(c Criterion, m MessageView) (bool, error) {
	var buf bytes.Buffer

	headers, err := m.Headers()
	if err != nil {
		return false, fmt.Errorf("%w: reading headers: %v", ErrStorage, err)
	}
	if c.TextScope == TextFull {
		for _, h := range headers {
			buf.WriteString(h.Name)
			buf.WriteString(": ")
			buf.WriteString(h.Value)
			buf.WriteString("\r\n")
		}
	}

	r, err := m.BodyReader()
	if err != nil {
		return false, fmt.Errorf("%w: reading body: %v", ErrStorage, err)
	}
	dr := storeio.DecodeReader(charsetFromHeaders(headers), r)
	body, err := io.ReadAll(dr)
	if err != nil {
		return false, fmt.Errorf("%w: reading body: %v", ErrStorage, err)
	}
	buf.Write(body)

	return strings.Contains(strings.ToUpper(buf.String()), strings.ToUpper(c.Substring)), nil
}

// parseHeaderDate parses an RFC 5322 date, as found in Date: or
// Resent-Date:, without requiring the strict grammar net/mail otherwise
// enforces (many real messages get the weekday or timezone name wrong).
func parseHeaderDate(v string) (time.Time, error) {
	if t, err := mail.ParseDate(v); err == nil {
		return t, nil
	}
	for _, layout := range []string{
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04 -0700",
	} {
		if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable header date %q", v)
}

func charsetFromHeaders(headers []Header) string {
	for _, h := range headers {
		if strings.EqualFold(h.Name, "Content-Type") {
			if _, params, err := mime.ParseMediaType(h.Value); err == nil {
				return params["charset"]
			}
		}
	}
	return ""
}
