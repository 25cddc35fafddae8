// Package maildirstore is the filesystem store.Store implementation: each
// mailbox is one directory holding the classic cur/, new/, tmp/ Maildir
// triad (see GLOSSARY), plus a mailstore.json sidecar carrying the
// store.Mailbox fields bstore or SQL would otherwise keep in a row. A
// message's UID, ModSeq and flags are encoded into its filename, Maildir-
// style; its InternalDate and Size come from the file's own mtime and
// length rather than a second place to keep them in sync.
package maildirstore

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/inkwell/mailstore/store"
)

// ID identifies a mailbox by its directory path, relative to the backend's
// root.
type ID = string

// sanitize turns an arbitrary owner or mailbox-path component into a string
// safe to use as a single path segment.
func sanitize(s string) string {
	return url.PathEscape(s)
}

func mailboxDir(owner, name string) ID {
	return filepath.Join(sanitize(owner), sanitize(name))
}

// metaFile is the JSON sidecar recording everything about a mailbox that
// isn't derivable from its message files.
type metaFile struct {
	Owner         string `json:"owner"`
	Namespace     string `json:"namespace"`
	Name          string `json:"name"`
	Delimiter     byte   `json:"delimiter"`
	UIDValidity   uint32 `json:"uidValidity"`
	LastUID       store.UID    `json:"lastUID"`
	HighestModSeq store.ModSeq `json:"highestModSeq"`
}

func readMeta(dir string) (metaFile, error) {
	b, err := os.ReadFile(filepath.Join(dir, "mailstore.json"))
	if err != nil {
		return metaFile{}, err
	}
	var m metaFile
	if err := json.Unmarshal(b, &m); err != nil {
		return metaFile{}, fmt.Errorf("parsing mailstore.json: %w", err)
	}
	return m, nil
}

func writeMeta(dir string, m metaFile) error {
	b, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	tmp := filepath.Join(dir, "mailstore.json.tmp")
	if err := os.WriteFile(tmp, b, 0660); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, "mailstore.json"))
}

func (m metaFile) toStore(id ID) store.Mailbox[ID] {
	return store.Mailbox[ID]{
		ID:            id,
		Namespace:     m.Namespace,
		Owner:         m.Owner,
		Name:          m.Name,
		Delimiter:     m.Delimiter,
		UIDValidity:   m.UIDValidity,
		LastUID:       m.LastUID,
		HighestModSeq: m.HighestModSeq,
	}
}

func metaFromStore(mb store.Mailbox[ID]) metaFile {
	return metaFile{
		Owner: mb.Owner, Namespace: mb.Namespace, Name: mb.Name, Delimiter: mb.Delimiter,
		UIDValidity: mb.UIDValidity, LastUID: mb.LastUID, HighestModSeq: mb.HighestModSeq,
	}
}

// flagChars is the classic Maildir info-suffix alphabet: letters must stay
// sorted ascending in the filename for two backends to agree a file is
// "the same" name.
const flagChars = "DFRST" // Draft Flagged Replied(Answered) Seen Trashed(Deleted)

func encodeFlags(f store.Flags) string {
	var b strings.Builder
	if f.Draft {
		b.WriteByte('D')
	}
	if f.Flagged {
		b.WriteByte('F')
	}
	if f.Answered {
		b.WriteByte('R')
	}
	if f.Seen {
		b.WriteByte('S')
	}
	if f.Deleted {
		b.WriteByte('T')
	}
	return b.String()
}

func decodeFlags(s string) store.Flags {
	return store.Flags{
		Draft:    strings.ContainsRune(s, 'D'),
		Flagged:  strings.ContainsRune(s, 'F'),
		Answered: strings.ContainsRune(s, 'R'),
		Seen:     strings.ContainsRune(s, 'S'),
		Deleted:  strings.ContainsRune(s, 'T'),
	}
}

// messageName is the on-disk basename for uid/modseq, with the standard
// Maildir ":2,<flags>" info suffix appended when flags is non-empty. A
// freshly delivered, never-flagged message has no suffix and lives in new/;
// any flag change moves it to cur/ with one.
func messageName(uid store.UID, modseq store.ModSeq, flags store.Flags) string {
	base := fmt.Sprintf("%d.%d", uid, modseq)
	if fl := encodeFlags(flags); fl != "" {
		return base + ":2," + fl
	}
	return base
}

// parseMessageName extracts uid, modseq and flags back out of a basename
// produced by messageName. ok is false for any file that doesn't match the
// convention (e.g. a stray dotfile), so callers can skip it.
func parseMessageName(name string) (uid store.UID, modseq store.ModSeq, flags store.Flags, ok bool) {
	base := name
	var flagStr string
	if i := strings.Index(name, ":2,"); i >= 0 {
		base = name[:i]
		flagStr = name[i+3:]
	}
	parts := strings.SplitN(base, ".", 2)
	if len(parts) != 2 {
		return 0, 0, store.Flags{}, false
	}
	u, err1 := strconv.ParseUint(parts[0], 10, 32)
	m, err2 := strconv.ParseInt(parts[1], 10, 64)
	if err1 != nil || err2 != nil {
		return 0, 0, store.Flags{}, false
	}
	return store.UID(u), store.ModSeq(m), decodeFlags(flagStr), true
}

// keywordsPath is the sidecar holding a message's non-system keywords,
// present only when there are any.
func keywordsPath(dir, base string) string {
	return filepath.Join(dir, ".keywords", base)
}

func readKeywords(dir, base string) []string {
	b, err := os.ReadFile(keywordsPath(dir, base))
	if err != nil {
		return nil
	}
	var kw []string
	json.Unmarshal(b, &kw)
	return kw
}

func writeKeywords(dir, base string, kw []string) error {
	p := keywordsPath(dir, base)
	if len(kw) == 0 {
		err := os.Remove(p)
		if err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0770); err != nil {
		return err
	}
	b, err := json.Marshal(kw)
	if err != nil {
		return err
	}
	return os.WriteFile(p, b, 0660)
}

// messageFile locates the cur/ or new/ entry for uid within dir, searching
// both subdirectories since its flag state (and therefore location) isn't
// known in advance.
func messageFile(dir string, uid store.UID) (sub, name string, ok bool) {
	for _, sub := range []string{"new", "cur"} {
		entries, err := os.ReadDir(filepath.Join(dir, sub))
		if err != nil {
			continue
		}
		for _, e := range entries {
			u, _, _, pok := parseMessageName(e.Name())
			if pok && u == uid {
				return sub, e.Name(), true
			}
		}
	}
	return "", "", false
}

// listMessageFiles returns every message file in dir's new/ and cur/,
// sorted ascending by UID.
type fileEntry struct {
	sub  string
	name string
	uid  store.UID
	modseq store.ModSeq
	flags  store.Flags
}

func listMessageFiles(dir string) []fileEntry {
	var out []fileEntry
	for _, sub := range []string{"new", "cur"} {
		entries, err := os.ReadDir(filepath.Join(dir, sub))
		if err != nil {
			continue
		}
		for _, e := range entries {
			uid, modseq, flags, ok := parseMessageName(e.Name())
			if !ok {
				continue
			}
			out = append(out, fileEntry{sub: sub, name: e.Name(), uid: uid, modseq: modseq, flags: flags})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].uid < out[j].uid })
	return out
}
