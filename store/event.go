package store

import (
	"sync"
	"time"

	"github.com/inkwell/mailstore/metrics"
)

// EventKind identifies what changed in an Event.
type EventKind int

const (
	EventMailboxAdded EventKind = iota
	EventMailboxDeleted
	EventMailboxRenamed
	EventMessageAdded
	EventMessageExpunged
	EventFlagsUpdated
)

// Event is a mailbox-state change notification. Not every field is
// meaningful for every Kind; see the comments on each.
type Event struct {
	Kind EventKind

	// Path is the mailbox's DispatchKey. For MailboxRenamed it is the new
	// key; OldPath carries the key listeners are already registered under.
	Path    string
	OldPath string

	// MessageAdded: UID, ModSeq, Size, InternalDate of the new message.
	UID          UID
	ModSeq       ModSeq
	Size         int64
	InternalDate time.Time

	// MessageExpunged: the removed UIDs, coalesced into contiguous runs.
	UIDRanges []UIDRange

	// FlagsUpdated.
	OldFlags Flags
	NewFlags Flags
}

func eventLabel(k EventKind) string {
	switch k {
	case EventMailboxAdded:
		return "mailbox_added"
	case EventMailboxDeleted:
		return "mailbox_deleted"
	case EventMailboxRenamed:
		return "mailbox_renamed"
	case EventMessageAdded:
		return "message_added"
	case EventMessageExpunged:
		return "message_expunged"
	case EventFlagsUpdated:
		return "flags_updated"
	}
	return "unknown"
}

// Listener receives Events for the mailbox paths it is subscribed to.
// Closed reports whether the listener has gone away (connection closed,
// session ended); a dispatcher uses it to prune stale registrations lazily,
// on the next Dispatch for that path, rather than requiring explicit
// unsubscription.
type Listener interface {
	Notify(Event)
	Closed() bool
}

// ListenerDispatcher is a per-mailbox-path registry of Listeners. One
// dispatcher is normally shared by every session on a backend.
//
// Dispatch holds the dispatcher's lock for the duration of delivering to
// every registered listener, so Listener.Notify implementations must be
// fast and non-blocking (typically: push into a buffered channel, never
// block on I/O).
type ListenerDispatcher struct {
	mu        sync.Mutex
	listeners map[string][]Listener
}

func NewListenerDispatcher() *ListenerDispatcher {
	return &ListenerDispatcher{listeners: map[string][]Listener{}}
}

// Subscribe registers l to receive events for path. Subscribing the same
// listener to the same path twice is a no-op; identity is by interface
// equality, not value.
func (d *ListenerDispatcher) Subscribe(path string, l Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.listeners[path] {
		if existing == l {
			return
		}
	}
	d.listeners[path] = append(d.listeners[path], l)
}

// Dispatch delivers ev to every live listener registered for ev.Path,
// pruning any that report Closed. MailboxDeleted drops all listeners for
// the path outright; MailboxRenamed moves them from OldPath to Path without
// notifying them (a rename isn't itself routed to listeners as content, it
// just relocates their registration).
func (d *ListenerDispatcher) Dispatch(ev Event) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch ev.Kind {
	case EventMailboxDeleted:
		delete(d.listeners, ev.Path)
		metrics.DispatchTotal.WithLabelValues(eventLabel(ev.Kind)).Inc()
		return
	case EventMailboxRenamed:
		moved := d.listeners[ev.OldPath]
		delete(d.listeners, ev.OldPath)
		if len(moved) > 0 {
			d.listeners[ev.Path] = append(d.listeners[ev.Path], moved...)
		}
		metrics.DispatchTotal.WithLabelValues(eventLabel(ev.Kind)).Inc()
		return
	}

	ls := d.listeners[ev.Path]
	kept := ls[:0]
	for _, l := range ls {
		if l.Closed() {
			metrics.ListenerPrunedTotal.Inc()
			continue
		}
		l.Notify(ev)
		kept = append(kept, l)
	}
	d.listeners[ev.Path] = kept
	metrics.DispatchTotal.WithLabelValues(eventLabel(ev.Kind)).Inc()
}
