package docchat

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Sender tags who produced a transcript entry.
type Sender int

const (
	SenderUser Sender = iota
	SenderPeer
	// SenderSystem marks notices the session itself records, such as a
	// reply timeout.
	SenderSystem
)

// String returns the string representation of a Sender.
func (s Sender) String() string {
	switch s {
	case SenderUser:
		return "user"
	case SenderPeer:
		return "peer"
	case SenderSystem:
		return "system"
	default:
		return "unknown"
	}
}

// Entry is one immutable line of the conversation.
type Entry struct {
	ID     uuid.UUID
	Text   string
	Sender Sender
	At     time.Time
	// Late is set on peer replies that arrived after their turn timed out.
	Late bool
}

// Paragraphs splits the entry text on blank lines, trimming each paragraph
// and dropping empty ones.
func (e Entry) Paragraphs() []string {
	text := strings.ReplaceAll(e.Text, "\r\n", "\n")
	var out []string
	for _, p := range strings.Split(text, "\n\n") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Transcript is the append-only, ordered log of a conversation.
// Entries are never edited, reordered or removed.
type Transcript struct {
	mu       sync.RWMutex
	entries  []Entry
	onAppend []func(Entry)
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// OnAppend registers a callback fired after every append, in append order.
// Presentation layers use it to scroll to the latest entry.
func (t *Transcript) OnAppend(fn func(Entry)) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.onAppend = append(t.onAppend, fn)
	t.mu.Unlock()
}

// Append stores e, filling in ID and At when they are zero, and returns the
// stored entry.
func (t *Transcript) Append(e Entry) Entry {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}

	t.mu.Lock()
	t.entries = append(t.entries, e)
	listeners := t.onAppend
	t.mu.Unlock()

	for _, fn := range listeners {
		fn(e)
	}
	return e
}

// Entries returns a snapshot of the log; later appends do not affect it.
func (t *Transcript) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of entries.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Last returns the most recent entry.
func (t *Transcript) Last() (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.entries) == 0 {
		return Entry{}, false
	}
	return t.entries[len(t.entries)-1], true
}
