// Package transcript assembles streamed conversation fragments into an
// ordered, stable conversation log.
//
// Realtime services deliver conversation content as interleaved deltas
// keyed by item id, followed by a completion event carrying the full
// text. The Log merges those into ConversationItems, keeping items in
// first-seen order regardless of how deltas for different ids
// interleave.
package transcript

import (
	"fmt"
	"sync"
	"time"
)

// Role identifies the author of a conversation item.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Item is one entry in the conversation log. Partial is true while the
// content is still streaming and flips to false on an explicit
// completion signal. Locally authored text is final from the start.
type Item struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Content   string `json:"content"`
	Partial   bool   `json:"partial"`
	Timestamp string `json:"timestamp"`
}

// Log is the conversation transcript. All mutation goes through the
// Log; callers receive copies and never shared item pointers.
type Log struct {
	mu    sync.Mutex
	items []*Item
	index map[string]*Item
	start time.Time

	// now is the clock, injectable for tests.
	now func() time.Time
}

// NewLog creates an empty transcript. Elapsed timestamps are measured
// from this call.
func NewLog() *Log {
	l := &Log{
		index: make(map[string]*Item),
		now:   time.Now,
	}
	l.start = l.now()
	return l
}

// newLogAt creates a transcript with an injected clock.
func newLogAt(now func() time.Time) *Log {
	l := &Log{
		index: make(map[string]*Item),
		now:   now,
	}
	l.start = l.now()
	return l
}

// elapsed formats the time since the log started as mm:ss.
func (l *Log) elapsed() string {
	d := l.now().Sub(l.start)
	if d < 0 {
		d = 0
	}
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

// AppendLocal inserts a finalized item for locally authored text.
// A second call with the same id is a no-op, so optimistic local
// insertion and a later server echo cannot duplicate the message.
func (l *Log) AppendLocal(id string, role Role, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.index[id]; ok {
		return
	}
	l.insert(&Item{ID: id, Role: role, Content: text, Timestamp: l.elapsed()})
}

// ApplyDelta concatenates a streamed fragment onto the item with the
// given id, creating a partial item seeded with the fragment when the
// id is new.
func (l *Log) ApplyDelta(id string, role Role, delta string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if item, ok := l.index[id]; ok {
		item.Content += delta
		item.Partial = true
		return
	}
	l.insert(&Item{ID: id, Role: role, Content: delta, Partial: true, Timestamp: l.elapsed()})
}

// ApplyFinal replaces the item's content with the authoritative full
// text and marks it final. The item is created if it was never seen,
// which happens when the service skips deltas for short utterances.
func (l *Log) ApplyFinal(id string, role Role, text string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if item, ok := l.index[id]; ok {
		item.Content = text
		item.Partial = false
		return
	}
	l.insert(&Item{ID: id, Role: role, Content: text, Timestamp: l.elapsed()})
}

// insert appends a new item. Caller holds the lock.
func (l *Log) insert(item *Item) {
	l.items = append(l.items, item)
	l.index[item.ID] = item
}

// Get returns a copy of the item with the given id.
func (l *Log) Get(id string) (Item, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	item, ok := l.index[id]
	if !ok {
		return Item{}, false
	}
	return *item, true
}

// Items returns a snapshot of the conversation in order.
func (l *Log) Items() []Item {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]Item, len(l.items))
	for i, item := range l.items {
		out[i] = *item
	}
	return out
}

// Len returns the number of items.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Reset clears the transcript and restarts the elapsed clock. Called
// on disconnect so a new session starts from a clean log.
func (l *Log) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.items = nil
	l.index = make(map[string]*Item)
	l.start = l.now()
}
