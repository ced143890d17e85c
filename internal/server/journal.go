package server

import (
	"sync"
	"time"
)

// DefaultJournalSize bounds the transport journal.
const DefaultJournalSize = 500

// Entry is one line of the transport journal. Direction is "tx", "rx",
// "info" or "error".
type Entry struct {
	Seq       uint64    `json:"seq"`
	Time      time.Time `json:"time"`
	Direction string    `json:"direction"`
	Text      string    `json:"text"`
}

// Journal keeps the most recent transport entries for /api/log, so a
// freshly opened page can show what happened before it connected.
type Journal struct {
	mu      sync.Mutex
	size    int
	seq     uint64
	entries []Entry
	now     func() time.Time
}

func NewJournal(size int) *Journal {
	if size <= 0 {
		size = DefaultJournalSize
	}
	return &Journal{size: size, now: time.Now}
}

// Add records an entry, dropping the oldest when full.
func (j *Journal) Add(direction, text string) Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.seq++
	e := Entry{Seq: j.seq, Time: j.now(), Direction: direction, Text: text}
	if len(j.entries) == j.size {
		copy(j.entries, j.entries[1:])
		j.entries[len(j.entries)-1] = e
	} else {
		j.entries = append(j.entries, e)
	}
	return e
}

// Entries returns a copy, oldest first.
func (j *Journal) Entries() []Entry {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Entry{}, j.entries...)
}

// Len reports the number of retained entries.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Clear drops every entry. Sequence numbers keep increasing.
func (j *Journal) Clear() {
	j.mu.Lock()
	j.entries = nil
	j.mu.Unlock()
}
