// Package history keeps the last N conversation entries of a session so a
// later connection can be seeded with them.
//
// The engine treats history as an opaque list. Persistence is delegated to a
// host-supplied [Store]; this package ships an in-memory store and the
// postgres and badger subpackages provide durable ones.
package history

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/voxbridge/pkg/wire"
)

// Entry is one transcript line.
type Entry struct {
	Role      string    `json:"role" msgpack:"role"`
	Text      string    `json:"text" msgpack:"text"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

// Store persists history under a caller-chosen key. Save replaces whatever
// was stored before.
type Store interface {
	Load(ctx context.Context, key string) ([]Entry, error)
	Save(ctx context.Context, key string, entries []Entry) error
}

// ErrEmptyKey is returned by stores when key is "".
var ErrEmptyKey = errors.New("history: empty key")

// Recent returns the last n entries of entries. n <= 0 returns nil.
func Recent(entries []Entry, n int) []Entry {
	if n <= 0 {
		return nil
	}
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	return slices.Clone(entries)
}

// ContextMessages converts entries into the Settings context block format.
func ContextMessages(entries []Entry) []wire.ContextMessage {
	if len(entries) == 0 {
		return nil
	}
	out := make([]wire.ContextMessage, 0, len(entries))
	for _, e := range entries {
		out = append(out, wire.ContextMessage{
			Type:    wire.ContextMessageHistory,
			Role:    e.Role,
			Content: e.Text,
		})
	}
	return out
}

// ── Buffer ───────────────────────────────────────────────────────────────────

// Buffer is a bounded, append-only transcript. Once full, the oldest entry is
// evicted on every append. It is not safe for concurrent use.
type Buffer struct {
	limit   int
	entries []Entry
}

// NewBuffer returns a buffer holding at most limit entries. A non-positive
// limit keeps nothing.
func NewBuffer(limit int) *Buffer {
	return &Buffer{limit: limit}
}

// Append adds e, evicting the oldest entry if the buffer is full.
func (b *Buffer) Append(e Entry) {
	if b.limit <= 0 {
		return
	}
	if len(b.entries) == b.limit {
		copy(b.entries, b.entries[1:])
		b.entries = b.entries[:len(b.entries)-1]
	}
	b.entries = append(b.entries, e)
}

// Replace discards the current contents and keeps the last limit entries of
// entries.
func (b *Buffer) Replace(entries []Entry) {
	b.entries = Recent(entries, b.limit)
}

// Entries returns a copy of the buffered entries, oldest first.
func (b *Buffer) Entries() []Entry { return slices.Clone(b.entries) }

// Len returns the number of buffered entries.
func (b *Buffer) Len() int { return len(b.entries) }

// ── MemoryStore ──────────────────────────────────────────────────────────────

// MemoryStore is a process-local [Store]. All methods are safe for concurrent
// use.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]Entry
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]Entry)}
}

// Load implements [Store]. A missing key yields an empty list.
func (s *MemoryStore) Load(_ context.Context, key string) ([]Entry, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.data[key]), nil
}

// Save implements [Store].
func (s *MemoryStore) Save(_ context.Context, key string, entries []Entry) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = slices.Clone(entries)
	return nil
}
