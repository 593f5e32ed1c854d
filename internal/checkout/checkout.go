// Package checkout implements the in-memory table correlating a
// user-visible decoded payload with the raw queue receipt(s) it came
// from, so Delete/Abandon/Persist can operate on the payload instead of
// the receipt. See spec.md §3 (Checkout Entry / Checkout Table) and §4.2.
package checkout

import (
	"sync"
	"time"
)

// Receipt identifies an in-flight raw message well enough to delete it.
type Receipt struct {
	ID         string
	PopReceipt string
}

// Entry is spec.md's Checkout Entry. Receipts is a stack: value-equal
// payloads dequeued more than once collapse onto one Entry, and check-in
// pops one receipt at a time (spec.md §9's Coalesced case).
type Entry struct {
	QueueName     string
	Receipts      []Receipt
	IsOverflowing bool
	DequeueCount  int64
	// WrapperBytes holds the serialized Message Wrapper for an
	// overflowing entry, so Delete can locate the referenced blob
	// without having to redecode a raw message that Get has already
	// consumed.
	WrapperBytes []byte
	// InsertionTime is the originating raw message's insertion time,
	// carried for Persist to stamp the poison record with.
	InsertionTime time.Time
}

// Table is the single mutex-guarded map from payload key to Entry.
// Callers must never hold the mutex across a remote call: copy what you
// need out of the Entry, release, then do I/O.
type Table[K comparable] struct {
	mu      sync.Mutex
	entries map[K]*Entry
}

// New creates an empty Table.
func New[K comparable]() *Table[K] {
	return &Table[K]{entries: make(map[K]*Entry)}
}

// CheckOut registers a payload as in flight. If key is already checked
// out (a value-equal payload arrived from another dequeue), the new
// receipt is appended to the existing entry's stack rather than
// replacing it.
func (t *Table[K]) CheckOut(key K, r Receipt, queue string, isOverflowing bool, dequeueCount int64, wrapperBytes []byte, insertionTime time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.entries[key]; ok {
		e.Receipts = append(e.Receipts, r)
		if dequeueCount > e.DequeueCount {
			e.DequeueCount = dequeueCount
		}
		return
	}
	t.entries[key] = &Entry{
		QueueName:     queue,
		Receipts:      []Receipt{r},
		IsOverflowing: isOverflowing,
		DequeueCount:  dequeueCount,
		WrapperBytes:  wrapperBytes,
		InsertionTime: insertionTime,
	}
}

// CheckOutRelink moves an entry checked out under oldKey (typically the
// Message Wrapper bytes) to newKey (the decoded payload), used by Get's
// second pass once an overflow blob has been fetched and decoded.
func (t *Table[K]) CheckOutRelink(oldKey, newKey K) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[oldKey]
	if !ok {
		return
	}
	delete(t.entries, oldKey)
	if existing, ok := t.entries[newKey]; ok {
		existing.Receipts = append(existing.Receipts, e.Receipts...)
		if e.DequeueCount > existing.DequeueCount {
			existing.DequeueCount = e.DequeueCount
		}
		return
	}
	t.entries[newKey] = e
}

// CheckIn pops one receipt for key. The entry is removed once its last
// receipt has been popped. ok is false if key was not checked out.
func (t *Table[K]) CheckIn(key K) (Entry, Receipt, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok || len(e.Receipts) == 0 {
		return Entry{}, Receipt{}, false
	}

	last := len(e.Receipts) - 1
	r := e.Receipts[last]
	snapshot := Entry{QueueName: e.QueueName, IsOverflowing: e.IsOverflowing, DequeueCount: e.DequeueCount, WrapperBytes: e.WrapperBytes, InsertionTime: e.InsertionTime}

	e.Receipts = e.Receipts[:last]
	if len(e.Receipts) == 0 {
		delete(t.entries, key)
	}
	return snapshot, r, true
}

// Peek reports an entry's bookkeeping, including its current dequeue
// count, without mutating the table.
func (t *Table[K]) Peek(key K) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Snapshot returns every currently checked-out key, for best-effort
// disposal-time abandon (spec.md §5, §9).
func (t *Table[K]) Snapshot() []K {
	t.mu.Lock()
	defer t.mu.Unlock()

	keys := make([]K, 0, len(t.entries))
	for k := range t.entries {
		keys = append(keys, k)
	}
	return keys
}

// Len reports how many distinct payloads are currently checked out.
func (t *Table[K]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
