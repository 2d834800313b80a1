// Package history keeps a bounded undo/redo stack of editor states and decides
// when a change becomes a checkpoint.
//
// Strokes checkpoint immediately. Parameter edits are debounced so that a
// slider drag lands as one entry. Replaying an entry runs under Apply, which
// mutes checkpointing so undo does not record itself.
package history

import (
	"sync"
	"time"

	"github.com/chaos-io/cutout/mask"
	"github.com/chaos-io/cutout/params"
)

const (
	DefaultCapacity = 50
	DefaultWindow   = 500 * time.Millisecond
)

// Entry is one editor state. Mask must not be mutated once recorded; entries
// share snapshots freely.
type Entry struct {
	Mask   *mask.Mask
	Params params.Params
}

func (e Entry) Equal(o Entry) bool {
	if e.Params != o.Params {
		return false
	}
	return e.Mask == o.Mask || e.Mask.Equal(o.Mask)
}

type Manager struct {
	mu       sync.Mutex
	entries  []Entry
	cursor   int
	capacity int
	applying bool
	pending  *Entry
	debounce *Debouncer
}

// New returns an empty manager. Non-positive arguments select the defaults.
func New(capacity int, window time.Duration) *Manager {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Manager{
		cursor:   -1,
		capacity: capacity,
		debounce: NewDebouncer(window),
	}
}

// Record appends e after the cursor, dropping the redo tail and evicting the
// oldest entry beyond capacity. It reports false when e equals the current
// entry.
func (m *Manager) Record(e Entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recordLocked(e)
}

func (m *Manager) recordLocked(e Entry) bool {
	if m.cursor >= 0 && m.entries[m.cursor].Equal(e) {
		return false
	}
	m.entries = append(m.entries[:m.cursor+1], e)
	if over := len(m.entries) - m.capacity; over > 0 {
		m.entries = append(m.entries[:0:0], m.entries[over:]...)
	}
	m.cursor = len(m.entries) - 1
	return true
}

// Schedule records e once the debounce window passes without another
// Schedule. Only the latest entry survives.
func (m *Manager) Schedule(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applying {
		return
	}
	m.pending = &e
	m.debounce.Trigger(m.flushPending)
}

// Checkpoint records e now and discards any scheduled entry.
func (m *Manager) Checkpoint(e Entry) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.applying {
		return false
	}
	m.debounce.Cancel()
	m.pending = nil
	return m.recordLocked(e)
}

// Flush records the scheduled entry, if any, without waiting.
func (m *Manager) Flush() {
	m.debounce.Cancel()
	m.flushPending()
}

func (m *Manager) flushPending() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flushLocked()
}

func (m *Manager) flushLocked() {
	if m.pending == nil {
		return
	}
	e := *m.pending
	m.pending = nil
	m.recordLocked(e)
}

// Apply runs fn with checkpointing muted. fn must not call Undo or Redo.
func (m *Manager) Apply(fn func()) {
	m.mu.Lock()
	m.applying = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.applying = false
		m.mu.Unlock()
	}()
	fn()
}

// Undo moves the cursor back and returns the entry to restore. A scheduled
// entry is recorded first so the latest change is the one undone.
func (m *Manager) Undo() (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.debounce.Cancel()
	m.flushLocked()
	if m.cursor <= 0 {
		return Entry{}, false
	}
	m.cursor--
	return m.entries[m.cursor], true
}

func (m *Manager) Redo() (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.debounce.Cancel()
	m.flushLocked()
	if m.cursor >= len(m.entries)-1 {
		return Entry{}, false
	}
	m.cursor++
	return m.entries[m.cursor], true
}

func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil && m.cursor >= 0 && !m.entries[m.cursor].Equal(*m.pending) {
		return true
	}
	return m.cursor > 0
}

func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pending != nil && m.cursor >= 0 && !m.entries[m.cursor].Equal(*m.pending) {
		return false
	}
	return m.cursor < len(m.entries)-1
}

// Current returns the entry under the cursor.
func (m *Manager) Current() (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cursor < 0 {
		return Entry{}, false
	}
	return m.entries[m.cursor], true
}

func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Pending reports whether a scheduled entry is waiting for its window.
func (m *Manager) Pending() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pending != nil
}

// Clear empties the stack and drops the scheduled entry.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debounce.Cancel()
	m.pending = nil
	m.entries = nil
	m.cursor = -1
}

// Close stops the debounce timer. A scheduled entry is discarded.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.debounce.Cancel()
	m.pending = nil
}
