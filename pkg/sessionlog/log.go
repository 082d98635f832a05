// Package sessionlog records the operations attempted during one console session.
package sessionlog

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/polisai/crdp-orchestrator/pkg/domain"
)

// Log is a thread-safe, append-only sequence of entries. Entries are never edited or
// removed individually; Clear drops all of them at once.
type Log struct {
	mu      sync.RWMutex
	entries []domain.LogEntry
	now     func() time.Time
}

// Record describes one entry to append.
type Record struct {
	Stage    domain.Stage
	Request  any
	Response any
	Err      error
	Debug    json.RawMessage
}

// New creates an empty session log.
func New() *Log {
	return &Log{now: time.Now}
}

// Append adds an entry at the end of the log and returns it.
func (l *Log) Append(rec Record) domain.LogEntry {
	entry := domain.LogEntry{
		ID:       uuid.NewString(),
		Stage:    rec.Stage,
		Request:  rec.Request,
		Response: rec.Response,
		Debug:    rec.Debug,
	}
	if rec.Err != nil {
		entry.Error = rec.Err.Error()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	entry.Time = l.now()
	l.entries = append(l.entries, entry)
	return entry
}

// Clear empties the log.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// Snapshot returns a copy of the entries in append order.
func (l *Log) Snapshot() []domain.LogEntry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.LogEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the current number of entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
