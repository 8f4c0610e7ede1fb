package server

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"cbmbridge/internal/cbmerr"
)

// LogEntry records one handled request for the tool's ":trace".
type LogEntry struct {
	ID         uint64
	Time       time.Time
	Channel    byte
	Op         byte
	OpName     string
	Code       byte
	CodeName   string
	ReqBytes   int
	RespBytes  int
	DurationMs int64
	// Info is a short request summary, usually the name.
	Info string
}

func (e LogEntry) String() string {
	s := fmt.Sprintf("%s #%d %-10s ch=%-3d %s in=%d out=%d",
		e.Time.Format("15:04:05.000"), e.ID, e.OpName, e.Channel, e.CodeName, e.ReqBytes, e.RespBytes)
	if e.Info != "" {
		s += " " + e.Info
	}
	return s
}

// logHub remembers the last requests. entries grows up to its capacity,
// after that head is the oldest one.
type logHub struct {
	mu      sync.Mutex
	entries []LogEntry
	head    int
	lastID  uint64
}

func newLogHub(capacity int) *logHub {
	if capacity <= 0 {
		capacity = 512
	}
	return &logHub{entries: make([]LogEntry, 0, capacity)}
}

func (h *logHub) add(e LogEntry) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.lastID++
	e.ID = h.lastID
	if len(h.entries) < cap(h.entries) {
		h.entries = append(h.entries, e)
		return
	}
	h.entries[h.head] = e
	h.head = (h.head + 1) % len(h.entries)
}

// snapshot returns the last limit entries, oldest first; limit <= 0 means
// all of them.
func (h *logHub) snapshot(limit int) []LogEntry {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := len(h.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]LogEntry, 0, limit)
	for i := n - limit; i < n; i++ {
		out = append(out, h.entries[(h.head+i)%n])
	}
	return out
}

func (h *logHub) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = h.entries[:0]
	h.head = 0
}

// LogFilter selects entries in FilteredLogs. Nil and zero fields match
// everything.
type LogFilter struct {
	Op           *byte
	Channel      *byte
	OnlyErrors   bool
	InfoContains string
	Limit        int
}

func (f LogFilter) match(e LogEntry) bool {
	switch {
	case f.Op != nil && e.Op != *f.Op:
		return false
	case f.Channel != nil && e.Channel != *f.Channel:
		return false
	case f.OnlyErrors && !cbmerr.Code(e.Code).Failed():
		return false
	case f.InfoContains != "":
		return strings.Contains(strings.ToUpper(e.Info), strings.ToUpper(f.InfoContains))
	}
	return true
}

// filtered returns the most recent entries matching f, oldest first.
func (h *logHub) filtered(f LogFilter) []LogEntry {
	var out []LogEntry
	for _, e := range h.snapshot(0) {
		if f.match(e) {
			out = append(out, e)
		}
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}
