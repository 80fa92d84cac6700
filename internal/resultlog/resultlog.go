// Package resultlog keeps the most recent identification outcomes in memory
// for the dashboard.
package resultlog

import (
	"sync"
	"time"
)

// DefaultCapacity is the number of entries kept when none is configured.
const DefaultCapacity = 50

// DetectionResult is the outcome of one identification request. It is never
// modified after being recorded.
type DetectionResult struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Result     string    `json:"result"`
	Confidence float64   `json:"confidence"`
	ImageSize  string    `json:"image_size"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	FaceCount  int       `json:"face_count"`
	Faces      []string  `json:"faces"`
	Image      string    `json:"image,omitempty"`
}

// Log is a bounded, most-recent-first list of results.
type Log struct {
	mu       sync.Mutex
	capacity int
	entries  []DetectionResult
}

// New creates a log holding at most capacity entries. A capacity below one
// falls back to DefaultCapacity.
func New(capacity int) *Log {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	return &Log{capacity: capacity, entries: make([]DetectionResult, 0, capacity+1)}
}

// Record puts entry at the front and drops the oldest entries beyond capacity.
func (l *Log) Record(entry DetectionResult) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, DetectionResult{})
	copy(l.entries[1:], l.entries)
	l.entries[0] = entry
	if len(l.entries) > l.capacity {
		l.entries[len(l.entries)-1] = DetectionResult{}
		l.entries = l.entries[:l.capacity]
	}
}

// Recent returns a copy of the n newest entries, newest first. n <= 0 means all.
func (l *Log) Recent(n int) []DetectionResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n <= 0 || n > len(l.entries) {
		n = len(l.entries)
	}
	out := make([]DetectionResult, n)
	copy(out, l.entries[:n])
	return out
}

// Len returns the number of entries held.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Capacity returns the configured maximum length.
func (l *Log) Capacity() int {
	return l.capacity
}

// TotalFaces sums the face counts of the held entries.
func (l *Log) TotalFaces() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	total := 0
	for _, e := range l.entries {
		total += e.FaceCount
	}
	return total
}
