package sharedimage

import (
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
)

// MemoryStats is a snapshot of one client's shared image accounting.
type MemoryStats struct {
	// ClientID identifies the client the memory is attributed to.
	ClientID int32

	// BudgetBytes is the configured budget, 0 when unbounded.
	BudgetBytes uint64

	// UsedBytes is the memory currently attributed to the client.
	UsedBytes uint64

	// PeakBytes is the highest UsedBytes observed.
	PeakBytes uint64

	// Allocations and Frees count tracker calls.
	Allocations uint64
	Frees       uint64

	// Utilization is UsedBytes / BudgetBytes, 0 when unbounded.
	Utilization float64
}

// String returns a human-readable string of memory stats.
func (s MemoryStats) String() string {
	if s.BudgetBytes == 0 {
		return fmt.Sprintf("Memory[client %d: %s used, %s peak, unbounded]",
			s.ClientID, humanize.IBytes(s.UsedBytes), humanize.IBytes(s.PeakBytes))
	}
	return fmt.Sprintf("Memory[client %d: %.1f%% used, %s/%s, %s peak]",
		s.ClientID,
		s.Utilization*100,
		humanize.IBytes(s.UsedBytes),
		humanize.IBytes(s.BudgetBytes),
		humanize.IBytes(s.PeakBytes))
}

// MemoryTracker attributes shared image memory to one client so memory
// pressure can be reported per client.
//
// MemoryTracker is safe for concurrent use.
type MemoryTracker struct {
	clientID        int32
	clientTracingID uint64
	budget          uint64

	mu     sync.Mutex
	used   uint64
	peak   uint64
	allocs uint64
	frees  uint64
	over   bool
}

// MemoryTrackerOption configures a MemoryTracker.
type MemoryTrackerOption func(*MemoryTracker)

// WithBudget sets a soft budget in bytes. Crossing it is logged; the
// tracker never refuses memory since it only accounts for it.
func WithBudget(bytes uint64) MemoryTrackerOption {
	return func(t *MemoryTracker) { t.budget = bytes }
}

// NewMemoryTracker creates a tracker for a client.
func NewMemoryTracker(clientID int32, clientTracingID uint64, opts ...MemoryTrackerOption) *MemoryTracker {
	t := &MemoryTracker{clientID: clientID, clientTracingID: clientTracingID}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ClientID returns the client identifier used in memory dump names. A nil
// tracker belongs to client 0.
func (t *MemoryTracker) ClientID() int32 {
	if t == nil {
		return 0
	}
	return t.clientID
}

// ClientTracingID returns the identifier used to link client dumps, or 0
// for a nil tracker.
func (t *MemoryTracker) ClientTracingID() uint64 {
	if t == nil {
		return 0
	}
	return t.clientTracingID
}

func (t *MemoryTracker) alloc(bytes uint64) {
	t.mu.Lock()
	t.used += bytes
	t.allocs++
	if t.used > t.peak {
		t.peak = t.used
	}
	crossed := t.budget > 0 && !t.over && t.used > t.budget
	if crossed {
		t.over = true
	}
	used := t.used
	t.mu.Unlock()

	if crossed {
		Logger().Warn("sharedimage: client exceeded memory budget",
			"client", t.clientID, "used", humanize.IBytes(used), "budget", humanize.IBytes(t.budget))
	}
}

func (t *MemoryTracker) free(bytes uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if bytes > t.used {
		bytes = t.used
	}
	t.used -= bytes
	t.frees++
	if t.used <= t.budget {
		t.over = false
	}
}

// OverBudget reports whether the client currently exceeds its budget.
func (t *MemoryTracker) OverBudget() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.budget > 0 && t.used > t.budget
}

// Stats returns a snapshot of the tracker.
func (t *MemoryTracker) Stats() MemoryStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := MemoryStats{
		ClientID:    t.clientID,
		BudgetBytes: t.budget,
		UsedBytes:   t.used,
		PeakBytes:   t.peak,
		Allocations: t.allocs,
		Frees:       t.frees,
	}
	if t.budget > 0 {
		s.Utilization = float64(t.used) / float64(t.budget)
	}
	return s
}

// MemoryTypeTracker attributes memory of one kind of object (here shared
// images) to a MemoryTracker and remembers how much it represents. Every
// representation is bound to one MemoryTypeTracker.
//
// A nil *MemoryTypeTracker is valid and tracks nothing.
type MemoryTypeTracker struct {
	tracker *MemoryTracker

	mu          sync.Mutex
	represented uint64
}

// NewMemoryTypeTracker returns a type tracker reporting to t, which may
// be nil.
func NewMemoryTypeTracker(t *MemoryTracker) *MemoryTypeTracker {
	return &MemoryTypeTracker{tracker: t}
}

// TrackMemAlloc records bytes now owned through this tracker.
func (t *MemoryTypeTracker) TrackMemAlloc(bytes uint64) {
	if t == nil || bytes == 0 {
		return
	}
	t.mu.Lock()
	t.represented += bytes
	t.mu.Unlock()
	if t.tracker != nil {
		t.tracker.alloc(bytes)
	}
}

// TrackMemFree releases bytes previously recorded with TrackMemAlloc.
func (t *MemoryTypeTracker) TrackMemFree(bytes uint64) {
	if t == nil || bytes == 0 {
		return
	}
	t.mu.Lock()
	if bytes > t.represented {
		bytes = t.represented
	}
	t.represented -= bytes
	t.mu.Unlock()
	if t.tracker != nil {
		t.tracker.free(bytes)
	}
}

// MemRepresented returns the bytes currently attributed through t.
func (t *MemoryTypeTracker) MemRepresented() uint64 {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.represented
}

// MemoryTracker returns the client tracker, possibly nil.
func (t *MemoryTypeTracker) MemoryTracker() *MemoryTracker {
	if t == nil {
		return nil
	}
	return t.tracker
}
