package sinks

import (
	"context"
	"sync"

	"github.com/JakeFAU/careers-crawler/internal/progress"
)

const defaultRecentCapacity = 256

// RecentSink keeps the most recent events in a fixed-size ring.
type RecentSink struct {
	mu    sync.RWMutex
	buf   []progress.Event
	next  int
	count int
}

// NewRecentSink returns a ring holding up to capacity events.
func NewRecentSink(capacity int) *RecentSink {
	if capacity <= 0 {
		capacity = defaultRecentCapacity
	}
	return &RecentSink{buf: make([]progress.Event, capacity)}
}

// Consume appends the batch, overwriting the oldest entries when full.
func (s *RecentSink) Consume(_ context.Context, batch []progress.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, evt := range batch {
		s.buf[s.next] = evt
		s.next = (s.next + 1) % len(s.buf)
		if s.count < len(s.buf) {
			s.count++
		}
	}
	return nil
}

// Recent returns up to limit events, newest first. A non-empty companyID
// filters the result to that company.
func (s *RecentSink) Recent(companyID string, limit int) []progress.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > s.count {
		limit = s.count
	}
	out := make([]progress.Event, 0, limit)
	for i := 1; i <= s.count && len(out) < limit; i++ {
		idx := (s.next - i + len(s.buf)) % len(s.buf)
		evt := s.buf[idx]
		if companyID != "" && evt.CompanyID != companyID {
			continue
		}
		out = append(out, evt)
	}
	return out
}

// Close implements the Sink interface; it performs no action.
func (s *RecentSink) Close(context.Context) error {
	return nil
}
