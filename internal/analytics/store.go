package analytics

import (
	"sort"
	"sync"
	"time"

	"github.com/usagekit/copilot-usage-tracker/internal/domain"
	"github.com/usagekit/copilot-usage-tracker/internal/observability"
)

// EventStore stores deduplicated usage events.
// Implementations: MemoryStore (primary), storage.BoltStore (persistent)
type EventStore interface {
	// Add ingests a batch of events. The batch is sorted by timestamp
	// ascending before deduplication; events whose ID was seen before
	// are dropped (first occurrence wins). Returns the number of
	// events actually stored.
	Add(events []domain.UsageEvent) (int, error)

	// Query returns stored events with from <= timestamp < to,
	// sorted by timestamp ascending.
	Query(from, to time.Time) ([]domain.UsageEvent, error)

	// All returns a snapshot of every stored event.
	All() ([]domain.UsageEvent, error)

	// Len returns the number of stored events.
	Len() int

	// Clear removes all stored events and forgets seen IDs.
	Clear() error

	// Close releases any resources held by the store.
	Close() error
}

// MemoryStore is the in-memory EventStore. Events are kept append-only;
// the seen set is the sole dedup authority and is owned exclusively by
// the store.
type MemoryStore struct {
	mu      sync.RWMutex
	events  []domain.UsageEvent
	seen    map[string]struct{}
	metrics *observability.StoreMetrics
}

// NewMemoryStore creates an empty in-memory event store. The metrics
// bundle is optional; pass nil to skip instrumentation.
func NewMemoryStore(metrics *observability.StoreMetrics) *MemoryStore {
	return &MemoryStore{
		seen:    make(map[string]struct{}),
		metrics: metrics,
	}
}

// Add sorts the batch by timestamp ascending (stable, so encounter order
// breaks ties) and appends events whose ID has not been seen yet.
func (s *MemoryStore) Add(events []domain.UsageEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	batch := make([]domain.UsageEvent, len(events))
	copy(batch, events)
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Timestamp.Before(batch[j].Timestamp)
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := 0
	for _, ev := range batch {
		if _, dup := s.seen[ev.ID]; dup {
			if s.metrics != nil {
				s.metrics.EventsDeduplicated.Inc()
			}
			continue
		}
		s.seen[ev.ID] = struct{}{}
		s.events = append(s.events, ev)
		stored++
	}

	if s.metrics != nil {
		s.metrics.EventsStored.Add(float64(stored))
		s.metrics.Size.Set(float64(len(s.events)))
	}

	return stored, nil
}

// Query returns a copy of the events with from <= timestamp < to.
// Each Add batch is sorted internally but batches arrive in any order,
// so the result is re-sorted by timestamp (stable, arrival order ties).
func (s *MemoryStore) Query(from, to time.Time) ([]domain.UsageEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []domain.UsageEvent
	for _, ev := range s.events {
		if ev.Timestamp.Before(from) {
			continue
		}
		if !ev.Timestamp.Before(to) {
			continue
		}
		result = append(result, ev)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// All returns a copy of every stored event.
func (s *MemoryStore) All() ([]domain.UsageEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.UsageEvent, len(s.events))
	copy(result, s.events)
	return result, nil
}

// Len returns the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

// Clear drops all events and the seen set.
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = nil
	s.seen = make(map[string]struct{})
	if s.metrics != nil {
		s.metrics.Size.Set(0)
	}
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}
