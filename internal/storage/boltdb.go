// Package storage provides the persistent event store backed by BoltDB.
// It is an optional drop-in for the in-memory store: events survive
// restarts, and the content-hash IDs make re-ingesting old log files a
// no-op.
package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.etcd.io/bbolt"

	"github.com/usagekit/copilot-usage-tracker/internal/domain"
	"github.com/usagekit/copilot-usage-tracker/internal/observability"
)

const bucketName = "events"

// BoltStore implements analytics.EventStore on a BoltDB file. Keys are
// event IDs, so bucket membership doubles as the dedup set.
type BoltStore struct {
	db      *bbolt.DB
	logger  zerolog.Logger
	metrics *observability.StoreMetrics
}

// NewBoltStore opens (or creates) the event database at dbPath. The
// metrics bundle is optional; pass nil to skip instrumentation.
func NewBoltStore(dbPath string, metrics *observability.StoreMetrics) (*BoltStore, error) {
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{
		Timeout: 1 * time.Second,
	})
	if err != nil {
		// A locked file usually means another tracker process is
		// still holding it.
		return nil, fmt.Errorf("failed to open boltdb (file may be locked by another process): %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create bucket: %w", err)
	}

	s := &BoltStore{
		db:      db,
		logger:  observability.Component("storage"),
		metrics: metrics,
	}

	if metrics != nil {
		metrics.Size.Set(float64(s.Len()))
	}

	s.logger.Info().
		Str("db_path", dbPath).
		Int("events", s.Len()).
		Msg("BoltDB event store opened")

	return s, nil
}

// Add sorts the batch by timestamp ascending and writes events whose ID
// is not yet a key in the bucket. Returns the number of events written.
func (s *BoltStore) Add(events []domain.UsageEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	batch := make([]domain.UsageEvent, len(events))
	copy(batch, events)
	sort.SliceStable(batch, func(i, j int) bool {
		return batch[i].Timestamp.Before(batch[j].Timestamp)
	})

	stored := 0
	duplicates := 0
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		for _, ev := range batch {
			key := []byte(ev.ID)
			if b.Get(key) != nil {
				duplicates++
				continue
			}

			val, err := json.Marshal(ev)
			if err != nil {
				return fmt.Errorf("failed to encode event %s: %w", ev.ID, err)
			}
			if err := b.Put(key, val); err != nil {
				return fmt.Errorf("failed to store event %s: %w", ev.ID, err)
			}
			stored++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to add events: %w", err)
	}

	if s.metrics != nil {
		s.metrics.EventsStored.Add(float64(stored))
		s.metrics.EventsDeduplicated.Add(float64(duplicates))
		s.metrics.Size.Set(float64(s.Len()))
	}

	s.logger.Debug().
		Int("stored", stored).
		Int("duplicates", duplicates).
		Msg("Event batch written")

	return stored, nil
}

// Query returns stored events with from <= timestamp < to, sorted by
// timestamp ascending.
func (s *BoltStore) Query(from, to time.Time) ([]domain.UsageEvent, error) {
	var result []domain.UsageEvent

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		return b.ForEach(func(k, v []byte) error {
			var ev domain.UsageEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				// A corrupt value is skipped, not fatal.
				s.logger.Warn().Str("id", string(k)).Err(err).Msg("Skipping undecodable event")
				return nil
			}
			if ev.Timestamp.Before(from) || !ev.Timestamp.Before(to) {
				return nil
			}
			result = append(result, ev)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	sortByTimestamp(result)
	return result, nil
}

// All returns every stored event, sorted by timestamp ascending.
// Bucket iteration order is ID order, which is meaningless here.
func (s *BoltStore) All() ([]domain.UsageEvent, error) {
	var result []domain.UsageEvent

	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		if b == nil {
			return fmt.Errorf("bucket not found")
		}

		return b.ForEach(func(k, v []byte) error {
			var ev domain.UsageEvent
			if err := json.Unmarshal(v, &ev); err != nil {
				s.logger.Warn().Str("id", string(k)).Err(err).Msg("Skipping undecodable event")
				return nil
			}
			result = append(result, ev)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	sortByTimestamp(result)
	return result, nil
}

// Len returns the number of stored events.
func (s *BoltStore) Len() int {
	count := 0
	s.db.View(func(tx *bbolt.Tx) error {
		if b := tx.Bucket([]byte(bucketName)); b != nil {
			count = b.Stats().KeyN
		}
		return nil
	})
	return count
}

// Clear drops and recreates the event bucket.
func (s *BoltStore) Clear() error {
	err := s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket([]byte(bucketName)); err != nil {
			return err
		}
		_, err := tx.CreateBucket([]byte(bucketName))
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to clear events: %w", err)
	}

	if s.metrics != nil {
		s.metrics.Size.Set(0)
	}
	return nil
}

// Close closes the underlying database.
func (s *BoltStore) Close() error {
	s.logger.Info().Msg("Closing BoltDB event store")
	return s.db.Close()
}

func sortByTimestamp(events []domain.UsageEvent) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}
