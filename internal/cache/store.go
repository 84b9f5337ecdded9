// Package cache implements the process-wide bounded TTL cache. Values are
// stored JSON-encoded and the store is kept under a count limit and a
// cumulative byte-cost limit by evicting least-recently-used entries.
package cache

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/sirupsen/logrus"
)

const (
	DefaultCountLimit     = 500
	DefaultTotalCostLimit = 5 << 20
)

var (
	ErrCorruptedEntry = errors.New("cache entry could not be decoded")
	ErrEntryTooLarge  = errors.New("cache entry exceeds total cost limit")
)

type Options struct {
	CountLimit     int
	TotalCostLimit int64
	// Now overrides the clock used for storedAt and expiry checks.
	Now func() time.Time
}

// Info is a point-in-time view of the store size.
type Info struct {
	Count     int   `json:"count"`
	TotalSize int64 `json:"total_size"`
}

type entry struct {
	payload  []byte
	storedAt time.Time
}

type Store struct {
	mu             sync.Mutex
	entries        *simplelru.LRU[string, *entry]
	totalSize      int64
	totalCostLimit int64
	now            func() time.Time
	logger         *logrus.Logger
}

func New(opts Options, logger *logrus.Logger) *Store {
	if opts.CountLimit <= 0 {
		opts.CountLimit = DefaultCountLimit
	}
	if opts.TotalCostLimit <= 0 {
		opts.TotalCostLimit = DefaultTotalCostLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if logger == nil {
		logger = logrus.New()
	}

	s := &Store{
		totalCostLimit: opts.TotalCostLimit,
		now:            opts.Now,
		logger:         logger,
	}

	// NewLRU only fails on a non-positive size, which is ruled out above.
	entries, _ := simplelru.NewLRU[string, *entry](opts.CountLimit, s.onEvict)
	s.entries = entries
	return s
}

// onEvict runs with s.mu held; simplelru invokes it from Add, Remove,
// RemoveOldest and Purge.
func (s *Store) onEvict(key string, e *entry) {
	s.totalSize -= int64(len(e.payload))
}

// Store encodes value and saves it under key, evicting older entries when
// either bound is exceeded. Failures are logged and never reach the caller.
func (s *Store) Store(key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"key":   key,
			"error": err,
		}).Warn("Failed to encode cache value")
		return
	}

	cost := int64(len(payload))

	s.mu.Lock()
	defer s.mu.Unlock()

	if cost > s.totalCostLimit {
		// A stale value must not outlive a rejected replacement.
		s.entries.Remove(key)
		s.logger.WithFields(logrus.Fields{
			"key":   key,
			"size":  cost,
			"limit": s.totalCostLimit,
			"error": ErrEntryTooLarge,
		}).Warn("Rejected cache value")
		return
	}

	s.entries.Remove(key)
	s.entries.Add(key, &entry{payload: payload, storedAt: s.now()})
	s.totalSize += cost

	for s.totalSize > s.totalCostLimit {
		evicted, _, ok := s.entries.RemoveOldest()
		if !ok {
			break
		}
		s.logger.WithField("key", evicted).Debug("Evicted cache entry")
	}
}

// Retrieve decodes the value stored under key into out. It reports false
// when the key is absent or the payload no longer decodes, in which case
// the corrupted entry is dropped.
func (s *Store) Retrieve(key string, out any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries.Get(key)
	if !ok {
		return false
	}

	if err := json.Unmarshal(e.payload, out); err != nil {
		s.entries.Remove(key)
		s.logger.WithFields(logrus.Fields{
			"key":   key,
			"error": errors.Join(ErrCorruptedEntry, err),
		}).Warn("Removed corrupted cache entry")
		return false
	}
	return true
}

// Get is a typed convenience wrapper around Retrieve.
func Get[T any](s *Store, key string) (T, bool) {
	var value T
	if !s.Retrieve(key, &value) {
		var zero T
		return zero, false
	}
	return value, true
}

func (s *Store) Remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Remove(key)
}

func (s *Store) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries.Purge()
	s.totalSize = 0
}

// IsExpired reports whether key is absent or older than maxAge.
func (s *Store) IsExpired(key string, maxAge time.Duration) bool {
	storedAt, ok := s.StoredAt(key)
	if !ok {
		return true
	}
	return s.now().Sub(storedAt) > maxAge
}

func (s *Store) StoredAt(key string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries.Peek(key)
	if !ok {
		return time.Time{}, false
	}
	return e.storedAt, true
}

func (s *Store) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{Count: s.entries.Len(), TotalSize: s.totalSize}
}
