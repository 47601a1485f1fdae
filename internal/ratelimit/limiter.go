// Package ratelimit caps send attempts per delivery configuration
// over a rolling one-hour window.
package ratelimit

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketRateWindows = []byte("rate_windows")

// Window is the rolling span used for counting attempts.
const Window = time.Hour

// Limiter tracks send attempts per configuration. Attempts are
// counted at reservation time, not on success, so a slow-failing
// endpoint cannot exceed the cap through retries. Windows survive
// restarts via bbolt.
type Limiter struct {
	db            *bolt.DB
	flushInterval time.Duration

	mu      sync.Mutex
	windows map[int64][]time.Time

	now    func() time.Time
	stopCh chan struct{}
}

// NewLimiter creates a limiter backed by the given bbolt database.
func NewLimiter(db *bolt.DB, flushInterval time.Duration) (*Limiter, error) {
	if flushInterval <= 0 {
		flushInterval = 10 * time.Second
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketRateWindows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create rate window bucket: %w", err)
	}

	l := &Limiter{
		db:            db,
		flushInterval: flushInterval,
		windows:       make(map[int64][]time.Time),
		now:           time.Now,
		stopCh:        make(chan struct{}),
	}

	if err := l.loadWindows(); err != nil {
		return nil, fmt.Errorf("failed to load rate windows: %w", err)
	}

	go l.persistLoop()

	return l, nil
}

// TryReserve records one attempt for the configuration if the rolling
// count is below limit. A false return is a deferral signal, never an
// error: the caller leaves the item queued.
func (l *Limiter) TryReserve(configID int64, limit int) bool {
	if limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	window := l.prune(configID, now)

	if len(window) >= limit {
		return false
	}

	l.windows[configID] = append(window, now)
	return true
}

// Count returns the number of attempts currently inside the window.
func (l *Limiter) Count(configID int64) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.prune(configID, l.now()))
}

// Stop stops the flush loop and persists the windows.
func (l *Limiter) Stop() error {
	close(l.stopCh)
	return l.persistWindows()
}

// prune drops attempts older than the window. Caller holds the lock.
func (l *Limiter) prune(configID int64, now time.Time) []time.Time {
	window := l.windows[configID]
	cutoff := now.Add(-Window)

	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	if i > 0 {
		window = window[i:]
		l.windows[configID] = window
	}
	return window
}

func (l *Limiter) loadWindows() error {
	return l.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateWindows)
		if bucket == nil {
			return nil
		}

		return bucket.ForEach(func(k, v []byte) error {
			id, err := strconv.ParseInt(string(k), 10, 64)
			if err != nil {
				return nil // skip invalid entries
			}
			var window []time.Time
			if err := json.Unmarshal(v, &window); err != nil {
				return nil
			}
			l.windows[id] = window
			return nil
		})
	})
}

func (l *Limiter) persistWindows() error {
	l.mu.Lock()
	snapshot := make(map[int64][]time.Time, len(l.windows))
	now := l.now()
	for id := range l.windows {
		window := l.prune(id, now)
		snapshot[id] = append([]time.Time(nil), window...)
	}
	l.mu.Unlock()

	return l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketRateWindows)
		if bucket == nil {
			return nil
		}

		for id, window := range snapshot {
			data, err := json.Marshal(window)
			if err != nil {
				continue
			}
			if err := bucket.Put([]byte(strconv.FormatInt(id, 10)), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *Limiter) persistLoop() {
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ticker.C:
			l.persistWindows()
		}
	}
}
