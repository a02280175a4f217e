package relay

import (
	"sync"
	"time"

	"github.com/zeebo/blake3"
)

const (
	// defaultDedupTTL is the default time-to-live for remembered requests.
	defaultDedupTTL = 5 * time.Second

	// cleanupInterval is the interval between cleanup runs.
	cleanupInterval = 1 * time.Second
)

// Dedup remembers recently accepted requests so that a resubmission is
// answered as a replay without reaching the gateway again. Requests are
// keyed by their blake3 hash and expire after a TTL.
type Dedup struct {
	seen map[[32]byte]int64 // seen maps request hash to acceptance time (unix nano)
	mu   sync.RWMutex       // mu protects the seen map
	ttl  int64              // ttl in nanoseconds
	stop chan struct{}      // stop signals the cleanup goroutine to stop
	wg   sync.WaitGroup     // wg waits for the cleanup goroutine
}

// NewDedup creates a request cache with the given TTL, or the default when zero.
func NewDedup(ttl time.Duration) *Dedup {
	if ttl <= 0 {
		ttl = defaultDedupTTL
	}

	d := &Dedup{
		seen: make(map[[32]byte]int64),
		ttl:  int64(ttl),
		stop: make(chan struct{}),
	}

	d.startCleanup()

	return d
}

// Seen reports whether request was accepted within the TTL.
func (d *Dedup) Seen(request []byte) bool {
	hash := blake3.Sum256(request)
	now := time.Now().UnixNano()

	d.mu.RLock()
	ts, ok := d.seen[hash]
	d.mu.RUnlock()

	return ok && now-ts < d.ttl
}

// Mark remembers request as accepted.
func (d *Dedup) Mark(request []byte) {
	hash := blake3.Sum256(request)

	d.mu.Lock()
	d.seen[hash] = time.Now().UnixNano()
	d.mu.Unlock()
}

// Len returns the number of remembered requests.
func (d *Dedup) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.seen)
}

// Close stops the cleanup goroutine.
func (d *Dedup) Close() {
	close(d.stop)
	d.wg.Wait()
}

// startCleanup starts the background cleanup goroutine.
func (d *Dedup) startCleanup() {
	d.wg.Add(1)

	go func() {
		defer d.wg.Done()

		ticker := time.NewTicker(cleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				d.cleanup()
			case <-d.stop:
				return
			}
		}
	}()
}

// cleanup removes expired entries.
func (d *Dedup) cleanup() {
	now := time.Now().UnixNano()

	d.mu.Lock()

	for hash, ts := range d.seen {
		if now-ts >= d.ttl {
			delete(d.seen, hash)
		}
	}

	d.mu.Unlock()
}
