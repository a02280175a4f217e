package snapshot

import (
	"sync"
	"time"

	"Attestor/internal/logger"
	"Attestor/internal/storage"
)

const (
	// defaultInterval is the default interval between snapshots.
	defaultInterval = 10 * time.Second
)

// Source reports when the snapshotted state changed.
type Source interface {
	// Version changes whenever the state is written.
	Version() uint64
}

// Manager keeps a compressed snapshot of the given prefixes, rebuilt
// periodically when the source reports new writes.
type Manager struct {
	db       *storage.Storage // db is the snapshotted store
	source   Source           // source tells when to rebuild
	prefixes [][]byte         // prefixes select the snapshotted keys
	interval time.Duration    // interval is the time between rebuild checks

	mu      sync.RWMutex // mu protects current and version
	current []byte       // current is the compressed snapshot
	version uint64       // version is the source version of current

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewManager creates a manager that snapshots prefixes of db.
func NewManager(db *storage.Storage, source Source, prefixes [][]byte, interval time.Duration) *Manager {
	if interval <= 0 {
		interval = defaultInterval
	}

	return &Manager{
		db:       db,
		source:   source,
		prefixes: prefixes,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start builds the first snapshot and begins the periodic loop.
func (m *Manager) Start() {
	m.refresh()

	m.wg.Add(1)
	go m.loop()
}

// Stop stops the loop and waits for it to finish.
func (m *Manager) Stop() {
	close(m.stop)
	m.wg.Wait()
}

// Latest returns the most recent compressed snapshot and the source
// version it was taken at. Returns nil before the first snapshot.
func (m *Manager) Latest() (data []byte, version uint64) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.current, m.version
}

// Snapshot returns the latest snapshot, building one if none exists yet.
func (m *Manager) Snapshot() ([]byte, error) {
	if data, _ := m.Latest(); data != nil {
		return data, nil
	}

	if err := m.refresh(); err != nil {
		return nil, err
	}

	data, _ := m.Latest()

	return data, nil
}

// loop runs the periodic snapshot creation.
func (m *Manager) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			m.refresh()
		}
	}
}

// refresh rebuilds the snapshot unless the source is unchanged.
func (m *Manager) refresh() error {
	version := m.source.Version()

	m.mu.RLock()
	unchanged := m.current != nil && m.version == version
	m.mu.RUnlock()

	if unchanged {
		return nil
	}

	data, err := Create(m.db, m.prefixes)
	if err != nil {
		logger.Error("create snapshot", "error", err)
		return err
	}

	compressed, err := Compress(data)
	if err != nil {
		logger.Error("compress snapshot", "error", err)
		return err
	}

	m.mu.Lock()
	m.current = compressed
	m.version = version
	m.mu.Unlock()

	logger.Debug("snapshot created",
		"version", version,
		"size", len(data),
		"compressed", len(compressed),
	)

	return nil
}
