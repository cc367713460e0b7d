package session

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/gg/gmap"
	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/gzip"

	"github.com/openclaw/core/internal/coreerr"
	"github.com/openclaw/core/internal/pkg/events"
	"github.com/openclaw/core/internal/pkg/fsutil"
	"github.com/openclaw/core/internal/pkg/logs"
)

type document struct {
	Version int              `json:"version"`
	Entries map[string]Entry `json:"entries"`
}

// Store is the durable session-key → Entry map described in §4.A. It is
// safe for concurrent use by multiple goroutines within this process and, via
// its lock file, by multiple processes sharing the same path.
type Store struct {
	path     string
	lockPath string
	emitter  *events.Emitter
	lockOpts fsutil.LockOptions

	mu          sync.Mutex
	cache       map[string]Entry
	cacheModAt  time.Time
	cachedAt    time.Time
	cacheLoaded bool
}

// New constructs a Store backed by path, with its lock file at path+".lock".
// emitter, if non-nil, receives a "store.reset" event whenever corruption is
// detected and the store is recreated empty.
func New(path string, emitter *events.Emitter) *Store {
	if emitter == nil {
		emitter = events.NewEmitter()
	}
	return &Store{
		path:     path,
		lockPath: path + ".lock",
		emitter:  emitter,
		lockOpts: fsutil.LockOptions{
			RetryInterval: 25 * time.Millisecond,
			Timeout:       10 * time.Second,
			StaleAfter:    30 * time.Second,
		},
	}
}

// Load returns a deep-copy snapshot of the store. A process-wide cache with a
// 45-second TTL serves reads when the file's modification time is unchanged;
// otherwise the file is re-read.
func (s *Store) Load() (map[string]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(false)
}

// loadLocked must be called with s.mu held. When bypassCache is true (used
// by Update, which must observe the freshest on-disk state) the cache is
// always refreshed from disk.
func (s *Store) loadLocked(bypassCache bool) (map[string]Entry, error) {
	info, statErr := os.Stat(s.path)
	fileMissing := os.IsNotExist(statErr)
	if statErr != nil && !fileMissing {
		return nil, fmt.Errorf("session store: stat: %w", statErr)
	}

	if !bypassCache && s.cacheLoaded && time.Since(s.cachedAt) < cacheTTLSeconds*time.Second {
		if fileMissing || (statErr == nil && info.ModTime().Equal(s.cacheModAt)) {
			return cloneMap(s.cache), nil
		}
	}

	if fileMissing {
		s.cache = make(map[string]Entry)
		s.cacheModAt = time.Time{}
		s.cachedAt = time.Now()
		s.cacheLoaded = true
		return cloneMap(s.cache), nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("session store: read: %w", err)
	}

	var doc document
	if len(raw) > 0 {
		if err := sonic.Unmarshal(raw, &doc); err != nil {
			return s.recoverFromCorruption(err)
		}
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string]Entry)
	}

	s.cache = doc.Entries
	s.cacheModAt = info.ModTime()
	s.cachedAt = time.Now()
	s.cacheLoaded = true
	return cloneMap(s.cache), nil
}

// recoverFromCorruption implements §7's store-corruption policy: rename the
// bad file aside with a timestamp suffix, recreate empty, emit store.reset.
func (s *Store) recoverFromCorruption(cause error) (map[string]Entry, error) {
	asidePath, renameErr := fsutil.RenameAside(s.path)
	if renameErr != nil {
		return nil, fmt.Errorf("%w: %v (rename aside also failed: %v)", coreerr.ErrCorruptStore, cause, renameErr)
	}
	logs.Error("session store corrupt, recreated empty: %v (moved to %s)", cause, asidePath)
	s.emitter.Emit("store.reset", map[string]any{"store": "sessions", "movedTo": asidePath})

	s.cache = make(map[string]Entry)
	s.cacheModAt = time.Time{}
	s.cachedAt = time.Now()
	s.cacheLoaded = true
	return cloneMap(s.cache), nil
}

// Mutator is applied to the store's mutable snapshot inside Update. It may
// add, change, or remove entries; SessionID immutability and UpdatedAt
// monotonicity are enforced by Put, not by the raw map, so mutators should
// prefer Put over direct map writes.
type Mutator func(snapshot map[string]Entry) error

// Update acquires the cross-process file lock, re-reads bypassing the cache,
// runs mutator against a mutable snapshot, performs maintenance, writes
// atomically, invalidates the cache, and releases the lock.
func (s *Store) Update(mutator Mutator) error {
	unlock, err := fsutil.AcquireLock(s.lockPath, s.lockOpts)
	if err != nil && errors.Is(err, coreerr.ErrLockTimeout) {
		time.Sleep(500 * time.Millisecond)
		unlock, err = fsutil.AcquireLock(s.lockPath, s.lockOpts)
	}
	if err != nil {
		return fmt.Errorf("session store: %w", err)
	}
	defer unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot, err := s.loadLocked(true)
	if err != nil {
		return err
	}

	if err := mutator(snapshot); err != nil {
		return err
	}

	snapshot = runMaintenance(snapshot)

	raw, err := sonic.Marshal(document{Version: 1, Entries: snapshot})
	if err != nil {
		return fmt.Errorf("session store: marshal: %w", err)
	}

	if len(raw) > maxFileBytes {
		if err := archiveOldestHalf(s.path, snapshot); err != nil {
			logs.Error("session store: archive oldest half failed: %v", err)
		} else if raw, err = sonic.Marshal(document{Version: 1, Entries: snapshot}); err != nil {
			return fmt.Errorf("session store: re-marshal after rotation: %w", err)
		}
	}

	if err := fsutil.AtomicWrite(s.path, raw); err != nil {
		return fmt.Errorf("session store: write: %w", err)
	}

	info, statErr := os.Stat(s.path)
	s.cache = cloneMap(snapshot)
	if statErr == nil {
		s.cacheModAt = info.ModTime()
	}
	s.cachedAt = time.Now()
	s.cacheLoaded = true
	return nil
}

// Put inserts or updates key's entry, enforcing that SessionID is immutable
// once set and that UpdatedAtMs only moves forward.
func Put(snapshot map[string]Entry, key string, next Entry) error {
	if existing, ok := snapshot[key]; ok {
		if existing.SessionID != "" && next.SessionID != "" && existing.SessionID != next.SessionID {
			return fmt.Errorf("session store: sessionId is immutable for key %q", key)
		}
		if next.SessionID == "" {
			next.SessionID = existing.SessionID
		}
		if next.UpdatedAtMs < existing.UpdatedAtMs {
			next.UpdatedAtMs = existing.UpdatedAtMs
		}
	}
	snapshot[key] = next
	return nil
}

// runMaintenance prunes entries older than 30 days and caps the store at 500
// entries, evicting the least-recently-updated ones first.
func runMaintenance(snapshot map[string]Entry) map[string]Entry {
	cutoff := time.Now().Add(-maxAgeDays * 24 * time.Hour).UnixMilli()
	for k, e := range snapshot {
		if e.UpdatedAtMs < cutoff {
			delete(snapshot, k)
		}
	}

	if len(snapshot) <= maxEntries {
		return snapshot
	}

	type keyed struct {
		key   string
		entry Entry
	}
	ordered := gmap.ToSlice(snapshot, func(k string, v Entry) keyed { return keyed{k, v} })
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].entry.UpdatedAtMs < ordered[j].entry.UpdatedAtMs })

	evict := len(ordered) - maxEntries
	for i := 0; i < evict; i++ {
		delete(snapshot, ordered[i].key)
	}
	return snapshot
}

// archiveOldestHalf moves the least-recently-updated half of snapshot's
// entries to a gzip-compressed sibling "<path>.archive.<timestamp>.gz" file
// and removes them from snapshot, keeping the live file small once it
// exceeds maxFileBytes.
func archiveOldestHalf(path string, snapshot map[string]Entry) error {
	type keyed struct {
		key   string
		entry Entry
	}
	ordered := gmap.ToSlice(snapshot, func(k string, v Entry) keyed { return keyed{k, v} })
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].entry.UpdatedAtMs < ordered[j].entry.UpdatedAtMs })

	half := len(ordered) / 2
	archived := make(map[string]Entry, half)
	for i := 0; i < half; i++ {
		archived[ordered[i].key] = ordered[i].entry
		delete(snapshot, ordered[i].key)
	}

	raw, err := sonic.Marshal(document{Version: 1, Entries: archived})
	if err != nil {
		return fmt.Errorf("marshal archive: %w", err)
	}

	var compressed bytes.Buffer
	gw := gzip.NewWriter(&compressed)
	if _, err := gw.Write(raw); err != nil {
		return fmt.Errorf("compress archive: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("compress archive: %w", err)
	}

	archivePath := fmt.Sprintf("%s.archive.%s.gz", path, time.Now().UTC().Format("20060102T150405"))
	return fsutil.AtomicWrite(archivePath, compressed.Bytes())
}

func cloneMap(m map[string]Entry) map[string]Entry {
	out := make(map[string]Entry, len(m))
	for k, v := range m {
		out[k] = v.Clone()
	}
	return out
}

// Get is a convenience read of a single key via Load.
func (s *Store) Get(key string) (Entry, bool, error) {
	snap, err := s.Load()
	if err != nil {
		return Entry{}, false, err
	}
	e, ok := snap[key]
	return e, ok, nil
}
