package cron

import (
	"fmt"
	"os"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/openclaw/core/internal/pkg/events"
	"github.com/openclaw/core/internal/pkg/fsutil"
	"github.com/openclaw/core/internal/pkg/logs"
)

type document struct {
	Version int   `json:"version"`
	Jobs    []Job `json:"jobs"`
}

// Store provides thread-safe persistence of the job table to a single file,
// owned by the one scheduler process (§5: no cross-process locking is
// required for the cron store, unlike the session store).
type Store struct {
	path    string
	emitter *events.Emitter

	mu   sync.RWMutex
	jobs map[string]Job
}

// NewStore constructs a Store backed by path. emitter, if non-nil, receives
// a "store.reset" event on corruption recovery.
func NewStore(path string, emitter *events.Emitter) *Store {
	if emitter == nil {
		emitter = events.NewEmitter()
	}
	return &Store{path: path, emitter: emitter, jobs: make(map[string]Job)}
}

// Load reads persisted jobs from disk. Safe to call on a missing file. On a
// corrupt file it renames the file aside, emits store.reset, and starts
// empty rather than failing startup.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("cron store: read: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var doc document
	if err := sonic.Unmarshal(data, &doc); err != nil {
		asidePath, renameErr := fsutil.RenameAside(s.path)
		if renameErr != nil {
			return fmt.Errorf("cron store: unmarshal: %w (rename aside also failed: %v)", err, renameErr)
		}
		logs.Error("cron store corrupt, recreated empty: %v (moved to %s)", err, asidePath)
		s.emitter.Emit("store.reset", map[string]any{"store": "cron", "movedTo": asidePath})
		s.jobs = make(map[string]Job)
		return nil
	}

	s.jobs = make(map[string]Job, len(doc.Jobs))
	for _, j := range doc.Jobs {
		s.jobs[j.ID] = j
	}
	return nil
}

// Save writes the job table atomically (tmp + rename + best-effort .bak).
func (s *Store) Save() error {
	s.mu.RLock()
	jobs := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.RUnlock()

	data, err := sonic.Marshal(document{Version: 1, Jobs: jobs})
	if err != nil {
		return fmt.Errorf("cron store: marshal: %w", err)
	}
	return fsutil.AtomicWrite(s.path, data)
}

// Add inserts a new job, erroring if the ID already exists.
func (s *Store) Add(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("cron store: job already exists: %s", job.ID)
	}
	s.jobs[job.ID] = job
	return nil
}

// Update replaces an existing job by ID, inserting it if absent.
func (s *Store) Update(job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

// Remove deletes a job by ID.
func (s *Store) Remove(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.jobs, jobID)
}

// Get returns a job by ID.
func (s *Store) Get(jobID string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[jobID]
	return j, ok
}

// List returns every job.
func (s *Store) List() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
	}
	return out
}
