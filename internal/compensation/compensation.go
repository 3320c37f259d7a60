// Package compensation tracks artifacts created during a pipeline run and
// removes them when the run is interrupted or fails partway.
package compensation

import (
	"context"
	"log"
	"os"
	"sync"
)

// Set accumulates the artifacts one session has created so far. Safe for
// concurrent use; the render fan-out records from several goroutines.
type Set struct {
	mu       sync.Mutex
	local    []string
	remote   []string
	indexIDs []string
}

func NewSet() *Set {
	return &Set{}
}

func (s *Set) AddLocal(paths ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.local = append(s.local, paths...)
}

func (s *Set) AddRemote(keys ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remote = append(s.remote, keys...)
}

func (s *Set) AddIndexIDs(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexIDs = append(s.indexIDs, ids...)
}

func (s *Set) snapshot() (local, remote, indexIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	local = append([]string(nil), s.local...)
	remote = append([]string(nil), s.remote...)
	indexIDs = append([]string(nil), s.indexIDs...)
	return
}

// Len returns the total number of recorded artifacts.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.local) + len(s.remote) + len(s.indexIDs)
}

// ObjectDeleter removes one object-storage key. Missing keys are not errors.
type ObjectDeleter interface {
	Delete(ctx context.Context, key string) error
}

// IndexDeleter removes search-index entries by ID. Unknown IDs are ignored.
type IndexDeleter interface {
	Delete(ctx context.Context, ids []string) error
}

// Manager unwinds recorded artifacts: local files first, then remote objects,
// then index entries. Local removal can never be blocked by a network fault,
// and index entries go last so a searchable entry never outlives its object.
type Manager struct {
	objects ObjectDeleter
	index   IndexDeleter
}

func NewManager(objects ObjectDeleter, index IndexDeleter) *Manager {
	return &Manager{objects: objects, index: index}
}

// Unwind removes every artifact in the set. Failures on individual items are
// logged and skipped; the rest of the set is still processed. Running the same
// unwind twice is harmless.
func (m *Manager) Unwind(ctx context.Context, set *Set) {
	local, remote, indexIDs := set.snapshot()

	for _, path := range local {
		// Local artifacts may be files or whole session directories.
		if err := os.RemoveAll(path); err != nil {
			log.Printf("[Compensation] Failed to remove local path %s: %v", path, err)
		}
	}

	for _, key := range remote {
		if err := m.objects.Delete(ctx, key); err != nil {
			log.Printf("[Compensation] Failed to delete object %s: %v", key, err)
		}
	}

	if len(indexIDs) > 0 {
		if err := m.index.Delete(ctx, indexIDs); err != nil {
			log.Printf("[Compensation] Failed to delete %d index entries: %v", len(indexIDs), err)
		}
	}
}
