package compensation

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Artifact kinds recorded in the journal.
const (
	KindLocal  = "local_path"
	KindObject = "object_key"
	KindIndex  = "index_id"
)

type journalEntry struct {
	Kind      string    `json:"kind"`
	Value     string    `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

// Journal is an append-only record of the artifacts a session has created,
// one JSON line per artifact, flushed as each artifact appears. If the
// process dies mid-run, the file tells a reconciler exactly what to remove.
type Journal struct {
	mu   sync.Mutex
	file *os.File
	path string
	set  *Set
}

// OpenJournal creates (or reopens) the journal for a session and binds it to
// the in-memory set, so recording an artifact hits both.
func OpenJournal(dir, sessionID string, set *Set) (*Journal, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal dir: %w", err)
	}

	path := filepath.Join(dir, sessionID+".journal")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}

	return &Journal{file: file, path: path, set: set}, nil
}

// RecordLocal registers a local file the run has created.
func (j *Journal) RecordLocal(paths ...string) error {
	j.set.AddLocal(paths...)
	return j.append(KindLocal, paths)
}

// RecordObject registers an uploaded object key.
func (j *Journal) RecordObject(keys ...string) error {
	j.set.AddRemote(keys...)
	return j.append(KindObject, keys)
}

// RecordIndexID registers an index entry.
func (j *Journal) RecordIndexID(ids ...string) error {
	j.set.AddIndexIDs(ids...)
	return j.append(KindIndex, ids)
}

func (j *Journal) append(kind string, values []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	for _, v := range values {
		line, err := json.Marshal(journalEntry{Kind: kind, Value: v, CreatedAt: time.Now()})
		if err != nil {
			return fmt.Errorf("failed to marshal journal entry: %w", err)
		}
		if _, err := j.file.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("failed to append journal entry: %w", err)
		}
	}

	return j.file.Sync()
}

// Close closes the journal file, leaving it on disk.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.file.Close()
}

// Discard closes and removes the journal. Called after a clean finish or a
// completed unwind, when nothing is left to reconcile.
func (j *Journal) Discard() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.file.Close()
	if err := os.Remove(j.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove journal: %w", err)
	}
	return nil
}

// ReadJournal loads a journal file back into a Set, for unwinding a session
// whose process did not survive to do it itself.
func ReadJournal(path string) (*Set, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	defer file.Close()

	set := NewSet()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry journalEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			// A torn final line from a crash mid-write is expected.
			continue
		}
		switch entry.Kind {
		case KindLocal:
			set.AddLocal(entry.Value)
		case KindObject:
			set.AddRemote(entry.Value)
		case KindIndex:
			set.AddIndexIDs(entry.Value)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	return set, nil
}
