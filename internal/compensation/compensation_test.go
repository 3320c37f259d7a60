package compensation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

type fakeObjectDeleter struct {
	mu      sync.Mutex
	deleted []string
	failOn  map[string]bool
}

func (f *fakeObjectDeleter) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[key] {
		return errors.New("storage unavailable")
	}
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeIndexDeleter struct {
	deleted []string
	err     error
}

func (f *fakeIndexDeleter) Delete(ctx context.Context, ids []string) error {
	if f.err != nil {
		return f.err
	}
	f.deleted = append(f.deleted, ids...)
	return nil
}

func TestUnwindRemovesEverything(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "scene_0.mp4")
	if err := os.WriteFile(local, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	set := NewSet()
	set.AddLocal(local)
	set.AddRemote("salon/fragment_0.mp4", "salon_backup/source.mp4")
	set.AddIndexIDs("vid-1")

	objects := &fakeObjectDeleter{}
	index := &fakeIndexDeleter{}
	NewManager(objects, index).Unwind(context.Background(), set)

	if _, err := os.Stat(local); !os.IsNotExist(err) {
		t.Errorf("local file still present")
	}
	if len(objects.deleted) != 2 {
		t.Errorf("deleted %d objects, want 2", len(objects.deleted))
	}
	if len(index.deleted) != 1 || index.deleted[0] != "vid-1" {
		t.Errorf("index entries deleted: %v", index.deleted)
	}
}

func TestUnwindIdempotent(t *testing.T) {
	dir := t.TempDir()
	local := filepath.Join(dir, "gone.mp4")

	set := NewSet()
	set.AddLocal(local) // never created
	set.AddRemote("salon/gone.mp4")

	objects := &fakeObjectDeleter{}
	index := &fakeIndexDeleter{}
	m := NewManager(objects, index)

	m.Unwind(context.Background(), set)
	m.Unwind(context.Background(), set)

	// Second run deletes the same key again; the deleter treats missing
	// objects as success, so nothing blows up.
	if len(objects.deleted) != 2 {
		t.Errorf("deleted %d times, want 2", len(objects.deleted))
	}
}

func TestUnwindTolerateItemFailures(t *testing.T) {
	set := NewSet()
	set.AddRemote("a", "b", "c")
	set.AddIndexIDs("id-1")

	objects := &fakeObjectDeleter{failOn: map[string]bool{"b": true}}
	index := &fakeIndexDeleter{}
	NewManager(objects, index).Unwind(context.Background(), set)

	if len(objects.deleted) != 2 {
		t.Errorf("expected a and c deleted despite b failing, got %v", objects.deleted)
	}
	if len(index.deleted) != 1 {
		t.Errorf("index unwind skipped after object failure")
	}
}

func TestSetConcurrentAdds(t *testing.T) {
	set := NewSet()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			set.AddLocal("p")
			set.AddRemote("k")
			set.AddIndexIDs("i")
		}()
	}
	wg.Wait()

	if set.Len() != 60 {
		t.Errorf("len = %d, want 60", set.Len())
	}
}

func TestJournalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	set := NewSet()

	j, err := OpenJournal(dir, "sess-1", set)
	if err != nil {
		t.Fatal(err)
	}

	if err := j.RecordLocal("/tmp/a.mp4"); err != nil {
		t.Fatal(err)
	}
	if err := j.RecordObject("salon/a.mp4", "salon_backup/a.mp4"); err != nil {
		t.Fatal(err)
	}
	if err := j.RecordIndexID("vid-9"); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	// Both the live set and the replayed set see the same artifacts.
	if set.Len() != 4 {
		t.Errorf("live set len = %d, want 4", set.Len())
	}

	replayed, err := ReadJournal(filepath.Join(dir, "sess-1.journal"))
	if err != nil {
		t.Fatal(err)
	}
	if replayed.Len() != 4 {
		t.Errorf("replayed set len = %d, want 4", replayed.Len())
	}

	local, remote, ids := replayed.snapshot()
	if len(local) != 1 || len(remote) != 2 || len(ids) != 1 {
		t.Errorf("replayed split = %d/%d/%d, want 1/2/1", len(local), len(remote), len(ids))
	}
}

func TestJournalTornLineIgnored(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "torn.journal")
	content := `{"kind":"object_key","value":"salon/ok.mp4","created_at":"2026-01-01T00:00:00Z"}` + "\n" + `{"kind":"loc`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	set, err := ReadJournal(path)
	if err != nil {
		t.Fatal(err)
	}
	if set.Len() != 1 {
		t.Errorf("len = %d, want 1 (torn line skipped)", set.Len())
	}
}

func TestJournalDiscard(t *testing.T) {
	dir := t.TempDir()
	set := NewSet()
	j, err := OpenJournal(dir, "sess-2", set)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.RecordLocal("/tmp/x"); err != nil {
		t.Fatal(err)
	}
	if err := j.Discard(); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "sess-2.journal")); !os.IsNotExist(err) {
		t.Error("journal file still present after discard")
	}
}

func TestUnwindRemovesDirectories(t *testing.T) {
	dir := t.TempDir()
	sessDir := filepath.Join(dir, "sess-1")
	if err := os.MkdirAll(sessDir, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(sessDir, "scene_0.mp4"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	set := NewSet()
	set.AddLocal(sessDir)
	NewManager(&fakeObjectDeleter{}, &fakeIndexDeleter{}).Unwind(context.Background(), set)

	if _, err := os.Stat(sessDir); !os.IsNotExist(err) {
		t.Errorf("non-empty directory still present")
	}
}
