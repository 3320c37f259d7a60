package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/dxson/mmv/internal/compensation"
	"github.com/dxson/mmv/internal/db"
	"github.com/dxson/mmv/internal/index"
	"github.com/dxson/mmv/internal/models"
	"github.com/dxson/mmv/internal/queue"
	"github.com/dxson/mmv/internal/services"
	"github.com/dxson/mmv/internal/storage"
)

// Narrow views of the worker's collaborators. The concrete clients satisfy
// these; tests substitute in-memory fakes.

type Ledger interface {
	UpsertStatus(ctx context.Context, sessionID string, jobType models.JobType, result, percent string, status models.TaskStatus) error
	GetStatus(ctx context.Context, sessionID string) (*models.Task, error)
}

type Catalog interface {
	CreateFragment(ctx context.Context, f *models.Fragment) error
	GetFragmentsByVideoIDs(ctx context.Context, videoIDs []string) ([]models.Fragment, error)
	DeleteFragments(ctx context.Context, videoIDs []string) error
}

type ObjectStore interface {
	UploadFile(ctx context.Context, key, localPath, contentType string) error
	DownloadToFile(ctx context.Context, key, localPath string) error
	Delete(ctx context.Context, key string) error
	ListPrefix(ctx context.Context, prefix string) ([]string, error)
	GetPublicURL(key string) string
}

type SearchIndex interface {
	Search(ctx context.Context, query, category string, limit int) ([]index.Hit, error)
	Add(ctx context.Context, entry index.Entry) error
	Delete(ctx context.Context, videoIDs []string) error
}

type SceneSelector interface {
	ClassifyScene(ctx context.Context, description string) (string, error)
	AssignFragments(ctx context.Context, query string, candidates []services.FragmentSummary) ([]services.SceneAssignment, error)
	RewriteNarrations(ctx context.Context, query string, assigned []services.SceneNarration) ([]services.SceneNarration, error)
	WriteOverview(ctx context.Context, descriptions []string) (string, error)
}

type FrameDescriber interface {
	DescribeFrame(ctx context.Context, frameData []byte, mimeType, query string) (string, error)
}

type Media interface {
	ProbeDuration(ctx context.Context, path string) (float64, error)
	Extract(ctx context.Context, inputPath, outputPath string, start, length float64, mute, fast bool) error
	ExtractFrame(ctx context.Context, inputPath, outputPath string, atSec float64) error
	OverlayText(ctx context.Context, inputPath, outputPath, text string, textStart, textEnd float64) error
	CrossfadeConcat(ctx context.Context, clipPaths []string, outputPath string, transitionSec float64) error
	MixAudio(ctx context.Context, videoPath string, narrationPaths []string, offsetsMs []int, musicPath, outputPath string) error
	SessionDir(sessionID string) (string, error)
	Cleanup(paths ...string)
}

// Options carries the scalar knobs of a worker.
type Options struct {
	JournalDir    string
	MusicPath     string
	SceneSec      float64
	FragmentSec   float64
	TransitionSec float64
	BatchSize     int
}

type Worker struct {
	ledger    Ledger
	catalog   Catalog
	queue     *queue.Queue
	store     ObjectStore
	search    SearchIndex
	llm       SceneSelector
	vision    FrameDescriber
	synth     services.Synthesizer
	highlight services.HighlightDetector
	media     Media
	comp      *compensation.Manager
	registry  *CancelRegistry
	opts      Options
}

func New(
	ledger Ledger,
	catalog Catalog,
	q *queue.Queue,
	store ObjectStore,
	search SearchIndex,
	llm SceneSelector,
	vision FrameDescriber,
	synth services.Synthesizer,
	highlight services.HighlightDetector,
	media Media,
	opts Options,
) *Worker {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 5
	}
	return &Worker{
		ledger:    ledger,
		catalog:   catalog,
		queue:     q,
		store:     store,
		search:    search,
		llm:       llm,
		vision:    vision,
		synth:     synth,
		highlight: highlight,
		media:     media,
		comp:      compensation.NewManager(store, search),
		registry:  NewCancelRegistry(),
		opts:      opts,
	}
}

// Start begins processing jobs from both queues
func (w *Worker) Start(ctx context.Context, concurrency int) {
	log.Printf("Worker started with concurrency: %d", concurrency)

	for i := 0; i < concurrency; i++ {
		go w.processQueue(ctx, queue.QueueIngest, w.handleIngest)
		go w.processQueue(ctx, queue.QueueRender, w.handleRender)
	}

	<-ctx.Done()
	log.Println("Worker shutting down...")
}

func (w *Worker) processQueue(ctx context.Context, queueName string, handler func(context.Context, *queue.Job) error) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
			job, err := w.queue.Dequeue(ctx, queueName, 5*time.Second)
			if err != nil {
				log.Printf("Error dequeuing from %s: %v", queueName, err)
				continue
			}

			if job == nil {
				continue // No job available, retry
			}

			log.Printf("Processing job for session %s (type: %s)", job.SessionID, job.Type)

			if err := handler(ctx, job); err != nil {
				log.Printf("Job for session %s failed: %v", job.SessionID, err)
			} else {
				log.Printf("Job for session %s finished", job.SessionID)
			}
		}
	}
}

// runSession wraps one job with the shared lifecycle: per-session cancel
// registration, the artifact journal, and the terminal ledger writes. fn
// returns the result payload stored on success.
func (w *Worker) runSession(ctx context.Context, sessionID string, jobType models.JobType, fn func(runCtx context.Context, journal *compensation.Journal, set *compensation.Set) (string, error)) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.registry.Register(sessionID, cancel)
	defer w.registry.Finish(sessionID)

	set := compensation.NewSet()
	journal, err := compensation.OpenJournal(w.opts.JournalDir, sessionID, set)
	if err != nil {
		w.ledger.UpsertStatus(ctx, sessionID, jobType, err.Error(), "0", models.TaskStatusError)
		return fmt.Errorf("failed to open artifact journal: %w", err)
	}

	result, err := fn(runCtx, journal, set)
	if err != nil {
		// Terminal writes and unwind must not be cut short by the
		// cancellation that caused them.
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cleanupCancel()

		if w.registry.Interrupted(sessionID) {
			log.Printf("[Worker] Session %s interrupted, unwinding %d artifact(s)", sessionID, set.Len())
			w.ledger.UpsertStatus(cleanupCtx, sessionID, jobType, "", "0", models.TaskStatusInterrupted)
			w.comp.Unwind(cleanupCtx, set)
			journal.Discard()
			w.ledger.UpsertStatus(cleanupCtx, sessionID, jobType, "", "0", models.TaskStatusDeleted)
			return nil
		}

		if runCtx.Err() != nil {
			// Ambient cancellation (shutdown): the session was not deleted.
			// Keep the pending row and the journal so the work can be
			// reconciled later.
			log.Printf("[Worker] Session %s stopped by shutdown, keeping journal with %d artifact(s)", sessionID, set.Len())
			journal.Close()
			return err
		}

		log.Printf("[Worker] Session %s failed, unwinding %d artifact(s): %v", sessionID, set.Len(), err)
		w.comp.Unwind(cleanupCtx, set)
		journal.Discard()
		w.ledger.UpsertStatus(cleanupCtx, sessionID, jobType, err.Error(), "0", models.TaskStatusError)
		return err
	}

	journal.Discard()
	return w.ledger.UpsertStatus(ctx, sessionID, jobType, result, "100", models.TaskStatusDone)
}

// checkpoint records stage progress. Failing to write progress is logged, not
// fatal; losing one percent update does not invalidate the work.
func (w *Worker) checkpoint(ctx context.Context, sessionID string, jobType models.JobType, percent int) {
	if err := w.ledger.UpsertStatus(ctx, sessionID, jobType, "", fmt.Sprintf("%d", percent), models.TaskStatusPending); err != nil {
		log.Printf("[Worker] Failed to write checkpoint %d for %s: %v", percent, sessionID, err)
	}
}

// stageGate is checked between stages: once the session is cancelled, no new
// stage starts.
func stageGate(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// DeleteSession interrupts a session's in-flight run and waits for its
// artifacts to be removed. Sessions whose run died with the process are
// unwound from their journal. Terminal sessions are left untouched.
func (w *Worker) DeleteSession(ctx context.Context, sessionID string, waitTimeout time.Duration) (*models.Task, error) {
	task, err := w.ledger.GetStatus(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if task.Status.Terminal() {
		return task, nil
	}

	if done, ok := w.registry.Interrupt(sessionID); ok {
		select {
		case <-done:
		case <-time.After(waitTimeout):
			return nil, fmt.Errorf("timed out waiting for session %s to unwind", sessionID)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return w.ledger.GetStatus(ctx, sessionID)
	}

	// No live run: the process that owned it is gone. Unwind from the
	// journal it left behind.
	journalPath := fmt.Sprintf("%s/%s.journal", w.opts.JournalDir, sessionID)
	if set, err := compensation.ReadJournal(journalPath); err == nil {
		w.comp.Unwind(ctx, set)
	}
	if err := w.ledger.UpsertStatus(ctx, sessionID, task.JobType, "", "0", models.TaskStatusDeleted); err != nil {
		return nil, err
	}
	return w.ledger.GetStatus(ctx, sessionID)
}

// DeleteVideos removes ingested sources entirely: their objects, their index
// entries, and their catalog rows.
func (w *Worker) DeleteVideos(ctx context.Context, videoIDs []string) error {
	fragments, err := w.catalog.GetFragmentsByVideoIDs(ctx, videoIDs)
	if err != nil {
		return fmt.Errorf("failed to load fragments: %w", err)
	}

	for _, frag := range fragments {
		for _, v := range frag.Paths {
			key, ok := v.(string)
			if !ok {
				continue
			}
			if err := w.store.Delete(ctx, key); err != nil {
				log.Printf("[Worker] Failed to delete object %s: %v", key, err)
			}
		}
		for _, v := range frag.BackupPaths {
			key, ok := v.(string)
			if !ok {
				continue
			}
			if err := w.store.Delete(ctx, key); err != nil {
				log.Printf("[Worker] Failed to delete backup %s: %v", key, err)
			}
		}

		// Sweep objects the row never recorded, e.g. from a partial ingest.
		if frag.Category != "" {
			prefix := storage.ObjectKey(frag.Category, frag.VideoID+"_")
			if keys, err := w.store.ListPrefix(ctx, prefix); err == nil {
				for _, key := range keys {
					if err := w.store.Delete(ctx, key); err != nil {
						log.Printf("[Worker] Failed to delete stray object %s: %v", key, err)
					}
				}
			}
		}
	}

	if err := w.search.Delete(ctx, videoIDs); err != nil {
		log.Printf("[Worker] Failed to delete index entries for %v: %v", videoIDs, err)
	}

	if err := w.catalog.DeleteFragments(ctx, videoIDs); err != nil {
		return fmt.Errorf("failed to delete catalog rows: %w", err)
	}

	log.Printf("[Worker] Deleted %d video(s) from catalog, storage and index", len(videoIDs))
	return nil
}

// ErrTaskNotFound re-exports the ledger sentinel so api handlers can branch
// on it without reaching into the db package.
var ErrTaskNotFound = db.ErrTaskNotFound

func marshalResult(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
