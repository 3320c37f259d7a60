package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dxson/mmv/internal/compensation"
	"github.com/dxson/mmv/internal/index"
	"github.com/dxson/mmv/internal/models"
	"github.com/dxson/mmv/internal/queue"
	"github.com/dxson/mmv/internal/storage"
)

// Ingest checkpoints: backup at 10, pre-split at 20, per-fragment analysis
// walks 20 to 85, overview at 90, catalog publish completes at 100.
const (
	percentBackedUp = 10
	percentSplit    = 20
	percentAnalyzed = 85
	percentOverview = 90

	defaultCollection = "footage"
)

func (w *Worker) handleIngest(ctx context.Context, job *queue.Job) error {
	var payload models.IngestJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		w.ledger.UpsertStatus(ctx, job.SessionID, models.JobTypeIngest, "malformed job payload", "0", models.TaskStatusError)
		return fmt.Errorf("failed to unmarshal ingest payload: %w", err)
	}

	// The session may have been deleted while the job sat in the queue.
	if task, err := w.ledger.GetStatus(ctx, payload.SessionID); err == nil && task.Status.Terminal() {
		log.Printf("[Worker] Skipping ingest for session %s: already %s", payload.SessionID, task.Status)
		return nil
	}

	return w.runSession(ctx, payload.SessionID, models.JobTypeIngest, func(runCtx context.Context, journal *compensation.Journal, set *compensation.Set) (string, error) {
		return w.ingestSource(runCtx, &payload, journal)
	})
}

// fragmentInfo collects the per-fragment analysis results before they are
// folded into the catalog row.
type fragmentInfo struct {
	basename    string
	key         string
	highlight   float64
	description string
	scene       string
}

func (w *Worker) ingestSource(ctx context.Context, job *models.IngestJob, journal *compensation.Journal) (string, error) {
	sessionID := job.SessionID
	collection := job.Category
	if collection == "" {
		collection = defaultCollection
	}

	dir, err := w.media.SessionDir(sessionID)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	// Stage 1: back up the untouched source
	srcBase := filepath.Base(job.LocalPath)
	backupKey := storage.BackupKey(collection, srcBase)
	if err := w.store.UploadFile(ctx, backupKey, job.LocalPath, "video/mp4"); err != nil {
		return "", fmt.Errorf("failed to back up source: %w", err)
	}
	if err := journal.RecordObject(backupKey); err != nil {
		return "", err
	}

	w.checkpoint(ctx, sessionID, models.JobTypeIngest, percentBackedUp)
	if err := stageGate(ctx); err != nil {
		return "", err
	}

	// Stage 2: pre-split long sources into bounded fragments
	totalDur, err := w.media.ProbeDuration(ctx, job.LocalPath)
	if err != nil {
		return "", fmt.Errorf("failed to probe source: %w", err)
	}

	var fragPaths []string
	if totalDur <= w.opts.FragmentSec {
		fragPaths = []string{job.LocalPath}
	} else {
		count := int(math.Ceil(totalDur / w.opts.FragmentSec))
		for k := 0; k < count; k++ {
			start := float64(k) * w.opts.FragmentSec
			length := math.Min(w.opts.FragmentSec, totalDur-start)
			fragPath := filepath.Join(dir, fmt.Sprintf("%s_%d.mp4", job.VideoID, k))
			if err := w.media.Extract(ctx, job.LocalPath, fragPath, start, length, false, true); err != nil {
				return "", fmt.Errorf("failed to split fragment %d: %w", k, err)
			}
			if err := journal.RecordLocal(fragPath); err != nil {
				return "", err
			}
			fragPaths = append(fragPaths, fragPath)
		}
	}

	w.checkpoint(ctx, sessionID, models.JobTypeIngest, percentSplit)
	if err := stageGate(ctx); err != nil {
		return "", err
	}

	// Stage 3: upload and analyze each fragment, batched
	infos := make([]fragmentInfo, len(fragPaths))
	var mu sync.Mutex
	var completed int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.BatchSize)
	for k, fragPath := range fragPaths {
		k, fragPath := k, fragPath
		g.Go(func() error {
			info, err := w.analyzeFragment(gctx, dir, k, fragPath, collection, job.Query, journal)
			if err != nil {
				return err
			}

			mu.Lock()
			infos[k] = info
			mu.Unlock()

			done := atomic.AddInt32(&completed, 1)
			span := percentAnalyzed - percentSplit
			w.checkpoint(gctx, sessionID, models.JobTypeIngest, percentSplit+span*int(done)/len(fragPaths))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	if err := stageGate(ctx); err != nil {
		return "", err
	}

	// Stage 4: overall description
	descriptions := make([]string, len(infos))
	for k, info := range infos {
		descriptions[k] = info.description
	}
	overview, err := w.llm.WriteOverview(ctx, descriptions)
	if err != nil {
		return "", fmt.Errorf("overview generation failed: %w", err)
	}

	w.checkpoint(ctx, sessionID, models.JobTypeIngest, percentOverview)
	if err := stageGate(ctx); err != nil {
		return "", err
	}

	// Stage 5: publish to index and catalog
	if err := w.search.Add(ctx, index.Entry{
		VideoID:  job.VideoID,
		Text:     overview,
		Category: collection,
	}); err != nil {
		return "", fmt.Errorf("failed to index source: %w", err)
	}
	if err := journal.RecordIndexID(job.VideoID); err != nil {
		return "", err
	}

	row := &models.Fragment{
		ID:             uuid.NewString(),
		VideoID:        job.VideoID,
		Overview:       overview,
		Descriptions:   models.JSONB{},
		Paths:          models.JSONB{},
		BackupPaths:    models.JSONB{srcBase: backupKey},
		HighlightTimes: models.JSONB{},
		Scenes:         models.JSONB{},
		Category:       collection,
	}
	for _, info := range infos {
		row.Descriptions[info.basename] = info.description
		row.Paths[info.basename] = info.key
		row.HighlightTimes[info.basename] = info.highlight
		if info.scene != "" {
			row.Scenes[info.basename] = info.scene
		}
	}
	if err := w.catalog.CreateFragment(ctx, row); err != nil {
		return "", fmt.Errorf("failed to create catalog row: %w", err)
	}

	os.Remove(job.LocalPath)

	log.Printf("[Worker] Session %s ingested video %s as %d fragment(s)", sessionID, job.VideoID, len(infos))

	return marshalResult(map[string]interface{}{
		"video_id":  job.VideoID,
		"fragments": len(infos),
	}), nil
}

// analyzeFragment uploads one fragment and derives its highlight moment,
// highlight-frame description, and scene.
func (w *Worker) analyzeFragment(ctx context.Context, dir string, k int, fragPath, collection, query string, journal *compensation.Journal) (fragmentInfo, error) {
	basename := filepath.Base(fragPath)
	key := storage.ObjectKey(collection, basename)

	if err := w.store.UploadFile(ctx, key, fragPath, "video/mp4"); err != nil {
		return fragmentInfo{}, fmt.Errorf("failed to upload fragment %s: %w", basename, err)
	}
	if err := journal.RecordObject(key); err != nil {
		return fragmentInfo{}, err
	}

	fragDur, err := w.media.ProbeDuration(ctx, fragPath)
	if err != nil {
		return fragmentInfo{}, fmt.Errorf("failed to probe fragment %s: %w", basename, err)
	}

	highlight, err := w.highlight.DetectHighlight(ctx, key, query, fragDur)
	if err != nil {
		return fragmentInfo{}, fmt.Errorf("highlight detection for %s failed: %w", basename, err)
	}

	framePath := filepath.Join(dir, fmt.Sprintf("frame_%d.jpg", k))
	if err := w.media.ExtractFrame(ctx, fragPath, framePath, highlight); err != nil {
		return fragmentInfo{}, fmt.Errorf("frame grab for %s failed: %w", basename, err)
	}
	if err := journal.RecordLocal(framePath); err != nil {
		return fragmentInfo{}, err
	}

	frameData, err := os.ReadFile(framePath)
	if err != nil {
		return fragmentInfo{}, fmt.Errorf("failed to read frame for %s: %w", basename, err)
	}

	description, err := w.vision.DescribeFrame(ctx, frameData, "image/jpeg", query)
	if err != nil {
		return fragmentInfo{}, fmt.Errorf("frame description for %s failed: %w", basename, err)
	}

	// Scene classification enriches selection but is not load-bearing.
	scene, err := w.llm.ClassifyScene(ctx, description)
	if err != nil {
		log.Printf("[Worker] Scene classification for %s failed, leaving untagged: %v", basename, err)
		scene = ""
	}

	return fragmentInfo{
		basename:    basename,
		key:         key,
		highlight:   highlight,
		description: description,
		scene:       scene,
	}, nil
}
