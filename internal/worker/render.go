package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/dxson/mmv/internal/compensation"
	"github.com/dxson/mmv/internal/models"
	"github.com/dxson/mmv/internal/planner"
	"github.com/dxson/mmv/internal/queue"
	"github.com/dxson/mmv/internal/services"
	"github.com/dxson/mmv/internal/storage"
)

// Render checkpoints: retrieval+selection lands at 20, narration at 30, the
// per-scene renders walk 30 to 80, merge 90, mix 95, publish completes at 100.
const (
	percentSelected  = 20
	percentNarrated  = 30
	percentRendered  = 80
	percentMerged    = 90
	percentMixed     = 95
	safetyMarginSec  = 1.0
	captionLeadInSec = 0.3
)

// renderCollection is the storage folder published videos land in.
const renderCollection = "renders"

func (w *Worker) handleRender(ctx context.Context, job *queue.Job) error {
	var payload models.RenderJob
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		w.ledger.UpsertStatus(ctx, job.SessionID, models.JobTypeRender, "malformed job payload", "0", models.TaskStatusError)
		return fmt.Errorf("failed to unmarshal render payload: %w", err)
	}

	// The session may have been deleted while the job sat in the queue.
	if task, err := w.ledger.GetStatus(ctx, payload.SessionID); err == nil && task.Status.Terminal() {
		log.Printf("[Worker] Skipping render for session %s: already %s", payload.SessionID, task.Status)
		return nil
	}

	return w.runSession(ctx, payload.SessionID, models.JobTypeRender, func(runCtx context.Context, journal *compensation.Journal, set *compensation.Set) (string, error) {
		return w.renderVideo(runCtx, &payload, journal)
	})
}

func (w *Worker) renderVideo(ctx context.Context, job *models.RenderJob, journal *compensation.Journal) (string, error) {
	sessionID := job.SessionID

	dir, err := w.media.SessionDir(sessionID)
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(dir)

	// Stage 1: retrieval and scene selection
	hits, err := w.search.Search(ctx, job.Query, job.Category, 3*len(models.SceneOrder))
	if err != nil {
		return "", fmt.Errorf("retrieval failed: %w", err)
	}
	if len(hits) == 0 {
		return "", fmt.Errorf("no footage in the catalog matches the query")
	}

	videoIDs := make([]string, len(hits))
	for i, hit := range hits {
		videoIDs[i] = hit.VideoID
	}

	rows, err := w.catalog.GetFragmentsByVideoIDs(ctx, videoIDs)
	if err != nil {
		return "", fmt.Errorf("failed to load fragment rows: %w", err)
	}

	rowByVideoID := make(map[string]models.Fragment, len(rows))
	var candidates []services.FragmentSummary
	for _, row := range rows {
		rowByVideoID[row.VideoID] = row
		for basename, v := range row.Descriptions {
			desc, ok := v.(string)
			if !ok {
				continue
			}
			if scene, ok := row.Scenes[basename].(string); ok && scene != "" {
				desc = fmt.Sprintf("[%s] %s", scene, desc)
			}
			candidates = append(candidates, services.FragmentSummary{
				VideoID:     fragmentRef(row.VideoID, basename),
				Description: desc,
			})
		}
	}
	if len(candidates) == 0 {
		return "", fmt.Errorf("retrieved rows carry no fragment descriptions")
	}

	assignments, err := w.llm.AssignFragments(ctx, job.Query, candidates)
	if err != nil {
		return "", fmt.Errorf("scene selection failed: %w", err)
	}

	w.checkpoint(ctx, sessionID, models.JobTypeRender, percentSelected)
	if err := stageGate(ctx); err != nil {
		return "", err
	}

	// Stage 2: narration rewriting and synthesis
	descByRef := make(map[string]string, len(candidates))
	for _, c := range candidates {
		descByRef[c.VideoID] = c.Description
	}

	seeds := make([]services.SceneNarration, len(assignments))
	for i, a := range assignments {
		seeds[i] = services.SceneNarration{Scene: a.Scene, VideoID: a.VideoID, Text: descByRef[a.VideoID]}
	}

	narrations, err := w.llm.RewriteNarrations(ctx, job.Query, seeds)
	if err != nil {
		return "", fmt.Errorf("narration rewriting failed: %w", err)
	}

	n := len(narrations)
	narrPaths := make([]string, n)
	narrDurs := make([]float64, n)
	for i, narration := range narrations {
		narrPaths[i] = filepath.Join(dir, fmt.Sprintf("narration_%d.mp3", i))
		if err := w.synth.Synthesize(ctx, narration.Text, narrPaths[i]); err != nil {
			return "", fmt.Errorf("narration synthesis for scene %q failed: %w", narration.Scene, err)
		}
		if err := journal.RecordLocal(narrPaths[i]); err != nil {
			return "", err
		}
		narrDurs[i], err = w.media.ProbeDuration(ctx, narrPaths[i])
		if err != nil {
			return "", fmt.Errorf("failed to probe narration %d: %w", i, err)
		}
	}

	w.checkpoint(ctx, sessionID, models.JobTypeRender, percentNarrated)
	if err := stageGate(ctx); err != nil {
		return "", err
	}

	// Stage 3: per-scene extraction and caption overlay, batched
	sceneClips := make([]string, n)
	var completed int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(w.opts.BatchSize)
	for i := range narrations {
		i := i
		g.Go(func() error {
			clip, err := w.renderScene(gctx, dir, i, narrations[i], narrDurs[i], rowByVideoID, journal)
			if err != nil {
				return err
			}
			sceneClips[i] = clip

			done := atomic.AddInt32(&completed, 1)
			span := percentRendered - percentNarrated
			w.checkpoint(gctx, sessionID, models.JobTypeRender, percentNarrated+span*int(done)/n)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}
	if err := stageGate(ctx); err != nil {
		return "", err
	}

	// Stage 4: crossfade merge
	merged := filepath.Join(dir, "merged.mp4")
	if err := w.media.CrossfadeConcat(ctx, sceneClips, merged, w.opts.TransitionSec); err != nil {
		return "", fmt.Errorf("crossfade merge failed: %w", err)
	}
	if err := journal.RecordLocal(merged); err != nil {
		return "", err
	}

	w.checkpoint(ctx, sessionID, models.JobTypeRender, percentMerged)
	if err := stageGate(ctx); err != nil {
		return "", err
	}

	// Stage 5: audio mix. Scene i starts at the merged-timeline offset of all
	// earlier scenes minus the transition overlap consumed at each cut.
	offsetsMs := make([]int, n)
	cursor := 0.0
	for i := range sceneClips {
		offsetsMs[i] = int(cursor * 1000)
		clipLen, err := w.media.ProbeDuration(ctx, sceneClips[i])
		if err != nil {
			return "", fmt.Errorf("failed to probe scene clip %d: %w", i, err)
		}
		cursor += clipLen - w.opts.TransitionSec
	}

	final := filepath.Join(dir, "final.mp4")
	if err := w.media.MixAudio(ctx, merged, narrPaths, offsetsMs, w.opts.MusicPath, final); err != nil {
		return "", fmt.Errorf("audio mix failed: %w", err)
	}
	if err := journal.RecordLocal(final); err != nil {
		return "", err
	}

	w.checkpoint(ctx, sessionID, models.JobTypeRender, percentMixed)
	if err := stageGate(ctx); err != nil {
		return "", err
	}

	// Stage 6: publish
	key := storage.ObjectKey(renderCollection, sessionID+".mp4")
	if err := w.store.UploadFile(ctx, key, final, "video/mp4"); err != nil {
		return "", fmt.Errorf("failed to publish video: %w", err)
	}
	if err := journal.RecordObject(key); err != nil {
		return "", err
	}

	log.Printf("[Worker] Session %s published %d-scene video as %s", sessionID, n, key)

	return marshalResult(map[string]string{
		"object_key": key,
		"url":        w.store.GetPublicURL(key),
	}), nil
}

// renderScene produces the captioned video clip for one scene slot.
func (w *Worker) renderScene(ctx context.Context, dir string, i int, narration services.SceneNarration, narrDur float64, rows map[string]models.Fragment, journal *compensation.Journal) (string, error) {
	videoID, basename, err := splitFragmentRef(narration.VideoID)
	if err != nil {
		return "", err
	}
	row, ok := rows[videoID]
	if !ok {
		return "", fmt.Errorf("scene %q references unknown video %s", narration.Scene, videoID)
	}
	key, ok := row.Paths[basename].(string)
	if !ok {
		return "", fmt.Errorf("fragment %s of video %s has no storage key", basename, videoID)
	}

	srcPath := filepath.Join(dir, fmt.Sprintf("source_%d.mp4", i))
	if err := w.store.DownloadToFile(ctx, key, srcPath); err != nil {
		return "", fmt.Errorf("failed to download fragment %s: %w", key, err)
	}
	if err := journal.RecordLocal(srcPath); err != nil {
		return "", err
	}

	fragDur, err := w.media.ProbeDuration(ctx, srcPath)
	if err != nil {
		return "", fmt.Errorf("failed to probe fragment %s: %w", key, err)
	}

	window := planner.Plan(jsonNumber(row.HighlightTimes[basename]), fragDur, narrDur, planner.Params{
		TransitionSec:   w.opts.TransitionSec,
		SafetyMarginSec: safetyMarginSec,
	})

	cutPath := srcPath
	if !window.WholeClip {
		cutPath = filepath.Join(dir, fmt.Sprintf("cut_%d.mp4", i))
		if err := w.media.Extract(ctx, srcPath, cutPath, window.Start, window.Length, true, false); err != nil {
			return "", fmt.Errorf("extraction for scene %q failed: %w", narration.Scene, err)
		}
		if err := journal.RecordLocal(cutPath); err != nil {
			return "", err
		}
	}

	// Captions hold until the narration ends, past a short lead-in.
	scenePath := filepath.Join(dir, fmt.Sprintf("scene_%d.mp4", i))
	if err := w.media.OverlayText(ctx, cutPath, scenePath, narration.Text, captionLeadInSec, captionLeadInSec+narrDur); err != nil {
		return "", fmt.Errorf("caption overlay for scene %q failed: %w", narration.Scene, err)
	}
	if err := journal.RecordLocal(scenePath); err != nil {
		return "", err
	}

	return scenePath, nil
}

// fragmentRef names one fragment file inside a catalog row.
func fragmentRef(videoID, basename string) string {
	return videoID + "#" + basename
}

func splitFragmentRef(ref string) (videoID, basename string, err error) {
	parts := strings.SplitN(ref, "#", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("malformed fragment reference %q", ref)
	}
	return parts[0], parts[1], nil
}

// jsonNumber coerces a JSONB numeric value. Postgres hands numbers back as
// float64 after unmarshalling.
func jsonNumber(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	}
	return 0
}
