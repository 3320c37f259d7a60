package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/dxson/mmv/internal/db"
	"github.com/dxson/mmv/internal/models"
	"github.com/dxson/mmv/internal/queue"
	"github.com/dxson/mmv/internal/worker"
)

// uploadMaxBytes caps the multipart form held in memory; larger video parts
// spill to disk.
const uploadMaxBytes = 64 << 20

// deleteWaitTimeout bounds how long a delete request waits for an in-flight
// session to unwind before reporting failure.
const deleteWaitTimeout = 2 * time.Minute

type Handler struct {
	db      *db.DB
	queue   *queue.Queue
	worker  *worker.Worker
	tempDir string
}

func NewHandler(database *db.DB, q *queue.Queue, wrk *worker.Worker, tempDir string) *Handler {
	return &Handler{
		db:      database,
		queue:   q,
		worker:  wrk,
		tempDir: tempDir,
	}
}

// Ingest handles POST /v1/ingest: a multipart form carrying the source video
// plus session metadata. The upload is staged to local disk and the heavy
// work happens on the queue.
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(uploadMaxBytes); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	req := models.IngestRequest{
		SessionID: r.FormValue("session_id"),
		VideoID:   r.FormValue("video_id"),
		Query:     r.FormValue("query"),
		Category:  r.FormValue("category"),
	}
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.VideoID == "" {
		req.VideoID = uuid.NewString()
	} else if _, err := h.db.GetFragmentByVideoID(r.Context(), req.VideoID); err == nil {
		respondError(w, http.StatusConflict, fmt.Sprintf("Video %s is already ingested", req.VideoID))
		return
	} else if !errors.Is(err, db.ErrFragmentNotFound) {
		respondError(w, http.StatusInternalServerError, "Failed to check video")
		return
	}

	if h.sessionExists(w, r, req.SessionID) {
		return
	}

	file, header, err := r.FormFile("video")
	if err != nil {
		respondError(w, http.StatusBadRequest, "video file is required")
		return
	}
	defer file.Close()

	localPath, err := h.stageUpload(file, header.Filename, req.SessionID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to store upload")
		return
	}

	if err := h.db.UpsertStatus(r.Context(), req.SessionID, models.JobTypeIngest, "", "0", models.TaskStatusPending); err != nil {
		os.Remove(localPath)
		respondError(w, http.StatusInternalServerError, "Failed to record task")
		return
	}

	job := &models.IngestJob{
		SessionID: req.SessionID,
		VideoID:   req.VideoID,
		LocalPath: localPath,
		Query:     req.Query,
		Category:  req.Category,
	}
	if err := h.queue.EnqueueIngest(r.Context(), job); err != nil {
		os.Remove(localPath)
		h.db.UpsertStatus(r.Context(), req.SessionID, models.JobTypeIngest, "failed to enqueue", "0", models.TaskStatusError)
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	respondJSON(w, http.StatusAccepted, models.AcceptedResponse{
		SessionID: req.SessionID,
		Status:    models.TaskStatusPending,
	})
}

// Render handles POST /v1/render
func (h *Handler) Render(w http.ResponseWriter, r *http.Request) {
	var req models.RenderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, "query is required")
		return
	}

	if h.sessionExists(w, r, req.SessionID) {
		return
	}

	if err := h.db.UpsertStatus(r.Context(), req.SessionID, models.JobTypeRender, "", "0", models.TaskStatusPending); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to record task")
		return
	}

	job := &models.RenderJob{
		SessionID: req.SessionID,
		Query:     req.Query,
		Category:  req.Category,
	}
	if err := h.queue.EnqueueRender(r.Context(), job); err != nil {
		h.db.UpsertStatus(r.Context(), req.SessionID, models.JobTypeRender, "failed to enqueue", "0", models.TaskStatusError)
		respondError(w, http.StatusInternalServerError, "Failed to enqueue job")
		return
	}

	respondJSON(w, http.StatusAccepted, models.AcceptedResponse{
		SessionID: req.SessionID,
		Status:    models.TaskStatusPending,
	})
}

// Status handles POST /v1/status
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	var req models.SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	task, err := h.db.GetStatus(r.Context(), req.SessionID)
	if err != nil {
		if errors.Is(err, db.ErrTaskNotFound) {
			respondError(w, http.StatusNotFound, "Session not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to load task")
		return
	}

	respondJSON(w, http.StatusOK, taskResponse(task))
}

// DeleteSession handles POST /v1/delete: interrupts the session's job if it
// is still running, waits for its artifacts to be unwound, and reports the
// final state.
func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	var req models.SessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.SessionID == "" {
		respondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	task, err := h.worker.DeleteSession(r.Context(), req.SessionID, deleteWaitTimeout)
	if err != nil {
		if errors.Is(err, worker.ErrTaskNotFound) {
			respondError(w, http.StatusNotFound, "Session not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "Failed to delete session")
		return
	}

	respondJSON(w, http.StatusOK, taskResponse(task))
}

// DeleteVideos handles POST /v1/videos/delete: removes ingested sources from
// storage, the search index and the catalog.
func (h *Handler) DeleteVideos(w http.ResponseWriter, r *http.Request) {
	var req models.DeleteVideosRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.VideoIDs) == 0 {
		respondError(w, http.StatusBadRequest, "video_ids is required")
		return
	}

	if err := h.worker.DeleteVideos(r.Context(), req.VideoIDs); err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to delete videos")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"deleted": len(req.VideoIDs),
	})
}

// sessionExists rejects a duplicate session id with 409. Only terminal error
// and deleted sessions may be reused.
func (h *Handler) sessionExists(w http.ResponseWriter, r *http.Request, sessionID string) bool {
	task, err := h.db.GetStatus(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, db.ErrTaskNotFound) {
			return false
		}
		respondError(w, http.StatusInternalServerError, "Failed to check session")
		return true
	}
	if task.Status == models.TaskStatusError || task.Status == models.TaskStatusDeleted {
		return false
	}
	respondError(w, http.StatusConflict, fmt.Sprintf("Session %s already exists", sessionID))
	return true
}

// stageUpload copies the uploaded video to the local staging area.
func (h *Handler) stageUpload(file io.Reader, filename, sessionID string) (string, error) {
	dir := filepath.Join(h.tempDir, "uploads")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	ext := filepath.Ext(filename)
	if ext == "" {
		ext = ".mp4"
	}
	localPath := filepath.Join(dir, sessionID+ext)

	out, err := os.Create(localPath)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, file); err != nil {
		os.Remove(localPath)
		return "", err
	}
	return localPath, nil
}

func taskResponse(task *models.Task) models.StatusResponse {
	return models.StatusResponse{
		SessionID: task.SessionID,
		JobType:   task.JobType,
		Status:    task.Status,
		Percent:   task.Percent,
		Result:    task.Result,
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// Health check. Queue depths are informational; a depth read failure does not
// make the service unhealthy.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{"status": "ok"}
	if ingestDepth, err := h.queue.GetQueueLength(r.Context(), queue.QueueIngest); err == nil {
		resp["ingest_queue"] = ingestDepth
	}
	if renderDepth, err := h.queue.GetQueueLength(r.Context(), queue.QueueRender); err == nil {
		resp["render_queue"] = renderDepth
	}
	respondJSON(w, http.StatusOK, resp)
}
