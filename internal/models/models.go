package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Enums
type TaskStatus string

const (
	TaskStatusPending     TaskStatus = "pending"
	TaskStatusDone        TaskStatus = "done"
	TaskStatusError       TaskStatus = "error"
	TaskStatusInterrupted TaskStatus = "interrupted"
	TaskStatusDeleted     TaskStatus = "deleted"
)

// Terminal reports whether no further progress writes are expected for s.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusDone, TaskStatusError, TaskStatusDeleted:
		return true
	}
	return false
}

type JobType string

const (
	JobTypeIngest JobType = "data-ingest"
	JobTypeRender JobType = "query-render"
)

// Scene names in presentation order. A rendered video fills these slots with
// one fragment each; ingest classifies fragments into them.
var SceneOrder = []string{
	"opening",
	"reception",
	"consultation",
	"service",
	"interior",
	"staff",
	"customer",
	"product",
	"closing",
}

// SceneCatalog maps a scene name to the description the classifier matches
// fragments against.
var SceneCatalog = map[string]string{
	"opening":      "Exterior shots, signage, front entrance, establishing views of the business",
	"reception":    "Front desk, check-in, greeting arriving customers",
	"consultation": "Staff discussing needs with a customer, one on one conversation",
	"service":      "The core service being performed for a customer",
	"interior":     "Interior spaces, rooms, equipment, ambience",
	"staff":        "Team members at work, portraits of staff",
	"customer":     "Satisfied customers, reactions, testimonials",
	"product":      "Products on display, close-ups of merchandise",
	"closing":      "Farewells, customers leaving, end-of-day shots",
}

// JSONB is a custom type for PostgreSQL JSONB columns
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, j)
}

// Models

// Task is one row of the progress ledger, keyed by SessionID. Result holds a
// JSON payload whose shape depends on JobType and Status (artifact location on
// done, cause on error). Percent is carried as text to allow fractional
// checkpoints without schema churn.
type Task struct {
	SessionID string     `json:"session_id"`
	JobType   JobType    `json:"job_type"`
	Result    string     `json:"result"`
	Percent   string     `json:"percent"`
	Status    TaskStatus `json:"status"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Fragment is one catalog row for an ingested source. A source longer than
// the pre-split ceiling yields several fragment files under the same row; the
// JSONB maps are keyed by fragment file basename.
type Fragment struct {
	ID             string    `json:"id"`
	VideoID        string    `json:"v_id"`
	Overview       string    `json:"overview"`
	Descriptions   JSONB     `json:"descriptions"`    // basename -> highlight frame description
	Paths          JSONB     `json:"paths"`           // basename -> storage key
	BackupPaths    JSONB     `json:"backup_paths"`    // basename -> backup storage key
	HighlightTimes JSONB     `json:"highlight_times"` // basename -> seconds
	Scenes         JSONB     `json:"scenes"`          // basename -> scene name
	Category       string    `json:"category"`
	CreatedAt      time.Time `json:"created_at"`
}

// Queue payloads

type IngestJob struct {
	SessionID string `json:"session_id"`
	VideoID   string `json:"video_id"`
	LocalPath string `json:"local_path"`
	Query     string `json:"query"`
	Category  string `json:"category"`
}

type RenderJob struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
	Category  string `json:"category"`
}

// DTOs for API requests and responses

type IngestRequest struct {
	SessionID string `json:"session_id"`
	VideoID   string `json:"video_id"`
	Query     string `json:"query"`
	Category  string `json:"category"`
}

type RenderRequest struct {
	SessionID string `json:"session_id"`
	Query     string `json:"query"`
	Category  string `json:"category"`
}

type SessionRequest struct {
	SessionID string `json:"session_id"`
}

type StatusResponse struct {
	SessionID string     `json:"session_id"`
	JobType   JobType    `json:"job_type"`
	Status    TaskStatus `json:"status"`
	Percent   string     `json:"percent"`
	Result    string     `json:"result,omitempty"`
}

type AcceptedResponse struct {
	SessionID string     `json:"session_id"`
	Status    TaskStatus `json:"status"`
}

type DeleteVideosRequest struct {
	VideoIDs []string `json:"video_ids"`
}
