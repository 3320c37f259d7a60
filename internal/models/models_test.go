package models

import (
	"encoding/json"
	"testing"
)

func TestJSONBMarshal(t *testing.T) {
	j := JSONB{
		"fragment_0.mp4": "staff welcoming a customer",
		"highlight":      42.5,
	}

	data, err := j.Value()
	if err != nil {
		t.Fatalf("failed to marshal JSONB: %v", err)
	}

	if data == nil {
		t.Fatal("expected non-nil data")
	}

	// Verify it's valid JSON
	var result map[string]interface{}
	if err := json.Unmarshal(data.([]byte), &result); err != nil {
		t.Fatalf("failed to unmarshal result: %v", err)
	}

	if result["fragment_0.mp4"] != "staff welcoming a customer" {
		t.Errorf("unexpected value: %v", result["fragment_0.mp4"])
	}
}

func TestJSONBScan(t *testing.T) {
	jsonData := []byte(`{"fragment_1.mp4": "front_desk/abc.mp4", "count": 3}`)

	var j JSONB
	if err := j.Scan(jsonData); err != nil {
		t.Fatalf("failed to scan: %v", err)
	}

	if j["fragment_1.mp4"] != "front_desk/abc.mp4" {
		t.Errorf("unexpected path: %v", j["fragment_1.mp4"])
	}

	if j["count"].(float64) != 3 {
		t.Errorf("expected count=3, got %v", j["count"])
	}
}

func TestTaskStatus(t *testing.T) {
	statuses := []TaskStatus{
		TaskStatusPending,
		TaskStatusDone,
		TaskStatusError,
		TaskStatusInterrupted,
		TaskStatusDeleted,
	}

	for _, status := range statuses {
		if status == "" {
			t.Errorf("empty status found")
		}
	}
}

func TestTaskStatusTerminal(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskStatusPending, false},
		{TaskStatusInterrupted, false},
		{TaskStatusDone, true},
		{TaskStatusError, true},
		{TaskStatusDeleted, true},
	}

	for _, tt := range tests {
		if got := tt.status.Terminal(); got != tt.want {
			t.Errorf("Terminal(%s) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestSceneCatalogMatchesOrder(t *testing.T) {
	if len(SceneOrder) != len(SceneCatalog) {
		t.Fatalf("order has %d scenes, catalog has %d", len(SceneOrder), len(SceneCatalog))
	}
	for _, name := range SceneOrder {
		if _, ok := SceneCatalog[name]; !ok {
			t.Errorf("scene %q missing from catalog", name)
		}
	}
}
