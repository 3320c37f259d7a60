package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Highlight detection
// Finds the most representative moment of a fragment. The model runs behind
// its own service; when it fails the fragment midpoint is a usable stand-in.
// ---------------------------------------------------------------------------

// HighlightDetector returns the highlight timestamp of a fragment in seconds.
type HighlightDetector interface {
	DetectHighlight(ctx context.Context, objectKey, query string, durationSec float64) (float64, error)
}

type HighlightService struct {
	url    string
	client *http.Client
}

// Ensure HighlightService implements HighlightDetector at compile time.
var _ HighlightDetector = (*HighlightService)(nil)

func NewHighlightService(url string) *HighlightService {
	return &HighlightService{
		url:    strings.TrimRight(url, "/"),
		client: &http.Client{Timeout: 300 * time.Second},
	}
}

type highlightRequest struct {
	ObjectKey string `json:"object_key"`
	Query     string `json:"query"`
}

type highlightResponse struct {
	HighlightSec float64 `json:"highlight_sec"`
}

// DetectHighlight asks the model service for the highlight moment of the
// fragment stored at objectKey. On any failure the fragment midpoint is
// returned so ingest keeps moving.
func (s *HighlightService) DetectHighlight(ctx context.Context, objectKey, query string, durationSec float64) (float64, error) {
	midpoint := durationSec / 2

	reqBody, err := json.Marshal(highlightRequest{ObjectKey: objectKey, Query: query})
	if err != nil {
		return midpoint, fmt.Errorf("failed to marshal highlight request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.url+"/highlight", bytes.NewReader(reqBody))
	if err != nil {
		return midpoint, fmt.Errorf("failed to create highlight request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		log.Printf("[Highlight] Detection failed for %s, falling back to midpoint %.1fs: %v", objectKey, midpoint, err)
		return midpoint, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		log.Printf("[Highlight] Service returned status %d for %s, falling back to midpoint %.1fs: %s",
			resp.StatusCode, objectKey, midpoint, string(body))
		return midpoint, nil
	}

	var result highlightResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		log.Printf("[Highlight] Bad response for %s, falling back to midpoint %.1fs: %v", objectKey, midpoint, err)
		return midpoint, nil
	}

	if result.HighlightSec < 0 || result.HighlightSec > durationSec {
		log.Printf("[Highlight] Out-of-range highlight %.1fs for %s, falling back to midpoint %.1fs",
			result.HighlightSec, objectKey, midpoint)
		return midpoint, nil
	}

	return result.HighlightSec, nil
}
