package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const requestTimeout = 60 * time.Second

// Client talks to the search-index service. The service owns the embedding
// model; this client only ships text and entry metadata.
type Client struct {
	url        string
	collection string
	client     *http.Client
}

type Hit struct {
	VideoID string  `json:"video_id"`
	Score   float64 `json:"score"`
}

type Entry struct {
	VideoID  string `json:"video_id"`
	Text     string `json:"text"`
	Category string `json:"category"`
}

func New(baseURL, collection string) *Client {
	return &Client{
		url:        strings.TrimRight(baseURL, "/"),
		collection: collection,
		client:     &http.Client{Timeout: requestTimeout},
	}
}

// Search returns the best-matching catalog entries for a free-text query,
// optionally filtered by category.
func (c *Client) Search(ctx context.Context, query, category string, limit int) ([]Hit, error) {
	payload := map[string]interface{}{
		"query": query,
		"limit": limit,
	}
	if category != "" {
		payload["category"] = category
	}

	var result struct {
		Hits []Hit `json:"hits"`
	}
	if err := c.post(ctx, fmt.Sprintf("/collections/%s/search", c.collection), payload, &result); err != nil {
		return nil, fmt.Errorf("index search failed: %w", err)
	}
	return result.Hits, nil
}

// Add registers one entry. Re-adding the same video ID replaces the entry.
func (c *Client) Add(ctx context.Context, entry Entry) error {
	if err := c.post(ctx, fmt.Sprintf("/collections/%s/entries", c.collection), entry, nil); err != nil {
		return fmt.Errorf("index add failed: %w", err)
	}
	return nil
}

// Delete removes entries by video ID. Unknown IDs are ignored by the service.
func (c *Client) Delete(ctx context.Context, videoIDs []string) error {
	payload := map[string]interface{}{"video_ids": videoIDs}
	if err := c.post(ctx, fmt.Sprintf("/collections/%s/entries/delete", c.collection), payload, nil); err != nil {
		return fmt.Errorf("index delete failed: %w", err)
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.url+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
