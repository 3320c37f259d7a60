package services

import (
	"context"
	"fmt"
	"log"
	"strings"

	"google.golang.org/genai"
)

// ---------------------------------------------------------------------------
// Frame description via Gemini
// During ingest, the highlight frame of each fragment is described so the
// fragment can be indexed, classified and narrated later.
// ---------------------------------------------------------------------------

const defaultVisionModel = "gemini-2.0-flash"

type VisionService struct {
	apiKey string
	model  string
}

func NewVisionService(apiKey, model string) *VisionService {
	if model == "" {
		model = defaultVisionModel
	}
	return &VisionService{
		apiKey: apiKey,
		model:  model,
	}
}

// DescribeFrame returns a one-to-two sentence description of what the frame
// shows, written for matching against a customer's query. query gives the
// business context the description should focus on.
func (s *VisionService) DescribeFrame(ctx context.Context, frameData []byte, mimeType, query string) (string, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  s.apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create genai client: %w", err)
	}

	prompt := fmt.Sprintf(`Describe what this video frame shows in one or two sentences.
Context: the frame comes from footage of %s.
Focus on the people, the activity and the setting. Plain prose, no preamble.`, query)

	parts := []*genai.Part{
		genai.NewPartFromBytes(frameData, mimeType),
		genai.NewPartFromText(prompt),
	}
	contents := []*genai.Content{
		genai.NewContentFromParts(parts, genai.RoleUser),
	}

	log.Printf("[Vision] Describing frame (model=%s, frameSize=%d bytes)", s.model, len(frameData))

	resp, err := client.Models.GenerateContent(ctx, s.model, contents, nil)
	if err != nil {
		return "", fmt.Errorf("frame description request failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("frame description is empty")
	}

	return text, nil
}
