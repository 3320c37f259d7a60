package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/dxson/mmv/internal/models"
)

// Response schema versions. Each operation pins the schema it expects; a
// mismatched version from the model is rejected, not guessed at.
const (
	classifySchemaVersion  = 1
	assignSchemaVersion    = 1
	narrationSchemaVersion = 1
	overviewSchemaVersion  = 1
	maxNarrationWords      = 80
	maxLogLen              = 2000
)

type SceneLLM struct {
	client *openai.Client
	model  string
}

func NewSceneLLM(apiKey, model string) *SceneLLM {
	return &SceneLLM{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// FragmentSummary is what the selection prompts know about one catalog hit.
type FragmentSummary struct {
	VideoID     string `json:"video_id"`
	Description string `json:"description"`
}

// SceneAssignment pairs one scene slot with the fragment chosen to fill it.
type SceneAssignment struct {
	Scene   string `json:"scene"`
	VideoID string `json:"video_id"`
}

// SceneNarration is the rewritten voiceover line for one assigned scene.
type SceneNarration struct {
	Scene   string `json:"scene"`
	VideoID string `json:"video_id"`
	Text    string `json:"text"`
}

type classifyResponse struct {
	Version int    `json:"version"`
	Scene   string `json:"scene"`
}

type assignResponse struct {
	Version     int               `json:"version"`
	Assignments []SceneAssignment `json:"assignments"`
}

type narrationResponse struct {
	Version    int              `json:"version"`
	Narrations []SceneNarration `json:"narrations"`
}

type overviewResponse struct {
	Version  int    `json:"version"`
	Overview string `json:"overview"`
}

// ClassifyScene maps a fragment description onto one scene of the catalog.
func (s *SceneLLM) ClassifyScene(ctx context.Context, description string) (string, error) {
	systemPrompt := fmt.Sprintf(`You classify a video fragment into exactly one scene of a marketing video.

Scenes and what belongs in them:
%s

Respond as JSON: {"version": %d, "scene": "<scene name>"}
The scene value MUST be one of the listed names, verbatim.`,
		sceneCatalogPrompt(), classifySchemaVersion)

	raw, err := s.complete(ctx, systemPrompt, "Fragment description:\n"+description)
	if err != nil {
		return "", err
	}

	var resp classifyResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		logRawResponse("classify", raw, err)
		return "", fmt.Errorf("failed to parse scene classification: %w", err)
	}
	if resp.Version != classifySchemaVersion {
		return "", fmt.Errorf("scene classification schema version %d, want %d", resp.Version, classifySchemaVersion)
	}
	if _, ok := models.SceneCatalog[resp.Scene]; !ok {
		logRawResponse("classify", raw, nil)
		return "", fmt.Errorf("scene classification returned unknown scene %q", resp.Scene)
	}

	return resp.Scene, nil
}

// AssignFragments picks, for each scene slot in order, the best fragment from
// the candidates. Scenes with no suitable candidate are omitted.
func (s *SceneLLM) AssignFragments(ctx context.Context, query string, candidates []FragmentSummary) ([]SceneAssignment, error) {
	if len(candidates) == 0 {
		return nil, fmt.Errorf("no candidate fragments to assign")
	}

	candidatesJSON, err := json.Marshal(candidates)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal candidates: %w", err)
	}

	systemPrompt := fmt.Sprintf(`You cast video fragments into the scene slots of a marketing video.

Scene slots, in presentation order:
%s

Rules:
- Assign at most one fragment per scene and use each fragment at most once.
- Only assign a fragment to a scene it genuinely fits. Skip scenes with no good match.
- Keep the output in the presentation order above.

Respond as JSON: {"version": %d, "assignments": [{"scene": "...", "video_id": "..."}]}`,
		sceneCatalogPrompt(), assignSchemaVersion)

	userPrompt := fmt.Sprintf("The video is about: %q\n\nCandidate fragments:\n%s", query, string(candidatesJSON))

	raw, err := s.complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	var resp assignResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		logRawResponse("assign", raw, err)
		return nil, fmt.Errorf("failed to parse assignments: %w", err)
	}
	if resp.Version != assignSchemaVersion {
		return nil, fmt.Errorf("assignment schema version %d, want %d", resp.Version, assignSchemaVersion)
	}
	if len(resp.Assignments) == 0 {
		logRawResponse("assign", raw, nil)
		return nil, fmt.Errorf("assignment returned no scenes")
	}

	known := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		known[c.VideoID] = true
	}
	seen := make(map[string]bool)
	for i, a := range resp.Assignments {
		var bad []string
		if _, ok := models.SceneCatalog[a.Scene]; !ok {
			bad = append(bad, fmt.Sprintf("unknown scene %q", a.Scene))
		}
		if !known[a.VideoID] {
			bad = append(bad, fmt.Sprintf("unknown video_id %q", a.VideoID))
		}
		if seen[a.VideoID] {
			bad = append(bad, fmt.Sprintf("video_id %q assigned twice", a.VideoID))
		}
		seen[a.VideoID] = true
		if len(bad) > 0 {
			logRawResponse("assign", raw, nil)
			return nil, fmt.Errorf("assignment %d invalid: %s", i, strings.Join(bad, "; "))
		}
	}

	log.Printf("[SceneLLM] Assigned %d of %d scene slots", len(resp.Assignments), len(models.SceneOrder))

	return resp.Assignments, nil
}

// RewriteNarrations turns each assigned fragment's description into a short
// voiceover line serving the overall query.
func (s *SceneLLM) RewriteNarrations(ctx context.Context, query string, assigned []SceneNarration) ([]SceneNarration, error) {
	if len(assigned) == 0 {
		return nil, fmt.Errorf("no scenes to narrate")
	}

	inputJSON, err := json.Marshal(assigned)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scenes: %w", err)
	}

	systemPrompt := fmt.Sprintf(`You write the voiceover for a marketing video, one line per scene.

Rules:
- Rewrite each scene's text into natural spoken narration serving the overall topic.
- At most %d words per scene. Short, warm, conversational sentences.
- Keep every scene and video_id from the input, in the same order.
- The lines must flow as one continuous story when read back to back.

Respond as JSON: {"version": %d, "narrations": [{"scene": "...", "video_id": "...", "text": "..."}]}`,
		maxNarrationWords, narrationSchemaVersion)

	userPrompt := fmt.Sprintf("The video is about: %q\n\nScenes with raw descriptions:\n%s", query, string(inputJSON))

	raw, err := s.complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	var resp narrationResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		logRawResponse("narration", raw, err)
		return nil, fmt.Errorf("failed to parse narrations: %w", err)
	}
	if resp.Version != narrationSchemaVersion {
		return nil, fmt.Errorf("narration schema version %d, want %d", resp.Version, narrationSchemaVersion)
	}
	if len(resp.Narrations) != len(assigned) {
		logRawResponse("narration", raw, nil)
		return nil, fmt.Errorf("narration returned %d scenes, want %d", len(resp.Narrations), len(assigned))
	}

	for i, n := range resp.Narrations {
		var missing []string
		if n.Scene == "" {
			missing = append(missing, "scene")
		}
		if n.VideoID == "" {
			missing = append(missing, "video_id")
		}
		if strings.TrimSpace(n.Text) == "" {
			missing = append(missing, "text")
		}
		if len(missing) > 0 {
			logRawResponse("narration", raw, nil)
			return nil, fmt.Errorf("narration %d missing required fields: %v", i, missing)
		}
		if words := len(strings.Fields(n.Text)); words > maxNarrationWords {
			log.Printf("[SceneLLM] Narration %d is %d words, trimming to %d", i, words, maxNarrationWords)
			resp.Narrations[i].Text = strings.Join(strings.Fields(n.Text)[:maxNarrationWords], " ")
		}
	}

	return resp.Narrations, nil
}

// WriteOverview composes a one-paragraph summary of an ingested source from
// its per-fragment descriptions.
func (s *SceneLLM) WriteOverview(ctx context.Context, descriptions []string) (string, error) {
	if len(descriptions) == 0 {
		return "", fmt.Errorf("no descriptions to summarize")
	}

	systemPrompt := fmt.Sprintf(`You summarize a business's video footage in one short paragraph.

Respond as JSON: {"version": %d, "overview": "..."}`, overviewSchemaVersion)

	userPrompt := "Fragment descriptions:\n- " + strings.Join(descriptions, "\n- ")

	raw, err := s.complete(ctx, systemPrompt, userPrompt)
	if err != nil {
		return "", err
	}

	var resp overviewResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		logRawResponse("overview", raw, err)
		return "", fmt.Errorf("failed to parse overview: %w", err)
	}
	if resp.Version != overviewSchemaVersion {
		return "", fmt.Errorf("overview schema version %d, want %d", resp.Version, overviewSchemaVersion)
	}
	if strings.TrimSpace(resp.Overview) == "" {
		logRawResponse("overview", raw, nil)
		return "", fmt.Errorf("overview is empty")
	}

	return resp.Overview, nil
}

func (s *SceneLLM) complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: userPrompt,
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 0.7,
	})

	if err != nil {
		return "", fmt.Errorf("openai request failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from openai")
	}

	return resp.Choices[0].Message.Content, nil
}

func sceneCatalogPrompt() string {
	var b strings.Builder
	for _, name := range models.SceneOrder {
		fmt.Fprintf(&b, "- %s: %s\n", name, models.SceneCatalog[name])
	}
	return b.String()
}

func logRawResponse(op, raw string, err error) {
	if err != nil {
		log.Printf("[SceneLLM %s] parse failed: %v", op, err)
	}
	if len(raw) > maxLogLen {
		log.Printf("[SceneLLM %s] raw response (truncated): %s...", op, raw[:maxLogLen])
	} else {
		log.Printf("[SceneLLM %s] raw response: %s", op, raw)
	}
}
