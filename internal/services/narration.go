package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode"
)

// ---------------------------------------------------------------------------
// Narration synthesis
// The synthesizer runs as a separate service; this client ships text and
// writes the returned audio to a local file.
// ---------------------------------------------------------------------------

// Synthesizer converts a narration line into an audio file on disk.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, outputPath string) error
}

type NarrationService struct {
	url     string
	apiKey  string
	voiceID string
	client  *http.Client
}

// Ensure NarrationService implements Synthesizer at compile time.
var _ Synthesizer = (*NarrationService)(nil)

func NewNarrationService(url, apiKey, voiceID string) *NarrationService {
	return &NarrationService{
		url:     strings.TrimRight(url, "/"),
		apiKey:  apiKey,
		voiceID: voiceID,
		client:  &http.Client{Timeout: 120 * time.Second},
	}
}

type narrationRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id,omitempty"`
}

// Synthesize sends the text to the synthesizer and writes the returned audio
// to outputPath. Latin-script words are tagged so the engine switches
// pronunciation models mid-sentence instead of spelling them out.
func (s *NarrationService) Synthesize(ctx context.Context, text, outputPath string) error {
	reqBody := narrationRequest{
		Text:    TagEnglishWords(text),
		VoiceID: s.voiceID,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal narration request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", s.url+"/synthesize", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create narration request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	log.Printf("[Narration] Synthesizing %d chars (voiceID=%s)", len(text), s.voiceID)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("narration request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("narration service returned status %d: %s", resp.StatusCode, string(body))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read narration audio: %w", err)
	}
	if len(audio) == 0 {
		return fmt.Errorf("narration service returned empty audio")
	}

	if err := os.WriteFile(outputPath, audio, 0o644); err != nil {
		return fmt.Errorf("failed to write narration audio: %w", err)
	}

	return nil
}

// TagEnglishWords wraps each run of Latin letters in an [en-us]{...} tag for
// the synthesizer's language switcher. Non-Latin text passes through.
func TagEnglishWords(text string) string {
	var b strings.Builder
	words := strings.Fields(text)
	for i, word := range words {
		if i > 0 {
			b.WriteByte(' ')
		}
		if isLatinWord(word) {
			fmt.Fprintf(&b, "[en-us]{%s}", word)
		} else {
			b.WriteString(word)
		}
	}
	return b.String()
}

func isLatinWord(word string) bool {
	hasLetter := false
	for _, r := range word {
		if unicode.IsLetter(r) {
			if r > unicode.MaxLatin1 {
				return false
			}
			hasLetter = true
		}
	}
	return hasLetter
}
