package services

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// ---------------------------------------------------------------------------
// Transcoder: every media operation is one ffmpeg/ffprobe process
// ---------------------------------------------------------------------------

// Output normalization constants. Every segment is conformed to this geometry
// before crossfading so xfade never sees mismatched streams.
const (
	outputWidth  = 1280
	outputHeight = 720
	videoFPS     = 30

	// Caption rendering: estimated average glyph width as a fraction of the
	// font size, used to wrap text without loading font metrics.
	captionFontSize   = 42
	glyphWidthRatio   = 0.55
	captionMarginPx   = 80
	narrationVolume   = 3.5
	backgroundVolume  = 0.3
)

// Transition is a named xfade transition
type Transition string

const (
	TransitionCircleOpen Transition = "circleopen"
	TransitionFade       Transition = "fade"
	TransitionHrSlice    Transition = "hrslice"
	TransitionRadial     Transition = "radial"
)

// allTransitions is the pool from which a random transition is chosen per cut
var allTransitions = []Transition{
	TransitionCircleOpen,
	TransitionFade,
	TransitionHrSlice,
	TransitionRadial,
}

// RandomTransition picks a random crossfade transition for a cut
func RandomTransition() Transition {
	return allTransitions[rand.Intn(len(allTransitions))]
}

type Transcoder struct {
	tempDir string
}

func NewTranscoder(tempDir string) *Transcoder {
	// Create temp directory if it doesn't exist
	if err := os.MkdirAll(tempDir, 0755); err != nil {
		panic(fmt.Sprintf("failed to create temp dir: %v", err))
	}

	return &Transcoder{
		tempDir: tempDir,
	}
}

// runFFmpeg executes one ffmpeg invocation. stderr is captured so a non-zero
// exit surfaces the tool's own diagnostics instead of a bare exit status.
func (t *Transcoder) runFFmpeg(ctx context.Context, op string, args []string) error {
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	var stderr bytes.Buffer
	cmd.Stdout = os.Stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("ffmpeg %s exited with code %d: %s", op, exitErr.ExitCode(), tailLines(stderr.String(), 5))
		}
		return fmt.Errorf("ffmpeg %s failed: %w", op, err)
	}

	return nil
}

// ProbeDuration returns the duration of a media file in seconds
func (t *Transcoder) ProbeDuration(ctx context.Context, path string) (float64, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}

	cmd := exec.CommandContext(ctx, "ffprobe", args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return 0, fmt.Errorf("ffprobe exited with code %d for %s: %s", exitErr.ExitCode(), path, tailLines(stderr.String(), 3))
		}
		return 0, fmt.Errorf("ffprobe failed for %s: %w", path, err)
	}

	var durationSec float64
	if _, err := fmt.Sscanf(strings.TrimSpace(string(output)), "%f", &durationSec); err != nil {
		return 0, fmt.Errorf("failed to parse duration of %s: %w", path, err)
	}

	return durationSec, nil
}

// Extract cuts [start, start+length) out of a source file. With mute the audio
// track is dropped. With fast the streams are copied without re-encoding,
// which snaps cuts to keyframes; without it the segment is re-encoded for
// frame-accurate boundaries.
func (t *Transcoder) Extract(ctx context.Context, inputPath, outputPath string, start, length float64, mute, fast bool) error {
	args := []string{
		"-ss", fmt.Sprintf("%.3f", start),
		"-t", fmt.Sprintf("%.3f", length),
		"-i", inputPath,
	}

	if mute {
		args = append(args, "-an")
	}

	if fast {
		args = append(args, "-c", "copy")
	} else {
		args = append(args, "-c:v", "libx264", "-crf", "20", "-preset", "fast")
		if !mute {
			args = append(args, "-c:a", "aac")
		}
	}

	args = append(args, "-y", outputPath)

	log.Printf("[Transcoder] Extracting %.2fs@%.2fs from %s (mute=%v fast=%v)", length, start, filepath.Base(inputPath), mute, fast)

	return t.runFFmpeg(ctx, "extract", args)
}

// OverlayText burns the caption into the video between textStart and textEnd.
// Long captions are wrapped to the frame width and the wrapped lines are shown
// one after another, each holding a share of the window proportional to its
// word count.
func (t *Transcoder) OverlayText(ctx context.Context, inputPath, outputPath, text string, textStart, textEnd float64) error {
	lines := wrapCaption(text, maxCaptionChars())
	if len(lines) == 0 || textEnd <= textStart {
		return t.runFFmpeg(ctx, "overlay copy", []string{"-i", inputPath, "-c", "copy", "-y", outputPath})
	}

	totalWords := 0
	for _, line := range lines {
		totalWords += len(strings.Fields(line))
	}

	window := textEnd - textStart
	var filters []string
	cursor := textStart
	for _, line := range lines {
		words := len(strings.Fields(line))
		share := window * float64(words) / float64(totalWords)
		filters = append(filters, fmt.Sprintf(
			"drawtext=text='%s':fontsize=%d:fontcolor=white:borderw=2:bordercolor=black:x=(w-text_w)/2:y=h-%d:enable='between(t,%.3f,%.3f)'",
			escapeDrawText(line), captionFontSize, captionMarginPx, cursor, cursor+share,
		))
		cursor += share
	}

	args := []string{
		"-i", inputPath,
		"-vf", strings.Join(filters, ","),
		"-c:v", "libx264",
		"-crf", "20",
		"-an",
		"-y",
		outputPath,
	}

	log.Printf("[Transcoder] Overlaying %d caption line(s) on %s (%.2fs-%.2fs)", len(lines), filepath.Base(inputPath), textStart, textEnd)

	return t.runFFmpeg(ctx, "overlay text", args)
}

// CrossfadeConcat merges the segments into one video, joining each pair with a
// random transition. Segments are normalized to a common geometry first. Each
// transition consumes transitionSec of overlap, so the merged duration is
// roughly the sum of segment durations minus (n-1) * transitionSec.
func (t *Transcoder) CrossfadeConcat(ctx context.Context, clipPaths []string, outputPath string, transitionSec float64) error {
	if len(clipPaths) == 0 {
		return fmt.Errorf("no clips to concatenate")
	}

	if len(clipPaths) == 1 {
		return t.runFFmpeg(ctx, "concat copy", []string{"-i", clipPaths[0], "-c", "copy", "-y", outputPath})
	}

	durations := make([]float64, len(clipPaths))
	for i, path := range clipPaths {
		d, err := t.ProbeDuration(ctx, path)
		if err != nil {
			return fmt.Errorf("failed to probe clip %d: %w", i, err)
		}
		durations[i] = d
	}

	args := []string{}
	for _, path := range clipPaths {
		args = append(args, "-i", path)
	}

	filter := BuildCrossfadeFilter(durations, transitionSec, func() Transition { return RandomTransition() })

	args = append(args,
		"-filter_complex", filter,
		"-map", "[vout]",
		"-c:v", "libx264",
		"-crf", "20",
		"-an",
		"-y",
		outputPath,
	)

	log.Printf("[Transcoder] Crossfading %d clips into %s", len(clipPaths), filepath.Base(outputPath))

	return t.runFFmpeg(ctx, "crossfade concat", args)
}

// BuildCrossfadeFilter constructs the normalize+xfade filter graph for n
// segments. pick supplies the transition for each cut. Offsets accumulate as
// the running merged duration: after cut i the stream is
// sum(d[0..i]) - (i+1)*transitionSec long.
func BuildCrossfadeFilter(durations []float64, transitionSec float64, pick func() Transition) string {
	n := len(durations)

	var b strings.Builder
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "[%d:v]fps=%d,scale=%d:%d:force_original_aspect_ratio=decrease,pad=%d:%d:(ow-iw)/2:(oh-ih)/2,setsar=1[norm%d];",
			i, videoFPS, outputWidth, outputHeight, outputWidth, outputHeight, i)
	}

	prev := "[norm0]"
	merged := durations[0]
	for i := 1; i < n; i++ {
		out := fmt.Sprintf("[x%d]", i)
		if i == n-1 {
			out = "[vout]"
		}
		offset := merged - transitionSec
		fmt.Fprintf(&b, "%s[norm%d]xfade=transition=%s:duration=%.3f:offset=%.3f%s",
			prev, i, pick(), transitionSec, offset, out)
		if i < n-1 {
			b.WriteString(";")
		}
		merged = offset + durations[i]
		prev = out
	}

	return b.String()
}

// MixAudio lays the narration tracks over the merged video at their scene
// offsets, with looping background music underneath. The video stream is
// copied untouched.
func (t *Transcoder) MixAudio(ctx context.Context, videoPath string, narrationPaths []string, offsetsMs []int, musicPath, outputPath string) error {
	if len(narrationPaths) != len(offsetsMs) {
		return fmt.Errorf("narration/offset count mismatch: %d vs %d", len(narrationPaths), len(offsetsMs))
	}

	args := []string{"-i", videoPath}
	for _, path := range narrationPaths {
		args = append(args, "-i", path)
	}

	haveMusic := musicPath != ""
	if haveMusic {
		if _, err := os.Stat(musicPath); os.IsNotExist(err) {
			log.Printf("[Transcoder] Background music file not found at %s, skipping", musicPath)
			haveMusic = false
		}
	}
	if haveMusic {
		args = append(args, "-stream_loop", "-1", "-i", musicPath)
	}

	args = append(args,
		"-filter_complex", BuildMixFilter(offsetsMs, haveMusic),
		"-map", "0:v",
		"-map", "[aout]",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
	)
	if haveMusic {
		// The music loops forever; trim the mix at the video's end.
		args = append(args, "-shortest")
	}
	args = append(args, "-y", outputPath)

	log.Printf("[Transcoder] Mixing %d narration track(s) (music=%v) into %s", len(narrationPaths), haveMusic, filepath.Base(outputPath))

	return t.runFFmpeg(ctx, "mix audio", args)
}

// BuildMixFilter builds the filtergraph laying narrations at their offsets
// with music underneath. Narrations are short tracks placed mid-timeline, so
// the mix must run for the longest input, not end with the first.
func BuildMixFilter(offsetsMs []int, haveMusic bool) string {
	var b strings.Builder
	var mixInputs []string
	for i, offset := range offsetsMs {
		label := fmt.Sprintf("[n%d]", i)
		fmt.Fprintf(&b, "[%d:a]adelay=%d|%d,volume=%.2f%s;", i+1, offset, offset, narrationVolume, label)
		mixInputs = append(mixInputs, label)
	}
	if haveMusic {
		fmt.Fprintf(&b, "[%d:a]volume=%.2f[music];", len(offsetsMs)+1, backgroundVolume)
		mixInputs = append(mixInputs, "[music]")
	}
	fmt.Fprintf(&b, "%samix=inputs=%d:duration=longest:dropout_transition=3[aout]",
		strings.Join(mixInputs, ""), len(mixInputs))
	return b.String()
}

// ExtractFrame grabs a single still frame at the given timestamp.
func (t *Transcoder) ExtractFrame(ctx context.Context, inputPath, outputPath string, atSec float64) error {
	args := []string{
		"-ss", fmt.Sprintf("%.3f", atSec),
		"-i", inputPath,
		"-frames:v", "1",
		"-q:v", "2",
		"-y",
		outputPath,
	}

	return t.runFFmpeg(ctx, "extract frame", args)
}

// SessionDir creates and returns a per-session working directory
func (t *Transcoder) SessionDir(sessionID string) (string, error) {
	dir := filepath.Join(t.tempDir, sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create session dir: %w", err)
	}
	return dir, nil
}

// Cleanup removes temporary files
func (t *Transcoder) Cleanup(paths ...string) {
	for _, path := range paths {
		os.Remove(path)
	}
}

// maxCaptionChars derives how many characters fit on one caption line from
// the frame width and the estimated glyph width.
func maxCaptionChars() int {
	usable := outputWidth - 2*captionMarginPx
	return int(float64(usable) / (captionFontSize * glyphWidthRatio))
}

// wrapCaption splits text into lines of at most maxChars characters, breaking
// on word boundaries. A single word longer than maxChars gets its own line.
func wrapCaption(text string, maxChars int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var lines []string
	current := words[0]
	for _, word := range words[1:] {
		if len(current)+1+len(word) <= maxChars {
			current += " " + word
		} else {
			lines = append(lines, current)
			current = word
		}
	}
	lines = append(lines, current)
	return lines
}

// escapeDrawText escapes characters the drawtext filter treats specially.
func escapeDrawText(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "'", "\\\\\\'")
	s = strings.ReplaceAll(s, ":", "\\:")
	s = strings.ReplaceAll(s, "%", "\\%")
	return s
}

// tailLines returns the last n non-empty lines of s.
func tailLines(s string, n int) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, " | ")
}
