package services

import (
	"fmt"
	"strings"
	"testing"
)

func TestWrapCaption(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		maxChars int
		want     []string
	}{
		{
			name:     "fits on one line",
			text:     "grand opening today",
			maxChars: 30,
			want:     []string{"grand opening today"},
		},
		{
			name:     "wraps on word boundary",
			text:     "our experienced staff welcome every customer",
			maxChars: 20,
			want:     []string{"our experienced", "staff welcome every", "customer"},
		},
		{
			name:     "oversized word gets own line",
			text:     "an extraordinarily-long-compound-word here",
			maxChars: 10,
			want:     []string{"an", "extraordinarily-long-compound-word", "here"},
		},
		{
			name:     "empty text",
			text:     "   ",
			maxChars: 10,
			want:     nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := wrapCaption(tt.text, tt.maxChars)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d lines %v, want %d lines %v", len(got), got, len(tt.want), tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("line %d: got %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestWrapCaptionRespectsLimit(t *testing.T) {
	lines := wrapCaption("visit us for a relaxing full service experience with friendly staff", 25)
	for _, line := range lines {
		if len(line) > 25 && !strings.Contains(line, "-") {
			t.Errorf("line %q exceeds limit", line)
		}
	}
}

func TestEscapeDrawText(t *testing.T) {
	got := escapeDrawText("50% off: today's deal")
	if strings.Contains(got, "'s") {
		t.Errorf("single quote not escaped: %q", got)
	}
	if !strings.Contains(got, "\\%") {
		t.Errorf("percent not escaped: %q", got)
	}
	if !strings.Contains(got, "\\:") {
		t.Errorf("colon not escaped: %q", got)
	}
}

func TestBuildCrossfadeFilterOffsets(t *testing.T) {
	// Three 10s clips with 2s transitions: first cut at 8s, second at
	// 8+10-2=16s. Merged length is 30 - 2*2 = 26s.
	durations := []float64{10, 10, 10}
	filter := BuildCrossfadeFilter(durations, 2, func() Transition { return TransitionFade })

	if !strings.Contains(filter, "offset=8.000") {
		t.Errorf("missing first offset in %q", filter)
	}
	if !strings.Contains(filter, "offset=16.000") {
		t.Errorf("missing second offset in %q", filter)
	}
	if !strings.Contains(filter, "[vout]") {
		t.Errorf("missing final output label in %q", filter)
	}
	if strings.Count(filter, "xfade") != 2 {
		t.Errorf("expected 2 xfade stages in %q", filter)
	}
}

func TestBuildCrossfadeFilterNormalizesEveryInput(t *testing.T) {
	durations := []float64{5, 7, 9, 11}
	filter := BuildCrossfadeFilter(durations, 1.5, func() Transition { return TransitionRadial })

	for i := range durations {
		norm := fmt.Sprintf("[norm%d]", i)
		if !strings.Contains(filter, norm) {
			t.Errorf("input %d not normalized in %q", i, filter)
		}
	}
	if strings.Count(filter, "scale=1280:720") != len(durations) {
		t.Errorf("expected %d scale stages", len(durations))
	}
}

func TestBuildCrossfadeFilterUnevenDurations(t *testing.T) {
	// 20s then 6s with 2s transition: single cut at 18s.
	filter := BuildCrossfadeFilter([]float64{20, 6}, 2, func() Transition { return TransitionHrSlice })

	if !strings.Contains(filter, "offset=18.000") {
		t.Errorf("wrong offset in %q", filter)
	}
	if !strings.Contains(filter, "transition=hrslice") {
		t.Errorf("transition not applied in %q", filter)
	}
}

func TestRandomTransitionFromPool(t *testing.T) {
	seen := map[Transition]bool{}
	for _, tr := range allTransitions {
		seen[tr] = true
	}
	for i := 0; i < 50; i++ {
		if !seen[RandomTransition()] {
			t.Fatal("transition outside pool")
		}
	}
}

func TestMaxCaptionChars(t *testing.T) {
	n := maxCaptionChars()
	if n <= 0 {
		t.Fatalf("non-positive caption width %d", n)
	}
	// 1280 wide minus margins at ~23px per glyph lands in the 40s.
	if n < 20 || n > 80 {
		t.Errorf("caption width %d outside plausible range", n)
	}
}

func TestBuildMixFilterRunsForLongestInput(t *testing.T) {
	filter := BuildMixFilter([]int{0, 8000, 16000}, true)

	// A mix scoped to its first input would end when narration 0 ends,
	// truncating the published video.
	if strings.Contains(filter, "duration=first") {
		t.Fatalf("mix ends at first narration: %s", filter)
	}
	if !strings.Contains(filter, "duration=longest") {
		t.Errorf("mix not scoped to longest input: %s", filter)
	}

	if !strings.Contains(filter, "amix=inputs=4") {
		t.Errorf("expected 3 narrations plus music in mix: %s", filter)
	}
	for _, want := range []string{"adelay=0|0", "adelay=8000|8000", "adelay=16000|16000"} {
		if !strings.Contains(filter, want) {
			t.Errorf("missing %s in: %s", want, filter)
		}
	}
}

func TestBuildMixFilterWithoutMusic(t *testing.T) {
	filter := BuildMixFilter([]int{0, 8000}, false)
	if !strings.Contains(filter, "amix=inputs=2") {
		t.Errorf("expected narrations only in mix: %s", filter)
	}
	if strings.Contains(filter, "[music]") {
		t.Errorf("music leg present without a music input: %s", filter)
	}
}
