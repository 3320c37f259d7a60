package planner

import (
	"math"
	"testing"
)

var defaultParams = Params{TransitionSec: 2, SafetyMarginSec: 1}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestPlanComfortableFit(t *testing.T) {
	// 8s narration at 30s into a 120s fragment: no adjustment needed.
	w := Plan(30, 120, 8, defaultParams)

	if w.WholeClip {
		t.Fatal("unexpected whole-clip fallback")
	}
	if !almostEqual(w.Start, 30) {
		t.Errorf("start = %v, want 30", w.Start)
	}
	if !almostEqual(w.Length, 10) {
		t.Errorf("length = %v, want narration+transition = 10", w.Length)
	}
}

func TestPlanBacksOffNearEnd(t *testing.T) {
	// Highlight at 115s of 120s, 8s narration. Usable end is 118, so the
	// desired end 123 overruns by 5; start backs off by 5+1 margin to 109.
	w := Plan(115, 120, 8, defaultParams)

	if w.WholeClip {
		t.Fatal("unexpected whole-clip fallback")
	}
	if !almostEqual(w.Start, 109) {
		t.Errorf("start = %v, want 109", w.Start)
	}
	if w.Start+w.Length > 120 {
		t.Errorf("window [%v, %v] runs past fragment end", w.Start, w.Start+w.Length)
	}
}

func TestPlanClampsStartAtZero(t *testing.T) {
	// Short fragment: back-off would push the start negative.
	w := Plan(9, 12, 9, defaultParams)

	if w.WholeClip {
		t.Fatal("unexpected whole-clip fallback")
	}
	if w.Start != 0 {
		t.Errorf("start = %v, want clamped 0", w.Start)
	}
	if w.Start+w.Length > 12 {
		t.Errorf("window end %v exceeds fragment", w.Start+w.Length)
	}
}

func TestPlanWholeClipFallback(t *testing.T) {
	// Narration longer than the usable fragment: use the fragment whole.
	w := Plan(5, 10, 9, defaultParams)

	if !w.WholeClip {
		t.Fatal("expected whole-clip fallback")
	}
	if w.Start != 0 || !almostEqual(w.Length, 10) {
		t.Errorf("whole clip should span [0, 10], got [%v, %v]", w.Start, w.Start+w.Length)
	}
}

func TestPlanExactBoundary(t *testing.T) {
	// Narration exactly fills the usable fragment: fits without fallback.
	w := Plan(0, 10, 8, defaultParams)

	if w.WholeClip {
		t.Fatal("unexpected whole-clip fallback at exact fit")
	}
	if w.Start != 0 {
		t.Errorf("start = %v, want 0", w.Start)
	}
	if !almostEqual(w.Length, 10) {
		t.Errorf("length = %v, want 10", w.Length)
	}
}

func TestPlanNegativeHighlightClamped(t *testing.T) {
	w := Plan(-3, 60, 5, defaultParams)

	if w.Start != 0 {
		t.Errorf("start = %v, want 0", w.Start)
	}
}

func TestPlanNeverExceedsFragment(t *testing.T) {
	cases := []struct {
		highlight, fragment, narration float64
	}{
		{0, 20, 5},
		{19, 20, 5},
		{10, 20, 17},
		{60, 120, 20},
		{119.5, 120, 20},
		{0.5, 3, 0.5},
	}

	for _, c := range cases {
		w := Plan(c.highlight, c.fragment, c.narration, defaultParams)
		if w.Start < 0 {
			t.Errorf("Plan(%v,%v,%v): negative start %v", c.highlight, c.fragment, c.narration, w.Start)
		}
		if w.Start+w.Length > c.fragment+1e-9 {
			t.Errorf("Plan(%v,%v,%v): window end %v exceeds fragment", c.highlight, c.fragment, c.narration, w.Start+w.Length)
		}
	}
}

func TestPlanReservesTransition(t *testing.T) {
	// The narration must end before the transition overlap begins.
	w := Plan(50, 120, 10, defaultParams)

	narrationEnd := w.Start + 10
	if narrationEnd > w.Start+w.Length-defaultParams.TransitionSec+1e-9 {
		t.Errorf("narration end %v inside transition reserve", narrationEnd)
	}
}
