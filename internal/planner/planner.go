// Package planner computes the extraction window for one scene: which slice
// of a source fragment plays underneath a narration line.
package planner

// Window is a planned extraction from a source fragment.
type Window struct {
	// Start is the extraction offset in seconds from the fragment start.
	Start float64
	// Length is the extraction length in seconds, including the transition
	// reserve at the tail.
	Length float64
	// WholeClip is set when the narration cannot fit inside the fragment;
	// the fragment is then used in full with no extraction.
	WholeClip bool
}

// Params carries the fixed timing parameters of one planning run.
type Params struct {
	// TransitionSec is the crossfade overlap reserved at the end of the
	// window so the narration never bleeds into the transition.
	TransitionSec float64
	// SafetyMarginSec is extra room added when the window has to back off
	// from the fragment end.
	SafetyMarginSec float64
}

// Plan places a narration of narrationSec seconds at the highlight moment of
// a fragment of fragmentSec seconds.
//
// The window opens at the highlight and runs for the narration plus the
// transition reserve. If that would run past the usable end of the fragment,
// the start backs off by the overrun plus the safety margin, clamped at zero.
// If the narration cannot fit in the fragment at all, the whole fragment is
// used instead.
func Plan(highlightSec, fragmentSec, narrationSec float64, p Params) Window {
	usable := fragmentSec - p.TransitionSec
	if narrationSec > usable {
		return Window{Start: 0, Length: fragmentSec, WholeClip: true}
	}

	start := highlightSec
	if start < 0 {
		start = 0
	}

	overrun := (start + narrationSec) - usable
	if overrun > 0 {
		start -= overrun + p.SafetyMarginSec
		if start < 0 {
			start = 0
		}
	}

	length := narrationSec + p.TransitionSec
	if start+length > fragmentSec {
		length = fragmentSec - start
	}

	return Window{Start: start, Length: length}
}
